package weather

import (
	"sync"

	"github.com/i474232898/euskalmet-poller/internal/auth"
)

// retryBudget allows exactly one token refresh per cycle. It is shared by
// every upstream call of the cycle, discovery and fetches alike.
type retryBudget struct {
	mu      sync.Mutex
	tokens  TokenSource
	profile auth.Profile

	token string
	gen   int
	used  bool
	err   error
}

func newRetryBudget(tokens TokenSource, profile auth.Profile, token auth.Token) *retryBudget {
	return &retryBudget{tokens: tokens, profile: profile, token: token.Value}
}

// bearer returns the current token and its generation.
func (b *retryBudget) bearer() (string, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.token, b.gen
}

// refresh is called after a request made with generation gen was rejected.
// It reports the token to retry with, or ok=false when the caller must give
// up. Requests that raced with an earlier refresh retry with the new token
// without spending the budget again.
func (b *retryBudget) refresh(gen int) (string, int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen < b.gen {
		return b.token, b.gen, true
	}
	if b.used {
		return "", b.gen, false
	}
	b.used = true

	b.tokens.Invalidate()
	tok, err := b.tokens.EnsureValid(b.profile)
	if err != nil {
		b.err = err
		return "", b.gen, false
	}
	b.token = tok.Value
	b.gen++
	return b.token, b.gen, true
}

// failure returns the error hit while re-signing, if any.
func (b *retryBudget) failure() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

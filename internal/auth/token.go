package auth

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claim values expected by the upstream API.
const (
	Audience      = "met01.apikey"
	Issuer        = "euskalmet-hassio"
	ClaimsVersion = "1.0.0"
)

// Profile selects the lifetime of a token.
type Profile int

const (
	// ProfileValidation is a short lived token used once to check credentials.
	ProfileValidation Profile = iota
	// ProfileOperational is the token used by scheduled cycles.
	ProfileOperational
)

func (p Profile) String() string {
	switch p {
	case ProfileValidation:
		return "validation"
	case ProfileOperational:
		return "operational"
	default:
		return "unknown"
	}
}

// Lifetime returns how long a freshly signed token of this profile is valid.
func (p Profile) Lifetime() time.Duration {
	if p == ProfileValidation {
		return time.Hour
	}
	return 365 * 24 * time.Hour
}

// Credential is the operator supplied key material.
type Credential struct {
	Fingerprint string
	PrivateKey  []byte // PEM
}

// LogValue keeps key material out of logs.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("fingerprint", redact(c.Fingerprint)),
		slog.String("private_key", "[redacted]"),
	)
}

func redact(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

// Token is a signed bearer token.
type Token struct {
	Value     string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Profile   Profile
}

// CredentialError means the credential cannot produce tokens. Retrying will
// not help until the operator fixes the configuration.
type CredentialError struct {
	Reason string
	Err    error
}

func (e *CredentialError) Error() string {
	if e.Err == nil {
		return "credential error: " + e.Reason
	}
	return fmt.Sprintf("credential error: %s: %v", e.Reason, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// Options tune a Manager. Zero values use defaults.
type Options struct {
	SafetyMargin time.Duration
	Now          func() time.Time
	Logger       *slog.Logger
}

const DefaultSafetyMargin = time.Minute

// Manager signs and caches tokens for one credential.
// Safe for concurrent use.
type Manager struct {
	cred   Credential
	margin time.Duration
	now    func() time.Time
	logger *slog.Logger

	keyOnce sync.Once
	key     *rsa.PrivateKey
	keyErr  error

	// one cell per profile, replaced as a whole
	tokens [2]atomic.Pointer[Token]
	// serializes signing so concurrent callers share one new token
	signMu sync.Mutex

	invalidations atomic.Int64
}

// NewManager never fails. Key problems surface as *CredentialError on the
// first EnsureValid call.
func NewManager(cred Credential, opts Options) *Manager {
	m := &Manager{
		cred:   cred,
		margin: opts.SafetyMargin,
		now:    opts.Now,
		logger: opts.Logger,
	}
	if m.margin <= 0 {
		m.margin = DefaultSafetyMargin
	}
	if m.now == nil {
		m.now = time.Now
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// EnsureValid returns a cached token while it is comfortably valid, otherwise
// signs a new one.
func (m *Manager) EnsureValid(profile Profile) (Token, error) {
	cell, err := m.cell(profile)
	if err != nil {
		return Token{}, err
	}

	if t := cell.Load(); t != nil && m.usable(*t) {
		return *t, nil
	}

	m.signMu.Lock()
	defer m.signMu.Unlock()

	// another caller may have signed while we waited
	if t := cell.Load(); t != nil && m.usable(*t) {
		return *t, nil
	}

	t, err := m.sign(profile)
	if err != nil {
		return Token{}, err
	}
	cell.Store(&t)
	m.logger.Debug("signed token", "profile", profile, "expires_at", t.ExpiresAt)
	return t, nil
}

// Invalidate drops every cached token so the next EnsureValid re-signs.
func (m *Manager) Invalidate() {
	for i := range m.tokens {
		m.tokens[i].Store(nil)
	}
	m.invalidations.Add(1)
	m.logger.Info("token invalidated")
}

// Invalidations returns how many times Invalidate was called.
func (m *Manager) Invalidations() int64 { return m.invalidations.Load() }

func (m *Manager) cell(profile Profile) (*atomic.Pointer[Token], error) {
	switch profile {
	case ProfileValidation, ProfileOperational:
		return &m.tokens[profile], nil
	default:
		return nil, fmt.Errorf("unknown token profile %d", profile)
	}
}

func (m *Manager) usable(t Token) bool {
	return m.now().Before(t.ExpiresAt.Add(-m.margin))
}

func (m *Manager) sign(profile Profile) (Token, error) {
	key, err := m.privateKey()
	if err != nil {
		return Token{}, err
	}

	// jwt NumericDate has second precision; keep Token in sync with the claims
	issued := m.now().UTC().Truncate(time.Second)
	expires := issued.Add(profile.Lifetime())

	claims := jwt.MapClaims{
		"aud":     Audience,
		"iss":     Issuer,
		"version": ClaimsVersion,
		"iat":     issued.Unix(),
		"exp":     expires.Unix(),
		"loginId": m.cred.Fingerprint,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(key)
	if err != nil {
		return Token{}, &CredentialError{Reason: "sign token", Err: err}
	}

	return Token{Value: signed, IssuedAt: issued, ExpiresAt: expires, Profile: profile}, nil
}

var errEmptyKey = errors.New("private key is empty")

func (m *Manager) privateKey() (*rsa.PrivateKey, error) {
	m.keyOnce.Do(func() {
		if len(m.cred.PrivateKey) == 0 {
			m.keyErr = &CredentialError{Reason: "parse private key", Err: errEmptyKey}
			return
		}
		if m.cred.Fingerprint == "" {
			m.keyErr = &CredentialError{Reason: "fingerprint is empty"}
			return
		}
		key, err := jwt.ParseRSAPrivateKeyFromPEM(m.cred.PrivateKey)
		if err != nil {
			m.keyErr = &CredentialError{Reason: "parse private key", Err: err}
			return
		}
		m.key = key
	})
	return m.key, m.keyErr
}

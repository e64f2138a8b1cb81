package weather

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/i474232898/euskalmet-poller/internal/auth"
)

var (
	// ErrTransient marks connection-level failures: dial/read errors, timeouts
	// and an open circuit breaker.
	ErrTransient = errors.New("transient network failure")

	// ErrMalformed marks upstream payloads that could not be decoded.
	ErrMalformed = errors.New("malformed upstream response")

	// ErrCycleInProgress is returned when a cycle is triggered while the
	// previous one for the same subject is still running.
	ErrCycleInProgress = errors.New("cycle already in progress")

	// ErrHalted is returned by coordinators that stopped after a credential error.
	ErrHalted = errors.New("subject halted until reconfigured")

	// ErrTotalFailure means a cycle produced nothing usable. The previous
	// result stays published.
	ErrTotalFailure = errors.New("every upstream call of the cycle failed")
)

// StatusError is a non-2xx upstream answer.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned %d", e.Code)
	}
	return fmt.Sprintf("upstream returned %d: %s", e.Code, e.Body)
}

// DiscoveryError wraps failures while resolving subjects or capabilities.
type DiscoveryError struct {
	SubjectID string
	Step      string
	Err       error
}

func (e *DiscoveryError) Error() string {
	if e.SubjectID == "" {
		return fmt.Sprintf("discovery %s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("discovery %s for %s: %v", e.Step, e.SubjectID, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// Outcome classifies the result of a single upstream fetch.
type Outcome int

const (
	OutcomeOK Outcome = iota
	// OutcomeEmpty is a bucket that exists without a value. It is not an error.
	OutcomeEmpty
	OutcomeAuthFailure
	OutcomeTransient
	OutcomeUnexpected
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeEmpty:
		return "not_found_or_empty"
	case OutcomeAuthFailure:
		return "auth_failure"
	case OutcomeTransient:
		return "transient_network_failure"
	case OutcomeUnexpected:
		return "unexpected_failure"
	default:
		return "unknown"
	}
}

// Failed reports whether the outcome counts against the cycle.
func (o Outcome) Failed() bool {
	return o == OutcomeAuthFailure || o == OutcomeTransient || o == OutcomeUnexpected
}

// Classify maps an upstream error onto an Outcome. A nil error is OutcomeOK.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeOK
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		switch statusErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return OutcomeAuthFailure
		case http.StatusNotFound:
			return OutcomeEmpty
		default:
			return OutcomeUnexpected
		}
	}

	if errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTransient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return OutcomeTransient
	}

	return OutcomeUnexpected
}

// IsCredentialError reports whether err is fatal for a subject.
func IsCredentialError(err error) bool {
	var credErr *auth.CredentialError
	return errors.As(err, &credErr)
}

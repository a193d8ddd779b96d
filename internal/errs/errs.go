// Package errs defines the failure taxonomy shared by the bridge components.
//
// Every remote or lifecycle failure is returned as an *Error carrying a Kind,
// so callers can branch with errors.Is(err, errs.Unauthenticated) without
// inspecting messages.
package errs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a failure by what the caller is expected to do about it.
type Kind int

const (
	// Unknown is the zero Kind; KindOf returns it for foreign errors.
	Unknown Kind = iota
	// Unauthenticated means no usable token; the user must (re)connect.
	Unauthenticated
	// TemporarilyUnavailable covers transient remote failures, rate limits,
	// timeouts and refresh lock contention. Retry later.
	TemporarilyUnavailable
	// StateMismatch means the OAuth callback nonce did not match.
	StateMismatch
	// ReconcileFailed means a remote form could not be created or updated.
	ReconcileFailed
	// SubmissionFailed means the remote submit call failed.
	SubmissionFailed
	// NotFound means the remote (or local) resource does not exist.
	NotFound
	// Validation means the input was rejected before any remote mutation.
	Validation
	// Remote is an unexpected non-success response that fits no other kind.
	Remote
)

var kindNames = map[Kind]string{
	Unknown:                "unknown",
	Unauthenticated:        "unauthenticated",
	TemporarilyUnavailable: "temporarily_unavailable",
	StateMismatch:          "state_mismatch",
	ReconcileFailed:        "reconcile_failed",
	SubmissionFailed:       "submission_failed",
	NotFound:               "not_found",
	Validation:             "validation",
	Remote:                 "remote",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error lets a bare Kind be used as an errors.Is target.
func (k Kind) Error() string { return k.String() }

// Error is the structured failure payload.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	StatusCode int
	// Reason is a machine-readable code reported by the remote side,
	// e.g. BAD_REFRESH_TOKEN.
	Reason     string
	Details    []Detail
	RetryAfter time.Duration
	Err        error
}

// Detail is one entry of a remote error list, or one field validation error.
type Detail struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare Kind target so errors.Is(err, errs.NotFound) works
// through any amount of wrapping.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && e.Kind == k
}

// E builds an *Error.
func E(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

// Wrap builds an *Error around cause. The cause's status code, reason and
// details are carried over when it is an *Error itself.
func Wrap(kind Kind, op string, cause error) *Error {
	e := &Error{Kind: kind, Op: op, Err: cause}
	var inner *Error
	if errors.As(cause, &inner) {
		e.StatusCode = inner.StatusCode
		e.Reason = inner.Reason
		e.Details = inner.Details
		e.Message = inner.Message
		e.RetryAfter = inner.RetryAfter
		e.Err = cause
	}
	return e
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

// StatusOf returns the HTTP status attached to err, or 0.
func StatusOf(err error) int {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return 0
		}
		if e.StatusCode != 0 {
			return e.StatusCode
		}
		err = e.Err
	}
	return 0
}

// MessageOf returns the most specific human-readable message in err's chain.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

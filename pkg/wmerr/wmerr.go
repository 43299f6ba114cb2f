// Package wmerr defines the error kinds surfaced by the snapshot pipeline,
// so callers can branch on outcome (exit codes, retry decisions) without
// string matching.
package wmerr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind int

const (
	// Config means credentials are missing or the private key is unusable.
	Config Kind = iota
	// Validation means a bad report type or a violated date-range rule.
	Validation
	// Auth means the token exchange was rejected.
	Auth
	// API means a non-success HTTP status from the snapshot API.
	API
	// JobFailed means the server reported the snapshot job as failed.
	JobFailed
	// JobExpired means the server reported the snapshot job as expired.
	JobExpired
	// Timeout means the poll attempt budget was exhausted.
	Timeout
	// Decompress means the downloaded artifact was not valid gzip.
	Decompress
	// IO means a filesystem failure while saving the artifact.
	IO
	// Interrupted means the run was cancelled from outside.
	Interrupted
)

func (k Kind) String() string {
	switch k {
	case Config:
		return "config"
	case Validation:
		return "validation"
	case Auth:
		return "auth"
	case API:
		return "api"
	case JobFailed:
		return "job-failed"
	case JobExpired:
		return "job-expired"
	case Timeout:
		return "timeout"
	case Decompress:
		return "decompress"
	case IO:
		return "io"
	case Interrupted:
		return "interrupted"
	}
	return "unknown"
}

// Error carries a kind plus enough detail to render a diagnostic. Status and
// Body are set only for API and Auth errors.
type Error struct {
	Kind   Kind
	Status int
	Body   string
	msg    string
	err    error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Kind, e.msg, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.msg)
}

func (e *Error) Unwrap() error { return e.err }

// New builds a kinded error from a format string.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind to an underlying error.
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// HTTPStatus builds an API-style error carrying the response status and body.
func HTTPStatus(kind Kind, status int, body string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Status: status, Body: body, msg: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind of err, or ok=false if err is not a wmerr.Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind reports whether err is a wmerr.Error of the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

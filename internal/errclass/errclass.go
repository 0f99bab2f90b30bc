// Package errclass classifies failures into the retry taxonomy the executor
// acts on. Classification is either pre-supplied by the caller wrapping an
// error, or inferred from error text keywords.
package errclass

import (
	"errors"
	"strings"
)

type Class string

const (
	// Transient failures (timeouts, connection drops, rate limits) are safe
	// to retry.
	Transient Class = "TRANSIENT"

	// Auth failures need operator action; retrying cannot help.
	Auth Class = "AUTH"

	// Logic failures mean the input was interpreted in an unexpected way.
	Logic Class = "LOGIC"

	// Data failures mean the payload itself is bad; the record is
	// quarantined rather than failed.
	Data Class = "DATA"

	// System failures (I/O, disk) get exactly one extra attempt before
	// escalating.
	System Class = "SYSTEM"
)

// Classified wraps an error with an explicit class, overriding inference.
type Classified struct {
	Class Class
	Err   error
}

func (c *Classified) Error() string { return string(c.Class) + ": " + c.Err.Error() }
func (c *Classified) Unwrap() error { return c.Err }

// New returns an error carrying an explicit class.
func New(class Class, err error) error {
	return &Classified{Class: class, Err: err}
}

// keyword tables for inference, checked in order. First match wins.
var keywordClasses = []struct {
	class    Class
	keywords []string
}{
	{Auth, []string{"unauthorized", "forbidden", "invalid credentials", "expired token", "authentication"}},
	{Data, []string{"malformed", "missing field", "invalid payload", "unmarshal", "parse error"}},
	{System, []string{"no space left", "i/o error", "disk", "permission denied", "read-only file system"}},
	{Transient, []string{"timeout", "timed out", "connection refused", "connection reset", "rate limit", "temporarily unavailable", "too many requests", "deadline exceeded"}},
}

// Classify returns the taxonomy class for err. An explicit Classified wrapper
// wins; otherwise the message is matched against keyword tables, defaulting
// to Logic for anything unrecognized.
func Classify(err error) Class {
	var c *Classified
	if errors.As(err, &c) {
		return c.Class
	}

	msg := strings.ToLower(err.Error())
	for _, entry := range keywordClasses {
		for _, kw := range entry.keywords {
			if strings.Contains(msg, kw) {
				return entry.class
			}
		}
	}
	return Logic
}

// Retryable reports whether the executor may retry an error of this class at
// all. System errors are retryable exactly once; the executor enforces the
// cap.
func Retryable(class Class) bool {
	return class == Transient || class == System
}

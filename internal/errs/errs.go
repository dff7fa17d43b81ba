// Package errs holds the error taxonomy shared by every stage of a backtest.
//
// Callers classify failures with errors.Is against the sentinels below; the
// message of the wrapped error is what gets surfaced to the user.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrInput marks a bad request: missing parameter, malformed CSV row,
	// absent column, unknown comparator/indicator, unrecognized ticker.
	ErrInput = errors.New("input error")

	// ErrComputation marks an unexpected failure while resampling or
	// computing indicators.
	ErrComputation = errors.New("computation error")

	// ErrNoSignals is soft: no entry signal fired on either side. It is
	// reported as a status on an otherwise empty result, never returned as a
	// failure.
	ErrNoSignals = errors.New("no entry signals")
)

type classified struct {
	kind error
	msg  string
	err  error
}

func (c *classified) Error() string {
	if c.err != nil {
		return fmt.Sprintf("%s: %s: %v", c.kind, c.msg, c.err)
	}
	return fmt.Sprintf("%s: %s", c.kind, c.msg)
}

func (c *classified) Is(target error) bool { return target == c.kind }

func (c *classified) Unwrap() error { return c.err }

// Input builds an ErrInput with a formatted message.
func Input(format string, args ...any) error {
	return &classified{kind: ErrInput, msg: fmt.Sprintf(format, args...)}
}

// Computation wraps err as an ErrComputation.
func Computation(err error, format string, args ...any) error {
	return &classified{kind: ErrComputation, msg: fmt.Sprintf(format, args...), err: err}
}

// IsInput reports whether err is an input error.
func IsInput(err error) bool { return errors.Is(err, ErrInput) }

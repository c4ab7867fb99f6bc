package sdo

import (
	"errors"
	"fmt"
)

var (
	ErrAlreadyActive  = errors.New("a transfer is already active")
	ErrProtocol       = errors.New("sdo protocol error")
	ErrToggleMismatch = errors.New("unexpected toggle bit, frame dropped")
	ErrAbortReceived  = errors.New("transfer aborted by peer")
	ErrTimeout        = errors.New("sdo transfer timed out")
	ErrTransport      = errors.New("sdo transport error")
	ErrUnknownCommand = errors.New("unknown sdo command specifier")
	ErrFrameLength    = errors.New("sdo frame is not 8 bytes long")
	ErrNotActive      = errors.New("no transfer is active")
)

// Returns the abort code carried by err, if any
func AbortCode(err error) (Abort, bool) {
	var abort Abort
	if errors.As(err, &abort) {
		return abort, true
	}
	return 0, false
}

// Error reported when the transfer was stopped locally with code
func localAbortError(kind error, code Abort) error {
	return fmt.Errorf("%w: %w", kind, code)
}

// Convert a hook error into the abort code sent on the bus
func abortFromError(err error) Abort {
	if code, ok := AbortCode(err); ok {
		return code
	}
	return AbortGeneral
}

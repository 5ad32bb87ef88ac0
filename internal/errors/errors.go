package errors

import "errors"

// Session errors. Loss of a valid credential pair is fatal to the
// session and forces a logged-out state.
var (
	ErrInvalidCredentials = errors.New("invalid login or password")
	ErrNoCredentials      = errors.New("no stored credentials")
	ErrAuthExpired        = errors.New("authentication expired")
	ErrSessionClosed      = errors.New("session closed")
)

// Transport errors. Consumed by the reconnection flow and surfaced to
// callers only as connection state.
var (
	ErrNotConnected     = errors.New("transport is not connected")
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

// Protocol/API errors.
var (
	ErrUnknownFrame = errors.New("unknown frame type")
	ErrAPIRequest   = errors.New("API request failed")
	ErrAPIResponse  = errors.New("unexpected API response")
)

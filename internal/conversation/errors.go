package conversation

import "errors"

const errLoggerKey = "err"

var (
	// ErrEmptyMessage is returned by Submit for empty or whitespace-only text.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrBusy is returned by Submit while a reply is still streaming.
	ErrBusy = errors.New("a reply is already in progress")
	// ErrSessionUnavailable wraps the error of a session that could not be created for a reply.
	ErrSessionUnavailable = errors.New("chat session unavailable")
	// ErrStreamFailure wraps an error the capability raised while streaming a reply.
	ErrStreamFailure = errors.New("reply stream failed")
)

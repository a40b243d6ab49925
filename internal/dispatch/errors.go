package dispatch

import "errors"

var (
	// ErrCircuitOpen is returned while the breaker refuses publishes.
	ErrCircuitOpen = errors.New("dispatch: circuit open")

	// ErrPublish is returned when every publish attempt failed.
	ErrPublish = errors.New("dispatch: publish failed")

	// ErrUnknownCommand is returned for a command type the wire format
	// cannot express.
	ErrUnknownCommand = errors.New("dispatch: unknown command")
)

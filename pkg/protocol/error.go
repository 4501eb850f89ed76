package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors returned (wrapped) by the decoders.
var (
	// ErrMalformed is returned when a frame is not a JSON object.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrUnknownMessageType is returned for an unrecognized "type".
	ErrUnknownMessageType = errors.New("protocol: unknown message type")

	// ErrUnknownPatchType is returned for an unrecognized patch discriminator.
	ErrUnknownPatchType = errors.New("protocol: unknown patch type")

	// ErrMissingField is returned when a required member is absent.
	ErrMissingField = errors.New("protocol: missing required field")

	// ErrMessageTooLarge is returned when a frame exceeds MaxMessageSize.
	ErrMessageTooLarge = errors.New("protocol: message too large")
)

// DecodeError describes why a frame could not be decoded.
type DecodeError struct {
	// Type is the message type, when it could be determined.
	Type MessageType
	Err  error
}

// Error returns the error message.
func (e *DecodeError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol: decode: %v", e.Err)
	}
	return fmt.Sprintf("protocol: decode %s: %v", e.Type, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

func decodeErr(t MessageType, err error) error {
	return &DecodeError{Type: t, Err: err}
}

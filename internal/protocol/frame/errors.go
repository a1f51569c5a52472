package frame

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedFrame  = errors.New("frame: malformed frame")
	ErrBadDotForm      = errors.New("frame: bad dot form")
	ErrMissingHeader   = errors.New("frame: missing header")
	ErrUnexpectedFrame = errors.New("frame: unexpected frame")
	ErrResponseStatus  = errors.New("frame: response status not okay")
	ErrInvalidKey      = errors.New("frame: invalid header key")
	ErrInvalidCommand  = errors.New("frame: command must be 4 bytes")
	ErrFrameTooLarge   = errors.New("frame: frame too large")
)

// MissingHeaderError indicates a required header was not present.
type MissingHeaderError struct {
	Cmd string
	Key string
}

func (e MissingHeaderError) Error() string {
	return fmt.Sprintf("frame: %s frame missing header %q", e.Cmd, e.Key)
}

func (e MissingHeaderError) Is(target error) bool {
	return target == ErrMissingHeader
}

// UnexpectedFrameError indicates a frame arrived with a command other than
// the one the caller required.
type UnexpectedFrameError struct {
	Got  string
	Want string
}

func (e UnexpectedFrameError) Error() string {
	return fmt.Sprintf("frame: unexpected %q frame, want %q", e.Got, e.Want)
}

func (e UnexpectedFrameError) Is(target error) bool {
	return target == ErrUnexpectedFrame
}

// ResponseStatusError is a well-formed resp frame whose status is not okay.
type ResponseStatusError struct {
	Status string
	Reason string
}

func (e ResponseStatusError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("frame: response status %q", e.Status)
	}
	return fmt.Sprintf("frame: response status %q: %s", e.Status, e.Reason)
}

func (e ResponseStatusError) Is(target error) bool {
	return target == ErrResponseStatus
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedFrame, fmt.Sprintf(format, args...))
}

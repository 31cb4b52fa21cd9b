package peakcan

import (
	"errors"
	"fmt"
)

var (
	ErrFrameTooLarge     = errors.New("frame payload too large")
	ErrTimingOutOfBounds = errors.New("bit timing value out of bounds")
	ErrNotSupported      = errors.New("not supported by this hardware")
	ErrInvalidBus        = errors.New("invalid bus")
	ErrUnexpectedValue   = errors.New("unexpected parameter value")
	ErrClosed            = errors.New("socket closed")
	ErrWrongMode         = errors.New("operation does not match the socket's CAN FD mode")
	ErrFilterRange       = errors.New("invalid filter range")
)

// TimingError reports the first bit timing field found outside its range.
type TimingError struct {
	Table string // "classic", "nominal" or "data"
	Field string
	Value uint32
	Min   uint32
	Max   uint32
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("%s %s %d out of bounds [%d, %d]", e.Table, e.Field, e.Value, e.Min, e.Max)
}

func (e *TimingError) Is(target error) bool {
	return target == ErrTimingOutOfBounds
}

func notSupported(op string) error {
	return fmt.Errorf("%s: %w", op, ErrNotSupported)
}

package quantization

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyInput = errors.New("empty input")
	ErrNaN        = errors.New("NaN value")
	ErrInfinite   = errors.New("infinite value")
	ErrOutOfRange = errors.New("value is out of the representable range")
)

// Error is returned by the quantization functions; it unwraps to one of the
// Err* sentinels.
type Error struct {
	Op    string
	Index int
	Value float32
	Err   error
}

func (e *Error) Error() string {
	if errors.Is(e.Err, ErrEmptyInput) {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: element #%d (%v): %v", e.Op, e.Index, e.Value, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

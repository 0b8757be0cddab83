package market

import (
	"errors"
	"fmt"
)

var ErrDecode = errors.New("malformed ledger record")

// DecodeError reports a ledger record whose bytes don't match the expected layout.
type DecodeError struct {
	Field  string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: field %s: %s", ErrDecode, e.Field, e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func decodeErrorf(field, format string, args ...any) *DecodeError {
	return &DecodeError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

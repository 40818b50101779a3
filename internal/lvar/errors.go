package lvar

import "errors"

var (
	ErrTimeout         = errors.New("timed out waiting for variable update")
	ErrCleared         = errors.New("variable cleared while waiting")
	ErrEmptyName       = errors.New("variable name is empty")
	ErrShortPayload    = errors.New("payload shorter than 4 bytes")
	ErrUnsupportedType = errors.New("unsupported value type")
	ErrInvalidValue    = errors.New("invalid value")
)

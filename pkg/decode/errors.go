package decode

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a decode failure.
type ErrorKind string

const (
	// KindParse is a body that is not well-formed JSON.
	KindParse ErrorKind = "parse"

	// KindMissingField is a well-formed value without a field its contract requires.
	KindMissingField ErrorKind = "missing_field"

	// KindTypeMismatch is a field (or the whole value) of the wrong JSON type or range.
	KindTypeMismatch ErrorKind = "type_mismatch"
)

// DecodeError is returned by every Decode function.
type DecodeError struct {
	Kind     ErrorKind
	Contract string
	Field    string
	Offset   int64 // byte offset for KindParse
	Msg      string
	Err      error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	switch e.Kind {
	case KindParse:
		return fmt.Sprintf("decode %s: parse error at offset %d: %s", e.Contract, e.Offset, e.Msg)
	case KindMissingField:
		return fmt.Sprintf("decode %s: missing field %q", e.Contract, e.Field)
	default:
		if e.Field == "" {
			return fmt.Sprintf("decode %s: %s", e.Contract, e.Msg)
		}
		return fmt.Sprintf("decode %s: field %q: %s", e.Contract, e.Field, e.Msg)
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsMissingField reports whether err is a KindMissingField error for field.
func IsMissingField(err error, field string) bool {
	var de *DecodeError
	return errors.As(err, &de) && de.Kind == KindMissingField && de.Field == field
}

// KindOf returns the DecodeError kind of err, or "" if err is not a DecodeError.
func KindOf(err error) ErrorKind {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

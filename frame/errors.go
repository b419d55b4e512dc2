package frame

import "errors"

// Code is the frame-layer error taxonomy from the error handling design.
type Code int

const (
	BadMagic Code = iota
	BadVersion
	BadCrc
	UnexpectedEof
	FrameTooLarge
	HeaderMalformed
)

func (c Code) String() string {
	switch c {
	case BadMagic:
		return "BadMagic"
	case BadVersion:
		return "BadVersion"
	case BadCrc:
		return "BadCrc"
	case UnexpectedEof:
		return "UnexpectedEof"
	case FrameTooLarge:
		return "FrameTooLarge"
	case HeaderMalformed:
		return "HeaderMalformed"
	default:
		return "Unknown"
	}
}

// Error is a typed frame-layer error. All such errors are connection-
// fatal: the caller must stop reading and close the connection.
type Error struct {
	Code  Code
	Msg   string
	cause error
}

func (e *Error) Error() string { return e.Code.String() + ": " + e.Msg }

func (e *Error) Unwrap() error { return e.cause }

// CodeOf extracts the frame.Code from err if it is (or wraps) a
// *frame.Error, and reports whether one was found.
func CodeOf(err error) (Code, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code, true
	}
	return 0, false
}

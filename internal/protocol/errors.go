package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a failure independently of where it happened.
type Kind int

const (
	KindUnknown Kind = iota
	KindLinkWrite
	KindLinkRead
	KindNoResponse
	KindPending
	KindChipRejected
	KindDeviceNotFound
	KindCantOpenDevice
	KindInvalidChipType
	KindTruncated
	KindUnimplemented
)

func (k Kind) String() string {
	switch k {
	case KindLinkWrite:
		return "link write failed"
	case KindLinkRead:
		return "link read failed"
	case KindNoResponse:
		return "no response"
	case KindPending:
		return "operation pending"
	case KindChipRejected:
		return "chip rejected command"
	case KindDeviceNotFound:
		return "device not found"
	case KindCantOpenDevice:
		return "can't open device"
	case KindInvalidChipType:
		return "invalid chip type"
	case KindTruncated:
		return "truncated data"
	case KindUnimplemented:
		return "not implemented"
	default:
		return "unknown error"
	}
}

// Error is the error type returned by the ISP layers.
// Code is only meaningful for KindChipRejected.
type Error struct {
	Kind Kind
	Op   string
	Code uint16
	Err  error
}

func (e *Error) Error() string {
	msg := e.Kind.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Kind == KindChipRejected {
		msg += fmt.Sprintf(" (code 0x%04X: %s)", e.Code, ErrorMessage(e.Code))
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind. A target carrying a non-zero
// Code additionally requires the codes to match.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == 0 || t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrLinkWrite       = &Error{Kind: KindLinkWrite}
	ErrLinkRead        = &Error{Kind: KindLinkRead}
	ErrNoResponse      = &Error{Kind: KindNoResponse}
	ErrPending         = &Error{Kind: KindPending}
	ErrChipRejected    = &Error{Kind: KindChipRejected}
	ErrDeviceNotFound  = &Error{Kind: KindDeviceNotFound}
	ErrCantOpenDevice  = &Error{Kind: KindCantOpenDevice}
	ErrInvalidChipType = &Error{Kind: KindInvalidChipType}
	ErrTruncated       = &Error{Kind: KindTruncated}
	ErrUnimplemented   = &Error{Kind: KindUnimplemented}
)

// NewError builds an *Error for op.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// ChipError builds the error for a "FL" response frame.
func ChipError(op string, code uint16) *Error {
	return &Error{Kind: KindChipRejected, Op: op, Code: code}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the chip error code carried by err, if any.
func CodeOf(err error) (uint16, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindChipRejected {
		return e.Code, true
	}
	return 0, false
}

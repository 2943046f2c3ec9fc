package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrNotSupported      = errors.New("protocol: message not supported by protocol version")
	ErrProtocolViolation = errors.New("protocol: protocol violation")
	ErrUnknownTag        = errors.New("protocol: unknown message tag")
	ErrUnknownVersion    = errors.New("protocol: unknown protocol version")
	ErrTruncated         = errors.New("protocol: truncated data")
	ErrInvalidMode       = errors.New("protocol: invalid agent operation mode")
	ErrInvalidLength     = errors.New("protocol: invalid length")
	ErrPayloadTooLarge   = errors.New("protocol: payload too large")
	ErrTextTooLong       = errors.New("protocol: text exceeds 65535 encoded bytes")
	ErrMalformedText     = errors.New("protocol: malformed modified utf-8")
	ErrNilMessage        = errors.New("protocol: nil message")
)

// NotSupportedError reports a message kind the active version does not define.
type NotSupportedError struct {
	Kind    Kind
	Version uint8
}

func (e *NotSupportedError) Error() string {
	return fmt.Sprintf("protocol: %s not supported by protocol v%d", e.Kind, e.Version)
}

func (e *NotSupportedError) Is(target error) bool {
	return target == ErrNotSupported
}

// UnknownTagError reports a tag byte with no message kind behind it.
type UnknownTagError struct {
	Tag byte
}

func (e *UnknownTagError) Error() string {
	return fmt.Sprintf("protocol: unknown message tag %d", e.Tag)
}

func (e *UnknownTagError) Is(target error) bool {
	return target == ErrUnknownTag || target == ErrProtocolViolation
}

// IsProtocolViolation reports whether err means the peer sent bytes that do
// not form a valid message, as opposed to a transport failure.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrProtocolViolation) ||
		errors.Is(err, ErrTruncated) ||
		errors.Is(err, ErrInvalidMode) ||
		errors.Is(err, ErrInvalidLength) ||
		errors.Is(err, ErrPayloadTooLarge) ||
		errors.Is(err, ErrMalformedText)
}

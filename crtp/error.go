package crtp

import "fmt"

type crtpError uint8

func (e crtpError) Error() string {
	return fmt.Sprintf("crtp: %s", crtpErrorString[e])
}

const (
	ErrorPayloadTooLong crtpError = iota
	ErrorEmptyFrame
	ErrorBadValueLength
	ErrorUnknownValueType
)

var crtpErrorString = map[crtpError]string{
	ErrorPayloadTooLong:   "payload exceeds maximum CRTP length",
	ErrorEmptyFrame:       "frame has no header byte",
	ErrorBadValueLength:   "value byte length does not match its type",
	ErrorUnknownValueType: "unknown value type tag",
}

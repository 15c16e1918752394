package crazyflie

import "fmt"

type crazyflieError uint8

func (e crazyflieError) Error() string {
	return fmt.Sprintf("crazyflie: %s", crazyflieErrorString[e])
}

const (
	ErrorNotConnected crazyflieError = iota
	ErrorDisconnected
	ErrorNoResponse
	ErrorBadResponse

	ErrorNotFound
	ErrorTypeMismatch
	ErrorAccessDenied
	ErrorParamRejected

	ErrorTooManyVariables
	ErrorNoMemory
	ErrorPeriodTooShort
	ErrorPeriodTooLong
	ErrorBlockStarted

	ErrorPortInUse
	ErrorProtocolVersion

	ErrorUnknown
)

var crazyflieErrorString = map[crazyflieError]string{
	ErrorNotConnected: "not connected",
	ErrorDisconnected: "disconnected",
	ErrorNoResponse:   "no response within the retry budget",
	ErrorBadResponse:  "malformed response payload",

	ErrorNotFound:      "variable or block not found",
	ErrorTypeMismatch:  "value type does not match the variable type",
	ErrorAccessDenied:  "parameter is read-only",
	ErrorParamRejected: "firmware rejected the parameter write",

	ErrorTooManyVariables: "log block exceeds the sample size budget",
	ErrorNoMemory:         "no memory to allocate log block",
	ErrorPeriodTooShort:   "log block period too short",
	ErrorPeriodTooLong:    "log block period too long",
	ErrorBlockStarted:     "log block is already started",

	ErrorPortInUse:       "port already has a subscriber",
	ErrorProtocolVersion: "firmware protocol version not supported",

	ErrorUnknown: "an unknown error occurred",
}

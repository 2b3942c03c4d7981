package availability

import "errors"

// Error kinds raised by the availability engine. Callers match them with
// errors.Is; CodeOf maps them to the stable codes exposed over HTTP.
var (
	ErrInvalidServiceDuration = errors.New("service duration must be positive")
	ErrMalformedTimeString    = errors.New("malformed time string")
	ErrUnknownWeekday         = errors.New("unknown weekday")
	ErrNoScheduleFound        = errors.New("no schedule found")
)

// Code is a machine-readable error code surfaced to API callers.
type Code string

const (
	CodeNone                   Code = ""
	CodeInvalidServiceDuration Code = "INVALID_SERVICE_DURATION"
	CodeMalformedTimeString    Code = "MALFORMED_TIME_STRING"
	CodeUnknownWeekday         Code = "UNKNOWN_WEEKDAY"
	CodeNoScheduleFound        Code = "NO_SCHEDULE_FOUND"
	CodeInternal               Code = "INTERNAL"
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrInvalidServiceDuration, CodeInvalidServiceDuration},
	{ErrMalformedTimeString, CodeMalformedTimeString},
	{ErrUnknownWeekday, CodeUnknownWeekday},
	{ErrNoScheduleFound, CodeNoScheduleFound},
}

// CodeOf returns the code of the first engine error found in err's chain.
// Errors that are not engine errors map to CodeInternal; nil maps to CodeNone.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNone
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

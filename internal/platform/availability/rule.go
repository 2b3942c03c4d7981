package availability

import (
	"fmt"
	"strings"
	"time"
)

// Rule is a recurring weekly availability window in UTC coordinates.
// EndTimeUTC <= StartTimeUTC means the window ends on the following UTC day.
type Rule struct {
	DaysOfWeekUTC []time.Weekday `json:"days_of_week_utc"`
	StartTimeUTC  TimeOfDay      `json:"start_time_utc"`
	EndTimeUTC    TimeOfDay      `json:"end_time_utc"`
}

// Validate reports an ErrUnknownWeekday for any day outside 0..6.
func (r Rule) Validate() error {
	for _, d := range r.DaysOfWeekUTC {
		if _, err := ParseUTCWeekday(int(d)); err != nil {
			return err
		}
	}
	return nil
}

func (r Rule) CoversWeekday(d time.Weekday) bool {
	for _, day := range r.DaysOfWeekUTC {
		if day == d {
			return true
		}
	}
	return false
}

func (r Rule) CrossesMidnight() bool {
	return r.EndTimeUTC <= r.StartTimeUTC
}

// Window returns the concrete UTC interval of the rule on the UTC calendar
// date of day.
func (r Rule) Window(day time.Time) (start, end time.Time) {
	day = day.UTC()
	start = r.StartTimeUTC.On(day)
	end = r.EndTimeUTC.On(day)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end
}

// ParseUTCWeekday accepts the integer convention 0=Sunday..6=Saturday.
func ParseUTCWeekday(n int) (time.Weekday, error) {
	if n < 0 || n > 6 {
		return 0, fmt.Errorf("%w: %d", ErrUnknownWeekday, n)
	}
	return time.Weekday(n), nil
}

// LocalDays is the display order of local weekday names.
var LocalDays = []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// ParseLocalDay maps a local weekday name (case-insensitive) to time.Weekday.
func ParseLocalDay(name string) (time.Weekday, error) {
	for i, d := range LocalDays {
		if strings.EqualFold(strings.TrimSpace(name), d) {
			return time.Weekday((i + 1) % 7), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownWeekday, name)
}

// LocalDayName returns the display name of d.
func LocalDayName(d time.Weekday) string {
	return LocalDays[localIndex(d)]
}

// localIndex is the position of d in LocalDays.
func localIndex(d time.Weekday) int {
	return (int(d) + 6) % 7
}

// LocalRange is a local wall-clock range in "HH:MM" form. End <= Start means
// the range ends after local midnight.
type LocalRange struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// LocalSelection groups the ranges of one local weekday.
type LocalSelection struct {
	Day    string       `json:"day"`
	Ranges []LocalRange `json:"ranges"`
}

// Slot is a candidate bookable interval [StartUTC, EndUTC).
type Slot struct {
	StartUTC time.Time `json:"start_utc"`
	EndUTC   time.Time `json:"end_utc"`
}

// Booking is the exclusion-set view of an existing booking.
type Booking struct {
	DoctorID string    `json:"doctor_id,omitempty"`
	StartUTC time.Time `json:"start_utc"`
	EndUTC   time.Time `json:"end_utc"`
}

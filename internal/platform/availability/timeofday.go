package availability

import (
	"fmt"
	"time"
)

const secondsPerDay = 24 * 60 * 60

// TimeOfDay is a wall-clock time expressed as seconds since midnight.
type TimeOfDay int

// ParseTimeOfDay parses a 24-hour "HH:MM" or "HH:MM:SS" string.
// Fields must be exactly two digits and within range.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	if len(s) != 5 && len(s) != 8 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTimeString, s)
	}
	h, ok1 := twoDigits(s[0:2])
	m, ok2 := twoDigits(s[3:5])
	if !ok1 || !ok2 || s[2] != ':' {
		return 0, fmt.Errorf("%w: %q", ErrMalformedTimeString, s)
	}
	sec := 0
	if len(s) == 8 {
		var ok bool
		sec, ok = twoDigits(s[6:8])
		if !ok || s[5] != ':' {
			return 0, fmt.Errorf("%w: %q", ErrMalformedTimeString, s)
		}
	}
	if h > 23 || m > 59 || sec > 59 {
		return 0, fmt.Errorf("%w: %q out of range", ErrMalformedTimeString, s)
	}
	return TimeOfDay(h*3600 + m*60 + sec), nil
}

// MustParseTimeOfDay is like ParseTimeOfDay but panics on error.
// Intended for constants and tests.
func MustParseTimeOfDay(s string) TimeOfDay {
	t, err := ParseTimeOfDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func twoDigits(s string) (int, bool) {
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

// TimeOfDayOf returns the wall-clock time of t in t's own location.
func TimeOfDayOf(t time.Time) TimeOfDay {
	h, m, s := t.Clock()
	return TimeOfDay(h*3600 + m*60 + s)
}

// Duration returns the offset from midnight.
func (t TimeOfDay) Duration() time.Duration {
	return time.Duration(t) * time.Second
}

// String formats as "HH:MM:SS".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", int(t)/3600, int(t)%3600/60, int(t)%60)
}

// HHMM formats as "HH:MM", dropping seconds.
func (t TimeOfDay) HHMM() string {
	return fmt.Sprintf("%02d:%02d", int(t)/3600, int(t)%3600/60)
}

func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TimeOfDay) UnmarshalText(b []byte) error {
	v, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// On returns the instant at this wall-clock time on the calendar date of day,
// interpreted in day's location.
func (t TimeOfDay) On(day time.Time) time.Time {
	y, mo, d := day.Date()
	s := int(t)
	return time.Date(y, mo, d, s/3600, s%3600/60, s%60, 0, day.Location())
}

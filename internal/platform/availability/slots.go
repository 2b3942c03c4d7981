package availability

import (
	"fmt"
	"time"
)

// GenerateSlots expands rules into fixed-length candidate slots for the UTC
// calendar date of date. Only rules covering that UTC weekday contribute; a
// window crossing UTC midnight continues into the following day. Slots from
// overlapping rules are not merged.
func GenerateSlots(rules []Rule, date time.Time, durationMinutes int) ([]Slot, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("%w: got %d minutes", ErrInvalidServiceDuration, durationMinutes)
	}
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}

	day := DateUTC(date)
	step := time.Duration(durationMinutes) * time.Minute

	slots := make([]Slot, 0)
	for _, r := range rules {
		if !r.CoversWeekday(day.Weekday()) {
			continue
		}
		windowStart, windowEnd := r.Window(day)
		for t := windowStart; !t.Add(step).After(windowEnd); t = t.Add(step) {
			slots = append(slots, Slot{StartUTC: t, EndUTC: t.Add(step)})
		}
	}
	return slots, nil
}

// DateUTC truncates t to midnight of its UTC calendar date.
func DateUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Span returns the earliest start and latest end across slots.
// ok is false when slots is empty.
func Span(slots []Slot) (from, to time.Time, ok bool) {
	if len(slots) == 0 {
		return time.Time{}, time.Time{}, false
	}
	from, to = slots[0].StartUTC, slots[0].EndUTC
	for _, s := range slots[1:] {
		if s.StartUTC.Before(from) {
			from = s.StartUTC
		}
		if s.EndUTC.After(to) {
			to = s.EndUTC
		}
	}
	return from, to, true
}

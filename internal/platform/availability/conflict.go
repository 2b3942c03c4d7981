package availability

import "time"

// Overlaps reports whether the half-open ranges [s1,e1) and [s2,e2) intersect.
// Ranges that only touch at an endpoint do not overlap.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && e1.After(s2)
}

// FilterAvailable returns the slots that overlap none of bookings, in their
// input order. The result is never nil.
func FilterAvailable(slots []Slot, bookings []Booking) []Slot {
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if !conflicts(s, bookings) {
			out = append(out, s)
		}
	}
	return out
}

func conflicts(s Slot, bookings []Booking) bool {
	for _, b := range bookings {
		if Overlaps(s.StartUTC, s.EndUTC, b.StartUTC, b.EndUTC) {
			return true
		}
	}
	return false
}

// Starts returns the start instants of slots in UTC.
func Starts(slots []Slot) []time.Time {
	out := make([]time.Time, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.StartUTC.UTC())
	}
	return out
}

// Contains reports whether slots has a slot starting at start and ending at end.
func Contains(slots []Slot, start, end time.Time) bool {
	for _, s := range slots {
		if s.StartUTC.Equal(start) && s.EndUTC.Equal(end) {
			return true
		}
	}
	return false
}

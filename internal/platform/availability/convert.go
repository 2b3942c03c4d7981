package availability

import (
	"sort"
	"time"
)

// ToLocalSelections renders UTC rules as local weekday selections in loc.
//
// Each covered UTC weekday is anchored to its next occurrence on or after
// the UTC calendar date of ref, so the local offset (and any DST shift) is
// the one in effect during that week. Identical (day, start, end) triples
// are collapsed, ranges within a day are sorted, and days are returned in
// Monday..Sunday order. Days without ranges are omitted.
func ToLocalSelections(rules []Rule, loc *time.Location, ref time.Time) ([]LocalSelection, error) {
	if loc == nil {
		loc = time.UTC
	}
	base := ref.UTC()

	type key struct {
		day time.Weekday
		rng LocalRange
	}
	seen := make(map[key]bool)
	var byDay [7][]LocalRange

	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		for _, d := range r.DaysOfWeekUTC {
			start, end := r.Window(nextOccurrence(base, d))
			ls, le := start.In(loc), end.In(loc)

			k := key{
				day: ls.Weekday(),
				rng: LocalRange{Start: TimeOfDayOf(ls).HHMM(), End: TimeOfDayOf(le).HHMM()},
			}
			if seen[k] {
				continue
			}
			seen[k] = true
			idx := localIndex(k.day)
			byDay[idx] = append(byDay[idx], k.rng)
		}
	}

	out := make([]LocalSelection, 0, 7)
	for i, ranges := range byDay {
		if len(ranges) == 0 {
			continue
		}
		sort.Slice(ranges, func(a, b int) bool {
			return ranges[a].Start+"-"+ranges[a].End < ranges[b].Start+"-"+ranges[b].End
		})
		out = append(out, LocalSelection{Day: LocalDays[i], Ranges: ranges})
	}
	return out, nil
}

// ToUTCRules converts local weekday selections in loc back into UTC rules.
//
// Each range is anchored to the first occurrence of its local weekday whose
// start instant is on or after midnight UTC of ref's date. That is the same
// week of instants ToLocalSelections reads, so both directions see the same
// offsets. Ranges that share the same UTC start and end times are merged into
// one rule whose DaysOfWeekUTC lists every UTC weekday that produced them.
// Rules are returned in first-seen order.
func ToUTCRules(selections []LocalSelection, loc *time.Location, ref time.Time) ([]Rule, error) {
	if loc == nil {
		loc = time.UTC
	}
	weekStart := DateUTC(ref)
	base := weekStart.In(loc)

	type pair struct{ start, end TimeOfDay }
	var order []pair
	days := make(map[pair]map[time.Weekday]bool)

	for _, sel := range selections {
		wd, err := ParseLocalDay(sel.Day)
		if err != nil {
			return nil, err
		}
		anchor := nextOccurrence(base, wd)

		for _, rng := range sel.Ranges {
			st, err := ParseTimeOfDay(rng.Start)
			if err != nil {
				return nil, err
			}
			et, err := ParseTimeOfDay(rng.End)
			if err != nil {
				return nil, err
			}

			day := anchor
			if st.On(day).Before(weekStart) {
				day = day.AddDate(0, 0, 7)
			}
			start := st.On(day)
			end := et.On(day)
			if et <= st {
				end = et.On(day.AddDate(0, 0, 1))
			}
			su, eu := start.UTC(), end.UTC()

			p := pair{TimeOfDayOf(su), TimeOfDayOf(eu)}
			if days[p] == nil {
				days[p] = make(map[time.Weekday]bool)
				order = append(order, p)
			}
			days[p][su.Weekday()] = true
		}
	}

	rules := make([]Rule, 0, len(order))
	for _, p := range order {
		ds := make([]time.Weekday, 0, len(days[p]))
		for d := range days[p] {
			ds = append(ds, d)
		}
		sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
		rules = append(rules, Rule{DaysOfWeekUTC: ds, StartTimeUTC: p.start, EndTimeUTC: p.end})
	}
	return rules, nil
}

// nextOccurrence returns midnight of the first calendar date on or after
// base (in base's location) that falls on wd.
func nextOccurrence(base time.Time, wd time.Weekday) time.Time {
	days := (int(wd) - int(base.Weekday()) + 7) % 7
	y, m, d := base.Date()
	return time.Date(y, m, d+days, 0, 0, 0, 0, base.Location())
}

// WeekAnchor returns Monday 00:00 UTC of the ISO week containing t. Services
// pass it as ref to both conversions.
func WeekAnchor(t time.Time) time.Time {
	t = t.UTC()
	y, m, d := t.Date()
	return time.Date(y, m, d-localIndex(t.Weekday()), 0, 0, 0, 0, time.UTC)
}

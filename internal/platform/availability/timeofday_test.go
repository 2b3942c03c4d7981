package availability

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestParseTimeOfDay_Valid(t *testing.T) {
	tests := []struct {
		in   string
		want TimeOfDay
	}{
		{"00:00", 0},
		{"09:00", 9 * 3600},
		{"09:30:15", 9*3600 + 30*60 + 15},
		{"23:59:59", secondsPerDay - 1},
		{"13:05", 13*3600 + 5*60},
	}
	for _, tt := range tests {
		got, err := ParseTimeOfDay(tt.in)
		if err != nil {
			t.Errorf("ParseTimeOfDay(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTimeOfDay(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseTimeOfDay_Malformed(t *testing.T) {
	bad := []string{"", "9:00", "24:00", "12:60", "12:00:60", "ab:cd", "12-00", "12:00:0", "12:00:00Z", " 12:00"}
	for _, in := range bad {
		_, err := ParseTimeOfDay(in)
		if !errors.Is(err, ErrMalformedTimeString) {
			t.Errorf("ParseTimeOfDay(%q) expected ErrMalformedTimeString, got %v", in, err)
		}
	}
}

func TestTimeOfDay_Format(t *testing.T) {
	tod := MustParseTimeOfDay("07:05:09")
	if tod.String() != "07:05:09" {
		t.Errorf("expected 07:05:09, got %s", tod.String())
	}
	if tod.HHMM() != "07:05" {
		t.Errorf("expected 07:05, got %s", tod.HHMM())
	}
	if tod.Duration() != 7*time.Hour+5*time.Minute+9*time.Second {
		t.Errorf("unexpected duration %v", tod.Duration())
	}
}

func TestTimeOfDay_JSON(t *testing.T) {
	in := struct {
		Start TimeOfDay `json:"start"`
	}{Start: MustParseTimeOfDay("09:30")}

	b, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"start":"09:30:00"}` {
		t.Errorf("unexpected JSON: %s", b)
	}

	var out struct {
		Start TimeOfDay `json:"start"`
	}
	if err := json.Unmarshal([]byte(`{"start":"25:00"}`), &out); !errors.Is(err, ErrMalformedTimeString) {
		t.Errorf("expected ErrMalformedTimeString from unmarshal, got %v", err)
	}
}

func TestTimeOfDay_On(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	day := time.Date(2024, 6, 10, 15, 45, 0, 0, ny)
	got := MustParseTimeOfDay("09:00").On(day)
	want := time.Date(2024, 6, 10, 9, 0, 0, 0, ny)
	if !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		err  error
		want Code
	}{
		{nil, CodeNone},
		{ErrInvalidServiceDuration, CodeInvalidServiceDuration},
		{fmt.Errorf("rule 3: %w", ErrMalformedTimeString), CodeMalformedTimeString},
		{fmt.Errorf("%w: 9", ErrUnknownWeekday), CodeUnknownWeekday},
		{ErrNoScheduleFound, CodeNoScheduleFound},
		{errors.New("connection refused"), CodeInternal},
	}
	for _, tt := range tests {
		if got := CodeOf(tt.err); got != tt.want {
			t.Errorf("CodeOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestParseUTCWeekday(t *testing.T) {
	for n := 0; n <= 6; n++ {
		wd, err := ParseUTCWeekday(n)
		if err != nil {
			t.Fatalf("ParseUTCWeekday(%d) unexpected error: %v", n, err)
		}
		if int(wd) != n {
			t.Errorf("expected %d, got %d", n, wd)
		}
	}
	for _, n := range []int{-1, 7, 42} {
		if _, err := ParseUTCWeekday(n); !errors.Is(err, ErrUnknownWeekday) {
			t.Errorf("ParseUTCWeekday(%d) expected ErrUnknownWeekday, got %v", n, err)
		}
	}
}

func TestParseLocalDay(t *testing.T) {
	tests := map[string]time.Weekday{
		"Monday":    time.Monday,
		"tuesday":   time.Tuesday,
		"WEDNESDAY": time.Wednesday,
		"Thursday":  time.Thursday,
		"Friday":    time.Friday,
		"Saturday":  time.Saturday,
		"Sunday":    time.Sunday,
	}
	for name, want := range tests {
		got, err := ParseLocalDay(name)
		if err != nil {
			t.Errorf("ParseLocalDay(%q) unexpected error: %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("ParseLocalDay(%q) = %v, want %v", name, got, want)
		}
		if LocalDayName(want) != LocalDays[localIndex(want)] {
			t.Errorf("LocalDayName(%v) mismatch", want)
		}
	}
	if _, err := ParseLocalDay("Funday"); !errors.Is(err, ErrUnknownWeekday) {
		t.Errorf("expected ErrUnknownWeekday, got %v", err)
	}
}

func TestLocalDayName_Order(t *testing.T) {
	if LocalDayName(time.Monday) != "Monday" || LocalDayName(time.Sunday) != "Sunday" {
		t.Errorf("unexpected names: %s, %s", LocalDayName(time.Monday), LocalDayName(time.Sunday))
	}
}

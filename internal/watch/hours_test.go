package watch

import (
	"testing"
	"time"
)

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 10, hour, min, 0, 0, time.UTC)
}

func TestParseWindowEmpty(t *testing.T) {
	t.Parallel()
	w, err := ParseWindow("")
	if err != nil {
		t.Fatalf("ParseWindow(\"\") error: %v", err)
	}
	if w != nil {
		t.Fatalf("ParseWindow(\"\") = %v, want nil", w)
	}
	if !w.Contains(at(3, 0)) {
		t.Fatal("nil window must always contain")
	}
	if w.String() != "always" {
		t.Fatalf("String() = %q", w.String())
	}
}

func TestParseWindowRejects(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"7-24", "07:00", "25:00-26:00", "07:00-24:30", "07:00-07:00"} {
		if _, err := ParseWindow(raw); err == nil {
			t.Fatalf("ParseWindow(%q) = nil error, want failure", raw)
		}
	}
}

func TestWindowContains(t *testing.T) {
	t.Parallel()
	w, err := ParseWindow("07:00-24:00")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		t    time.Time
		want bool
	}{
		{at(6, 59), false},
		{at(7, 0), true},
		{at(12, 0), true},
		{at(23, 59), true},
		{at(0, 0), false},
	}
	for _, tt := range tests {
		if got := w.Contains(tt.t); got != tt.want {
			t.Fatalf("Contains(%v) = %v, want %v", tt.t.Format("15:04"), got, tt.want)
		}
	}
}

func TestWindowOvernightWrap(t *testing.T) {
	t.Parallel()
	w, err := ParseWindow("22:00-06:00")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		t    time.Time
		want bool
	}{
		{at(21, 59), false},
		{at(22, 0), true},
		{at(23, 30), true},
		{at(2, 0), true},
		{at(5, 59), true},
		{at(6, 0), false},
		{at(12, 0), false},
	}
	for _, tt := range tests {
		if got := w.Contains(tt.t); got != tt.want {
			t.Fatalf("Contains(%v) = %v, want %v", tt.t.Format("15:04"), got, tt.want)
		}
	}
}

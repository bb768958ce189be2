package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule is either a fixed interval ("5m", "1h30m") or a cron
// expression ("*/5 * * * *", "@hourly"). Intervals are the common case;
// cron lets operators align checks to wall-clock minutes.
type Schedule struct {
	raw   string
	every time.Duration
	cron  cron.Schedule
}

// ParseSchedule parses raw as a Go duration first, then as a standard
// cron expression.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d < time.Second {
			return Schedule{}, fmt.Errorf("schedule: interval %q too short", s)
		}
		return Schedule{raw: s, every: d}, nil
	}
	cs, err := cron.ParseStandard(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("schedule: %q is neither a duration nor a cron expression: %w", raw, err)
	}
	return Schedule{raw: s, cron: cs}, nil
}

// Next returns the wake time after from.
func (s Schedule) Next(from time.Time) time.Time {
	if s.cron != nil {
		return s.cron.Next(from)
	}
	return from.Add(s.every)
}

func (s Schedule) IsZero() bool   { return s.every == 0 && s.cron == nil }
func (s Schedule) String() string { return s.raw }

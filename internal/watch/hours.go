package watch

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var reWindow = regexp.MustCompile(`^\s*(\d{1,2}):(\d{2})\s*-\s*(\d{1,2}):(\d{2})\s*$`)

// Window is an active-hours gate like "07:00-24:00". Outside the window
// the watcher skips ticks entirely. End of "24:00" means end of day.
// Overnight windows ("22:00-06:00") wrap across midnight.
//
// A nil *Window is always open.
type Window struct {
	startMin int // minutes since midnight, inclusive
	endMin   int // exclusive; 1440 = midnight
}

// ParseWindow parses "HH:MM-HH:MM". An empty string returns (nil, nil).
func ParseWindow(s string) (*Window, error) {
	if s == "" {
		return nil, nil
	}
	m := reWindow.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("active hours: want HH:MM-HH:MM, got %q", s)
	}
	sh, _ := strconv.Atoi(m[1])
	sm, _ := strconv.Atoi(m[2])
	eh, _ := strconv.Atoi(m[3])
	em, _ := strconv.Atoi(m[4])
	if sh > 23 || sm > 59 {
		return nil, fmt.Errorf("active hours: invalid start in %q", s)
	}
	if eh > 24 || em > 59 || (eh == 24 && em != 0) {
		return nil, fmt.Errorf("active hours: invalid end in %q", s)
	}
	w := &Window{startMin: sh*60 + sm, endMin: eh*60 + em}
	if w.startMin == w.endMin {
		return nil, fmt.Errorf("active hours: empty window %q", s)
	}
	return w, nil
}

// Contains reports whether t (in its own location) falls inside the window.
func (w *Window) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	cur := t.Hour()*60 + t.Minute()
	if w.startMin < w.endMin {
		return cur >= w.startMin && cur < w.endMin
	}
	// Overnight wrap.
	return cur >= w.startMin || cur < w.endMin
}

func (w *Window) String() string {
	if w == nil {
		return "always"
	}
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.startMin/60, w.startMin%60, w.endMin/60, w.endMin%60)
}

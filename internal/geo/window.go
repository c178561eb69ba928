package geo

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWindow signals a malformed "HH:MM" visibility bound.
var ErrInvalidWindow = errors.New("invalid visibility window")

// Window is a daily visibility window in minutes after midnight, inclusive
// at both ends. A window whose start is after its end wraps past midnight.
type Window struct {
	From int
	To   int
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidWindow, s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ParseWindow builds a window from optional bounds. It reports ok=false when
// either bound is missing, meaning the pin has no window.
func ParseWindow(from, to *string) (w Window, ok bool, err error) {
	if from == nil || to == nil || *from == "" || *to == "" {
		return Window{}, false, nil
	}
	if w.From, err = ParseClock(*from); err != nil {
		return Window{}, false, err
	}
	if w.To, err = ParseClock(*to); err != nil {
		return Window{}, false, err
	}
	return w, true, nil
}

// Contains reports whether t, viewed in loc, falls inside the window.
func (w Window) Contains(t time.Time, loc *time.Location) bool {
	if loc != nil {
		t = t.In(loc)
	}
	m := t.Hour()*60 + t.Minute()
	if w.From <= w.To {
		return m >= w.From && m <= w.To
	}
	return m >= w.From || m <= w.To
}

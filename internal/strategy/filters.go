package strategy

import (
	"fmt"
	"strings"
	"time"
)

// Session is a UTC trading window in whole hours. End is inclusive; a window
// with Start > End wraps midnight.
type Session struct {
	Name  string
	Start int
	End   int
}

func (s Session) Contains(t time.Time) bool {
	h := t.UTC().Hour()
	if s.Start <= s.End {
		return h >= s.Start && h <= s.End
	}
	return h >= s.Start || h <= s.End
}

var knownSessions = map[string]Session{
	"tokyo":          {Name: "tokyo", Start: 0, End: 9},
	"london":         {Name: "london", Start: 7, End: 16},
	"new_york":       {Name: "new_york", Start: 12, End: 21},
	"london_ny":      {Name: "london_ny", Start: 12, End: 16},
	"london_overlap": {Name: "london_overlap", Start: 12, End: 16},
}

// LookupSession resolves a session name such as "london" or "new_york".
func LookupSession(name string) (Session, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	if key == "newyork" || key == "ny" {
		key = "new_york"
	}
	s, ok := knownSessions[key]
	if !ok {
		return Session{}, fmt.Errorf("unknown session %q", name)
	}
	return s, nil
}

// SessionFilter allows a bar when its weekday and hour are not excluded and,
// if any sessions are listed, at least one of them is open.
type SessionFilter struct {
	Sessions      []Session
	ExcludedDays  []time.Weekday
	ExcludedHours []int
}

// NewSessionFilter builds a filter from configuration names. Day names accept
// "sat"/"saturday" style spellings.
func NewSessionFilter(sessions, excludedDays []string, excludedHours []int) (SessionFilter, error) {
	var f SessionFilter
	for _, name := range sessions {
		s, err := LookupSession(name)
		if err != nil {
			return SessionFilter{}, err
		}
		f.Sessions = append(f.Sessions, s)
	}
	for _, name := range excludedDays {
		d, err := parseWeekday(name)
		if err != nil {
			return SessionFilter{}, err
		}
		f.ExcludedDays = append(f.ExcludedDays, d)
	}
	for _, h := range excludedHours {
		if h < 0 || h > 23 {
			return SessionFilter{}, fmt.Errorf("excluded hour %d out of range", h)
		}
	}
	f.ExcludedHours = append(f.ExcludedHours, excludedHours...)
	return f, nil
}

func (f SessionFilter) Allows(t time.Time) bool {
	t = t.UTC()
	for _, d := range f.ExcludedDays {
		if t.Weekday() == d {
			return false
		}
	}
	for _, h := range f.ExcludedHours {
		if t.Hour() == h {
			return false
		}
	}
	if len(f.Sessions) == 0 {
		return true
	}
	for _, s := range f.Sessions {
		if s.Contains(t) {
			return true
		}
	}
	return false
}

// ActiveSession names the first standard session open at t.
func ActiveSession(t time.Time) string {
	for _, key := range []string{"tokyo", "london", "new_york"} {
		if knownSessions[key].Contains(t) {
			return key
		}
	}
	return ""
}

func parseWeekday(name string) (time.Weekday, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for d := time.Sunday; d <= time.Saturday; d++ {
		full := strings.ToLower(d.String())
		if key == full || key == full[:3] {
			return d, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", name)
}

// SpreadFilter rejects entries when the quoted spread is too wide in pips or
// relative to ATR. Zero limits are disabled.
type SpreadFilter struct {
	PipSize           float64
	MaxSpreadPips     float64
	MaxSpreadATRRatio float64
}

func (f SpreadFilter) Check(spread, atr float64) error {
	if spread < 0 {
		return fmt.Errorf("negative spread %.6f", spread)
	}
	if f.MaxSpreadPips > 0 && f.PipSize > 0 {
		if pips := spread / f.PipSize; pips > f.MaxSpreadPips {
			return fmt.Errorf("spread %.1f pips above %.1f", pips, f.MaxSpreadPips)
		}
	}
	if f.MaxSpreadATRRatio > 0 && atr > 0 {
		if ratio := spread / atr; ratio > f.MaxSpreadATRRatio {
			return fmt.Errorf("spread/atr %.3f above %.3f", ratio, f.MaxSpreadATRRatio)
		}
	}
	return nil
}

// AdjustedEntry moves a mid price to the side of the book an order fills on.
func AdjustedEntry(mid, spread float64, dir Direction) float64 {
	if dir == DirectionShort {
		return mid - spread/2
	}
	return mid + spread/2
}

package market

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"investcore/internal/config"
)

// Session describes regular trading hours in one timezone.
type Session struct {
	open       time.Duration
	close      time.Duration
	loc        *time.Location
	weekends   bool
	alwaysOpen bool
}

func NewSession(cfg config.SessionConfig, alwaysOpen bool) (*Session, error) {
	s := &Session{weekends: cfg.Weekends, alwaysOpen: alwaysOpen, loc: time.UTC}
	if tz := strings.TrimSpace(cfg.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("session timezone: %w", err)
		}
		s.loc = loc
	}
	var err error
	if s.open, err = parseClock(cfg.Open); err != nil {
		return nil, fmt.Errorf("session open: %w", err)
	}
	if s.close, err = parseClock(cfg.Close); err != nil {
		return nil, fmt.Errorf("session close: %w", err)
	}
	if s.close <= s.open {
		return nil, fmt.Errorf("session close %q must be after open %q", cfg.Close, cfg.Open)
	}
	return s, nil
}

func parseClock(v string) (time.Duration, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(v))
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// OpenAt reports whether t falls inside the session.
func (s *Session) OpenAt(t time.Time) bool {
	if s == nil {
		return false
	}
	if s.alwaysOpen {
		return true
	}
	local := t.In(s.loc)
	if !s.weekends && (local.Weekday() == time.Saturday || local.Weekday() == time.Sunday) {
		return false
	}
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)
	since := local.Sub(midnight)
	return since >= s.open && since < s.close
}

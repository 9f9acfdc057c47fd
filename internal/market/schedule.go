// Package market classifies instants into trading sessions against the US
// equity calendar (weekends, exchange holidays, regular and extended hours).
package market

import (
	"fmt"
	"time"
	_ "time/tzdata" // session math must not depend on the host zoneinfo

	"chartcore/pkg/model"
)

// TimeOfDay is a wall-clock time in the exchange location
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses "HH:MM"
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return TimeOfDay{}, fmt.Errorf("parsing time of day %q: %w", s, err)
	}
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}, nil
}

func (t TimeOfDay) minutes() int { return t.Hour*60 + t.Minute }

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// Schedule holds the session boundaries of a trading day
type Schedule struct {
	Location     *time.Location
	PreOpen      TimeOfDay // extended session start
	RegularOpen  TimeOfDay
	RegularClose TimeOfDay
	AfterClose   TimeOfDay // extended session end
}

// DefaultSchedule NYSE/NASDAQ hours: 04:00 pre-market, 09:30-16:00 regular, after-hours until 20:00 ET
func DefaultSchedule() Schedule {
	return Schedule{
		Location:     ETLocation(),
		PreOpen:      TimeOfDay{Hour: 4},
		RegularOpen:  TimeOfDay{Hour: 9, Minute: 30},
		RegularClose: TimeOfDay{Hour: 16},
		AfterClose:   TimeOfDay{Hour: 20},
	}
}

// ParseSchedule builds a schedule from config strings
func ParseSchedule(timezone, preOpen, regularOpen, regularClose, afterClose string) (Schedule, error) {
	s := Schedule{Location: ETLocation()}
	if timezone != "" {
		loc, err := time.LoadLocation(timezone)
		if err != nil {
			return Schedule{}, fmt.Errorf("loading timezone %q: %w", timezone, err)
		}
		s.Location = loc
	}

	var err error
	if s.PreOpen, err = ParseTimeOfDay(preOpen); err != nil {
		return Schedule{}, err
	}
	if s.RegularOpen, err = ParseTimeOfDay(regularOpen); err != nil {
		return Schedule{}, err
	}
	if s.RegularClose, err = ParseTimeOfDay(regularClose); err != nil {
		return Schedule{}, err
	}
	if s.AfterClose, err = ParseTimeOfDay(afterClose); err != nil {
		return Schedule{}, err
	}
	return s, s.Validate()
}

// Validate checks that boundaries are strictly ordered
func (s Schedule) Validate() error {
	if s.Location == nil {
		return fmt.Errorf("schedule location is required")
	}
	if !(s.PreOpen.minutes() <= s.RegularOpen.minutes() &&
		s.RegularOpen.minutes() < s.RegularClose.minutes() &&
		s.RegularClose.minutes() <= s.AfterClose.minutes()) {
		return fmt.Errorf("schedule out of order: %s %s %s %s",
			s.PreOpen, s.RegularOpen, s.RegularClose, s.AfterClose)
	}
	return nil
}

// DayBounds is an [Open, Close) interval
type DayBounds struct {
	Open  time.Time `json:"open"`
	Close time.Time `json:"close"`
}

// Contains reports whether t falls in [Open, Close)
func (b DayBounds) Contains(t time.Time) bool {
	return !t.Before(b.Open) && t.Before(b.Close)
}

// ETLocation US Eastern Time location
func ETLocation() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// Day returns local midnight of the calendar day containing t
func (s Schedule) Day(t time.Time) time.Time {
	local := t.In(s.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.Location)
}

func (s Schedule) at(day time.Time, tod TimeOfDay) time.Time {
	local := day.In(s.Location)
	return time.Date(local.Year(), local.Month(), local.Day(), tod.Hour, tod.Minute, 0, 0, s.Location)
}

// Regular returns the regular session bounds of the day containing t
func (s Schedule) Regular(t time.Time) DayBounds {
	return DayBounds{Open: s.at(t, s.RegularOpen), Close: s.at(t, s.RegularClose)}
}

// Extended returns the pre-market open through after-hours close of the day containing t
func (s Schedule) Extended(t time.Time) DayBounds {
	return DayBounds{Open: s.at(t, s.PreOpen), Close: s.at(t, s.AfterClose)}
}

// SameDay reports whether a and b fall on the same exchange calendar day
func (s Schedule) SameDay(a, b time.Time) bool {
	return s.Day(a).Equal(s.Day(b))
}

// IsWeekend reports whether t falls on Saturday or Sunday in the exchange location
func (s Schedule) IsWeekend(t time.Time) bool {
	wd := t.In(s.Location).Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// SessionOf classifies t by time of day on its own calendar day, ignoring holidays.
func (s Schedule) SessionOf(t time.Time) model.Session {
	if s.IsWeekend(t) {
		return model.SessionClosed
	}
	return s.sessionByTime(t)
}

func (s Schedule) sessionByTime(t time.Time) model.Session {
	local := t.In(s.Location)
	minutes := local.Hour()*60 + local.Minute()

	switch {
	case minutes < s.PreOpen.minutes():
		return model.SessionClosed
	case minutes < s.RegularOpen.minutes():
		return model.SessionPreMarket
	case minutes < s.RegularClose.minutes():
		return model.SessionRegular
	case minutes < s.AfterClose.minutes():
		return model.SessionAfterHours
	default:
		return model.SessionClosed
	}
}

// TagSessions returns a copy of bars with Session set from each bar's timestamp
func (s Schedule) TagSessions(bars []model.PriceBar) []model.PriceBar {
	out := make([]model.PriceBar, len(bars))
	for i, b := range bars {
		b.Session = s.SessionOf(b.Time)
		out[i] = b
	}
	return out
}

package market

import (
	"fmt"
	"time"

	"chartcore/pkg/model"
)

// MarketStatus wall-clock market state
type MarketStatus struct {
	Session       model.Session `json:"session"`
	IsOpen        bool          `json:"is_open"`
	IsHoliday     bool          `json:"is_holiday"`
	CurrentTime   time.Time     `json:"current_time"`
	OpenTime      time.Time     `json:"open_time"`
	CloseTime     time.Time     `json:"close_time"`
	NextOpen      time.Time     `json:"next_open"`
	TimeToOpen    time.Duration `json:"time_to_open"`
	TimeToClose   time.Duration `json:"time_to_close"`
	Reason        string        `json:"reason"` // "open", "weekend", "holiday", "pre-market", "after-hours", "closed"
	ClosePrice    float64       `json:"close_price,omitempty"`
	ClosePriceFor string        `json:"close_price_for,omitempty"`
}

// GetMarketStatus computes the market state at now. holiday marks today as a
// full-day closure; the static table is consulted when searching for the next open.
func GetMarketStatus(now time.Time, s Schedule, holiday bool) MarketStatus {
	local := now.In(s.Location)
	regular := s.Regular(local)

	status := MarketStatus{
		CurrentTime: local,
		OpenTime:    regular.Open,
		CloseTime:   regular.Close,
		IsHoliday:   holiday,
		Session:     model.SessionClosed,
	}

	status.NextOpen = nextOpen(local, s, holiday)
	status.TimeToOpen = status.NextOpen.Sub(local)

	if s.IsWeekend(local) {
		status.Reason = "weekend"
		return status
	}
	if holiday {
		status.Reason = "holiday"
		return status
	}

	status.Session = s.sessionByTime(local)
	switch status.Session {
	case model.SessionPreMarket:
		status.Reason = "pre-market"
	case model.SessionRegular:
		status.IsOpen = true
		status.Reason = "open"
		status.TimeToOpen = 0
		status.TimeToClose = regular.Close.Sub(local)
	case model.SessionAfterHours:
		status.Reason = "after-hours"
	default:
		status.Reason = "closed"
	}
	return status
}

// nextOpen finds the next regular open strictly after now, skipping weekends
// and static holidays.
func nextOpen(now time.Time, s Schedule, todayHoliday bool) time.Time {
	static := NewStaticHolidays(s.Location)
	day := s.Day(now)

	open := s.Regular(day).Open
	if now.Before(open) && !s.IsWeekend(day) && !todayHoliday && !static.Contains(day) {
		return open
	}

	for i := 0; i < 14; i++ {
		day = time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, s.Location)
		if s.IsWeekend(day) || static.Contains(day) {
			continue
		}
		return s.Regular(day).Open
	}
	return s.Regular(day).Open
}

// FormatDuration formats a wait time as "3h 5m" / "12m"
func FormatDuration(d time.Duration) string {
	if d < 0 {
		return "0s"
	}

	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// String returns a one-line summary
func (m MarketStatus) String() string {
	switch {
	case m.IsOpen:
		return fmt.Sprintf("%s (closes in %s)", m.Reason, FormatDuration(m.TimeToClose))
	default:
		return fmt.Sprintf("%s (opens in %s)", m.Reason, FormatDuration(m.TimeToOpen))
	}
}

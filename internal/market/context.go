package market

import (
	"time"

	"chartcore/pkg/model"
)

// TradingDayContext describes the trading day a dataset represents. The day is
// inferred from the data, not the wall clock, because a series may show a day
// other than today (weekend, holiday, stale feed).
type TradingDayContext struct {
	Day          time.Time `json:"day"`
	Regular      DayBounds `json:"regular"`
	Extended     DayBounds `json:"extended"`
	IsWeekend    bool      `json:"is_weekend"`
	IsHistorical bool      `json:"is_historical"`
	IsHoliday    bool      `json:"is_holiday"`
}

// NewTradingDayContext derives the context from the last bar. With no bars the
// day of now is used.
func NewTradingDayContext(bars []model.PriceBar, now time.Time, s Schedule) TradingDayContext {
	ref := now
	if len(bars) > 0 {
		ref = bars[len(bars)-1].Time
	}

	day := s.Day(ref)
	return TradingDayContext{
		Day:          day,
		Regular:      s.Regular(day),
		Extended:     s.Extended(day),
		IsWeekend:    s.IsWeekend(day),
		IsHistorical: !s.SameDay(day, now),
	}
}

// WithHoliday returns a copy flagged with the external holiday status
func (c TradingDayContext) WithHoliday(holiday bool) TradingDayContext {
	c.IsHoliday = holiday
	return c
}

// Classify returns the session of now relative to this trading day. Weekend,
// historical and holiday days are always closed so a Friday chart viewed on
// Saturday does not look open.
func (c TradingDayContext) Classify(now time.Time) model.Session {
	if c.IsWeekend || c.IsHistorical || c.IsHoliday {
		return model.SessionClosed
	}

	switch {
	case now.Before(c.Extended.Open):
		return model.SessionClosed
	case now.Before(c.Regular.Open):
		return model.SessionPreMarket
	case now.Before(c.Regular.Close):
		return model.SessionRegular
	case now.Before(c.Extended.Close):
		return model.SessionAfterHours
	default:
		return model.SessionClosed
	}
}

// Classification is the result of ClassifySession
type Classification struct {
	Session model.Session     `json:"session"`
	Context TradingDayContext `json:"context"`
}

// ClassifySession locates the trading day of bars and classifies now against it.
func ClassifySession(now time.Time, bars []model.PriceBar, s Schedule, holiday bool) Classification {
	ctx := NewTradingDayContext(bars, now, s).WithHoliday(holiday)
	return Classification{
		Session: ctx.Classify(now),
		Context: ctx,
	}
}

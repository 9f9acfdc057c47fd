// Package series loads chart series at the granularity each range needs and
// keeps track of which load is current.
package series

import (
	"time"

	"chartcore/pkg/model"
)

// Plan is the granularity and lookback requested for one load
type Plan struct {
	Granularity model.Granularity `json:"granularity"`
	Days        int               `json:"days"`
}

// Planner maps ranges to plans. TenMinuteMaxDays is the deepest 10-minute
// history the providers serve; a YTD window past it loads daily bars instead
// of a silently shortened intraday series. Zero means no cap.
type Planner struct {
	IntradayLookbackDays int
	MiniLookbackDays     int
	TenMinuteMaxDays     int
	Location             *time.Location
}

// DefaultPlanner searches 180 days back for intraday data, 90 in mini mode.
// 10-minute bars are built from 5-minute data, which Yahoo and Finnhub keep
// for 59 days.
func DefaultPlanner() Planner {
	return Planner{
		IntradayLookbackDays: 180,
		MiniLookbackDays:     90,
		TenMinuteMaxDays:     59,
		Location:             time.UTC,
	}
}

// PlanFor returns the fixed granularity for r. Mini mode always loads intraday
// with the shorter lookback.
func (p Planner) PlanFor(r model.TimeRange, mini bool, now time.Time) Plan {
	if mini {
		return Plan{Granularity: model.GranularityIntraday, Days: p.MiniLookbackDays}
	}

	switch r {
	case model.Range1D:
		return Plan{Granularity: model.GranularityIntraday, Days: p.IntradayLookbackDays}
	case model.Range1W:
		return Plan{Granularity: model.Granularity10Min, Days: 7}
	case model.Range1M:
		return Plan{Granularity: model.Granularity10Min, Days: 30}
	case model.Range3M:
		return Plan{Granularity: model.GranularityDaily, Days: 90}
	case model.RangeYTD:
		elapsed := p.daysSinceNewYear(now)
		if elapsed < 90 && (p.TenMinuteMaxDays == 0 || elapsed <= p.TenMinuteMaxDays) {
			return Plan{Granularity: model.Granularity10Min, Days: elapsed}
		}
		return Plan{Granularity: model.GranularityDaily, Days: elapsed}
	case model.Range1Y:
		return Plan{Granularity: model.GranularityDaily, Days: 365}
	case model.Range5Y:
		return Plan{Granularity: model.GranularityDaily, Days: 1825}
	default:
		return Plan{Granularity: model.GranularityDaily, Days: 365}
	}
}

// daysSinceNewYear counts calendar days from January 1st, at least one
func (p Planner) daysSinceNewYear(now time.Time) int {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	days := now.In(loc).YearDay() - 1
	if days < 1 {
		days = 1
	}
	return days
}

package model

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Session is a named sub-interval of a trading day
type Session string

const (
	SessionPreMarket  Session = "pre-market"
	SessionRegular    Session = "regular"
	SessionAfterHours Session = "after-hours"
	SessionClosed     Session = "closed"
)

// Granularity is the bucket width of a price history fetch
type Granularity string

const (
	GranularityIntraday Granularity = "intraday"
	Granularity5Min     Granularity = "5min"
	Granularity10Min    Granularity = "10min"
	GranularityHourly   Granularity = "hourly"
	GranularityDaily    Granularity = "daily"
)

// Interval returns the bucket width. Intraday ticks are treated as 1-minute bars.
func (g Granularity) Interval() time.Duration {
	switch g {
	case Granularity5Min:
		return 5 * time.Minute
	case Granularity10Min:
		return 10 * time.Minute
	case GranularityHourly:
		return time.Hour
	case GranularityDaily:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// IsIntraday reports whether bars of this granularity fall inside a single day
func (g Granularity) IsIntraday() bool {
	return g != GranularityDaily
}

// Source tags where a series came from
type Source string

const (
	SourceDatabase Source = "database"
	SourceAPI      Source = "api"
	SourceMock     Source = "mock"
)

// TimeRange is a chart range selector
type TimeRange string

const (
	Range1D  TimeRange = "1D"
	Range1W  TimeRange = "1W"
	Range1M  TimeRange = "1M"
	Range3M  TimeRange = "3M"
	RangeYTD TimeRange = "YTD"
	Range1Y  TimeRange = "1Y"
	Range5Y  TimeRange = "5Y"
)

// AllRanges lists every supported range in display order
var AllRanges = []TimeRange{Range1D, Range1W, Range1M, Range3M, RangeYTD, Range1Y, Range5Y}

// ParseTimeRange parses a range selector case-insensitively
func ParseTimeRange(s string) (TimeRange, error) {
	r := TimeRange(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range AllRanges {
		if r == known {
			return r, nil
		}
	}
	return "", fmt.Errorf("unknown time range %q", s)
}

// PriceBar represents one unit of price history (OHLCV)
type PriceBar struct {
	Time    time.Time `json:"time"`
	Open    float64   `json:"open"`
	High    float64   `json:"high"`
	Low     float64   `json:"low"`
	Close   float64   `json:"close"`
	Volume  int64     `json:"volume"`
	Session Session   `json:"session,omitempty"`
}

// Valid checks the OHLC ordering invariant and that every price is a finite positive number
func (b PriceBar) Valid() bool {
	for _, p := range []float64{b.Open, b.High, b.Low, b.Close} {
		if !ValidPrice(p) {
			return false
		}
	}
	return b.Low <= math.Min(b.Open, b.Close) && math.Max(b.Open, b.Close) <= b.High
}

// ValidPrice reports whether p can be plotted
func ValidPrice(p float64) bool {
	return !math.IsNaN(p) && !math.IsInf(p, 0) && p > 0
}

// HistoryResult is a price history provider reply
type HistoryResult struct {
	Prices    []PriceBar  `json:"prices"`
	Source    Source      `json:"source"`
	Symbol    string      `json:"symbol"`
	Timeframe Granularity `json:"timeframe"`
	From      time.Time   `json:"from_date"`
	To        time.Time   `json:"to_date"`
}

// ChartSeries is an ordered run of bars for one ticker, granularity and range.
// A new series is built for every parameter change; existing ones are not mutated.
type ChartSeries struct {
	ID          string      `json:"id"`
	Ticker      string      `json:"ticker"`
	Range       TimeRange   `json:"range"`
	Granularity Granularity `json:"granularity"`
	Source      Source      `json:"source"`
	Bars        []PriceBar  `json:"bars"`
	LoadedAt    time.Time   `json:"loaded_at"`
}

// Len returns the number of bars
func (s *ChartSeries) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Bars)
}

// Last returns the final bar, if any
func (s *ChartSeries) Last() (PriceBar, bool) {
	if s.Len() == 0 {
		return PriceBar{}, false
	}
	return s.Bars[len(s.Bars)-1], true
}

// Clone returns a deep copy so callers can derive a new series without touching the original
func (s *ChartSeries) Clone() *ChartSeries {
	if s == nil {
		return nil
	}
	out := *s
	out.Bars = make([]PriceBar, len(s.Bars))
	copy(out.Bars, s.Bars)
	return &out
}

// LivePoint is the current quote at a moment in time
type LivePoint struct {
	Price float64   `json:"price"`
	Time  time.Time `json:"time"`
}

// Quote is a live quote snapshot
type Quote struct {
	Symbol             string    `json:"symbol"`
	CurrentPrice       float64   `json:"current_price"`
	PriceChange        float64   `json:"price_change"`
	PriceChangePercent float64   `json:"price_change_percent"`
	PreviousClose      float64   `json:"previous_close"`
	Time               time.Time `json:"time"`
}

// CatalystEvent is a market-moving event tied to a ticker
type CatalystEvent struct {
	ID             string     `json:"id"`
	Ticker         string     `json:"ticker"`
	Type           string     `json:"type"` // earnings, fda, product, ...
	ActualDateTime *time.Time `json:"actual_date_time,omitempty"`
	Title          string     `json:"title"`
	ImpactRating   int        `json:"impact_rating"`
}

// ChartPoint is a plotted value with an optional attached catalyst
type ChartPoint struct {
	Time     time.Time      `json:"time"`
	Value    float64        `json:"value"`
	Volume   int64          `json:"volume"`
	Session  Session        `json:"session,omitempty"`
	Catalyst *CatalystEvent `json:"catalyst,omitempty"`
}

// PointsFromBars turns bars into close-valued chart points
func PointsFromBars(bars []PriceBar) []ChartPoint {
	points := make([]ChartPoint, len(bars))
	for i, b := range bars {
		points[i] = ChartPoint{
			Time:    b.Time,
			Value:   b.Close,
			Volume:  b.Volume,
			Session: b.Session,
		}
	}
	return points
}

// ScreenPoint is a point in drawing coordinates
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PathSegment is the run of screen points belonging to one session
type PathSegment struct {
	Session Session       `json:"session"`
	Points  []ScreenPoint `json:"points"`
}

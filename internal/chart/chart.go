// Package chart maps chart points to screen space and answers the renderer's
// session questions: which run is which session, where the regular session
// starts and ends, which point is under the cursor.
package chart

import (
	"math"
	"sort"

	"chartcore/internal/market"
	"chartcore/pkg/model"
)

// Layout is the drawing area in pixels
type Layout struct {
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	PadTop    float64 `json:"pad_top"`
	PadBottom float64 `json:"pad_bottom"`
}

// DefaultLayout is the full-size chart
func DefaultLayout() Layout {
	return Layout{Width: 800, Height: 300, PadTop: 12, PadBottom: 12}
}

// Project maps points to screen coordinates. Intraday points are placed by
// time across the extended session of ctx; others are spaced by index. Values
// scale linearly between the series min (bottom) and max (top).
func (l Layout) Project(points []model.ChartPoint, ctx market.TradingDayContext, intraday bool) []model.ScreenPoint {
	n := len(points)
	if n == 0 {
		return nil
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, p := range points {
		lo = math.Min(lo, p.Value)
		hi = math.Max(hi, p.Value)
	}
	plotHeight := l.Height - l.PadTop - l.PadBottom
	if plotHeight < 0 {
		plotHeight = 0
	}

	y := func(v float64) float64 {
		if hi == lo {
			return l.PadTop + plotHeight/2
		}
		return l.PadTop + (hi-v)/(hi-lo)*plotHeight
	}

	out := make([]model.ScreenPoint, n)
	for i, p := range points {
		var x float64
		switch {
		case intraday:
			x = l.TimeX(p.Time.Sub(ctx.Extended.Open).Seconds(), ctx.Extended.Close.Sub(ctx.Extended.Open).Seconds())
		case n == 1:
			x = l.Width / 2
		default:
			x = float64(i) * l.Width / float64(n-1)
		}
		out[i] = model.ScreenPoint{X: x, Y: y(p.Value)}
	}
	return out
}

// TimeX places offset seconds of a span of total seconds across the width
func (l Layout) TimeX(offset, total float64) float64 {
	if total <= 0 {
		return 0
	}
	x := offset / total * l.Width
	return math.Min(math.Max(x, 0), l.Width)
}

// SplitBySession cuts screen points into runs of consecutive equal sessions.
// Untagged points (daily series) count as regular.
func SplitBySession(points []model.ChartPoint, screen []model.ScreenPoint) []model.PathSegment {
	n := min(len(points), len(screen))
	var segs []model.PathSegment
	for i := 0; i < n; i++ {
		s := points[i].Session
		if s == "" {
			s = model.SessionRegular
		}
		if k := len(segs); k > 0 && segs[k-1].Session == s {
			segs[k-1].Points = append(segs[k-1].Points, screen[i])
			continue
		}
		segs = append(segs, model.PathSegment{Session: s, Points: []model.ScreenPoint{screen[i]}})
	}
	return segs
}

// Opacity is the stroke opacity of a session's segment
func Opacity(s model.Session) float64 {
	switch s {
	case model.SessionRegular, "":
		return 1.0
	case model.SessionPreMarket, model.SessionAfterHours:
		return 0.45
	default:
		return 0.3
	}
}

// Boundaries are the x positions of the regular session edges, used as clip
// rectangles for the extended-hours shading
type Boundaries struct {
	RegularOpenX  float64 `json:"regular_open_x"`
	RegularCloseX float64 `json:"regular_close_x"`
}

// SessionBoundaries locates the regular open and close on an intraday chart
func (l Layout) SessionBoundaries(ctx market.TradingDayContext) Boundaries {
	total := ctx.Extended.Close.Sub(ctx.Extended.Open).Seconds()
	return Boundaries{
		RegularOpenX:  l.TimeX(ctx.Regular.Open.Sub(ctx.Extended.Open).Seconds(), total),
		RegularCloseX: l.TimeX(ctx.Regular.Close.Sub(ctx.Extended.Open).Seconds(), total),
	}
}

// NearestIndex returns the index of the screen point closest to x, or -1.
// screen must be sorted by X.
func NearestIndex(screen []model.ScreenPoint, x float64) int {
	n := len(screen)
	if n == 0 {
		return -1
	}
	i := sort.Search(n, func(i int) bool { return screen[i].X >= x })
	switch {
	case i == 0:
		return 0
	case i == n:
		return n - 1
	case x-screen[i-1].X <= screen[i].X-x:
		return i - 1
	default:
		return i
	}
}

// Period is the label shown for the current session
type Period struct {
	Session model.Session `json:"session"`
	Label   string        `json:"label"`
	IsOpen  bool          `json:"is_open"`
}

// CurrentPeriod describes a classification for display
func CurrentPeriod(c market.Classification) Period {
	p := Period{Session: c.Session}
	switch c.Session {
	case model.SessionPreMarket:
		p.Label = "Pre-Market"
	case model.SessionRegular:
		p.Label = "Market Open"
		p.IsOpen = true
	case model.SessionAfterHours:
		p.Label = "After Hours"
	default:
		p.Label = "Market Closed"
		if c.Context.IsHoliday {
			p.Label = "Market Closed (Holiday)"
		}
	}
	return p
}

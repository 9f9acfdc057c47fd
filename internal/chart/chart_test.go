package chart

import (
	"math"
	"testing"
	"time"

	"chartcore/internal/market"
	"chartcore/pkg/model"
)

var et = market.ETLocation()

func etTime(hh, mm int) time.Time {
	return time.Date(2026, 10, 14, hh, mm, 0, 0, et)
}

func TestProjectIntradayByTime(t *testing.T) {
	s := market.DefaultSchedule()
	ctx := market.NewTradingDayContext(nil, etTime(12, 0), s)
	l := Layout{Width: 1600, Height: 100}

	points := []model.ChartPoint{
		{Time: etTime(4, 0), Value: 10},
		{Time: etTime(12, 0), Value: 20},
		{Time: etTime(20, 0), Value: 15},
	}
	screen := l.Project(points, ctx, true)

	// Extended day is 16 hours: 04:00 -> 0, 12:00 -> half, 20:00 -> full width
	wantX := []float64{0, 800, 1600}
	for i, want := range wantX {
		if math.Abs(screen[i].X-want) > 1e-9 {
			t.Errorf("point %d x = %v, want %v", i, screen[i].X, want)
		}
	}
	if screen[0].Y != 100 || screen[1].Y != 0 || screen[2].Y != 50 {
		t.Errorf("unexpected y values %v %v %v", screen[0].Y, screen[1].Y, screen[2].Y)
	}
}

func TestProjectByIndexAndFlat(t *testing.T) {
	l := Layout{Width: 300, Height: 120, PadTop: 10, PadBottom: 10}
	points := []model.ChartPoint{{Value: 5}, {Value: 5}, {Value: 5}, {Value: 5}}

	screen := l.Project(points, market.TradingDayContext{}, false)
	for i, p := range screen {
		if p.X != float64(i)*100 {
			t.Errorf("point %d x = %v", i, p.X)
		}
		if p.Y != 60 {
			t.Errorf("flat series should sit mid-plot, got y=%v", p.Y)
		}
	}

	if one := l.Project(points[:1], market.TradingDayContext{}, false); one[0].X != 150 {
		t.Errorf("single point should be centred, got %v", one[0].X)
	}
	if l.Project(nil, market.TradingDayContext{}, false) != nil {
		t.Error("no points should project to nil")
	}
}

func TestSplitBySession(t *testing.T) {
	points := []model.ChartPoint{
		{Session: model.SessionPreMarket},
		{Session: model.SessionPreMarket},
		{Session: model.SessionRegular},
		{Session: model.SessionAfterHours},
		{Session: model.SessionAfterHours},
	}
	screen := make([]model.ScreenPoint, len(points))
	for i := range screen {
		screen[i] = model.ScreenPoint{X: float64(i)}
	}

	segs := SplitBySession(points, screen)
	if len(segs) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(segs))
	}
	wantLens := []int{2, 1, 2}
	wantSessions := []model.Session{model.SessionPreMarket, model.SessionRegular, model.SessionAfterHours}
	for i := range segs {
		if len(segs[i].Points) != wantLens[i] || segs[i].Session != wantSessions[i] {
			t.Errorf("segment %d = %s with %d points", i, segs[i].Session, len(segs[i].Points))
		}
	}

	daily := SplitBySession([]model.ChartPoint{{}, {}}, screen[:2])
	if len(daily) != 1 || daily[0].Session != model.SessionRegular {
		t.Errorf("untagged points should form one regular run, got %+v", daily)
	}
}

func TestOpacity(t *testing.T) {
	tests := map[model.Session]float64{
		model.SessionRegular:    1.0,
		model.SessionPreMarket:  0.45,
		model.SessionAfterHours: 0.45,
		model.SessionClosed:     0.3,
	}
	for s, want := range tests {
		if got := Opacity(s); got != want {
			t.Errorf("Opacity(%s) = %v, want %v", s, got, want)
		}
	}
}

func TestSessionBoundaries(t *testing.T) {
	ctx := market.NewTradingDayContext(nil, etTime(12, 0), market.DefaultSchedule())
	b := Layout{Width: 960}.SessionBoundaries(ctx)

	// 09:30 is 5.5h into the 16h extended day, 16:00 is 12h in
	if math.Abs(b.RegularOpenX-330) > 1e-9 || math.Abs(b.RegularCloseX-720) > 1e-9 {
		t.Errorf("boundaries = %+v, want open 330 close 720", b)
	}
}

func TestNearestIndex(t *testing.T) {
	screen := []model.ScreenPoint{{X: 0}, {X: 10}, {X: 20}, {X: 30}}
	tests := []struct {
		x    float64
		want int
	}{
		{-5, 0},
		{4, 0},
		{5, 0}, // tie goes left
		{6, 1},
		{19.9, 2},
		{100, 3},
	}
	for _, tt := range tests {
		if got := NearestIndex(screen, tt.x); got != tt.want {
			t.Errorf("NearestIndex(%v) = %d, want %d", tt.x, got, tt.want)
		}
	}
	if NearestIndex(nil, 1) != -1 {
		t.Error("empty screen should return -1")
	}
}

func TestCurrentPeriod(t *testing.T) {
	s := market.DefaultSchedule()
	bars := []model.PriceBar{{Time: etTime(10, 0)}}

	open := CurrentPeriod(market.ClassifySession(etTime(11, 0), bars, s, false))
	if !open.IsOpen || open.Label != "Market Open" {
		t.Errorf("unexpected period %+v", open)
	}

	holiday := CurrentPeriod(market.ClassifySession(etTime(11, 0), bars, s, true))
	if holiday.IsOpen || holiday.Session != model.SessionClosed || holiday.Label != "Market Closed (Holiday)" {
		t.Errorf("unexpected holiday period %+v", holiday)
	}

	pre := CurrentPeriod(market.ClassifySession(etTime(9, 0), bars, s, false))
	if pre.Label != "Pre-Market" {
		t.Errorf("unexpected pre-market period %+v", pre)
	}
}

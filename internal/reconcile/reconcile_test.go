package reconcile

import (
	"errors"
	"math"
	"reflect"
	"testing"
	"time"

	"chartcore/internal/clock"
	"chartcore/internal/market"
	"chartcore/pkg/model"
)

var et = market.ETLocation()

func etTime(d, hh, mm int) time.Time {
	return time.Date(2026, 10, d, hh, mm, 0, 0, et)
}

// Monday 2026-10-12 and Tuesday 2026-10-13 daily closes
func monTueSeries() *model.ChartSeries {
	return &model.ChartSeries{
		Ticker:      "AAPL",
		Range:       model.Range1M,
		Granularity: model.GranularityDaily,
		Bars: []model.PriceBar{
			{Time: etTime(12, 0, 0), Open: 99, High: 101, Low: 98, Close: 100, Volume: 1000},
			{Time: etTime(13, 0, 0), Open: 100, High: 103, Low: 99, Close: 102, Volume: 1200},
		},
	}
}

func reconcilerAt(now time.Time) *Reconciler {
	return New(clock.Fixed(now), market.DefaultSchedule(), nil)
}

func TestReconcileWednesdayPreMarketDoesNotAppend(t *testing.T) {
	// 09:00 rather than 10:00: pre-market ends at the 09:30 regular open
	r := reconcilerAt(etTime(14, 9, 0))

	out, err := r.Reconcile(monTueSeries(), model.LivePoint{Price: 101, Time: etTime(14, 9, 0)}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 2 {
		t.Fatalf("expected no appended point before the open, got %d bars", out.Len())
	}
	if last, _ := out.Last(); last.Close != 102 {
		t.Errorf("last close = %v, want Tuesday's 102", last.Close)
	}
}

func TestReconcileWednesdayRegularAppends(t *testing.T) {
	now := etTime(14, 11, 0)
	r := reconcilerAt(now)

	out, action, err := r.Apply(monTueSeries(), model.LivePoint{Price: 101, Time: now}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if action != ActionAppended || out.Len() != 3 {
		t.Fatalf("expected appended point, got %s with %d bars", action, out.Len())
	}
	last, _ := out.Last()
	want := model.PriceBar{Time: now, Open: 101, High: 101, Low: 101, Close: 101, Volume: 0, Session: model.SessionRegular}
	if !reflect.DeepEqual(last, want) {
		t.Errorf("synthetic bar = %+v, want %+v", last, want)
	}
}

func TestReconcileWeekendNoAppend(t *testing.T) {
	s := monTueSeries()
	s.Bars = append(s.Bars, model.PriceBar{Time: etTime(16, 0, 0), Open: 102, High: 104, Low: 101, Close: 103, Volume: 900})

	for _, now := range []time.Time{etTime(17, 11, 0), etTime(18, 15, 0)} {
		out, err := reconcilerAt(now).Reconcile(s, model.LivePoint{Price: 110, Time: now}, Options{})
		if err != nil {
			t.Fatal(err)
		}
		if out.Len() != 3 {
			t.Errorf("%s: appended a weekend point", now.Weekday())
		}
		if last, _ := out.Last(); last.Close != 103 {
			t.Errorf("%s: Friday close changed to %v", now.Weekday(), last.Close)
		}
	}
}

func TestReconcileHolidayNoAppend(t *testing.T) {
	now := etTime(14, 11, 0)
	out, err := reconcilerAt(now).Reconcile(monTueSeries(), model.LivePoint{Price: 101}, Options{Holiday: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Len() != 2 {
		t.Errorf("appended a point on a holiday")
	}
}

func TestReconcileSameDayIntradayKeepsTimestamp(t *testing.T) {
	bucket := etTime(14, 10, 55)
	s := &model.ChartSeries{
		Ticker:      "AAPL",
		Granularity: model.GranularityIntraday,
		Bars: []model.PriceBar{
			{Time: etTime(14, 10, 50), Open: 100, High: 100.5, Low: 99.8, Close: 100.2, Volume: 10},
			{Time: bucket, Open: 100.2, High: 100.4, Low: 100.1, Close: 100.3, Volume: 12},
		},
	}
	now := etTime(14, 10, 57)

	out, action, err := reconcilerAt(now).Apply(s, model.LivePoint{Price: 100.9, Time: now}, Options{Intraday: true})
	if err != nil {
		t.Fatal(err)
	}
	last, _ := out.Last()
	if action != ActionReplaced || out.Len() != 2 {
		t.Fatalf("expected replacement, got %s with %d bars", action, out.Len())
	}
	if !last.Time.Equal(bucket) {
		t.Errorf("intraday timestamp moved to %v, want %v", last.Time, bucket)
	}
	if last.Close != 100.9 || last.High != 100.9 {
		t.Errorf("close/high not updated: %+v", last)
	}
	if !last.Valid() {
		t.Errorf("reconciled bar violates OHLC ordering: %+v", last)
	}
	if s.Bars[1].Close != 100.3 {
		t.Error("input series was mutated")
	}
}

func TestReconcileSingleDayPreviousDayNoAppend(t *testing.T) {
	s := &model.ChartSeries{
		Ticker:      "AAPL",
		Granularity: model.GranularityIntraday,
		Bars: []model.PriceBar{
			{Time: etTime(13, 15, 50), Open: 100, High: 100.5, Low: 99.8, Close: 100.2, Volume: 10},
			{Time: etTime(13, 15, 55), Open: 100.2, High: 100.4, Low: 100.1, Close: 100.3, Volume: 12},
		},
	}
	now := etTime(14, 11, 0)

	out, action, err := reconcilerAt(now).Apply(s, model.LivePoint{Price: 105, Time: now}, Options{Intraday: true, SingleDay: true})
	if err != nil {
		t.Fatal(err)
	}
	if action != ActionNone || out.Len() != 2 {
		t.Errorf("expected no append to a previous-day intraday series, got %s with %d bars", action, out.Len())
	}
}

func TestReconcileSameDayDailyAdvancesTimestamp(t *testing.T) {
	s := monTueSeries()
	now := etTime(13, 14, 30)

	out, err := reconcilerAt(now).Reconcile(s, model.LivePoint{Price: 97, Time: now}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	last, _ := out.Last()
	if !last.Time.Equal(now) {
		t.Errorf("daily timestamp = %v, want now %v", last.Time, now)
	}
	if last.Close != 97 || last.Low != 97 {
		t.Errorf("expected close and widened low of 97, got %+v", last)
	}
}

func TestReconcileIdempotent(t *testing.T) {
	tests := []struct {
		name string
		now  time.Time
		opts Options
	}{
		{"append", etTime(14, 11, 0), Options{}},
		{"replace daily", etTime(13, 11, 0), Options{}},
		{"replace intraday", etTime(13, 11, 0), Options{Intraday: true}},
		{"pre-market", etTime(14, 9, 0), Options{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := reconcilerAt(tt.now)
			live := model.LivePoint{Price: 101, Time: tt.now}
			in := monTueSeries()

			once, err := r.Reconcile(in, live, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			again, err := r.Reconcile(in, live, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(once, again) {
				t.Errorf("repeated calls differ:\n%+v\n%+v", once, again)
			}

			// Feeding the output back must not add another synthetic point
			twice, err := r.Reconcile(once, live, tt.opts)
			if err != nil {
				t.Fatal(err)
			}
			if twice.Len() != once.Len() {
				t.Errorf("re-render grew the series from %d to %d bars", once.Len(), twice.Len())
			}
		})
	}
}

func TestReconcileRejectsInvalidPrice(t *testing.T) {
	r := reconcilerAt(etTime(14, 11, 0))
	for _, p := range []float64{math.NaN(), math.Inf(1), 0, -5} {
		out, err := r.Reconcile(monTueSeries(), model.LivePoint{Price: p}, Options{})
		if !errors.Is(err, ErrInvalidPrice) {
			t.Errorf("price %v: expected ErrInvalidPrice, got %v", p, err)
		}
		if out != nil {
			t.Errorf("price %v: expected nil series on rejection", p)
		}
	}
}

func TestReconcileEmptySeries(t *testing.T) {
	r := reconcilerAt(etTime(14, 11, 0))
	out, err := r.Reconcile(&model.ChartSeries{Ticker: "AAPL"}, model.LivePoint{Price: 1}, Options{})
	if err != nil || out.Len() != 0 {
		t.Errorf("empty series: got %+v, %v", out, err)
	}
}

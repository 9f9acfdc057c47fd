package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"chartcore/internal/clock"
	"chartcore/pkg/model"
)

func et(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, ETLocation())
}

func barAt(t time.Time, close float64) model.PriceBar {
	return model.PriceBar{Time: t, Open: close, High: close, Low: close, Close: close}
}

func TestSessionOf(t *testing.T) {
	s := DefaultSchedule()

	tests := []struct {
		name string
		at   time.Time
		want model.Session
	}{
		{"overnight", et(2026, 10, 14, 3, 59), model.SessionClosed},
		{"pre-market start", et(2026, 10, 14, 4, 0), model.SessionPreMarket},
		{"just before open", et(2026, 10, 14, 9, 29), model.SessionPreMarket},
		{"open", et(2026, 10, 14, 9, 30), model.SessionRegular},
		{"midday", et(2026, 10, 14, 12, 0), model.SessionRegular},
		{"close", et(2026, 10, 14, 16, 0), model.SessionAfterHours},
		{"late after-hours", et(2026, 10, 14, 19, 59), model.SessionAfterHours},
		{"evening", et(2026, 10, 14, 20, 0), model.SessionClosed},
		{"saturday midday", et(2026, 10, 17, 12, 0), model.SessionClosed},
		{"utc input", time.Date(2026, 10, 14, 14, 0, 0, 0, time.UTC), model.SessionRegular},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.SessionOf(tt.at); got != tt.want {
				t.Errorf("SessionOf(%s) = %s, want %s", tt.at, got, tt.want)
			}
		})
	}
}

func TestClassifySessionTotality(t *testing.T) {
	s := DefaultSchedule()
	bars := []model.PriceBar{barAt(et(2026, 10, 14, 10, 0), 100)}
	valid := map[model.Session]bool{
		model.SessionPreMarket:  true,
		model.SessionRegular:    true,
		model.SessionAfterHours: true,
		model.SessionClosed:     true,
	}

	start := et(2026, 10, 12, 0, 0)
	for now := start; now.Before(start.AddDate(0, 0, 7)); now = now.Add(7 * time.Minute) {
		for _, holiday := range []bool{false, true} {
			c := ClassifySession(now, bars, s, holiday)
			if !valid[c.Session] {
				t.Fatalf("ClassifySession(%s) returned unknown session %q", now, c.Session)
			}
		}
	}
}

func TestClassifySessionWeekendAlwaysClosed(t *testing.T) {
	s := DefaultSchedule()
	saturdayBars := []model.PriceBar{barAt(et(2026, 10, 17, 11, 0), 100)}

	for h := 0; h < 24; h++ {
		now := et(2026, 10, 17, h, 15)
		c := ClassifySession(now, saturdayBars, s, false)
		if c.Session != model.SessionClosed {
			t.Errorf("weekend %02d:15 classified as %s, want closed", h, c.Session)
		}
		if !c.Context.IsWeekend {
			t.Errorf("weekend context not flagged at %02d:15", h)
		}
	}
}

func TestClassifySessionHistoricalIsClosed(t *testing.T) {
	s := DefaultSchedule()
	friday := []model.PriceBar{barAt(et(2026, 10, 16, 15, 55), 100)}

	// Monday 11:00 is regular hours on the wall clock, but the data is Friday's
	c := ClassifySession(et(2026, 10, 19, 11, 0), friday, s, false)
	if c.Session != model.SessionClosed {
		t.Errorf("historical day classified as %s, want closed", c.Session)
	}
	if !c.Context.IsHistorical {
		t.Error("expected IsHistorical")
	}
	if !c.Context.Day.Equal(et(2026, 10, 16, 0, 0)) {
		t.Errorf("context day = %s, want 2026-10-16", c.Context.Day)
	}
}

func TestClassifySessionUsesBarDay(t *testing.T) {
	s := DefaultSchedule()
	bars := []model.PriceBar{
		barAt(et(2026, 10, 14, 9, 30), 100),
		barAt(et(2026, 10, 14, 10, 30), 101),
	}

	c := ClassifySession(et(2026, 10, 14, 10, 45), bars, s, false)
	if c.Session != model.SessionRegular {
		t.Errorf("session = %s, want regular", c.Session)
	}
	if want := et(2026, 10, 14, 9, 30); !c.Context.Regular.Open.Equal(want) {
		t.Errorf("regular open = %s, want %s", c.Context.Regular.Open, want)
	}
	if want := et(2026, 10, 14, 20, 0); !c.Context.Extended.Close.Equal(want) {
		t.Errorf("extended close = %s, want %s", c.Context.Extended.Close, want)
	}

	if got := ClassifySession(et(2026, 10, 14, 10, 45), bars, s, true).Session; got != model.SessionClosed {
		t.Errorf("holiday session = %s, want closed", got)
	}
}

func TestClassifySessionEmptyFallsBackToNow(t *testing.T) {
	s := DefaultSchedule()
	now := et(2026, 10, 14, 8, 0)

	c := ClassifySession(now, nil, s, false)
	if c.Session != model.SessionPreMarket {
		t.Errorf("session = %s, want pre-market", c.Session)
	}
	if c.Context.IsHistorical {
		t.Error("empty data should not be historical")
	}
}

func TestParseSchedule(t *testing.T) {
	s, err := ParseSchedule("America/New_York", "08:00", "09:30", "16:00", "20:00")
	if err != nil {
		t.Fatalf("ParseSchedule: %v", err)
	}
	if s.PreOpen != (TimeOfDay{Hour: 8}) {
		t.Errorf("PreOpen = %v", s.PreOpen)
	}

	if _, err := ParseSchedule("", "10:00", "09:30", "16:00", "20:00"); err == nil {
		t.Error("expected ordering error")
	}
	if _, err := ParseSchedule("", "4am", "09:30", "16:00", "20:00"); err == nil {
		t.Error("expected parse error")
	}
	if _, err := ParseSchedule("Mars/Olympus", "04:00", "09:30", "16:00", "20:00"); err == nil {
		t.Error("expected timezone error")
	}
}

func TestStaticHolidays(t *testing.T) {
	h := NewStaticHolidays(ETLocation(), "2026-10-14")
	ctx := context.Background()

	tests := []struct {
		day  time.Time
		want bool
	}{
		{et(2026, 11, 26, 12, 0), true},  // Thanksgiving
		{et(2026, 7, 3, 9, 0), true},     // Independence Day observed
		{et(2027, 6, 18, 9, 0), true},    // Juneteenth observed
		{et(2026, 10, 14, 9, 0), true},   // extra
		{et(2026, 10, 13, 9, 0), false},  // ordinary Tuesday
		{et(2026, 10, 17, 12, 0), false}, // weekend is not a holiday
	}
	for _, tt := range tests {
		got, err := h.IsHoliday(ctx, tt.day)
		if err != nil {
			t.Fatalf("IsHoliday: %v", err)
		}
		if got != tt.want {
			t.Errorf("IsHoliday(%s) = %v, want %v", tt.day.Format("2006-01-02"), got, tt.want)
		}
	}
}

type failingLookup struct{}

func (failingLookup) IsHoliday(context.Context, time.Time) (bool, error) {
	return true, errors.New("calendar down")
}

func TestIsTodayHolidaySwallowsErrors(t *testing.T) {
	clk := clock.Fixed(et(2026, 11, 26, 12, 0))
	if IsTodayHoliday(context.Background(), failingLookup{}, clk, nil) {
		t.Error("failed lookup should count as not a holiday")
	}
	if !IsTodayHoliday(context.Background(), NewStaticHolidays(nil), clk, nil) {
		t.Error("Thanksgiving should be a holiday")
	}
	if IsTodayHoliday(context.Background(), nil, clk, nil) {
		t.Error("nil lookup should count as not a holiday")
	}
}

func TestAlpacaCalendar(t *testing.T) {
	calls := 0
	cal := newAlpacaCalendar(func(start, end time.Time) ([]string, error) {
		calls++
		if start.Day() != 1 || end.Month() != start.Month() {
			t.Errorf("unexpected fetch window %s..%s", start, end)
		}
		// November 2026 trading days except Thanksgiving
		var dates []string
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday || d.Day() == 26 {
				continue
			}
			dates = append(dates, d.Format("2006-01-02"))
		}
		return dates, nil
	}, ETLocation())

	ctx := context.Background()
	if h, err := cal.IsHoliday(ctx, et(2026, 11, 26, 10, 0)); err != nil || !h {
		t.Errorf("Thanksgiving: holiday=%v err=%v", h, err)
	}
	if h, err := cal.IsHoliday(ctx, et(2026, 11, 25, 10, 0)); err != nil || h {
		t.Errorf("Nov 25: holiday=%v err=%v", h, err)
	}
	if h, _ := cal.IsHoliday(ctx, et(2026, 11, 28, 10, 0)); h {
		t.Error("Saturday reported as holiday")
	}
	if calls != 1 {
		t.Errorf("calendar fetched %d times, want 1 (month cached)", calls)
	}
}

func TestAlpacaCalendarFetchError(t *testing.T) {
	cal := newAlpacaCalendar(func(start, end time.Time) ([]string, error) {
		return nil, errors.New("unauthorized")
	}, ETLocation())
	if _, err := cal.IsHoliday(context.Background(), et(2026, 11, 25, 10, 0)); err == nil {
		t.Error("expected fetch error")
	}
}

func TestGetMarketStatus(t *testing.T) {
	s := DefaultSchedule()

	tests := []struct {
		name     string
		now      time.Time
		holiday  bool
		reason   string
		open     bool
		nextOpen time.Time
	}{
		{"pre-market", et(2026, 10, 14, 8, 0), false, "pre-market", false, et(2026, 10, 14, 9, 30)},
		{"regular", et(2026, 10, 14, 11, 0), false, "open", true, et(2026, 10, 15, 9, 30)},
		{"after-hours friday", et(2026, 10, 16, 17, 0), false, "after-hours", false, et(2026, 10, 19, 9, 30)},
		{"saturday", et(2026, 10, 17, 12, 0), false, "weekend", false, et(2026, 10, 19, 9, 30)},
		{"holiday", et(2026, 11, 26, 11, 0), true, "holiday", false, et(2026, 11, 27, 9, 30)},
		{"wednesday before thanksgiving", et(2026, 11, 25, 17, 0), false, "after-hours", false, et(2026, 11, 27, 9, 30)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := GetMarketStatus(tt.now, s, tt.holiday)
			if st.Reason != tt.reason {
				t.Errorf("Reason = %s, want %s", st.Reason, tt.reason)
			}
			if st.IsOpen != tt.open {
				t.Errorf("IsOpen = %v, want %v", st.IsOpen, tt.open)
			}
			if !st.NextOpen.Equal(tt.nextOpen) {
				t.Errorf("NextOpen = %s, want %s", st.NextOpen, tt.nextOpen)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{45 * time.Minute, "45m"},
		{3*time.Hour + 5*time.Minute, "3h 5m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.d); got != tt.want {
			t.Errorf("FormatDuration(%s) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

type fixedClose struct {
	price float64
	calls int
}

func (f *fixedClose) GetMarketClosePrice(context.Context, string) (float64, bool, error) {
	f.calls++
	return f.price, true, nil
}

func TestWatcherRefreshAndSubscribe(t *testing.T) {
	closes := &fixedClose{price: 187.5}
	w := NewWatcher(WatcherOptions{
		Schedule: DefaultSchedule(),
		Clock:    clock.Fixed(et(2026, 10, 14, 17, 30)),
		Holidays: NewStaticHolidays(nil),
		Closes:   closes,
		Ticker:   "AAPL",
		Interval: time.Hour,
	})

	id, ch := w.Subscribe(1)
	st := w.Refresh(context.Background())
	if st.Session != model.SessionAfterHours {
		t.Errorf("Session = %s, want after-hours", st.Session)
	}
	if st.ClosePrice != 187.5 || closes.calls != 1 {
		t.Errorf("ClosePrice = %v (calls %d), want 187.5 fetched once", st.ClosePrice, closes.calls)
	}

	select {
	case got := <-ch:
		if got.Reason != "after-hours" {
			t.Errorf("published reason = %s", got.Reason)
		}
	default:
		t.Fatal("subscriber did not receive status")
	}

	w.Unsubscribe(id)
	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
}

func TestWatcherSkipsClosePriceDuringRegular(t *testing.T) {
	closes := &fixedClose{price: 100}
	w := NewWatcher(WatcherOptions{
		Schedule: DefaultSchedule(),
		Clock:    clock.Fixed(et(2026, 10, 14, 11, 0)),
		Closes:   closes,
		Ticker:   "AAPL",
	})
	st := w.Refresh(context.Background())
	if closes.calls != 0 || st.ClosePrice != 0 {
		t.Errorf("close price fetched during regular session (calls=%d)", closes.calls)
	}
	if w.Current().Reason != "open" {
		t.Errorf("Current().Reason = %s, want open", w.Current().Reason)
	}
}

func TestWatcherStartStop(t *testing.T) {
	w := NewWatcher(WatcherOptions{
		Schedule: DefaultSchedule(),
		Clock:    clock.Fixed(et(2026, 10, 14, 11, 0)),
		Interval: time.Hour,
	})
	_, ch := w.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := <-ch; got.Reason != "open" {
		t.Errorf("initial refresh reason = %s", got.Reason)
	}

	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				w.Stop() // second call is a no-op
				return
			}
		case <-deadline:
			t.Fatal("subscription not closed after context cancel")
		}
	}
}

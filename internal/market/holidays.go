package market

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"chartcore/internal/clock"
)

// HolidayLookup reports whether the exchange is closed for a full weekday
type HolidayLookup interface {
	IsHoliday(ctx context.Context, day time.Time) (bool, error)
}

// NYSE full-day closures
var nyseHolidays = []string{
	"2024-01-01", // New Year's Day
	"2024-01-15", // MLK Day
	"2024-02-19", // Presidents Day
	"2024-03-29", // Good Friday
	"2024-05-27", // Memorial Day
	"2024-06-19", // Juneteenth
	"2024-07-04", // Independence Day
	"2024-09-02", // Labor Day
	"2024-11-28", // Thanksgiving
	"2024-12-25", // Christmas

	"2025-01-01", // New Year's Day
	"2025-01-09", // National Day of Mourning (Carter)
	"2025-01-20", // MLK Day
	"2025-02-17", // Presidents Day
	"2025-04-18", // Good Friday
	"2025-05-26", // Memorial Day
	"2025-06-19", // Juneteenth
	"2025-07-04", // Independence Day
	"2025-09-01", // Labor Day
	"2025-11-27", // Thanksgiving
	"2025-12-25", // Christmas

	"2026-01-01", // New Year's Day
	"2026-01-19", // MLK Day
	"2026-02-16", // Presidents Day
	"2026-04-03", // Good Friday
	"2026-05-25", // Memorial Day
	"2026-06-19", // Juneteenth
	"2026-07-03", // Independence Day (observed)
	"2026-09-07", // Labor Day
	"2026-11-26", // Thanksgiving
	"2026-12-25", // Christmas

	"2027-01-01", // New Year's Day
	"2027-01-18", // MLK Day
	"2027-02-15", // Presidents Day
	"2027-03-26", // Good Friday
	"2027-05-31", // Memorial Day
	"2027-06-18", // Juneteenth (observed)
	"2027-07-05", // Independence Day (observed)
	"2027-09-06", // Labor Day
	"2027-11-25", // Thanksgiving
	"2027-12-24", // Christmas (observed)
}

// StaticHolidays is a HolidayLookup over a fixed date table
type StaticHolidays struct {
	loc   *time.Location
	dates map[string]struct{}
}

// NewStaticHolidays builds the NYSE table, plus any extra "2006-01-02" dates
func NewStaticHolidays(loc *time.Location, extra ...string) *StaticHolidays {
	if loc == nil {
		loc = ETLocation()
	}
	h := &StaticHolidays{loc: loc, dates: make(map[string]struct{}, len(nyseHolidays)+len(extra))}
	for _, d := range nyseHolidays {
		h.dates[d] = struct{}{}
	}
	for _, d := range extra {
		h.dates[d] = struct{}{}
	}
	return h
}

// Contains reports whether t's calendar day is in the table
func (h *StaticHolidays) Contains(t time.Time) bool {
	_, ok := h.dates[t.In(h.loc).Format("2006-01-02")]
	return ok
}

// IsHoliday implements HolidayLookup
func (h *StaticHolidays) IsHoliday(_ context.Context, day time.Time) (bool, error) {
	return h.Contains(day), nil
}

// IsTodayHoliday asks lookup about the current day. Lookup failures count as
// "not a holiday" so a flaky calendar never blocks a chart render.
func IsTodayHoliday(ctx context.Context, lookup HolidayLookup, clk clock.Clock, logger *slog.Logger) bool {
	if lookup == nil {
		return false
	}
	holiday, err := lookup.IsHoliday(ctx, clock.OrSystem(clk).Now())
	if err != nil {
		if logger != nil {
			logger.Warn("holiday lookup failed", "error", err)
		}
		return false
	}
	return holiday
}

// calendarFetch returns the trading dates ("2006-01-02") between start and end
type calendarFetch func(start, end time.Time) ([]string, error)

// AlpacaCalendar is a HolidayLookup backed by the Alpaca trading calendar.
// A weekday missing from the calendar is a holiday. Months are cached.
type AlpacaCalendar struct {
	fetch  calendarFetch
	loc    *time.Location
	mu     sync.Mutex
	months map[string]map[string]bool
}

// NewAlpacaCalendar creates a calendar client for the given credentials
func NewAlpacaCalendar(apiKey, apiSecret, baseURL string) *AlpacaCalendar {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return newAlpacaCalendar(func(start, end time.Time) ([]string, error) {
		days, err := client.GetCalendar(alpaca.GetCalendarRequest{
			Start: start,
			End:   end,
		})
		if err != nil {
			return nil, fmt.Errorf("GetCalendar: %w", err)
		}
		dates := make([]string, 0, len(days))
		for _, d := range days {
			dates = append(dates, d.Date)
		}
		return dates, nil
	}, ETLocation())
}

func newAlpacaCalendar(fetch calendarFetch, loc *time.Location) *AlpacaCalendar {
	return &AlpacaCalendar{
		fetch:  fetch,
		loc:    loc,
		months: make(map[string]map[string]bool),
	}
}

// IsHoliday implements HolidayLookup. Weekends are not holidays.
func (c *AlpacaCalendar) IsHoliday(ctx context.Context, day time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	local := day.In(c.loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false, nil
	}

	monthKey := local.Format("2006-01")
	c.mu.Lock()
	trading, ok := c.months[monthKey]
	c.mu.Unlock()

	if !ok {
		start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, c.loc)
		end := start.AddDate(0, 1, -1)
		dates, err := c.fetch(start, end)
		if err != nil {
			return false, err
		}
		if len(dates) == 0 {
			// calendar not published for this month yet
			return false, nil
		}
		trading = make(map[string]bool, len(dates))
		for _, d := range dates {
			trading[d] = true
		}
		c.mu.Lock()
		c.months[monthKey] = trading
		c.mu.Unlock()
	}

	return !trading[local.Format("2006-01-02")], nil
}

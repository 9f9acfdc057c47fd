package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chartcore/internal/clock"
	"chartcore/pkg/model"
)

func newTestFinnhub(t *testing.T, mux *http.ServeMux) *FinnhubProvider {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	et, _ := time.LoadLocation("America/New_York")
	now := time.Date(2026, 10, 14, 12, 0, 0, 0, et)
	p := NewFinnhubProvider("test-key", 60, clock.Fixed(now), et)
	p.baseURL = srv.URL
	return p
}

func TestFinnhubAvailability(t *testing.T) {
	if NewFinnhubProvider("", 60, nil, nil).IsAvailable() {
		t.Error("provider without API key should be unavailable")
	}
}

func TestFinnhubHistoricalPrices(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stock/candle", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("token") != "test-key" || q.Get("symbol") != "MSFT" || q.Get("resolution") != "60" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		// Deliberately out of order
		w.Write([]byte(`{"s":"ok","t":[1791036000,1791032400],"o":[2,1],"h":[2.5,1.5],"l":[1.5,0.5],"c":[2.2,1.2],"v":[20,10]}`))
	})
	p := newTestFinnhub(t, mux)

	res, err := p.GetHistoricalPrices(context.Background(), "msft", model.GranularityHourly, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Prices) != 2 || res.Prices[0].Close != 1.2 {
		t.Errorf("expected 2 ascending bars, got %+v", res.Prices)
	}
}

func TestFinnhubDailyBarsKeepTradingDate(t *testing.T) {
	mon := time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC).Unix()
	wed := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC).Unix()
	mux := http.NewServeMux()
	mux.HandleFunc("/stock/candle", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"s":"ok","t":[%d,%d],"o":[1,1.5],"h":[1.2,1.8],"l":[0.9,1.4],"c":[1.1,1.6],"v":[100,200]}`, mon, wed)
	})
	p := newTestFinnhub(t, mux)

	res, err := p.GetHistoricalPrices(context.Background(), "MSFT", model.GranularityDaily, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Prices) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(res.Prices))
	}
	et, _ := time.LoadLocation("America/New_York")
	for i, want := range []time.Weekday{time.Monday, time.Wednesday} {
		got := res.Prices[i].Time.In(et)
		if got.Weekday() != want || got.Hour() != 0 {
			t.Errorf("bar %d at %s, want %s 00:00 ET", i, got.Format("Mon 2006-01-02 15:04"), want)
		}
	}
}

func TestFinnhubNoData(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/stock/candle", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"s":"no_data"}`))
	})
	p := newTestFinnhub(t, mux)

	if _, err := p.GetHistoricalPrices(context.Background(), "MSFT", model.GranularityDaily, 30); err == nil {
		t.Error("expected error for no_data status")
	}
}

func TestFinnhubQuote(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"c":410.5,"d":2.5,"dp":0.6127,"pc":408,"t":1791057600}`))
	})
	p := newTestFinnhub(t, mux)

	q, err := p.GetQuote(context.Background(), "MSFT")
	if err != nil {
		t.Fatal(err)
	}
	if q.CurrentPrice != 410.5 || q.PreviousClose != 408 || q.PriceChange != 2.5 {
		t.Errorf("unexpected quote %+v", q)
	}
}

func TestFinnhubQuoteUnknownSymbol(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/quote", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"c":0,"d":null,"dp":null,"pc":0,"t":0}`))
	})
	p := newTestFinnhub(t, mux)

	if _, err := p.GetQuote(context.Background(), "ZZZZ"); err == nil {
		t.Error("expected error for zero quote")
	}
}

func TestFinnhubEarningsEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/calendar/earnings", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"earningsCalendar":[
			{"date":"2026-10-13","hour":"amc","symbol":"MSFT","quarter":1,"year":2027},
			{"date":"bad-date","hour":"bmo","symbol":"MSFT"}
		]}`))
	})
	p := newTestFinnhub(t, mux)

	events, err := p.GetEventsByTicker(context.Background(), "MSFT")
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Type != "earnings" || e.ActualDateTime == nil {
		t.Fatalf("unexpected event %+v", e)
	}
	if got := e.ActualDateTime.Format("15:04"); got != "16:05" {
		t.Errorf("after-close earnings at %s, want 16:05", got)
	}
}

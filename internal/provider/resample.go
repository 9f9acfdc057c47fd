package provider

import (
	"sort"
	"time"

	"chartcore/pkg/model"
)

// Resample rolls finer bars up into g buckets. Daily buckets follow the calendar
// day in loc; shorter buckets are aligned to the epoch.
func Resample(bars []model.PriceBar, g model.Granularity, loc *time.Location) []model.PriceBar {
	if len(bars) == 0 {
		return nil
	}
	if loc == nil {
		loc = time.UTC
	}

	sorted := make([]model.PriceBar, len(bars))
	copy(sorted, bars)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Time.Before(sorted[j].Time)
	})

	bucketOf := func(t time.Time) time.Time {
		if g == model.GranularityDaily {
			local := t.In(loc)
			return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
		}
		return t.Truncate(g.Interval())
	}

	var out []model.PriceBar
	for _, b := range sorted {
		start := bucketOf(b.Time)
		if n := len(out); n > 0 && out[n-1].Time.Equal(start) {
			cur := &out[n-1]
			if b.High > cur.High {
				cur.High = b.High
			}
			if b.Low < cur.Low {
				cur.Low = b.Low
			}
			cur.Close = b.Close
			cur.Volume += b.Volume
			continue
		}
		out = append(out, model.PriceBar{
			Time:   start,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		})
	}
	return out
}

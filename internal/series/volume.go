package series

import (
	"time"

	"chartcore/pkg/model"
)

// MergeDailyVolume fills zero-volume daily bars with the summed hourly volume
// of the same calendar day in loc. Non-zero volumes are never touched. The
// input slices are not modified.
func MergeDailyVolume(daily, hourly []model.PriceBar, loc *time.Location) []model.PriceBar {
	if loc == nil {
		loc = time.UTC
	}

	out := make([]model.PriceBar, len(daily))
	copy(out, daily)
	if len(hourly) == 0 {
		return out
	}

	perDay := make(map[string]int64)
	for _, h := range hourly {
		perDay[dayKey(h.Time, loc)] += h.Volume
	}

	for i := range out {
		if out[i].Volume != 0 {
			continue
		}
		if v, ok := perDay[dayKey(out[i].Time, loc)]; ok {
			out[i].Volume = v
		}
	}
	return out
}

func dayKey(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02")
}

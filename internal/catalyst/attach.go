// Package catalyst pins market-moving events onto chart points.
package catalyst

import (
	"sort"
	"time"

	"chartcore/pkg/model"
)

// MatchWindowDays is how many calendar days an event may sit from its point
const MatchWindowDays = 1

// Attach returns a copy of points where each point carries at most one event
// and each event is used at most once. Points are visited chronologically and
// take the first eligible event in list order whose date is within
// MatchWindowDays of the point's date. Events without a time, in the future
// of now, or outside the series' calendar span are ignored.
func Attach(points []model.ChartPoint, events []model.CatalystEvent, now time.Time, loc *time.Location) []model.ChartPoint {
	if loc == nil {
		loc = time.UTC
	}
	out := make([]model.ChartPoint, len(points))
	copy(out, points)
	for i := range out {
		out[i].Catalyst = nil
	}
	if len(out) == 0 || len(events) == 0 {
		return out
	}

	order := make([]int, len(out))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return out[order[a]].Time.Before(out[order[b]].Time)
	})

	firstDay := civilDay(out[order[0]].Time, loc)
	lastDay := civilDay(out[order[len(order)-1]].Time, loc)

	eligible := make([]int, 0, len(events))
	for i, e := range events {
		if e.ActualDateTime == nil || e.ActualDateTime.After(now) {
			continue
		}
		d := civilDay(*e.ActualDateTime, loc)
		if d < firstDay || d > lastDay {
			continue
		}
		eligible = append(eligible, i)
	}

	matched := make(map[int]bool, len(eligible))
	for _, pi := range order {
		pd := civilDay(out[pi].Time, loc)
		for _, ei := range eligible {
			if matched[ei] {
				continue
			}
			diff := civilDay(*events[ei].ActualDateTime, loc) - pd
			if diff < -MatchWindowDays || diff > MatchWindowDays {
				continue
			}
			e := events[ei]
			out[pi].Catalyst = &e
			matched[ei] = true
			break
		}
	}
	return out
}

// civilDay numbers calendar days in loc, unaffected by DST length changes
func civilDay(t time.Time, loc *time.Location) int64 {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC).Unix() / 86400
}

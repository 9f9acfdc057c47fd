// Package spline turns screen points into smooth SVG path data.
package spline

import (
	"math"
	"strconv"
	"strings"

	"chartcore/pkg/model"
)

const (
	SparseTension = 0.2
	DenseTension  = 0.4
)

// TensionFor picks the curve tension from the point count. Sparse series
// (n <= threshold) get the lower tension.
func TensionFor(n, threshold int) float64 {
	if n <= threshold {
		return SparseTension
	}
	return DenseTension
}

// SegmentPath is the path data of one session run
type SegmentPath struct {
	Session model.Session     `json:"session"`
	D       string            `json:"d"`
	Start   model.ScreenPoint `json:"start"`
	End     model.ScreenPoint `json:"end"`
}

// Path is the full chart line
type Path struct {
	D        string        `json:"d"`
	Segments []SegmentPath `json:"segments"`
}

// BuildPath smooths each segment on its own. Every non-empty segment after
// the first is prefixed with the previous non-empty segment's last point so
// the line has no gap at session changes. Empty segments are skipped.
func BuildPath(segments []model.PathSegment, tension float64) Path {
	var (
		p       Path
		parts   []string
		prev    model.ScreenPoint
		hasPrev bool
	)

	for _, seg := range segments {
		if len(seg.Points) == 0 {
			continue
		}
		pts := seg.Points
		if hasPrev {
			pts = make([]model.ScreenPoint, 0, len(seg.Points)+1)
			pts = append(pts, prev)
			pts = append(pts, seg.Points...)
		}

		d := Segment(pts, tension)
		p.Segments = append(p.Segments, SegmentPath{
			Session: seg.Session,
			D:       d,
			Start:   pts[0],
			End:     pts[len(pts)-1],
		})
		parts = append(parts, d)

		prev = pts[len(pts)-1]
		hasPrev = true
	}

	p.D = strings.Join(parts, " ")
	return p
}

// Segment renders points as "M" followed by cubic Bézier curves derived from
// a Catmull-Rom spline. Control points are clamped to each span's bounding
// box so the curve never overshoots its endpoints. 0 points yield "", 1 point
// yields a lone move-to.
func Segment(points []model.ScreenPoint, tension float64) string {
	switch len(points) {
	case 0:
		return ""
	case 1:
		return "M " + pair(points[0])
	}

	var b strings.Builder
	b.WriteString("M ")
	b.WriteString(pair(points[0]))

	k := tension / 2
	n := len(points)
	for i := 0; i < n-1; i++ {
		p0 := points[max(i-1, 0)]
		p1 := points[i]
		p2 := points[i+1]
		p3 := points[min(i+2, n-1)]

		c1 := model.ScreenPoint{X: p1.X + (p2.X-p0.X)*k, Y: p1.Y + (p2.Y-p0.Y)*k}
		c2 := model.ScreenPoint{X: p2.X - (p3.X-p1.X)*k, Y: p2.Y - (p3.Y-p1.Y)*k}
		c1 = clamp(c1, p1, p2)
		c2 = clamp(c2, p1, p2)

		b.WriteString(" C ")
		b.WriteString(pair(c1))
		b.WriteString(" ")
		b.WriteString(pair(c2))
		b.WriteString(" ")
		b.WriteString(pair(p2))
	}
	return b.String()
}

func clamp(c, a, b model.ScreenPoint) model.ScreenPoint {
	c.X = math.Min(math.Max(c.X, math.Min(a.X, b.X)), math.Max(a.X, b.X))
	c.Y = math.Min(math.Max(c.Y, math.Min(a.Y, b.Y)), math.Max(a.Y, b.Y))
	return c
}

func pair(p model.ScreenPoint) string {
	return num(p.X) + " " + num(p.Y)
}

func num(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// Endpoints returns the first and last coordinates of path data
func Endpoints(d string) (start, end model.ScreenPoint, ok bool) {
	fields := strings.Fields(d)
	var nums []float64
	for _, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			continue
		}
		nums = append(nums, v)
	}
	if len(nums) < 2 {
		return model.ScreenPoint{}, model.ScreenPoint{}, false
	}
	start = model.ScreenPoint{X: nums[0], Y: nums[1]}
	end = model.ScreenPoint{X: nums[len(nums)-2], Y: nums[len(nums)-1]}
	return start, end, true
}

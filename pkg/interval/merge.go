package interval

import (
	"slices"
	"time"
)

// Merge returns the union of intervals as a start-ordered list of disjoint
// intervals. Touching intervals are joined. A merged interval keeps the
// end, and so the end display, of whichever input reached furthest.
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := slices.Clone(intervals)
	slices.SortStableFunc(sorted, func(a, b Interval) int {
		return a.start.Compare(b.start)
	})

	merged := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &merged[len(merged)-1]
		if iv.start.After(last.end) {
			merged = append(merged, iv)
			continue
		}
		if iv.end.After(last.end) {
			last.end = iv.end
		}
	}
	return merged
}

// Subtract removes every blocking interval from every requested interval.
// Blockers need not be merged. Boundaries introduced by a blocker are
// displayed in the zone of the requested interval they cut.
func Subtract(requested, blocking []Interval) []Interval {
	var out []Interval
	for _, req := range requested {
		loc := req.start.Location()
		working := []Interval{req}
		for _, b := range blocking {
			var next []Interval
			for _, iv := range working {
				if !iv.Overlaps(b) {
					next = append(next, iv)
					continue
				}
				if iv.start.Before(b.start) {
					next = append(next, Interval{start: iv.start, end: b.start.In(loc)})
				}
				if b.end.Before(iv.end) {
					next = append(next, Interval{start: b.end.In(loc), end: iv.end})
				}
			}
			working = next
			if len(working) == 0 {
				break
			}
		}
		out = append(out, working...)
	}
	return out
}

// After returns the intervals that end strictly after t.
func After(intervals []Interval, t time.Time) []Interval {
	var out []Interval
	for _, iv := range intervals {
		if iv.end.After(t) {
			out = append(out, iv)
		}
	}
	return out
}

package slots

import (
	"sort"
	"time"
)

// Interval is a half-open time range [Start, End).
type Interval struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (iv Interval) Valid() bool {
	return iv.End.After(iv.Start)
}

// Overlaps reports whether the half-open intervals intersect.
func (iv Interval) Overlaps(other Interval) bool {
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Contains reports whether other lies entirely inside iv.
func (iv Interval) Contains(other Interval) bool {
	return !other.Start.Before(iv.Start) && !other.End.After(iv.End)
}

// Merge unions the given intervals: sorts them, drops invalid ones, and merges
// overlapping or touching neighbours.
func Merge(in []Interval) []Interval {
	var valid []Interval
	for _, iv := range in {
		if iv.Valid() {
			valid = append(valid, iv)
		}
	}
	if len(valid) == 0 {
		return nil
	}

	sort.Slice(valid, func(i, j int) bool {
		if valid[i].Start.Equal(valid[j].Start) {
			return valid[i].End.Before(valid[j].End)
		}
		return valid[i].Start.Before(valid[j].Start)
	})

	merged := []Interval{valid[0]}
	for _, cur := range valid[1:] {
		last := &merged[len(merged)-1]
		if cur.Start.After(last.End) {
			merged = append(merged, cur)
			continue
		}
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}
	return merged
}

// Subtract removes the blocked intervals from base, returning the free
// sub-intervals in order. Blocks are clipped to base first, so partial
// overlaps truncate rather than removing the whole interval, and adjacent
// blocks leave no false gap between them.
func Subtract(base Interval, blocked []Interval) []Interval {
	if !base.Valid() {
		return nil
	}

	var clipped []Interval
	for _, b := range blocked {
		if !b.Overlaps(base) {
			continue
		}
		if b.Start.Before(base.Start) {
			b.Start = base.Start
		}
		if b.End.After(base.End) {
			b.End = base.End
		}
		if b.Valid() {
			clipped = append(clipped, b)
		}
	}
	if len(clipped) == 0 {
		return []Interval{base}
	}

	var free []Interval
	cursor := base.Start
	for _, b := range Merge(clipped) {
		if b.Start.After(cursor) {
			free = append(free, Interval{Start: cursor, End: b.Start})
		}
		if b.End.After(cursor) {
			cursor = b.End
		}
	}
	if base.End.After(cursor) {
		free = append(free, Interval{Start: cursor, End: base.End})
	}
	return free
}

// Slice cuts a free interval into consecutive slots of exactly duration. Slot
// starts lie on the granularity grid anchored at gridAnchor (local midnight);
// each next slot begins where the previous ended, rounded up to the grid. A
// free interval shorter than duration yields nothing; a slot whose end would
// pass the interval's end is discarded.
func Slice(free Interval, duration, granularity time.Duration, gridAnchor time.Time) []Interval {
	if duration <= 0 || granularity <= 0 || !free.Valid() {
		return nil
	}

	start := alignUp(free.Start, granularity, gridAnchor)
	var out []Interval
	for !start.Add(duration).After(free.End) {
		out = append(out, Interval{Start: start, End: start.Add(duration)})
		start = alignUp(start.Add(duration), granularity, gridAnchor)
	}
	return out
}

// alignUp rounds t up to the next grid point at or after it.
func alignUp(t time.Time, granularity time.Duration, anchor time.Time) time.Time {
	offset := t.Sub(anchor)
	if offset%granularity == 0 {
		return t
	}
	steps := offset / granularity
	if offset > 0 {
		steps++
	}
	return anchor.Add(steps * granularity)
}

package resplit

import (
	"math"
	"sort"
	"time"
)

// Interval is one on-screen span.
type Interval struct {
	Start time.Duration
	End   time.Duration
}

func (i Interval) Duration() time.Duration {
	return i.End - i.Start
}

// Timeline is a run of contiguous intervals cut from one original entry.
type Timeline []Interval

// Duration is the summed length of all intervals.
func (t Timeline) Duration() time.Duration {
	var total time.Duration
	for _, iv := range t {
		total += iv.Duration()
	}
	return total
}

// Allocate divides [start, end) into len(weights) contiguous intervals
// proportional to weights. A unit whose share falls below floor is pinned to
// floor and the rest of the interval is shared out again among the others,
// until no share is short. When the floors alone do not fit, every unit gets
// the same length. Shares are rounded to whole milliseconds by largest
// remainder so they add up to exactly end-start.
func Allocate(start, end time.Duration, weights []int, floor time.Duration) Timeline {
	n := len(weights)
	if n == 0 {
		return nil
	}
	if end <= start {
		out := make(Timeline, n)
		for i := range out {
			out[i] = Interval{Start: start, End: start}
		}
		return out
	}

	totalMS := int64((end - start) / time.Millisecond)
	floorMS := float64(max(floor, 0) / time.Millisecond)

	var shares []float64
	if floorMS*float64(n) > float64(totalMS) {
		shares = make([]float64, n)
		for i := range shares {
			shares[i] = float64(totalMS) / float64(n)
		}
	} else {
		shares = floorShares(weights, float64(totalMS), floorMS)
	}

	durations := largestRemainder(shares, totalMS)

	out := make(Timeline, n)
	cursor := start
	for i, ms := range durations {
		next := cursor + time.Duration(ms)*time.Millisecond
		if i == n-1 {
			// sub-millisecond remainder of the original interval, if any
			next = end
		}
		out[i] = Interval{Start: cursor, End: next}
		cursor = next
	}
	return out
}

// proportional shares with every short unit pinned at floor; the caller
// guarantees that n floors fit in total
func floorShares(weights []int, total, floor float64) []float64 {
	n := len(weights)
	shares := make([]float64, n)
	pinned := make([]bool, n)
	for {
		free := total
		weightSum, open := 0, 0
		for i, w := range weights {
			if pinned[i] {
				free -= floor
				continue
			}
			open++
			weightSum += max(w, 0)
		}

		short := false
		for i, w := range weights {
			if pinned[i] {
				shares[i] = floor
				continue
			}
			share := free / float64(open)
			if weightSum > 0 {
				share = free * float64(max(w, 0)) / float64(weightSum)
			}
			shares[i] = share
			if share < floor {
				pinned[i] = true
				short = true
			}
		}
		if !short {
			return shares
		}
	}
}

// rounds shares down and hands the missing units to the largest fractional
// parts, earlier shares first on ties
func largestRemainder(shares []float64, total int64) []int64 {
	out := make([]int64, len(shares))
	var assigned int64
	order := make([]int, len(shares))
	for i, share := range shares {
		whole := math.Floor(share)
		out[i] = int64(whole)
		assigned += out[i]
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		fa := shares[order[a]] - math.Floor(shares[order[a]])
		fb := shares[order[b]] - math.Floor(shares[order[b]])
		return fa > fb
	})

	for k := 0; assigned < total; k++ {
		out[order[k%len(order)]]++
		assigned++
	}
	return out
}

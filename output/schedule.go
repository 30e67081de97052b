// Package output schedules and emits run artifacts: gridded field dumps,
// summary statistics and resumable checkpoints. The Manager implements the
// driver's output sink contract; writers do the actual emission.
package output

import (
	"fmt"
	"math"
	"sort"

	"github.com/orogenlabs/terramorph/core"
)

// Schedule decides when a run emits output. It is either interval-based
// (triggers at every positive multiple of the interval) or an explicit
// sorted list of trigger times. The schedule owns a cursor of the next
// unfired trigger, so a trigger fires at most once even when several fall
// inside one iteration's window.
type Schedule struct {
	interval float64
	next     float64 // next interval trigger; NaN until the first Due call
	times    []float64
	cursor   int
}

// NewIntervalSchedule triggers at every positive multiple of interval.
func NewIntervalSchedule(interval float64) (*Schedule, error) {
	if interval <= 0 || math.IsInf(interval, 0) || math.IsNaN(interval) {
		return nil, fmt.Errorf("%w: output interval %v", core.ErrInvalidParameter, interval)
	}
	return &Schedule{interval: interval, next: math.NaN()}, nil
}

// NewTimesSchedule triggers at each of the given model times, sorted
// ascending. Duplicates collapse to a single trigger.
func NewTimesSchedule(times []float64) (*Schedule, error) {
	if len(times) == 0 {
		return nil, fmt.Errorf("%w: empty output times", core.ErrInvalidParameter)
	}
	sorted := append([]float64(nil), times...)
	sort.Float64s(sorted)
	out := sorted[:0]
	for i, t := range sorted {
		if math.IsInf(t, 0) || math.IsNaN(t) {
			return nil, fmt.Errorf("%w: output time %v", core.ErrInvalidParameter, t)
		}
		if i > 0 && t == sorted[i-1] {
			continue
		}
		out = append(out, t)
	}
	return &Schedule{times: out, next: math.NaN()}, nil
}

// Due reports whether at least one trigger lies in (prev, now]. Firing
// advances the cursor past now, so no trigger ever fires twice; triggers
// at or before prev are consumed silently, which lets a schedule join a
// resumed run mid-way.
func (s *Schedule) Due(prev, now float64) bool {
	if s == nil {
		return false
	}
	if s.interval > 0 {
		if math.IsNaN(s.next) {
			s.next = nextMultipleAfter(s.interval, prev)
		}
		if s.next <= now+tol(now) {
			s.next = nextMultipleAfter(s.interval, now)
			return true
		}
		return false
	}

	due := false
	for s.cursor < len(s.times) {
		t := s.times[s.cursor]
		if t <= prev+tol(prev) {
			s.cursor++
			continue
		}
		if t <= now+tol(now) {
			due = true
			s.cursor++
			continue
		}
		break
	}
	return due
}

// nextMultipleAfter returns the smallest positive multiple of interval
// strictly greater than t (within tolerance).
func nextMultipleAfter(interval, t float64) float64 {
	k := math.Floor(t/interval + 1e-9)
	next := (k + 1) * interval
	for next <= t+tol(t) {
		next += interval
	}
	return next
}

func tol(t float64) float64 {
	return 1e-9 * math.Max(1, math.Abs(t))
}

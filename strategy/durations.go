package strategy

import (
	"math"
	"sort"
	"time"
)

const defHistorySize = 10

// durationHistory keeps a rolling window of observed fit durations per
// client, feeding the dynamic timeout estimate and importance
// sampling. It belongs to exactly one strategy instance.
type durationHistory struct {
	size     int
	byClient map[string][]time.Duration
}

func newDurationHistory(size int) *durationHistory {
	if size <= 0 {
		size = defHistorySize
	}

	return &durationHistory{size: size, byClient: make(map[string][]time.Duration)}
}

func (h *durationHistory) Observe(clientID string, d time.Duration) {
	window := append(h.byClient[clientID], d)
	if len(window) > h.size {
		window = window[len(window)-h.size:]
	}
	h.byClient[clientID] = window
}

// Mean returns the mean observed duration for one client, false when
// nothing was recorded yet.
func (h *durationHistory) Mean(clientID string) (time.Duration, bool) {
	window := h.byClient[clientID]
	if len(window) == 0 {
		return 0, false
	}
	var sum time.Duration
	for _, d := range window {
		sum += d
	}

	return sum / time.Duration(len(window)), true
}

// Candidates returns every recorded duration capped at max.
func (h *durationHistory) Candidates(max time.Duration) []time.Duration {
	var out []time.Duration
	for _, window := range h.byClient {
		for _, d := range window {
			if d > max {
				d = max
			}
			out = append(out, d)
		}
	}

	return out
}

// percentile picks the nearest-rank p-th percentile of ds.
func percentile(ds []time.Duration, p float64) time.Duration {
	if len(ds) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(ds))
	copy(sorted, ds)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	rank := int(math.Ceil(float64(len(sorted))*p)) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}

	return sorted[rank]
}

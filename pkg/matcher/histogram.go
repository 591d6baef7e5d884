package matcher

import "math"

// DefaultBinSize is the bin width of similarity distributions.
const DefaultBinSize = 0.01

// Histogram counts similarities in equal-width bins over [0,1].
type Histogram struct {
	BinSize float64 `json:"bin_size"`
	Counts  []int   `json:"counts"`
}

// NewHistogram bins the similarities. Unknown (negative) similarities are
// skipped.
func NewHistogram(similarities []float64, binSize float64) *Histogram {
	if binSize <= 0 {
		binSize = DefaultBinSize
	}
	h := &Histogram{BinSize: binSize, Counts: make([]int, int(math.Round(1/binSize)))}
	for _, s := range similarities {
		if s < 0 {
			continue
		}
		h.Counts[h.index(s)]++
	}
	return h
}

func (h *Histogram) index(similarity float64) int {
	// the epsilon keeps bin bounds like 0.58 out of the previous bin
	i := int(math.Floor(similarity/h.BinSize + 1e-9))
	return max(0, min(i, len(h.Counts)-1))
}

// Total returns the number of binned similarities.
func (h *Histogram) Total() int {
	n := 0
	for _, c := range h.Counts {
		n += c
	}
	return n
}

// GridPoints returns the lower bounds of the non-empty bins, ascending.
func (h *Histogram) GridPoints() []float64 {
	var points []float64
	for i, c := range h.Counts {
		if c > 0 {
			points = append(points, math.Round(float64(i)*h.BinSize*1e6)/1e6)
		}
	}
	return points
}

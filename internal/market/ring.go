package market

import (
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// speedSample is one (time, tradable edge) observation used to derive a
// symbol's spread speed and volatility.
type speedSample struct {
	at   time.Time
	edge float64
}

// speedRing tracks the last few tradable-edge observations per symbol so the
// scanner can report how fast the edge is moving and how noisy it is.
type speedRing struct {
	samples []speedSample
	cap     int
}

func newSpeedRing(capacity int) *speedRing {
	if capacity < 2 {
		capacity = 2
	}
	return &speedRing{cap: capacity}
}

func (r *speedRing) push(at time.Time, edge decimal.Decimal) {
	v, _ := edge.Float64()
	r.samples = append(r.samples, speedSample{at: at, edge: v})
	if len(r.samples) > r.cap {
		r.samples = r.samples[len(r.samples)-r.cap:]
	}
}

// speedAndVolatility returns the per-second drift of the edge (in the units
// it was pushed in) between the oldest and newest sample and the population
// stdev of sample-to-sample deltas. Both are zero
// until at least two samples exist.
func (r *speedRing) speedAndVolatility() (speed, volatility decimal.Decimal, sampleCount int) {
	n := len(r.samples)
	if n < 2 {
		return decimal.Zero, decimal.Zero, n
	}

	first, last := r.samples[0], r.samples[n-1]
	dt := last.at.Sub(first.at).Seconds()
	var spd float64
	if dt > 0 {
		spd = (last.edge - first.edge) / dt
	}

	deltas := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		deltas = append(deltas, r.samples[i].edge-r.samples[i-1].edge)
	}
	var sum float64
	for _, d := range deltas {
		sum += d
	}
	mean := sum / float64(len(deltas))
	var sq float64
	for _, d := range deltas {
		diff := d - mean
		sq += diff * diff
	}
	vol := math.Sqrt(sq / float64(len(deltas)))

	return decimal.NewFromFloat(spd), decimal.NewFromFloat(vol), n
}

// Package spread implements the rolling spread statistics engine (C6): a
// bounded per-symbol ring of signed-edge samples, moving-average/standard
// deviation/z-score computation, and the mode-aware OPEN/CLOSE/HOLD signal
// generator with its batch schedule.
package spread

import (
	"math"
	"sync"
	"time"

	"arb-engine/pkg/types"

	"github.com/shopspring/decimal"
)

var (
	bps10000 = decimal.NewFromInt(10000)
	two      = decimal.NewFromInt(2)
)

// ring is a bounded, overwrite-oldest buffer of decimal samples.
type ring struct {
	buf  []decimal.Decimal
	head int
	size int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]decimal.Decimal, capacity)}
}

func (r *ring) push(v decimal.Decimal) {
	r.buf[r.head] = v
	r.head = (r.head + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// lastN returns the most recent n samples, oldest first. n is clamped to the
// number of samples actually held.
func (r *ring) lastN(n int) []decimal.Decimal {
	if n > r.size {
		n = r.size
	}
	out := make([]decimal.Decimal, n)
	// head points just past the most recently written slot.
	start := (r.head - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

// Engine owns one bounded ring per symbol and derives SpreadMetrics and
// SpreadSignal from it. Capacity per symbol is 2·max(ma_window, std_window).
type Engine struct {
	mu     sync.Mutex
	rings  map[string]*ring
	params map[string]types.StrategyParams
}

// New builds an empty engine. Per-symbol parameters are registered with
// Register before the first Update call.
func New() *Engine {
	return &Engine{
		rings:  make(map[string]*ring),
		params: make(map[string]types.StrategyParams),
	}
}

// Register installs or replaces the strategy parameters for symbol, sizing
// its ring to 2·max(ma_window, std_window).
func (e *Engine) Register(symbol string, p types.StrategyParams) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cap := p.MAWindow
	if p.StdWindow > cap {
		cap = p.StdWindow
	}
	e.rings[symbol] = newRing(2 * cap)
	e.params[symbol] = p
}

func toBps(x, baseMid decimal.Decimal) decimal.Decimal {
	if !baseMid.IsPositive() {
		return decimal.Zero
	}
	return x.Div(baseMid).Mul(bps10000)
}

// Update feeds one tick of both venues' BBOs, appends the signed edge to
// symbol's ring, and returns the resulting SpreadMetrics. Callers must have
// already confirmed both BBOs are Valid().
func (e *Engine) Update(symbol string, a, b types.BBO, now time.Time) types.SpreadMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.rings[symbol]
	if !ok {
		r = newRing(1)
		e.rings[symbol] = r
	}
	p := e.params[symbol]

	edgeAtoB := b.Bid.Sub(a.Ask)
	edgeBtoA := a.Bid.Sub(b.Ask)
	baseMid := a.Mid().Add(b.Mid()).Div(two)

	bpsAtoB := toBps(edgeAtoB, baseMid)
	bpsBtoA := toBps(edgeBtoA, baseMid)

	var signed decimal.Decimal
	if bpsAtoB.GreaterThanOrEqual(bpsBtoA) {
		signed = bpsAtoB
	} else {
		signed = bpsBtoA.Neg()
	}

	r.push(signed)

	nowMs := types.UtcMs(now)
	metrics := types.SpreadMetrics{
		Symbol:        symbol,
		EdgeAtoBBps:   bpsAtoB,
		EdgeBtoABps:   bpsBtoA,
		SignedEdgeBps: signed,
		TimestampMs:   nowMs,
	}

	minSamples := p.MinSamples
	if minSamples < 1 {
		minSamples = 1
	}
	if r.size < minSamples {
		metrics.MA = decimal.Zero
		metrics.Std = decimal.Zero
		metrics.ZScore = decimal.Zero
		return metrics
	}

	maSamples := r.lastN(p.MAWindow)
	stdSamples := r.lastN(p.StdWindow)

	ma := mean(maSamples)
	std := populationStdev(stdSamples, mean(stdSamples))

	var z decimal.Decimal
	if std.IsPositive() {
		z = signed.Sub(ma).Div(std)
	}

	metrics.MA = ma
	metrics.Std = std
	metrics.ZScore = z
	return metrics
}

func mean(samples []decimal.Decimal) decimal.Decimal {
	if len(samples) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, s := range samples {
		sum = sum.Add(s)
	}
	return sum.Div(decimal.NewFromInt(int64(len(samples))))
}

func populationStdev(samples []decimal.Decimal, mean decimal.Decimal) decimal.Decimal {
	if len(samples) == 0 {
		return decimal.Zero
	}
	sumSq := decimal.Zero
	for _, s := range samples {
		d := s.Sub(mean)
		sumSq = sumSq.Add(d.Mul(d))
	}
	variance := sumSq.Div(decimal.NewFromInt(int64(len(samples))))
	f, _ := variance.Float64()
	if f <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromFloat(math.Sqrt(f))
}

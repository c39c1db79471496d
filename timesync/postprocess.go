package timesync

import (
	"math"
	"sync"
)

// ProcessingFlags select which timestamp transformations an inlet
// applies to delivered samples.
type ProcessingFlags uint32

const (
	// ProcessNone delivers timestamps exactly as the producer stamped
	// them.
	ProcessNone ProcessingFlags = 0

	// ProcessClockSync maps timestamps into the local clock domain by
	// adding the current time correction.
	ProcessClockSync ProcessingFlags = 1 << 0

	// ProcessDejitter smooths transmission jitter out of the
	// timestamps of regularly sampled streams.
	ProcessDejitter ProcessingFlags = 1 << 1

	// ProcessMonotonize forces timestamps to be non-decreasing.
	ProcessMonotonize ProcessingFlags = 1 << 2

	// ProcessThreadSafe makes Process callable from multiple
	// goroutines at some throughput cost.
	ProcessThreadSafe ProcessingFlags = 1 << 3

	// ProcessAll enables every transformation.
	ProcessAll = ProcessClockSync | ProcessDejitter | ProcessMonotonize | ProcessThreadSafe
)

// dejitterHalftime is the forget halftime of the smoothing regression
// in seconds: observations this old carry half the weight of fresh
// ones.
const dejitterHalftime = 90.0

// Processor applies the selected transformations to a stream of
// timestamps, in order: clock sync, dejitter, monotonize.
//
// Dejittering fits a running least-squares line through the received
// timestamps, exploiting that a regularly sampled stream's true
// timestamps advance by exactly 1/rate. Irregular-rate streams have no
// such line, so the dejitter stage passes their timestamps through
// untouched.
type Processor struct {
	flags      ProcessingFlags
	srate      float64
	correction func() float64

	mu sync.Mutex

	// recursive least squares state
	initialized bool
	samples     float64
	base        float64
	w0, w1      float64
	p00, p01    float64
	p10, p11    float64
	lam         float64

	lastOut float64
	haveOut bool
}

// NewProcessor builds a processing chain. The correction callback
// supplies the current clock offset; it is only consulted when
// ProcessClockSync is set. A nominal rate of zero disables the
// dejitter stage.
func NewProcessor(flags ProcessingFlags, nominalRate float64, correction func() float64) *Processor {
	p := &Processor{
		flags:      flags,
		srate:      nominalRate,
		correction: correction,
	}
	if nominalRate > 0 {
		// Half the weight after 90 seconds worth of samples.
		p.lam = math.Pow(2, -1/(nominalRate*dejitterHalftime))
	}
	return p
}

// Flags returns the active transformations.
func (p *Processor) Flags() ProcessingFlags { return p.flags }

// Process maps one timestamp through the enabled transformations.
func (p *Processor) Process(ts float64) float64 {
	if p.flags&ProcessThreadSafe != 0 {
		p.mu.Lock()
		defer p.mu.Unlock()
	}

	if p.flags&ProcessClockSync != 0 {
		ts += p.correction()
	}
	if p.flags&ProcessDejitter != 0 && p.srate > 0 {
		ts = p.dejitter(ts)
	}
	if p.flags&ProcessMonotonize != 0 {
		if p.haveOut && ts < p.lastOut {
			ts = p.lastOut
		}
		p.lastOut = ts
		p.haveOut = true
	}
	return ts
}

// Reset discards the smoothing history. Called after a clock reset,
// when the old regression line no longer describes the stream.
func (p *Processor) Reset() {
	if p.flags&ProcessThreadSafe != 0 {
		p.mu.Lock()
		defer p.mu.Unlock()
	}
	p.initialized = false
	p.samples = 0
	p.haveOut = false
}

// dejitter runs one recursive-least-squares update fitting
// ts ≈ w0 + w1*n over the sample index n, and returns the fitted
// value.
func (p *Processor) dejitter(ts float64) float64 {
	if !p.initialized {
		p.initialized = true
		p.samples = 0
		p.base = ts
		p.w0 = 0
		p.w1 = 1 / p.srate
		p.p00, p.p01, p.p10, p.p11 = 1e10, 0, 0, 1e10
		return ts
	}

	p.samples++
	n := p.samples
	y := ts - p.base

	// prediction with current weights
	pred := p.w0 + p.w1*n
	e := y - pred

	// gain k = P*u / (lam + u'*P*u) with u = [1, n]
	pi0 := p.p00 + n*p.p01
	pi1 := p.p10 + n*p.p11
	denom := p.lam + pi0 + n*pi1
	k0 := (p.p00 + n*p.p10) / denom
	k1 := (p.p01 + n*p.p11) / denom

	p.w0 += k0 * e
	p.w1 += k1 * e

	// P = (P - k*pi') / lam
	p00 := (p.p00 - k0*pi0) / p.lam
	p01 := (p.p01 - k0*pi1) / p.lam
	p10 := (p.p10 - k1*pi0) / p.lam
	p11 := (p.p11 - k1*pi1) / p.lam
	p.p00, p.p01, p.p10, p.p11 = p00, p01, p10, p11

	return p.base + p.w0 + p.w1*n
}

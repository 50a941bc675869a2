package connection

import (
	"math"
	"math/rand/v2"
	"time"
)

// Policy spaces out rejoin attempts. The wait before attempt n (from 0) is
// Initial*Multiplier^n capped at Max, plus a random extra of up to Jitter
// times that base.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// DefaultPolicy starts at 250ms and doubles up to 10s with 25% jitter, so
// the clients of a restarted router spread their registrations.
var DefaultPolicy = Policy{
	Initial:    250 * time.Millisecond,
	Max:        10 * time.Second,
	Multiplier: 2,
	Jitter:     0.25,
}

// withDefaults fills unset or unusable fields from DefaultPolicy. Jitter
// is left alone: zero means none.
func (p Policy) withDefaults() Policy {
	if p.Initial <= 0 {
		p.Initial = DefaultPolicy.Initial
	}
	if p.Max < p.Initial {
		p.Max = max(DefaultPolicy.Max, p.Initial)
	}
	if p.Multiplier <= 1 {
		p.Multiplier = DefaultPolicy.Multiplier
	}
	p.Jitter = max(p.Jitter, 0)
	return p
}

// Base returns the wait before attempt n without jitter.
func (p Policy) Base(n int) time.Duration {
	p = p.withDefaults()
	d := float64(p.Initial) * math.Pow(p.Multiplier, float64(max(n, 0)))
	if d >= float64(p.Max) {
		return p.Max
	}
	return time.Duration(d)
}

// Wait returns the jittered wait before attempt n.
func (p Policy) Wait(n int) time.Duration {
	base := p.Base(n)
	j := p.withDefaults().Jitter
	if j == 0 {
		return base
	}
	return base + time.Duration(float64(base)*j*rand.Float64())
}

// Ramp lists the unjittered waits up to and including the first one at Max.
func (p Policy) Ramp() []time.Duration {
	p = p.withDefaults()
	var waits []time.Duration
	for n := 0; ; n++ {
		d := p.Base(n)
		waits = append(waits, d)
		if d == p.Max {
			return waits
		}
	}
}

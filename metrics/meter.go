package metrics

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// ewma implements an exponentially weighted moving average over fixed-size
// ticks, the same decay shape Unix load averages use. It backs Meter's
// Rate1/Rate5/Rate15 and has no callers outside this file, so it stays
// unexported rather than a general-purpose public primitive.
type ewma struct {
	alpha     float64
	uncounted atomic.Int64
	mu        sync.Mutex
	rate      float64
	init      bool
	interval  float64 // tick interval in seconds
}

func newEWMA(alpha float64) *ewma {
	return &ewma{alpha: alpha, interval: 5.0}
}

func newEWMA1() *ewma  { return newEWMA(1 - math.Exp(-5.0/60.0)) }
func newEWMA5() *ewma  { return newEWMA(1 - math.Exp(-5.0/300.0)) }
func newEWMA15() *ewma { return newEWMA(1 - math.Exp(-5.0/900.0)) }

// update adds n samples to the uncounted total.
func (e *ewma) update(n int64) {
	e.uncounted.Add(n)
}

// tick decays the rate and incorporates uncounted samples. Called at
// regular intervals (every 5 seconds) by Meter.tickIfNeeded.
func (e *ewma) tick() {
	count := e.uncounted.Swap(0)
	instantRate := float64(count) / e.interval

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.init {
		e.rate += e.alpha * (instantRate - e.rate)
	} else {
		e.rate = instantRate
		e.init = true
	}
}

// rateValue returns the current rate per second.
func (e *ewma) rateValue() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// Meter tracks the rate of events over time using 1-, 5-, and 15-minute
// exponentially weighted moving averages, similar to Unix load averages.
// The accumulator uses one Meter per instance to track completed-fetch
// throughput (see accumulator.Accumulator.meter).
type Meter struct {
	count     atomic.Int64
	rate1     *ewma
	rate5     *ewma
	rate15    *ewma
	startTime time.Time

	mu       sync.Mutex
	lastTick time.Time
}

// NewMeter creates a new Meter and initializes its start time.
func NewMeter() *Meter {
	now := time.Now()
	return &Meter{
		rate1:     newEWMA1(),
		rate5:     newEWMA5(),
		rate15:    newEWMA15(),
		startTime: now,
		lastTick:  now,
	}
}

// Mark records n events.
func (m *Meter) Mark(n int64) {
	m.count.Add(n)
	m.rate1.update(n)
	m.rate5.update(n)
	m.rate15.update(n)
	m.tickIfNeeded()
}

// tickIfNeeded ticks the EWMAs if 5 seconds have elapsed since the last tick.
func (m *Meter) tickIfNeeded() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(m.lastTick)
	for elapsed >= 5*time.Second {
		m.rate1.tick()
		m.rate5.tick()
		m.rate15.tick()
		m.lastTick = m.lastTick.Add(5 * time.Second)
		elapsed = now.Sub(m.lastTick)
	}
}

// Count returns the total number of events recorded.
func (m *Meter) Count() int64 {
	return m.count.Load()
}

// Rate1 returns the 1-minute EWMA rate per second.
func (m *Meter) Rate1() float64 {
	m.tickIfNeeded()
	return m.rate1.rateValue()
}

// Rate5 returns the 5-minute EWMA rate per second.
func (m *Meter) Rate5() float64 {
	m.tickIfNeeded()
	return m.rate5.rateValue()
}

// Rate15 returns the 15-minute EWMA rate per second.
func (m *Meter) Rate15() float64 {
	m.tickIfNeeded()
	return m.rate15.rateValue()
}

// RateMean returns the mean rate since the meter was created.
func (m *Meter) RateMean() float64 {
	elapsed := time.Since(m.startTime).Seconds()
	if elapsed == 0 {
		return 0
	}
	return float64(m.count.Load()) / elapsed
}

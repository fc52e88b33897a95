package tach

import (
	"sync/atomic"
	"time"

	"codeberg.org/frostwerk/icemanctl/internal/logger"
)

// RpmSample is produced once per window, consumed and discarded.
type RpmSample struct {
	Pulses uint64
	Window time.Duration
	RPM    float64
}

// Counter accumulates tachometer edges from the asynchronous edge
// watcher while the periodic sampler reads-and-resets it. The pulse
// count is the only state shared between the two contexts and is kept
// atomic so no pulse is lost or double counted.
type Counter struct {
	pulses        atomic.Uint64
	lastEdgeUs    atomic.Int64
	windowStartUs atomic.Int64

	pulsesPerRev float64
	debounce     time.Duration

	now func() time.Time
}

func NewCounter(pulsesPerRev int, debounce time.Duration) *Counter {
	c := &Counter{
		pulsesPerRev: float64(pulsesPerRev),
		debounce:     debounce,
		now:          time.Now,
	}
	c.windowStartUs.Store(c.now().UnixMicro())

	return c
}

// OnPulse is invoked from the edge watcher once per falling edge. Edges
// closer together than the debounce interval are electrical noise and
// are discarded.
func (c *Counter) OnPulse() {
	nowUs := c.now().UnixMicro()
	last := c.lastEdgeUs.Load()
	if nowUs-last < c.debounce.Microseconds() {
		return
	}

	c.lastEdgeUs.Store(nowUs)
	c.pulses.Add(1)
}

// SampleWindow atomically reads and resets the accumulated count for the
// just-elapsed window and converts it to RPM. Zero pulses is a valid
// zero-RPM sample.
func (c *Counter) SampleWindow() RpmSample {
	nowUs := c.now().UnixMicro()
	startUs := c.windowStartUs.Swap(nowUs)
	pulses := c.pulses.Swap(0)

	window := time.Duration(nowUs-startUs) * time.Microsecond

	var rpm float64
	if window > 0 && pulses > 0 {
		revsPerSec := float64(pulses) / c.pulsesPerRev / window.Seconds()
		rpm = revsPerSec * 60.0
	}

	sample := RpmSample{
		Pulses: pulses,
		Window: window,
		RPM:    rpm,
	}

	logger.Debug().
		Uint64("pulses", pulses).
		Dur("window", window).
		Float64("rpm", rpm).
		Msg("Tachometer window sampled")

	return sample
}

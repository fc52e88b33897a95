package hw

import (
	"context"
	"sync"
)

// Deterministic in-memory implementations of the capability interfaces,
// used by package tests and usable by downstream consumers for dry runs.

// FakePWM records every duty write so tests can assert on idempotency.
type FakePWM struct {
	mu     sync.Mutex
	Writes []int
	Err    error
	closed bool
}

func (f *FakePWM) SetDuty(percent int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.Err != nil {
		return f.Err
	}
	f.Writes = append(f.Writes, percent)

	return nil
}

func (f *FakePWM) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true

	return nil
}

func (f *FakePWM) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.closed
}

func (f *FakePWM) LastDuty() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.Writes) == 0 {
		return -1
	}

	return f.Writes[len(f.Writes)-1]
}

// FakeProbe replays a scripted sequence of payloads and errors, then
// repeats the last entry.
type FakeProbe struct {
	mu       sync.Mutex
	Payloads []string
	Errs     []error
	idx      int
}

func (f *FakeProbe) ReadPayload(_ context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	i := f.idx
	if f.idx < len(f.Payloads)-1 || f.idx < len(f.Errs)-1 {
		f.idx++
	}

	var err error
	if i < len(f.Errs) {
		err = f.Errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(f.Payloads) {
		return f.Payloads[i], nil
	}

	return "", nil
}

// FakeTach lets tests fire pulses by hand.
type FakeTach struct {
	mu      sync.Mutex
	onPulse func()
	started bool
}

func (f *FakeTach) Start(onPulse func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPulse = onPulse
	f.started = true

	return nil
}

func (f *FakeTach) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = false

	return nil
}

func (f *FakeTach) Pulse() {
	f.mu.Lock()
	cb := f.onPulse
	started := f.started
	f.mu.Unlock()

	if started && cb != nil {
		cb()
	}
}

// FakeThermal returns a fixed board temperature.
type FakeThermal struct {
	Temp float64
	Err  error
}

func (f *FakeThermal) ReadCPUTemp() (float64, error) {
	return f.Temp, f.Err
}

package daemon

import (
	"context"
	"sync"
	"testing"
	"time"

	"codeberg.org/frostwerk/icemanctl/internal/config"
	"codeberg.org/frostwerk/icemanctl/internal/fan"
	"codeberg.org/frostwerk/icemanctl/internal/hw"
	"codeberg.org/frostwerk/icemanctl/internal/reporter"
	"codeberg.org/frostwerk/icemanctl/internal/sensor"
	"codeberg.org/frostwerk/icemanctl/internal/tach"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const goodPayload = "6e 01 4b 46 7f ff 02 10 25 : crc=25 YES\n" +
	"6e 01 4b 46 7f ff 02 10 25 t=22875\n"

type captureMetrics struct {
	mu      sync.Mutex
	samples []reporter.Sample
	flushes int
}

func (c *captureMetrics) Enqueue(s reporter.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples = append(c.samples, s)
}

func (c *captureMetrics) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++

	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Interval:         1,
		SampleInterval:   1,
		FlushInterval:    1,
		NormalEntry:      10,
		NormalExit:       5,
		HotEntry:         25,
		HotExit:          20,
		CriticalEntry:    35,
		CriticalExit:     30,
		ColdDuty:         0,
		NormalDuty:       40,
		HotDuty:          75,
		CriticalDuty:     100,
		PulsesPerRev:     2,
		SensorTimeout:    1,
		SensorRetries:    2,
		SensorRetryDelay: 1,
		StalenessBound:   30,
		PushTimeout:      1,
		Location:         "kitchen",
		FanID:            "fan1",
		ProbeID:          "probe1",
	}
}

func newTestDaemon(t *testing.T, probe hw.Probe) (*Daemon, *hw.FakePWM, *captureMetrics) {
	t.Helper()
	cfg := testConfig()

	pwm := &hw.FakePWM{}
	fanCtl, err := fan.NewController(pwm, fan.Settings{
		NormalEntry:   cfg.NormalEntry,
		NormalExit:    cfg.NormalExit,
		HotEntry:      cfg.HotEntry,
		HotExit:       cfg.HotExit,
		CriticalEntry: cfg.CriticalEntry,
		CriticalExit:  cfg.CriticalExit,
		ColdDuty:      cfg.ColdDuty,
		NormalDuty:    cfg.NormalDuty,
		HotDuty:       cfg.HotDuty,
		CriticalDuty:  cfg.CriticalDuty,
	})
	require.NoError(t, err)

	temp := sensor.New(probe, cfg.ProbeID, time.Second, 30*time.Second)
	counter := tach.NewCounter(cfg.PulsesPerRev, time.Millisecond)
	metrics := &captureMetrics{}

	d := New(cfg, temp, fanCtl, counter, &hw.FakeTach{}, &hw.FakeThermal{Temp: 48.2}, metrics)

	return d, pwm, metrics
}

func TestControlTickDrivesFanAndEnqueues(t *testing.T) {
	d, _, metrics := newTestDaemon(t, &hw.FakeProbe{Payloads: []string{goodPayload}})

	require.NoError(t, d.controlTick(context.Background()))

	state := d.fanCtl.State()
	assert.Equal(t, fan.Normal, state.Band, "22.875°C is in the normal band")
	assert.Equal(t, 40, state.Duty)

	require.Len(t, metrics.samples, 1)
	s := metrics.samples[0]
	assert.Equal(t, reporter.MetricProbeTemp, s.Name)
	assert.Equal(t, "probe1", s.Tags["probe"])
	assert.Equal(t, "kitchen", s.Tags["location"])
	assert.InDelta(t, 22.875, s.Fields[reporter.FieldMetric], 0.001)
	assert.Equal(t, 40.0, s.Fields["duty"], "duty rides on the temperature line")
}

func TestRepeatedFailuresWithNoReadingForcesFailSafe(t *testing.T) {
	// Every retry fails and there is no prior reading to fall back on.
	d, pwm, metrics := newTestDaemon(t, &hw.FakeProbe{Errs: []error{assert.AnError}})

	require.NoError(t, d.controlTick(context.Background()))

	state := d.fanCtl.State()
	assert.Equal(t, fan.Critical, state.Band)
	assert.Equal(t, 100, state.Duty)
	assert.Equal(t, 100, pwm.LastDuty())
	assert.Empty(t, metrics.samples, "no sample without a usable reading")
}

func TestFailuresWithFreshReadingReuseIt(t *testing.T) {
	probe := &hw.FakeProbe{
		Payloads: []string{goodPayload, "", "", ""},
		Errs:     []error{nil, assert.AnError, assert.AnError, assert.AnError},
	}
	d, _, metrics := newTestDaemon(t, probe)

	require.NoError(t, d.controlTick(context.Background()))
	require.NoError(t, d.controlTick(context.Background()))

	// Second tick fell back on the cached reading: still Normal, two
	// samples enqueued, no fail-safe.
	assert.Equal(t, fan.Normal, d.fanCtl.State().Band)
	assert.Len(t, metrics.samples, 2)
}

func TestSampleTickEnqueuesRpmAndBoardTemp(t *testing.T) {
	d, _, metrics := newTestDaemon(t, &hw.FakeProbe{Payloads: []string{goodPayload}})

	d.sampleTick()

	require.Len(t, metrics.samples, 2)
	assert.Equal(t, reporter.MetricRPM, metrics.samples[0].Name)
	assert.Equal(t, "fan1", metrics.samples[0].Tags["fan"])
	assert.Zero(t, metrics.samples[0].Fields[reporter.FieldMetric])

	assert.Equal(t, reporter.MetricCPUTemp, metrics.samples[1].Name)
	assert.Equal(t, "cpu", metrics.samples[1].Tags["probe"])
	assert.InDelta(t, 48.2, metrics.samples[1].Fields[reporter.FieldMetric], 0.001)
}

func TestRunShutsDownCleanlyWithFinalFlush(t *testing.T) {
	d, _, metrics := newTestDaemon(t, &hw.FakeProbe{Payloads: []string{goodPayload}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("daemon did not shut down")
	}

	metrics.mu.Lock()
	defer metrics.mu.Unlock()
	assert.GreaterOrEqual(t, metrics.flushes, 1, "final best-effort flush must run")
}

func TestActuatorFailureAbortsRun(t *testing.T) {
	cfg := testConfig()

	pwm := &hw.FakePWM{}
	fanCtl, err := fan.NewController(pwm, fan.Settings{
		NormalEntry: cfg.NormalEntry, NormalExit: cfg.NormalExit,
		HotEntry: cfg.HotEntry, HotExit: cfg.HotExit,
		CriticalEntry: cfg.CriticalEntry, CriticalExit: cfg.CriticalExit,
		ColdDuty: cfg.ColdDuty, NormalDuty: cfg.NormalDuty,
		HotDuty: cfg.HotDuty, CriticalDuty: cfg.CriticalDuty,
	})
	require.NoError(t, err)

	// Break the actuator after initialization.
	pwm.Err = assert.AnError

	temp := sensor.New(&hw.FakeProbe{Payloads: []string{goodPayload}}, cfg.ProbeID, time.Second, 30*time.Second)
	d := New(cfg, temp, fanCtl, tach.NewCounter(2, 0), &hw.FakeTach{}, &hw.FakeThermal{}, &captureMetrics{})

	err = d.controlTick(context.Background())
	require.Error(t, err, "a failed duty write is fatal")
}
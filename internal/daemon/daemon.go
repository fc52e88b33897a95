package daemon

import (
	"context"
	"time"

	"codeberg.org/frostwerk/icemanctl/internal/config"
	"codeberg.org/frostwerk/icemanctl/internal/errors"
	"codeberg.org/frostwerk/icemanctl/internal/fan"
	"codeberg.org/frostwerk/icemanctl/internal/hw"
	"codeberg.org/frostwerk/icemanctl/internal/logger"
	"codeberg.org/frostwerk/icemanctl/internal/reporter"
	"codeberg.org/frostwerk/icemanctl/internal/sensor"
	"codeberg.org/frostwerk/icemanctl/internal/tach"
	"golang.org/x/sync/errgroup"
)

const cpuProbeTag = "cpu"

// Daemon wires the sensor, fan controller, tachometer and reporter and
// runs the three periodic activities. The control path never touches
// the network; only the flush loop does.
type Daemon struct {
	cfg     *config.Config
	sensor  *sensor.Sensor
	fanCtl  *fan.Controller
	counter *tach.Counter
	tachIn  hw.Tach
	thermal hw.BoardThermal
	metrics reporter.Metrics
}

func New(
	cfg *config.Config,
	temp *sensor.Sensor,
	fanCtl *fan.Controller,
	counter *tach.Counter,
	tachIn hw.Tach,
	thermal hw.BoardThermal,
	metrics reporter.Metrics,
) *Daemon {
	return &Daemon{
		cfg:     cfg,
		sensor:  temp,
		fanCtl:  fanCtl,
		counter: counter,
		tachIn:  tachIn,
		thermal: thermal,
		metrics: metrics,
	}
}

// Run blocks until the context is cancelled or a fatal error occurs.
// On shutdown each loop finishes its current iteration, one final
// best-effort flush runs, and the tach watcher is stopped.
func (d *Daemon) Run(ctx context.Context) error {
	errFactory := errors.New()

	if err := d.tachIn.Start(d.counter.OnPulse); err != nil {
		return errFactory.Wrap(errors.ErrInitFailed, err)
	}
	defer func() {
		if err := d.tachIn.Stop(); err != nil {
			logger.Warn().Err(err).Msg("Failed to stop tach watcher")
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.controlLoop(gctx) })
	g.Go(func() error { return d.sampleLoop(gctx) })
	g.Go(func() error { return d.flushLoop(gctx) })

	err := g.Wait()

	d.finalFlush()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

// controlLoop is the highest-priority path: poll the probe, drive the
// fan, enqueue the probe temperature. An actuator error aborts the
// whole group since safe cooling is gone.
func (d *Daemon) controlLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(d.cfg.Interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := d.controlTick(ctx); err != nil {
				return err
			}
		}
	}
}

func (d *Daemon) controlTick(ctx context.Context) error {
	reading, err := d.readWithRetry(ctx)
	if err != nil {
		if stale, ok := d.sensor.LastGood(); ok {
			logger.Warn().
				Err(err).
				Float64("celsius", stale.Celsius).
				Time("read_at", stale.Timestamp).
				Msg("Probe read failed, reusing last known good reading")
			reading = stale
		} else {
			logger.Error().
				Str("error_code", string(errors.CodeOf(err))).
				Err(err).
				Msg("Probe unusable and no fresh reading to fall back on")

			return d.fanCtl.Fault()
		}
	}

	if err := d.fanCtl.Update(reading); err != nil {
		return err
	}

	state := d.fanCtl.State()
	d.metrics.Enqueue(reporter.Sample{
		Name: reporter.MetricProbeTemp,
		Tags: map[string]string{
			"location": d.cfg.Location,
			"probe":    d.cfg.ProbeID,
		},
		Fields: map[string]float64{
			reporter.FieldMetric: reading.Celsius,
			"duty":               float64(state.Duty),
		},
		Time: reading.Timestamp,
	})

	return nil
}

func (d *Daemon) readWithRetry(ctx context.Context) (sensor.TemperatureReading, error) {
	delay := time.Duration(d.cfg.SensorRetryDelay) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt <= d.cfg.SensorRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return sensor.TemperatureReading{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		reading, err := d.sensor.Read(ctx)
		if err == nil {
			return reading, nil
		}
		lastErr = err

		logger.Debug().
			Err(err).
			Int("attempt", attempt+1).
			Msg("Probe read attempt failed")
	}

	return sensor.TemperatureReading{}, lastErr
}

// sampleLoop closes a tachometer window per tick and reads the board
// temperature alongside it.
func (d *Daemon) sampleLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(d.cfg.SampleInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			d.sampleTick()
		}
	}
}

func (d *Daemon) sampleTick() {
	now := time.Now()

	rpmSample := d.counter.SampleWindow()
	d.metrics.Enqueue(reporter.Sample{
		Name: reporter.MetricRPM,
		Tags: map[string]string{
			"location": d.cfg.Location,
			"fan":      d.cfg.FanID,
		},
		Fields: map[string]float64{reporter.FieldMetric: rpmSample.RPM},
		Time:   now,
	})

	cpuTemp, err := d.thermal.ReadCPUTemp()
	if err != nil {
		logger.Warn().Err(err).Msg("Board temperature read failed")
		return
	}
	d.metrics.Enqueue(reporter.Sample{
		Name: reporter.MetricCPUTemp,
		Tags: map[string]string{
			"location": d.cfg.Location,
			"probe":    cpuProbeTag,
		},
		Fields: map[string]float64{reporter.FieldMetric: cpuTemp},
		Time:   now,
	})
}

// flushLoop is the only activity allowed to block on the network. Flush
// errors are already logged and never propagate into the group.
func (d *Daemon) flushLoop(ctx context.Context) error {
	ticker := time.NewTicker(time.Duration(d.cfg.FlushInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			_ = d.metrics.Flush(ctx)
		}
	}
}

func (d *Daemon) finalFlush() {
	timeout := time.Duration(d.cfg.PushTimeout+1) * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := d.metrics.Flush(ctx); err != nil {
		logger.Warn().Err(err).Msg("Final metrics flush failed")
	}
}

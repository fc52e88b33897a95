package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codeberg.org/frostwerk/icemanctl/internal/config"
	"codeberg.org/frostwerk/icemanctl/internal/daemon"
	"codeberg.org/frostwerk/icemanctl/internal/errors"
	"codeberg.org/frostwerk/icemanctl/internal/fan"
	"codeberg.org/frostwerk/icemanctl/internal/hw"
	"codeberg.org/frostwerk/icemanctl/internal/logger"
	"codeberg.org/frostwerk/icemanctl/internal/pid"
	"codeberg.org/frostwerk/icemanctl/internal/reporter"
	"codeberg.org/frostwerk/icemanctl/internal/sensor"
	"codeberg.org/frostwerk/icemanctl/internal/tach"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Debug, cfg.Verbose, logger.IsService())
	applyLogLevel(cfg)
	logger.Debug().Msg("Config loaded")

	if err := pid.Write(); err != nil {
		logger.Fatal().Err(err).Msg("failed to write pid file")
	}
	defer func() {
		if err := pid.Remove(); err != nil {
			logger.Warn().Err(err).Msg("failed to remove pid file")
		}
	}()

	gpio, err := hw.OpenGPIO()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize GPIO")
	}
	defer func() {
		if err := gpio.Close(); err != nil {
			logger.Warn().Err(err).Msg("failed to release GPIO")
		}
	}()

	pwm, err := gpio.PWM(cfg.PWMPin, cfg.PWMFreqHz)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PWM channel")
	}
	defer pwm.Close()

	fanCtl, err := fan.NewController(pwm, fanSettings(cfg))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize fan controller")
	}

	probe := sensor.New(
		hw.NewW1Probe(),
		cfg.ProbeID,
		time.Duration(cfg.SensorTimeout)*time.Second,
		time.Duration(cfg.StalenessBound)*time.Second,
	)

	counter := tach.NewCounter(cfg.PulsesPerRev, time.Duration(cfg.DebounceUs)*time.Microsecond)

	metrics, err := buildMetrics(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize metrics reporter")
	}

	d := daemon.New(cfg, probe, fanCtl, counter, gpio.Tach(cfg.TachPin), hw.NewThermalZone(), metrics)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go handleSignals(cancel)

	logger.Info().
		Int("interval", cfg.Interval).
		Int("sample_interval", cfg.SampleInterval).
		Int("flush_interval", cfg.FlushInterval).
		Bool("telemetry", cfg.Telemetry).
		Msg("Starting fan controller")

	if err := d.Run(ctx); err != nil {
		errFactory := errors.New()
		logger.FatalWithCode(errFactory.Wrap(errors.ErrMainLoop, err)).
			Msg("fan control aborted")
	}

	logger.Info().Msg("Exiting...")
}

func handleSignals(cancel context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info().Msg("Received termination signal.")
	cancel()
}

func applyLogLevel(cfg *config.Config) {
	switch config.LogLevel(cfg.LogLevel) {
	case config.LogLevelDebug:
		logger.SetLogLevel(logger.DebugLevel)
	case config.LogLevelInfo:
		logger.SetLogLevel(logger.InfoLevel)
	case config.LogLevelWarning:
		logger.SetLogLevel(logger.WarnLevel)
	case config.LogLevelError:
		logger.SetLogLevel(logger.ErrorLevel)
	}

	if cfg.Debug {
		logger.SetLogLevel(logger.DebugLevel)
	}
}

func fanSettings(cfg *config.Config) fan.Settings {
	return fan.Settings{
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
	}
}

func buildMetrics(cfg *config.Config) (reporter.Metrics, error) {
	if !cfg.Telemetry {
		logger.Debug().Msg("Telemetry disabled, using no-op reporter")
		return reporter.NewNoop(), nil
	}

	return reporter.New(reporter.Settings{
		URL:            cfg.InfluxURL,
		Username:       cfg.InfluxUsername,
		Password:       cfg.InfluxPassword,
		PushTimeout:    time.Duration(cfg.PushTimeout) * time.Second,
		QueueCapacity:  cfg.QueueCapacity,
		BatchSize:      cfg.BatchSize,
		BackoffInitial: time.Duration(cfg.BackoffInitial) * time.Millisecond,
		BackoffMax:     time.Duration(cfg.BackoffMax) * time.Second,
		MaxFailures:    cfg.MaxFailures,
	})
}

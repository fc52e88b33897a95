package config

import (
	"os"
	"strings"

	"codeberg.org/frostwerk/icemanctl/internal/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultLogLevel = "info"

	defaultConfigName = "icemanctl"
	defaultConfigPath = "/etc"
	envPrefix         = "ICEMAN"
)

// Config holds every tunable of the daemon. It is immutable after Load:
// components receive it by value or pointer and never write to it.
type Config struct {
	// Scheduling (seconds)
	Interval       int `mapstructure:"interval"`
	SampleInterval int `mapstructure:"sample_interval"`
	FlushInterval  int `mapstructure:"flush_interval"`

	// Control bands. Exit must sit strictly below entry per band so a
	// reading bouncing inside the gap never flips the state.
	NormalEntry   float64 `mapstructure:"normal_entry"`
	NormalExit    float64 `mapstructure:"normal_exit"`
	HotEntry      float64 `mapstructure:"hot_entry"`
	HotExit       float64 `mapstructure:"hot_exit"`
	CriticalEntry float64 `mapstructure:"critical_entry"`
	CriticalExit  float64 `mapstructure:"critical_exit"`

	// Duty cycle targets per band (percent)
	ColdDuty     int `mapstructure:"cold_duty"`
	NormalDuty   int `mapstructure:"normal_duty"`
	HotDuty      int `mapstructure:"hot_duty"`
	CriticalDuty int `mapstructure:"critical_duty"`

	// Hardware
	PWMPin       int `mapstructure:"pwm_pin"`
	TachPin      int `mapstructure:"tach_pin"`
	PWMFreqHz    int `mapstructure:"pwm_freq_hz"`
	PulsesPerRev int `mapstructure:"pulses_per_rev"`
	DebounceUs   int `mapstructure:"debounce_us"`

	// Sensor policy
	SensorTimeout    int `mapstructure:"sensor_timeout_sec"`
	SensorRetries    int `mapstructure:"sensor_retries"`
	SensorRetryDelay int `mapstructure:"sensor_retry_delay_ms"`
	StalenessBound   int `mapstructure:"staleness_bound_sec"`

	// Remote write
	Telemetry      bool   `mapstructure:"telemetry"`
	InfluxURL      string `mapstructure:"influx_url"`
	InfluxUsername string `mapstructure:"influx_username"`
	InfluxPassword string `mapstructure:"influx_password"`
	PushTimeout    int    `mapstructure:"push_timeout_sec"`
	QueueCapacity  int    `mapstructure:"queue_capacity"`
	BatchSize      int    `mapstructure:"batch_size"`
	BackoffInitial int    `mapstructure:"backoff_initial_ms"`
	BackoffMax     int    `mapstructure:"backoff_max_sec"`
	MaxFailures    int    `mapstructure:"max_failures"`

	// Static metric tags
	Location string `mapstructure:"location"`
	FanID    string `mapstructure:"fan_id"`
	ProbeID  string `mapstructure:"probe_id"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	Debug    bool   `mapstructure:"debug"`
	Verbose  bool   `mapstructure:"verbose"`
}

func Load() (*Config, error) {
	errFactory := errors.New()

	// Optional .env next to the binary, mirroring the systemd
	// EnvironmentFile workflow for development runs.
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	flags := pflag.NewFlagSet("icemanctl", pflag.ContinueOnError)
	flags.ParseErrorsWhitelist.UnknownFlags = true
	flags.Int("interval", 0, "Seconds between control ticks")
	flags.Int("sample-interval", 0, "Seconds per tachometer window")
	flags.Int("flush-interval", 0, "Seconds between metric flushes")
	flags.String("log-level", "", "Log level (debug, info, warning, error)")
	flags.Bool("debug", false, "Enable debugging mode")
	flags.Bool("verbose", false, "Enable verbose logging")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	v.SetConfigName(defaultConfigName)
	v.SetConfigType("toml")
	v.AddConfigPath(defaultConfigPath)
	if path := os.Getenv("ICEMANCTL_CONFIG"); path != "" {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, errFactory.WithMessage(errors.ErrReadConfig,
					"Failed to read config file").WithData(err.Error())
			}
		}
	}

	// Command line flags win over file and environment values
	flags.Visit(func(f *pflag.Flag) {
		v.Set(strings.ReplaceAll(f.Name, "-", "_"), f.Value.String())
	})

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("interval", 2)
	v.SetDefault("sample_interval", 5)
	v.SetDefault("flush_interval", 10)

	v.SetDefault("normal_entry", 10.0)
	v.SetDefault("normal_exit", 5.0)
	v.SetDefault("hot_entry", 25.0)
	v.SetDefault("hot_exit", 20.0)
	v.SetDefault("critical_entry", 35.0)
	v.SetDefault("critical_exit", 30.0)

	v.SetDefault("cold_duty", 0)
	v.SetDefault("normal_duty", 40)
	v.SetDefault("hot_duty", 75)
	v.SetDefault("critical_duty", 100)

	v.SetDefault("pwm_pin", 18)
	v.SetDefault("tach_pin", 17)
	v.SetDefault("pwm_freq_hz", 25000)
	v.SetDefault("pulses_per_rev", 2)
	v.SetDefault("debounce_us", 1000)

	v.SetDefault("sensor_timeout_sec", 2)
	v.SetDefault("sensor_retries", 3)
	v.SetDefault("sensor_retry_delay_ms", 250)
	v.SetDefault("staleness_bound_sec", 30)

	v.SetDefault("telemetry", true)
	v.SetDefault("push_timeout_sec", 5)
	v.SetDefault("queue_capacity", 256)
	v.SetDefault("batch_size", 64)
	v.SetDefault("backoff_initial_ms", 1000)
	v.SetDefault("backoff_max_sec", 60)
	v.SetDefault("max_failures", 5)

	v.SetDefault("location", "kitchen")
	v.SetDefault("fan_id", "fan1")
	v.SetDefault("probe_id", "probe1")

	v.SetDefault("log_level", DefaultLogLevel)
}

func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 || c.SampleInterval <= 0 || c.FlushInterval <= 0 {
		return errFactory.New(errors.ErrInvalidInterval)
	}

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}

	// Each band must keep its exit strictly below its entry, and entries
	// must be ordered, otherwise the hysteresis gap collapses.
	ordered := c.NormalExit < c.NormalEntry &&
		c.HotExit < c.HotEntry &&
		c.CriticalExit < c.CriticalEntry &&
		c.NormalEntry < c.HotEntry &&
		c.HotEntry < c.CriticalEntry
	if !ordered {
		return errFactory.WithMessage(errors.ErrInvalidConfig,
			"Band thresholds must be ordered with exit below entry")
	}

	for _, duty := range []int{c.ColdDuty, c.NormalDuty, c.HotDuty, c.CriticalDuty} {
		if duty < 0 || duty > 100 {
			return errFactory.WithData(errors.ErrInvalidConfig, "duty cycle out of range")
		}
	}

	if c.PulsesPerRev <= 0 {
		return errFactory.WithData(errors.ErrInvalidConfig, "pulses_per_rev must be positive")
	}

	if c.QueueCapacity <= 0 || c.BatchSize <= 0 || c.BatchSize > c.QueueCapacity {
		return errFactory.WithData(errors.ErrInvalidConfig, "invalid queue sizing")
	}

	if c.Telemetry && c.InfluxURL == "" {
		return errFactory.WithMessage(errors.ErrMissingConfig,
			"influx_url is required when telemetry is enabled")
	}

	return nil
}

package fan

import (
	"sync"
	"time"

	"codeberg.org/frostwerk/icemanctl/internal/errors"
	"codeberg.org/frostwerk/icemanctl/internal/hw"
	"codeberg.org/frostwerk/icemanctl/internal/logger"
	"codeberg.org/frostwerk/icemanctl/internal/sensor"
)

// Band is a control band ordered by increasing target duty cycle.
type Band int

const (
	Cold Band = iota
	Normal
	Hot
	Critical
)

func (b Band) String() string {
	switch b {
	case Cold:
		return "cold"
	case Normal:
		return "normal"
	case Hot:
		return "hot"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Settings carries the band thresholds and duty targets. Every band
// above Cold has a rising entry threshold and a lower falling exit
// threshold; a reading inside the gap never causes a transition.
type Settings struct {
	NormalEntry   float64
	NormalExit    float64
	HotEntry      float64
	HotExit       float64
	CriticalEntry float64
	CriticalExit  float64

	ColdDuty     int
	NormalDuty   int
	HotDuty      int
	CriticalDuty int
}

func (s Settings) validate() error {
	errFactory := errors.New()

	ordered := s.NormalExit < s.NormalEntry &&
		s.HotExit < s.HotEntry &&
		s.CriticalExit < s.CriticalEntry &&
		s.NormalEntry < s.HotEntry &&
		s.HotEntry < s.CriticalEntry
	if !ordered {
		return errFactory.New(ErrInvalidThresholds)
	}

	return nil
}

func (s Settings) entry(b Band) float64 {
	switch b {
	case Normal:
		return s.NormalEntry
	case Hot:
		return s.HotEntry
	default:
		return s.CriticalEntry
	}
}

func (s Settings) exit(b Band) float64 {
	switch b {
	case Normal:
		return s.NormalExit
	case Hot:
		return s.HotExit
	default:
		return s.CriticalExit
	}
}

func (s Settings) duty(b Band) int {
	switch b {
	case Cold:
		return s.ColdDuty
	case Normal:
		return s.NormalDuty
	case Hot:
		return s.HotDuty
	default:
		return s.CriticalDuty
	}
}

// State is mutated only by the Controller; others read copies via State().
type State struct {
	Duty           int
	Band           Band
	LastTransition time.Time
}

// Controller maps temperature readings onto PWM duty through the band
// state machine. It always starts from Cold and re-derives its band from
// the first reading.
type Controller struct {
	mu       sync.RWMutex
	pwm      hw.PWM
	settings Settings
	state    State

	now func() time.Time
}

func NewController(pwm hw.PWM, settings Settings) (*Controller, error) {
	if err := settings.validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		pwm:      pwm,
		settings: settings,
		now:      time.Now,
	}
	c.state = State{
		Duty:           settings.ColdDuty,
		Band:           Cold,
		LastTransition: c.now(),
	}

	// Park at the Cold duty so the output starts from a known level.
	if err := pwm.SetDuty(settings.ColdDuty); err != nil {
		return nil, errors.New().Wrap(ErrActuatorWrite, err)
	}

	return c, nil
}

// Update advances the state machine with the latest valid reading and
// applies the resulting duty. The hardware write is skipped when the
// target duty equals the current one.
func (c *Controller) Update(reading sensor.TemperatureReading) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.nextBand(c.state.Band, reading.Celsius)

	return c.applyLocked(target, reading.Celsius)
}

// Fault forces the fail-safe Critical band: with no usable reading,
// over-cooling beats under-cooling.
func (c *Controller) Fault() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	logger.Warn().
		Str("band", Critical.String()).
		Msg("Sensor unusable, forcing fail-safe duty")

	return c.applyLocked(Critical, 0)
}

// State returns a copy of the current fan state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.state
}

// nextBand advances to the highest band whose entry threshold is met,
// retreats through every band whose exit threshold is breached, and
// otherwise holds inside the hysteresis gap.
func (c *Controller) nextBand(current Band, temp float64) Band {
	rising := Cold
	for _, b := range []Band{Normal, Hot, Critical} {
		if temp >= c.settings.entry(b) {
			rising = b
		}
	}
	if rising > current {
		return rising
	}

	falling := current
	for falling > Cold && temp < c.settings.exit(falling) {
		falling--
	}

	return falling
}

func (c *Controller) applyLocked(target Band, temp float64) error {
	if target != c.state.Band {
		logger.Info().
			Str("from", c.state.Band.String()).
			Str("to", target.String()).
			Float64("celsius", temp).
			Msg("Control band transition")

		c.state.Band = target
		c.state.LastTransition = c.now()
	}

	duty := c.settings.duty(target)
	if duty == c.state.Duty {
		return nil
	}

	if err := c.pwm.SetDuty(duty); err != nil {
		return errors.New().Wrap(ErrActuatorWrite, err)
	}

	logger.Debug().
		Int("from", c.state.Duty).
		Int("to", duty).
		Msg("Duty cycle changed")
	c.state.Duty = duty

	return nil
}

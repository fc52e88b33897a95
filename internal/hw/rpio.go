package hw

import (
	"sync"
	"time"

	"codeberg.org/frostwerk/icemanctl/internal/errors"
	"codeberg.org/frostwerk/icemanctl/internal/logger"
	"github.com/stianeikeland/go-rpio/v4"
)

const (
	// pwmCycleLen slices the PWM period into percent steps, so duty
	// maps 1:1 onto DutyCycle.
	pwmCycleLen = 100

	// edgePollInterval bounds tach latency. A fan at 5000 RPM with two
	// pulses per revolution yields a pulse every 6ms, so 200µs polling
	// loses nothing.
	edgePollInterval = 200 * time.Microsecond
)

// GPIO owns the rpio memory mapping and hands out pin-backed
// implementations of the capability interfaces. Open once, close once.
type GPIO struct {
	mu     sync.Mutex
	opened bool
}

func OpenGPIO() (*GPIO, error) {
	errFactory := errors.New()

	if err := rpio.Open(); err != nil {
		return nil, errFactory.Wrap(ErrGPIOInit, err)
	}

	logger.Debug().Msg("GPIO memory mapped")

	return &GPIO{opened: true}, nil
}

func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.opened {
		return nil
	}
	g.opened = false

	if err := rpio.Close(); err != nil {
		return errors.New().Wrap(ErrGPIOShutdown, err)
	}

	return nil
}

// PWM configures a hardware PWM channel on the given BCM pin.
func (g *GPIO) PWM(pin, freqHz int) (PWM, error) {
	p := rpio.Pin(pin)
	p.Mode(rpio.Pwm)
	// rpio.Freq wants the PWM clock rate; the output frequency is the
	// clock divided by the cycle length.
	p.Freq(freqHz * pwmCycleLen)
	p.DutyCycle(0, pwmCycleLen)

	logger.Info().
		Int("pin", pin).
		Int("freq_hz", freqHz).
		Msg("PWM channel initialized")

	return &rpioPWM{pin: p}, nil
}

type rpioPWM struct {
	mu  sync.Mutex
	pin rpio.Pin
}

func (p *rpioPWM) SetDuty(percent int) error {
	errFactory := errors.New()

	if percent < 0 || percent > 100 {
		return errFactory.WithData(errors.ErrInvalidArgument, percent)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.pin.DutyCycle(uint32(percent), pwmCycleLen)

	return nil
}

func (p *rpioPWM) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Park the channel low so the fan is not left at an arbitrary speed
	// if the process is restarted.
	p.pin.DutyCycle(0, pwmCycleLen)

	return nil
}

// Tach sets up edge detection on the tachometer input with an internal
// pull-up, matching the open-collector tach output of PC fans.
func (g *GPIO) Tach(pin int) Tach {
	p := rpio.Pin(pin)
	p.Input()
	p.PullUp()

	return &rpioTach{pin: p}
}

type rpioTach struct {
	pin  rpio.Pin
	done chan struct{}
	wg   sync.WaitGroup
}

func (t *rpioTach) Start(onPulse func()) error {
	t.pin.Detect(rpio.FallEdge)
	t.done = make(chan struct{})
	t.wg.Add(1)

	go func() {
		defer t.wg.Done()
		for {
			select {
			case <-t.done:
				return
			default:
			}
			if t.pin.EdgeDetected() {
				onPulse()
			}
			time.Sleep(edgePollInterval)
		}
	}()

	return nil
}

func (t *rpioTach) Stop() error {
	if t.done != nil {
		close(t.done)
		t.wg.Wait()
		t.done = nil
	}
	t.pin.Detect(rpio.NoEdge)

	return nil
}

package hw

import "context"

// PWM drives the fan actuator. Duty is an integer percent, 0-100.
type PWM interface {
	// SetDuty applies the duty cycle to the hardware channel. A failed
	// write means safe cooling can no longer be guaranteed, so callers
	// treat the error as fatal.
	SetDuty(percent int) error
	Close() error
}

// Probe reads one raw payload from the one-wire temperature bus. Parsing
// and integrity validation happen in the sensor package, so fakes can
// feed crafted payloads through the same path the hardware uses.
type Probe interface {
	ReadPayload(ctx context.Context) (string, error)
}

// Tach watches the tachometer line and invokes the callback once per
// detected falling edge until Stop is called.
type Tach interface {
	Start(onPulse func()) error
	Stop() error
}

// BoardThermal reads the board's own temperature sensor.
type BoardThermal interface {
	ReadCPUTemp() (float64, error)
}

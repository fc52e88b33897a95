package fan

import "codeberg.org/frostwerk/icemanctl/internal/errors"

const (
	// ErrActuatorWrite is fatal: without working PWM output safe
	// cooling cannot be guaranteed.
	ErrActuatorWrite = errors.ErrorCode("fan_actuator_write_failed")

	ErrInvalidThresholds = errors.ErrorCode("fan_invalid_thresholds")
)

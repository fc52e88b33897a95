package hw

import "codeberg.org/frostwerk/icemanctl/internal/errors"

const (
	// Initialization and lifecycle errors
	ErrGPIOInit     = errors.ErrorCode("hw_gpio_init_failed")
	ErrGPIOShutdown = errors.ErrorCode("hw_gpio_shutdown_failed")

	// Actuator errors
	ErrPWMWrite = errors.ErrorCode("hw_pwm_write_failed")

	// Probe bus errors
	ErrProbeNotFound = errors.ErrorCode("hw_probe_not_found")
	ErrBusRead       = errors.ErrorCode("hw_bus_read_failed")
	ErrBusTimeout    = errors.ErrorCode("hw_bus_timeout")

	// Board thermal errors
	ErrThermalRead = errors.ErrorCode("hw_thermal_read_failed")
)

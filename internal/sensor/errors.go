package sensor

import "codeberg.org/frostwerk/icemanctl/internal/errors"

const (
	ErrChecksumMismatch = errors.ErrorCode("sensor_checksum_mismatch")
	ErrMalformedPayload = errors.ErrorCode("sensor_malformed_payload")
	ErrOutOfRange       = errors.ErrorCode("sensor_value_out_of_range")
	ErrNoReading        = errors.ErrorCode("sensor_no_usable_reading")
)

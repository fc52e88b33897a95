package reporter

import "codeberg.org/frostwerk/icemanctl/internal/errors"

const (
	ErrInvalidConfig = errors.ErrInvalidConfig

	// Network errors are recoverable via retry and backoff
	ErrPushFailed = errors.ErrorCode("reporter_push_failed")
	ErrHTTPStatus = errors.ErrorCode("reporter_http_status")
	ErrEncode     = errors.ErrorCode("reporter_encode_failed")

	// ErrFlushExhausted marks a run of consecutive flush failures.
	// Telemetry loss is acceptable; the loop continues.
	ErrFlushExhausted = errors.ErrorCode("reporter_flush_exhausted")
)

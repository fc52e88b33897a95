package reporter

import "context"

// Metrics is the surface producers and the flush loop see.
type Metrics interface {
	Enqueue(sample Sample)
	Flush(ctx context.Context) error
}

// NewNoop returns a collector that discards everything, used when
// telemetry is disabled.
func NewNoop() Metrics {
	return &noopMetrics{}
}

type noopMetrics struct{}

func (*noopMetrics) Enqueue(Sample) {}

func (*noopMetrics) Flush(context.Context) error {
	return nil
}

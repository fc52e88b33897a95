package reporter

import (
	"bytes"
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"codeberg.org/frostwerk/icemanctl/internal/errors"
	"codeberg.org/frostwerk/icemanctl/internal/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/influxdata/line-protocol/v2/lineprotocol"
)

// The three series this daemon emits. The set is closed: everything else
// rides as extra fields on one of them.
const (
	MetricCPUTemp   = "fan_controller_cpu_temp"
	MetricProbeTemp = "fan_controller_temp"
	MetricRPM       = "fan_controller_rpm"
)

// FieldMetric is the primary field key on every line.
const FieldMetric = "metric"

// Sample is one telemetry point. Fields holds at least FieldMetric.
type Sample struct {
	Name   string
	Tags   map[string]string
	Fields map[string]float64
	Time   time.Time
}

type Settings struct {
	URL      string
	Username string
	Password string

	PushTimeout   time.Duration
	QueueCapacity int
	BatchSize     int

	BackoffInitial time.Duration
	BackoffMax     time.Duration
	MaxFailures    int
}

func (s Settings) Validate() error {
	errFactory := errors.New()

	if s.URL == "" {
		return errFactory.WithMessage(ErrInvalidConfig, "remote write URL is required")
	}
	if s.QueueCapacity <= 0 || s.BatchSize <= 0 || s.BatchSize > s.QueueCapacity {
		return errFactory.WithData(ErrInvalidConfig, "invalid queue sizing")
	}

	return nil
}

// Reporter batches samples in a bounded FIFO and pushes them to an
// InfluxDB-compatible write endpoint. A slow or unreachable endpoint
// never blocks producers: Enqueue is non-blocking and Flush runs on its
// own schedule.
type Reporter struct {
	mu      sync.Mutex
	queue   []Sample
	dropped uint64

	settings Settings
	client   *http.Client

	retry       *backoff.ExponentialBackOff
	nextAttempt time.Time
	failures    int

	now func() time.Time
}

func New(settings Settings) (*Reporter, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = settings.BackoffInitial
	retry.MaxInterval = settings.BackoffMax
	retry.MaxElapsedTime = 0
	retry.RandomizationFactor = 0
	retry.Reset()

	return &Reporter{
		queue:    make([]Sample, 0, settings.QueueCapacity),
		settings: settings,
		client:   &http.Client{Timeout: settings.PushTimeout},
		retry:    retry,
		now:      time.Now,
	}, nil
}

// Enqueue appends a sample, dropping the oldest entry when the queue is
// full. Newest data is the most actionable, so it is never the one lost.
func (r *Reporter) Enqueue(sample Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.queue) >= r.settings.QueueCapacity {
		over := len(r.queue) - r.settings.QueueCapacity + 1
		r.queue = r.queue[over:]
		r.dropped += uint64(over)
	}
	r.queue = append(r.queue, sample)
}

// Len returns the number of queued samples.
func (r *Reporter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.queue)
}

// Dropped returns how many samples were lost to queue overflow.
func (r *Reporter) Dropped() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.dropped
}

// Flush drains up to one batch and pushes it. While a backoff delay from
// an earlier failure is pending the call is a no-op. On failure the
// batch is requeued at the front, preserving order.
func (r *Reporter) Flush(ctx context.Context) error {
	r.mu.Lock()
	if r.now().Before(r.nextAttempt) {
		r.mu.Unlock()
		return nil
	}

	n := len(r.queue)
	if n == 0 {
		r.mu.Unlock()
		return nil
	}
	if n > r.settings.BatchSize {
		n = r.settings.BatchSize
	}
	batch := make([]Sample, n)
	copy(batch, r.queue[:n])
	r.queue = r.queue[n:]
	r.mu.Unlock()

	err := r.push(ctx, batch)
	if err == nil {
		r.mu.Lock()
		r.failures = 0
		r.nextAttempt = time.Time{}
		r.retry.Reset()
		r.mu.Unlock()

		logger.Debug().Int("samples", n).Msg("Metrics batch delivered")

		return nil
	}

	r.mu.Lock()
	r.requeueFront(batch)
	r.failures++
	delay := r.retry.NextBackOff()
	r.nextAttempt = r.now().Add(delay)
	failures := r.failures
	if r.failures >= r.settings.MaxFailures {
		r.failures = 0
		r.retry.Reset()
	}
	r.mu.Unlock()

	logger.Warn().
		Err(err).
		Int("consecutive_failures", failures).
		Dur("retry_in", delay).
		Msg("Metrics push failed, batch requeued")

	if failures >= r.settings.MaxFailures {
		fault := errors.New().WithData(ErrFlushExhausted, failures)
		logger.ErrorWithCode(fault).Msg("Giving up on the current backoff run")

		return fault
	}

	return nil
}

// requeueFront reinserts a failed batch ahead of anything enqueued in
// the meantime. The capacity invariant still holds: overflow drops from
// the front, which is the oldest data.
func (r *Reporter) requeueFront(batch []Sample) {
	merged := make([]Sample, 0, len(batch)+len(r.queue))
	merged = append(merged, batch...)
	merged = append(merged, r.queue...)

	if len(merged) > r.settings.QueueCapacity {
		over := len(merged) - r.settings.QueueCapacity
		merged = merged[over:]
		r.dropped += uint64(over)
	}
	r.queue = merged
}

func (r *Reporter) push(ctx context.Context, batch []Sample) error {
	errFactory := errors.New()

	body, err := encode(batch)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.settings.URL, bytes.NewReader(body))
	if err != nil {
		return errFactory.Wrap(ErrPushFailed, err)
	}
	req.SetBasicAuth(r.settings.Username, r.settings.Password)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")

	resp, err := r.client.Do(req)
	if err != nil {
		return errFactory.Wrap(ErrPushFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errFactory.WithData(ErrHTTPStatus, resp.StatusCode)
	}

	return nil
}

// encode serializes a batch as newline-separated influx line protocol.
func encode(batch []Sample) ([]byte, error) {
	errFactory := errors.New()

	var enc lineprotocol.Encoder
	enc.SetPrecision(lineprotocol.Nanosecond)

	for _, s := range batch {
		enc.StartLine(s.Name)

		// line protocol requires lexical tag order
		tagKeys := make([]string, 0, len(s.Tags))
		for k := range s.Tags {
			tagKeys = append(tagKeys, k)
		}
		sort.Strings(tagKeys)
		for _, k := range tagKeys {
			enc.AddTag(k, s.Tags[k])
		}

		fieldKeys := make([]string, 0, len(s.Fields))
		for k := range s.Fields {
			fieldKeys = append(fieldKeys, k)
		}
		sort.Strings(fieldKeys)
		for _, k := range fieldKeys {
			enc.AddField(k, lineprotocol.MustNewValue(s.Fields[k]))
		}

		enc.EndLine(s.Time)
	}

	if err := enc.Err(); err != nil {
		return nil, errFactory.Wrap(ErrEncode, err)
	}

	return enc.Bytes(), nil
}

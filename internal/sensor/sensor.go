package sensor

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"codeberg.org/frostwerk/icemanctl/internal/errors"
	"codeberg.org/frostwerk/icemanctl/internal/hw"
	"codeberg.org/frostwerk/icemanctl/internal/logger"
)

// DS18B20 operating range per datasheet. Readings outside it are bus
// glitches, not physics.
const (
	MinCelsius = -55.0
	MaxCelsius = 125.0
)

// TemperatureReading is immutable once produced; the next poll supersedes it.
type TemperatureReading struct {
	Probe     string
	Celsius   float64
	Timestamp time.Time
	Valid     bool
}

// Sensor performs the probe protocol read and validates integrity. It
// remembers the last good reading so the caller can fall back to it
// within the staleness bound after a run of failed reads.
type Sensor struct {
	probe     hw.Probe
	probeID   string
	timeout   time.Duration
	staleness time.Duration

	mu   sync.Mutex
	last *TemperatureReading

	now func() time.Time
}

func New(probe hw.Probe, probeID string, timeout, staleness time.Duration) *Sensor {
	return &Sensor{
		probe:     probe,
		probeID:   probeID,
		timeout:   timeout,
		staleness: staleness,
		now:       time.Now,
	}
}

// Read performs one validated probe read. Every failure carries a distinct
// error code: bus timeout, checksum mismatch, malformed payload or
// out-of-range value.
func (s *Sensor) Read(ctx context.Context) (TemperatureReading, error) {
	readCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	payload, err := s.probe.ReadPayload(readCtx)
	if err != nil {
		return TemperatureReading{}, err
	}

	celsius, err := parsePayload(payload)
	if err != nil {
		return TemperatureReading{}, err
	}

	reading := TemperatureReading{
		Probe:     s.probeID,
		Celsius:   celsius,
		Timestamp: s.now(),
		Valid:     true,
	}

	s.mu.Lock()
	s.last = &reading
	s.mu.Unlock()

	logger.Debug().
		Str("probe", s.probeID).
		Float64("celsius", celsius).
		Msg("Probe read")

	return reading, nil
}

// LastGood returns the most recent valid reading if it is still within
// the staleness bound.
func (s *Sensor) LastGood() (TemperatureReading, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.last == nil {
		return TemperatureReading{}, false
	}
	if s.now().Sub(s.last.Timestamp) > s.staleness {
		return TemperatureReading{}, false
	}

	return *s.last, true
}

// parsePayload validates a w1_slave payload:
//
//	6e 01 4b 46 7f ff 02 10 25 : crc=25 YES
//	6e 01 4b 46 7f ff 02 10 25 t=22875
func parsePayload(payload string) (float64, error) {
	errFactory := errors.New()

	lines := strings.Split(strings.TrimSpace(payload), "\n")
	if len(lines) < 2 {
		return 0, errFactory.WithData(ErrMalformedPayload, "expected two lines")
	}

	if !strings.HasSuffix(strings.TrimSpace(lines[0]), "YES") {
		return 0, errFactory.New(ErrChecksumMismatch)
	}

	_, tempStr, found := strings.Cut(lines[1], "t=")
	if !found {
		return 0, errFactory.WithData(ErrMalformedPayload, "temperature field missing")
	}

	milli, err := strconv.Atoi(strings.TrimSpace(tempStr))
	if err != nil {
		return 0, errFactory.Wrap(ErrMalformedPayload, err)
	}

	celsius := float64(milli) / 1000.0
	if celsius < MinCelsius || celsius > MaxCelsius {
		return 0, errFactory.WithData(ErrOutOfRange, celsius)
	}

	return celsius, nil
}

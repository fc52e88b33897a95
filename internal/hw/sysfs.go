package hw

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"codeberg.org/frostwerk/icemanctl/internal/errors"
	"codeberg.org/frostwerk/icemanctl/internal/logger"
)

const (
	w1DevicesDir   = "/sys/bus/w1/devices"
	w1SlaveFile    = "w1_slave"
	w1FamilyPrefix = "28-" // DS18B20 family code

	thermalZoneFile = "/sys/class/thermal/thermal_zone0/temp"
)

// W1Probe reads the kernel's one-wire slave file for the first DS18B20
// on the bus. The device is discovered once and cached.
type W1Probe struct {
	devicesDir string
	slavePath  string
}

func NewW1Probe() *W1Probe {
	return &W1Probe{devicesDir: w1DevicesDir}
}

func (p *W1Probe) ReadPayload(ctx context.Context) (string, error) {
	errFactory := errors.New()

	if p.slavePath == "" {
		path, err := p.discover()
		if err != nil {
			return "", err
		}
		p.slavePath = path
	}

	type result struct {
		payload string
		err     error
	}
	ch := make(chan result, 1)

	// The w1 read blocks for the bus conversion time (~750ms), so honor
	// the caller's deadline around it.
	go func() {
		data, err := os.ReadFile(p.slavePath)
		if err != nil {
			ch <- result{err: errFactory.Wrap(ErrBusRead, err)}
			return
		}
		ch <- result{payload: string(data)}
	}()

	select {
	case <-ctx.Done():
		return "", errFactory.Wrap(ErrBusTimeout, ctx.Err())
	case r := <-ch:
		return r.payload, r.err
	}
}

func (p *W1Probe) discover() (string, error) {
	errFactory := errors.New()

	entries, err := os.ReadDir(p.devicesDir)
	if err != nil {
		return "", errFactory.Wrap(ErrProbeNotFound, err)
	}

	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), w1FamilyPrefix) {
			path := filepath.Join(p.devicesDir, entry.Name(), w1SlaveFile)
			logger.Debug().Str("device", entry.Name()).Msg("Discovered temperature probe")

			return path, nil
		}
	}

	return "", errFactory.WithMessage(ErrProbeNotFound, "No DS18B20 device on the one-wire bus")
}

// ThermalZone reads the SoC temperature exposed by the kernel.
type ThermalZone struct {
	path string
}

func NewThermalZone() *ThermalZone {
	return &ThermalZone{path: thermalZoneFile}
}

func (t *ThermalZone) ReadCPUTemp() (float64, error) {
	errFactory := errors.New()

	data, err := os.ReadFile(t.path)
	if err != nil {
		return 0, errFactory.Wrap(ErrThermalRead, err)
	}

	milli, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, errFactory.Wrap(ErrThermalRead, err)
	}

	return float64(milli) / 1000.0, nil
}

package fan_test

import (
	"testing"
	"time"

	"codeberg.org/frostwerk/icemanctl/internal/fan"
	"codeberg.org/frostwerk/icemanctl/internal/hw"
	"codeberg.org/frostwerk/icemanctl/internal/sensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() fan.Settings {
	return fan.Settings{
		NormalEntry:   10,
		NormalExit:    5,
		HotEntry:      25,
		HotExit:       20,
		CriticalEntry: 35,
		CriticalExit:  30,
		ColdDuty:      0,
		NormalDuty:    40,
		HotDuty:       75,
		CriticalDuty:  100,
	}
}

func reading(celsius float64) sensor.TemperatureReading {
	return sensor.TemperatureReading{
		Probe:     "probe1",
		Celsius:   celsius,
		Timestamp: time.Now(),
		Valid:     true,
	}
}

func TestStartsFromCold(t *testing.T) {
	pwm := &hw.FakePWM{}
	c, err := fan.NewController(pwm, testSettings())
	require.NoError(t, err)

	state := c.State()
	assert.Equal(t, fan.Cold, state.Band)
	assert.Equal(t, 0, state.Duty)
	assert.Equal(t, []int{0}, pwm.Writes, "Expected the parking write only")
}

func TestRisingAcrossBands(t *testing.T) {
	pwm := &hw.FakePWM{}
	c, err := fan.NewController(pwm, testSettings())
	require.NoError(t, err)

	steps := []struct {
		celsius float64
		band    fan.Band
		duty    int
	}{
		{5, fan.Cold, 0},
		{12, fan.Normal, 40},
		{26, fan.Hot, 75},
		{40, fan.Critical, 100},
	}

	for _, step := range steps {
		require.NoError(t, c.Update(reading(step.celsius)))
		state := c.State()
		assert.Equal(t, step.band, state.Band, "at %.0f°C", step.celsius)
		assert.Equal(t, step.duty, state.Duty, "at %.0f°C", step.celsius)
	}
}

func TestNoOscillationInsideHysteresisGap(t *testing.T) {
	settings := testSettings()
	settings.HotEntry = 35
	settings.HotExit = 20
	settings.CriticalEntry = 45
	settings.CriticalExit = 40

	pwm := &hw.FakePWM{}
	c, err := fan.NewController(pwm, settings)
	require.NoError(t, err)

	// Enter Normal, then bounce between hot-exit (20) and hot-entry (35)
	// without crossing either. Band must never change.
	require.NoError(t, c.Update(reading(15)))
	require.Equal(t, fan.Normal, c.State().Band)
	transition := c.State().LastTransition

	for _, celsius := range []float64{24, 26, 24, 26, 25, 24.5, 26} {
		require.NoError(t, c.Update(reading(celsius)))
		assert.Equal(t, fan.Normal, c.State().Band, "at %.1f°C", celsius)
	}
	assert.Equal(t, transition, c.State().LastTransition, "no transition expected")
}

func TestCriticalOverridesFromAnyBand(t *testing.T) {
	pwm := &hw.FakePWM{}
	c, err := fan.NewController(pwm, testSettings())
	require.NoError(t, err)

	// Single reading above critical entry, straight from Cold.
	require.NoError(t, c.Update(reading(36)))
	state := c.State()
	assert.Equal(t, fan.Critical, state.Band)
	assert.Equal(t, 100, state.Duty)
	assert.Equal(t, 100, pwm.LastDuty())
}

func TestRetreatRequiresExitBreach(t *testing.T) {
	pwm := &hw.FakePWM{}
	c, err := fan.NewController(pwm, testSettings())
	require.NoError(t, err)

	require.NoError(t, c.Update(reading(40)))
	require.Equal(t, fan.Critical, c.State().Band)

	// Above critical-exit (30): still Critical.
	require.NoError(t, c.Update(reading(32)))
	assert.Equal(t, fan.Critical, c.State().Band)

	// Below critical-exit but above hot-exit: one band down.
	require.NoError(t, c.Update(reading(28)))
	assert.Equal(t, fan.Hot, c.State().Band)

	// Way down: cascades through every breached exit to Cold.
	require.NoError(t, c.Update(reading(2)))
	assert.Equal(t, fan.Cold, c.State().Band)
	assert.Equal(t, 0, c.State().Duty)
}

func TestIdempotentDutyWrites(t *testing.T) {
	pwm := &hw.FakePWM{}
	c, err := fan.NewController(pwm, testSettings())
	require.NoError(t, err)

	require.NoError(t, c.Update(reading(15)))
	writes := len(pwm.Writes)

	// Same band, same duty: no further hardware writes.
	for i := 0; i < 5; i++ {
		require.NoError(t, c.Update(reading(15)))
	}
	assert.Equal(t, writes, len(pwm.Writes))
}

func TestFaultForcesFailSafe(t *testing.T) {
	pwm := &hw.FakePWM{}
	c, err := fan.NewController(pwm, testSettings())
	require.NoError(t, err)

	require.NoError(t, c.Fault())
	state := c.State()
	assert.Equal(t, fan.Critical, state.Band)
	assert.Equal(t, 100, state.Duty)
}

func TestActuatorErrorSurfaces(t *testing.T) {
	pwm := &hw.FakePWM{Err: assert.AnError}
	_, err := fan.NewController(pwm, testSettings())
	require.Error(t, err)
}

func TestRejectsCollapsedHysteresis(t *testing.T) {
	settings := testSettings()
	settings.HotExit = settings.HotEntry

	_, err := fan.NewController(&hw.FakePWM{}, settings)
	require.Error(t, err)
}

package daqstream_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"daqstream"
)

func TestDeviceRegistration(t *testing.T) {
	e := daqstream.New()
	a, err := e.AddAODevice("a", 1000)
	require.NoError(t, err)
	assert.Equal(t, daqstream.AnalogOut, a.Role())
	assert.Equal(t, 1000.0, a.SampleRate())

	_, err = e.AddDODevice("b", 100)
	require.NoError(t, err)

	var cfgErr *daqstream.ConfigError
	_, err = e.AddAODevice("a", 500)
	require.ErrorAs(t, err, &cfgErr)
	_, err = e.AddAODevice("", 500)
	require.ErrorAs(t, err, &cfgErr)
	_, err = e.AddAODevice("c", 0)
	require.ErrorAs(t, err, &cfgErr)
	_, err = e.AddDODevice("d", -10)
	require.ErrorAs(t, err, &cfgErr)

	devices := e.Devices()
	require.Len(t, devices, 2)
	assert.Equal(t, "a", devices[0].Name())
	assert.Equal(t, "b", devices[1].Name())

	got, ok := e.Device("b")
	require.True(t, ok)
	assert.Equal(t, daqstream.DigitalOut, got.Role())
	_, ok = e.Device("missing")
	assert.False(t, ok)
}

func TestCompileStopValidation(t *testing.T) {
	var cfgErr *daqstream.ConfigError

	empty := daqstream.New()
	_, err := empty.Compile(1)
	require.ErrorAs(t, err, &cfgErr)

	e, ch := analogChannel(t, 1000)
	require.NoError(t, ch.Constant(0, 0.5, 1, false))
	_, err = e.Compile(0)
	require.ErrorAs(t, err, &cfgErr)
	_, err = e.Compile(-1)
	require.ErrorAs(t, err, &cfgErr)

	// at 1 Hz a 0.4s stop covers no full sample period
	slow := daqstream.New()
	d, err := slow.AddAODevice("slow", 1)
	require.NoError(t, err)
	_, err = d.AddChannel(0)
	require.NoError(t, err)
	_, err = slow.Compile(0.4)
	require.ErrorAs(t, err, &cfgErr)
}

func TestCompileAggregatesErrors(t *testing.T) {
	e := daqstream.New()
	a, err := e.AddAODevice("a", 1000)
	require.NoError(t, err)
	ch, err := a.AddChannel(0)
	require.NoError(t, err)
	require.NoError(t, ch.Constant(0, 2, 1, false)) // past the stop time

	_, err = e.AddAODevice("empty", 1000) // no channels
	require.NoError(t, err)

	c, err := e.AddDODevice("c", 100)
	require.NoError(t, err)
	_, err = c.AddLine(0, 0)
	require.NoError(t, err)
	require.NoError(t, c.ConfigureTrigger("PFI0", false)) // nobody exports PFI0

	_, err = e.Compile(1)
	require.Error(t, err)

	var oob *daqstream.OutOfBoundsError
	require.ErrorAs(t, err, &oob)
	assert.Equal(t, "a", oob.Device)
	assert.Equal(t, "ao0", oob.Channel)
	assert.Equal(t, 2.0, oob.End)
	assert.Equal(t, 1.0, oob.Stop)

	var cfgErr *daqstream.ConfigError
	require.ErrorAs(t, err, &cfgErr)

	var trigErr *daqstream.TriggerConfigError
	require.ErrorAs(t, err, &trigErr)
	assert.Equal(t, "PFI0", trigErr.Line)

	// a failed compile leaves the experiment editable
	assert.False(t, e.Frozen())
	require.NoError(t, ch.Constant(2, 0.5, 1, false))
}

func TestTriggerValidation(t *testing.T) {
	build := func(t *testing.T) (*daqstream.Experiment, *daqstream.Device, *daqstream.Device) {
		t.Helper()
		e := daqstream.New()
		a, err := e.AddAODevice("a", 1000)
		require.NoError(t, err)
		ch, err := a.AddChannel(0)
		require.NoError(t, err)
		require.NoError(t, ch.Constant(0, 0.5, 1, false))
		b, err := e.AddAODevice("b", 1000)
		require.NoError(t, err)
		_, err = b.AddChannel(0)
		require.NoError(t, err)
		return e, a, b
	}

	t.Run("exporter importer pair", func(t *testing.T) {
		e, a, b := build(t)
		require.NoError(t, a.ConfigureTrigger("PFI0", true))
		require.NoError(t, b.ConfigureTrigger("PFI0", false))
		_, err := e.Compile(1)
		assert.NoError(t, err)
	})
	t.Run("two exporters collide", func(t *testing.T) {
		e, a, b := build(t)
		require.NoError(t, a.ConfigureTrigger("PFI0", true))
		require.NoError(t, b.ConfigureTrigger("PFI0", true))
		_, err := e.Compile(1)
		var trigErr *daqstream.TriggerConfigError
		require.ErrorAs(t, err, &trigErr)
		assert.ElementsMatch(t, []string{"a", "b"}, trigErr.Exporters)
	})
	t.Run("trigger reconfiguration is rejected", func(t *testing.T) {
		_, a, _ := build(t)
		require.NoError(t, a.ConfigureTrigger("PFI0", true))
		var cfgErr *daqstream.ConfigError
		require.ErrorAs(t, a.ConfigureTrigger("PFI1", true), &cfgErr)
	})
}

func TestClockConfiguration(t *testing.T) {
	e := daqstream.New()
	d, err := e.AddAODevice("a", 1000)
	require.NoError(t, err)
	require.NoError(t, d.ConfigureSampleClock("PFI5"))
	require.NoError(t, d.ConfigureRefClock("PXI_Trig7", 10e6, true))

	var cfgErr *daqstream.ConfigError
	require.ErrorAs(t, d.ConfigureSampleClock("PFI6"), &cfgErr)
	require.ErrorAs(t, d.ConfigureRefClock("PXI_Trig6", 10e6, false), &cfgErr)
	require.ErrorAs(t, d.ConfigureSampleClock(""), &cfgErr)
}

func TestFreezeAndGenerations(t *testing.T) {
	e, ch := analogChannel(t, 1000)
	require.NoError(t, ch.Constant(0, 1, 5, false))

	first, err := e.Compile(1)
	require.NoError(t, err)
	assert.True(t, e.Frozen())
	assert.True(t, first.Valid())

	// recompiling a frozen experiment yields an equally valid program
	second, err := e.Compile(1)
	require.NoError(t, err)
	assert.True(t, second.Valid())

	e.Reopen()
	assert.False(t, e.Frozen())
	assert.False(t, first.Valid())
	assert.False(t, second.Valid())

	// a stale program still evaluates
	dp := first.DeviceByName("ao-dev")
	v, err := dp.Sample("ao0", 0.5)
	require.NoError(t, err)
	assert.InDelta(t, 5, v, 1e-12)

	third, err := e.Compile(1)
	require.NoError(t, err)
	assert.True(t, third.Valid())
	assert.False(t, first.Valid())

	// compiling the unchanged experiment again reproduces the samples exactly
	before, err := first.DeviceByName("ao-dev").Render(0, 1000)
	require.NoError(t, err)
	after, err := third.DeviceByName("ao-dev").Render(0, 1000)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestClearSegments(t *testing.T) {
	e, ch := analogChannel(t, 1000)
	require.NoError(t, ch.Constant(0, 1, 5, false))
	prog, err := e.Compile(1)
	require.NoError(t, err)

	e.ClearSegments()
	assert.False(t, e.Frozen())
	assert.False(t, prog.Valid())
	assert.Equal(t, 0, ch.NumSegments())

	// channels stay registered and editable
	require.NoError(t, ch.Constant(0, 0.5, 1, false))
}

func TestAddResetTick(t *testing.T) {
	e := daqstream.New()
	ao, err := e.AddAODevice("ao-dev", 1000)
	require.NoError(t, err)
	ach, err := ao.AddChannel(0)
	require.NoError(t, err)
	require.NoError(t, ach.Constant(0, 1, 5, true))

	do, err := e.AddDODevice("do-dev", 100)
	require.NoError(t, err)
	dch, err := do.AddLine(0, 0)
	require.NoError(t, err)
	require.NoError(t, dch.GoHigh(0))

	at, err := e.AddResetTick()
	require.NoError(t, err)
	assert.Equal(t, 1.0, at)
	assert.Equal(t, 2, ach.NumSegments())
	assert.Equal(t, 2, dch.NumSegments())

	prog, err := e.Compile(2)
	require.NoError(t, err)

	// the kept 5 holds only up to the reset, zero after
	adp := prog.DeviceByName("ao-dev")
	v, err := adp.At("ao0", 999)
	require.NoError(t, err)
	assert.InDelta(t, 5, v, 1e-12)
	v, err = adp.At("ao0", 1000)
	require.NoError(t, err)
	assert.InDelta(t, 0, v, 1e-12)

	// the held-high line drops at the reset as well
	ddp := prog.DeviceByName("do-dev")
	v, err = ddp.At("port0/line0", 99)
	require.NoError(t, err)
	assert.InDelta(t, 1, v, 1e-12)
	v, err = ddp.At("port0/line0", 150)
	require.NoError(t, err)
	assert.InDelta(t, 0, v, 1e-12)
}

func TestAddResetTickIsAtomic(t *testing.T) {
	e := daqstream.New()
	ao, err := e.AddAODevice("ao-dev", 1000)
	require.NoError(t, err)
	blocked, err := ao.AddChannel(0)
	require.NoError(t, err)
	require.NoError(t, blocked.Hold(1, 3)) // occupies the reset tick

	clean, err := ao.AddChannel(1)
	require.NoError(t, err)
	require.NoError(t, clean.Constant(0, 0.5, 1, false))

	var overlap *daqstream.OverlapError
	_, err = e.AddResetTick()
	require.ErrorAs(t, err, &overlap)

	// no channel gained a marker
	assert.Equal(t, 1, blocked.NumSegments())
	assert.Equal(t, 1, clean.NumSegments())
}

package pid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newManualInput(t *testing.T, opts ...Option) *Controller {
	t.Helper()
	c, err := New(nil, append([]Option{WithMode(AutoCompute)}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	assert.Equal(t, 1.0, c.Kp())
	assert.Equal(t, 0.0, c.Ki())
	assert.Equal(t, 0.0, c.Kd())
	assert.Equal(t, time.Second, c.SampleTime())
	assert.Equal(t, Direct, c.Direction())
	assert.Equal(t, Automatic, c.Mode())
	low, high := c.Limits()
	assert.Equal(t, 0.0, low)
	assert.Equal(t, 255.0, high)
	assert.False(t, c.Running())
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(nil, WithSampleTime(0))
	assert.ErrorIs(t, err, ErrInvalidSampleTime)

	_, err = New(nil, WithLimits(10, 10))
	assert.ErrorIs(t, err, ErrInvalidLimits)
}

func TestCompute_Proportional(t *testing.T) {
	tests := []struct {
		name     string
		kp       float64
		setpoint float64
		input    float64
		want     float64
	}{
		{"within limits", 2, 100, 40, 120},
		{"clamped high", 2, 200, 0, 255},
		{"clamped low", 2, 0, 100, 0},
		{"at setpoint", 5, 150, 150, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newManualInput(t, WithTunings(tt.kp, 0, 0))
			c.SetSetpoint(tt.setpoint)
			require.NoError(t, c.SetInput(tt.input))
			c.Initialize()

			assert.Equal(t, tt.want, c.Compute())
			assert.Equal(t, tt.want, c.Output())
		})
	}
}

func TestCompute_ZeroGainsStayAtMinimum(t *testing.T) {
	c := newManualInput(t, WithTunings(0, 0, 0), WithLimits(10, 200))
	c.SetSetpoint(240)

	for _, in := range []float64{25, 100, 300, -40} {
		require.NoError(t, c.SetInput(in))
		assert.Equal(t, 10.0, c.Compute())
	}
}

func TestCompute_IntegralDoesNotAccumulate(t *testing.T) {
	c := newManualInput(t, WithTunings(0, 1, 0))
	c.SetSetpoint(110)
	require.NoError(t, c.SetInput(100))
	c.Initialize()

	for range 5 {
		assert.Equal(t, 10.0, c.Compute())
		assert.Equal(t, 10.0, c.State().Integral)
	}
}

func TestCompute_DerivativeSquared(t *testing.T) {
	tests := []struct {
		kd   float64
		want float64
	}{
		{1, -10},
		{2, -40},
		{3, -90},
	}

	for _, tt := range tests {
		c := newManualInput(t, WithTunings(0, 0, tt.kd), WithLimits(-1000, 1000))
		require.NoError(t, c.SetInput(50))
		c.Initialize()

		require.NoError(t, c.SetInput(60))
		assert.Equal(t, tt.want, c.Compute(), "kd=%g", tt.kd)
		assert.Equal(t, 60.0, c.State().LastInput)
	}
}

func TestTunings_SampleTimeScaling(t *testing.T) {
	c, err := New(nil, WithTunings(30, 2, 7), WithSampleTime(500*time.Millisecond))
	require.NoError(t, err)

	kp, ki, kd := c.Terms()
	assert.InDelta(t, 30, kp, 1e-12)
	assert.InDelta(t, 1, ki, 1e-12)
	assert.InDelta(t, 14, kd, 1e-12)

	require.NoError(t, c.SetSampleTime(2*time.Second))
	kp, ki, kd = c.Terms()
	assert.InDelta(t, 30, kp, 1e-12)
	assert.InDelta(t, 4, ki, 1e-12)
	assert.InDelta(t, 3.5, kd, 1e-12)

	// Raw gains are unaffected.
	assert.Equal(t, 2.0, c.Ki())
	assert.Equal(t, 7.0, c.Kd())

	assert.ErrorIs(t, c.SetSampleTime(-time.Second), ErrInvalidSampleTime)
	assert.Equal(t, 2*time.Second, c.SampleTime())
}

func TestTunings_OptionOrder(t *testing.T) {
	a, err := New(nil, WithTunings(3, 2, 1), WithSampleTime(250*time.Millisecond), WithDirection(Reverse))
	require.NoError(t, err)
	b, err := New(nil, WithDirection(Reverse), WithSampleTime(250*time.Millisecond), WithTunings(3, 2, 1))
	require.NoError(t, err)

	akp, aki, akd := a.Terms()
	bkp, bki, bkd := b.Terms()
	assert.InDelta(t, akp, bkp, 1e-12)
	assert.InDelta(t, aki, bki, 1e-12)
	assert.InDelta(t, akd, bkd, 1e-12)
}

func TestDirection(t *testing.T) {
	c, err := New(nil, WithTunings(3, 2, 1))
	require.NoError(t, err)

	c.SetDirection(Reverse)
	kp, ki, kd := c.Terms()
	assert.Equal(t, -3.0, kp)
	assert.Equal(t, -2.0, ki)
	assert.Equal(t, -1.0, kd)
	assert.Equal(t, 3.0, c.Kp())

	// Setting the same direction again changes nothing.
	c.SetDirection(Reverse)
	kp, _, _ = c.Terms()
	assert.Equal(t, -3.0, kp)

	// Gains set while reversed are negated too.
	c.SetKp(4)
	c.SetKi(5)
	c.SetKd(6)
	kp, ki, kd = c.Terms()
	assert.Equal(t, -4.0, kp)
	assert.Equal(t, -5.0, ki)
	assert.Equal(t, -6.0, kd)

	c.SetDirection(Direct)
	kp, ki, kd = c.Terms()
	assert.Equal(t, 4.0, kp)
	assert.Equal(t, 5.0, ki)
	assert.Equal(t, 6.0, kd)
}

func TestReverse_Cooling(t *testing.T) {
	c := newManualInput(t, WithTunings(2, 0, 0), WithDirection(Reverse))
	c.SetSetpoint(20)
	require.NoError(t, c.SetInput(50))
	c.Initialize()

	assert.Equal(t, 60.0, c.Compute())
}

func TestSetInputOutput_Modes(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)

	assert.ErrorIs(t, c.SetInput(1), ErrAutomaticInput)
	assert.ErrorIs(t, c.SetOutput(1), ErrAutomaticOutput)

	c.SetMode(Manual)
	require.NoError(t, c.SetInput(42))
	require.NoError(t, c.SetOutput(300))
	assert.Equal(t, 42.0, c.Input())
	assert.Equal(t, 255.0, c.Output(), "manual output is clamped")

	require.NoError(t, c.SetOutput(-5))
	assert.Equal(t, 0.0, c.Output())
}

func TestSetMode_Initializes(t *testing.T) {
	c, err := New(nil, WithMode(Manual))
	require.NoError(t, err)

	require.NoError(t, c.SetInput(120))
	require.NoError(t, c.SetOutput(80))

	c.SetMode(Automatic)
	st := c.State()
	assert.Equal(t, 120.0, st.LastInput)
	assert.Equal(t, 80.0, st.Integral)
	assert.Equal(t, Automatic, c.Mode())

	// Same mode: no reinitialization.
	c.SetMode(Manual)
	require.NoError(t, c.SetInput(10))
	c.SetMode(Manual)
	assert.Equal(t, 120.0, c.State().LastInput)
}

func TestSetLimits(t *testing.T) {
	c, err := New(nil, WithMode(Manual))
	require.NoError(t, err)
	require.NoError(t, c.SetOutput(200))
	c.Initialize()

	require.NoError(t, c.SetLimits(0, 100))
	assert.Equal(t, 100.0, c.Output())
	assert.Equal(t, 100.0, c.State().Integral)

	require.NoError(t, c.SetLimits(150, 180))
	assert.Equal(t, 150.0, c.Output())

	assert.ErrorIs(t, c.SetLimits(5, 1), ErrInvalidLimits)
	low, high := c.Limits()
	assert.Equal(t, 150.0, low)
	assert.Equal(t, 180.0, high)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"automatic", Automatic},
		{"MANUAL", Manual},
		{"read", AutoRead},
		{"write READ", AutoRead | AutoWrite},
		{"compute|write", AutoCompute | AutoWrite},
		{"read compute write", Automatic},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, in := range []string{"", "  ", "turbo", "read calc"} {
		_, err := ParseMode(in)
		assert.ErrorIs(t, err, ErrUnknownMode, "%q", in)
	}
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "manual", Manual.String())
	assert.Equal(t, "automatic", Automatic.String())
	assert.Equal(t, "read|write", (AutoRead | AutoWrite).String())
	assert.Equal(t, "compute", AutoCompute.String())
	assert.Equal(t, "reverse", Reverse.String())
	assert.Equal(t, "direct", Direct.String())

	for _, m := range []Mode{Manual, AutoRead, AutoCompute | AutoWrite, AutoRead | AutoWrite, Automatic} {
		got, err := ParseMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got, "ParseMode(%q)", m.String())
	}
}

func TestSampleTime_NoEffectOnProportional(t *testing.T) {
	c := newManualInput(t, WithTunings(3, 0, 0))
	c.SetSetpoint(200)
	require.NoError(t, c.SetInput(150))
	c.Initialize()
	before := c.Compute()

	for _, d := range []time.Duration{100 * time.Millisecond, 3 * time.Second, 250 * time.Millisecond} {
		require.NoError(t, c.SetSampleTime(d))
		assert.Equal(t, before, c.Compute(), "sample time %v", d)
	}
}

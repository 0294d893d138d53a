package thermistor

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Classic 10k NTC coefficients in the four-term form.
var ntc10k = SteinhartHart{A: 1.129148e-3, B: 2.34125e-4, C: 0, D: 8.76741e-8}

func TestSteinhartHart_Celsius(t *testing.T) {
	sh := DefaultSteinhartHart()

	tests := []struct {
		name string
		ohms float64
		want float64
	}{
		{"0 °C", 498, 0},
		{"70 °C", 826, 70},
		{"190 °C", 1640, 190},
		{"300 °C", 2624, 300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sh.Celsius(tt.ohms)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-6)
		})
	}
}

func TestSteinhartHart_NTC(t *testing.T) {
	got, err := ntc10k.Celsius(10000)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, got, 0.01)
}

func TestSteinhartHart_NonPositiveResistance(t *testing.T) {
	sh := DefaultSteinhartHart()

	for _, r := range []float64{0, -1, -1000, math.NaN()} {
		_, err := sh.Celsius(r)
		assert.ErrorIs(t, err, ErrNonPositiveResistance)
	}
}

func TestSteinhartHart_MonotonicNTC(t *testing.T) {
	prev := math.Inf(1)
	for r := 100.0; r <= 200000; r *= 1.1 {
		got, err := ntc10k.Celsius(r)
		require.NoError(t, err)
		assert.Less(t, got, prev, "temperature must fall as resistance rises (R=%g)", r)
		prev = got
	}
}

func TestSteinhartHart_MonotonicProbeRange(t *testing.T) {
	sh := DefaultSteinhartHart()
	fe := DefaultFrontEnd()

	prev := math.Inf(-1)
	for count := uint16(1); count <= 1023; count++ {
		got, err := sh.Celsius(fe.Resistance(count))
		require.NoError(t, err)
		assert.Greater(t, got, prev, "count %d", count)
		prev = got
	}
}

func TestSteinhartHart_Resistance(t *testing.T) {
	sh := DefaultSteinhartHart()

	for _, c := range []float64{0, 25, 150, 240, 300} {
		r, err := sh.Resistance(c, 100, 5000)
		require.NoError(t, err)
		back, err := sh.Celsius(r)
		require.NoError(t, err)
		assert.InDelta(t, c, back, 1e-6)
	}

	r, err := ntc10k.Resistance(25, 100, 200000)
	require.NoError(t, err)
	assert.InDelta(t, 10000, r, 10)
}

func TestSteinhartHart_ResistanceOutOfRange(t *testing.T) {
	sh := DefaultSteinhartHart()

	_, err := sh.Resistance(1000, 100, 5000)
	assert.ErrorIs(t, err, ErrOutOfRange)

	_, err = sh.Resistance(25, 0, 5000)
	assert.ErrorIs(t, err, ErrNonPositiveResistance)
}

func TestFrontEnd_Resistance(t *testing.T) {
	fe := DefaultFrontEnd()

	// 5 V * 350/1023 * 1.2 / 2.5 mA
	assert.InDelta(t, 821.114, fe.Resistance(350), 0.001)

	// Zero count is guarded.
	assert.Equal(t, fe.Resistance(1), fe.Resistance(0))
	assert.Greater(t, fe.Resistance(0), 0.0)

	fe.MinCount = 0
	assert.Greater(t, fe.Resistance(0), 0.0)
}

func TestFrontEnd_Count(t *testing.T) {
	fe := DefaultFrontEnd()

	for _, c := range []uint16{1, 100, 350, 1023, 4095} {
		assert.Equal(t, c, fe.Count(fe.Resistance(c)))
	}
	assert.Equal(t, uint16(MaxCount), fe.Count(1e9))
	assert.Equal(t, uint16(0), fe.Count(-5))
}

func TestConverter_Convert(t *testing.T) {
	c := NewConverter(DefaultFrontEnd(), DefaultSteinhartHart())

	r, err := c.Convert(0)
	require.NoError(t, err)
	assert.Equal(t, uint16(0), r.Count)
	assert.Greater(t, r.Resistance, 0.0)

	r, err = c.Convert(255)
	require.NoError(t, err)
	assert.InDelta(t, 598.24, r.Resistance, 0.01)
	assert.InDelta(t, 23.7, r.Temperature, 0.5)
}

func TestConverter_Count(t *testing.T) {
	c := NewConverter(DefaultFrontEnd(), DefaultSteinhartHart())

	for _, celsius := range []float64{25, 100, 183, 240} {
		count, err := c.Count(celsius)
		require.NoError(t, err)
		r, err := c.Convert(count)
		require.NoError(t, err)
		// One count is roughly half a degree at this gain.
		assert.InDelta(t, celsius, r.Temperature, 1.0)
	}
}

package device

import (
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itohio/goreflow/pkg/config"
	"github.com/itohio/goreflow/pkg/frame"
	"github.com/itohio/goreflow/pkg/thermistor"
)

func testConverter() thermistor.Converter {
	return thermistor.NewConverter(thermistor.DefaultFrontEnd(), thermistor.DefaultSteinhartHart())
}

func quietConfig() *config.MockConfig {
	cfg := config.Default().Mock
	cfg.NoiseLevel = 0
	return &cfg
}

func TestNewMock_NilConfig(t *testing.T) {
	m := newMock(nil, testConverter())
	assert.Equal(t, config.Default().Mock, m.cfg)
	assert.Equal(t, config.Default().Mock.Ambient, m.Temperature())
	assert.Equal(t, byte(0), m.Duty())
}

func TestMock_FramesDecodeToTemperature(t *testing.T) {
	conv := testConverter()
	m := newMock(quietConfig(), conv)

	m.step(0)
	d := frame.NewDecoder(m)
	count, err := d.ReadFrame()
	require.NoError(t, err)

	r, err := conv.Convert(count)
	require.NoError(t, err)
	assert.InDelta(t, m.cfg.Ambient, r.Temperature, 1.0)
}

func TestMock_HeatsWithDuty(t *testing.T) {
	m := newMock(quietConfig(), testConverter())

	n, err := m.Write([]byte{0, 255})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, byte(255), m.Duty())
	assert.Equal(t, 1, m.Writes())

	for range 100 {
		m.step(0.1)
	}
	// 10 s at 4 °C/s less a little loss.
	assert.InDelta(t, m.cfg.Ambient+40, m.Temperature(), 4)

	_, err = m.Write([]byte{0})
	require.NoError(t, err)
	hot := m.Temperature()
	for range 100 {
		m.step(1)
	}
	assert.Less(t, m.Temperature(), hot)
	assert.Greater(t, m.Temperature(), m.cfg.Ambient)
}

func TestMock_Advance(t *testing.T) {
	m := newMock(quietConfig(), testConverter())

	tests := []struct {
		name string
		temp float64
		duty byte
		dt   float64
		want float64
	}{
		{"ambient idle", 25, 0, 1, 25},
		{"full duty", 25, 255, 1, 29},
		{"half duty", 25, 127, 2, 25 + 2*4*127.0/255},
		{"cooling", 145, 0, 1, 144},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, m.advance(tt.temp, tt.duty, tt.dt), 1e-9)
		})
	}
}

func TestMock_GarbageResync(t *testing.T) {
	cfg := quietConfig()
	cfg.GarbageEvery = 2
	m := newMock(cfg, testConverter())

	for range 10 {
		m.step(0)
	}
	d := frame.NewDecoder(m)
	for i := range 10 {
		_, err := d.ReadFrame()
		require.NoError(t, err, "frame %d", i)
	}
	assert.Equal(t, int64(10*frame.Size+5), d.Consumed())
}

func TestMock_ResetInputBuffer(t *testing.T) {
	m := newMock(quietConfig(), testConverter())
	m.step(0)
	m.step(0)

	require.NoError(t, m.ResetInputBuffer())
	m.mu.Lock()
	assert.Empty(t, m.pending)
	m.mu.Unlock()
}

func TestMock_PendingBounded(t *testing.T) {
	m := newMock(quietConfig(), testConverter())
	for range maxPending {
		m.step(0)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	assert.LessOrEqual(t, len(m.pending), maxPending)
}

func TestMock_CountClampsOutOfRange(t *testing.T) {
	m := newMock(quietConfig(), testConverter())
	assert.Equal(t, uint16(1), m.count(-270))
	assert.Equal(t, uint16(thermistor.MaxCount), m.count(5000))
}

func TestMock_ClosedErrors(t *testing.T) {
	m := NewMock(quietConfig(), testConverter())
	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "close is idempotent")

	_, err := m.Read(make([]byte, 3))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.Write([]byte{1})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, m.ResetInputBuffer(), ErrClosed)
}

func TestMock_Streams(t *testing.T) {
	cfg := quietConfig()
	cfg.SampleRate = time.Millisecond
	m := NewMock(cfg, testConverter())
	defer m.Close()

	d := frame.NewDecoder(io.Reader(m))
	for range 5 {
		_, err := d.ReadFrame()
		require.NoError(t, err)
	}
}

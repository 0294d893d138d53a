package device

import (
	"context"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/itohio/goreflow/pkg/config"
	"github.com/itohio/goreflow/pkg/frame"
	"github.com/itohio/goreflow/pkg/thermistor"
)

// maxPending bounds the bytes the mock keeps for a reader that is not keeping up.
const maxPending = 4096

// Mock simulates an oven and its MCU. It emits encoded temperature frames and
// heats according to the last duty byte written.
type Mock struct {
	cfg  config.MockConfig
	conv thermistor.Converter
	rng  *rand.Rand

	mu      sync.Mutex
	cond    *sync.Cond
	pending []byte
	closed  bool

	// Simulation state
	temperature float64
	duty        byte
	writes      int
	frames      int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMock creates a simulated oven and starts emitting frames.
func NewMock(cfg *config.MockConfig, conv thermistor.Converter) *Mock {
	m := newMock(cfg, conv)

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.wg.Add(1)
	go m.generate(ctx)

	return m
}

func newMock(cfg *config.MockConfig, conv thermistor.Converter) *Mock {
	if cfg == nil {
		cfg = &config.Default().Mock
	}

	m := &Mock{
		cfg:         *cfg,
		conv:        conv,
		rng:         rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x5eed)),
		temperature: cfg.Ambient,
		cancel:      func() {},
	}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Read blocks until simulated bytes are available or the mock is closed.
func (m *Mock) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for len(m.pending) == 0 && !m.closed {
		m.cond.Wait()
	}
	if m.closed {
		return 0, ErrClosed
	}

	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

// Write sets the heater duty to the last byte written.
func (m *Mock) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrClosed
	}
	if len(p) > 0 {
		m.duty = p[len(p)-1]
		m.writes++
	}
	return len(p), nil
}

// ResetInputBuffer drops bytes not yet read.
func (m *Mock) ResetInputBuffer() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.pending = m.pending[:0]
	return nil
}

// Close stops the simulation. Blocked readers return ErrClosed.
func (m *Mock) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	return nil
}

// Temperature returns the simulated oven temperature in °C.
func (m *Mock) Temperature() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.temperature
}

// Duty returns the last heater duty written.
func (m *Mock) Duty() byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.duty
}

// Writes returns the number of non-empty writes received.
func (m *Mock) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Mock) generate(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SampleRate)
	defer ticker.Stop()

	dt := m.cfg.SampleRate.Seconds() * m.cfg.Speed
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.step(dt)
		}
	}
}

// step advances the thermal model by dt simulated seconds and queues one frame.
func (m *Mock) step(dt float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	m.temperature = m.advance(m.temperature, m.duty, dt)

	measured := m.temperature
	if m.cfg.NoiseLevel > 0 {
		measured += (m.rng.Float64()*2 - 1) * m.cfg.NoiseLevel
	}

	m.frames++
	if m.cfg.GarbageEvery > 0 && m.frames%m.cfg.GarbageEvery == 0 {
		// Never a marker, so it only costs the decoder one shift.
		m.pending = append(m.pending, byte(m.rng.IntN(0xFF)))
	}
	f := frame.Encode(m.count(measured))
	m.pending = append(m.pending, f[:]...)
	if over := len(m.pending) - maxPending; over > 0 {
		m.pending = m.pending[over:]
	}
	m.cond.Broadcast()
}

// advance integrates dT/dt = rate*duty/255 - (T-ambient)/tau over dt.
func (m *Mock) advance(temp float64, duty byte, dt float64) float64 {
	heating := m.cfg.HeaterRate * float64(duty) / 255
	loss := 0.0
	if tau := m.cfg.TimeConstant.Seconds(); tau > 0 {
		loss = (temp - m.cfg.Ambient) / tau
	}
	return temp + (heating-loss)*dt
}

func (m *Mock) count(celsius float64) uint16 {
	c, err := m.conv.Count(celsius)
	if err == nil {
		return c
	}
	// Outside the probe range: pin to whichever end of the scale is nearer.
	lo, _ := m.conv.Convert(1)
	hi, _ := m.conv.Convert(thermistor.MaxCount)
	if math.Abs(celsius-lo.Temperature) < math.Abs(celsius-hi.Temperature) {
		return 1
	}
	return thermistor.MaxCount
}

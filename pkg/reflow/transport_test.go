package reflow

import (
	"sync"

	"github.com/itohio/goreflow/pkg/device"
	"github.com/itohio/goreflow/pkg/frame"
	"github.com/itohio/goreflow/pkg/trajectory"
)

// fakeTransport is a scriptable device.Transport.
type fakeTransport struct {
	mu       sync.Mutex
	cond     *sync.Cond
	pending  []byte
	writes   []byte
	closed   bool
	readErr  error
	writeErr error
}

var _ device.Transport = (*fakeTransport)(nil)

func newFakeTransport() *fakeTransport {
	f := &fakeTransport{}
	f.cond = sync.NewCond(&f.mu)
	return f
}

func (f *fakeTransport) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for len(f.pending) == 0 && !f.closed && f.readErr == nil {
		f.cond.Wait()
	}
	switch {
	case f.closed:
		return 0, device.ErrClosed
	case f.readErr != nil:
		return 0, f.readErr
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, device.ErrClosed
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.writes = append(f.writes, p...)
	return len(p), nil
}

func (f *fakeTransport) ResetInputBuffer() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return device.ErrClosed
	}
	f.pending = f.pending[:0]
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	f.cond.Broadcast()
	return nil
}

func (f *fakeTransport) push(count uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b := frame.Encode(count)
	f.pending = append(f.pending, b[:]...)
	f.cond.Broadcast()
}

func (f *fakeTransport) failReads(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.readErr = err
	f.cond.Broadcast()
}

func (f *fakeTransport) failWrites(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writeErr = err
}

func (f *fakeTransport) written() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.writes...)
}

// recordingSink keeps everything it is given.
type recordingSink struct {
	mu           sync.Mutex
	samples      [][2]float64
	trajectories []trajectory.Trajectory
}

func (s *recordingSink) Sample(elapsed, temperature float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = append(s.samples, [2]float64{elapsed, temperature})
}

func (s *recordingSink) Trajectory(t trajectory.Trajectory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trajectories = append(s.trajectories, t)
}

func (s *recordingSink) sampleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func (s *recordingSink) lastSample() [2]float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.samples) == 0 {
		return [2]float64{}
	}
	return s.samples[len(s.samples)-1]
}

func (s *recordingSink) trajectoryCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.trajectories)
}

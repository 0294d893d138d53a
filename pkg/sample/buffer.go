package sample

import "sync"

// Buffer holds the most recent raw ADC counts. One goroutine stores, any number read.
// With a window of one it is simply the latest count.
type Buffer struct {
	mu      sync.Mutex
	window  []uint16
	next    int
	filled  int
	latest  uint16
	initial uint16
	stored  uint64
}

// NewBuffer creates a buffer averaging the last windowSize counts. Until the first
// Store, Value returns initial.
func NewBuffer(windowSize int, initial uint16) *Buffer {
	if windowSize <= 0 {
		windowSize = 1 // No averaging if invalid
	}
	return &Buffer{
		window:  make([]uint16, windowSize),
		latest:  initial,
		initial: initial,
	}
}

// Store records a new count, evicting the oldest from the window.
func (b *Buffer) Store(count uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.window[b.next] = count
	b.next = (b.next + 1) % len(b.window)
	if b.filled < len(b.window) {
		b.filled++
	}
	b.latest = count
	b.stored++
}

// Latest returns the most recently stored count.
func (b *Buffer) Latest() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

// Value returns the window average rounded to the nearest count.
func (b *Buffer) Value() uint16 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.filled == 0 {
		return b.initial
	}
	var sum uint32
	for i := range b.filled {
		sum += uint32(b.window[i])
	}
	return uint16((float64(sum) / float64(b.filled)) + 0.5) // Round to nearest
}

// Stored returns how many counts have been stored.
func (b *Buffer) Stored() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stored
}

// WindowSize returns the averaging window length.
func (b *Buffer) WindowSize() int {
	return len(b.window)
}

// Reset forgets all stored counts.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	clear(b.window)
	b.next = 0
	b.filled = 0
	b.latest = b.initial
	b.stored = 0
}

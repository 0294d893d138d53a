// Package frame decodes the oven MCU's sensor stream.
//
// Every sample travels as three bytes: a 0xFF marker, the low byte of a 12-bit
// reading and the high nibble of the reading in the low nibble of the third byte.
// The upper nibble of the third byte is always zero, which together with the
// marker lets the decoder find frame boundaries in a stream that started mid-frame
// or lost bytes.
package frame

import "io"

const (
	// Size is the length of one frame in bytes.
	Size = 3
	// Marker starts every frame.
	Marker byte = 0xFF
	// Mask selects the bits of the last byte that must be zero.
	Mask byte = 0xF0
)

// Encode builds the frame carrying value. Bits above the 12-bit range are dropped.
func Encode(value uint16) [Size]byte {
	return [Size]byte{Marker, byte(value), byte(value>>8) & 0x0F}
}

// Valid reports whether b holds a well-formed frame.
func Valid(b [Size]byte) bool {
	return b[0] == Marker && b[Size-1]&Mask == 0
}

// Decoder extracts frames from a byte stream.
type Decoder struct {
	r        io.Reader
	window   [Size]byte
	n        int // bytes currently held in window
	one      [1]byte
	consumed int64
}

// NewDecoder creates a decoder reading from r. The decoder reads one byte at a time
// and never buffers ahead, so draining r between frames discards exactly the stale
// bytes and nothing the decoder already owns beyond its partial window.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// ReadFrame returns the next 12-bit reading. When the window does not hold a valid
// frame the oldest byte is dropped and one more byte is read, so a corrupted byte
// costs one byte of resync. Errors from the underlying reader are returned as-is.
func (d *Decoder) ReadFrame() (uint16, error) {
	for d.n < Size {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		d.window[d.n] = b
		d.n++
	}

	for !Valid(d.window) {
		b, err := d.readByte()
		if err != nil {
			return 0, err
		}
		copy(d.window[:], d.window[1:])
		d.window[Size-1] = b
	}

	value := uint16(d.window[2])<<8 | uint16(d.window[1])
	d.n = 0
	return value, nil
}

// Reset discards the partial window.
func (d *Decoder) Reset() {
	d.n = 0
}

// Consumed returns the number of bytes read from the stream so far.
func (d *Decoder) Consumed() int64 {
	return d.consumed
}

func (d *Decoder) readByte() (byte, error) {
	if _, err := io.ReadFull(d.r, d.one[:]); err != nil {
		return 0, err
	}
	d.consumed++
	return d.one[0], nil
}

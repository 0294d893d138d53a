package sample

// Downsample reduces src to at most maxPoints elements for display using simple
// decimation. The first and last elements are always kept.
// Destination-based: reuses dst if it has sufficient capacity, otherwise allocates new.
// Returns the destination slice (may be dst if reused, or a new slice if dst was too small).
func Downsample[T any](dst, src []T, maxPoints int) []T {
	if maxPoints <= 0 {
		return dst[:0]
	}

	if len(src) <= maxPoints {
		if cap(dst) >= len(src) {
			dst = dst[:len(src)]
			copy(dst, src)
			return dst
		}
		result := make([]T, len(src))
		copy(result, src)
		return result
	}

	if cap(dst) >= maxPoints {
		dst = dst[:0]
	} else {
		dst = make([]T, 0, maxPoints)
	}

	if maxPoints == 1 {
		return append(dst, src[len(src)-1])
	}

	// Spread maxPoints indices evenly over [0, len(src)-1].
	last := len(src) - 1
	for i := range maxPoints {
		dst = append(dst, src[i*last/(maxPoints-1)])
	}

	return dst
}

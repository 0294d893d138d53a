// Package sample holds the shared latest-count buffer and the sample types passed to
// visualization sinks.
package sample

import (
	"time"

	"github.com/itohio/goreflow/pkg/thermistor"
)

// Sample represents a converted measurement.
type Sample struct {
	Timestamp   time.Time
	Elapsed     float64 // Seconds since the oven started
	Count       uint16  // 12-bit ADC reading
	Resistance  float64 // Ω
	Temperature float64 // °C
}

// FromReading builds a Sample from a converter reading.
func FromReading(ts time.Time, elapsed float64, r thermistor.Reading) Sample {
	return Sample{
		Timestamp:   ts,
		Elapsed:     elapsed,
		Count:       r.Count,
		Resistance:  r.Resistance,
		Temperature: r.Temperature,
	}
}

// Point is one (time, value) pair of a plotted series.
type Point struct {
	Time  float64 `json:"t"` // Seconds
	Value float64 `json:"v"`
}

// Point returns the sample as an elapsed time / temperature point.
func (s Sample) Point() Point {
	return Point{Time: s.Elapsed, Value: s.Temperature}
}

// Points zips parallel time and value slices, truncating to the shorter one.
func Points(times, values []float64) []Point {
	n := min(len(times), len(values))
	out := make([]Point, n)
	for i := range n {
		out[i] = Point{Time: times[i], Value: values[i]}
	}
	return out
}

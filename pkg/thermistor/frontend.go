package thermistor

import "math"

// MaxCount is the largest value a 12-bit sensor frame can carry.
const MaxCount = 0x0FFF

// FrontEnd describes the analog path between the probe and the ADC: a constant
// current IRef through the probe, an amplifier with gain ADCComp and an ADC spanning
// 0..URef over ADCMax counts.
type FrontEnd struct {
	URef    float64 `yaml:"uref"`     // ADC reference voltage (V)
	IRef    float64 `yaml:"iref"`     // Probe excitation current (A)
	ADCComp float64 `yaml:"adc_comp"` // Front end gain compensation
	ADCMax  float64 `yaml:"adc_max"`  // Full scale count
	// MinCount keeps the derived resistance positive when the probe is disconnected
	// and the ADC reads zero.
	MinCount uint16 `yaml:"min_count"`
}

// DefaultFrontEnd returns the values of the reference oven board.
func DefaultFrontEnd() FrontEnd {
	return FrontEnd{
		URef:     5.0,
		IRef:     0.0025,
		ADCComp:  6.0 / 5.0,
		ADCMax:   1023,
		MinCount: 1,
	}
}

// Resistance converts an ADC count into probe resistance in ohms. Counts below
// MinCount are raised to it, so the result is always positive for a valid front end.
func (f FrontEnd) Resistance(count uint16) float64 {
	minCount := f.MinCount
	if minCount == 0 {
		minCount = 1
	}
	if count < minCount {
		count = minCount
	}
	return (f.URef * float64(count) / f.ADCMax * f.ADCComp) / f.IRef
}

// Count is the inverse of Resistance, rounded and clamped to the 12-bit frame range.
func (f FrontEnd) Count(ohms float64) uint16 {
	c := math.Round(ohms * f.IRef / f.ADCComp * f.ADCMax / f.URef)
	switch {
	case c < 0 || math.IsNaN(c):
		return 0
	case c > MaxCount:
		return MaxCount
	}
	return uint16(c)
}

// Reading is a converted sensor count.
type Reading struct {
	Count       uint16
	Resistance  float64 // Ω
	Temperature float64 // °C
}

// Converter chains FrontEnd and SteinhartHart.
type Converter struct {
	FrontEnd      FrontEnd
	SteinhartHart SteinhartHart
}

// NewConverter creates a converter from the given front end and coefficients.
func NewConverter(fe FrontEnd, sh SteinhartHart) Converter {
	return Converter{FrontEnd: fe, SteinhartHart: sh}
}

// Convert maps an ADC count to resistance and temperature. The front end guard keeps
// the resistance positive, so an error only surfaces for a misconfigured front end.
func (c Converter) Convert(count uint16) (Reading, error) {
	r := c.FrontEnd.Resistance(count)
	t, err := c.SteinhartHart.Celsius(r)
	if err != nil {
		return Reading{Count: count, Resistance: r}, err
	}
	return Reading{Count: count, Resistance: r, Temperature: t}, nil
}

// Count returns the ADC count the front end would report at the given temperature.
// The resistance is searched within the span the front end can represent.
func (c Converter) Count(celsius float64) (uint16, error) {
	maxOhms := c.FrontEnd.Resistance(MaxCount)
	minOhms := c.FrontEnd.Resistance(1)
	r, err := c.SteinhartHart.Resistance(celsius, minOhms, maxOhms)
	if err != nil {
		return 0, err
	}
	return c.FrontEnd.Count(r), nil
}

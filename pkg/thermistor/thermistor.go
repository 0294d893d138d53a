// Package thermistor converts sensor readings into temperatures.
//
// The oven's sensor is a resistive probe fed by a constant current source. The MCU
// reports the voltage across it as an ADC count; FrontEnd turns the count back into a
// resistance and SteinhartHart maps the resistance to a temperature.
package thermistor

import (
	"errors"
	"fmt"
	"math"
)

// KelvinOffset is 0 °C expressed in Kelvin.
const KelvinOffset = 273.15

var (
	ErrNonPositiveResistance = errors.New("thermistor: resistance must be positive")
	ErrOutOfRange            = errors.New("thermistor: temperature out of range")
	ErrCalibrationPoints     = errors.New("thermistor: need 3 or 4 calibration points")
)

// SteinhartHart holds the four coefficients of the extended Steinhart-Hart equation:
//
//	1/T = A + B*ln(R) + C*ln(R)^2 + D*ln(R)^3
type SteinhartHart struct {
	A float64 `yaml:"a"`
	B float64 `yaml:"b"`
	C float64 `yaml:"c"`
	D float64 `yaml:"d"`
}

// DefaultSteinhartHart returns the coefficients fitted for the oven's KTY probe.
func DefaultSteinhartHart() SteinhartHart {
	return SteinhartHart{
		A: 0.049182398851342568,
		B: -0.015880288085651714,
		C: 0.0018439776862060255,
		D: -7.5225149204180178e-05,
	}
}

// Kelvin returns the absolute temperature for resistance r in ohms.
func (s SteinhartHart) Kelvin(r float64) (float64, error) {
	if r <= 0 || math.IsNaN(r) {
		return 0, fmt.Errorf("%w: %g", ErrNonPositiveResistance, r)
	}
	lnR := math.Log(r)
	return 1 / (s.A + s.B*lnR + s.C*lnR*lnR + s.D*lnR*lnR*lnR), nil
}

// Celsius returns the temperature in degrees Celsius for resistance r in ohms.
func (s SteinhartHart) Celsius(r float64) (float64, error) {
	k, err := s.Kelvin(r)
	if err != nil {
		return 0, err
	}
	return k - KelvinOffset, nil
}

// Resistance inverts Celsius by bisection over [minOhms, maxOhms]. The curve must be
// monotonic over the bracket.
func (s SteinhartHart) Resistance(celsius, minOhms, maxOhms float64) (float64, error) {
	if minOhms <= 0 || maxOhms <= minOhms {
		return 0, fmt.Errorf("%w: bracket [%g, %g]", ErrNonPositiveResistance, minOhms, maxOhms)
	}

	lo, hi := minOhms, maxOhms
	tLo, err := s.Celsius(lo)
	if err != nil {
		return 0, err
	}
	tHi, err := s.Celsius(hi)
	if err != nil {
		return 0, err
	}
	if (celsius-tLo)*(celsius-tHi) > 0 {
		return 0, fmt.Errorf("%w: %.2f °C not within [%.2f, %.2f]", ErrOutOfRange, celsius, tLo, tHi)
	}
	increasing := tHi > tLo

	for range 100 {
		mid := (lo + hi) / 2
		t, err := s.Celsius(mid)
		if err != nil {
			return 0, err
		}
		if (t < celsius) == increasing {
			lo = mid
		} else {
			hi = mid
		}
		if hi-lo < 1e-9*hi {
			break
		}
	}
	return (lo + hi) / 2, nil
}

//go:build tinygo

package main

import "machine"

const (
	// Sampling configuration
	SAMPLE_INTERVAL_MS = 2  // ADC read interval in milliseconds
	NUM_SAMPLES        = 25 // Samples averaged into one frame, one frame every 50 ms

	// ADC configuration. The host front end assumes a 10-bit count over 5 V.
	ADC_REFERENCE_MV = 5000
	ADC_RESOLUTION   = 10

	// Probe input
	PIN_PROBE = machine.A1

	// Solid state relay driving the heater
	PIN_HEATER = machine.D7
	PWM_PERIOD = 1e9 / 10 // ns, zero-cross SSRs need a slow carrier

	// Serial configuration
	// A frame is 3 bytes every 50 ms = 60 bytes/sec, the duty byte only comes on
	// change. 57600 8N1 matches the host default.
	UART_BAUD_RATE = 57600
)

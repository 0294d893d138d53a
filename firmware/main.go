//go:build tinygo

//go:generate tinygo flash -target=xiao

package main

import (
	"machine"
	"time"
)

// Frame layout shared with pkg/frame: marker, low byte, high nibble.
const (
	frameMarker = 0xFF
	frameMask   = 0xF0
)

var (
	adcProbe machine.ADC
	uart     = machine.UART0

	pwm        = machine.TCC0
	pwmChannel uint8

	// ADC averaging
	probeSum   uint32
	probeCount int

	// Timing
	lastADCRead time.Time
)

func main() {
	PIN_PROBE.Configure(machine.PinConfig{Mode: machine.PinInput})
	adcProbe = machine.ADC{Pin: PIN_PROBE}
	adcProbe.Configure(machine.ADCConfig{
		Reference:  ADC_REFERENCE_MV,
		Resolution: ADC_RESOLUTION,
	})

	// Heater off until the host says otherwise
	if err := pwm.Configure(machine.PWMConfig{Period: PWM_PERIOD}); err != nil {
		println("pwm:", err.Error())
	}
	ch, err := pwm.Channel(PIN_HEATER)
	if err != nil {
		println("pwm channel:", err.Error())
	}
	pwmChannel = ch
	setDuty(0)

	uart.Configure(machine.UARTConfig{
		BaudRate: UART_BAUD_RATE,
	})

	lastADCRead = time.Now()

	for {
		now := time.Now()

		processSerial()

		if now.Sub(lastADCRead) >= time.Duration(SAMPLE_INTERVAL_MS)*time.Millisecond {
			readProbe()
			lastADCRead = now
		}

		if probeCount >= NUM_SAMPLES {
			writeFrame(uint16(probeSum / uint32(probeCount)))
			probeSum = 0
			probeCount = 0
		}

		time.Sleep(100 * time.Microsecond)
	}
}

func readProbe() {
	// Get returns a left-aligned 16-bit value regardless of resolution.
	value := adcProbe.Get() >> (16 - ADC_RESOLUTION)
	probeSum += uint32(value)
	probeCount++
}

func writeFrame(count uint16) {
	hi := byte(count>>8) &^ frameMask
	uart.WriteByte(frameMarker)
	uart.WriteByte(byte(count))
	uart.WriteByte(hi)
}

// processSerial applies the last duty byte received. Every byte is a complete
// command, so a burst collapses to its final value.
func processSerial() {
	received := false
	var duty byte
	for uart.Buffered() > 0 {
		data, err := uart.ReadByte()
		if err != nil {
			break
		}
		duty = data
		received = true
	}
	if received {
		setDuty(duty)
	}
}

func setDuty(duty byte) {
	pwm.Set(pwmChannel, pwm.Top()*uint32(duty)/255)
}

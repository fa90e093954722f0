// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 MyTooliT

package icotronic

import (
	"fmt"
	"math"
	"slices"
)

// adcClock is the ADC clock frequency of sensor devices in Hz
const adcClock = 38_400_000

// acquisitionTimes are the supported acquisition times in ADC clock cycles,
// indexed by their wire code
var acquisitionTimes = []int{1, 2, 3, 4, 8, 16, 32, 64, 128, 256}

// maxOversamplingExponent bounds the oversampling rate to 2^12
const maxOversamplingExponent = 12

// ADCConfiguration is the analog front end setup of a sensor device
type ADCConfiguration struct {
	Prescaler        int     // clock divider minus one (1-127)
	AcquisitionTime  int     // sample and hold time in clock cycles
	OversamplingRate int     // samples averaged per value (power of two)
	ReferenceVoltage float64 // in volts
}

// DefaultADCConfiguration returns the factory ADC setup
func DefaultADCConfiguration() ADCConfiguration {
	return ADCConfiguration{
		Prescaler:        2,
		AcquisitionTime:  8,
		OversamplingRate: 64,
		ReferenceVoltage: 3.3,
	}
}

// SampleRate returns the resulting sample rate in Hz
func (c ADCConfiguration) SampleRate() float64 {
	return adcClock / (float64(c.Prescaler+1) * float64(c.AcquisitionTime+13) * float64(c.OversamplingRate))
}

func (c ADCConfiguration) String() string {
	return fmt.Sprintf("prescaler %d, acquisition time %d, oversampling rate %d, reference %.2f V (%.0f Hz)",
		c.Prescaler, c.AcquisitionTime, c.OversamplingRate, c.ReferenceVoltage, c.SampleRate())
}

// Validate checks that all values can be transmitted
func (c ADCConfiguration) Validate() error {
	if c.Prescaler < 1 || c.Prescaler > 127 {
		return fmt.Errorf("prescaler out of range: %d (1-127)", c.Prescaler)
	}
	if !slices.Contains(acquisitionTimes, c.AcquisitionTime) {
		return fmt.Errorf("unsupported acquisition time: %d (want one of %v)", c.AcquisitionTime, acquisitionTimes)
	}
	if _, err := oversamplingCode(c.OversamplingRate); err != nil {
		return err
	}
	if c.ReferenceVoltage <= 0 || c.ReferenceVoltage*20 > 255 {
		return fmt.Errorf("reference voltage out of range: %.2f V", c.ReferenceVoltage)
	}
	return nil
}

func oversamplingCode(rate int) (byte, error) {
	for exp := 0; exp <= maxOversamplingExponent; exp++ {
		if 1<<exp == rate {
			return byte(exp), nil
		}
	}
	return 0, fmt.Errorf("unsupported oversampling rate: %d (power of two up to %d)", rate, 1<<maxOversamplingExponent)
}

// encode returns the request payload. Byte 0 bit 7 selects set; the
// reference voltage is sent in units of 50 mV.
func (c ADCConfiguration) encode(set bool) []byte {
	payload := make([]byte, 8)
	if !set {
		return payload
	}

	acq := slices.Index(acquisitionTimes, c.AcquisitionTime)
	ovs, _ := oversamplingCode(c.OversamplingRate)
	payload[0] = 0x80
	payload[1] = byte(c.Prescaler)
	payload[2] = byte(acq)
	payload[3] = ovs
	payload[4] = byte(math.Round(c.ReferenceVoltage * 20))
	return payload
}

func decodeADCConfiguration(data []byte) (ADCConfiguration, error) {
	if len(data) < 5 {
		return ADCConfiguration{}, fmt.Errorf("short ADC configuration [% X]", data)
	}
	if int(data[2]) >= len(acquisitionTimes) {
		return ADCConfiguration{}, fmt.Errorf("invalid acquisition time code %d", data[2])
	}
	if data[3] > maxOversamplingExponent {
		return ADCConfiguration{}, fmt.Errorf("invalid oversampling code %d", data[3])
	}
	return ADCConfiguration{
		Prescaler:        int(data[1]),
		AcquisitionTime:  acquisitionTimes[data[2]],
		OversamplingRate: 1 << data[3],
		ReferenceVoltage: float64(data[4]) / 20,
	}, nil
}

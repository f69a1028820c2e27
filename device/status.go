// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cenkalti/backoff"
)

var (
	// ErrDigitalTest is returned when the digital test of the detector
	// did not pass.
	ErrDigitalTest = errors.New("katherine: digital test failed")
)

// ReadoutStatus describes the readout hardware.
type ReadoutStatus struct {
	HWType     uint8
	HWRevision uint8
	HWSerial   uint16
	FWVersion  uint16
}

func (st ReadoutStatus) String() string {
	return fmt.Sprintf(
		"hw-type=%d, hw-rev=%d, serial=%d, fw=0x%x",
		st.HWType, st.HWRevision, st.HWSerial, st.FWVersion,
	)
}

// CommStatus describes the link between the readout and the detector.
type CommStatus struct {
	LineMask     uint8
	DataRate     uint32 // in Mbps
	ChipDetected bool
}

func (st CommStatus) String() string {
	return fmt.Sprintf(
		"lines=0b%08b, rate=%d Mbps, chip-detected=%v",
		st.LineMask, st.DataRate, st.ChipDetected,
	)
}

// ReadoutStatus queries the readout hardware description.
func (dev *Device) ReadoutStatus() (ReadoutStatus, error) {
	var st ReadoutStatus
	crd, err := dev.locked(newCmd(cmdReadoutStatus))
	if err != nil {
		return st, fmt.Errorf("katherine: could not get readout status: %w", err)
	}
	v := binary.LittleEndian.Uint64(crd[:])
	st.HWType = uint8(v)
	st.HWRevision = uint8(v >> 8)
	st.HWSerial = uint16(v >> 16)
	st.FWVersion = uint16(v >> 32)
	return st, nil
}

// CommStatus queries the status of the link to the detector.
func (dev *Device) CommStatus() (CommStatus, error) {
	var st CommStatus
	crd, err := dev.locked(newCmd(cmdCommStatus))
	if err != nil {
		return st, fmt.Errorf("katherine: could not get communication status: %w", err)
	}
	st.LineMask = crd[0]
	st.DataRate = 5 * uint32(crd[1])
	st.ChipDetected = crd[2] != 0
	return st, nil
}

// ChipID returns the identifier of the detector, e.g. "H6-W0001".
func (dev *Device) ChipID() (string, error) {
	crd, err := dev.locked(newCmd(cmdEchoChipID))
	if err != nil {
		return "", fmt.Errorf("katherine: could not get chip id: %w", err)
	}
	return chipID(binary.LittleEndian.Uint32(crd[:4])), nil
}

func chipID(id uint32) string {
	var (
		x = int(id&0xF) - 1
		y = (id >> 4) & 0xF
		w = (id >> 8) & 0xFFF
	)
	return fmt.Sprintf("%c%d-W000%d", rune('A'+x), y, w)
}

// ReadoutTemperature returns the temperature of the readout, in °C.
func (dev *Device) ReadoutTemperature() (float32, error) {
	v, err := dev.float(newCmd(cmdReadoutTemp))
	if err != nil {
		return 0, fmt.Errorf("katherine: could not get readout temperature: %w", err)
	}
	return v, nil
}

// SensorTemperature returns the temperature of the sensor, in °C.
func (dev *Device) SensorTemperature() (float32, error) {
	v, err := dev.float(newCmd(cmdSensorTemp))
	if err != nil {
		return 0, fmt.Errorf("katherine: could not get sensor temperature: %w", err)
	}
	return v, nil
}

// ADCVoltage returns the voltage measured on an ADC channel, in volts.
func (dev *Device) ADCVoltage(ch uint8) (float32, error) {
	v, err := dev.float(cmdLong(cmdGetADC, uint64(ch)))
	if err != nil {
		return 0, fmt.Errorf("katherine: could not get voltage of ADC channel %d: %w", ch, err)
	}
	return v, nil
}

// digitalTestAttempts bounds the number of acknowledgement polls while
// the detector runs its digital test.
const digitalTestAttempts = 100

// DigitalTest runs the digital test of the detector.
// It returns ErrDigitalTest if the detector reported a failure.
func (dev *Device) DigitalTest() error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()

	err := dev.send(newCmd(cmdDigitalTest))
	if err != nil {
		return fmt.Errorf("katherine: could not start digital test: %w", err)
	}

	var crd [cmdSize]byte
	err = backoff.Retry(
		func() error { return dev.ackCRD(&crd) },
		backoff.WithMaxRetries(&backoff.ZeroBackOff{}, digitalTestAttempts-1),
	)
	if err != nil {
		return fmt.Errorf("katherine: digital test did not complete: %w", err)
	}

	if crd[0] != 64 {
		return fmt.Errorf("%w (code=%d)", ErrDigitalTest, crd[0])
	}
	return nil
}

func (dev *Device) locked(cmd command) ([cmdSize]byte, error) {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.query(cmd)
}

func (dev *Device) float(cmd command) (float32, error) {
	crd, err := dev.locked(cmd)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(crd[:4])), nil
}

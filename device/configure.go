// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import (
	"fmt"
	"time"

	"github.com/go-lpc/katherine/config"
	"github.com/go-lpc/katherine/md"
	"github.com/go-lpc/katherine/pxcfg"
)

// SensorRegister is the index of a Timepix3 register.
type SensorRegister uint8

const (
	RegPLL     SensorRegister = 3
	RegGeneral SensorRegister = 4
)

const pixelChunk = 1024

// Configure pushes the whole detector configuration to the readout.
func (dev *Device) Configure(cfg *config.Config) error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()

	for _, step := range []struct {
		name string
		f    func() error
	}{
		{"pixel matrix", func() error { return dev.setPixelConfig(cfg.PixelConfig) }},
		{"acquisition time", func() error { return dev.setAcqTime(cfg.AcqTime) }},
		{"number of frames", func() error { return dev.setNoFrames(cfg.NoFrames) }},
		{"bias", func() error { return dev.setBias(cfg.BiasID, cfg.Bias) }},
		{"triggers", func() error {
			return dev.acqSetup(cfg.StartTrigger, cfg.DelayedStart, cfg.StopTrigger)
		}},
		{"general register", func() error {
			return dev.setSensorRegister(RegGeneral, generalSetup(cfg))
		}},
		{"PLL register", func() error {
			return dev.setSensorRegister(RegPLL, pllSetup(cfg))
		}},
		{"output block", func() error { return dev.hw(hwOutputBlockUpdate) }},
		{"sensor registers", func() error { return dev.hw(hwSensorRegsUpdate) }},
		{"timer", func() error { return dev.hw(hwTimerSet) }},
		{"DACs", func() error { return dev.setDACs(cfg.DACs) }},
	} {
		err := step.f()
		if err != nil {
			return fmt.Errorf("katherine: could not configure %s: %w", step.name, err)
		}
	}

	dev.msg.Printf("configured %s: frames=%d, acq-time=%v, bias=%gV", dev.addr, cfg.NoFrames, cfg.AcqTime, cfg.Bias)
	return nil
}

func generalSetup(cfg *config.Config) uint32 {
	v := uint32(0x58)
	if !cfg.PolarityHoles {
		v |= 1
	}
	if cfg.GrayDisable {
		v |= 1 << 3
	}
	return v
}

func pllSetup(cfg *config.Config) uint32 {
	v := uint32(0xE)
	v |= (uint32(cfg.Phase) & 0x7) << 6
	v |= (uint32(cfg.Freq) & 0x3) << 4
	v |= 0x14 << 9
	return v
}

// SetPixelConfig loads the pixel configuration matrix into the detector.
func (dev *Device) SetPixelConfig(px *pxcfg.Matrix) error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.setPixelConfig(px)
}

func (dev *Device) setPixelConfig(px *pxcfg.Matrix) error {
	if px == nil {
		px = new(pxcfg.Matrix)
	}

	err := dev.send(newCmd(cmdSetAllPixelCfg))
	if err != nil {
		return err
	}

	raw := px.Bytes()
	for i := 0; i < len(raw); i += pixelChunk {
		err = dev.ctl.Send(raw[i : i+pixelChunk])
		if err != nil {
			return fmt.Errorf("katherine: could not send pixel configuration chunk %d: %w", i/pixelChunk, err)
		}
	}

	err = dev.ack()
	if err != nil {
		return err
	}

	err = dev.hw(hwResetMatrixSeq)
	if err != nil {
		return err
	}

	return dev.hw(hwLoadPixelConfig)
}

// SetAcqTime sets the duration of a frame, with a 10ns resolution.
func (dev *Device) SetAcqTime(d time.Duration) error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.setAcqTime(d)
}

func (dev *Device) setAcqTime(d time.Duration) error {
	acqt := uint64(d.Nanoseconds() / 10)
	err := dev.exec(cmdLong(cmdAcqTimeLSB, acqt&0xFFFFFFFF))
	if err != nil {
		return err
	}
	return dev.exec(cmdLong(cmdAcqTimeMSB, acqt>>32))
}

// SetNoFrames sets the number of frames to acquire.
func (dev *Device) SetNoFrames(n int) error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.setNoFrames(n)
}

func (dev *Device) setNoFrames(n int) error {
	return dev.exec(cmdLong(cmdNumberOfFrames, uint64(n)))
}

// SetBias sets the bias voltage, in volts.
// The readout has a single bias source: id is ignored.
func (dev *Device) SetBias(id uint8, v float32) error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.setBias(id, v)
}

func (dev *Device) setBias(_ uint8, v float32) error {
	cmd := newCmd(cmdBias)
	cmd.putFloat(v)
	return dev.exec(cmd)
}

// AcquisitionSetup configures the start and stop triggers.
func (dev *Device) AcquisitionSetup(start config.Trigger, delayed bool, stop config.Trigger) error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.acqSetup(start, delayed, stop)
}

func (dev *Device) acqSetup(start config.Trigger, delayed bool, stop config.Trigger) error {
	cmd := newCmd(cmdAcqSetup)
	cmd.putIndex(0x05)
	cmd[0] = trigger(start)
	if delayed {
		cmd[0] |= 1 << 5
	}
	cmd[1] = trigger(stop)
	return dev.exec(cmd)
}

func trigger(t config.Trigger) byte {
	var v byte
	if t.Enabled {
		v |= 1
	}
	v |= t.Channel << 1
	if t.FallingEdge {
		v |= 1 << 4
	}
	return v
}

// SetSensorRegister writes a Timepix3 register.
// The new value is applied with UpdateSensorRegisters.
func (dev *Device) SetSensorRegister(reg SensorRegister, v uint32) error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.setSensorRegister(reg, v)
}

func (dev *Device) setSensorRegister(reg SensorRegister, v uint32) error {
	cmd := newCmd(cmdSensorReg)
	cmd.putIndex(uint8(reg))
	cmd.putLong(uint64(v))
	return dev.exec(cmd)
}

// UpdateSensorRegisters applies the sensor registers.
func (dev *Device) UpdateSensorRegisters() error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.hw(hwSensorRegsUpdate)
}

// UpdateOutputBlock applies the output block configuration.
func (dev *Device) UpdateOutputBlock() error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.hw(hwOutputBlockUpdate)
}

// SetTimer resets the timer of the detector.
func (dev *Device) SetTimer() error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.hw(hwTimerSet)
}

// SetDACs writes and applies all the internal DACs.
func (dev *Device) SetDACs(dacs config.DACs) error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.setDACs(dacs)
}

func (dev *Device) setDACs(dacs config.DACs) error {
	for i, v := range dacs.Array() {
		cmd := newCmd(cmdDAC)
		cmd.putIndex(uint8(i))
		cmd.putLong(uint64(v))
		err := dev.exec(cmd)
		if err != nil {
			return fmt.Errorf("katherine: could not set DAC %s: %w", DACName(i), err)
		}
	}
	return dev.hw(hwDACUpdate)
}

var dacNames = [config.NumDACs]string{
	"Ibias_Preamp_ON",
	"Ibias_Preamp_OFF",
	"VPReamp_NCAS",
	"Ibias_Ikrum",
	"Vfbk",
	"Vthreshold_fine",
	"Vthreshold_coarse",
	"Ibias_DiscS1_ON",
	"Ibias_DiscS1_OFF",
	"Ibias_DiscS2_ON",
	"Ibias_DiscS2_OFF",
	"Ibias_PixelDAC",
	"Ibias_TPbufferIn",
	"Ibias_TPbufferOut",
	"VTP_coarse",
	"VTP_fine",
	"Ibias_CP_PLL",
	"PLL_Vcntrl",
}

// DACName returns the name of the i-th internal DAC.
func DACName(i int) string {
	if i < 0 || i >= len(dacNames) {
		return fmt.Sprintf("DAC(%d)", i)
	}
	return dacNames[i]
}

// SetAcqMode selects the acquisition mode and the clock variant.
func (dev *Device) SetAcqMode(mode md.Mode, fastVCO bool) error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()

	cmd := newCmd(cmdAcqMode)
	cmd[0] = byte(mode)
	if fastVCO {
		cmd[0] |= 1 << 7
	}
	return dev.exec(cmd)
}

// SetSeqReadoutStart signals the start of a sequential readout.
// The readout does not acknowledge this command.
func (dev *Device) SetSeqReadoutStart(ro Readout) error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.send(cmdLong(cmdSeqReadoutStart, uint64(ro)))
}

// StartAcquisition starts an acquisition.
// The readout does not acknowledge this command: measurement data
// starts flowing on the data channel.
func (dev *Device) StartAcquisition(ro Readout) error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.send(cmdLong(cmdAcqStart, uint64(ro)))
}

// StopAcquisition asks the readout to end the current acquisition.
func (dev *Device) StopAcquisition(ro Readout) error {
	dev.ctl.Lock()
	defer dev.ctl.Unlock()
	return dev.send(cmdLong(cmdAcqStop, uint64(ro)))
}

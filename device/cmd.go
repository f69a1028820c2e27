// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package device

import (
	"encoding/binary"
	"fmt"
	"math"
)

// cmdSize is the size of a command and of its acknowledgement.
const cmdSize = 8

type cmdType uint8

const (
	cmdAcqTimeLSB      cmdType = 0x01
	cmdBias            cmdType = 0x02
	cmdAcqStart        cmdType = 0x03
	cmdDAC             cmdType = 0x04
	cmdSeqReadoutStart cmdType = 0x05
	cmdAcqStop         cmdType = 0x06
	cmdHW              cmdType = 0x07
	cmdSensorReg       cmdType = 0x08
	cmdAcqMode         cmdType = 0x09
	cmdAcqTimeMSB      cmdType = 0x0A
	cmdEchoChipID      cmdType = 0x0B
	cmdGetBias         cmdType = 0x0C
	cmdGetADC          cmdType = 0x0D
	cmdGetBackReadReg  cmdType = 0x0E
	cmdDACScan         cmdType = 0x0F
	cmdSetPixelConfig  cmdType = 0x10
	cmdGetPixelConfig  cmdType = 0x11
	cmdSetAllPixelCfg  cmdType = 0x12
	cmdNumberOfFrames  cmdType = 0x13
	cmdGetAllDACScan   cmdType = 0x14
	cmdReadoutTemp     cmdType = 0x15
	cmdLED             cmdType = 0x16
	cmdReadoutStatus   cmdType = 0x17
	cmdCommStatus      cmdType = 0x18
	cmdSensorTemp      cmdType = 0x19
	cmdDigitalTest     cmdType = 0x20
	cmdAcqSetup        cmdType = 0x21
	cmdInternalTrigger cmdType = 0x23
	cmdToACalibration  cmdType = 0x28
	cmdTDC             cmdType = 0x32
)

// hwCmd is a hardware command, started with cmdHW.
type hwCmd uint8

const (
	hwSensorRegsUpdate     hwCmd = 0
	hwDACUpdate            hwCmd = 1
	hwDACBackRead          hwCmd = 2
	hwTimerRead            hwCmd = 3
	hwTimerSet             hwCmd = 4
	hwResetMatrixSeq       hwCmd = 5
	hwStopMatrix           hwCmd = 6
	hwLoadColTestPulse     hwCmd = 7
	hwReadColTestPulse     hwCmd = 8
	hwLoadPixelConfig      hwCmd = 9
	hwReadPixelConfig      hwCmd = 10
	hwReadMatrixSeq        hwCmd = 11
	hwReadMatrixDataDriven hwCmd = 12
	hwChipIDRead           hwCmd = 13
	hwOutputBlockUpdate    hwCmd = 14
	hwDigitalTest          hwCmd = 15
)

// command is an 8-byte command datagram.
type command [cmdSize]byte

func newCmd(typ cmdType) command {
	var cmd command
	cmd[6] = byte(typ)
	return cmd
}

// putLong writes v little-endian from the first byte, stopping at the
// last non-zero byte.
func (cmd *command) putLong(v uint64) *command {
	for i := 0; v > 0 && i < 6; i++ {
		cmd[i] = byte(v)
		v >>= 8
	}
	return cmd
}

func (cmd *command) putFloat(v float32) *command {
	binary.LittleEndian.PutUint32(cmd[:4], math.Float32bits(v))
	return cmd
}

func (cmd *command) putIndex(i uint8) *command {
	cmd[4] = i
	return cmd
}

func cmdLong(typ cmdType, v uint64) command {
	cmd := newCmd(typ)
	cmd.putLong(v)
	return cmd
}

func cmdHWStart(hw hwCmd) command {
	cmd := newCmd(cmdHW)
	cmd[0] = byte(hw)
	return cmd
}

// The methods below expect the control channel to be locked.

func (dev *Device) send(cmd command) error {
	err := dev.ctl.Send(cmd[:])
	if err != nil {
		return fmt.Errorf("katherine: could not send command 0x%02x: %w", cmd[6], err)
	}
	return nil
}

func (dev *Device) ack() error {
	var crd [cmdSize]byte
	return dev.ackCRD(&crd)
}

// ackCRD waits for an acknowledgement and its command response data.
func (dev *Device) ackCRD(crd *[cmdSize]byte) error {
	err := dev.ctl.RecvExact(crd[:])
	if err != nil {
		return fmt.Errorf("katherine: could not receive acknowledgement: %w", err)
	}
	return nil
}

// exec sends a command and waits for its acknowledgement.
func (dev *Device) exec(cmd command) error {
	err := dev.send(cmd)
	if err != nil {
		return err
	}
	return dev.ack()
}

// query sends a command and returns its command response data.
func (dev *Device) query(cmd command) ([cmdSize]byte, error) {
	var crd [cmdSize]byte
	err := dev.send(cmd)
	if err != nil {
		return crd, err
	}
	err = dev.ackCRD(&crd)
	return crd, err
}

func (dev *Device) hw(cmd hwCmd) error {
	return dev.exec(cmdHWStart(cmd))
}

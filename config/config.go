// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config describes the configuration of a Katherine readout and
// of a Timepix3 acquisition.
package config // import "github.com/go-lpc/katherine/config"

import (
	"fmt"
	"time"

	"github.com/go-lpc/katherine/pxcfg"
)

// Trigger describes an external trigger.
type Trigger struct {
	Enabled     bool  `toml:"enabled" yaml:"enabled" json:"enabled"`
	Channel     uint8 `toml:"channel" yaml:"channel" json:"channel"`
	FallingEdge bool  `toml:"falling_edge" yaml:"falling_edge" json:"falling_edge"`
}

// Phase is the number of clock phases of the detector.
type Phase uint8

const (
	Phase1  Phase = 0
	Phase2  Phase = 1
	Phase4  Phase = 2
	Phase8  Phase = 3
	Phase16 Phase = 4
)

// Freq is the clock frequency of the detector.
type Freq uint8

const (
	Freq40  Freq = 1 // 40 MHz
	Freq80  Freq = 2 // 80 MHz
	Freq160 Freq = 3 // 160 MHz
)

// NumDACs is the number of internal DACs of a Timepix3.
const NumDACs = 18

// DACs holds the values of the internal DACs of a Timepix3.
type DACs struct {
	IbiasPreampON    uint16 `toml:"ibias_preamp_on" yaml:"ibias_preamp_on" json:"ibias_preamp_on"`
	IbiasPreampOFF   uint16 `toml:"ibias_preamp_off" yaml:"ibias_preamp_off" json:"ibias_preamp_off"`
	VPreampNCAS      uint16 `toml:"vpreamp_ncas" yaml:"vpreamp_ncas" json:"vpreamp_ncas"`
	IbiasIkrum       uint16 `toml:"ibias_ikrum" yaml:"ibias_ikrum" json:"ibias_ikrum"`
	Vfbk             uint16 `toml:"vfbk" yaml:"vfbk" json:"vfbk"`
	VthresholdFine   uint16 `toml:"vthreshold_fine" yaml:"vthreshold_fine" json:"vthreshold_fine"`
	VthresholdCoarse uint16 `toml:"vthreshold_coarse" yaml:"vthreshold_coarse" json:"vthreshold_coarse"`
	IbiasDiscS1ON    uint16 `toml:"ibias_discs1_on" yaml:"ibias_discs1_on" json:"ibias_discs1_on"`
	IbiasDiscS1OFF   uint16 `toml:"ibias_discs1_off" yaml:"ibias_discs1_off" json:"ibias_discs1_off"`
	IbiasDiscS2ON    uint16 `toml:"ibias_discs2_on" yaml:"ibias_discs2_on" json:"ibias_discs2_on"`
	IbiasDiscS2OFF   uint16 `toml:"ibias_discs2_off" yaml:"ibias_discs2_off" json:"ibias_discs2_off"`
	IbiasPixelDAC    uint16 `toml:"ibias_pixeldac" yaml:"ibias_pixeldac" json:"ibias_pixeldac"`
	IbiasTPbufferIn  uint16 `toml:"ibias_tpbufferin" yaml:"ibias_tpbufferin" json:"ibias_tpbufferin"`
	IbiasTPbufferOut uint16 `toml:"ibias_tpbufferout" yaml:"ibias_tpbufferout" json:"ibias_tpbufferout"`
	VTPCoarse        uint16 `toml:"vtp_coarse" yaml:"vtp_coarse" json:"vtp_coarse"`
	VTPFine          uint16 `toml:"vtp_fine" yaml:"vtp_fine" json:"vtp_fine"`
	IbiasCPPLL       uint16 `toml:"ibias_cp_pll" yaml:"ibias_cp_pll" json:"ibias_cp_pll"`
	PLLVcntrl        uint16 `toml:"pll_vcntrl" yaml:"pll_vcntrl" json:"pll_vcntrl"`
}

// Array returns the DAC values, ordered by DAC index.
func (dacs DACs) Array() [NumDACs]uint16 {
	return [NumDACs]uint16{
		dacs.IbiasPreampON,
		dacs.IbiasPreampOFF,
		dacs.VPreampNCAS,
		dacs.IbiasIkrum,
		dacs.Vfbk,
		dacs.VthresholdFine,
		dacs.VthresholdCoarse,
		dacs.IbiasDiscS1ON,
		dacs.IbiasDiscS1OFF,
		dacs.IbiasDiscS2ON,
		dacs.IbiasDiscS2OFF,
		dacs.IbiasPixelDAC,
		dacs.IbiasTPbufferIn,
		dacs.IbiasTPbufferOut,
		dacs.VTPCoarse,
		dacs.VTPFine,
		dacs.IbiasCPPLL,
		dacs.PLLVcntrl,
	}
}

// Config is the detector configuration pushed to the readout before
// an acquisition.
type Config struct {
	// PixelConfig is the pixel configuration matrix.
	// A nil matrix configures all pixels with zeroes.
	PixelConfig *pxcfg.Matrix `toml:"-" yaml:"-" json:"-"`

	BiasID        uint8         `toml:"bias_id" yaml:"bias_id" json:"bias_id"`
	AcqTime       time.Duration `toml:"acq_time" yaml:"acq_time" json:"acq_time"` // duration of a frame
	NoFrames      int           `toml:"frames" yaml:"frames" json:"frames"`
	Bias          float32       `toml:"bias" yaml:"bias" json:"bias"` // bias voltage, in V
	StartTrigger  Trigger       `toml:"start_trigger" yaml:"start_trigger" json:"start_trigger"`
	DelayedStart  bool          `toml:"delayed_start" yaml:"delayed_start" json:"delayed_start"`
	StopTrigger   Trigger       `toml:"stop_trigger" yaml:"stop_trigger" json:"stop_trigger"`
	GrayDisable   bool          `toml:"gray_disable" yaml:"gray_disable" json:"gray_disable"`
	PolarityHoles bool          `toml:"polarity_holes" yaml:"polarity_holes" json:"polarity_holes"`
	Phase         Phase         `toml:"phase" yaml:"phase" json:"phase"`
	Freq          Freq          `toml:"freq" yaml:"freq" json:"freq"`
	DACs          DACs          `toml:"dacs" yaml:"dacs" json:"dacs"`
}

// Validate checks the configuration for values the readout can not
// represent.
func (cfg *Config) Validate() error {
	switch {
	case cfg.NoFrames <= 0:
		return fmt.Errorf("config: invalid number of frames (%d)", cfg.NoFrames)
	case cfg.AcqTime <= 0:
		return fmt.Errorf("config: invalid acquisition time (%v)", cfg.AcqTime)
	case cfg.Phase > Phase16:
		return fmt.Errorf("config: invalid phase (%d)", cfg.Phase)
	case cfg.Freq < Freq40 || cfg.Freq > Freq160:
		return fmt.Errorf("config: invalid clock frequency (%d)", cfg.Freq)
	case cfg.StartTrigger.Channel > 7 || cfg.StopTrigger.Channel > 7:
		return fmt.Errorf(
			"config: invalid trigger channel (start=%d, stop=%d)",
			cfg.StartTrigger.Channel, cfg.StopTrigger.Channel,
		)
	}
	return nil
}

// Default returns the default detector configuration.
func Default() Config {
	return Config{
		BiasID:   0,
		AcqTime:  10 * time.Second,
		NoFrames: 1,
		Bias:     230,
		Phase:    Phase1,
		Freq:     Freq40,
		DACs: DACs{
			IbiasPreampON:    128,
			IbiasPreampOFF:   8,
			VPreampNCAS:      128,
			IbiasIkrum:       15,
			Vfbk:             164,
			VthresholdFine:   476,
			VthresholdCoarse: 8,
			IbiasDiscS1ON:    100,
			IbiasDiscS1OFF:   8,
			IbiasDiscS2ON:    128,
			IbiasDiscS2OFF:   8,
			IbiasPixelDAC:    128,
			IbiasTPbufferIn:  128,
			IbiasTPbufferOut: 128,
			VTPCoarse:        128,
			VTPFine:          256,
			IbiasCPPLL:       128,
			PLLVcntrl:        128,
		},
	}
}

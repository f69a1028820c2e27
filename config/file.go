// Copyright 2026 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-lpc/katherine/md"
	"github.com/go-lpc/katherine/pxcfg"
	"gopkg.in/yaml.v3"
)

// Device describes how to reach a Katherine readout.
type Device struct {
	Addr        string        `toml:"addr" yaml:"addr" json:"addr"`
	CtlPort     int           `toml:"ctl_port" yaml:"ctl_port" json:"ctl_port"`
	DataPort    int           `toml:"data_port" yaml:"data_port" json:"data_port"`
	RemotePort  int           `toml:"remote_port" yaml:"remote_port" json:"remote_port"`
	CtlTimeout  time.Duration `toml:"ctl_timeout" yaml:"ctl_timeout" json:"ctl_timeout"`
	RecvTimeout time.Duration `toml:"recv_timeout" yaml:"recv_timeout" json:"recv_timeout"`
}

// Acquisition describes how an acquisition is run and read out.
type Acquisition struct {
	Mode    string `toml:"mode" yaml:"mode" json:"mode"` // toa-tot, only-toa or event-itot
	FastVCO bool   `toml:"fast_vco" yaml:"fast_vco" json:"fast_vco"`
	Readout string `toml:"readout" yaml:"readout" json:"readout"` // sequential or data-driven
	Decode  bool   `toml:"decode" yaml:"decode" json:"decode"`

	MDBuffer      int           `toml:"md_buffer" yaml:"md_buffer" json:"md_buffer"`          // in bytes
	PixelBuffer   int           `toml:"pixel_buffer" yaml:"pixel_buffer" json:"pixel_buffer"` // in pixels
	ReportTimeout time.Duration `toml:"report_timeout" yaml:"report_timeout" json:"report_timeout"`
	FailTimeout   time.Duration `toml:"fail_timeout" yaml:"fail_timeout" json:"fail_timeout"`
}

// Format returns the pixel format selected by the acquisition mode.
func (acq Acquisition) Format() (md.Format, error) {
	mode, err := md.ParseMode(acq.Mode)
	if err != nil {
		return 0, fmt.Errorf("config: could not parse acquisition mode: %w", err)
	}
	return md.Select(mode, acq.FastVCO)
}

// Pixels names the pixel configuration file. At most one of BMC and BPC
// may be set. Relative paths are resolved against the directory of the
// run file.
type Pixels struct {
	BMC string `toml:"bmc" yaml:"bmc" json:"bmc"`
	BPC string `toml:"bpc" yaml:"bpc" json:"bpc"`
}

// File is the content of a run file.
type File struct {
	Device      Device      `toml:"device" yaml:"device" json:"device"`
	Acquisition Acquisition `toml:"acquisition" yaml:"acquisition" json:"acquisition"`
	Detector    Config      `toml:"detector" yaml:"detector" json:"detector"`
	Pixels      Pixels      `toml:"pixels" yaml:"pixels" json:"pixels"`
}

// DefaultFile returns a run file filled with default values.
func DefaultFile() File {
	return File{
		Device: Device{
			Addr:        "192.168.1.145",
			CtlPort:     1555,
			DataPort:    1556,
			RemotePort:  1555,
			CtlTimeout:  100 * time.Millisecond,
			RecvTimeout: 100 * time.Millisecond,
		},
		Acquisition: Acquisition{
			Mode:          md.ModeToATot.String(),
			FastVCO:       true,
			Readout:       "data-driven",
			Decode:        true,
			MDBuffer:      md.Size * (65507 / md.Size),
			PixelBuffer:   65536,
			ReportTimeout: 500 * time.Millisecond,
			FailTimeout:   10 * time.Second,
		},
		Detector: Default(),
	}
}

// Load reads the run file fname, on top of the default values.
// The encoding is selected from the file extension: TOML for ".toml"
// and YAML for ".yaml" or ".yml".
func Load(fname string) (File, error) {
	f := DefaultFile()

	raw, err := os.ReadFile(fname)
	if err != nil {
		return f, fmt.Errorf("config: could not read run file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(fname)); ext {
	case ".toml":
		meta, err := toml.Decode(string(raw), &f)
		if err != nil {
			return f, fmt.Errorf("config: could not decode TOML run file %q: %w", fname, err)
		}
		if keys := meta.Undecoded(); len(keys) > 0 {
			return f, fmt.Errorf("config: unknown keys in run file %q: %v", fname, keys)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		err = dec.Decode(&f)
		if err != nil {
			return f, fmt.Errorf("config: could not decode YAML run file %q: %w", fname, err)
		}
	default:
		return f, fmt.Errorf("config: unknown run file format %q", ext)
	}

	err = f.loadPixels(filepath.Dir(fname))
	if err != nil {
		return f, err
	}

	err = f.Validate()
	if err != nil {
		return f, err
	}

	return f, nil
}

func (f *File) loadPixels(dir string) error {
	var (
		fname string
		load  func(string) (*pxcfg.Matrix, error)
	)
	switch {
	case f.Pixels.BMC != "" && f.Pixels.BPC != "":
		return fmt.Errorf("config: both BMC and BPC pixel configurations requested")
	case f.Pixels.BMC != "":
		fname, load = f.Pixels.BMC, pxcfg.LoadBMCFile
	case f.Pixels.BPC != "":
		fname, load = f.Pixels.BPC, pxcfg.LoadBPCFile
	default:
		return nil
	}

	if !filepath.IsAbs(fname) {
		fname = filepath.Join(dir, fname)
	}

	px, err := load(fname)
	if err != nil {
		return fmt.Errorf("config: could not load pixel configuration: %w", err)
	}
	f.Detector.PixelConfig = px
	return nil
}

// Validate checks the run file is consistent.
func (f *File) Validate() error {
	if f.Device.Addr == "" {
		return fmt.Errorf("config: missing device address")
	}

	_, err := f.Acquisition.Format()
	if err != nil {
		return err
	}

	switch f.Acquisition.Readout {
	case "sequential", "data-driven":
	default:
		return fmt.Errorf("config: invalid readout mode %q", f.Acquisition.Readout)
	}

	if f.Acquisition.Readout == "data-driven" && f.Detector.NoFrames > 1 {
		return fmt.Errorf(
			"config: data-driven readout supports only one frame (got=%d)",
			f.Detector.NoFrames,
		)
	}

	return f.Detector.Validate()
}

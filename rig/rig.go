// Package rig loads device descriptions from yaml files and registers
// them on a fresh experiment, so wiring lives next to the hardware and
// programs stay code.
package rig

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"daqstream"
)

// Line describes one digital line of a device.
type Line struct {
	Port int `yaml:"port"`
	Line int `yaml:"line"`
}

// Trigger describes the start trigger wiring of a device.
type Trigger struct {
	Line   string `yaml:"line"`
	Export bool   `yaml:"export"`
}

// RefClock describes the reference clock wiring of a device.
type RefClock struct {
	Line   string  `yaml:"line"`
	Rate   float64 `yaml:"rate"`
	Export bool    `yaml:"export"`
}

// Device describes one output device of a rig.
type Device struct {
	Name       string  `yaml:"name"`
	Role       string  `yaml:"role"` // "ao" or "do"
	SampleRate float64 `yaml:"sample_rate"`
	// Channels lists analog channel numbers, Lines digital lines. A
	// device carries one of the two, depending on its role.
	Channels    []int     `yaml:"channels,omitempty"`
	Lines       []Line    `yaml:"lines,omitempty"`
	Trigger     *Trigger  `yaml:"trigger,omitempty"`
	SampleClock string    `yaml:"sample_clock,omitempty"`
	RefClock    *RefClock `yaml:"ref_clock,omitempty"`
}

// Rig is a set of output devices wired together.
type Rig struct {
	Name    string   `yaml:"name"`
	Devices []Device `yaml:"devices"`
}

// Load reads and parses a rig description from path.
func Load(path string) (*Rig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rig file at %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses and validates a yaml rig description.
func Parse(data []byte) (*Rig, error) {
	var r Rig
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rig yaml: %w", err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

// validate checks the parts the experiment cannot, role strings and the
// channel kind matching the role. Everything else, duplicate names or
// rates or trigger wiring, is left to the experiment so rig files and
// hand-built experiments fail the same way.
func (r *Rig) validate() error {
	var errs *multierror.Error
	if len(r.Devices) == 0 {
		errs = multierror.Append(errs, &daqstream.ConfigError{Field: "devices", Reason: "rig has none"})
	}
	for _, d := range r.Devices {
		switch d.Role {
		case "ao":
			if len(d.Channels) == 0 {
				errs = multierror.Append(errs, &daqstream.ConfigError{Device: d.Name, Field: "channels", Reason: "analog device has none"})
			}
			if len(d.Lines) > 0 {
				errs = multierror.Append(errs, &daqstream.ConfigError{Device: d.Name, Field: "lines", Reason: "analog device cannot carry digital lines"})
			}
		case "do":
			if len(d.Lines) == 0 {
				errs = multierror.Append(errs, &daqstream.ConfigError{Device: d.Name, Field: "lines", Reason: "digital device has none"})
			}
			if len(d.Channels) > 0 {
				errs = multierror.Append(errs, &daqstream.ConfigError{Device: d.Name, Field: "channels", Reason: "digital device cannot carry analog channels"})
			}
		default:
			errs = multierror.Append(errs, &daqstream.ConfigError{Device: d.Name, Field: "role", Reason: `must be "ao" or "do"`})
		}
	}
	return errs.ErrorOrNil()
}

// Experiment builds a fresh experiment with every device, channel, line
// and clock of the rig registered.
func (r *Rig) Experiment() (*daqstream.Experiment, error) {
	e := daqstream.New()
	for _, d := range r.Devices {
		var dev *daqstream.Device
		var err error
		switch d.Role {
		case "ao":
			dev, err = e.AddAODevice(d.Name, d.SampleRate)
		case "do":
			dev, err = e.AddDODevice(d.Name, d.SampleRate)
		}
		if err != nil {
			return nil, err
		}
		for _, n := range d.Channels {
			if _, err := dev.AddChannel(n); err != nil {
				return nil, err
			}
		}
		for _, l := range d.Lines {
			if _, err := dev.AddLine(l.Port, l.Line); err != nil {
				return nil, err
			}
		}
		if d.Trigger != nil {
			if err := dev.ConfigureTrigger(d.Trigger.Line, d.Trigger.Export); err != nil {
				return nil, err
			}
		}
		if d.SampleClock != "" {
			if err := dev.ConfigureSampleClock(d.SampleClock); err != nil {
				return nil, err
			}
		}
		if d.RefClock != nil {
			if err := dev.ConfigureRefClock(d.RefClock.Line, d.RefClock.Rate, d.RefClock.Export); err != nil {
				return nil, err
			}
		}
	}
	return e, nil
}

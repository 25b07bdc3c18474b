package daqstream

import (
	"sort"

	"github.com/hashicorp/go-multierror"
)

// Experiment is the mutable authoring registry of devices and their
// timelines. Compile validates it as a whole, resolves it into an immutable
// Program and freezes it, Reopen unfreezes it and invalidates compiled
// programs.
//
// An Experiment is not safe for concurrent use. Programs are.
type Experiment struct {
	devices []*Device
	byName  map[string]*Device
	frozen  bool
	gen     uint64
}

// New returns an empty experiment.
func New() *Experiment {
	return &Experiment{byName: make(map[string]*Device)}
}

// AddAODevice registers an analog output device.
func (e *Experiment) AddAODevice(name string, sampleRate float64) (*Device, error) {
	return e.add(name, AnalogOut, sampleRate)
}

// AddDODevice registers a digital output device.
func (e *Experiment) AddDODevice(name string, sampleRate float64) (*Device, error) {
	return e.add(name, DigitalOut, sampleRate)
}

func (e *Experiment) add(name string, role Role, rate float64) (*Device, error) {
	if e.frozen {
		return nil, &ConfigError{Device: name, Field: "device", Reason: "experiment is frozen, reopen it before editing"}
	}
	if name == "" {
		return nil, &ConfigError{Field: "device", Reason: "device name is empty"}
	}
	if _, ok := e.byName[name]; ok {
		return nil, &ConfigError{Device: name, Field: "device", Reason: "device already registered"}
	}
	if rate <= 0 {
		return nil, &ConfigError{Device: name, Field: "sample rate", Reason: "must be positive"}
	}
	d := &Device{exp: e, name: name, role: role, rate: rate, byName: make(map[string]*Channel)}
	e.devices = append(e.devices, d)
	e.byName[name] = d
	return d, nil
}

// Device returns a registered device by name.
func (e *Experiment) Device(name string) (*Device, bool) {
	d, ok := e.byName[name]
	return d, ok
}

// Devices returns the registered devices in registration order.
func (e *Experiment) Devices() []*Device {
	return append([]*Device(nil), e.devices...)
}

// Frozen reports whether the experiment has been compiled and not reopened.
func (e *Experiment) Frozen() bool {
	return e.frozen
}

// Reopen unfreezes the experiment for further edits. Programs compiled
// before the call become stale and can no longer be streamed.
func (e *Experiment) Reopen() {
	if !e.frozen {
		return
	}
	e.frozen = false
	e.gen++
}

// ClearSegments drops every authored segment, unfreezes the experiment and
// invalidates compiled programs. Devices and channels stay registered.
func (e *Experiment) ClearSegments() {
	for _, d := range e.devices {
		for _, c := range d.chans {
			c.segs = nil
		}
	}
	e.frozen = false
	e.gen++
}

// EditStopTime returns the latest segment end across all devices in seconds.
func (e *Experiment) EditStopTime() float64 {
	var stop float64
	for _, d := range e.devices {
		if end := d.EditStopTime(); end > stop {
			stop = end
		}
	}
	return stop
}

// AddResetTick places a marker on every channel at the earliest time all
// timelines have ended, driving them to their defaults from there on. It
// returns that time. The edit applies to all channels or to none.
func (e *Experiment) AddResetTick() (float64, error) {
	if e.frozen {
		return 0, &ConfigError{Field: "reset tick", Reason: "experiment is frozen, reopen it before editing"}
	}
	at := e.EditStopTime()
	for _, d := range e.devices {
		for _, c := range d.chans {
			s, err := c.makeSegment(at, 0, constWave{}, true)
			if err != nil {
				return 0, err
			}
			if _, err := c.conflict(s); err != nil {
				return 0, err
			}
		}
	}
	for _, d := range e.devices {
		for _, c := range d.chans {
			if err := c.insert(at, 0, constWave{}, true); err != nil {
				return 0, err
			}
		}
	}
	return at, nil
}

// Compile validates the experiment against a stop time, resolves every
// timeline and returns the immutable Program. On success the experiment
// freezes and further edits are rejected until Reopen. On failure all
// validation errors are reported together and no program is produced.
//
// Compile is repeatable: compiling the same experiment again yields an
// identical program.
func (e *Experiment) Compile(stopTime float64) (*Program, error) {
	if stopTime <= 0 {
		return nil, &ConfigError{Field: "stop time", Reason: "must be positive"}
	}
	if len(e.devices) == 0 {
		return nil, &ConfigError{Field: "devices", Reason: "experiment has no devices"}
	}
	var result *multierror.Error
	exporters := make(map[string][]string)
	importers := make(map[string][]string)
	for _, d := range e.devices {
		if len(d.chans) == 0 {
			result = multierror.Append(result, &ConfigError{Device: d.name, Field: "channels", Reason: "device has no channels"})
		}
		stopTick := tickOf(stopTime, d.rate)
		if stopTick < 1 {
			result = multierror.Append(result, &ConfigError{Device: d.name, Field: "stop time", Reason: "shorter than one sample period"})
		}
		for _, c := range d.chans {
			if c.lastEndTick() > stopTick {
				result = multierror.Append(result, &OutOfBoundsError{Device: d.name, Channel: c.name, End: c.EditStopTime(), Stop: stopTime})
			}
		}
		if d.hasTrig {
			if d.trig.Export {
				exporters[d.trig.Line] = append(exporters[d.trig.Line], d.name)
			} else {
				importers[d.trig.Line] = append(importers[d.trig.Line], d.name)
			}
		}
	}
	for _, line := range sortedLines(exporters) {
		if exp := exporters[line]; len(exp) > 1 {
			result = multierror.Append(result, &TriggerConfigError{Line: line, Exporters: exp, Importers: importers[line], Reason: "more than one exporter"})
		}
	}
	for _, line := range sortedLines(importers) {
		if len(exporters[line]) == 0 {
			result = multierror.Append(result, &TriggerConfigError{Line: line, Importers: importers[line], Reason: "no device exports this line"})
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	prog := newProgram(e, stopTime)
	e.frozen = true
	return prog, nil
}

func sortedLines(m map[string][]string) []string {
	lines := make([]string, 0, len(m))
	for line := range m {
		lines = append(lines, line)
	}
	sort.Strings(lines)
	return lines
}

package daqstream

import (
	"fmt"
	"sort"
)

// Role is the task type of an output device.
type Role int

const (
	// AnalogOut devices stream float frames to analog channels.
	AnalogOut Role = iota
	// DigitalOut devices stream port words to digital lines.
	DigitalOut
)

func (r Role) String() string {
	switch r {
	case AnalogOut:
		return "analog out"
	case DigitalOut:
		return "digital out"
	}
	return "unknown"
}

// TriggerConfig ties a device to a shared start-trigger line. The one
// exporting device starts first, importers hold their output until it has.
type TriggerConfig struct {
	Line   string
	Export bool
}

// RefClockConfig ties a device to a shared reference clock line.
type RefClockConfig struct {
	Line   string
	Rate   float64
	Export bool
}

// DeviceConfig is the hardware description handed to a sink when a device
// is armed.
type DeviceConfig struct {
	Name        string
	Role        Role
	SampleRate  float64
	Channels    []string       // streamable ids: analog channels or digital ports
	Lines       []string       // editable digital lines, empty on analog devices
	Trigger     TriggerConfig  // zero Line means free-running start
	SampleClock string         // external sample clock source, empty for on-board
	RefClock    RefClockConfig // zero Line means no reference clock sharing
	ChunkFrames int            // frames per streamed chunk, set by the streamer
}

// Device groups the channels driven by one piece of output hardware. They
// share a sample rate, a task role and trigger wiring.
type Device struct {
	exp      *Experiment
	name     string
	role     Role
	rate     float64
	trig     TriggerConfig
	hasTrig  bool
	clockSrc string
	refClock RefClockConfig
	hasRef   bool
	chans    []*Channel
	byName   map[string]*Channel
}

// Name returns the device name.
func (d *Device) Name() string {
	return d.name
}

// Role returns the device task type.
func (d *Device) Role() Role {
	return d.role
}

// SampleRate returns the device sample rate in Hz.
func (d *Device) SampleRate() float64 {
	return d.rate
}

// AddChannel registers analog output channel ao<n>.
func (d *Device) AddChannel(n int) (*Channel, error) {
	if d.role != AnalogOut {
		return nil, &ConfigError{Device: d.name, Field: "channel", Reason: "AddChannel requires an analog output device, use AddLine"}
	}
	if n < 0 {
		return nil, &ConfigError{Device: d.name, Field: "channel", Reason: "channel index below zero"}
	}
	return d.add(fmt.Sprintf("ao%d", n), 0, 0)
}

// AddLine registers digital output line port<p>/line<l>. Lines of one port
// compile into a single streamable port program.
func (d *Device) AddLine(port, line int) (*Channel, error) {
	if d.role != DigitalOut {
		return nil, &ConfigError{Device: d.name, Field: "line", Reason: "AddLine requires a digital output device, use AddChannel"}
	}
	if port < 0 || line < 0 {
		return nil, &ConfigError{Device: d.name, Field: "line", Reason: "port and line indices start at zero"}
	}
	if line > 31 {
		return nil, &ConfigError{Device: d.name, Field: "line", Reason: "line index exceeds the 32-bit port word"}
	}
	return d.add(fmt.Sprintf("port%d/line%d", port, line), port, line)
}

func (d *Device) add(name string, port, line int) (*Channel, error) {
	if d.exp.frozen {
		return nil, &ConfigError{Device: d.name, Field: name, Reason: "experiment is frozen, reopen it before editing"}
	}
	if _, ok := d.byName[name]; ok {
		return nil, &ConfigError{Device: d.name, Field: name, Reason: "channel already registered"}
	}
	c := &Channel{name: name, dev: d, port: port, line: line}
	d.chans = append(d.chans, c)
	d.byName[name] = c
	return c, nil
}

// Channel returns a registered channel by id.
func (d *Device) Channel(name string) (*Channel, bool) {
	c, ok := d.byName[name]
	return c, ok
}

// Channels returns the registered channels in registration order.
func (d *Device) Channels() []*Channel {
	return append([]*Channel(nil), d.chans...)
}

// ConfigureTrigger ties the device to a start-trigger line, exporting it or
// importing it. A device carries at most one trigger configuration.
func (d *Device) ConfigureTrigger(line string, export bool) error {
	if d.exp.frozen {
		return &ConfigError{Device: d.name, Field: "trigger", Reason: "experiment is frozen, reopen it before editing"}
	}
	if line == "" {
		return &ConfigError{Device: d.name, Field: "trigger", Reason: "trigger line name is empty"}
	}
	if d.hasTrig {
		return &ConfigError{Device: d.name, Field: "trigger", Reason: "trigger already configured"}
	}
	d.trig = TriggerConfig{Line: line, Export: export}
	d.hasTrig = true
	return nil
}

// ConfigureSampleClock points the device at an external sample clock source.
// The setting is handed to the sink, it has no effect on compilation.
func (d *Device) ConfigureSampleClock(source string) error {
	if d.exp.frozen {
		return &ConfigError{Device: d.name, Field: "sample clock", Reason: "experiment is frozen, reopen it before editing"}
	}
	if source == "" {
		return &ConfigError{Device: d.name, Field: "sample clock", Reason: "clock source name is empty"}
	}
	if d.clockSrc != "" {
		return &ConfigError{Device: d.name, Field: "sample clock", Reason: "sample clock already configured"}
	}
	d.clockSrc = source
	return nil
}

// ConfigureRefClock ties the device to a shared reference clock line. The
// setting is handed to the sink, it has no effect on compilation.
func (d *Device) ConfigureRefClock(line string, rate float64, export bool) error {
	if d.exp.frozen {
		return &ConfigError{Device: d.name, Field: "ref clock", Reason: "experiment is frozen, reopen it before editing"}
	}
	if line == "" {
		return &ConfigError{Device: d.name, Field: "ref clock", Reason: "clock line name is empty"}
	}
	if rate <= 0 {
		return &ConfigError{Device: d.name, Field: "ref clock", Reason: "clock rate must be positive"}
	}
	if d.hasRef {
		return &ConfigError{Device: d.name, Field: "ref clock", Reason: "ref clock already configured"}
	}
	d.refClock = RefClockConfig{Line: line, Rate: rate, Export: export}
	d.hasRef = true
	return nil
}

// EditStopTime returns the latest segment end across the device in seconds.
func (d *Device) EditStopTime() float64 {
	var stop float64
	for _, c := range d.chans {
		if end := c.EditStopTime(); end > stop {
			stop = end
		}
	}
	return stop
}

// config snapshots the device description for a compiled program.
func (d *Device) config() DeviceConfig {
	cfg := DeviceConfig{
		Name:        d.name,
		Role:        d.role,
		SampleRate:  d.rate,
		SampleClock: d.clockSrc,
	}
	if d.hasTrig {
		cfg.Trigger = d.trig
	}
	if d.hasRef {
		cfg.RefClock = d.refClock
	}
	switch d.role {
	case AnalogOut:
		for _, c := range d.chans {
			cfg.Channels = append(cfg.Channels, c.name)
		}
	case DigitalOut:
		for _, c := range d.chans {
			cfg.Lines = append(cfg.Lines, c.name)
		}
		for _, port := range d.ports() {
			cfg.Channels = append(cfg.Channels, fmt.Sprintf("port%d", port))
		}
	}
	return cfg
}

// ports returns the distinct digital port numbers in ascending order.
func (d *Device) ports() []int {
	seen := make(map[int]bool)
	var ports []int
	for _, c := range d.chans {
		if !seen[c.port] {
			seen[c.port] = true
			ports = append(ports, c.port)
		}
	}
	sort.Ints(ports)
	return ports
}

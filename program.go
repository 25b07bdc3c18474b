package daqstream

import (
	"fmt"
	"sort"

	"daqstream/signal"
)

// compiled is one resolved timeline: contiguous spans with binary search
// over their end ticks.
type compiled struct {
	name  string
	bit   uint // line bit within the port word, digital only
	ends  []int64
	spans []span
}

func newCompiled(c *Channel, stopTick int64) *compiled {
	spans := c.resolve(stopTick)
	cc := &compiled{name: c.name, bit: uint(c.line), spans: spans, ends: make([]int64, len(spans))}
	for i := range spans {
		cc.ends[i] = spans[i].end
	}
	return cc
}

// index returns the span covering a tick.
func (cc *compiled) index(tick int64) int {
	return sort.Search(len(cc.ends), func(i int) bool {
		return cc.ends[i] > tick
	})
}

func (cc *compiled) at(tick int64, rate float64) float64 {
	return cc.spans[cc.index(tick)].at(tick, rate)
}

// fill evaluates ticks [from, from+len(dst)) into dst.
func (cc *compiled) fill(dst []float64, from int64, rate float64) {
	i := cc.index(from)
	tick := from
	pos := 0
	for pos < len(dst) {
		s := cc.spans[i]
		end := from + int64(len(dst))
		if s.end < end {
			end = s.end
		}
		if cw, ok := s.wave.(constWave); ok {
			for ; tick < end; tick++ {
				dst[pos] = cw.level
				pos++
			}
		} else {
			for ; tick < end; tick++ {
				dst[pos] = s.at(tick, rate)
				pos++
			}
		}
		i++
	}
}

// fillBits sets the line bit over [from, from+len(dst)) wherever the line
// is high. Digital spans are constant by construction.
func (cc *compiled) fillBits(dst []uint32, from int64) {
	i := cc.index(from)
	tick := from
	pos := 0
	for pos < len(dst) {
		s := cc.spans[i]
		end := from + int64(len(dst))
		if s.end < end {
			end = s.end
		}
		if s.wave.value(0, 0) != 0 {
			bit := uint32(1) << cc.bit
			for ; tick < end; tick++ {
				dst[pos] |= bit
				pos++
			}
		} else {
			pos += int(end - tick)
			tick = end
		}
		i++
	}
}

// compiledPort merges the lines of one digital port into port words.
type compiledPort struct {
	name  string
	lines []*compiled
}

func (p *compiledPort) fill(dst []uint32, from int64) {
	for i := range dst {
		dst[i] = 0
	}
	for _, line := range p.lines {
		line.fillBits(dst, from)
	}
}

// DeviceProgram is one device's compiled output: every channel a pure
// function over sample ticks, re-evaluable in chunks of any size.
type DeviceProgram struct {
	cfg    DeviceConfig
	stop   float64
	total  int64
	chans  []*compiled
	byName map[string]*compiled
	ports  []*compiledPort
}

func newDeviceProgram(d *Device, stopTime float64) *DeviceProgram {
	stopTick := tickOf(stopTime, d.rate)
	dp := &DeviceProgram{
		cfg:    d.config(),
		stop:   stopTime,
		total:  stopTick,
		byName: make(map[string]*compiled),
	}
	ports := make(map[int]*compiledPort)
	for _, c := range d.chans {
		cc := newCompiled(c, stopTick)
		dp.chans = append(dp.chans, cc)
		dp.byName[cc.name] = cc
		if d.role == DigitalOut {
			p, ok := ports[c.port]
			if !ok {
				p = &compiledPort{name: fmt.Sprintf("port%d", c.port)}
				ports[c.port] = p
			}
			p.lines = append(p.lines, cc)
		}
	}
	for _, n := range d.ports() {
		dp.ports = append(dp.ports, ports[n])
	}
	return dp
}

// Name returns the device name.
func (dp *DeviceProgram) Name() string {
	return dp.cfg.Name
}

// Config returns a copy of the device description handed to sinks.
func (dp *DeviceProgram) Config() DeviceConfig {
	cfg := dp.cfg
	cfg.Channels = append([]string(nil), dp.cfg.Channels...)
	cfg.Lines = append([]string(nil), dp.cfg.Lines...)
	return cfg
}

// TotalSamples returns the number of ticks one pass of the device covers.
func (dp *DeviceProgram) TotalSamples() int64 {
	return dp.total
}

// At returns the sample of an editable channel at a tick.
func (dp *DeviceProgram) At(channel string, tick int64) (float64, error) {
	cc, ok := dp.byName[channel]
	if !ok {
		return 0, &ConfigError{Device: dp.cfg.Name, Field: channel, Reason: "unknown channel"}
	}
	if tick < 0 || tick >= dp.total {
		return 0, &OutOfBoundsError{Device: dp.cfg.Name, Channel: channel, End: float64(tick) / dp.cfg.SampleRate, Stop: dp.stop}
	}
	return cc.at(tick, dp.cfg.SampleRate), nil
}

// Sample returns the sample of an editable channel at a point in time.
func (dp *DeviceProgram) Sample(channel string, at float64) (float64, error) {
	return dp.At(channel, tickOf(at, dp.cfg.SampleRate))
}

// Fill evaluates every editable channel over ticks [from, from+size) into
// dst, one row per channel in registration order. Digital lines fill as 0/1
// floats.
func (dp *DeviceProgram) Fill(dst signal.Float64, from int64) error {
	if dst.NumChannels() != len(dp.chans) {
		return &ConfigError{Device: dp.cfg.Name, Field: "buffer", Reason: "channel count mismatch"}
	}
	if err := dp.bounds(from, int64(dst.Size())); err != nil {
		return err
	}
	for i, cc := range dp.chans {
		cc.fill(dst[i], from, dp.cfg.SampleRate)
	}
	return nil
}

// FillWords evaluates every digital port over ticks [from, from+size) into
// dst, one row per port in ascending port order.
func (dp *DeviceProgram) FillWords(dst signal.Digital, from int64) error {
	if dp.cfg.Role != DigitalOut {
		return &ConfigError{Device: dp.cfg.Name, Field: "buffer", Reason: "port words require a digital output device"}
	}
	if dst.NumPorts() != len(dp.ports) {
		return &ConfigError{Device: dp.cfg.Name, Field: "buffer", Reason: "port count mismatch"}
	}
	if err := dp.bounds(from, int64(dst.Size())); err != nil {
		return err
	}
	for i, p := range dp.ports {
		p.fill(dst[i], from)
	}
	return nil
}

// Render evaluates a tick range into a fresh buffer, one row per editable
// channel.
func (dp *DeviceProgram) Render(from, frames int64) (signal.Float64, error) {
	if frames < 0 {
		return nil, &ConfigError{Device: dp.cfg.Name, Field: "buffer", Reason: "frame count below zero"}
	}
	buf := signal.EmptyFloat64(len(dp.chans), int(frames))
	if err := dp.Fill(buf, from); err != nil {
		return nil, err
	}
	return buf, nil
}

func (dp *DeviceProgram) bounds(from, frames int64) error {
	if from < 0 || from+frames > dp.total {
		return &OutOfBoundsError{Device: dp.cfg.Name, End: float64(from+frames) / dp.cfg.SampleRate, Stop: dp.stop}
	}
	return nil
}

// Program is the immutable result of a compile. It owns resolved copies of
// every timeline and holds no mutable experiment state, so it is safe for
// concurrent reads and stays evaluable after the experiment reopens, though
// it can no longer be streamed then.
type Program struct {
	exp     *Experiment
	gen     uint64
	stop    float64
	devices []*DeviceProgram
	byName  map[string]*DeviceProgram
}

func newProgram(e *Experiment, stopTime float64) *Program {
	p := &Program{exp: e, gen: e.gen, stop: stopTime, byName: make(map[string]*DeviceProgram)}
	for _, d := range e.devices {
		dp := newDeviceProgram(d, stopTime)
		p.devices = append(p.devices, dp)
		p.byName[dp.Name()] = dp
	}
	return p
}

// StopTime returns the stop time the program was compiled against.
func (p *Program) StopTime() float64 {
	return p.stop
}

// Devices returns the compiled devices in registration order.
func (p *Program) Devices() []*DeviceProgram {
	return append([]*DeviceProgram(nil), p.devices...)
}

// DeviceByName returns a compiled device, nil if the name is unknown.
func (p *Program) DeviceByName(name string) *DeviceProgram {
	return p.byName[name]
}

// Valid reports whether the source experiment has not been reopened since
// the program was compiled. Stale programs are rejected at stream arming.
func (p *Program) Valid() bool {
	return p.exp.gen == p.gen
}

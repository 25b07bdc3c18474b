package daqstream

import "sort"

// Channel is one output line of a device: a sorted, non-overlapping timeline
// of segments. Gaps between segments resolve to a holdover value at compile
// time, so a channel is defined at every tick of the experiment.
//
// Every authoring call either applies fully or returns an error and leaves
// the timeline unchanged.
type Channel struct {
	name string
	dev  *Device
	port int // digital port number
	line int // digital line bit within the port
	segs []segment
}

// Name returns the channel id, ao<n> for analog channels and
// port<p>/line<l> for digital lines.
func (c *Channel) Name() string {
	return c.name
}

// NumSegments returns the number of authored segments.
func (c *Channel) NumSegments() int {
	return len(c.segs)
}

// EditStopTime returns the authored end of the timeline in seconds, the
// latest segment end across the channel.
func (c *Channel) EditStopTime() float64 {
	var stop float64
	for _, s := range c.segs {
		if end := s.end(); end > stop {
			stop = end
		}
	}
	return stop
}

// AddSegment places a waveform on the timeline at a point in time. A zero
// duration makes the segment a marker: it contributes no samples, it only
// asserts the holdover value from its tick on. Digital channels accept
// constant high and low levels only.
func (c *Channel) AddSegment(at, duration float64, wave Waveform, keep bool) error {
	if c.dev.role == DigitalOut {
		if cw, ok := wave.(constWave); !ok || (cw.level != 0 && cw.level != 1) {
			return &ConfigError{Device: c.dev.name, Field: c.name, Reason: "digital channels accept only high and low levels"}
		}
	}
	return c.insert(at, duration, wave, keep)
}

// Constant holds a fixed level over [at, at+duration).
func (c *Channel) Constant(at, duration, level float64, keep bool) error {
	if err := c.analog(); err != nil {
		return err
	}
	return c.insert(at, duration, constWave{level: level}, keep)
}

// Sine plays offset + amplitude*sin(2*pi*freq*elapsed + phase) over
// [at, at+duration). Amplitude defaults to 1, phase and offset to 0.
func (c *Channel) Sine(at, duration float64, keep bool, freq float64, options ...SineOption) error {
	if err := c.analog(); err != nil {
		return err
	}
	return c.insert(at, duration, SineWave(freq, options...), keep)
}

// Ramp sweeps linearly between two levels over [at, at+duration).
func (c *Channel) Ramp(at, duration float64, keep bool, from, to float64) error {
	if err := c.analog(); err != nil {
		return err
	}
	return c.insert(at, duration, rampWave{from: from, to: to}, keep)
}

// Hold asserts a level from at until the next segment without contributing
// samples of its own.
func (c *Channel) Hold(at, level float64) error {
	if err := c.analog(); err != nil {
		return err
	}
	return c.insert(at, 0, constWave{level: level}, true)
}

// High drives the line high over [at, at+duration), then reverts to low.
func (c *Channel) High(at, duration float64) error {
	if err := c.digital(); err != nil {
		return err
	}
	return c.insert(at, duration, constWave{level: 1}, false)
}

// Low drives the line low over [at, at+duration).
func (c *Channel) Low(at, duration float64) error {
	if err := c.digital(); err != nil {
		return err
	}
	return c.insert(at, duration, constWave{level: 0}, false)
}

// GoHigh drives the line high from at until the next segment.
func (c *Channel) GoHigh(at float64) error {
	if err := c.digital(); err != nil {
		return err
	}
	return c.insert(at, 0, constWave{level: 1}, true)
}

// GoLow drives the line low from at until the next segment.
func (c *Channel) GoLow(at float64) error {
	if err := c.digital(); err != nil {
		return err
	}
	return c.insert(at, 0, constWave{level: 0}, true)
}

func (c *Channel) analog() error {
	if c.dev.role != AnalogOut {
		return &ConfigError{Device: c.dev.name, Field: c.name, Reason: "analog segments require an analog output channel"}
	}
	return nil
}

func (c *Channel) digital() error {
	if c.dev.role != DigitalOut {
		return &ConfigError{Device: c.dev.name, Field: c.name, Reason: "high/low segments require a digital output channel"}
	}
	return nil
}

func (c *Channel) insert(at, duration float64, wave Waveform, keep bool) error {
	s, err := c.makeSegment(at, duration, wave, keep)
	if err != nil {
		return err
	}
	idx, err := c.conflict(s)
	if err != nil {
		return err
	}
	c.segs = append(c.segs, segment{})
	copy(c.segs[idx+1:], c.segs[idx:])
	c.segs[idx] = s
	return nil
}

func (c *Channel) makeSegment(at, duration float64, wave Waveform, keep bool) (segment, error) {
	d := c.dev
	if d.exp.frozen {
		return segment{}, &ConfigError{Device: d.name, Field: c.name, Reason: "experiment is frozen, reopen it before editing"}
	}
	if duration < 0 {
		return segment{}, &NegativeDurationError{Device: d.name, Channel: c.name, Start: at, Duration: duration}
	}
	if at < 0 {
		return segment{}, &ConfigError{Device: d.name, Field: c.name, Reason: "segment start before time zero"}
	}
	s := segment{
		start:    at,
		duration: duration,
		tick:     tickOf(at, d.rate),
		endTick:  tickOf(at+duration, d.rate),
		keep:     keep,
		wave:     wave,
	}
	if duration > 0 && s.marker() {
		return segment{}, &ConfigError{Device: d.name, Field: c.name, Reason: "segment is shorter than one sample period"}
	}
	return s, nil
}

// conflict locates the insertion point of a segment and checks it against
// its would-be neighbors. The timeline is non-overlapping already, so only
// neighbors can collide.
func (c *Channel) conflict(s segment) (int, error) {
	idx := sort.Search(len(c.segs), func(i int) bool {
		return c.segs[i].tick >= s.tick
	})
	ext := s.extent()
	if idx > 0 {
		if prev := c.segs[idx-1]; prev.extent().End > ext.Start {
			return 0, &OverlapError{Device: c.dev.name, Channel: c.name, New: s.ticks(), Existing: prev.ticks()}
		}
	}
	if idx < len(c.segs) {
		if next := c.segs[idx]; ext.End > next.extent().Start {
			return 0, &OverlapError{Device: c.dev.name, Channel: c.name, New: s.ticks(), Existing: next.ticks()}
		}
	}
	return idx, nil
}

// lastEndTick returns the end of the timeline in ticks.
func (c *Channel) lastEndTick() int64 {
	if len(c.segs) == 0 {
		return 0
	}
	return c.segs[len(c.segs)-1].endTick
}

// resolve flattens the timeline into contiguous spans covering
// [0, stopTick). Gaps take the holdover value: the previous segment's final
// sample if it keeps, the channel default otherwise. Markers only steer the
// holdover. Adjacent spans holding an equal constant merge.
func (c *Channel) resolve(stopTick int64) []span {
	spans := make([]span, 0, 2*len(c.segs)+1)
	emitConst := func(level float64, from, to int64) {
		if to <= from {
			return
		}
		if n := len(spans); n > 0 {
			if cw, ok := spans[n-1].wave.(constWave); ok && cw.level == level {
				spans[n-1].end = to
				return
			}
		}
		spans = append(spans, span{end: to, wave: constWave{level: level}, tick: from})
	}
	var hold float64
	var cur int64
	for _, s := range c.segs {
		if s.tick > cur {
			emitConst(hold, cur, s.tick)
			cur = s.tick
		}
		if s.marker() {
			if s.keep {
				hold = s.final()
			} else {
				hold = 0
			}
			continue
		}
		if cw, ok := s.wave.(constWave); ok {
			emitConst(cw.level, s.tick, s.endTick)
		} else {
			spans = append(spans, span{end: s.endTick, wave: s.wave, tick: s.tick, dur: s.duration})
		}
		cur = s.endTick
		if s.keep {
			hold = s.final()
		} else {
			hold = 0
		}
	}
	emitConst(hold, cur, stopTick)
	return spans
}

package daqstream

import "math"

// segment is one authored timeline entry, immutable after insertion. A
// zero-length segment is a marker: it contributes no samples of its own, it
// only asserts the holdover value from its tick until the next segment.
type segment struct {
	start    float64 // authored start, seconds
	duration float64 // authored duration, seconds
	tick     int64   // round(start * rate)
	endTick  int64   // round((start + duration) * rate)
	keep     bool
	wave     Waveform
}

// ticks returns the range of sample ticks the segment covers. Empty for
// markers.
func (s segment) ticks() TickRange {
	return TickRange{Start: s.tick, End: s.endTick}
}

// extent returns the range the segment occupies for overlap detection.
// Markers occupy their start tick, so two segments can never share one.
func (s segment) extent() TickRange {
	end := s.endTick
	if end == s.tick {
		end = s.tick + 1
	}
	return TickRange{Start: s.tick, End: end}
}

// marker reports whether the segment covers no sample ticks.
func (s segment) marker() bool {
	return s.endTick == s.tick
}

// final returns the last instantaneous value of the segment, the holdover
// candidate for the gap that follows it.
func (s segment) final() float64 {
	return s.wave.value(s.duration, s.duration)
}

// end returns the authored segment end in seconds.
func (s segment) end() float64 {
	return s.start + s.duration
}

// tickOf maps a point in time to its sample tick at the given rate.
func tickOf(at, rate float64) int64 {
	return int64(math.Round(at * rate))
}

// span is one piece of a resolved timeline: the waveform holding until end,
// evaluated relative to the segment origin it came from. Gap fills are
// constant spans with a zero duration.
type span struct {
	end  int64 // exclusive end tick
	wave Waveform
	tick int64   // tick of the owning segment start
	dur  float64 // owning segment duration, seconds
}

// at returns the span sample at an absolute tick.
func (s span) at(tick int64, rate float64) float64 {
	return s.wave.value(float64(tick-s.tick)/rate, s.dur)
}

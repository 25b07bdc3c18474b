package daqstream

import "math"

// Waveform is the value law of one segment. It is evaluated over the time
// elapsed since the segment start, which makes every segment independent of
// where it sits on the timeline and of how the stream is chunked.
//
// The catalog is closed: Const, Sine and Ramp. Digital levels are Const
// values 0 and 1 authored through the channel high/low helpers.
type Waveform interface {
	// value returns the sample at elapsed seconds into a segment that
	// lasts duration seconds, 0 <= elapsed <= duration.
	value(elapsed, duration float64) float64
}

type constWave struct {
	level float64
}

func (w constWave) value(float64, float64) float64 {
	return w.level
}

type sineWave struct {
	freq      float64
	amplitude float64
	phase     float64
	offset    float64
}

func (w sineWave) value(elapsed, _ float64) float64 {
	return w.offset + w.amplitude*math.Sin(2*math.Pi*w.freq*elapsed+w.phase)
}

type rampWave struct {
	from float64
	to   float64
}

func (w rampWave) value(elapsed, duration float64) float64 {
	if duration == 0 {
		return w.to
	}
	return w.from + (w.to-w.from)*elapsed/duration
}

// ConstWave returns a waveform holding a fixed level.
func ConstWave(level float64) Waveform {
	return constWave{level: level}
}

// SineOption overrides a default sine parameter.
type SineOption func(*sineWave)

// WithAmplitude sets the sine amplitude. Default is 1.
func WithAmplitude(amplitude float64) SineOption {
	return func(w *sineWave) {
		w.amplitude = amplitude
	}
}

// WithPhase sets the sine phase in radians. Default is 0.
func WithPhase(phase float64) SineOption {
	return func(w *sineWave) {
		w.phase = phase
	}
}

// WithOffset sets the sine DC offset. Default is 0.
func WithOffset(offset float64) SineOption {
	return func(w *sineWave) {
		w.offset = offset
	}
}

// SineWave returns offset + amplitude*sin(2*pi*freq*elapsed + phase) with
// freq in Hz.
func SineWave(freq float64, options ...SineOption) Waveform {
	w := sineWave{freq: freq, amplitude: 1}
	for _, option := range options {
		option(&w)
	}
	return w
}

// RampWave returns a linear sweep from one level to another over the segment
// duration. A zero-duration ramp evaluates to its end level.
func RampWave(from, to float64) Waveform {
	return rampWave{from: from, to: to}
}

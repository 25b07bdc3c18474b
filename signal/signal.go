// Package signal provides buffer primitives for sample streaming. It holds:
//	- non-interleaved float frames for analog output channels
//	- packed port words for digital output lines
//	- the chunk envelope handed from compilers to hardware sinks
package signal

import (
	"time"
)

// Float64 is a non-interleaved float64 signal. First dimension is per channel.
type Float64 [][]float64

// Digital is a packed digital signal. First dimension is per port, each
// sample is the port word with one bit per line.
type Digital [][]uint32

// Chunk is a unit of hand-off between a producer and a hardware sink.
// Exactly one of Floats or Words is set, matching the device role.
type Chunk struct {
	Device string  // device the samples belong to
	Start  int64   // first sample tick of this chunk within the pass
	Rep    int     // zero-based repetition index
	Floats Float64 // analog frames
	Words  Digital // digital port words
}

// Size returns the number of frames carried by the chunk.
func (c Chunk) Size() int {
	if c.Floats != nil {
		return c.Floats.Size()
	}
	return c.Words.Size()
}

// DurationOf returns time duration of passed samples for this sample rate.
func DurationOf(sampleRate float64, samples int64) time.Duration {
	return time.Duration(float64(samples) / sampleRate * float64(time.Second))
}

// EmptyFloat64 returns an empty buffer of specified dimentions.
func EmptyFloat64(numChannels int, bufferSize int) Float64 {
	result := make([][]float64, numChannels)
	for i := range result {
		result[i] = make([]float64, bufferSize)
	}
	return result
}

// EmptyDigital returns an empty digital buffer of specified dimentions.
func EmptyDigital(numPorts int, bufferSize int) Digital {
	result := make([][]uint32, numPorts)
	for i := range result {
		result[i] = make([]uint32, bufferSize)
	}
	return result
}

// NumChannels returns number of channels in this sample slice.
func (floats Float64) NumChannels() int {
	return len(floats)
}

// Size returns number of samples in single block in this sample slice.
func (floats Float64) Size() int {
	if floats.NumChannels() == 0 {
		return 0
	}
	return len(floats[0])
}

// Append buffers set to existing one.
// New buffer is returned if floats is nil.
func (floats Float64) Append(source Float64) Float64 {
	if floats == nil {
		floats = make([][]float64, source.NumChannels())
		for i := range floats {
			floats[i] = make([]float64, 0, source.Size())
		}
	}
	for i := range source {
		floats[i] = append(floats[i], source[i]...)
	}
	return floats
}

// Slice creates a new copy of buffer from start position with defined length.
// If buffer doesn't have enough samples, a shortened block is returned.
//
// if start >= buffer size, nil is returned
// if start + len >= buffer size, len is decreased till the end of slice
// if start < 0, nil is returned
func (floats Float64) Slice(start int, len int) Float64 {
	if floats == nil || start >= floats.Size() || start < 0 {
		return nil
	}
	end := start + len
	result := make([][]float64, floats.NumChannels())
	for i := range floats {
		if end > floats.Size() {
			end = floats.Size()
		}
		result[i] = append(result[i], floats[i][start:end]...)
	}
	return result
}

// NumPorts returns number of ports in this sample slice.
func (words Digital) NumPorts() int {
	return len(words)
}

// Size returns number of samples in single block in this sample slice.
func (words Digital) Size() int {
	if words.NumPorts() == 0 {
		return 0
	}
	return len(words[0])
}

// Append buffers set to existing one.
// New buffer is returned if words is nil.
func (words Digital) Append(source Digital) Digital {
	if words == nil {
		words = make([][]uint32, source.NumPorts())
		for i := range words {
			words[i] = make([]uint32, 0, source.Size())
		}
	}
	for i := range source {
		words[i] = append(words[i], source[i]...)
	}
	return words
}

// Package portaudio plays streamed device output on the default audio
// device, to monitor a run by ear without hardware attached.
package portaudio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"

	"daqstream"
	"daqstream/signal"
)

type device struct {
	buf         []float32
	stream      *portaudio.Stream
	numChannels int
	digital     bool
}

// Sink represents portaudio sink which plays device output using the
// default audio device, one stream per daq device. Portaudio writes fixed
// size buffers, a short last chunk plays zero padded. Nonzero digital
// port words play as full scale, pulse trains are audible as clicks.
type Sink struct {
	mu      sync.Mutex
	devices map[string]*device
}

// NewSink returns new initialized sink which allows to play a stream.
func NewSink() *Sink {
	return &Sink{
		devices: make(map[string]*device),
	}
}

// Configure implements stream.Sink. It also initializes a portaudio api
// with default stream.
func (s *Sink) Configure(ctx context.Context, cfg daqstream.DeviceConfig) error {
	d := &device{
		buf:         make([]float32, cfg.ChunkFrames*len(cfg.Channels)),
		numChannels: len(cfg.Channels),
		digital:     cfg.Role == daqstream.DigitalOut,
	}
	err := portaudio.Initialize()
	if err != nil {
		return err
	}
	d.stream, err = portaudio.OpenDefaultStream(0, d.numChannels, cfg.SampleRate, cfg.ChunkFrames, &d.buf)
	if err != nil {
		portaudio.Terminate()
		return err
	}
	err = d.stream.Start()
	if err != nil {
		d.stream.Close()
		portaudio.Terminate()
		return err
	}
	s.mu.Lock()
	s.devices[cfg.Name] = d
	s.mu.Unlock()
	return nil
}

// WriteChunk implements stream.Sink. The write blocks until the audio
// device drained the buffer, which paces the whole device stream.
func (s *Sink) WriteChunk(ctx context.Context, chunk signal.Chunk) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	s.mu.Lock()
	d, ok := s.devices[chunk.Device]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("device %v is not configured", chunk.Device)
	}
	for i := range d.buf {
		d.buf[i] = 0
	}
	if d.digital {
		d.interleaveWords(chunk.Words)
	} else {
		d.interleave(chunk.Floats)
	}
	return d.stream.Write()
}

// Flush implements stream.Sink and terminates portaudio structures.
func (s *Sink) Flush(ctx context.Context, name string) error {
	s.mu.Lock()
	d, ok := s.devices[name]
	delete(s.devices, name)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return d.close()
}

// Close terminates streams of devices that were never flushed.
func (s *Sink) Close() error {
	s.mu.Lock()
	devices := s.devices
	s.devices = make(map[string]*device)
	s.mu.Unlock()
	var err error
	for _, d := range devices {
		if cerr := d.close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (d *device) close() error {
	err := d.stream.Stop()
	if err != nil {
		return err
	}
	err = d.stream.Close()
	if err != nil {
		return err
	}
	return portaudio.Terminate()
}

func (d *device) interleave(floats signal.Float64) {
	for i := 0; i < floats.Size(); i++ {
		for j := 0; j < d.numChannels; j++ {
			d.buf[i*d.numChannels+j] = float32(floats[j][i])
		}
	}
}

func (d *device) interleaveWords(words signal.Digital) {
	for i := 0; i < words.Size(); i++ {
		for j := 0; j < d.numChannels; j++ {
			if words[j][i] != 0 {
				d.buf[i*d.numChannels+j] = 1
			}
		}
	}
}

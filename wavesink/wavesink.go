// Package wavesink saves streamed device output to wav files, one file
// per device. It stands in for hardware in demos and end to end tests,
// the files play back what the devices would have emitted.
package wavesink

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hashicorp/go-multierror"

	"daqstream"
	"daqstream/signal"
)

const (
	bitDepth    = 16
	audioFormat = 1 // PCM
)

type device struct {
	file    *os.File
	encoder *wav.Encoder
	ib      *audio.IntBuffer
	digital bool
}

// Sink implements stream.Sink on top of wav encoders. Files are named
// <device>.wav under the target directory. Analog samples are expected in
// [-1, 1] and are scaled to 16 bit. Digital port words are written as
// plain integer samples, lines above 15 do not survive the bit depth.
type Sink struct {
	dir string

	mu      sync.Mutex
	devices map[string]*device
}

// New creates a wav sink writing into dir.
func New(dir string) *Sink {
	return &Sink{
		dir:     dir,
		devices: make(map[string]*device),
	}
}

// Configure implements stream.Sink. It creates the device file and sets
// up the encoder, truncating leftovers of an earlier run.
func (s *Sink) Configure(ctx context.Context, cfg daqstream.DeviceConfig) error {
	file, err := os.Create(filepath.Join(s.dir, cfg.Name+".wav"))
	if err != nil {
		return err
	}
	numChannels := len(cfg.Channels)
	d := &device{
		file:    file,
		encoder: wav.NewEncoder(file, int(cfg.SampleRate), bitDepth, numChannels, audioFormat),
		digital: cfg.Role == daqstream.DigitalOut,
		ib: &audio.IntBuffer{
			Format: &audio.Format{
				NumChannels: numChannels,
				SampleRate:  int(cfg.SampleRate),
			},
			SourceBitDepth: bitDepth,
			Data:           make([]int, 0, cfg.ChunkFrames*numChannels),
		},
	}
	s.mu.Lock()
	s.devices[cfg.Name] = d
	s.mu.Unlock()
	return nil
}

// WriteChunk implements stream.Sink.
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
	if d.digital {
		interleaveWords(d.ib, chunk.Words)
	} else {
		interleave(d.ib, chunk.Floats)
	}
	return d.encoder.Write(d.ib)
}

// Flush implements stream.Sink. It finalizes the device file, the wav
// header is written here.
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

// Close finalizes files of devices that were never flushed. Safe to call
// after a clean run, it is a no-op then.
func (s *Sink) Close() error {
	s.mu.Lock()
	devices := s.devices
	s.devices = make(map[string]*device)
	s.mu.Unlock()
	var errs *multierror.Error
	for _, d := range devices {
		errs = multierror.Append(errs, d.close())
	}
	return errs.ErrorOrNil()
}

func (d *device) close() error {
	if err := d.encoder.Close(); err != nil {
		d.file.Close()
		return err
	}
	return d.file.Close()
}

// interleave converts the chunk to frame interleaved 16 bit samples.
func interleave(ib *audio.IntBuffer, floats signal.Float64) {
	numChannels := floats.NumChannels()
	ib.Data = ib.Data[:0]
	for i := 0; i < floats.Size(); i++ {
		for j := 0; j < numChannels; j++ {
			ib.Data = append(ib.Data, int(floats[j][i]*0x7FFF))
		}
	}
}

func interleaveWords(ib *audio.IntBuffer, words signal.Digital) {
	numPorts := words.NumPorts()
	ib.Data = ib.Data[:0]
	for i := 0; i < words.Size(); i++ {
		for j := 0; j < numPorts; j++ {
			ib.Data = append(ib.Data, int(words[j][i]))
		}
	}
}

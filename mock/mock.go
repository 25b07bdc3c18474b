// Package mock provides a scriptable in-memory sink to execute stream
// integration tests against.
package mock

import (
	"context"
	"sync"
	"time"

	"daqstream"
	"daqstream/signal"
)

// Write records one committed chunk. Seq orders writes across all devices.
type Write struct {
	Seq    int
	Device string
	Start  int64
	Rep    int
	Frames int
}

// Sink mocks a stream.Sink. Zero value is ready to use. Failure fields
// apply to every device unless FailDevice narrows them to one. The sink
// is safe for concurrent use, accessors should still only be read after
// the run returned.
type Sink struct {
	Delay      time.Duration // pause per write, imitates hardware pace
	RecordData bool          // keep copies of written samples

	FailDevice       string
	ErrorOnConfigure error
	ErrorOnWrite     error
	FailAfter        int // writes to accept before ErrorOnWrite fires
	ErrorOnFlush     error

	mu         sync.Mutex
	seq        int
	configured map[string]daqstream.DeviceConfig
	writes     []Write
	perDevice  map[string]int
	buffers    map[string]map[*float64]struct{}
	wordBufs   map[string]map[*uint32]struct{}
	floats     map[string]signal.Float64
	words      map[string]signal.Digital
	flushed    map[string]int
}

func (m *Sink) fails(device string) bool {
	return m.FailDevice == "" || m.FailDevice == device
}

// Configure implements stream.Sink.
func (m *Sink) Configure(ctx context.Context, cfg daqstream.DeviceConfig) error {
	if m.ErrorOnConfigure != nil && m.fails(cfg.Name) {
		return m.ErrorOnConfigure
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.configured == nil {
		m.configured = make(map[string]daqstream.DeviceConfig)
	}
	m.configured[cfg.Name] = cfg
	return nil
}

// WriteChunk implements stream.Sink. The delay honors the context, so a
// cancelled run is not held up by a slow mock.
func (m *Sink) WriteChunk(ctx context.Context, chunk signal.Chunk) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.perDevice == nil {
		m.perDevice = make(map[string]int)
	}
	if m.ErrorOnWrite != nil && m.fails(chunk.Device) && m.perDevice[chunk.Device] >= m.FailAfter {
		return m.ErrorOnWrite
	}
	m.writes = append(m.writes, Write{
		Seq:    m.seq,
		Device: chunk.Device,
		Start:  chunk.Start,
		Rep:    chunk.Rep,
		Frames: chunk.Size(),
	})
	m.seq++
	m.perDevice[chunk.Device]++
	m.record(chunk)
	return nil
}

// record tracks backing array identity and, if asked, copies the data.
func (m *Sink) record(chunk signal.Chunk) {
	if len(chunk.Floats) > 0 && len(chunk.Floats[0]) > 0 {
		if m.buffers == nil {
			m.buffers = make(map[string]map[*float64]struct{})
		}
		if m.buffers[chunk.Device] == nil {
			m.buffers[chunk.Device] = make(map[*float64]struct{})
		}
		m.buffers[chunk.Device][&chunk.Floats[0][0]] = struct{}{}
	}
	if len(chunk.Words) > 0 && len(chunk.Words[0]) > 0 {
		if m.wordBufs == nil {
			m.wordBufs = make(map[string]map[*uint32]struct{})
		}
		if m.wordBufs[chunk.Device] == nil {
			m.wordBufs[chunk.Device] = make(map[*uint32]struct{})
		}
		m.wordBufs[chunk.Device][&chunk.Words[0][0]] = struct{}{}
	}
	if !m.RecordData {
		return
	}
	if chunk.Floats != nil {
		if m.floats == nil {
			m.floats = make(map[string]signal.Float64)
		}
		m.floats[chunk.Device] = m.floats[chunk.Device].Append(chunk.Floats)
	}
	if chunk.Words != nil {
		if m.words == nil {
			m.words = make(map[string]signal.Digital)
		}
		m.words[chunk.Device] = m.words[chunk.Device].Append(chunk.Words)
	}
}

// Flush implements stream.Sink.
func (m *Sink) Flush(ctx context.Context, device string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.flushed == nil {
		m.flushed = make(map[string]int)
	}
	m.flushed[device]++
	if m.ErrorOnFlush != nil && m.fails(device) {
		return m.ErrorOnFlush
	}
	return nil
}

// Writes returns every committed chunk in commit order.
func (m *Sink) Writes() []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Write(nil), m.writes...)
}

// DeviceWrites returns the committed chunks of one device in commit order.
func (m *Sink) DeviceWrites(device string) []Write {
	m.mu.Lock()
	defer m.mu.Unlock()
	var writes []Write
	for _, w := range m.writes {
		if w.Device == device {
			writes = append(writes, w)
		}
	}
	return writes
}

// WriteCount returns how many chunks a device committed.
func (m *Sink) WriteCount(device string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.perDevice[device]
}

// Configured returns the configuration a device was armed with.
func (m *Sink) Configured(device string) (daqstream.DeviceConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg, ok := m.configured[device]
	return cfg, ok
}

// Buffer returns the samples written by an analog device. Empty unless
// RecordData is set.
func (m *Sink) Buffer(device string) signal.Float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.floats[device]
}

// Words returns the port words written by a digital device. Empty unless
// RecordData is set.
func (m *Sink) Words(device string) signal.Digital {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.words[device]
}

// BufferCount returns how many distinct chunk buffers a device wrote
// through, telling recycled buffers from fresh allocations apart.
func (m *Sink) BufferCount(device string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buffers[device]) + len(m.wordBufs[device])
}

// Flushed returns how many times a device was flushed.
func (m *Sink) Flushed(device string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushed[device]
}

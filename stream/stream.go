// Package stream schedules compiled programs onto hardware sinks. Every
// device runs a producer and a consumer goroutine joined by a pair of
// recycled chunk buffers, so memory stays bounded at two chunks per device
// no matter how long the experiment runs.
package stream

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/xid"

	"daqstream"
	"daqstream/signal"
)

// Sink writes compiled device output to hardware or a stand-in. Configure
// is called once per device per run before any chunk. WriteChunk blocks
// until the sink accepted the chunk, which is how hardware back-pressure
// reaches the producer, and must honor the context. Flush is called once
// per armed device after its last chunk, on faulted devices too.
type Sink interface {
	Configure(ctx context.Context, cfg daqstream.DeviceConfig) error
	WriteChunk(ctx context.Context, chunk signal.Chunk) error
	Flush(ctx context.Context, device string) error
}

// Logger is a global interface for stream loggers.
type Logger interface {
	Debug(...interface{})
	Info(...interface{})
}

// Meter returns a per-device measure function. The returned function is
// called with the frame count of every committed chunk.
type Meter func(device string, sampleRate float64) func(frames int64)

// DefaultBufferTime is the chunk length used when WithBufferTime is not
// provided. Each device converts it to frames at its own sample rate.
const DefaultBufferTime = 50 * time.Millisecond

// newUID returns new unique id value.
func newUID() string {
	return xid.New().String()
}

// chunkFrames converts a buffer duration to frames at a sample rate.
func chunkFrames(buftime time.Duration, rate float64) int {
	return int(math.Round(buftime.Seconds() * rate))
}

// Streamer drives one compiled program through a sink. A streamer runs at
// most one Run at a time but may be re-run sequentially.
type Streamer struct {
	uid     string
	name    string
	prog    *daqstream.Program
	sink    Sink
	buftime time.Duration
	reps    int
	log     Logger
	meter   Meter

	mu      sync.Mutex
	running bool
	stop    chan struct{}

	states  map[string]*stateVar
	devices []*deviceRunner
}

// Option provides a way to set functional parameters to streamer.
type Option func(s *Streamer) error

// WithBufferTime sets the duration of one chunk. Shorter chunks lower the
// stop latency, longer chunks lower the hand-off rate.
func WithBufferTime(d time.Duration) Option {
	return func(s *Streamer) error {
		if d <= 0 {
			return &daqstream.ConfigError{Field: "buffer time", Reason: "must be above zero"}
		}
		s.buftime = d
		return nil
	}
}

// WithReps sets how many times the program is played back to back.
func WithReps(n int) Option {
	return func(s *Streamer) error {
		if n < 1 {
			return &daqstream.ConfigError{Field: "reps", Reason: "must be at least one"}
		}
		s.reps = n
		return nil
	}
}

// WithLogger sets logger to Streamer. If this option is not provided,
// silent logger is used.
func WithLogger(logger Logger) Option {
	return func(s *Streamer) error {
		s.log = logger
		return nil
	}
}

// WithMeter sets a per-device throughput meter.
func WithMeter(m Meter) Option {
	return func(s *Streamer) error {
		s.meter = m
		return nil
	}
}

// WithName sets name to Streamer.
func WithName(n string) Option {
	return func(s *Streamer) error {
		s.name = n
		return nil
	}
}

// New creates a streamer for a compiled program and applies provided
// options. Chunk sizes are fixed here, so a buffer time that rounds to
// zero frames on any device is rejected up front.
func New(prog *daqstream.Program, sink Sink, options ...Option) (*Streamer, error) {
	if prog == nil {
		return nil, &daqstream.ConfigError{Field: "program", Reason: "cannot be nil"}
	}
	if sink == nil {
		return nil, &daqstream.ConfigError{Field: "sink", Reason: "cannot be nil"}
	}
	s := &Streamer{
		uid:     newUID(),
		prog:    prog,
		sink:    sink,
		buftime: DefaultBufferTime,
		reps:    1,
		log:     defaultLogger,
		states:  make(map[string]*stateVar),
	}
	for _, option := range options {
		if err := option(s); err != nil {
			return nil, err
		}
	}
	for _, dp := range prog.Devices() {
		chunk := chunkFrames(s.buftime, dp.Config().SampleRate)
		if chunk < 1 {
			return nil, &daqstream.ConfigError{Device: dp.Name(), Field: "buffer time", Reason: "rounds to zero frames at this sample rate"}
		}
		r := &deviceRunner{prog: dp, chunk: chunk}
		s.devices = append(s.devices, r)
		s.states[dp.Name()] = &r.state
	}
	return s, nil
}

// Run streams the whole program, reps included, and returns after every
// device drained or faulted. Devices fail independently: an error on one
// does not interrupt the others, and Run reports all device errors
// together. Run returns nil after a graceful Stop and the context error
// when the context ended the run.
func (s *Streamer) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return &daqstream.ConfigError{Field: "run", Reason: "already running"}
	}
	if !s.prog.Valid() {
		s.mu.Unlock()
		return &daqstream.ConfigError{Field: "program", Reason: "stale, experiment was reopened after compile"}
	}
	s.running = true
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	// One gate per exported trigger line. Importers hold production until
	// their exporter committed its first chunk.
	gates := make(map[string]*gate)
	for _, d := range s.devices {
		if cfg := d.prog.Config(); cfg.Trigger.Export && cfg.Trigger.Line != "" {
			gates[cfg.Trigger.Line] = newGate()
		}
	}

	s.log.Info(fmt.Sprintf("%v: streaming %v devices, %v reps", s, len(s.devices), s.reps))
	var wg sync.WaitGroup
	errs := make([]error, len(s.devices))
	for i, d := range s.devices {
		wg.Add(1)
		go func(i int, d *deviceRunner) {
			defer wg.Done()
			errs[i] = d.run(ctx, s, stop, gates)
		}(i, d)
	}
	wg.Wait()

	var result *multierror.Error
	var cancelled bool
	for _, err := range errs {
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			cancelled = true
		default:
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	if cancelled {
		return ctx.Err()
	}
	return nil
}

// Stop asks a running stream to finish early. Producers stop at the next
// chunk boundary and queued chunks still reach the sink, so the last
// written sample is on a chunk edge. Stop is safe to call at any time and
// more than once.
func (s *Streamer) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil {
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// State returns the lifecycle stage of one device.
func (s *Streamer) State(device string) State {
	if v, ok := s.states[device]; ok {
		return v.get()
	}
	return Idle
}

// States returns a snapshot of every device state.
func (s *Streamer) States() map[string]State {
	states := make(map[string]State, len(s.states))
	for name, v := range s.states {
		states[name] = v.get()
	}
	return states
}

// ID returns the unique run identity of the streamer.
func (s *Streamer) ID() string {
	return s.uid
}

// Convert streamer to string. If name is included if has value.
func (s *Streamer) String() string {
	if s.name == "" {
		return s.uid
	}
	return fmt.Sprintf("%v %v", s.name, s.uid)
}

type silentLogger struct{}

func (silentLogger) Debug(args ...interface{}) {}

func (silentLogger) Info(args ...interface{}) {}

var defaultLogger silentLogger

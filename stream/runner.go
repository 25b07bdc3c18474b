package stream

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"daqstream"
	"daqstream/signal"
)

// deviceRunner drives one device through a run.
type deviceRunner struct {
	prog  *daqstream.DeviceProgram
	chunk int
	state stateVar
}

// run configures the sink, then produces and consumes chunks until the
// program is exhausted, the run is stopped or either side fails. Producer
// and consumer of one device share their fate through the group context.
// Other devices are not interrupted.
func (d *deviceRunner) run(ctx context.Context, s *Streamer, stop <-chan struct{}, gates map[string]*gate) error {
	cfg := d.prog.Config()
	cfg.ChunkFrames = d.chunk
	name := cfg.Name

	var exported, imported *gate
	if cfg.Trigger.Line != "" {
		if cfg.Trigger.Export {
			exported = gates[cfg.Trigger.Line]
		} else {
			imported = gates[cfg.Trigger.Line]
		}
	}

	if err := s.sink.Configure(ctx, cfg); err != nil {
		serr := &daqstream.SinkError{Device: name, Op: "configure", Err: err}
		d.state.set(Faulted)
		if exported != nil {
			exported.open(serr)
		}
		return serr
	}
	d.state.set(Armed)
	s.log.Debug(fmt.Sprintf("%v: %v armed, %v frames per chunk", s, name, d.chunk))

	// Exactly two chunk buffers per device. The producer fills one while
	// the sink writes the other, and committed chunks return to the free
	// list.
	free := make(chan signal.Chunk, 2)
	for i := 0; i < 2; i++ {
		c := signal.Chunk{Device: name}
		if cfg.Role == daqstream.DigitalOut {
			c.Words = signal.EmptyDigital(len(cfg.Channels), d.chunk)
		} else {
			c.Floats = signal.EmptyFloat64(len(cfg.Channels), d.chunk)
		}
		free <- c
	}
	ready := make(chan signal.Chunk, 2)

	measure := func(int64) {}
	if s.meter != nil {
		measure = s.meter(name, cfg.SampleRate)
	}

	g, gctx := errgroup.WithContext(ctx)

	produce := func() (err error) {
		defer close(ready)
		if imported != nil {
			if err := imported.wait(gctx, stop); err != nil {
				return fmt.Errorf("awaiting trigger on %v: %w", cfg.Trigger.Line, err)
			}
		}
		d.state.set(Streaming)
		total := d.prog.TotalSamples()
		for rep := 0; rep < s.reps; rep++ {
			for start := int64(0); start < total; {
				// stop lands on a chunk boundary, queued chunks still drain
				select {
				case <-stop:
					d.state.set(Draining)
					return nil
				case <-gctx.Done():
					return gctx.Err()
				default:
				}

				// reclaim a free buffer
				var c signal.Chunk
				select {
				case c = <-free:
				case <-stop:
					d.state.set(Draining)
					return nil
				case <-gctx.Done():
					return gctx.Err()
				}

				n := d.chunk
				if left := total - start; int64(n) > left {
					n = int(left)
				}
				c.Start, c.Rep = start, rep
				if cfg.Role == daqstream.DigitalOut {
					for i := range c.Words {
						c.Words[i] = c.Words[i][:n]
					}
					err = d.prog.FillWords(c.Words, start)
				} else {
					for i := range c.Floats {
						c.Floats[i] = c.Floats[i][:n]
					}
					err = d.prog.Fill(c.Floats, start)
				}
				if err != nil {
					return fmt.Errorf("error filling chunk: %w", err)
				}

				// push chunk further
				select {
				case ready <- c:
				case <-gctx.Done():
					return gctx.Err()
				}
				start += int64(n)
			}
		}
		d.state.set(Draining)
		return nil
	}

	consume := func() (err error) {
		// Open the exported gate no matter how the consumer exits, so
		// importers are never left waiting on a dead exporter. Runs after
		// the flush hook below.
		wrote := false
		defer func() {
			if exported == nil {
				return
			}
			if err != nil && !wrote {
				exported.open(fmt.Errorf("trigger source %v never started: %w", name, err))
				return
			}
			exported.open(nil)
		}()
		// Flush hook on return
		defer func() {
			if ferr := s.sink.Flush(gctx, name); ferr != nil {
				ferr = &daqstream.SinkError{Device: name, Op: "flush", Err: ferr}
				if err == nil {
					err = ferr
				} else {
					s.log.Debug(fmt.Sprintf("%v: %v flush after failure: %v", s, name, ferr))
				}
			}
		}()
		for {
			// receive next chunk
			var c signal.Chunk
			var ok bool
			select {
			case c, ok = <-ready:
				if !ok {
					return nil
				}
			case <-gctx.Done():
				return gctx.Err()
			}

			if werr := s.sink.WriteChunk(gctx, c); werr != nil {
				return &daqstream.SinkError{Device: name, Op: "write", Err: werr}
			}
			// first committed chunk releases trigger importers
			if !wrote {
				wrote = true
				if exported != nil {
					exported.open(nil)
				}
			}
			measure(int64(c.Size())) // capture metrics
			free <- c
		}
	}

	g.Go(produce)
	g.Go(consume)
	err := g.Wait()
	switch {
	case err == nil:
		d.state.set(Idle)
		s.log.Debug(fmt.Sprintf("%v: %v drained", s, name))
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		d.state.set(Idle)
	default:
		d.state.set(Faulted)
		s.log.Info(fmt.Sprintf("%v: %v faulted: %v", s, name, err))
	}
	return err
}

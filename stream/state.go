package stream

import (
	"context"
	"sync"
	"sync/atomic"
)

// State is the lifecycle stage of one streamed device.
type State int32

const (
	// Idle means the device is not running. Both a never-started and a
	// cleanly finished device report Idle.
	Idle State = iota
	// Armed means the sink accepted the device configuration and buffers
	// are allocated, but no sample has been handed off yet.
	Armed
	// Streaming means chunks are being produced and written.
	Streaming
	// Draining means production stopped and queued chunks are being
	// written out.
	Draining
	// Faulted means the device stopped on an error.
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Streaming:
		return "streaming"
	case Draining:
		return "draining"
	case Faulted:
		return "faulted"
	}
	return "unknown"
}

// stateVar publishes a device state for concurrent readers.
type stateVar struct {
	v int32
}

func (s *stateVar) set(state State) {
	atomic.StoreInt32(&s.v, int32(state))
}

func (s *stateVar) get() State {
	return State(atomic.LoadInt32(&s.v))
}

// gate is a one-shot barrier between a trigger exporter and its importers.
// The exporter opens it after its first committed write, or with an error
// when it faults before ever writing.
type gate struct {
	once sync.Once
	ch   chan struct{}
	err  error
}

func newGate() *gate {
	return &gate{ch: make(chan struct{})}
}

func (g *gate) open(err error) {
	g.once.Do(func() {
		g.err = err
		close(g.ch)
	})
}

// wait blocks until the gate opens, the run is stopped or the context ends.
// A stop releases the waiter without error so it can drain and exit clean.
func (g *gate) wait(ctx context.Context, stop <-chan struct{}) error {
	select {
	case <-g.ch:
		return g.err
	case <-stop:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

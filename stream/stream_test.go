package stream_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"daqstream"
	"daqstream/metric"
	"daqstream/mock"
	"daqstream/signal"
	"daqstream/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// aoProgram compiles a one channel analog program of the given length.
func aoProgram(t *testing.T, name string, rate, stop float64) *daqstream.Program {
	t.Helper()
	e := daqstream.New()
	d, err := e.AddAODevice(name, rate)
	require.NoError(t, err)
	ch, err := d.AddChannel(0)
	require.NoError(t, err)
	require.NoError(t, ch.Sine(0, stop, false, 5))
	prog, err := e.Compile(stop)
	require.NoError(t, err)
	return prog
}

// pairProgram compiles two analog devices joined by a start trigger.
func pairProgram(t *testing.T, stop float64) *daqstream.Program {
	t.Helper()
	e := daqstream.New()
	for _, name := range []string{"a", "b"} {
		d, err := e.AddAODevice(name, 1000)
		require.NoError(t, err)
		ch, err := d.AddChannel(0)
		require.NoError(t, err)
		require.NoError(t, ch.Sine(0, stop, false, 5))
	}
	a, _ := e.Device("a")
	b, _ := e.Device("b")
	require.NoError(t, a.ConfigureTrigger("PFI0", true))
	require.NoError(t, b.ConfigureTrigger("PFI0", false))
	prog, err := e.Compile(stop)
	require.NoError(t, err)
	return prog
}

func TestStreamDelivery(t *testing.T) {
	prog := aoProgram(t, "dev", 1000, 1)
	sink := &mock.Sink{}
	s, err := stream.New(prog, sink,
		stream.WithBufferTime(100*time.Millisecond),
		stream.WithMeter(metric.Meter),
		stream.WithName("delivery"),
	)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	writes := sink.Writes()
	require.Len(t, writes, 10)
	for i, w := range writes {
		assert.Equal(t, "dev", w.Device)
		assert.Equal(t, int64(i*100), w.Start)
		assert.Equal(t, 0, w.Rep)
		assert.Equal(t, 100, w.Frames)
	}
	cfg, ok := sink.Configured("dev")
	require.True(t, ok)
	assert.Equal(t, 100, cfg.ChunkFrames)
	assert.Equal(t, []string{"ao0"}, cfg.Channels)
	assert.Equal(t, stream.Idle, s.State("dev"))
	assert.Equal(t, 1, sink.Flushed("dev"))
}

func TestShortLastChunk(t *testing.T) {
	prog := aoProgram(t, "dev", 1000, 0.095)
	sink := &mock.Sink{}
	s, err := stream.New(prog, sink, stream.WithBufferTime(20*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	writes := sink.Writes()
	require.Len(t, writes, 5)
	for i, w := range writes {
		assert.Equal(t, int64(i*20), w.Start)
	}
	assert.Equal(t, 15, writes[4].Frames)
}

func TestRecordedDataMatchesProgram(t *testing.T) {
	prog := aoProgram(t, "dev", 1000, 0.25)
	sink := &mock.Sink{RecordData: true}
	s, err := stream.New(prog, sink, stream.WithBufferTime(30*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	whole, err := prog.DeviceByName("dev").Render(0, 250)
	require.NoError(t, err)
	assert.Equal(t, whole, sink.Buffer("dev"))
}

func TestDoubleBuffer(t *testing.T) {
	prog := aoProgram(t, "dev", 1000, 1)
	sink := &mock.Sink{}
	s, err := stream.New(prog, sink, stream.WithBufferTime(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	// twenty chunks flowed through exactly two recycled buffers
	assert.Equal(t, 20, sink.WriteCount("dev"))
	assert.Equal(t, 2, sink.BufferCount("dev"))
}

func TestReps(t *testing.T) {
	prog := aoProgram(t, "dev", 1000, 0.1)
	sink := &mock.Sink{}
	s, err := stream.New(prog, sink,
		stream.WithBufferTime(50*time.Millisecond),
		stream.WithReps(3),
	)
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	writes := sink.Writes()
	require.Len(t, writes, 6)
	for i, w := range writes {
		assert.Equal(t, i/2, w.Rep)
		assert.Equal(t, int64(i%2*50), w.Start)
	}
}

func TestTriggerOrdering(t *testing.T) {
	prog := pairProgram(t, 0.2)
	sink := &mock.Sink{Delay: time.Millisecond}
	s, err := stream.New(prog, sink, stream.WithBufferTime(50*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	awrites := sink.DeviceWrites("a")
	bwrites := sink.DeviceWrites("b")
	require.NotEmpty(t, awrites)
	require.NotEmpty(t, bwrites)
	// the importer holds production until the exporter committed
	assert.Less(t, awrites[0].Seq, bwrites[0].Seq)
}

func TestFaultIsolation(t *testing.T) {
	e := daqstream.New()
	for _, name := range []string{"a", "b"} {
		d, err := e.AddAODevice(name, 1000)
		require.NoError(t, err)
		ch, err := d.AddChannel(0)
		require.NoError(t, err)
		require.NoError(t, ch.Sine(0, 0.5, false, 5))
	}
	prog, err := e.Compile(0.5)
	require.NoError(t, err)

	sink := &mock.Sink{
		Delay:        time.Millisecond,
		FailDevice:   "b",
		ErrorOnWrite: errors.New("output buffer underflow"),
		FailAfter:    2,
	}
	s, err := stream.New(prog, sink, stream.WithBufferTime(50*time.Millisecond))
	require.NoError(t, err)

	err = s.Run(context.Background())
	require.Error(t, err)
	var sinkErr *daqstream.SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, "b", sinkErr.Device)
	assert.Equal(t, "write", sinkErr.Op)

	// the healthy device finished its full pass
	assert.Equal(t, 10, sink.WriteCount("a"))
	assert.Equal(t, 2, sink.WriteCount("b"))
	assert.Equal(t, stream.Idle, s.State("a"))
	assert.Equal(t, stream.Faulted, s.State("b"))
	assert.Equal(t, 1, sink.Flushed("b"))
}

func TestStopDrains(t *testing.T) {
	prog := aoProgram(t, "dev", 1000, 100)
	sink := &mock.Sink{Delay: 2 * time.Millisecond}
	s, err := stream.New(prog, sink, stream.WithBufferTime(50*time.Millisecond))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	require.Eventually(t, func() bool { return sink.WriteCount("dev") >= 3 }, time.Second, time.Millisecond)
	s.Stop()
	s.Stop() // idempotent

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not drain after stop")
	}
	assert.Equal(t, stream.Idle, s.State("dev"))
	// production stopped on a chunk boundary, every committed chunk is whole
	for _, w := range sink.Writes() {
		assert.Equal(t, 50, w.Frames)
	}
}

func TestContextCancel(t *testing.T) {
	prog := aoProgram(t, "dev", 1000, 100)
	sink := &mock.Sink{Delay: 2 * time.Millisecond}
	s, err := stream.New(prog, sink, stream.WithBufferTime(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return sink.WriteCount("dev") >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not abort after cancel")
	}
	// cancellation is not a device fault
	assert.Equal(t, stream.Idle, s.State("dev"))
}

func TestStaleProgram(t *testing.T) {
	e := daqstream.New()
	d, err := e.AddAODevice("dev", 1000)
	require.NoError(t, err)
	ch, err := d.AddChannel(0)
	require.NoError(t, err)
	require.NoError(t, ch.Constant(0, 0.1, 1, false))
	prog, err := e.Compile(0.1)
	require.NoError(t, err)

	s, err := stream.New(prog, &mock.Sink{})
	require.NoError(t, err)

	e.Reopen()
	var cfgErr *daqstream.ConfigError
	require.ErrorAs(t, s.Run(context.Background()), &cfgErr)
}

func TestOptionValidation(t *testing.T) {
	prog := aoProgram(t, "dev", 1000, 0.1)
	var cfgErr *daqstream.ConfigError

	_, err := stream.New(prog, &mock.Sink{}, stream.WithReps(0))
	require.ErrorAs(t, err, &cfgErr)
	_, err = stream.New(prog, &mock.Sink{}, stream.WithBufferTime(0))
	require.ErrorAs(t, err, &cfgErr)
	_, err = stream.New(nil, &mock.Sink{})
	require.ErrorAs(t, err, &cfgErr)
	_, err = stream.New(prog, nil)
	require.ErrorAs(t, err, &cfgErr)

	// at 1 Hz the default chunk of 50ms rounds to zero frames
	slow := aoProgram(t, "slow", 1, 2)
	_, err = stream.New(slow, &mock.Sink{})
	require.ErrorAs(t, err, &cfgErr)
}

func TestConfigureFaultReleasesImporter(t *testing.T) {
	prog := pairProgram(t, 0.2)
	sink := &mock.Sink{
		FailDevice:       "a",
		ErrorOnConfigure: errors.New("device unreachable"),
	}
	s, err := stream.New(prog, sink, stream.WithBufferTime(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = s.Run(ctx)
	require.Error(t, err)

	var sinkErr *daqstream.SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, "a", sinkErr.Device)
	assert.Equal(t, "configure", sinkErr.Op)

	// the importer fails fast instead of waiting forever
	assert.Equal(t, 0, sink.WriteCount("b"))
	assert.Equal(t, stream.Faulted, s.State("a"))
	assert.Equal(t, stream.Faulted, s.State("b"))
}

func TestFlushError(t *testing.T) {
	prog := aoProgram(t, "dev", 1000, 0.1)
	sink := &mock.Sink{ErrorOnFlush: errors.New("fifo not empty")}
	s, err := stream.New(prog, sink, stream.WithBufferTime(50*time.Millisecond))
	require.NoError(t, err)

	err = s.Run(context.Background())
	var sinkErr *daqstream.SinkError
	require.ErrorAs(t, err, &sinkErr)
	assert.Equal(t, "flush", sinkErr.Op)
	assert.Equal(t, stream.Faulted, s.State("dev"))
}

func TestSequentialReruns(t *testing.T) {
	prog := aoProgram(t, "dev", 1000, 0.2)
	sink := &mock.Sink{}
	s, err := stream.New(prog, sink, stream.WithBufferTime(50*time.Millisecond))
	require.NoError(t, err)

	require.NoError(t, s.Run(context.Background()))
	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 8, sink.WriteCount("dev"))
}

func TestConcurrentRunRejected(t *testing.T) {
	prog := aoProgram(t, "dev", 1000, 100)
	sink := &mock.Sink{Delay: 2 * time.Millisecond}
	s, err := stream.New(prog, sink, stream.WithBufferTime(50*time.Millisecond))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	require.Eventually(t, func() bool { return sink.WriteCount("dev") >= 1 }, time.Second, time.Millisecond)

	var cfgErr *daqstream.ConfigError
	require.ErrorAs(t, s.Run(context.Background()), &cfgErr)

	s.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not drain after stop")
	}
}

func TestDigitalStream(t *testing.T) {
	e := daqstream.New()
	d, err := e.AddDODevice("dports", 1000)
	require.NoError(t, err)
	l0, err := d.AddLine(0, 0)
	require.NoError(t, err)
	l2, err := d.AddLine(1, 2)
	require.NoError(t, err)
	require.NoError(t, l0.High(0, 0.05))
	require.NoError(t, l2.GoHigh(0.03))

	prog, err := e.Compile(0.1)
	require.NoError(t, err)

	sink := &mock.Sink{RecordData: true}
	s, err := stream.New(prog, sink, stream.WithBufferTime(30*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, s.Run(context.Background()))

	writes := sink.Writes()
	require.Len(t, writes, 4)
	assert.Equal(t, 10, writes[3].Frames)
	assert.Equal(t, 2, sink.BufferCount("dports"))

	expected := signal.EmptyDigital(2, 100)
	require.NoError(t, prog.DeviceByName("dports").FillWords(expected, 0))
	assert.Equal(t, expected, sink.Words("dports"))
}

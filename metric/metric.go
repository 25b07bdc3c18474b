package metric

import (
	"expvar"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"daqstream/signal"
)

const devicesLabel = "daqstream.devices"

const (
	// ChunkCounter measures number of committed chunks.
	ChunkCounter = "Chunks"
	// SampleCounter measures number of samples.
	SampleCounter = "Samples"
	// LatencyCounter measures latency between chunk commits.
	LatencyCounter = "Latency"
	// DurationCounter counts the signal duration committed so far.
	DurationCounter = "Duration"
	// RunCounter counts number of runs.
	RunCounter = "Runs"
)

var (
	devices = metrics{
		m: make(map[string]metric),
	}

	counters = []string{
		ChunkCounter,
		SampleCounter,
		LatencyCounter,
		DurationCounter,
		RunCounter,
	}
)

// Get metrics values for provided device.
func Get(device string) map[string]string {
	return getCounters(device)
}

// GetAll returns counters for all measured devices.
func GetAll() map[string]map[string]string {
	m := make(map[string]map[string]string)
	devices.Lock()
	defer devices.Unlock()
	for device := range devices.m {
		m[device] = getCounters(device)
	}
	return m
}

func getCounters(device string) map[string]string {
	m := make(map[string]string)
	for _, counter := range counters {
		v := expvar.Get(key(device, counter))
		if v != nil {
			m[counter] = v.String()
		}
	}
	return m
}

// Meter creates new measure closure to capture device counters. The
// closure is called once per committed chunk with its frame count.
func Meter(device string, sampleRate float64) func(frames int64) {
	metric := devices.get(device)
	metric.runs.Add(1)
	calledAt := time.Now()
	var (
		chunkFrames   int64
		chunkDuration time.Duration
	)
	return func(frames int64) {
		metric.latency.set(time.Since(calledAt))
		metric.chunks.Add(1)
		metric.samples.Add(frames)
		// recalculate chunk duration only when chunk size has changed
		if chunkFrames != frames {
			chunkFrames = frames
			chunkDuration = signal.DurationOf(sampleRate, frames)
		}
		metric.duration.add(chunkDuration)
		calledAt = time.Now()
	}
}

type metrics struct {
	sync.Mutex
	m map[string]metric
}

func (m *metrics) get(device string) metric {
	m.Lock()
	defer m.Unlock()
	if metric, ok := m.m[device]; ok {
		// return existing metric if available
		return metric
	}
	// create new metric
	metric := newMetric(device)
	m.m[device] = metric
	return metric
}

type metric struct {
	key      string
	runs     *expvar.Int
	chunks   *expvar.Int
	samples  *expvar.Int
	latency  *duration
	duration *duration
}

func newMetric(device string) metric {
	m := metric{
		key:      device,
		runs:     expvar.NewInt(key(device, RunCounter)),
		chunks:   expvar.NewInt(key(device, ChunkCounter)),
		samples:  expvar.NewInt(key(device, SampleCounter)),
		latency:  &duration{},
		duration: &duration{},
	}
	expvar.Publish(key(device, LatencyCounter), m.latency)
	expvar.Publish(key(device, DurationCounter), m.duration)
	return m
}

func key(device, counter string) string {
	return fmt.Sprintf("%s.%s.%s", devicesLabel, device, counter)
}

// duration allows to format time.Duration metric values.
type duration struct {
	d int64
}

func (v *duration) String() string {
	return fmt.Sprintf("%v", time.Duration(atomic.LoadInt64(&v.d)))
}

func (v *duration) add(delta time.Duration) {
	atomic.AddInt64(&v.d, int64(delta))
}

func (v *duration) set(value time.Duration) {
	atomic.StoreInt64(&v.d, int64(value))
}

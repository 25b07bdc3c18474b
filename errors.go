package daqstream

import (
	"fmt"
	"strings"
)

// TickRange is a half-open range of sample ticks.
type TickRange struct {
	Start int64
	End   int64
}

func (r TickRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.Start, r.End)
}

// OverlapError is returned when a new segment intersects an existing one on
// the same channel. The experiment is left unchanged.
type OverlapError struct {
	Device   string
	Channel  string
	New      TickRange
	Existing TickRange
}

func (e *OverlapError) Error() string {
	return fmt.Sprintf("%v/%v: segment %v overlaps existing segment %v", e.Device, e.Channel, e.New, e.Existing)
}

// NegativeDurationError is returned when a segment is authored with a
// duration below zero.
type NegativeDurationError struct {
	Device   string
	Channel  string
	Start    float64
	Duration float64
}

func (e *NegativeDurationError) Error() string {
	return fmt.Sprintf("%v/%v: segment at %vs has negative duration %vs", e.Device, e.Channel, e.Start, e.Duration)
}

// ConfigError is returned for invalid device, channel or streaming
// configuration. Device is empty for experiment-wide fields.
type ConfigError struct {
	Device string
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Device == "" {
		return fmt.Sprintf("%v: %v", e.Field, e.Reason)
	}
	return fmt.Sprintf("%v: %v: %v", e.Device, e.Field, e.Reason)
}

// OutOfBoundsError is returned when a channel timeline or a sample request
// extends past the experiment stop time.
type OutOfBoundsError struct {
	Device  string
	Channel string
	End     float64
	Stop    float64
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("%v/%v: ends at %vs, after stop time %vs", e.Device, e.Channel, e.End, e.Stop)
}

// TriggerConfigError is returned when the start-trigger wiring of an
// experiment does not resolve to exactly one exporter per line.
type TriggerConfigError struct {
	Line      string
	Exporters []string
	Importers []string
	Reason    string
}

func (e *TriggerConfigError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "trigger line %q: %v", e.Line, e.Reason)
	if len(e.Exporters) > 0 {
		fmt.Fprintf(&b, ", exported by %v", strings.Join(e.Exporters, ", "))
	}
	if len(e.Importers) > 0 {
		fmt.Fprintf(&b, ", imported by %v", strings.Join(e.Importers, ", "))
	}
	return b.String()
}

// SinkError wraps an error reported by a hardware sink. It faults the device
// it names, other devices keep streaming.
type SinkError struct {
	Device string
	Op     string
	Err    error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%v: sink %v: %v", e.Device, e.Op, e.Err)
}

// Unwrap returns the underlying sink error.
func (e *SinkError) Unwrap() error {
	return e.Err
}

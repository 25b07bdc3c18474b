/*
Package daqstream compiles declarative waveform experiments and prepares them
for streaming to output hardware.

Concept

An Experiment is a set of output Devices, each holding Channels with segment
timelines. A segment places a waveform on a channel at a point in time:

    Const - a fixed level;
    Sine - offset + amplitude*sin(2*pi*freq*t + phase);
    Ramp - a linear sweep between two levels.

Digital channels author the same model through high/low levels. Segments on
one channel never overlap; gaps between them resolve to a holdover value,
either the previous segment's final sample or the channel default.

Authoring

An experiment is built by registering devices and adding segments:

    exp := daqstream.New()
    dev, _ := exp.AddAODevice("PXI1Slot3", 1e6)
    ch, _ := dev.AddChannel(0)
    ch.Sine(0, 1, false, 7, daqstream.WithOffset(1))
    ch.Constant(9, 0.5, 1, false)

Every authoring call either applies fully or rejects the segment and leaves
the experiment unchanged.

Compilation

Compile validates the experiment as a whole, resolves every timeline into an
immutable Program and freezes the experiment against further edits:

    prog, err := exp.Compile(10)

The Program exposes every channel as a pure function over sample ticks, so
it can be evaluated repeatedly, in chunks of any size, without ever being
stored as one large buffer. Reopen unfreezes the experiment for further
edits and invalidates previously compiled programs.

Streaming

The stream package turns a Program into bounded chunked output against a
hardware sink, with double buffering and start-trigger synchronization
between devices. Sinks for WAV rendering and portaudio playback live in the
wavesink and portaudio packages, a recording sink for tests lives in mock.
*/
package daqstream

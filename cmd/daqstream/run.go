package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"daqstream/log"
	"daqstream/metric"
	"daqstream/portaudio"
	"daqstream/rig"
	"daqstream/stream"
	"daqstream/wavesink"
)

type runCommand struct {
	rig     string
	out     string
	listen  bool
	stop    float64
	buftime time.Duration
	reps    int
}

//Implement daqstream.command interface
func (cmd *runCommand) Name() string {
	return "run"
}

func (cmd *runCommand) Help() string {
	return "Stream a demo program over the devices of a rig"
}

func (cmd *runCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.rig, "rig", "", "rig description yaml file (required)")
	fs.StringVar(&cmd.out, "out", ".", "directory for rendered wav files")
	fs.BoolVar(&cmd.listen, "listen", false, "play on the default audio device instead of files")
	fs.Float64Var(&cmd.stop, "stop", 10, "stop time in seconds")
	fs.DurationVar(&cmd.buftime, "buftime", stream.DefaultBufferTime, "duration of one streamed chunk")
	fs.IntVar(&cmd.reps, "reps", 1, "how many times to play the program")
}

func (cmd *runCommand) Run() error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	r, err := rig.Load(cmd.rig)
	if err != nil {
		return err
	}
	exp, err := r.Experiment()
	if err != nil {
		return err
	}
	if err := author(exp, cmd.stop); err != nil {
		return err
	}
	prog, err := exp.Compile(cmd.stop)
	if err != nil {
		return err
	}

	var sink stream.Sink
	if cmd.listen {
		pa := portaudio.NewSink()
		defer pa.Close()
		sink = pa
	} else {
		ws := wavesink.New(cmd.out)
		defer ws.Close()
		sink = ws
	}

	logger := log.GetLogger()
	s, err := stream.New(prog, sink,
		stream.WithName(r.Name),
		stream.WithBufferTime(cmd.buftime),
		stream.WithReps(cmd.reps),
		stream.WithLogger(logger),
		stream.WithMeter(metric.Meter),
	)
	if err != nil {
		return err
	}
	entry := log.WithRun(logger, s.ID())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)
	go func() {
		<-interrupt
		entry.Info("interrupted, draining")
		s.Stop()
	}()

	entry.Infof("streaming %v for %gs", r.Name, cmd.stop)
	if err := s.Run(context.Background()); err != nil {
		return err
	}
	for device, counters := range metric.GetAll() {
		entry.Infof("%v: %v", device, counters)
	}
	return nil
}

func (cmd *runCommand) Validate() error {
	var message string
	if cmd.rig == "" {
		message = message + fmt.Sprintf("Missing -rig required flag\n")
	}
	if message != "" {
		return fmt.Errorf(message)
	}
	return nil
}

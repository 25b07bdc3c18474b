package main

import (
	"flag"
	"fmt"

	"daqstream/rig"
)

type checkCommand struct {
	rig  string
	stop float64
}

//Implement daqstream.command interface
func (cmd *checkCommand) Name() string {
	return "check"
}

func (cmd *checkCommand) Help() string {
	return "Compile the demo program for a rig and print what would stream"
}

func (cmd *checkCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.rig, "rig", "", "rig description yaml file (required)")
	fs.Float64Var(&cmd.stop, "stop", 10, "stop time in seconds")
}

func (cmd *checkCommand) Run() error {
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

	fmt.Printf("Rig %v compiles to %gs of output:\n", r.Name, prog.StopTime())
	for _, dp := range prog.Devices() {
		cfg := dp.Config()
		fmt.Printf("\t%v (%v at %g Hz): %d channels, %d samples\n",
			cfg.Name, cfg.Role, cfg.SampleRate, len(cfg.Channels), dp.TotalSamples())
		switch {
		case cfg.Trigger.Line == "":
		case cfg.Trigger.Export:
			fmt.Printf("\t\texports start trigger on %v\n", cfg.Trigger.Line)
		default:
			fmt.Printf("\t\tawaits start trigger on %v\n", cfg.Trigger.Line)
		}
	}
	return nil
}

func (cmd *checkCommand) Validate() error {
	var message string
	if cmd.rig == "" {
		message = message + fmt.Sprintf("Missing -rig required flag\n")
	}
	if message != "" {
		return fmt.Errorf(message)
	}
	return nil
}

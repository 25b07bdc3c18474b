package main

import (
	"daqstream"
)

// author lays a small show onto every channel of the rig. Analog channels
// play a tone ladder that fades out over a closing ramp, digital lines
// pulse with a per-line phase offset.
func author(e *daqstream.Experiment, stop float64) error {
	for _, dev := range e.Devices() {
		for i, ch := range dev.Channels() {
			var err error
			switch dev.Role() {
			case daqstream.AnalogOut:
				err = authorTone(ch, stop, i)
			case daqstream.DigitalOut:
				err = authorPulses(ch, stop, i)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func authorTone(ch *daqstream.Channel, stop float64, i int) error {
	freq := 220 * float64(i+1)
	if err := ch.Sine(0, stop*0.8, false, freq, daqstream.WithAmplitude(0.4)); err != nil {
		return err
	}
	return ch.Ramp(stop*0.8, stop*0.2, false, 0.4, 0)
}

func authorPulses(ch *daqstream.Channel, stop float64, i int) error {
	for at := 0.05 * float64(i); at+0.1 <= stop; at += 0.5 {
		if err := ch.High(at, 0.1); err != nil {
			return err
		}
	}
	return nil
}

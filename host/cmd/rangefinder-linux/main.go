//go:build linux

// rangefinder-linux runs the echo rangefinder directly on a Linux board's
// GPIO character device and prints each measurement.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rangefinder/core"
	"rangefinder/host/gpiochip"
	"rangefinder/host/record"
	"rangefinder/protocol"
)

const usPerCM = 58

var (
	chip       = flag.String("chip", gpiochip.DefaultChip, "GPIO chip name")
	trigger    = flag.Uint("trigger", 23, "Trigger line offset")
	echo       = flag.Uint("echo", 24, "Echo line offset")
	count      = flag.Int("count", 0, "Exit after this many measurements, 0 = forever")
	interval   = flag.Duration("interval", 60*time.Millisecond, "Spacing between measurements")
	recordPath = flag.String("record", "", "Append measurements to this CBOR file")
	verbose    = flag.Bool("verbose", false, "Print state traces and dump timing on timeouts")
)

func main() {
	flag.Parse()

	// Microsecond clock for the core timer list; a free-running source also
	// starts the background timer service that fires the deadlines
	start := time.Now()
	core.SetTimeSource(func() uint32 {
		return uint32(time.Since(start).Microseconds())
	})
	core.TimerInit()

	if *verbose {
		core.SetDebugWriter(func(s string) { fmt.Println("  [core]", s) })
		core.SetDebugEnabled(true)
		// Edge events are logged from the gpiod watcher through the async queue
		core.InitAsyncDebug()
	}

	gpio := gpiochip.New(*chip)
	defer gpio.Close()

	rf, err := core.NewEchoRangefinderWithConfig(
		core.DefaultConfig(core.GPIOPin(*trigger), core.GPIOPin(*echo)), gpio)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var rec *record.Recorder
	if *recordPath != "" {
		if rec, err = record.Create(*recordPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rec.Close()
		fmt.Printf("Recording session %s to %s\n", rec.Session(), *recordPath)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	for n := 0; *count == 0 || n < *count; n++ {
		if err := rf.TriggerMeasurement(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: trigger failed: %v\n", err)
		} else {
			r := protocol.PulseReport{
				Cycle:      rf.Cycle(),
				DurationUS: rf.GetPulseDuration(),
				Clock:      core.GetTime(),
			}
			printReport(r)
			if r.TimedOut() && *verbose {
				core.DumpTimingRing()
			}
			if rec != nil {
				if err := rec.Record(r); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: record failed: %v\n", err)
				}
			}
		}

		select {
		case <-sigs:
			return
		case <-ticker.C:
		}
	}
}

func printReport(r protocol.PulseReport) {
	if r.TimedOut() {
		fmt.Printf("cycle=%d clock=%d: no echo\n", r.Cycle, r.Clock)
		return
	}
	fmt.Printf("cycle=%d clock=%d: %dus (~%.1fcm)\n",
		r.Cycle, r.Clock, r.DurationUS, float64(r.DurationUS)/usPerCM)
}

//go:build rp2040

package main

import (
	"machine"
	"time"

	"rangefinder/core"
	"rangefinder/protocol"
)

// Board wiring
const (
	triggerPin core.GPIOPin = 14
	echoPin    core.GPIOPin = 15
	sensorOID               = 0

	// Minimum spacing between trigger pulses so late echoes die out
	measureInterval = 60 * time.Millisecond

	// Forward state traces to the host and dump the timing ring on timeouts
	verbose = false
)

var (
	outputBuffer *protocol.ScratchOutput

	// Debug counters
	measurements uint32
	timeouts     uint32
	msgerrors    uint32

	consecutiveWriteFailures uint32
)

func main() {
	// Disable watchdog on boot to clear any previous state
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitUSB()
	InitClock()

	outputBuffer = protocol.NewScratchOutput()

	gpioDriver := NewPIOTriggerDriver(NewRPGPIODriver(), triggerPin, 0)
	core.SetGPIODriver(gpioDriver)

	cfg := core.DefaultConfig(triggerPin, echoPin)
	cfg.OID = sensorOID
	rf, err := core.NewEchoRangefinderWithConfig(cfg, gpioDriver)
	if err != nil {
		for {
			// Nothing to measure with; keep USB alive for the host
			time.Sleep(time.Second)
		}
	}

	reporter := core.NewReporter(rf, outputBuffer)
	core.SetDebugWriter(reporter.Trace)
	core.SetDebugEnabled(verbose)

	for {
		// Recover from panics in the main loop to prevent a firmware crash
		func() {
			defer func() {
				if r := recover(); r != nil {
					msgerrors++
					outputBuffer.Reset()
				}
			}()

			duration, err := reporter.Measure()
			if err != nil {
				msgerrors++
				return
			}
			measurements++
			if duration == core.PulseTimeout {
				timeouts++
				if verbose {
					core.DumpTimingRing()
				}
			}

			writeUSB()
		}()

		// Sensor recovery time; also yields to the USB stack
		time.Sleep(measureInterval)
	}
}

// writeUSB writes available data from the output buffer to USB
func writeUSB() {
	result := outputBuffer.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			// Likely no host attached; drop stale frames after a few tries
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}

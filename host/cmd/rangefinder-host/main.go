package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"rangefinder/host/config"
	"rangefinder/host/monitor"
	"rangefinder/host/record"
	"rangefinder/host/serial"
	"rangefinder/protocol"
)

// Speed of sound round trip, for the printed distance estimate
const usPerCM = 58

var (
	configPath = flag.String("config", "", "JSON configuration file")
	device     = flag.String("device", "", "Serial device path (overrides config)")
	baud       = flag.Int("baud", 0, "Baud rate, ignored for USB CDC (overrides config)")
	count      = flag.Int("count", -1, "Exit after this many reports, 0 = forever (overrides config)")
	verbose    = flag.Bool("verbose", false, "Print firmware traces and statistics")
	recordPath = flag.String("record", "", "Append pulse reports to this CBOR file (overrides config)")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Rangefinder Host (protocol %s)\n", protocol.Version)
	fmt.Println("==================================")

	fmt.Printf("Connecting to %s...\n", cfg.Device)
	port, err := serial.Open(cfg.Serial())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer port.Close()
	if err := port.Flush(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: flush failed: %v\n", err)
	}

	var rec *record.Recorder
	if cfg.Record != "" {
		if rec, err = record.Create(cfg.Record); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer rec.Close()
		fmt.Printf("Recording session %s to %s\n", rec.Session(), cfg.Record)
	}

	mon := monitor.New(port)
	reports := make(chan protocol.PulseReport, 16)
	mon.OnPulse = func(r protocol.PulseReport) {
		select {
		case reports <- r:
		default:
		}
	}
	if cfg.Verbose {
		mon.OnTrace = func(text string) {
			fmt.Printf("  [mcu] %s\n", text)
		}
	}

	go mon.Run()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	seen := 0
loop:
	for {
		select {
		case r := <-reports:
			printReport(r)
			if rec != nil {
				if err := rec.Record(r); err != nil {
					fmt.Fprintf(os.Stderr, "Warning: record failed: %v\n", err)
				}
			}
			seen++
			if cfg.Count > 0 && seen >= cfg.Count {
				break loop
			}
		case <-mon.Done():
			fmt.Println("Port closed")
			break loop
		case <-sigs:
			break loop
		}
	}

	mon.Stop()
	if cfg.Verbose {
		printStats(mon.Stats())
	}
}

// loadConfig reads the config file, if any, and applies flag overrides
func loadConfig() (*config.HostConfig, error) {
	cfg := config.DefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.LoadConfigFile(*configPath); err != nil {
			return nil, err
		}
	}

	if *device != "" {
		cfg.Device = *device
	}
	if *baud > 0 {
		cfg.Baud = *baud
	}
	if *count >= 0 {
		cfg.Count = *count
	}
	if *verbose {
		cfg.Verbose = true
	}
	if *recordPath != "" {
		cfg.Record = *recordPath
	}
	return cfg, nil
}

func printReport(r protocol.PulseReport) {
	if r.TimedOut() {
		fmt.Printf("oid=%d cycle=%d clock=%d: no echo\n", r.OID, r.Cycle, r.Clock)
		return
	}
	fmt.Printf("oid=%d cycle=%d clock=%d: %dus (~%.1fcm)\n",
		r.OID, r.Cycle, r.Clock, r.DurationUS, float64(r.DurationUS)/usPerCM)
}

func printStats(s monitor.Stats) {
	fmt.Println("\n=== Statistics ===")
	fmt.Printf("Frames:        %d\n", s.Frames)
	fmt.Printf("Reports:       %d (%d timeouts)\n", s.Reports, s.Timeouts)
	fmt.Printf("Traces:        %d\n", s.Traces)
	fmt.Printf("Lost frames:   %d\n", s.Lost)
	fmt.Printf("Decode errors: %d\n", s.DecodeErrors)
}

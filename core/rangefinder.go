// Echo rangefinder support
// Drives a trigger/echo ultrasonic sensor (JSN-SR04T, HC-SR04 and alikes):
// a short trigger pulse starts a measurement and the sensor answers with an
// echo pulse whose width is the sound round-trip time.
package core

import (
	"errors"
	"sync/atomic"
)

// Timing of a measurement cycle, in microseconds
const (
	PreTriggerLowUS = 2     // Trigger held low before the pulse
	TriggerDelayUS  = 15    // Trigger pulse width
	EchoTimeoutUS   = 35000 // Longest valid echo, ~600cm at 58us/cm

	// PulseTimeout is returned by GetPulseDuration when no valid echo ended in time
	PulseTimeout = -1
)

var (
	ErrMeasurementInFlight = errors.New("measurement already in progress")
	ErrPinConflict         = errors.New("trigger and echo must be different pins")
	ErrEchoTimeout         = errors.New("no echo within timeout")
)

// Config describes one rangefinder
type Config struct {
	OID             uint8 // Object ID used in reports and timing events
	TriggerPin      GPIOPin
	EchoPin         GPIOPin
	PreTriggerLowUS uint32
	TriggerDelayUS  uint32
	EchoTimeoutUS   uint32
}

// DefaultConfig returns the standard timing for the given pins
func DefaultConfig(trigger, echo GPIOPin) Config {
	cfg := Config{TriggerPin: trigger, EchoPin: echo}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.PreTriggerLowUS == 0 {
		c.PreTriggerLowUS = PreTriggerLowUS
	}
	if c.TriggerDelayUS == 0 {
		c.TriggerDelayUS = TriggerDelayUS
	}
	if c.EchoTimeoutUS == 0 {
		c.EchoTimeoutUS = EchoTimeoutUS
	}
}

// Measurement phases
const (
	phaseIdle       = 0 // No cycle in flight
	phaseTriggering = 1 // Pulse sent, waiting for the echo rising edge
	phaseTiming     = 2 // Counter running, waiting for the falling edge
	phaseSettling   = 3 // A terminal handler won and is committing the result
)

// The whole session state lives in one word so every transition is a
// single compare-and-swap: bits 0-1 phase, bit 2 timed out, bits 3-31 cycle.
const (
	statePhaseMask = 0x3
	stateTimedOut  = 1 << 2
	stateCycleShft = 3
)

func packState(phase, cycle uint32, timedOut bool) uint32 {
	s := phase&statePhaseMask | cycle<<stateCycleShft
	if timedOut {
		s |= stateTimedOut
	}
	return s
}

func statePhase(s uint32) uint32 { return s & statePhaseMask }
func stateCycle(s uint32) uint32 { return s >> stateCycleShft }

// EchoRangefinder measures echo pulse widths on a trigger/echo sensor.
// One measurement cycle is in flight at a time.
type EchoRangefinder struct {
	cfg  Config
	gpio GPIODriver

	state         atomic.Uint32
	pulseDuration atomic.Int32
	counter       ElapsedCounter

	triggerDeadline Deadline
	echoDeadline    Deadline

	waiter waiter
}

// NewEchoRangefinder creates a rangefinder with default timing on the
// registered GPIO driver
func NewEchoRangefinder(trigger, echo GPIOPin) (*EchoRangefinder, error) {
	return NewEchoRangefinderWithConfig(DefaultConfig(trigger, echo), MustGPIO())
}

// NewEchoRangefinderWithConfig creates a rangefinder on the given driver.
// The trigger line is configured as an output driven low and the echo line
// as an input with pull-up.
func NewEchoRangefinderWithConfig(cfg Config, gpio GPIODriver) (*EchoRangefinder, error) {
	if cfg.TriggerPin == cfg.EchoPin {
		return nil, ErrPinConflict
	}
	cfg.applyDefaults()

	if err := gpio.ConfigureOutput(cfg.TriggerPin); err != nil {
		return nil, err
	}
	if err := gpio.SetPin(cfg.TriggerPin, false); err != nil {
		return nil, err
	}
	if err := gpio.ConfigureInputPullUp(cfg.EchoPin); err != nil {
		return nil, err
	}

	rf := &EchoRangefinder{cfg: cfg, gpio: gpio}
	rf.pulseDuration.Store(PulseTimeout)
	rf.waiter.init()
	DebugPrintln("measuring = " + btoa(rf.Measuring()))
	return rf, nil
}

// Config returns the effective configuration
func (rf *EchoRangefinder) Config() Config {
	return rf.cfg
}

// Measuring reports whether a measurement cycle is in flight
func (rf *EchoRangefinder) Measuring() bool {
	return statePhase(rf.state.Load()) != phaseIdle
}

// TimedOut reports whether the last cycle ended on the echo deadline and
// has not been read yet
func (rf *EchoRangefinder) TimedOut() bool {
	return rf.state.Load()&stateTimedOut != 0
}

// Cycle returns the number of the current (or last) measurement cycle
func (rf *EchoRangefinder) Cycle() uint32 {
	return stateCycle(rf.state.Load())
}

// TriggerMeasurement starts a measurement cycle: the trigger line is held
// low for PreTriggerLowUS, then high for TriggerDelayUS. A driver that
// implements PulseDriver shapes the pulse itself; otherwise the falling
// edge of the pulse is a deadline on the timer list. The echo deadline is
// armed right away, so a sensor that never answers is bounded too.
// Returns ErrMeasurementInFlight if the previous cycle has not finished.
func (rf *EchoRangefinder) TriggerMeasurement() error {
	var cycle uint32
	for {
		s := rf.state.Load()
		if statePhase(s) != phaseIdle {
			return ErrMeasurementInFlight
		}
		cycle = stateCycle(s) + 1
		if rf.state.CompareAndSwap(s, packState(phaseTriggering, cycle, false)) {
			break
		}
	}
	DebugPrintln("trigger start")

	// Drop leftovers from a cycle that ended on the deadline
	_ = rf.gpio.SetEdgeHandler(rf.cfg.EchoPin, EdgeRising, nil)
	_ = rf.gpio.SetEdgeHandler(rf.cfg.EchoPin, EdgeFalling, nil)

	if err := rf.sendTrigger(cycle); err != nil {
		rf.abort(cycle)
		return err
	}
	rf.echoDeadline.ScheduleAfterUS(func() { rf.onEchoTimeout(cycle) }, rf.cfg.EchoTimeoutUS)

	RecordTiming(EvtTrigger, rf.cfg.OID, GetTime(), cycle, 0)
	DebugPrintln("measuring = " + btoa(rf.Measuring()))
	return nil
}

// sendTrigger subscribes the rising edge and emits the trigger pulse
func (rf *EchoRangefinder) sendTrigger(cycle uint32) error {
	rise := func(at uint32) { rf.onEchoRise(cycle, at) }

	if p, ok := rf.gpio.(PulseDriver); ok {
		if err := rf.gpio.SetEdgeHandler(rf.cfg.EchoPin, EdgeRising, rise); err != nil {
			return err
		}
		return p.Pulse(rf.cfg.TriggerPin, rf.cfg.PreTriggerLowUS, rf.cfg.TriggerDelayUS)
	}

	if err := rf.gpio.SetPin(rf.cfg.TriggerPin, false); err != nil {
		return err
	}
	DelayUS(rf.cfg.PreTriggerLowUS)

	if err := rf.gpio.SetEdgeHandler(rf.cfg.EchoPin, EdgeRising, rise); err != nil {
		return err
	}
	if err := rf.gpio.SetPin(rf.cfg.TriggerPin, true); err != nil {
		return err
	}
	rf.triggerDeadline.ScheduleAfterUS(func() { rf.triggerOff(cycle) }, rf.cfg.TriggerDelayUS)
	return nil
}

// abort returns a cycle that failed to start to idle
func (rf *EchoRangefinder) abort(cycle uint32) {
	_ = rf.gpio.SetEdgeHandler(rf.cfg.EchoPin, EdgeRising, nil)
	_ = rf.gpio.SetPin(rf.cfg.TriggerPin, false)
	rf.triggerDeadline.Cancel()
	rf.echoDeadline.Cancel()
	rf.state.CompareAndSwap(packState(phaseTriggering, cycle, false), packState(phaseIdle, cycle, false))
}

// triggerOff ends the trigger pulse. Pulse shaping only.
func (rf *EchoRangefinder) triggerOff(cycle uint32) {
	_ = rf.gpio.SetPin(rf.cfg.TriggerPin, false)
	RecordTiming(EvtTriggerOff, rf.cfg.OID, GetTime(), cycle, 0)
}

// onEchoRise starts timing the echo pulse at the edge tick
func (rf *EchoRangefinder) onEchoRise(cycle, at uint32) {
	if !rf.state.CompareAndSwap(packState(phaseTriggering, cycle, false), packState(phaseTiming, cycle, false)) {
		RecordTiming(EvtStale, rf.cfg.OID, GetTime(), cycle, EvtEchoRise)
		return
	}
	rf.counter.Stop()
	rf.counter.Reset()
	rf.counter.StartAt(at)

	// One subscription at a time, so edge-sensing hardware never has to
	// tell the two apart
	_ = rf.gpio.SetEdgeHandler(rf.cfg.EchoPin, EdgeRising, nil)

	// The deadline armed at trigger time may have ended the cycle since the CAS
	if !rf.armEchoDeadline(cycle) {
		RecordTiming(EvtStale, rf.cfg.OID, GetTime(), cycle, EvtEchoRise)
		return
	}
	RecordTiming(EvtEchoRise, rf.cfg.OID, GetTime(), cycle, 0)

	_ = rf.gpio.SetEdgeHandler(rf.cfg.EchoPin, EdgeFalling, func(at uint32) { rf.onEchoFall(cycle, at) })
	if s := rf.state.Load(); stateCycle(s) == cycle && s&stateTimedOut != 0 {
		// Timed out while subscribing
		_ = rf.gpio.SetEdgeHandler(rf.cfg.EchoPin, EdgeFalling, nil)
	}
}

// armEchoDeadline (re)arms the echo deadline if cycle is still waiting
// for an edge
func (rf *EchoRangefinder) armEchoDeadline(cycle uint32) bool {
	waiting := func() bool {
		s := rf.state.Load()
		p := statePhase(s)
		return stateCycle(s) == cycle && s&stateTimedOut == 0 &&
			(p == phaseTriggering || p == phaseTiming)
	}
	return rf.echoDeadline.ScheduleAfterUSIf(waiting, func() { rf.onEchoTimeout(cycle) }, rf.cfg.EchoTimeoutUS)
}

// onEchoFall records the echo pulse width and ends the cycle
func (rf *EchoRangefinder) onEchoFall(cycle, at uint32) {
	elapsed := rf.counter.ReadAtUS(at)
	if elapsed >= rf.cfg.EchoTimeoutUS {
		// Fell after the budget but before the deadline was serviced
		rf.onEchoTimeout(cycle)
		return
	}
	if !rf.state.CompareAndSwap(packState(phaseTiming, cycle, false), packState(phaseSettling, cycle, false)) {
		RecordTiming(EvtStale, rf.cfg.OID, GetTime(), cycle, EvtEchoFall)
		return
	}

	rf.pulseDuration.Store(int32(elapsed))
	rf.counter.Stop()
	rf.counter.Reset()
	rf.echoDeadline.Cancel()
	_ = rf.gpio.SetEdgeHandler(rf.cfg.EchoPin, EdgeFalling, nil)
	rf.state.Store(packState(phaseIdle, cycle, false))

	RecordTiming(EvtEchoFall, rf.cfg.OID, GetTime(), cycle, elapsed)
	rf.waiter.signal()
}

// onEchoTimeout ends the cycle without a result. It wins only if the
// cycle is still waiting for an edge.
func (rf *EchoRangefinder) onEchoTimeout(cycle uint32) {
	phase := uint32(phaseTiming)
	if !rf.state.CompareAndSwap(packState(phaseTiming, cycle, false), packState(phaseSettling, cycle, false)) {
		phase = phaseTriggering
		if !rf.state.CompareAndSwap(packState(phaseTriggering, cycle, false), packState(phaseSettling, cycle, false)) {
			RecordTiming(EvtStale, rf.cfg.OID, GetTime(), cycle, EvtEchoTimeout)
			return
		}
	}

	rf.counter.Stop()
	rf.counter.Reset()
	rf.pulseDuration.Store(PulseTimeout)
	rf.echoDeadline.Cancel()
	_ = rf.gpio.SetEdgeHandler(rf.cfg.EchoPin, EdgeRising, nil)
	_ = rf.gpio.SetEdgeHandler(rf.cfg.EchoPin, EdgeFalling, nil)
	rf.state.Store(packState(phaseIdle, cycle, true))

	RecordTiming(EvtEchoTimeout, rf.cfg.OID, GetTime(), cycle, phase)
	rf.waiter.signal()
}

// GetPulseDuration blocks until the current cycle ends and returns the
// echo pulse width in microseconds, or PulseTimeout if no falling edge
// arrived within EchoTimeoutUS. Without a cycle in flight it returns the
// last result immediately. Clears the timed-out flag.
func (rf *EchoRangefinder) GetPulseDuration() int32 {
	s := rf.state.Load()
	if statePhase(s) != phaseIdle && !rf.echoDeadline.Pending() {
		rf.armEchoDeadline(stateCycle(s))
	}

	for {
		s = rf.state.Load()
		if statePhase(s) == phaseIdle || s&stateTimedOut != 0 {
			break
		}
		ProcessTimers()
		rf.waiter.wait()
	}

	rf.echoDeadline.Cancel()
	for {
		s = rf.state.Load()
		if s&stateTimedOut == 0 || rf.state.CompareAndSwap(s, s&^stateTimedOut) {
			break
		}
	}

	duration := rf.pulseDuration.Load()
	if duration == PulseTimeout {
		DebugPrintln("notify timeout!")
	}
	DebugPrintln("measuring = false")
	return duration
}

//go:build rp2040

package main

import (
	"errors"
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"rangefinder/core"
)

// Trigger pulse program. Each word pushed to the TX FIFO produces one
// pulse: low for X+3 cycles, high for Y+3 cycles, then low until the next
// word. X is the low half of the word, Y the high half. At 2 cycles per
// microsecond a 2us/15us pulse is X=1, Y=27.
func buildTriggerProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),           // 0: pull block
		asm.Set(rp2pio.SetDestPins, 0).Encode(),  // 1: set pins, 0
		asm.Out(rp2pio.OutDestX, 16).Encode(),    // 2: out x, 16 (low cycles)
		asm.Jmp(3, rp2pio.JmpXNZeroDec).Encode(), // 3: jmp x--, 3
		asm.Set(rp2pio.SetDestPins, 1).Encode(),  // 4: set pins, 1
		asm.Out(rp2pio.OutDestY, 16).Encode(),    // 5: out y, 16 (high cycles)
		asm.Jmp(6, rp2pio.JmpYNZeroDec).Encode(), // 6: jmp y--, 6
		asm.Set(rp2pio.SetDestPins, 0).Encode(),  // 7: set pins, 0
		// .wrap
	}
}

// Loaded at 0 so the absolute jump targets hold
const triggerPIOOrigin = 0

// The state machine runs at 2MHz off the 125MHz system clock (125/62.5)
const (
	triggerClkDivInt  = 62
	triggerClkDivFrac = 128
	triggerCyclesUS   = 2

	// Fixed instructions in each level of the program
	triggerLevelCycles = 3
)

var (
	ErrPulsePin  = errors.New("pin is not the PIO trigger")
	ErrPulseBusy = errors.New("trigger FIFO full")
)

// pulseWord encodes a pulse request for the trigger program
func pulseWord(lowUS, highUS uint32) uint32 {
	return levelCycles(lowUS) | levelCycles(highUS)<<16
}

// levelCycles is the loop count that holds a level for us microseconds,
// rounded up to what the program can do
func levelCycles(us uint32) uint32 {
	c := us * triggerCyclesUS
	if c <= triggerLevelCycles {
		return 0
	}
	c -= triggerLevelCycles
	if c > 0xFFFF {
		c = 0xFFFF
	}
	return c
}

// PIOTriggerDriver drives the trigger line from a PIO state machine and
// delegates every other pin to the wrapped GPIO driver
type PIOTriggerDriver struct {
	core.GPIODriver

	pio     *rp2pio.PIO
	sm      rp2pio.StateMachine
	trigger core.GPIOPin
	pin     machine.Pin
	ready   bool
}

// NewPIOTriggerDriver creates a driver owning trigger on PIO0 state machine smNum
func NewPIOTriggerDriver(gpio core.GPIODriver, trigger core.GPIOPin, smNum uint8) *PIOTriggerDriver {
	return &PIOTriggerDriver{
		GPIODriver: gpio,
		pio:        rp2pio.PIO0,
		sm:         rp2pio.PIO0.StateMachine(smNum),
		trigger:    trigger,
		pin:        machine.Pin(trigger),
	}
}

// ConfigureOutput loads the pulse program for the trigger pin; other pins
// go to the wrapped driver
func (d *PIOTriggerDriver) ConfigureOutput(pin core.GPIOPin) error {
	if pin != d.trigger {
		return d.GPIODriver.ConfigureOutput(pin)
	}
	if d.ready {
		return nil
	}

	d.sm.TryClaim()

	program := buildTriggerProgram()
	offset, err := d.pio.AddProgram(program, triggerPIOOrigin)
	if err != nil {
		return err
	}

	d.pin.Configure(machine.PinConfig{Mode: d.pio.PinMode()})

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetSetPins(d.pin, 1)
	// Shift right, no autopull: X takes the low half-word first
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset)
	cfg.SetClkDivIntFrac(triggerClkDivInt, triggerClkDivFrac)

	// Must set pin directions after Init
	d.sm.Init(offset, cfg)
	d.sm.SetPindirsConsecutive(d.pin, 1, true)
	d.sm.SetPinsConsecutive(d.pin, 1, false)
	d.sm.SetEnabled(true)

	d.ready = true
	return nil
}

// Pulse queues one trigger pulse. The state machine times both levels,
// so the width does not depend on CPU or interrupt latency.
func (d *PIOTriggerDriver) Pulse(pin core.GPIOPin, lowUS, highUS uint32) error {
	if pin != d.trigger {
		return ErrPulsePin
	}
	if !d.ready {
		return core.ErrPinNotConfigured
	}
	if d.sm.IsTxFIFOFull() {
		return ErrPulseBusy
	}
	d.sm.TxPut(pulseWord(lowUS, highUS))
	return nil
}

// SetPin forces the trigger level through the state machine. Used to park
// the line low; a forced level between pulses does not disturb the
// program, which is stalled on its pull.
func (d *PIOTriggerDriver) SetPin(pin core.GPIOPin, value bool) error {
	if pin != d.trigger {
		return d.GPIODriver.SetPin(pin, value)
	}
	if !d.ready {
		return core.ErrPinNotConfigured
	}
	d.sm.SetPinsConsecutive(d.pin, 1, value)
	return nil
}

// ReadPin reads the pad level, which reflects the PIO output too
func (d *PIOTriggerDriver) ReadPin(pin core.GPIOPin) bool {
	if pin != d.trigger {
		return d.GPIODriver.ReadPin(pin)
	}
	return d.pin.Get()
}

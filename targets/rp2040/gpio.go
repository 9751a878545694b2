//go:build rp2040

package main

import (
	"device/rp"
	"errors"
	"machine"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"rangefinder/core"
)

const numGPIO = 30

var ErrInvalidPin = errors.New("invalid GPIO pin")

// edgeHandlers and edgeSense are read from the pin-change interrupt;
// writes happen with interrupts disabled.
var (
	edgeHandlers [numGPIO][2]core.EdgeHandler
	edgeSense    [numGPIO]core.EdgeSense
)

// IO_BANK0 raw interrupt latches: 8 GPIOs per register, 4 bits each
// (level low, level high, edge low, edge high). Edge bits are write-1-to-clear.
const intrEdgeBits = 0xC

// RPGPIODriver implements core.GPIODriver on machine.Pin
type RPGPIODriver struct {
	// Track configured pins to prevent conflicts
	configuredPins map[core.GPIOPin]machine.Pin
}

// NewRPGPIODriver creates a new RP2040 GPIO driver
func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{
		configuredPins: make(map[core.GPIOPin]machine.Pin),
	}
}

// ConfigureOutput configures a pin as a digital output
func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	if pin >= numGPIO {
		return ErrInvalidPin
	}
	if _, exists := d.configuredPins[pin]; exists {
		// Already configured, this is OK
		return nil
	}

	machinePin := machine.Pin(pin)
	machinePin.Configure(machine.PinConfig{Mode: machine.PinOutput})
	d.configuredPins[pin] = machinePin
	return nil
}

// ConfigureInputPullUp configures a pin as an input with pull-up resistor
func (d *RPGPIODriver) ConfigureInputPullUp(pin core.GPIOPin) error {
	if pin >= numGPIO {
		return ErrInvalidPin
	}
	if _, exists := d.configuredPins[pin]; exists {
		return nil
	}

	machinePin := machine.Pin(pin)
	machinePin.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	d.configuredPins[pin] = machinePin
	return nil
}

// SetPin sets the pin to high (true) or low (false)
func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	machinePin, exists := d.configuredPins[pin]
	if !exists {
		return core.ErrPinNotConfigured
	}
	machinePin.Set(value)
	return nil
}

// ReadPin reads the current pin state
func (d *RPGPIODriver) ReadPin(pin core.GPIOPin) bool {
	machinePin, exists := d.configuredPins[pin]
	if !exists {
		return false
	}
	return machinePin.Get()
}

// SetEdgeHandler subscribes handler to one edge of an input pin.
// The interrupt is armed for exactly the subscribed edges, so with a
// single subscription the edge is known without sampling the pin.
func (d *RPGPIODriver) SetEdgeHandler(pin core.GPIOPin, edge core.Edge, handler core.EdgeHandler) error {
	machinePin, exists := d.configuredPins[pin]
	if !exists {
		return core.ErrPinNotConfigured
	}

	state := interrupt.Disable()
	defer interrupt.Restore(state)

	prev := edgeSense[pin]
	edgeHandlers[pin][edge] = handler
	sense := core.SenseFor(&edgeHandlers[pin])
	if sense == prev {
		return nil
	}
	edgeSense[pin] = sense

	if prev != core.SenseNone {
		if err := machinePin.SetInterrupt(pinChange(prev), nil); err != nil {
			return err
		}
	}
	if sense == core.SenseNone {
		return nil
	}
	if prev == core.SenseNone {
		// A new subscription must not see edges from before it existed.
		// Switching senses keeps the latch, so an edge that landed while
		// the handlers were swapped still fires.
		clearEdgeLatch(pin)
	}
	return machinePin.SetInterrupt(pinChange(sense), dispatchEdge)
}

func pinChange(s core.EdgeSense) machine.PinChange {
	switch s {
	case core.SenseRising:
		return machine.PinRising
	case core.SenseFalling:
		return machine.PinFalling
	}
	return machine.PinToggle
}

// clearEdgeLatch drops edges latched on pin while nothing was subscribed
func clearEdgeLatch(pin core.GPIOPin) {
	intr := (*volatile.Register32)(unsafe.Pointer(uintptr(unsafe.Pointer(&rp.IO_BANK0.INTR0)) + uintptr(pin/8)*4))
	intr.Set(intrEdgeBits << (4 * (uint32(pin) % 8)))
}

// dispatchEdge runs in interrupt context
func dispatchEdge(p machine.Pin) {
	at := core.GetTime()
	sense := edgeSense[p]
	level := false
	if sense == core.SenseBoth {
		level = p.Get()
	}
	if h := edgeHandlers[p][sense.Classify(level)]; h != nil {
		h(at)
	}
}

package core

import "errors"

// GPIOPin identifies a hardware GPIO pin number
type GPIOPin uint32

// Edge selects which transition of an input line fires a handler
type Edge uint8

const (
	EdgeRising Edge = iota
	EdgeFalling
)

func (e Edge) String() string {
	switch e {
	case EdgeRising:
		return "rising"
	case EdgeFalling:
		return "falling"
	default:
		return "unknown"
	}
}

// EdgeHandler is called from interrupt context when a subscribed edge occurs.
// at is the tick the edge happened: drivers with hardware event timestamps
// pass those, the rest pass GetTime() on entry. It must not block.
type EdgeHandler func(at uint32)

var ErrPinNotConfigured = errors.New("pin not configured")

// EdgeSense is the set of edges a pin-change interrupt is armed for
type EdgeSense uint8

const (
	SenseNone    EdgeSense = 0
	SenseRising  EdgeSense = 1 << EdgeRising
	SenseFalling EdgeSense = 1 << EdgeFalling
	SenseBoth              = SenseRising | SenseFalling
)

// SenseFor returns the sense that covers the subscribed handlers
func SenseFor(handlers *[2]EdgeHandler) EdgeSense {
	s := SenseNone
	if handlers[EdgeRising] != nil {
		s |= SenseRising
	}
	if handlers[EdgeFalling] != nil {
		s |= SenseFalling
	}
	return s
}

// Classify names the edge behind an interrupt armed with sense s. Only
// SenseBoth needs the pin level, sampled after the fact, so a pulse
// shorter than the interrupt latency is ambiguous there.
func (s EdgeSense) Classify(level bool) Edge {
	switch s {
	case SenseRising:
		return EdgeRising
	case SenseFalling:
		return EdgeFalling
	}
	if level {
		return EdgeRising
	}
	return EdgeFalling
}

// GPIODriver is the abstract GPIO interface that core code uses.
// Platform-specific implementations handle actual hardware control.
type GPIODriver interface {
	// ConfigureOutput configures a pin as a digital output
	// Returns error if pin is invalid or already in use
	ConfigureOutput(pin GPIOPin) error

	// ConfigureInputPullUp configures a pin as a digital input with pull-up resistor
	ConfigureInputPullUp(pin GPIOPin) error

	// SetPin sets the pin to high (true) or low (false)
	SetPin(pin GPIOPin, value bool) error

	// ReadPin reads the current pin state
	ReadPin(pin GPIOPin) bool

	// SetEdgeHandler subscribes handler to one edge type on an input pin.
	// A nil handler removes the subscription. Rising and falling
	// subscriptions are independent of each other.
	SetEdgeHandler(pin GPIOPin, edge Edge, handler EdgeHandler) error
}

// PulseDriver is implemented by drivers that shape a trigger pulse in
// hardware: the pin is held low for lowUS, then high for highUS, then low
// again, without the CPU timing either level. Pulse returns once the pulse
// is queued.
type PulseDriver interface {
	Pulse(pin GPIOPin, lowUS, highUS uint32) error
}

// Global singleton used by core code.
var gpioDriver GPIODriver

// SetGPIODriver is called by target-specific code to register its driver.
func SetGPIODriver(d GPIODriver) {
	gpioDriver = d
}

// MustGPIO returns the configured driver or panics if missing.
func MustGPIO() GPIODriver {
	if gpioDriver == nil {
		panic("GPIO driver not configured")
	}
	return gpioDriver
}

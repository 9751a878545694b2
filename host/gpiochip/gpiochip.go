//go:build linux

// Package gpiochip implements core.GPIODriver on the Linux GPIO character
// device, so the rangefinder can run on a Raspberry Pi or similar board.
package gpiochip

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/warthog618/gpiod"
	"golang.org/x/sys/unix"

	"rangefinder/core"
)

const DefaultChip = "gpiochip0"

// maxEventAge bounds the event timestamp correction. Anything older points
// at a kernel clock other than CLOCK_MONOTONIC and is ignored.
const maxEventAge = time.Second

var ErrClosed = errors.New("gpio chip closed")

// line is the subset of *gpiod.Line the driver uses
type line interface {
	SetValue(value int) error
	Value() (int, error)
	Close() error
}

// Driver implements core.GPIODriver with one requested line per pin.
// Edge events arrive on the gpiod watcher goroutine and are dispatched
// to the subscribed handler there. Dispatch latency is scheduler-bound,
// so handlers get the kernel event timestamp mapped onto the core clock.
type Driver struct {
	chip      string
	consumer  string
	monotonic func() time.Duration

	mu       sync.Mutex
	lines    map[core.GPIOPin]line
	handlers map[core.GPIOPin]*[2]core.EdgeHandler
	closed   bool
}

// New creates a driver for the named chip ("gpiochip0" if empty)
func New(chip string) *Driver {
	if chip == "" {
		chip = DefaultChip
	}
	return &Driver{
		chip:      chip,
		consumer:  "rangefinder",
		monotonic: monotonicNow,
		lines:     make(map[core.GPIOPin]line),
		handlers:  make(map[core.GPIOPin]*[2]core.EdgeHandler),
	}
}

// ConfigureOutput requests pin as an output driven low
func (d *Driver) ConfigureOutput(pin core.GPIOPin) error {
	return d.request(pin, gpiod.AsOutput(0))
}

// ConfigureInputPullUp requests pin as a pulled-up input reporting both edges
func (d *Driver) ConfigureInputPullUp(pin core.GPIOPin) error {
	return d.request(pin,
		gpiod.AsInput,
		gpiod.WithPullUp,
		gpiod.WithBothEdges,
		gpiod.WithEventHandler(func(evt gpiod.LineEvent) {
			d.dispatch(pin, evt)
		}),
	)
}

func (d *Driver) request(pin core.GPIOPin, opts ...gpiod.LineReqOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if _, exists := d.lines[pin]; exists {
		// Already configured, this is OK
		return nil
	}

	opts = append(opts, gpiod.WithConsumer(d.consumer))
	l, err := gpiod.RequestLine(d.chip, int(pin), opts...)
	if err != nil {
		return fmt.Errorf("failed to request %s line %d: %w", d.chip, pin, err)
	}
	d.lines[pin] = l
	return nil
}

// SetPin sets the pin to high (true) or low (false)
func (d *Driver) SetPin(pin core.GPIOPin, value bool) error {
	d.mu.Lock()
	l, exists := d.lines[pin]
	d.mu.Unlock()
	if !exists {
		return core.ErrPinNotConfigured
	}

	v := 0
	if value {
		v = 1
	}
	return l.SetValue(v)
}

// ReadPin reads the current pin state; false on error
func (d *Driver) ReadPin(pin core.GPIOPin) bool {
	d.mu.Lock()
	l, exists := d.lines[pin]
	d.mu.Unlock()
	if !exists {
		return false
	}

	v, err := l.Value()
	return err == nil && v != 0
}

// SetEdgeHandler subscribes handler to one edge of a configured input
func (d *Driver) SetEdgeHandler(pin core.GPIOPin, edge core.Edge, handler core.EdgeHandler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.lines[pin]; !exists {
		return core.ErrPinNotConfigured
	}
	h, ok := d.handlers[pin]
	if !ok {
		h = new([2]core.EdgeHandler)
		d.handlers[pin] = h
	}
	h[edge] = handler
	return nil
}

// dispatch runs the handler for an edge event outside the lock
func (d *Driver) dispatch(pin core.GPIOPin, evt gpiod.LineEvent) {
	at := d.eventTick(evt.Timestamp)

	var edge core.Edge
	switch evt.Type {
	case gpiod.LineEventRisingEdge:
		edge = core.EdgeRising
	case gpiod.LineEventFallingEdge:
		edge = core.EdgeFalling
	default:
		return
	}

	if core.IsDebugEnabled() {
		core.DebugAsync(d.chip + " line " + strconv.Itoa(int(pin)) + " " + edge.String())
	}

	d.mu.Lock()
	var handler core.EdgeHandler
	if h, ok := d.handlers[pin]; ok {
		handler = h[edge]
	}
	d.mu.Unlock()

	if handler != nil {
		handler(at)
	}
}

// eventTick maps a CLOCK_MONOTONIC event timestamp onto the core clock by
// its age: the edge happened that long before now
func (d *Driver) eventTick(ts time.Duration) uint32 {
	now := core.GetTime()
	if ts == 0 {
		return now
	}
	age := d.monotonic() - ts
	if age <= 0 || age > maxEventAge {
		return now
	}
	return now - core.TimerFromUS(uint32(age.Microseconds()))
}

func monotonicNow() time.Duration {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return 0
	}
	return time.Duration(ts.Nano())
}

// Close releases every requested line. Outputs are left as they are.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	var errs []error
	for pin, l := range d.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, fmt.Errorf("line %d: %w", pin, err))
		}
		delete(d.lines, pin)
	}
	clear(d.handlers)
	return errors.Join(errs...)
}

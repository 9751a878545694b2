package core

import (
	"sync"
	"testing"
	"time"
)

// pinWrite is one recorded SetPin call
type pinWrite struct {
	pin   GPIOPin
	level bool
	at    uint32
}

// simGPIO is an in-memory GPIODriver. Output writes are recorded with the
// system time; drive() changes an input level and fires the subscribed
// edge handler like a pin-change interrupt would.
type simGPIO struct {
	mu       sync.Mutex
	outputs  map[GPIOPin]bool
	pullUps  map[GPIOPin]bool
	levels   map[GPIOPin]bool
	handlers map[GPIOPin]*[2]EdgeHandler
	writes   []pinWrite
	failSet  error

	// onSubscribe runs after every SetEdgeHandler, outside the lock
	onSubscribe func(pin GPIOPin, edge Edge, installed bool)
}

func newSimGPIO() *simGPIO {
	return &simGPIO{
		outputs:  make(map[GPIOPin]bool),
		pullUps:  make(map[GPIOPin]bool),
		levels:   make(map[GPIOPin]bool),
		handlers: make(map[GPIOPin]*[2]EdgeHandler),
	}
}

func (s *simGPIO) ConfigureOutput(pin GPIOPin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outputs[pin] = true
	return nil
}

func (s *simGPIO) ConfigureInputPullUp(pin GPIOPin) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pullUps[pin] = true
	return nil
}

func (s *simGPIO) SetPin(pin GPIOPin, value bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSet != nil {
		return s.failSet
	}
	if !s.outputs[pin] {
		return ErrPinNotConfigured
	}
	s.levels[pin] = value
	s.writes = append(s.writes, pinWrite{pin: pin, level: value, at: GetTime()})
	return nil
}

func (s *simGPIO) ReadPin(pin GPIOPin) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levels[pin]
}

func (s *simGPIO) SetEdgeHandler(pin GPIOPin, edge Edge, handler EdgeHandler) error {
	s.mu.Lock()
	if !s.pullUps[pin] {
		s.mu.Unlock()
		return ErrPinNotConfigured
	}
	h, ok := s.handlers[pin]
	if !ok {
		h = new([2]EdgeHandler)
		s.handlers[pin] = h
	}
	h[edge] = handler
	hook := s.onSubscribe
	s.mu.Unlock()

	if hook != nil {
		hook(pin, edge, handler != nil)
	}
	return nil
}

func (s *simGPIO) handler(pin GPIOPin, edge Edge) EdgeHandler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handlers[pin]; ok {
		return h[edge]
	}
	return nil
}

// drive sets an input level, firing the edge handler outside the lock
func (s *simGPIO) drive(pin GPIOPin, level bool) {
	s.driveAt(pin, level, GetTime())
}

// driveAt is drive with an edge timestamp that may lag the clock
func (s *simGPIO) driveAt(pin GPIOPin, level bool, at uint32) {
	s.mu.Lock()
	prev := s.levels[pin]
	s.levels[pin] = level
	var h EdgeHandler
	if hs, ok := s.handlers[pin]; ok {
		switch {
		case !prev && level:
			h = hs[EdgeRising]
		case prev && !level:
			h = hs[EdgeFalling]
		}
	}
	s.mu.Unlock()

	if h != nil {
		h(at)
	}
}

// pulseGPIO is a simGPIO that shapes trigger pulses itself, like a PIO
// state machine: Pulse records the request and the level sequence it
// produces without touching the timer list.
type pulseGPIO struct {
	*simGPIO
	pulses []pulseRequest
}

type pulseRequest struct {
	pin           GPIOPin
	lowUS, highUS uint32
}

func (p *pulseGPIO) Pulse(pin GPIOPin, lowUS, highUS uint32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failSet != nil {
		return p.failSet
	}
	if !p.outputs[pin] {
		return ErrPinNotConfigured
	}
	p.pulses = append(p.pulses, pulseRequest{pin: pin, lowUS: lowUS, highUS: highUS})
	return nil
}

func (s *simGPIO) takeWrites() []pinWrite {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.writes
	s.writes = nil
	return w
}

// resetTimers empties the global timer list
func resetTimers() {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	for timerList != nil {
		t := timerList
		timerList = t.Next
		t.Next = nil
		t.queued = false
	}
}

// setupSim installs a simulated clock and delay primitive for one test
func setupSim(t *testing.T) *simGPIO {
	t.Helper()
	resetTimers()
	ClearTimingRing()
	SetTime(1000)

	origDelay := DelayUS
	DelayUS = func(us uint32) {
		SetTime(GetTime() + TimerFromUS(us))
	}
	t.Cleanup(func() {
		DelayUS = origDelay
		resetTimers()
	})
	return newSimGPIO()
}

// advance moves the simulated clock forward and runs due timers
func advance(us uint32) {
	SetTime(GetTime() + TimerFromUS(us))
	ProcessTimers()
}

// waitFor polls cond until it holds or the test times out
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(50 * time.Microsecond)
	}
}

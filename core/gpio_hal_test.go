package core

import "testing"

func TestEdgeSense(t *testing.T) {
	noop := func(uint32) {}

	var h [2]EdgeHandler
	if s := SenseFor(&h); s != SenseNone {
		t.Errorf("Expected SenseNone, got %d", s)
	}
	h[EdgeRising] = noop
	if s := SenseFor(&h); s != SenseRising {
		t.Errorf("Expected SenseRising, got %d", s)
	}
	h[EdgeFalling] = noop
	if s := SenseFor(&h); s != SenseBoth {
		t.Errorf("Expected SenseBoth, got %d", s)
	}
	h[EdgeRising] = nil
	if s := SenseFor(&h); s != SenseFalling {
		t.Errorf("Expected SenseFalling, got %d", s)
	}
}

func TestEdgeSenseClassify(t *testing.T) {
	// A pulse that already ended reads low when the rising interrupt is
	// serviced; a single-edge sense still names it right
	if e := SenseRising.Classify(false); e != EdgeRising {
		t.Errorf("Rising sense classified a low level as %s", e)
	}
	if e := SenseFalling.Classify(true); e != EdgeFalling {
		t.Errorf("Falling sense classified a high level as %s", e)
	}

	if e := SenseBoth.Classify(true); e != EdgeRising {
		t.Errorf("Expected rising for a high level, got %s", e)
	}
	if e := SenseBoth.Classify(false); e != EdgeFalling {
		t.Errorf("Expected falling for a low level, got %s", e)
	}
}

func TestRiseHandlingKeepsOneSubscription(t *testing.T) {
	sim, rf := newTestRangefinder(t)

	both := false
	sim.mu.Lock()
	sim.onSubscribe = func(pin GPIOPin, edge Edge, installed bool) {
		if sim.handler(pin, EdgeRising) != nil && sim.handler(pin, EdgeFalling) != nil {
			both = true
		}
	}
	sim.mu.Unlock()

	echo(t, sim, rf, 100, 116)
	if both {
		t.Error("Rising and falling handlers were subscribed at the same time")
	}
	if d := rf.GetPulseDuration(); d != 116 {
		t.Errorf("Expected 116us, got %d", d)
	}
}

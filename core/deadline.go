package core

// Deadline is a one-shot callback scheduled a fixed delay in the future.
// Re-arming replaces the pending callback; a canceled or superseded
// firing never reaches the handler.
type Deadline struct {
	timer   Timer
	handler func()
	pending bool
}

// ScheduleAfterUS arms the deadline to call handler delayUS from now
func (d *Deadline) ScheduleAfterUS(handler func(), delayUS uint32) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	d.scheduleLocked(handler, delayUS)
}

// ScheduleAfterUSIf arms the deadline only if ok holds. ok is evaluated in
// the same critical section as the arming, so a handler that cancels the
// deadline cannot slip in between.
func (d *Deadline) ScheduleAfterUSIf(ok func() bool, handler func(), delayUS uint32) bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if !ok() {
		return false
	}
	d.scheduleLocked(handler, delayUS)
	return true
}

func (d *Deadline) scheduleLocked(handler func(), delayUS uint32) {
	removeTimer(&d.timer)
	d.handler = handler
	d.pending = true
	d.timer.WakeTime = GetTime() + TimerFromUS(delayUS)
	d.timer.Handler = d.fire
	insertTimer(&d.timer)
}

// Cancel disarms the deadline. Harmless if it already fired.
func (d *Deadline) Cancel() {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	removeTimer(&d.timer)
	d.handler = nil
	d.pending = false
}

// Pending reports whether the deadline is armed and has not fired
func (d *Deadline) Pending() bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	return d.pending
}

func (d *Deadline) fire(t *Timer) uint8 {
	state := disableInterrupts()
	if t.queued || !d.pending {
		// Re-armed or canceled after being popped
		restoreInterrupts(state)
		return SF_DONE
	}
	handler := d.handler
	d.handler = nil
	d.pending = false
	restoreInterrupts(state)

	if handler != nil {
		handler()
	}
	return SF_DONE
}

package core

// Timer represents a scheduled event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer

	queued bool
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var (
	timerList  *Timer
	timerAlarm func(wake uint32)
)

// SetTimerAlarm registers the hook that services the timer list on time.
// arm is called inside the critical section whenever the head of the list
// changes, with the new earliest WakeTime. It must not block. A hardware
// target points it at a compare interrupt; hosted builds at the timer
// service goroutine.
func SetTimerAlarm(arm func(wake uint32)) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	timerAlarm = arm
	if arm != nil && timerList != nil {
		arm(timerList.WakeTime)
	}
}

// NextWakeTime returns the WakeTime of the earliest queued timer
func NextWakeTime() (uint32, bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if timerList == nil {
		return 0, false
	}
	return timerList.WakeTime, true
}

// ScheduleTimer adds a timer to the schedule.
// A timer that is already queued is moved to its new WakeTime.
func ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	if t.queued {
		removeTimer(t)
	}
	insertTimer(t)
}

// DelTimer removes a timer from the schedule; it is a no-op if the timer
// is not queued.
func DelTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	removeTimer(t)
}

// insertTimer inserts a timer in sorted order by WakeTime.
// Timers with equal WakeTime run in insertion order.
func insertTimer(t *Timer) {
	t.queued = true
	if timerList == nil || int32(t.WakeTime-timerList.WakeTime) < 0 {
		t.Next = timerList
		timerList = t
		if timerAlarm != nil {
			timerAlarm(t.WakeTime)
		}
		return
	}

	current := timerList
	for current.Next != nil && int32(current.Next.WakeTime-t.WakeTime) <= 0 {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// removeTimer unlinks t from the schedule
func removeTimer(t *Timer) {
	if !t.queued {
		return
	}
	t.queued = false

	if timerList == t {
		timerList = t.Next
		t.Next = nil
		return
	}
	for current := timerList; current != nil; current = current.Next {
		if current.Next == t {
			current.Next = t.Next
			break
		}
	}
	t.Next = nil
}

// popDueTimer removes and returns the first timer due at now, or nil
func popDueTimer(now uint32) (*Timer, func(*Timer) uint8) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	t := timerList
	if t == nil || !timeReached(t.WakeTime, now) {
		return nil, nil
	}
	timerList = t.Next
	t.Next = nil // Clear Next pointer to avoid circular references
	t.queued = false
	return t, t.Handler
}

// TimerDispatch runs every timer with WakeTime <= now.
// Handlers run outside the critical section, so they may schedule or
// cancel timers themselves.
func TimerDispatch(now uint32) {
	for {
		t, handler := popDueTimer(now)
		if t == nil {
			return
		}
		if handler == nil {
			continue
		}

		if handler(t) == SF_RESCHEDULE {
			ScheduleTimer(t)
		}
	}
}

//go:build tinygo

package core

// On the MCU the target wires a compare interrupt through SetTimerAlarm

func startTimerService() {}

func stopTimerService() {}

// TimerServiceRunning reports whether a timer alarm is registered
func TimerServiceRunning() bool {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	return timerAlarm != nil
}

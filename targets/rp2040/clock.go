//go:build rp2040

package main

import (
	"device/rp"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"rangefinder/core"
)

// RP2040 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerALARM1   = timerBase + 0x14
	timerTIMERAWL = timerBase + 0x28 // Raw timer low word, no latching
	timerINTR     = timerBase + 0x34
	timerINTE     = timerBase + 0x38
	timerINTF     = timerBase + 0x3c
)

// Alarm 0 belongs to the TinyGo runtime sleep; the timer list uses alarm 1
const timerAlarmBit = 1 << 1

var (
	timerRAWL   = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
	timerAlarm1 = (*volatile.Register32)(unsafe.Pointer(uintptr(timerALARM1)))
	timerIntr   = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTR)))
	timerInte   = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTE)))
	timerIntf   = (*volatile.Register32)(unsafe.Pointer(uintptr(timerINTF)))
)

// InitClock makes the hardware microsecond timer the system clock and
// services the timer list from the alarm 1 interrupt, so deadlines fire
// whether or not the main loop is waiting on a measurement.
// The RP2040 timer runs at 1MHz, matching core.TimerFreq.
func InitClock() {
	core.SetTimeSource(GetHardwareTime)
	core.TimerInit()

	intr := interrupt.New(rp.IRQ_TIMER_IRQ_1, handleTimerAlarm)
	timerInte.SetBits(timerAlarmBit)
	intr.Enable()
	core.SetTimerAlarm(armTimerAlarm)
}

// GetHardwareTime reads the low 32 bits of the microsecond counter
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// armTimerAlarm sets alarm 1 for wake. The alarm only matches an exact
// count, so a wake already in the past is forced instead.
func armTimerAlarm(wake uint32) {
	timerAlarm1.Set(wake)
	if int32(wake-GetHardwareTime()) <= 0 {
		timerIntf.SetBits(timerAlarmBit)
	}
}

func handleTimerAlarm(interrupt.Interrupt) {
	timerIntf.ClearBits(timerAlarmBit)
	timerIntr.Set(timerAlarmBit)

	core.TimerDispatch(GetHardwareTime())
	if wake, ok := core.NextWakeTime(); ok {
		armTimerAlarm(wake)
	}
}

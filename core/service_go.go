//go:build !tinygo

package core

import (
	"runtime"
	"sync"
	"time"
)

const (
	// serviceIdleWait bounds the sleep of the timer service when the list is empty
	serviceIdleWait = 50 * time.Millisecond
	// serviceSpinWindow is how close to a WakeTime the service stops
	// sleeping and polls the clock; OS timers are too coarse for
	// microsecond deadlines like the trigger pulse
	serviceSpinWindow = 300 * time.Microsecond
)

// timerService runs TimerDispatch from its own goroutine, standing in for
// the compare interrupt of a hardware timer
type timerService struct {
	kick chan struct{}
	stop chan struct{}
	done chan struct{}
}

var (
	serviceMu sync.Mutex
	service   *timerService
)

// startTimerService launches the service goroutine if it is not running
func startTimerService() {
	serviceMu.Lock()
	defer serviceMu.Unlock()

	if service != nil {
		return
	}
	s := &timerService{
		kick: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	service = s
	SetTimerAlarm(func(uint32) { s.wake() })
	go s.run()
}

// stopTimerService stops the service goroutine and waits for it to exit
func stopTimerService() {
	serviceMu.Lock()
	defer serviceMu.Unlock()

	if service == nil {
		return
	}
	SetTimerAlarm(nil)
	close(service.stop)
	<-service.done
	service = nil
}

// TimerServiceRunning reports whether a background goroutine services the
// timer list
func TimerServiceRunning() bool {
	serviceMu.Lock()
	defer serviceMu.Unlock()
	return service != nil
}

func (s *timerService) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *timerService) run() {
	defer close(s.done)

	sleep := time.NewTimer(serviceIdleWait)
	defer sleep.Stop()

	for {
		TimerDispatch(GetTime())

		wait := serviceIdleWait
		if wake, ok := NextWakeTime(); ok {
			delta := int32(wake - GetTime())
			if delta <= 0 {
				continue
			}
			wait = time.Duration(TimerToUS(uint32(delta))) * time.Microsecond
			if wait <= serviceSpinWindow {
				if !s.spinUntil(wake) {
					return
				}
				continue
			}
			wait -= serviceSpinWindow
		}

		sleep.Reset(wait)
		select {
		case <-s.stop:
			return
		case <-s.kick:
		case <-sleep.C:
		}
	}
}

// spinUntil polls the clock until wake is reached or an earlier timer is
// queued. Returns false once the service is stopped.
func (s *timerService) spinUntil(wake uint32) bool {
	for !timeReached(wake, GetTime()) {
		select {
		case <-s.stop:
			return false
		case <-s.kick:
			return true
		default:
		}
		runtime.Gosched()
	}
	return true
}

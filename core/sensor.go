package core

import "tinygo.org/x/drivers"

var _ drivers.Sensor = (*EchoRangefinder)(nil)

// Update runs one blocking measurement cycle when which includes
// drivers.Distance, so the rangefinder can be polled like any other
// TinyGo sensor. The result is read back with GetPulseDuration.
func (rf *EchoRangefinder) Update(which drivers.Measurement) error {
	if which&drivers.Distance == 0 {
		return nil
	}
	if err := rf.TriggerMeasurement(); err != nil {
		return err
	}
	if rf.GetPulseDuration() == PulseTimeout {
		return ErrEchoTimeout
	}
	return nil
}

package core

import (
	"rangefinder/protocol"
)

// Reporter runs measurement cycles and encodes the results as
// pulse_report frames for the host.
type Reporter struct {
	rf  *EchoRangefinder
	out protocol.OutputBuffer
	seq uint8

	// Frames that could not be written
	Dropped uint32
}

// NewReporter creates a reporter writing frames to out
func NewReporter(rf *EchoRangefinder, out protocol.OutputBuffer) *Reporter {
	return &Reporter{rf: rf, out: out}
}

// Measure runs one full cycle and appends its pulse_report frame.
// Returns the measured duration (PulseTimeout on timeout).
func (r *Reporter) Measure() (int32, error) {
	if err := r.rf.TriggerMeasurement(); err != nil {
		return PulseTimeout, err
	}
	duration := r.rf.GetPulseDuration()

	report := protocol.PulseReport{
		OID:        r.rf.cfg.OID,
		Cycle:      r.rf.Cycle(),
		Clock:      GetTime(),
		DurationUS: duration,
	}
	r.emit(func(output protocol.OutputBuffer) {
		protocol.EncodePulseReport(output, report)
	})
	return duration, nil
}

// Trace appends a trace frame. It matches DebugWriter, so it can be
// installed with SetDebugWriter.
func (r *Reporter) Trace(msg string) {
	r.emit(func(output protocol.OutputBuffer) {
		protocol.EncodeTrace(output, msg)
	})
}

func (r *Reporter) emit(payload func(output protocol.OutputBuffer)) {
	if f, ok := r.out.(interface{ Free() int }); ok && f.Free() < protocol.MessageLengthMax {
		r.Dropped++
		return
	}
	if err := protocol.EncodeFrame(r.out, r.seq, payload); err != nil {
		r.Dropped++
		return
	}
	r.seq = (r.seq + 1) & protocol.MessageSeqMask
}

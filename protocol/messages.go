package protocol

import "errors"

var ErrUnknownMessage = errors.New("unknown message id")

// Message identifiers carried as the first VLQ of every message
const (
	MsgPulseReport = 1 // pulse_report oid=%c cycle=%u clock=%u duration=%i
	MsgTrace       = 2 // trace msg=%s
)

// PulseTimeout is the duration reported when no echo was observed in time
const PulseTimeout = -1

// MaxTraceLen is the longest trace text that fits in a single block
// (one byte message id, one byte length prefix).
const MaxTraceLen = MessageLengthMax - MessageLengthMin - 2

// PulseReport is one completed measurement cycle
type PulseReport struct {
	OID        uint8
	Cycle      uint32 // Measurement cycle number on the device
	Clock      uint32 // Device clock (us ticks) when the cycle finished
	DurationUS int32  // Echo pulse width, or PulseTimeout
}

// TimedOut reports whether the cycle ended without a falling edge
func (r PulseReport) TimedOut() bool {
	return r.DurationUS == PulseTimeout
}

// EncodePulseReport appends a pulse_report message
func EncodePulseReport(output OutputBuffer, r PulseReport) {
	EncodeVLQUint(output, MsgPulseReport)
	EncodeVLQUint(output, uint32(r.OID))
	EncodeVLQUint(output, r.Cycle)
	EncodeVLQUint(output, r.Clock)
	EncodeVLQInt(output, r.DurationUS)
}

// DecodePulseReport decodes the body of a pulse_report (after the message id)
func DecodePulseReport(data *[]byte) (PulseReport, error) {
	var r PulseReport

	oid, err := DecodeVLQUint(data)
	if err != nil {
		return r, err
	}
	cycle, err := DecodeVLQUint(data)
	if err != nil {
		return r, err
	}
	clock, err := DecodeVLQUint(data)
	if err != nil {
		return r, err
	}
	duration, err := DecodeVLQInt(data)
	if err != nil {
		return r, err
	}

	r.OID = uint8(oid)
	r.Cycle = cycle
	r.Clock = clock
	r.DurationUS = duration
	return r, nil
}

// EncodeTrace appends a trace message, truncating text to MaxTraceLen
func EncodeTrace(output OutputBuffer, text string) {
	if len(text) > MaxTraceLen {
		text = text[:MaxTraceLen]
	}
	EncodeVLQUint(output, MsgTrace)
	EncodeVLQString(output, text)
}

// MessageHandler receives decoded messages from DecodeMessages
type MessageHandler struct {
	OnPulse func(PulseReport)
	OnTrace func(string)
}

// DecodeMessages decodes every message in a frame payload and dispatches
// it to the matching handler. Decoding stops at the first error.
func DecodeMessages(payload []byte, h MessageHandler) error {
	data := payload
	for len(data) > 0 {
		msgID, err := DecodeVLQUint(&data)
		if err != nil {
			return err
		}

		switch msgID {
		case MsgPulseReport:
			r, err := DecodePulseReport(&data)
			if err != nil {
				return err
			}
			if h.OnPulse != nil {
				h.OnPulse(r)
			}
		case MsgTrace:
			text, err := DecodeVLQString(&data)
			if err != nil {
				return err
			}
			if h.OnTrace != nil {
				h.OnTrace(text)
			}
		default:
			return ErrUnknownMessage
		}
	}
	return nil
}

package protocol

import (
	"bytes"
	"testing"
)

func encodeReportFrame(t *testing.T, seq uint8, r PulseReport) []byte {
	t.Helper()
	output := NewScratchOutput()
	if err := EncodeFrame(output, seq, func(out OutputBuffer) {
		EncodePulseReport(out, r)
	}); err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	frame := make([]byte, len(output.Result()))
	copy(frame, output.Result())
	return frame
}

func TestEncodeFrameLayout(t *testing.T) {
	frame := encodeReportFrame(t, 3, PulseReport{OID: 0, Cycle: 1, Clock: 10, DurationUS: 116})

	if int(frame[MessagePositionLen]) != len(frame) {
		t.Errorf("Length byte %d does not match frame length %d", frame[MessagePositionLen], len(frame))
	}
	if frame[MessagePositionSeq] != MessageDest|3 {
		t.Errorf("Expected sequence byte 0x13, got 0x%02X", frame[MessagePositionSeq])
	}
	if frame[len(frame)-1] != MessageValueSync {
		t.Errorf("Frame does not end with sync byte: %v", frame)
	}

	crc := CRC16(frame[:len(frame)-MessageTrailerSize])
	if frame[len(frame)-3] != uint8(crc>>8) || frame[len(frame)-2] != uint8(crc) {
		t.Errorf("CRC mismatch in trailer: frame=%v crc=0x%04X", frame, crc)
	}
}

func TestEncodeFrameTooLong(t *testing.T) {
	output := NewScratchOutput()
	err := EncodeFrame(output, 0, func(out OutputBuffer) {
		out.Output(make([]byte, MessageLengthMax))
	})
	if err != ErrFrameTooLong {
		t.Errorf("Expected ErrFrameTooLong, got %v", err)
	}
	if output.CurPosition() != 0 {
		t.Errorf("Oversized frame left %d bytes in output", output.CurPosition())
	}
}

func TestFrameDecoderRoundTrip(t *testing.T) {
	want := PulseReport{OID: 2, Cycle: 7, Clock: 123456, DurationUS: 34800}
	frame := encodeReportFrame(t, 5, want)

	dec := NewFrameDecoder(256)
	dec.Write(frame)

	msg, ok := dec.Next()
	if !ok {
		t.Fatal("Expected a decoded message")
	}
	if msg.Sequence != 5 {
		t.Errorf("Expected sequence 5, got %d", msg.Sequence)
	}

	var got PulseReport
	if err := DecodeMessages(msg.Payload, MessageHandler{
		OnPulse: func(r PulseReport) { got = r },
	}); err != nil {
		t.Fatalf("DecodeMessages failed: %v", err)
	}
	if got != want {
		t.Errorf("Report mismatch: expected %+v, got %+v", want, got)
	}

	if _, ok := dec.Next(); ok {
		t.Error("Expected no further messages")
	}
}

func TestFrameDecoderPartialWrites(t *testing.T) {
	frame := encodeReportFrame(t, 1, PulseReport{Cycle: 1, DurationUS: 116})
	dec := NewFrameDecoder(256)

	for i, b := range frame {
		dec.Write([]byte{b})
		_, ok := dec.Next()
		if ok != (i == len(frame)-1) {
			t.Fatalf("byte %d: unexpected decode result %v", i, ok)
		}
	}
}

func TestFrameDecoderResync(t *testing.T) {
	good := encodeReportFrame(t, 2, PulseReport{Cycle: 2, DurationUS: PulseTimeout})

	bad := encodeReportFrame(t, 1, PulseReport{Cycle: 1, DurationUS: 116})
	bad[MessageHeaderSize] ^= 0xFF // corrupt payload, CRC no longer matches

	var stream bytes.Buffer
	stream.Write([]byte{0x00, 0x42}) // garbage
	stream.Write(bad)
	stream.Write(good)

	dec := NewFrameDecoder(256)
	dec.Write(stream.Bytes())

	msg, ok := dec.Next()
	if !ok {
		t.Fatal("Expected decoder to resync onto the good frame")
	}
	if msg.Sequence != 2 {
		t.Errorf("Expected sequence 2 after resync, got %d", msg.Sequence)
	}
	if dec.Errors() == 0 {
		t.Error("Expected framing errors to be counted")
	}
}

func TestFrameDecoderOverflow(t *testing.T) {
	dec := NewFrameDecoder(0)
	n := dec.Write(make([]byte, 4*MessageLengthMax))
	if n >= 4*MessageLengthMax {
		t.Errorf("Expected write to be truncated, wrote %d", n)
	}
	if dec.Errors() != 1 {
		t.Errorf("Expected 1 error for overflow, got %d", dec.Errors())
	}
}

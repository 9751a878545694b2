package protocol

import "errors"

var ErrFrameTooLong = errors.New("frame exceeds maximum message length")

// EncodeFrame writes a complete message block to output:
// length, sequence, payload, CRC16 (big endian) and the sync byte.
// Nothing is written if the payload does not fit in one block.
func EncodeFrame(output OutputBuffer, seq uint8, payload func(output OutputBuffer)) error {
	scratch := NewScratchOutput()
	if payload != nil {
		payload(scratch)
	}
	body := scratch.Result()

	msgLen := MessageHeaderSize + len(body) + MessageTrailerSize
	if msgLen > MessageLengthMax {
		return ErrFrameTooLong
	}

	cursor := output.CurPosition()
	output.Output([]byte{uint8(msgLen), MessageDest | (seq & MessageSeqMask)})
	output.Output(body)

	crc := CRC16(output.DataSince(cursor))
	output.Output([]byte{
		uint8((crc & 0xFF00) >> 8),
		uint8(crc & 0xFF),
		MessageValueSync,
	})
	return nil
}

// FrameDecoder reassembles message blocks from a byte stream.
// Corrupt data (bad length, destination, sync byte or CRC) drops the
// decoder out of sync until the next sync byte.
type FrameDecoder struct {
	fifo         *FifoBuffer
	synchronized bool
	errors       uint32
}

// NewFrameDecoder creates a decoder with the given stream buffer capacity
func NewFrameDecoder(capacity int) *FrameDecoder {
	if capacity < 2*MessageLengthMax {
		capacity = 2 * MessageLengthMax
	}
	return &FrameDecoder{
		fifo:         NewFifoBuffer(capacity),
		synchronized: true,
	}
}

// Write appends received bytes. Bytes that do not fit are dropped and
// counted as a decode error.
func (d *FrameDecoder) Write(data []byte) int {
	n := d.fifo.Write(data)
	if n < len(data) {
		d.errors++
	}
	return n
}

// Errors returns the number of framing errors seen so far
func (d *FrameDecoder) Errors() uint32 {
	return d.errors
}

// Next returns the next complete, valid message block, if any
func (d *FrameDecoder) Next() (*Message, bool) {
	data := d.fifo.Data()
	consumed := 0
	defer func() { d.fifo.Pop(consumed) }()

	for consumed < len(data) {
		rest := data[consumed:]

		if !d.synchronized {
			// Skip to just past the next sync byte
			skipped := len(rest)
			for i, b := range rest {
				if b == MessageValueSync {
					skipped = i + 1
					d.synchronized = true
					break
				}
			}
			consumed += skipped
			continue
		}

		if rest[0] == MessageValueSync {
			consumed++
			continue
		}

		if len(rest) < MessageLengthMin {
			return nil, false
		}

		msgLen := int(rest[MessagePositionLen])
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax {
			d.desync()
			continue
		}

		seq := rest[MessagePositionSeq]
		if seq&^MessageSeqMask != MessageDest {
			d.desync()
			continue
		}

		if len(rest) < msgLen {
			return nil, false
		}

		if rest[msgLen-MessageTrailerSync] != MessageValueSync {
			d.desync()
			continue
		}

		frameCRC := uint16(rest[msgLen-MessageTrailerCRC])<<8 |
			uint16(rest[msgLen-MessageTrailerCRC+1])
		if frameCRC != CRC16(rest[:msgLen-MessageTrailerSize]) {
			d.desync()
			continue
		}

		payload := make([]byte, msgLen-MessageLengthMin)
		copy(payload, rest[MessageHeaderSize:msgLen-MessageTrailerSize])
		consumed += msgLen

		return &Message{
			Length:   uint8(msgLen),
			Sequence: seq & MessageSeqMask,
			Payload:  payload,
			CRC:      frameCRC,
		}, true
	}
	return nil, false
}

func (d *FrameDecoder) desync() {
	d.synchronized = false
	d.errors++
}

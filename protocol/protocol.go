// Package protocol implements the rangefinder report protocol.
// Frames follow the Klipper message block layout so the same framing,
// VLQ encoding and CRC can be shared by firmware and host.
package protocol

// Version represents the firmware protocol version
const Version = "0.1.0"

// Protocol constants
const (
	MessageMax = 512 // Scratch output buffer size

	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10

	// Message sequence masks
	MessageSeqMask = 0x0F
)

// Message represents a parsed message block
type Message struct {
	Length   uint8
	Sequence uint8
	Payload  []byte // Frame data without header/trailer
	CRC      uint16
}

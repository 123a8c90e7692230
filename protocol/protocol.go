// Package protocol frames sensor reports for the serial link between the board
// and the host monitor. A frame is a length byte, a sequence byte, a payload of
// VLQ-encoded messages, a CRC16 and a sync byte, the same block layout Klipper
// uses, so frames resynchronise after line noise.
package protocol

// Version is reported in the identify message at boot.
const Version = "0.1.0"

// Frame layout
const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E

	// Sequence bytes carry MessageDest in the high nibble and a wrapping
	// counter in the low nibble.
	MessageDest    = 0x10
	MessageSeqMask = 0x0F

	// MessageMax sizes the scratch buffer a batch of frames is built in.
	MessageMax = 4 * MessageLengthMax
)

// Message IDs, the first VLQ of every message in a payload
const (
	MsgIdentify uint32 = iota // firmware version string
	MsgHumidity               // one humidity reading
	MsgFault                  // a failed transaction
	MsgTrace                  // one trace ring entry
)

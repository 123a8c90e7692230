package protocol

import (
	"errors"
	"sync/atomic"
)

// ErrFrameTooLong is returned when a payload does not fit one frame.
var ErrFrameTooLong = errors.New("protocol: frame exceeds maximum length")

// Encoder writes frames into an OutputBuffer. Each frame gets the next
// sequence number so the receiver can count lost frames.
type Encoder struct {
	output OutputBuffer
	seq    uint32 // low nibble of the next sequence byte
}

// NewEncoder creates an Encoder writing into output.
func NewEncoder(output OutputBuffer) *Encoder {
	return &Encoder{output: output}
}

// EncodeFrame writes one frame whose payload is produced by frameData.
// A payload too long for a frame is rolled back and reported.
func (e *Encoder) EncodeFrame(frameData func(output OutputBuffer)) error {
	cursor := e.output.CurPosition()

	seq := uint8(atomic.LoadUint32(&e.seq)&MessageSeqMask) | MessageDest
	e.output.Output([]byte{0, seq})

	frameData(e.output)

	length := len(e.output.DataSince(cursor)) + MessageTrailerSize
	if length > MessageLengthMax {
		e.rollback(cursor)
		return ErrFrameTooLong
	}
	e.output.Update(cursor+MessagePositionLen, uint8(length))

	crc := CRC16(e.output.DataSince(cursor))
	e.output.Output([]byte{
		uint8(crc >> 8),
		uint8(crc),
		MessageValueSync,
	})
	if e.output.CurPosition()-cursor != length {
		// output buffer ran out of room mid frame
		e.rollback(cursor)
		return ErrFrameTooLong
	}

	atomic.AddUint32(&e.seq, 1)
	return nil
}

// rollback discards a partial frame when the buffer supports it.
func (e *Encoder) rollback(cursor int) {
	if s, ok := e.output.(*ScratchOutput); ok && cursor <= s.pos {
		s.pos = cursor
	}
}

// Sequence returns the sequence byte the next frame will carry.
func (e *Encoder) Sequence() uint8 {
	return uint8(atomic.LoadUint32(&e.seq)&MessageSeqMask) | MessageDest
}

// Frame is one validated block taken off the wire.
type Frame struct {
	Sequence uint8
	Payload  []byte
}

// DecoderStats counts what the decoder has seen.
type DecoderStats struct {
	Frames  uint32 // valid frames delivered
	Resyncs uint32 // times framing was lost and recovered on a sync byte
	Lost    uint32 // frames missing according to the sequence counter
	Skipped uint32 // bytes discarded while out of sync
}

// Decoder splits a byte stream into frames. On any framing or CRC error it
// drops bytes up to the next sync byte and carries on.
type Decoder struct {
	synchronized bool
	haveSeq      bool
	nextSeq      uint8
	stats        DecoderStats
}

// NewDecoder returns a decoder that expects to start on a frame boundary.
func NewDecoder() *Decoder {
	return &Decoder{synchronized: true}
}

// Stats returns the counters accumulated so far.
func (d *Decoder) Stats() DecoderStats {
	return d.stats
}

// Decode consumes complete frames from input and hands each to fn. A trailing
// partial frame is left in input for the next call. The payload passed to fn
// aliases the input buffer and is only valid during the call.
func (d *Decoder) Decode(input InputBuffer, fn func(Frame)) {
	data := input.Data()

	for len(data) > 0 {
		if !d.synchronized {
			i := 0
			for i < len(data) && data[i] != MessageValueSync {
				i++
			}
			d.stats.Skipped += uint32(i)
			if i == len(data) {
				data = nil
				break
			}
			data = data[i+1:]
			d.synchronized = true
			d.stats.Resyncs++
			continue
		}

		if data[0] == MessageValueSync {
			data = data[1:]
			continue
		}
		if len(data) < MessageLengthMin {
			break
		}

		msgLen := int(data[MessagePositionLen])
		seq := data[MessagePositionSeq]
		if msgLen < MessageLengthMin || msgLen > MessageLengthMax || seq&^MessageSeqMask != MessageDest {
			d.synchronized = false
			continue
		}
		if len(data) < msgLen {
			break
		}
		if data[msgLen-MessageTrailerSync] != MessageValueSync {
			d.synchronized = false
			continue
		}
		want := uint16(data[msgLen-MessageTrailerCRC])<<8 | uint16(data[msgLen-MessageTrailerCRC+1])
		if CRC16(data[:msgLen-MessageTrailerSize]) != want {
			d.synchronized = false
			continue
		}

		if d.haveSeq && seq != d.nextSeq {
			d.stats.Lost += uint32((seq - d.nextSeq) & MessageSeqMask)
		}
		d.haveSeq = true
		d.nextSeq = (seq+1)&MessageSeqMask | MessageDest
		d.stats.Frames++

		fn(Frame{Sequence: seq, Payload: data[MessageHeaderSize : msgLen-MessageTrailerSize]})
		data = data[msgLen:]
	}

	if consumed := input.Available() - len(data); consumed > 0 {
		input.Pop(consumed)
	}
}

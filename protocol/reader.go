package protocol

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Reader decodes reports from a serial stream on the host. It runs a
// background read loop from construction until Close or end of stream.
type Reader struct {
	port    io.ReadCloser
	input   *FifoBuffer
	decoder *Decoder
	reports chan Report

	mu          sync.Mutex // guards decoder stats
	badPayloads uint32     // atomic

	stopChan  chan struct{}
	doneChan  chan struct{}
	closeOnce sync.Once
}

// NewReader starts reading frames from port.
func NewReader(port io.ReadCloser) *Reader {
	r := &Reader{
		port:     port,
		input:    NewFifoBuffer(4 * MessageMax),
		decoder:  NewDecoder(),
		reports:  make(chan Report, 16),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
	go r.readLoop()
	return r
}

// Reports delivers decoded reports in arrival order. The channel is closed
// when the stream ends or the reader is closed.
func (r *Reader) Reports() <-chan Report {
	return r.reports
}

// Stats returns the decoder counters and the number of frames whose payload
// could not be decoded.
func (r *Reader) Stats() (DecoderStats, uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.decoder.Stats(), atomic.LoadUint32(&r.badPayloads)
}

// Close stops the read loop and closes the port.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.stopChan)
		// closing the port unblocks a pending Read
		err = r.port.Close()
		<-r.doneChan
	})
	return err
}

func (r *Reader) stopped() bool {
	select {
	case <-r.stopChan:
		return true
	default:
		return false
	}
}

func (r *Reader) readLoop() {
	defer close(r.doneChan)
	defer close(r.reports)

	buf := make([]byte, 256)
	for !r.stopped() {
		n, err := r.port.Read(buf)
		if n > 0 {
			r.input.Write(buf[:n])
			if !r.process() {
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || r.stopped() {
				return
			}
			// transient serial error
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// process decodes buffered frames and delivers their reports. It returns
// false if the reader was closed while delivering.
func (r *Reader) process() bool {
	var batch []Report
	r.mu.Lock()
	r.decoder.Decode(r.input, func(f Frame) {
		err := DecodeReports(f.Payload, func(rep Report) {
			batch = append(batch, rep)
		})
		if err != nil {
			atomic.AddUint32(&r.badPayloads, 1)
		}
	})
	r.mu.Unlock()

	for _, rep := range batch {
		select {
		case r.reports <- rep:
		case <-r.stopChan:
			return false
		}
	}
	return true
}

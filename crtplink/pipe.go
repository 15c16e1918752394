package crtplink

import (
	"errors"
	"sync"
)

// ErrClosed is the cause carried by LinkErrors after a pipe end is closed.
var ErrClosed = errors.New("closed")

const pipeBuffer = 64

// Pipe returns two connected in-memory links: frames sent on one end are
// received on the other, in order. Closing either end fails both. It backs
// the test doubles for the dispatcher and subsystems, and is also useful to
// splice a simulated vehicle into application code.
func Pipe() (Link, Link) {
	ab := make(chan []byte, pipeBuffer)
	ba := make(chan []byte, pipeBuffer)
	done := make(chan struct{})
	shared := &pipeShared{done: done}
	a := &pipeEnd{out: ab, in: ba, shared: shared}
	b := &pipeEnd{out: ba, in: ab, shared: shared}
	return a, b
}

type pipeShared struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	out    chan []byte
	in     chan []byte
	shared *pipeShared
}

func (p *pipeEnd) Send(frame []byte) error {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	select {
	case <-p.shared.done:
		return &LinkError{Op: "send", Err: ErrClosed}
	default:
	}
	select {
	case p.out <- buf:
		return nil
	case <-p.shared.done:
		return &LinkError{Op: "send", Err: ErrClosed}
	}
}

func (p *pipeEnd) Receive() ([]byte, error) {
	// drain buffered frames even after close, like a real transport whose
	// receive buffer survives the peer going away
	select {
	case frame := <-p.in:
		return frame, nil
	default:
	}
	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.shared.done:
		return nil, &LinkError{Op: "receive", Err: ErrClosed}
	}
}

func (p *pipeEnd) Close() error {
	p.shared.once.Do(func() { close(p.shared.done) })
	return nil
}

// Package crazyusb drives a Crazyflie over its native USB interface and
// exposes it as a crtplink.Link. USB needs no radio-style polling: frames
// are written as they come and the IN endpoint is read continuously.
package crazyusb

import (
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"

	"github.com/bitcraze/crazyflie-go/crtp"
	"github.com/bitcraze/crazyflie-go/crtplink"
)

const sendInterval = time.Millisecond

// Link is an open USB connection to one Crazyflie. Outbound frames pass
// through two queues drained by a single writer: setpoint traffic jumps
// ahead of bulk traffic (TOC fetches, log control) so that flight control
// stays responsive while the bulk queues are deep.
type Link struct {
	dev *usbDevice

	standardQueue *queue.Queue
	priorityQueue *queue.Queue

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ crtplink.Link = (*Link)(nil)

// Open claims the single Crazyflie on the bus. With none or several
// connected it fails rather than guessing.
func Open() (*Link, error) {
	dev, err := openUsbDevice()
	if err != nil {
		return nil, err
	}

	l := &Link{
		dev:           dev,
		standardQueue: queue.New(64),
		priorityQueue: queue.New(64),
		done:          make(chan struct{}),
	}
	l.wg.Add(1)
	go l.writerLoop()
	return l, nil
}

// isPriority classifies flight-critical traffic.
func isPriority(frame []byte) bool {
	switch crtp.Header(frame[0]).Port() {
	case crtp.PortSetpoint, crtp.PortGeneric, crtp.PortPosition:
		return true
	}
	return false
}

// Send enqueues one frame. The write happens asynchronously; a delivery
// failure surfaces on the next Send or Receive.
func (l *Link) Send(frame []byte) error {
	select {
	case <-l.done:
		return &crtplink.LinkError{Op: "send", Err: ErrorLinkClosed}
	default:
	}

	buf := make([]byte, len(frame))
	copy(buf, frame)

	q := l.standardQueue
	if len(buf) > 0 && isPriority(buf) {
		q = l.priorityQueue
	}
	if err := q.Put(buf); err != nil {
		return &crtplink.LinkError{Op: "send", Err: err}
	}
	return nil
}

// Receive blocks for the next inbound frame. Poll windows in which the
// firmware had nothing to say are surfaced as null frames, which the layer
// above discards.
func (l *Link) Receive() ([]byte, error) {
	select {
	case <-l.done:
		return nil, &crtplink.LinkError{Op: "receive", Err: ErrorLinkClosed}
	default:
	}

	frame, err := l.dev.ReadResponse()
	if err != nil {
		select {
		case <-l.done:
			return nil, &crtplink.LinkError{Op: "receive", Err: ErrorLinkClosed}
		default:
		}
		return nil, &crtplink.LinkError{Op: "receive", Err: err}
	}
	if frame == nil {
		return []byte{crtp.PortEmpty1}, nil
	}
	return frame, nil
}

// Close tears the link down and releases the device.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.standardQueue.Dispose()
		l.priorityQueue.Dispose()
		l.wg.Wait()
		l.dev.Close()
	})
	return nil
}

func (l *Link) writerLoop() {
	defer l.wg.Done()

	ticker := time.NewTicker(sendInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
		}

		frame, ok := l.dequeue()
		if !ok {
			continue
		}
		if err := l.dev.SendPacket(frame); err != nil {
			// the reader will surface the dead device to the layer above
			return
		}
	}
}

// dequeue takes the next outbound frame, priority queue first.
func (l *Link) dequeue() ([]byte, bool) {
	for _, q := range []*queue.Queue{l.priorityQueue, l.standardQueue} {
		item, err := q.Peek()
		if err != nil {
			continue
		}
		q.Get(1)
		return item.([]byte), true
	}
	return nil, false
}

package crazyflie

import (
	"bytes"
	"log"
	"sync"
	"time"

	"github.com/bitcraze/crazyflie-go/crtp"
	"github.com/bitcraze/crazyflie-go/crtplink"
)

// dispatcher owns the link. It runs one receive goroutine that fans
// inbound packets out to per-port queues, and one send goroutine that
// drains a shared bounded queue to the link in submission order. All
// cross-task state lives here, guarded by mu; subsystems only touch it
// through subscribe and send.
type dispatcher struct {
	link crtplink.Link
	cfg  Config

	sendQueue chan crtp.Packet

	mu          sync.Mutex
	subscribers map[crtp.Port]*subscription

	done      chan struct{}
	closeOnce sync.Once
	reason    error

	wg sync.WaitGroup
}

func newDispatcher(link crtplink.Link, cfg Config) *dispatcher {
	return &dispatcher{
		link:        link,
		cfg:         cfg,
		sendQueue:   make(chan crtp.Packet, cfg.SendQueueSize),
		subscribers: make(map[crtp.Port]*subscription),
		done:        make(chan struct{}),
	}
}

func (d *dispatcher) run() {
	d.wg.Add(2)
	go d.sendLoop()
	go d.recvLoop()
}

func (d *dispatcher) sendLoop() {
	defer d.wg.Done()
	for {
		select {
		case pk := <-d.sendQueue:
			if err := d.link.Send(pk.Bytes()); err != nil {
				d.fail(err)
				return
			}
		case <-d.done:
			return
		}
	}
}

func (d *dispatcher) recvLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.done:
			return
		default:
		}

		frame, err := d.link.Receive()
		if err != nil {
			d.fail(err)
			return
		}
		if crtp.IsNull(frame) {
			continue // firmware has nothing to report
		}

		pk, err := crtp.Decode(frame)
		if err != nil {
			log.Printf("crazyflie: dropping malformed frame: %s", err)
			continue
		}

		d.mu.Lock()
		sub := d.subscribers[pk.Port()]
		d.mu.Unlock()
		if sub == nil {
			continue // no subscriber for this port, not an error
		}
		sub.deliver(pk)
	}
}

// fail drives the whole connection toward disconnected, exactly once.
// Every pending wait resolves promptly because done is closed.
func (d *dispatcher) fail(reason error) {
	d.closeOnce.Do(func() {
		d.reason = reason
		close(d.done)
		d.link.Close()
	})
}

func (d *dispatcher) closed() <-chan struct{} { return d.done }

func (d *dispatcher) ensureOpen() error {
	select {
	case <-d.done:
		return ErrorNotConnected
	default:
		return nil
	}
}

// send enqueues an outbound packet, blocking while the queue is full. A
// send submitted after the connection already died is a late operation and
// fails with ErrorNotConnected; ErrorDisconnected is reserved for work that
// was in flight when the connection went down.
func (d *dispatcher) send(pk crtp.Packet) error {
	if err := d.ensureOpen(); err != nil {
		return err
	}
	select {
	case d.sendQueue <- pk:
		return nil
	case <-d.done:
		return ErrorDisconnected
	}
}

// subscription is a single port's inbound queue. One per port; the queue
// is created on first subscribe and lives for the connection.
type subscription struct {
	d     *dispatcher
	port  crtp.Port
	lossy bool
	ch    chan crtp.Packet
}

// subscribe claims a port. Lossy ports drop their oldest unread packet on
// overflow (acceptable for streaming data); on other ports the queue is
// sized so that an overflow indicates a stuck consumer, which gets logged.
func (d *dispatcher) subscribe(port crtp.Port, lossy bool) (*subscription, error) {
	size := d.cfg.ControlQueueSize
	if lossy {
		size = d.cfg.DataQueueSize
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[port]; ok {
		return nil, ErrorPortInUse
	}
	sub := &subscription{d: d, port: port, lossy: lossy, ch: make(chan crtp.Packet, size)}
	d.subscribers[port] = sub
	return sub, nil
}

// deliver never blocks the receive loop on a slow subscriber.
func (s *subscription) deliver(pk crtp.Packet) {
	select {
	case s.ch <- pk:
		return
	default:
	}
	if !s.lossy {
		log.Printf("crazyflie: port %d queue overflow, dropping oldest packet", s.port)
	}
	select {
	case <-s.ch:
	default:
	}
	select {
	case s.ch <- pk:
	default:
	}
}

// splitChannels fans a port subscription out into its four CRTP channels.
// caps sizes each channel queue; zero entries fall back to the control
// queue size. The goroutine ends when the connection dies.
func (d *dispatcher) splitChannels(sub *subscription, caps [4]int) [4]chan crtp.Packet {
	var out [4]chan crtp.Packet
	for i := range out {
		size := caps[i]
		if size == 0 {
			size = d.cfg.ControlQueueSize
		}
		out[i] = make(chan crtp.Packet, size)
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case pk := <-sub.ch:
				ch := out[pk.Channel()]
				select {
				case ch <- pk:
				default: // drop oldest, same policy as the port queue
					select {
					case <-ch:
					default:
					}
					select {
					case ch <- pk:
					default:
					}
				}
			case <-d.done:
				return
			}
		}
	}()

	return out
}

// waitFor blocks until a packet whose payload starts with prefix arrives
// on rx. Packets not matching the prefix are stale responses from earlier
// timed-out attempts and are discarded.
func (d *dispatcher) waitFor(rx <-chan crtp.Packet, prefix []byte, timeout time.Duration) (crtp.Packet, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		select {
		case pk := <-rx:
			if bytes.HasPrefix(pk.Data(), prefix) {
				return pk, nil
			}
		case <-d.done:
			return crtp.Packet{}, ErrorDisconnected
		case <-deadline.C:
			return crtp.Packet{}, ErrorNoResponse
		}
	}
}

// request performs one idempotent request/response exchange, retrying up
// to the configured budget. The response is correlated by the echoed
// prefix, not by arrival order, since unsolicited packets may interleave.
func (d *dispatcher) request(rx <-chan crtp.Packet, pk crtp.Packet, prefix []byte) (crtp.Packet, error) {
	for attempt := 0; attempt < d.cfg.RetryCount; attempt++ {
		if err := d.send(pk); err != nil {
			return crtp.Packet{}, err
		}
		resp, err := d.waitFor(rx, prefix, d.cfg.ResponseTimeout)
		if err == ErrorNoResponse {
			continue
		}
		return resp, err
	}
	return crtp.Packet{}, ErrorNoResponse
}

package crazyflie

import (
	"strings"
	"sync"

	"github.com/bitcraze/crazyflie-go/crtp"
)

// Console collects the firmware's printf output. Packets are text
// fragments with no line discipline, so fragments are accumulated until a
// newline and delivered as complete lines.
type Console struct {
	d     *dispatcher
	lines chan string

	mu      sync.Mutex
	partial strings.Builder
	history []string
}

func newConsole(d *dispatcher) (*Console, error) {
	sub, err := d.subscribe(crtp.PortConsole, false)
	if err != nil {
		return nil, err
	}
	c := &Console{
		d:     d,
		lines: make(chan string, d.cfg.ControlQueueSize),
	}
	d.wg.Add(1)
	go c.loop(sub.ch)
	return c, nil
}

// Lines is the stream of complete console lines, without the trailing
// newline. Closed on disconnect. Overflow drops the oldest unread line;
// the history is unaffected.
func (c *Console) Lines() <-chan string { return c.lines }

// History returns every line received so far, oldest first.
func (c *Console) History() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.history))
	copy(out, c.history)
	return out
}

func (c *Console) loop(rx <-chan crtp.Packet) {
	defer c.d.wg.Done()
	for {
		select {
		case pk := <-rx:
			c.append(pk.Data())
		case <-c.d.closed():
			close(c.lines)
			return
		}
	}
}

func (c *Console) append(fragment []byte) {
	c.mu.Lock()
	c.partial.Write(fragment)
	text := c.partial.String()

	var complete []string
	for {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			break
		}
		complete = append(complete, strings.TrimRight(text[:i], "\r"))
		text = text[i+1:]
	}
	c.partial.Reset()
	c.partial.WriteString(text)
	c.history = append(c.history, complete...)
	c.mu.Unlock()

	for _, line := range complete {
		select {
		case c.lines <- line:
			continue
		default:
		}
		select {
		case <-c.lines:
		default:
		}
		select {
		case c.lines <- line:
		default:
		}
	}
}

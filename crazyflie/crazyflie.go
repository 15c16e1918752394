// Package crazyflie is the host side of the Crazyflie CRTP protocol: a
// connection multiplexer plus the log, param, commander, console and
// platform subsystems, driven over any crtplink.Link.
package crazyflie

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/bitcraze/crazyflie-go/crtp"
	"github.com/bitcraze/crazyflie-go/crtplink"
)

// State is the connection lifecycle position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	}
	return "unknown"
}

// Crazyflie is one live connection. Construct with Connect; all subsystem
// handles stay valid until disconnect, after which their operations return
// ErrorNotConnected or ErrorDisconnected.
type Crazyflie struct {
	cfg  Config
	disp *dispatcher

	state atomic.Int32

	Log       *Log
	Param     *Param
	Commander *Commander
	Console   *Console
	Platform  *Platform

	echoMu sync.Mutex
	echo   chan crtp.Packet
}

// Connect establishes a connection over the link with default tuning.
func Connect(link crtplink.Link) (*Crazyflie, error) {
	return ConnectWithConfig(link, DefaultConfig())
}

// ConnectWithConfig runs the connect sequence: verify the firmware speaks
// a supported protocol, then bring up the subsystems, fetching the log and
// param TOCs concurrently since they dominate connect time on a cache
// miss. On any failure the link is closed and the error returned.
func ConnectWithConfig(link crtplink.Link, cfg Config) (*Crazyflie, error) {
	c := &Crazyflie{cfg: cfg, disp: newDispatcher(link, cfg)}
	c.state.Store(int32(StateConnecting))
	c.disp.run()

	if err := c.connect(); err != nil {
		c.disp.fail(err)
		c.disp.wg.Wait()
		c.state.Store(int32(StateDisconnected))
		return nil, err
	}

	c.state.Store(int32(StateConnected))
	go c.supervise()
	return c, nil
}

func (c *Crazyflie) connect() error {
	var err error

	if c.Platform, err = newPlatform(c.disp); err != nil {
		return err
	}
	if err = c.Platform.checkProtocol(); err != nil {
		return err
	}

	if c.Console, err = newConsole(c.disp); err != nil {
		return err
	}

	echoSub, err := c.disp.subscribe(crtp.PortLink, false)
	if err != nil {
		return err
	}
	c.echo = c.disp.splitChannels(echoSub, [4]int{})[0]

	var wg sync.WaitGroup
	var logErr, paramErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		c.Log, logErr = newLog(c.disp, c.cfg.TocCache)
	}()
	go func() {
		defer wg.Done()
		c.Param, paramErr = newParam(c.disp, c.cfg.TocCache)
	}()
	wg.Wait()
	if logErr != nil {
		return logErr
	}
	if paramErr != nil {
		return paramErr
	}

	c.Commander = newCommander(c.disp)
	return nil
}

// State returns the current lifecycle position without blocking.
func (c *Crazyflie) State() State {
	return State(c.state.Load())
}

// Disconnect tears the connection down. Safe to call more than once; every
// pending operation resolves with ErrorDisconnected.
func (c *Crazyflie) Disconnect() {
	c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnecting))
	c.disp.fail(ErrorDisconnected)
	c.disp.wg.Wait()
	c.state.Store(int32(StateDisconnected))
}

// Wait blocks until the connection ends for any reason and returns the
// cause, or nil for a deliberate Disconnect.
func (c *Crazyflie) Wait() error {
	<-c.disp.closed()
	c.disp.wg.Wait()
	if c.disp.reason == ErrorDisconnected {
		return nil
	}
	return c.disp.reason
}

// Ping round-trips an echo packet on the link port. Useful as a liveness
// probe when nothing else is flowing.
func (c *Crazyflie) Ping() error {
	c.echoMu.Lock()
	defer c.echoMu.Unlock()

	payload := []byte{0x01, 0x02, 0x03, 0x04}
	pk := crtp.MustPacket(crtp.PortLink, 0, payload)
	_, err := c.disp.request(c.echo, pk, payload)
	return err
}

// supervise mirrors an unexpected link death into the state machine.
func (c *Crazyflie) supervise() {
	<-c.disp.closed()
	c.disp.wg.Wait()
	if c.state.CompareAndSwap(int32(StateConnected), int32(StateDisconnected)) {
		if reason := c.disp.reason; reason != nil && reason != ErrorDisconnected {
			log.Printf("crazyflie: connection lost: %s", reason)
		}
	}
}

package crazyflie

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/bitcraze/crazyflie-go/crtp"
	"github.com/bitcraze/crazyflie-go/crtplink"
)

func testDispatcher(t *testing.T) (*dispatcher, crtplink.Link) {
	t.Helper()
	host, vehicle := crtplink.Pipe()
	cfg := testConfig()
	d := newDispatcher(host, cfg)
	d.run()
	t.Cleanup(func() {
		d.fail(ErrorDisconnected)
		d.wg.Wait()
	})
	return d, vehicle
}

func TestDispatcherRoutesByPort(t *testing.T) {
	d, vehicle := testDispatcher(t)

	logSub, err := d.subscribe(crtp.PortLog, true)
	if err != nil {
		t.Fatalf("subscribe log: %s", err)
	}
	paramSub, err := d.subscribe(crtp.PortParam, false)
	if err != nil {
		t.Fatalf("subscribe param: %s", err)
	}

	vehicle.Send(crtp.MustPacket(crtp.PortParam, 0, []byte{1}).Bytes())
	vehicle.Send(crtp.MustPacket(crtp.PortLog, 2, []byte{2}).Bytes())
	vehicle.Send(crtp.MustPacket(crtp.PortConsole, 0, []byte{3}).Bytes()) // no subscriber

	select {
	case pk := <-paramSub.ch:
		if pk.Data()[0] != 1 {
			t.Errorf("param packet = %v", pk.Data())
		}
	case <-time.After(time.Second):
		t.Fatal("param packet never routed")
	}
	select {
	case pk := <-logSub.ch:
		if pk.Data()[0] != 2 {
			t.Errorf("log packet = %v", pk.Data())
		}
	case <-time.After(time.Second):
		t.Fatal("log packet never routed")
	}
}

func TestDispatcherRejectsSecondSubscriber(t *testing.T) {
	d, _ := testDispatcher(t)

	if _, err := d.subscribe(crtp.PortLog, true); err != nil {
		t.Fatalf("first subscribe: %s", err)
	}
	if _, err := d.subscribe(crtp.PortLog, false); err != ErrorPortInUse {
		t.Fatalf("second subscribe = %v, want ErrorPortInUse", err)
	}
}

func TestDispatcherIgnoresNullPackets(t *testing.T) {
	d, vehicle := testDispatcher(t)

	sub, err := d.subscribe(crtp.PortLog, true)
	if err != nil {
		t.Fatalf("subscribe: %s", err)
	}

	vehicle.Send([]byte{crtp.PortEmpty1})
	vehicle.Send([]byte{crtp.PortEmpty2})
	vehicle.Send(crtp.MustPacket(crtp.PortLog, 0, []byte{42}).Bytes())

	select {
	case pk := <-sub.ch:
		if pk.Data()[0] != 42 {
			t.Errorf("got %v, want the real packet after the nulls", pk.Data())
		}
	case <-time.After(time.Second):
		t.Fatal("real packet never arrived")
	}
}

func TestLossyQueueDropsOldest(t *testing.T) {
	host, vehicle := crtplink.Pipe()
	cfg := testConfig()
	cfg.DataQueueSize = 2
	d := newDispatcher(host, cfg)
	d.run()
	defer func() {
		d.fail(ErrorDisconnected)
		d.wg.Wait()
	}()

	sub, err := d.subscribe(crtp.PortLog, true)
	if err != nil {
		t.Fatalf("subscribe: %s", err)
	}

	for i := byte(0); i < 5; i++ {
		vehicle.Send(crtp.MustPacket(crtp.PortLog, 2, []byte{i}).Bytes())
	}
	// let all five route before draining, so the overflow policy has run
	time.Sleep(100 * time.Millisecond)

	deadline := time.After(time.Second)
	var got []byte
	for len(got) < 2 {
		select {
		case pk := <-sub.ch:
			got = append(got, pk.Data()[0])
		case <-deadline:
			t.Fatalf("only received %v", got)
		}
	}
	// the two survivors are the newest packets, oldest first
	if got[0] != 3 || got[1] != 4 {
		t.Errorf("queue holds %v, want [3 4]", got)
	}
}

func TestWaitForDiscardsStaleResponses(t *testing.T) {
	d, vehicle := testDispatcher(t)

	sub, err := d.subscribe(crtp.PortParam, false)
	if err != nil {
		t.Fatalf("subscribe: %s", err)
	}

	vehicle.Send(crtp.MustPacket(crtp.PortParam, 0, []byte{9, 9}).Bytes()) // stale
	vehicle.Send(crtp.MustPacket(crtp.PortParam, 0, []byte{5, 1}).Bytes())

	pk, err := d.waitFor(sub.ch, []byte{5}, time.Second)
	if err != nil {
		t.Fatalf("waitFor: %s", err)
	}
	if pk.Data()[1] != 1 {
		t.Errorf("matched %v, want the packet with prefix 5", pk.Data())
	}
}

func TestRequestRetriesThenGivesUp(t *testing.T) {
	d, vehicle := testDispatcher(t)

	sub, err := d.subscribe(crtp.PortParam, false)
	if err != nil {
		t.Fatalf("subscribe: %s", err)
	}

	// count attempts on the vehicle side, never answer
	var attempts atomic.Int64
	go func() {
		for {
			if _, err := vehicle.Receive(); err != nil {
				return
			}
			attempts.Add(1)
		}
	}()

	pk := crtp.MustPacket(crtp.PortParam, 1, []byte{1, 0})
	if _, err := d.request(sub.ch, pk, []byte{1, 0}); err != ErrorNoResponse {
		t.Fatalf("request = %v, want ErrorNoResponse", err)
	}
	time.Sleep(50 * time.Millisecond) // let the counter catch up
	if n := attempts.Load(); n != int64(d.cfg.RetryCount) {
		t.Errorf("saw %d attempts, want %d", n, d.cfg.RetryCount)
	}
}

func TestSendPreservesSubmissionOrder(t *testing.T) {
	d, vehicle := testDispatcher(t)

	for i := byte(0); i < 20; i++ {
		if err := d.send(crtp.MustPacket(crtp.PortParam, 1, []byte{i})); err != nil {
			t.Fatalf("send %d: %s", i, err)
		}
	}
	for i := byte(0); i < 20; i++ {
		frame, err := vehicle.Receive()
		if err != nil {
			t.Fatalf("receive %d: %s", i, err)
		}
		pk, err := crtp.Decode(frame)
		if err != nil {
			t.Fatalf("decode %d: %s", i, err)
		}
		if pk.Data()[0] != i {
			t.Fatalf("packet %d arrived carrying %d, order not preserved", i, pk.Data()[0])
		}
	}
}

func TestPendingWaitResolvesOnFailure(t *testing.T) {
	d, vehicle := testDispatcher(t)

	sub, err := d.subscribe(crtp.PortParam, false)
	if err != nil {
		t.Fatalf("subscribe: %s", err)
	}

	result := make(chan error, 1)
	go func() {
		_, err := d.waitFor(sub.ch, []byte{1}, 10*time.Second)
		result <- err
	}()

	time.Sleep(20 * time.Millisecond) // let the waiter block
	vehicle.Close()

	select {
	case err := <-result:
		if err != ErrorDisconnected {
			t.Errorf("pending wait resolved with %v, want ErrorDisconnected", err)
		}
	case <-time.After(time.Second):
		t.Error("pending wait did not resolve on link failure")
	}
}

func TestSendAfterFailure(t *testing.T) {
	d, _ := testDispatcher(t)
	d.fail(ErrorDisconnected)
	d.wg.Wait()

	if err := d.send(crtp.MustPacket(crtp.PortSetpoint, 0, nil)); err != ErrorNotConnected {
		t.Errorf("send after failure = %v, want ErrorNotConnected", err)
	}
	if err := d.ensureOpen(); err != ErrorNotConnected {
		t.Errorf("ensureOpen after failure = %v, want ErrorNotConnected", err)
	}
}

func TestCommanderWireFormats(t *testing.T) {
	d, vehicle := testDispatcher(t)
	c := newCommander(d)

	if err := c.SendSetpoint(1, 2, 3, 40000); err != nil {
		t.Fatalf("SendSetpoint: %s", err)
	}
	frame, err := vehicle.Receive()
	if err != nil {
		t.Fatalf("receive: %s", err)
	}
	pk, err := crtp.Decode(frame)
	if err != nil || pk.Port() != crtp.PortSetpoint || pk.Channel() != 0 {
		t.Fatalf("setpoint went to port %d channel %d", pk.Port(), pk.Channel())
	}
	if len(pk.Data()) != 14 {
		t.Fatalf("rpyt payload is %d bytes, want 14", len(pk.Data()))
	}
	// pitch is negated on the wire: 2.0 encodes as -2.0
	if pk.Data()[7] != 0xC0 || pk.Data()[6] != 0x00 {
		t.Errorf("pitch bytes = % x, want f32 -2.0 little endian", pk.Data()[4:8])
	}

	if err := c.SendHoverSetpoint(0.1, 0.2, 0, 0.5); err != nil {
		t.Fatalf("SendHoverSetpoint: %s", err)
	}
	frame, err = vehicle.Receive()
	if err != nil {
		t.Fatalf("receive: %s", err)
	}
	pk, _ = crtp.Decode(frame)
	if pk.Port() != crtp.PortGeneric || pk.Data()[0] != setpointTypeHover {
		t.Errorf("hover setpoint = port %d type %d", pk.Port(), pk.Data()[0])
	}
	if len(pk.Data()) != 17 {
		t.Errorf("hover payload is %d bytes, want 17", len(pk.Data()))
	}

	if err := c.SendStop(); err != nil {
		t.Fatalf("SendStop: %s", err)
	}
	frame, _ = vehicle.Receive()
	pk, _ = crtp.Decode(frame)
	if pk.Port() != crtp.PortGeneric || len(pk.Data()) != 1 || pk.Data()[0] != setpointTypeStop {
		t.Errorf("stop packet = port %d payload %v", pk.Port(), pk.Data())
	}
}

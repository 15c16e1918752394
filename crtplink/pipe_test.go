package crtplink

import (
	"bytes"
	"errors"
	"testing"
)

func TestPipeDelivery(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	frames := [][]byte{{0x51, 1}, {0x52, 2, 3}, {0x53}}
	for _, f := range frames {
		if err := a.Send(f); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	for i, want := range frames {
		got, err := b.Receive()
		if err != nil {
			t.Fatalf("Receive %d: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d = %v, want %v", i, got, want)
		}
	}
}

func TestPipeClose(t *testing.T) {
	a, b := Pipe()
	a.Close()

	if err := b.Send([]byte{0x00}); err == nil {
		t.Fatal("Send after close succeeded")
	} else {
		var le *LinkError
		if !errors.As(err, &le) || !errors.Is(err, ErrClosed) {
			t.Errorf("Send after close: err = %v, want LinkError(ErrClosed)", err)
		}
	}

	if _, err := b.Receive(); err == nil {
		t.Fatal("Receive after close succeeded")
	}
}

func TestPipeSendCopiesFrame(t *testing.T) {
	a, b := Pipe()
	defer a.Close()

	frame := []byte{0x10, 0xAA}
	if err := a.Send(frame); err != nil {
		t.Fatalf("Send: %v", err)
	}
	frame[1] = 0xBB

	got, err := b.Receive()
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if got[1] != 0xAA {
		t.Error("receiver observed mutation of the sender's buffer")
	}
}

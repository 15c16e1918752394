// Package crtplink defines the boundary to the physical transport carrying
// CRTP frames to a single Crazyflie. Implementations exist for USB (package
// crazyusb) and for in-memory test links (Pipe). The link delivers opaque
// byte frames, byte exact and in order; any radio-level loss or retry
// happens below this boundary.
package crtplink

import "fmt"

// Link is a connected point-to-point channel to one vehicle. Send and
// Receive may be called concurrently with each other but are not safe for
// concurrent use with themselves. Both block, and both fail with a
// *LinkError once the transport is gone.
type Link interface {
	// Send transmits one raw CRTP frame (header byte plus payload).
	Send(frame []byte) error
	// Receive blocks until the next inbound frame is available.
	Receive() ([]byte, error)
	// Close tears the link down. Blocked Send and Receive calls return.
	Close() error
}

// LinkError is a transport-level failure. It is always fatal to the
// connection built on top of the link.
type LinkError struct {
	Op  string
	Err error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("link: %s: %s", e.Op, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// Package crtp implements the Crazyflie Real-Time Protocol framing and the
// typed value codec shared by the log and param subsystems.
//
// A CRTP packet is one header byte followed by up to 30 payload bytes. The
// header multiplexes a 4-bit port, 2 link bits and a 2-bit channel:
//
//	(port << 4) | (link << 2) | channel
//
// Everything in this package is pure and stateless.
package crtp

type Header byte
type Port byte
type Channel byte

const (
	PortConsole  Port = 0x00
	PortParam    Port = 0x02
	PortSetpoint Port = 0x03
	PortMem      Port = 0x04
	PortLog      Port = 0x05
	PortPosition Port = 0x06
	PortGeneric  Port = 0x07
	PortPlatform Port = 0x0D
	PortLink     Port = 0x0F
)

// Null packets sent by the firmware when it has nothing to report.
const (
	PortEmpty1 = 0xF3
	PortEmpty2 = 0xF7
)

// MaxPayloadLen is the maximum CRTP payload size, limited by the 32 byte
// radio frame minus the header and radio overhead.
const MaxPayloadLen = 30

func HeaderBytes(port Port, channel Channel) byte {
	var link byte = 3
	return ((byte(port) & 0x0F) << 4) |
		((link & 0x03) << 2) |
		((byte(channel) & 0x03) << 0)
}

func (header Header) Channel() Channel {
	return Channel((byte(header) >> 0) & 0x03)
}

func (header Header) Port() Port {
	return Port((byte(header) >> 4) & 0x0F)
}

// Packet is a decoded CRTP packet. It is immutable once constructed: the
// accessors return the payload as stored, callers must not modify it.
type Packet struct {
	port    Port
	channel Channel
	data    []byte
}

// NewPacket builds a packet for the given port and channel. The payload is
// copied, so the caller may reuse its buffer. Payloads over MaxPayloadLen
// cannot be represented on the wire and return an error.
func NewPacket(port Port, channel Channel, data []byte) (Packet, error) {
	if len(data) > MaxPayloadLen {
		return Packet{}, ErrorPayloadTooLong
	}
	payload := make([]byte, len(data))
	copy(payload, data)
	return Packet{port: port, channel: channel, data: payload}, nil
}

// MustPacket is NewPacket for payloads known to fit, such as fixed command
// frames built by this library. It panics on oversize payloads.
func MustPacket(port Port, channel Channel, data []byte) Packet {
	p, err := NewPacket(port, channel, data)
	if err != nil {
		panic(err)
	}
	return p
}

func (p Packet) Port() Port       { return p.port }
func (p Packet) Channel() Channel { return p.channel }
func (p Packet) Data() []byte     { return p.data }

// Bytes encodes the packet into its wire representation.
func (p Packet) Bytes() []byte {
	buf := make([]byte, len(p.data)+1)
	buf[0] = HeaderBytes(p.port, p.channel)
	copy(buf[1:], p.data)
	return buf
}

// Decode parses a wire frame into a packet. An empty frame or an oversize
// payload is a framing error.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < 1 {
		return Packet{}, ErrorEmptyFrame
	}
	if len(buf)-1 > MaxPayloadLen {
		return Packet{}, ErrorPayloadTooLong
	}
	header := Header(buf[0])
	data := make([]byte, len(buf)-1)
	copy(data, buf[1:])
	return Packet{port: header.Port(), channel: header.Channel(), data: data}, nil
}

// IsNull reports whether a raw frame is one of the firmware's "nothing to
// report" packets.
func IsNull(buf []byte) bool {
	return len(buf) == 1 && (buf[0] == PortEmpty1 || buf[0] == PortEmpty2)
}

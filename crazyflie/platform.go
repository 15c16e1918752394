package crazyflie

import (
	"strings"
	"sync"

	"github.com/bitcraze/crazyflie-go/crtp"
)

const (
	platformVersionChannel crtp.Channel = 1

	cmdProtocolVersion byte = 0
	cmdFirmwareVersion byte = 1
	cmdDeviceTypeName  byte = 2
)

// minProtocolVersion is the oldest firmware protocol this library speaks.
// Older firmwares predate the V2 TOC commands.
const minProtocolVersion = 4

// Platform queries firmware identity and protocol compatibility.
type Platform struct {
	d *dispatcher

	mu      sync.Mutex
	version chan crtp.Packet
}

func newPlatform(d *dispatcher) (*Platform, error) {
	sub, err := d.subscribe(crtp.PortPlatform, false)
	if err != nil {
		return nil, err
	}
	chans := d.splitChannels(sub, [4]int{})
	return &Platform{d: d, version: chans[platformVersionChannel]}, nil
}

func (p *Platform) query(cmd byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pk := crtp.MustPacket(crtp.PortPlatform, platformVersionChannel, []byte{cmd})
	resp, err := p.d.request(p.version, pk, []byte{cmd})
	if err != nil {
		return nil, err
	}
	if len(resp.Data()) < 2 {
		return nil, ErrorBadResponse
	}
	return resp.Data()[1:], nil
}

// ProtocolVersion returns the firmware's CRTP protocol version.
func (p *Platform) ProtocolVersion() (int, error) {
	data, err := p.query(cmdProtocolVersion)
	if err != nil {
		return 0, err
	}
	return int(data[0]), nil
}

// FirmwareVersion returns the firmware revision string, for example
// "2023.11".
func (p *Platform) FirmwareVersion() (string, error) {
	data, err := p.query(cmdFirmwareVersion)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\x00"), nil
}

// DeviceTypeName returns the hardware identifier, for example "CF21".
func (p *Platform) DeviceTypeName() (string, error) {
	data, err := p.query(cmdDeviceTypeName)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\x00"), nil
}

// checkProtocol rejects firmwares this library cannot drive.
func (p *Platform) checkProtocol() error {
	version, err := p.ProtocolVersion()
	if err != nil {
		return err
	}
	if version < minProtocolVersion {
		return ErrorProtocolVersion
	}
	return nil
}

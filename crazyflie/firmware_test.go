package crazyflie

import (
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/bitcraze/crazyflie-go/crtp"
	"github.com/bitcraze/crazyflie-go/crtplink"
)

// fakeVariable is one simulated TOC entry.
type fakeVariable struct {
	group    string
	name     string
	typeTag  byte
	readOnly bool
}

// fakeFirmware simulates the vehicle side of the protocol over a pipe
// link, enough of it to connect and exercise every subsystem: platform
// version queries, both TOCs, param read/write, log block control and the
// link echo. Log data packets are injected by tests, not generated.
type fakeFirmware struct {
	link crtplink.Link

	protocolVersion byte
	logVars         []fakeVariable
	paramVars       []fakeVariable

	tocItemRequests atomic.Int64

	mu          sync.Mutex
	paramValues map[uint16][]byte
	blocks      map[byte][]byte // block id -> appended type tags
	started     map[byte]byte   // block id -> period ticks
	maxBlocks   int
}

func newFakeFirmware(link crtplink.Link) *fakeFirmware {
	fw := &fakeFirmware{
		link:            link,
		protocolVersion: 6,
		logVars: []fakeVariable{
			{"acc", "x", 7, false},
			{"acc", "y", 7, false},
			{"pm", "vbat", 7, false},
			{"sys", "canfly", 1, false},
			{"stateEstimate", "z", 8, false},
		},
		paramVars: []fakeVariable{
			{"system", "selftestPassed", 0x48, true},
			{"pid_rate", "roll_kp", 0x06, false},
			{"ring", "effect", 0x08, false},
			{"commander", "enHighLevel", 0x08, false},
		},
		paramValues: make(map[uint16][]byte),
		blocks:      make(map[byte][]byte),
		started:     make(map[byte]byte),
		maxBlocks:   8,
	}
	fw.paramValues[0] = []byte{1}
	fw.paramValues[1] = []byte{0, 0, 0x80, 0x3F} // 1.0
	fw.paramValues[2] = []byte{0}
	fw.paramValues[3] = []byte{0}
	go fw.serve()
	return fw
}

func (fw *fakeFirmware) serve() {
	for {
		frame, err := fw.link.Receive()
		if err != nil {
			return
		}
		pk, err := crtp.Decode(frame)
		if err != nil {
			continue
		}
		fw.handle(pk)
	}
}

func (fw *fakeFirmware) reply(port crtp.Port, channel crtp.Channel, payload []byte) {
	fw.link.Send(crtp.MustPacket(port, channel, payload).Bytes())
}

func (fw *fakeFirmware) handle(pk crtp.Packet) {
	switch {
	case pk.Port() == crtp.PortPlatform && pk.Channel() == 1:
		fw.handlePlatform(pk.Data())
	case pk.Port() == crtp.PortLink && pk.Channel() == 0:
		fw.reply(crtp.PortLink, 0, pk.Data())
	case pk.Port() == crtp.PortLog && pk.Channel() == 0:
		fw.handleToc(crtp.PortLog, fw.logVars, pk.Data())
	case pk.Port() == crtp.PortParam && pk.Channel() == 0:
		fw.handleToc(crtp.PortParam, fw.paramVars, pk.Data())
	case pk.Port() == crtp.PortParam && pk.Channel() == 1:
		fw.handleParamRead(pk.Data())
	case pk.Port() == crtp.PortParam && pk.Channel() == 2:
		fw.handleParamWrite(pk.Data())
	case pk.Port() == crtp.PortLog && pk.Channel() == 1:
		fw.handleLogControl(pk.Data())
	}
}

func (fw *fakeFirmware) handlePlatform(data []byte) {
	if len(data) < 1 {
		return
	}
	switch data[0] {
	case cmdProtocolVersion:
		fw.reply(crtp.PortPlatform, 1, []byte{cmdProtocolVersion, fw.protocolVersion})
	case cmdFirmwareVersion:
		fw.reply(crtp.PortPlatform, 1, append([]byte{cmdFirmwareVersion}, "2024.10"...))
	case cmdDeviceTypeName:
		fw.reply(crtp.PortPlatform, 1, append([]byte{cmdDeviceTypeName}, "CF21"...))
	}
}

// tocCRC derives a deterministic checksum from the variable table so that
// changing the table invalidates caches, the property the real firmware
// checksum exists for.
func tocCRC(vars []fakeVariable) uint32 {
	crc := uint32(0x811C9DC5)
	for _, v := range vars {
		for _, b := range []byte(v.group + "." + v.name + string(v.typeTag)) {
			crc = (crc ^ uint32(b)) * 16777619
		}
	}
	return crc
}

func (fw *fakeFirmware) handleToc(port crtp.Port, vars []fakeVariable, data []byte) {
	if len(data) < 1 {
		return
	}
	switch data[0] {
	case cmdTocInfoV2:
		payload := make([]byte, 7)
		payload[0] = cmdTocInfoV2
		binary.LittleEndian.PutUint16(payload[1:], uint16(len(vars)))
		binary.LittleEndian.PutUint32(payload[3:], tocCRC(vars))
		fw.reply(port, 0, payload)
	case cmdTocItemV2:
		if len(data) < 3 {
			return
		}
		index := binary.LittleEndian.Uint16(data[1:3])
		if int(index) >= len(vars) {
			return
		}
		fw.tocItemRequests.Add(1)
		v := vars[index]
		payload := []byte{cmdTocItemV2, byte(index), byte(index >> 8), v.typeTag}
		payload = append(payload, v.group...)
		payload = append(payload, 0)
		payload = append(payload, v.name...)
		payload = append(payload, 0)
		fw.reply(port, 0, payload)
	}
}

func (fw *fakeFirmware) handleParamRead(data []byte) {
	if len(data) < 2 {
		return
	}
	id := binary.LittleEndian.Uint16(data[0:2])
	fw.mu.Lock()
	value, ok := fw.paramValues[id]
	fw.mu.Unlock()
	if !ok {
		return
	}
	payload := append([]byte{data[0], data[1], 0}, value...)
	fw.reply(crtp.PortParam, 1, payload)
}

func (fw *fakeFirmware) handleParamWrite(data []byte) {
	if len(data) < 3 {
		return
	}
	id := binary.LittleEndian.Uint16(data[0:2])
	value := append([]byte(nil), data[2:]...)
	fw.mu.Lock()
	fw.paramValues[id] = value
	fw.mu.Unlock()
	fw.reply(crtp.PortParam, 2, data)
}

func (fw *fakeFirmware) handleLogControl(data []byte) {
	if len(data) < 1 {
		return
	}
	ack := func(errno byte) {
		echo := byte(0)
		if len(data) > 1 {
			echo = data[1]
		}
		fw.reply(crtp.PortLog, 1, []byte{data[0], echo, errno})
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()
	switch data[0] {
	case cmdResetLog:
		fw.blocks = make(map[byte][]byte)
		fw.started = make(map[byte]byte)
		fw.reply(crtp.PortLog, 1, []byte{cmdResetLog, 0, 0})
	case cmdCreateBlockV2:
		if len(fw.blocks) >= fw.maxBlocks {
			ack(12)
			return
		}
		fw.blocks[data[1]] = nil
		ack(0)
	case cmdAppendBlockV2:
		if _, ok := fw.blocks[data[1]]; !ok {
			ack(2)
			return
		}
		fw.blocks[data[1]] = append(fw.blocks[data[1]], data[2])
		ack(0)
	case cmdStartBlock:
		if _, ok := fw.blocks[data[1]]; !ok {
			ack(2)
			return
		}
		fw.started[data[1]] = data[2]
		ack(0)
	case cmdStopBlock:
		delete(fw.started, data[1])
		ack(0)
	case cmdDeleteBlock:
		if _, ok := fw.blocks[data[1]]; !ok {
			ack(2)
			return
		}
		delete(fw.blocks, data[1])
		delete(fw.started, data[1])
		ack(0)
	}
}

// pushLogData injects one data packet for a block, as the firmware would
// stream it.
func (fw *fakeFirmware) pushLogData(blockID byte, timestamp uint32, values []byte) {
	payload := []byte{blockID, byte(timestamp), byte(timestamp >> 8), byte(timestamp >> 16)}
	fw.reply(crtp.PortLog, 2, append(payload, values...))
}

// pushParamUpdate injects an unsolicited value announcement.
func (fw *fakeFirmware) pushParamUpdate(id uint16, value []byte) {
	payload := []byte{cmdParamValueUpdated, byte(id), byte(id >> 8)}
	fw.reply(crtp.PortParam, 3, append(payload, value...))
}

// pushConsole injects a console text fragment.
func (fw *fakeFirmware) pushConsole(text string) {
	fw.reply(crtp.PortConsole, 0, []byte(text))
}

// startPeriod reports the tick count a block was started with, or -1.
func (fw *fakeFirmware) startPeriod(blockID byte) int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	ticks, ok := fw.started[blockID]
	if !ok {
		return -1
	}
	return int(ticks)
}

func (fw *fakeFirmware) blockCount() int {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	return len(fw.blocks)
}

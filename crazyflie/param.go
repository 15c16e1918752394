package crazyflie

import (
	"bytes"
	"sync"

	"github.com/bitcraze/crazyflie-go/cache"
	"github.com/bitcraze/crazyflie-go/crtp"
)

const (
	paramReadChannel  crtp.Channel = 1
	paramWriteChannel crtp.Channel = 2
	paramMiscChannel  crtp.Channel = 3

	cmdParamValueUpdated byte = 1
)

// type tag: low nibble selects the type, bit 6 marks read-only
var paramTypeOfTag = map[byte]crtp.ValueType{
	0x0: crtp.TypeI8,
	0x1: crtp.TypeI16,
	0x2: crtp.TypeI32,
	0x3: crtp.TypeI64,
	0x5: crtp.TypeF16,
	0x6: crtp.TypeF32,
	0x7: crtp.TypeF64,
	0x8: crtp.TypeU8,
	0x9: crtp.TypeU16,
	0xA: crtp.TypeU32,
	0xB: crtp.TypeU64,
}

func parseParamTypeTag(tag byte) (crtp.ValueType, bool, error) {
	valueType, ok := paramTypeOfTag[tag&0x0F]
	if !ok {
		return 0, false, ErrorBadResponse
	}
	return valueType, tag&0x40 != 0, nil
}

// Update is one parameter change, either acknowledged locally or announced
// by the firmware (another client, or the firmware itself, changed it).
type Update struct {
	Name  string
	Value crtp.Value
}

// Param drives the parameter subsystem: the TOC, the mirrored value table
// and read/write access.
type Param struct {
	d   *dispatcher
	toc *Toc

	readMu  sync.Mutex
	read    chan crtp.Packet
	writeMu sync.Mutex
	write   chan crtp.Packet

	mu       sync.Mutex
	values   map[uint16]crtp.Value
	watchers map[int]chan Update
	nextID   int
}

func newParam(d *dispatcher, store cache.Store) (*Param, error) {
	sub, err := d.subscribe(crtp.PortParam, false)
	if err != nil {
		return nil, err
	}
	chans := d.splitChannels(sub, [4]int{})

	toc, err := fetchToc(d, crtp.PortParam, "param", chans[tocChannel], store, parseParamTypeTag)
	if err != nil {
		return nil, err
	}

	p := &Param{
		d:        d,
		toc:      toc,
		read:     chans[paramReadChannel],
		write:    chans[paramWriteChannel],
		values:   make(map[uint16]crtp.Value, toc.Len()),
		watchers: make(map[int]chan Update),
	}

	// mirror every value up front so Get never needs the radio
	for _, entry := range toc.Entries {
		if _, err := p.readRemote(entry); err != nil {
			return nil, err
		}
	}

	d.wg.Add(1)
	go p.miscLoop(chans[paramMiscChannel])

	return p, nil
}

// Toc returns the fetched parameter directory.
func (p *Param) Toc() *Toc { return p.toc }

// Names lists all parameters as "group.name".
func (p *Param) Names() []string { return p.toc.Names() }

// Type returns the declared type of a parameter.
func (p *Param) Type(name string) (crtp.ValueType, error) {
	entry, ok := p.toc.ByName(name)
	if !ok {
		return 0, ErrorNotFound
	}
	return entry.Type, nil
}

// IsWritable reports whether a parameter accepts writes.
func (p *Param) IsWritable(name string) (bool, error) {
	entry, ok := p.toc.ByName(name)
	if !ok {
		return false, ErrorNotFound
	}
	return !entry.ReadOnly, nil
}

// Get returns the mirrored value without a radio round trip. The mirror is
// kept current by writes and firmware-announced updates.
func (p *Param) Get(name string) (crtp.Value, error) {
	entry, ok := p.toc.ByName(name)
	if !ok {
		return crtp.Value{}, ErrorNotFound
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	value, ok := p.values[entry.ID]
	if !ok {
		return crtp.Value{}, ErrorNotFound
	}
	return value, nil
}

// GetFloat64 is Get through the lossy float64 conversion, convenient for
// display and REST surfaces.
func (p *Param) GetFloat64(name string) (float64, error) {
	value, err := p.Get(name)
	if err != nil {
		return 0, err
	}
	return value.Float64Lossy(), nil
}

// Read fetches the current value from the firmware and refreshes the
// mirror. Get is almost always what callers want instead.
func (p *Param) Read(name string) (crtp.Value, error) {
	if err := p.d.ensureOpen(); err != nil {
		return crtp.Value{}, err
	}
	entry, ok := p.toc.ByName(name)
	if !ok {
		return crtp.Value{}, ErrorNotFound
	}
	return p.readRemote(entry)
}

func (p *Param) readRemote(entry TocEntry) (crtp.Value, error) {
	p.readMu.Lock()
	defer p.readMu.Unlock()

	id := []byte{byte(entry.ID), byte(entry.ID >> 8)}
	pk := crtp.MustPacket(crtp.PortParam, paramReadChannel, id)
	resp, err := p.d.request(p.read, pk, id)
	if err != nil {
		return crtp.Value{}, err
	}
	// response: id echo, status byte, then the raw value
	data := resp.Data()
	if len(data) < 3+entry.Type.ByteLength() {
		return crtp.Value{}, ErrorBadResponse
	}
	value, err := crtp.ValueFromBytes(entry.Type, data[3:3+entry.Type.ByteLength()])
	if err != nil {
		return crtp.Value{}, ErrorBadResponse
	}
	p.store(entry, value)
	return value, nil
}

// Set writes a parameter. Unknown names, type mismatches and read-only
// targets are rejected locally before anything is sent. The firmware's ack
// echoes the stored value; an echo that differs from what was sent means
// the firmware clamped or refused it.
func (p *Param) Set(name string, value crtp.Value) error {
	entry, ok := p.toc.ByName(name)
	if !ok {
		return ErrorNotFound
	}
	if value.Type != entry.Type {
		return ErrorTypeMismatch
	}
	if entry.ReadOnly {
		return ErrorAccessDenied
	}
	if err := p.d.ensureOpen(); err != nil {
		return err
	}

	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	id := []byte{byte(entry.ID), byte(entry.ID >> 8)}
	pk := crtp.MustPacket(crtp.PortParam, paramWriteChannel, append(id, value.Bytes()...))
	resp, err := p.d.request(p.write, pk, id)
	if err != nil {
		return err
	}
	data := resp.Data()
	if len(data) < 2+entry.Type.ByteLength() {
		return ErrorBadResponse
	}
	if !bytes.Equal(data[2:2+entry.Type.ByteLength()], value.Bytes()) {
		return ErrorParamRejected
	}

	p.store(entry, value)
	return nil
}

// SetFloat64 is Set through the variable's declared type, losing precision
// where the type demands it.
func (p *Param) SetFloat64(name string, value float64) error {
	entry, ok := p.toc.ByName(name)
	if !ok {
		return ErrorNotFound
	}
	return p.Set(name, crtp.ValueFromFloat64Lossy(entry.Type, value))
}

// Watch returns a stream of parameter updates and a cancel function. The
// stream carries both acknowledged local writes and firmware-announced
// changes. Slow consumers lose the oldest updates, never block the
// connection.
func (p *Param) Watch() (<-chan Update, func()) {
	ch := make(chan Update, p.d.cfg.DataQueueSize)

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.watchers[id] = ch
	p.mu.Unlock()

	cancel := func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if _, ok := p.watchers[id]; ok {
			delete(p.watchers, id)
			close(ch)
		}
	}
	return ch, cancel
}

// store refreshes the mirror and notifies watchers of an actual change.
func (p *Param) store(entry TocEntry, value crtp.Value) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if old, ok := p.values[entry.ID]; ok && old == value {
		return
	}
	p.values[entry.ID] = value

	update := Update{Name: entry.FullName(), Value: value}
	for _, ch := range p.watchers {
		select {
		case ch <- update:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- update:
		default:
		}
	}
}

// miscLoop applies unsolicited value announcements, sent when a parameter
// changes without this client asking (another client, or the firmware).
func (p *Param) miscLoop(misc <-chan crtp.Packet) {
	defer p.d.wg.Done()
	for {
		select {
		case pk := <-misc:
			data := pk.Data()
			if len(data) < 3 || data[0] != cmdParamValueUpdated {
				continue
			}
			id := uint16(data[1]) | uint16(data[2])<<8
			entry, ok := p.toc.ByID(id)
			if !ok || len(data) < 3+entry.Type.ByteLength() {
				continue
			}
			value, err := crtp.ValueFromBytes(entry.Type, data[3:3+entry.Type.ByteLength()])
			if err != nil {
				continue
			}
			p.store(entry, value)
		case <-p.d.closed():
			p.mu.Lock()
			for id, ch := range p.watchers {
				delete(p.watchers, id)
				close(ch)
			}
			p.mu.Unlock()
			return
		}
	}
}

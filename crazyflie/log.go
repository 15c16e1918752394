package crazyflie

import (
	"log"
	"math"
	"sync"
	"time"

	"github.com/bitcraze/crazyflie-go/cache"
	"github.com/bitcraze/crazyflie-go/crtp"
)

const (
	logControlChannel crtp.Channel = 1
	logDataChannel    crtp.Channel = 2

	cmdDeleteBlock   byte = 2
	cmdStartBlock    byte = 3
	cmdStopBlock     byte = 4
	cmdResetLog      byte = 5
	cmdCreateBlockV2 byte = 6
	cmdAppendBlockV2 byte = 7
)

// maxBlockBytes is the per-sample byte budget of one log block: a data
// packet carries block id (1) + timestamp (3) + values in a 30 byte
// payload. A hardware constraint, checked locally before any round trip.
const maxBlockBytes = crtp.MaxPayloadLen - 4

// firmware type tags on the log port
var logTypeTag = map[crtp.ValueType]byte{
	crtp.TypeU8:  1,
	crtp.TypeU16: 2,
	crtp.TypeU32: 3,
	crtp.TypeI8:  4,
	crtp.TypeI16: 5,
	crtp.TypeI32: 6,
	crtp.TypeF32: 7,
	crtp.TypeF16: 8,
}

func parseLogTypeTag(tag byte) (crtp.ValueType, bool, error) {
	for valueType, t := range logTypeTag {
		if t == tag {
			return valueType, false, nil
		}
	}
	return 0, false, ErrorBadResponse
}

func logControlErrno(errno byte) error {
	switch errno {
	case 0:
		return nil
	case 2:
		return ErrorNotFound
	case 7:
		return ErrorTooManyVariables
	case 12:
		return ErrorNoMemory
	default:
		return ErrorUnknown
	}
}

// Sample is one decoded log block sample. A schema/width mismatch in the
// received payload surfaces as a sample with Err set; the stream continues
// afterwards.
type Sample struct {
	BlockID   uint8
	Timestamp uint32 // firmware milliseconds, 24-bit counter
	Data      map[string]crtp.Value
	Err       error
}

// Log drives the log subsystem: the variable TOC, block management and the
// decoded sample streams.
type Log struct {
	d   *dispatcher
	toc *Toc

	controlMu sync.Mutex
	control   chan crtp.Packet

	mu     sync.Mutex
	blocks map[uint8]*LogBlock
}

func newLog(d *dispatcher, store cache.Store) (*Log, error) {
	sub, err := d.subscribe(crtp.PortLog, true)
	if err != nil {
		return nil, err
	}
	chans := d.splitChannels(sub, [4]int{0, 0, d.cfg.DataQueueSize, 0})

	toc, err := fetchToc(d, crtp.PortLog, "log", chans[tocChannel], store, parseLogTypeTag)
	if err != nil {
		return nil, err
	}

	l := &Log{
		d:       d,
		toc:     toc,
		control: chans[logControlChannel],
		blocks:  make(map[uint8]*LogBlock),
	}

	// clear any block a previous (crashed) client left armed
	if err := l.reset(); err != nil {
		return nil, err
	}

	d.wg.Add(1)
	go l.dataLoop(chans[logDataChannel])

	return l, nil
}

// Toc returns the fetched log variable directory.
func (l *Log) Toc() *Toc { return l.toc }

// Names lists all log variables as "group.name".
func (l *Log) Names() []string { return l.toc.Names() }

// Type returns the declared type of a log variable.
func (l *Log) Type(name string) (crtp.ValueType, error) {
	entry, ok := l.toc.ByName(name)
	if !ok {
		return 0, ErrorNotFound
	}
	return entry.Type, nil
}

func (l *Log) control1(payload []byte) (byte, error) {
	l.controlMu.Lock()
	defer l.controlMu.Unlock()

	pk := crtp.MustPacket(crtp.PortLog, logControlChannel, payload)
	resp, err := l.d.request(l.control, pk, payload[:2])
	if err != nil {
		return 0, err
	}
	if len(resp.Data()) < 3 {
		return 0, ErrorBadResponse
	}
	return resp.Data()[2], nil
}

func (l *Log) reset() error {
	l.controlMu.Lock()
	defer l.controlMu.Unlock()

	pk := crtp.MustPacket(crtp.PortLog, logControlChannel, []byte{cmdResetLog})
	_, err := l.d.request(l.control, pk, []byte{cmdResetLog})
	return err
}

// CreateBlock registers a block of variables with the firmware and returns
// its handle. The per-sample byte budget is checked before anything is
// sent: a block that cannot fit one data packet fails with
// ErrorTooManyVariables without a round trip.
func (l *Log) CreateBlock(names ...string) (*LogBlock, error) {
	if err := l.d.ensureOpen(); err != nil {
		return nil, err
	}

	variables := make([]TocEntry, len(names))
	budget := 0
	for i, name := range names {
		entry, ok := l.toc.ByName(name)
		if !ok {
			return nil, ErrorNotFound
		}
		variables[i] = entry
		budget += entry.Type.ByteLength()
	}
	if budget > maxBlockBytes {
		return nil, ErrorTooManyVariables
	}

	l.mu.Lock()
	id, ok := l.freeBlockID()
	if !ok {
		l.mu.Unlock()
		return nil, ErrorNoMemory
	}
	block := &LogBlock{
		log:       l,
		id:        id,
		variables: variables,
		samples:   make(chan Sample, l.d.cfg.DataQueueSize),
	}
	l.blocks[id] = block
	l.mu.Unlock()

	if err := l.registerBlock(block); err != nil {
		l.mu.Lock()
		delete(l.blocks, id)
		l.mu.Unlock()
		return nil, err
	}

	return block, nil
}

// caller holds l.mu
func (l *Log) freeBlockID() (uint8, bool) {
	for id := 0; id < 256; id++ {
		if _, taken := l.blocks[uint8(id)]; !taken {
			return uint8(id), true
		}
	}
	return 0, false
}

// one create command, then one append command per variable: the create
// payload has room for a single id at most
func (l *Log) registerBlock(b *LogBlock) error {
	errno, err := l.control1([]byte{cmdCreateBlockV2, b.id})
	if err != nil {
		return err
	}
	if err := logControlErrno(errno); err != nil {
		return err
	}

	for _, v := range b.variables {
		payload := []byte{cmdAppendBlockV2, b.id, logTypeTag[v.Type], byte(v.ID), byte(v.ID >> 8)}
		errno, err := l.control1(payload)
		if err != nil {
			return err
		}
		if err := logControlErrno(errno); err != nil {
			return err
		}
	}
	return nil
}

// dataLoop decodes streamed samples and fans them out per block. It is the
// only sender on the per-block channels, so it also closes them when the
// connection ends.
func (l *Log) dataLoop(data <-chan crtp.Packet) {
	defer l.d.wg.Done()
	for {
		select {
		case pk := <-data:
			l.dispatchSample(pk)
		case <-l.d.closed():
			l.mu.Lock()
			for _, b := range l.blocks {
				close(b.samples)
			}
			l.blocks = make(map[uint8]*LogBlock)
			l.mu.Unlock()
			return
		}
	}
}

func (l *Log) dispatchSample(pk crtp.Packet) {
	data := pk.Data()
	if len(data) < 4 {
		log.Printf("crazyflie: dropping short log data packet (%d bytes)", len(data))
		return
	}
	id := data[0]

	l.mu.Lock()
	block := l.blocks[id]
	l.mu.Unlock()
	if block == nil {
		log.Printf("crazyflie: log data for unknown block %d", id)
		return
	}

	block.push(block.decode(data))
}

// LogBlock is a host-defined group of variables sampled together. Created
// stopped; Start arms it, Close deletes it firmware-side and releases the
// sample stream.
type LogBlock struct {
	log       *Log
	id        uint8
	variables []TocEntry
	samples   chan Sample

	mu      sync.Mutex
	started bool
	closed  bool
}

func (b *LogBlock) ID() uint8 { return b.id }

// Variables returns the block's schema in declared order.
func (b *LogBlock) Variables() []TocEntry {
	out := make([]TocEntry, len(b.variables))
	copy(out, b.variables)
	return out
}

// Samples is the decoded sample stream. Push-driven: a late consumer sees
// the newest samples, the oldest unread ones are dropped on overflow. The
// channel closes on disconnect.
func (b *LogBlock) Samples() <-chan Sample { return b.samples }

// Start arms periodic sampling. The period is quantized to the firmware's
// 10 ms ticks and carried in one byte on the wire, so anything outside
// 10 ms to 2550 ms is rejected.
func (b *LogBlock) Start(period time.Duration) error {
	ticks := int(math.Floor(period.Seconds()*100.0 + 0.5))
	if ticks < 1 {
		return ErrorPeriodTooShort
	}
	if ticks > 255 {
		return ErrorPeriodTooLong
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrorNotFound
	}
	if b.started {
		b.mu.Unlock()
		return ErrorBlockStarted
	}
	b.mu.Unlock()

	errno, err := b.log.control1([]byte{cmdStartBlock, b.id, byte(ticks)})
	if err != nil {
		return err
	}
	if err := logControlErrno(errno); err != nil {
		return err
	}

	b.mu.Lock()
	b.started = true
	b.mu.Unlock()
	return nil
}

// Stop disarms sampling. Best effort: when the link is already gone the
// local state is still cleared. Stopping a closed block is a no-op, the
// firmware side was already deleted.
func (b *LogBlock) Stop() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.mu.Unlock()

	errno, err := b.log.control1([]byte{cmdStopBlock, b.id})
	if err != nil {
		return err
	}
	return logControlErrno(errno)
}

// Close stops the block if needed and deletes it firmware-side. The local
// entry is removed even if the delete cannot be delivered.
func (b *LogBlock) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.started = false
	b.mu.Unlock()

	b.log.mu.Lock()
	if b.log.blocks[b.id] == b {
		delete(b.log.blocks, b.id)
		close(b.samples)
	}
	b.log.mu.Unlock()

	errno, err := b.log.control1([]byte{cmdDeleteBlock, b.id})
	if err != nil {
		return err
	}
	return logControlErrno(errno)
}

// data packet: block id, 24-bit le timestamp, values back to back in the
// block's declared order
func (b *LogBlock) decode(data []byte) Sample {
	sample := Sample{
		BlockID:   data[0],
		Timestamp: uint32(data[1]) | uint32(data[2])<<8 | uint32(data[3])<<16,
	}

	values := data[4:]
	want := 0
	for _, v := range b.variables {
		want += v.Type.ByteLength()
	}
	if len(values) != want {
		sample.Err = ErrorBadResponse
		return sample
	}

	sample.Data = make(map[string]crtp.Value, len(b.variables))
	offset := 0
	for _, v := range b.variables {
		width := v.Type.ByteLength()
		value, err := crtp.ValueFromBytes(v.Type, values[offset:offset+width])
		if err != nil {
			sample.Data = nil
			sample.Err = err
			return sample
		}
		sample.Data[v.FullName()] = value
		offset += width
	}
	return sample
}

// push delivers under the drop-oldest policy, never blocking the decoder.
func (b *LogBlock) push(s Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.samples <- s:
		return
	default:
	}
	select {
	case <-b.samples:
	default:
	}
	select {
	case b.samples <- s:
	default:
	}
}

package crazyflie

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log"
	"sort"

	"github.com/bitcraze/crazyflie-go/cache"
	"github.com/bitcraze/crazyflie-go/crtp"
)

// TOC protocol, shared by the log and param subsystems. Channel 0 of each
// port carries the same two commands (the V2 variants with 16-bit ids).
const (
	tocChannel   crtp.Channel = 0
	cmdTocItemV2 byte         = 2
	cmdTocInfoV2 byte         = 3
)

// bumped when the cached serialization changes
const tocCacheVersion = 1

// TocEntry describes one firmware-defined variable.
type TocEntry struct {
	ID       uint16
	Group    string
	Name     string
	Type     crtp.ValueType
	ReadOnly bool
}

func (e TocEntry) FullName() string { return e.Group + "." + e.Name }

// Toc is the fetched table of contents. Immutable after construction and
// freely shared without synchronization.
type Toc struct {
	CRC     uint32
	Entries []TocEntry

	byName map[string]int
	byID   map[uint16]int
}

func newToc(crc uint32, entries []TocEntry) *Toc {
	t := &Toc{CRC: crc, Entries: entries}
	t.index()
	return t
}

func (t *Toc) index() {
	t.byName = make(map[string]int, len(t.Entries))
	t.byID = make(map[uint16]int, len(t.Entries))
	for i, e := range t.Entries {
		t.byName[e.FullName()] = i
		t.byID[e.ID] = i
	}
}

func (t *Toc) Len() int { return len(t.Entries) }

func (t *Toc) ByName(name string) (TocEntry, bool) {
	i, ok := t.byName[name]
	if !ok {
		return TocEntry{}, false
	}
	return t.Entries[i], true
}

func (t *Toc) ByID(id uint16) (TocEntry, bool) {
	i, ok := t.byID[id]
	if !ok {
		return TocEntry{}, false
	}
	return t.Entries[i], true
}

// Names returns the "group.name" identifiers, sorted.
func (t *Toc) Names() []string {
	names := make([]string, 0, len(t.Entries))
	for _, e := range t.Entries {
		names = append(names, e.FullName())
	}
	sort.Strings(names)
	return names
}

// cachedToc is the gob payload written to the cache store.
type cachedToc struct {
	Version int
	CRC     uint32
	Entries []TocEntry
}

// typeParser decodes a subsystem's type tag byte into a value type and an
// access flag. Log and param encode these differently.
type typeParser func(tag byte) (crtp.ValueType, bool, error)

// fetchToc runs the TOC exchange for one port: info first, then a
// sequential item fetch unless the checksum hits the cache. A decode error
// aborts the fetch since an inconsistent TOC is worse than no connection.
func fetchToc(d *dispatcher, port crtp.Port, kind string, rx <-chan crtp.Packet, store cache.Store, parse typeParser) (*Toc, error) {
	info := crtp.MustPacket(port, tocChannel, []byte{cmdTocInfoV2})
	resp, err := d.request(rx, info, []byte{cmdTocInfoV2})
	if err != nil {
		return nil, err
	}
	if len(resp.Data()) < 7 {
		return nil, ErrorBadResponse
	}
	count := binary.LittleEndian.Uint16(resp.Data()[1:3])
	crc := binary.LittleEndian.Uint32(resp.Data()[3:7])

	if store != nil {
		var cached cachedToc
		err := store.Load(kind, crc, &cached)
		switch {
		case err == nil && cached.Version == tocCacheVersion && cached.CRC == crc:
			log.Printf("crazyflie: %s TOC of %d entries restored from cache (crc %08X)", kind, len(cached.Entries), crc)
			return newToc(crc, cached.Entries), nil
		case err != nil && !errors.Is(err, cache.ErrMiss):
			log.Printf("crazyflie: %s TOC cache read failed: %s", kind, err)
		}
	}

	entries := make([]TocEntry, 0, count)
	for i := uint16(0); i < count; i++ {
		prefix := []byte{cmdTocItemV2, byte(i), byte(i >> 8)}
		item := crtp.MustPacket(port, tocChannel, prefix)
		resp, err := d.request(rx, item, prefix)
		if err != nil {
			return nil, err
		}
		entry, err := parseTocItem(resp.Data(), parse)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	if store != nil {
		err := store.Save(kind, crc, &cachedToc{Version: tocCacheVersion, CRC: crc, Entries: entries})
		if err != nil {
			log.Printf("crazyflie: %s TOC cache write failed: %s", kind, err)
		}
	}

	log.Printf("crazyflie: fetched %s TOC of %d entries (crc %08X)", kind, len(entries), crc)
	return newToc(crc, entries), nil
}

// item response: cmd, id (le16), type tag, group\0name\0
func parseTocItem(data []byte, parse typeParser) (TocEntry, error) {
	if len(data) < 6 {
		return TocEntry{}, ErrorBadResponse
	}
	id := binary.LittleEndian.Uint16(data[1:3])

	valueType, readOnly, err := parse(data[3])
	if err != nil {
		return TocEntry{}, err
	}

	names := bytes.Split(data[4:], []byte{0})
	if len(names) < 2 {
		return TocEntry{}, ErrorBadResponse
	}

	return TocEntry{
		ID:       id,
		Group:    string(names[0]),
		Name:     string(names[1]),
		Type:     valueType,
		ReadOnly: readOnly,
	}, nil
}

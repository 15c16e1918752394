// Package cache stores fetched tables of contents keyed by the firmware's
// TOC checksum. Fetching a TOC item by item is expensive on the radio link,
// and the firmware TOC rarely changes, so a hit here removes the whole
// per-item exchange from the connection sequence.
package cache

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/mitchellh/go-homedir"
)

// ErrMiss is returned by Load when no entry exists for the checksum.
var ErrMiss = errors.New("cache: no entry for checksum")

// Store is the cache boundary used by the connection sequence. Kind
// separates the log and param namespaces, crc is the firmware checksum.
// Implementations must be safe for concurrent use: log and param TOC
// fetches run in parallel.
type Store interface {
	Load(kind string, crc uint32, v interface{}) error
	Save(kind string, crc uint32, v interface{}) error
}

// Dir is a Store writing one gob file per checksum under a directory,
// surviving application restarts.
type Dir struct {
	path string
}

// DefaultDir opens the per-user cache directory, creating it if needed.
func DefaultDir() (*Dir, error) {
	home, err := homedir.Dir()
	if err != nil {
		return nil, err
	}
	return OpenDir(home + "/.crazyflie-go-cache")
}

func OpenDir(path string) (*Dir, error) {
	if err := os.MkdirAll(path, 0777); err != nil {
		return nil, err
	}
	return &Dir{path: path}, nil
}

func (d *Dir) filename(kind string, crc uint32) string {
	return fmt.Sprintf("%s/%X.%scache", d.path, crc, kind)
}

func (d *Dir) Load(kind string, crc uint32, v interface{}) error {
	file, err := os.Open(d.filename(kind, crc))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrMiss
		}
		return err
	}
	defer file.Close()

	return gob.NewDecoder(file).Decode(v)
}

func (d *Dir) Save(kind string, crc uint32, v interface{}) error {
	file, err := os.OpenFile(d.filename(kind, crc), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
	if err != nil {
		return err
	}
	defer file.Close()

	return gob.NewEncoder(file).Encode(v)
}

// Memory is a process-lifetime Store. It is the default for the library:
// reconnects within one process skip the TOC fetch, and tests can inject a
// fresh instance to isolate themselves.
type Memory struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func memoryKey(kind string, crc uint32) string {
	return fmt.Sprintf("%s/%X", kind, crc)
}

func (m *Memory) Load(kind string, crc uint32, v interface{}) error {
	m.mu.Lock()
	buf, ok := m.entries[memoryKey(kind, crc)]
	m.mu.Unlock()
	if !ok {
		return ErrMiss
	}
	return gob.NewDecoder(bytes.NewReader(buf)).Decode(v)
}

func (m *Memory) Save(kind string, crc uint32, v interface{}) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return err
	}
	m.mu.Lock()
	m.entries[memoryKey(kind, crc)] = buf.Bytes()
	m.mu.Unlock()
	return nil
}

package overlay

import (
	"strings"
	"sync"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// KV is the session-scoped key-value port the overlay store persists
// through. Implementations must treat a missing key as absent, never as
// an error, so staged state is always rebuildable from empty.
type KV interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte) error
	Delete(key string)
	Keys() []string
}

// MemoryKV is an in-memory KV adapter. It backs tests and sessions
// running without a data directory.
type MemoryKV struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{values: make(map[string][]byte)}
}

func (m *MemoryKV) Get(key string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok
}

func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(value))
	copy(buf, value)
	m.values[key] = buf
	return nil
}

func (m *MemoryKV) Delete(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
}

func (m *MemoryKV) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	return keys
}

// FileKV persists keys as files in one directory of a billy filesystem.
// Production uses osfs rooted at the session's data directory; tests use
// memfs. Writes go through a temp file and rename so a crashed write
// leaves the previous value intact.
type FileKV struct {
	mu sync.Mutex
	fs billy.Filesystem
}

const fileKVSuffix = ".json"

// NewFileKV creates a KV over the root of fs.
func NewFileKV(fs billy.Filesystem) *FileKV {
	return &FileKV{fs: fs}
}

func (f *FileKV) Get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, err := util.ReadFile(f.fs, key+fileKVSuffix)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (f *FileKV) Set(key string, value []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tmp := key + fileKVSuffix + ".tmp"
	if err := util.WriteFile(f.fs, tmp, value, 0o600); err != nil {
		return err
	}
	return f.fs.Rename(tmp, key+fileKVSuffix)
}

func (f *FileKV) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_ = f.fs.Remove(key + fileKVSuffix)
}

func (f *FileKV) Keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	entries, err := f.fs.ReadDir(".")
	if err != nil {
		return nil
	}
	var keys []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, fileKVSuffix) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, fileKVSuffix))
	}
	return keys
}

package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/runninghub-studio/studio/internal/logger"
)

// KV is a flat string keyed store of JSON documents.
type KV interface {
	Get(key string) (json.RawMessage, bool, error)
	Set(key string, value json.RawMessage) error
	Delete(keys ...string) error
	// Keys lists the keys starting with prefix in lexical order.
	Keys(prefix string) ([]string, error)
}

// MemoryKV keeps everything in process memory.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage
}

func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]json.RawMessage)}
}

func (m *MemoryKV) Get(key string) (json.RawMessage, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), v...), true, nil
}

func (m *MemoryKV) Set(key string, value json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append(json.RawMessage(nil), value...)
	return nil
}

func (m *MemoryKV) Delete(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *MemoryKV) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return matchingKeys(m.data, prefix), nil
}

// FileKV is a MemoryKV mirrored to a single JSON object file. Every write is
// flushed before it returns.
type FileKV struct {
	path string

	mu   sync.Mutex
	data map[string]json.RawMessage
}

// OpenFileKV loads path, creating its directory when needed. A missing file is
// an empty store.
func OpenFileKV(path string) (*FileKV, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("store: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: ensure directory: %w", err)
	}
	kv := &FileKV{path: path, data: make(map[string]json.RawMessage)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return kv, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return kv, nil
	}
	if err := json.Unmarshal(raw, &kv.data); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}
	// Stored values are kept compact.
	for k, v := range kv.data {
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return nil, fmt.Errorf("store: decode %s: key %q: %w", path, k, err)
		}
		kv.data[k] = buf.Bytes()
	}
	return kv, nil
}

func (f *FileKV) Path() string {
	return f.path
}

func (f *FileKV) Get(key string) (json.RawMessage, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, false, nil
	}
	return append(json.RawMessage(nil), v...), true, nil
}

func (f *FileKV) Set(key string, value json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var buf bytes.Buffer
	if err := json.Compact(&buf, value); err != nil {
		return fmt.Errorf("store: encode %q: %w", key, err)
	}
	prev, had := f.data[key]
	f.data[key] = buf.Bytes()
	if err := f.flush(); err != nil {
		if had {
			f.data[key] = prev
		} else {
			delete(f.data, key)
		}
		return err
	}
	return nil
}

func (f *FileKV) Delete(keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	changed := false
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return f.flush()
}

func (f *FileKV) Keys(prefix string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return matchingKeys(f.data, prefix), nil
}

// flush writes a temp file next to path and renames it over path.
func (f *FileKV) flush() error {
	raw, err := json.Marshal(f.data)
	if err != nil {
		return fmt.Errorf("store: encode: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("store: write file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("store: replace file: %w", err)
	}
	return nil
}

func matchingKeys(data map[string]json.RawMessage, prefix string) []string {
	keys := make([]string, 0, len(data))
	for k := range data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// load decodes key into v. A missing or undecodable value leaves v untouched
// and reports false.
func load(kv KV, key string, v interface{}) (bool, error) {
	raw, ok, err := kv.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		logger.Warnf("store: ignoring undecodable value of %s: %v", key, err)
		return false, nil
	}
	return true, nil
}

func save(kv KV, key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return kv.Set(key, raw)
}

func accountKey(prefix, account string) string {
	if account == "" {
		account = GuestAccount
	}
	return prefix + ":" + account
}

// isBlobURL reports browser object URLs, which do not survive a reload.
func isBlobURL(u string) bool {
	return strings.HasPrefix(u, "blob:")
}

package objectstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Gateway. ListingLag hides objects written less than
// the lag ago from List, emulating an eventually consistent listing.
type Memory struct {
	mu         sync.Mutex
	objects    map[string]memoryObject
	faults     map[faultKey]error
	now        func() time.Time
	ListingLag time.Duration
}

type memoryObject struct {
	data        []byte
	contentType string
	written     time.Time
}

type faultKey struct {
	op  string
	key string
}

// Fault operations accepted by InjectFault.
const (
	OpList   = "list"
	OpRead   = "read"
	OpWrite  = "write"
	OpDelete = "delete"
)

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		objects: make(map[string]memoryObject),
		faults:  make(map[faultKey]error),
		now:     time.Now,
	}
}

// SetClock overrides the time source used for listing lag.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// InjectFault makes op fail with err for keys starting with keyPrefix until cleared
// with a nil err.
func (m *Memory) InjectFault(op, keyPrefix string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fk := faultKey{op: op, key: keyPrefix}
	if err == nil {
		delete(m.faults, fk)
		return
	}
	m.faults[fk] = err
}

func (m *Memory) fault(op, key string) error {
	for fk, err := range m.faults {
		if fk.op == op && strings.HasPrefix(key, fk.key) {
			return err
		}
	}
	return nil
}

// Put stores raw bytes without validation.
func (m *Memory) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: ContentTypeJSON, written: m.now()}
}

// Get returns raw bytes and content type.
func (m *Memory) Get(key string) ([]byte, string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}

// Keys returns every stored key, ignoring listing lag.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Memory) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpList, prefix); err != nil {
		return nil, err
	}
	cutoff := m.now().Add(-m.ListingLag)
	keys := make([]string, 0)
	for k, obj := range m.objects {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if m.ListingLag > 0 && obj.written.After(cutoff) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpRead, key); err != nil {
		return nil, err
	}
	obj, ok := m.objects[key]
	if !ok {
		return nil, notFound(key)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *Memory) ReadJSON(ctx context.Context, key string) (Payload, error) {
	data, err := m.ReadBytes(ctx, key)
	if err != nil {
		return nil, err
	}
	return DecodePayload(key, data)
}

func (m *Memory) WriteJSON(ctx context.Context, key string, payload Payload) error {
	data, err := EncodePayload(payload)
	if err != nil {
		return err
	}
	return m.WriteBinary(ctx, key, data, ContentTypeJSON)
}

func (m *Memory) WriteBinary(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpWrite, key); err != nil {
		return err
	}
	m.objects[key] = memoryObject{data: append([]byte(nil), data...), contentType: contentType, written: m.now()}
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fault(OpDelete, key); err != nil {
		return err
	}
	delete(m.objects, key)
	return nil
}

func (m *Memory) Close() error { return nil }

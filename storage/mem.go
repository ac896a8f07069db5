package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/IgorGanapolsky/iot-provisioning-auth/interfaces"
)

// MemStore keeps enrollment records in process memory. It backs tests and
// single-node deployments that do not need persistence.
type MemStore struct {
	mu      sync.RWMutex
	records map[interfaces.RecordKind]map[string][]byte
}

// NewMemStore creates an empty in-memory record store.
func NewMemStore() *MemStore {
	return &MemStore{
		records: map[interfaces.RecordKind]map[string][]byte{
			interfaces.IndividualRecord: {},
			interfaces.GroupRecord:      {},
		},
	}
}

// Fetch retrieves a record from memory.
func (m *MemStore) Fetch(ctx context.Context, kind interfaces.RecordKind, id string) ([]byte, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.records[kind][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", interfaces.ErrRecordNotFound, kind, id)
	}

	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Store saves a record in memory, replacing any previous version.
func (m *MemStore) Store(ctx context.Context, kind interfaces.RecordKind, id string, data []byte) error {
	if err := kind.Validate(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("%w: empty record id", interfaces.ErrInvalidArgument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.records[kind][id] = stored
	return nil
}

// Delete removes a record from memory.
func (m *MemStore) Delete(ctx context.Context, kind interfaces.RecordKind, id string) error {
	if err := kind.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[kind][id]; !ok {
		return fmt.Errorf("%w: %s %s", interfaces.ErrRecordNotFound, kind, id)
	}
	delete(m.records[kind], id)
	return nil
}

// List returns the identifiers stored under a kind, sorted.
func (m *MemStore) List(ctx context.Context, kind interfaces.RecordKind) ([]string, error) {
	if err := kind.Validate(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.records[kind]))
	for id := range m.records[kind] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Available always reports true for the in-memory store.
func (m *MemStore) Available(ctx context.Context) bool {
	return true
}

// Name returns identifier for logging.
func (m *MemStore) Name() string {
	return "mem"
}

// LocationURI returns URI identifying this store.
func (m *MemStore) LocationURI() string {
	return "mem://"
}

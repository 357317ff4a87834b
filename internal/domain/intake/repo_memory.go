package intake

import (
	"context"
	"sort"
	"sync"
)

// memoryRecordRepo keeps records in process memory. Selected when no
// DATABASE_URL is configured; also backs the package tests.
type memoryRecordRepo struct {
	mu    sync.RWMutex
	store map[string]*PatientRecord
}

func NewMemoryRecordRepo() RecordRepository {
	return &memoryRecordRepo{store: make(map[string]*PatientRecord)}
}

func (m *memoryRecordRepo) GetOrCreate(_ context.Context, patientID string) (*PatientRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.store[patientID]; ok {
		return rec, nil
	}
	rec := NewPatientRecord(patientID)
	m.store[patientID] = rec
	return rec, nil
}

func (m *memoryRecordRepo) Get(_ context.Context, patientID string) (*PatientRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.store[patientID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	return rec, nil
}

func (m *memoryRecordRepo) Save(_ context.Context, rec *PatientRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store[rec.PatientID] = rec
	return nil
}

func (m *memoryRecordRepo) List(_ context.Context, limit, offset int) ([]*PatientRecord, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.store))
	for id := range m.store {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	total := len(ids)
	if offset >= total {
		return []*PatientRecord{}, total, nil
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}

	out := make([]*PatientRecord, 0, end-offset)
	for _, id := range ids[offset:end] {
		out = append(out, m.store[id])
	}
	return out, total, nil
}

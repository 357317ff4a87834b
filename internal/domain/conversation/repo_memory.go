package conversation

import (
	"context"
	"sync"
)

// memoryMessageRepo keeps the conversation log in process memory, in
// append order. Selected when no DATABASE_URL is configured; also backs
// the package tests.
type memoryMessageRepo struct {
	mu   sync.RWMutex
	msgs []*Message
}

func NewMemoryMessageRepo() MessageRepository {
	return &memoryMessageRepo{}
}

func (m *memoryMessageRepo) Append(_ context.Context, msgs ...*Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msgs...)
	return nil
}

func (m *memoryMessageRepo) ListByConversation(_ context.Context, conversationID string, limit, offset int) ([]*Message, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*Message
	for _, msg := range m.msgs {
		if msg.ConversationID == conversationID {
			all = append(all, msg)
		}
	}
	page, total := pageOf(all, limit, offset)
	return page, total, nil
}

func (m *memoryMessageRepo) ListByPatient(_ context.Context, patientID string, limit, offset int) ([]*Message, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var all []*Message
	for _, msg := range m.msgs {
		if msg.PatientID == patientID {
			all = append(all, msg)
		}
	}
	page, total := pageOf(all, limit, offset)
	return page, total, nil
}

func pageOf(all []*Message, limit, offset int) ([]*Message, int) {
	total := len(all)
	if offset >= total {
		return []*Message{}, total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return all[offset:end], total
}

package conversation

import (
	"context"
	"errors"
)

var ErrConversationNotFound = errors.New("conversation: not found")

// MessageRepository persists interview messages in arrival order.
type MessageRepository interface {
	Append(ctx context.Context, msgs ...*Message) error
	ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*Message, int, error)
	ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Message, int, error)
}

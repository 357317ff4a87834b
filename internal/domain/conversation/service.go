package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service records and serves the interview conversation log.
type Service struct {
	repo MessageRepository
}

func NewService(repo MessageRepository) *Service {
	return &Service{repo: repo}
}

// AppendExchange records one completed turn as a patient message
// followed by the bot response.
func (s *Service) AppendExchange(ctx context.Context, conversationID, patientID, section, userMessage, botResponse string) error {
	if strings.TrimSpace(conversationID) == "" {
		return fmt.Errorf("conversation_id is required")
	}
	now := time.Now().UTC()
	return s.repo.Append(ctx,
		&Message{
			ID:             uuid.New(),
			ConversationID: conversationID,
			PatientID:      patientID,
			Speaker:        SpeakerPatient,
			Content:        userMessage,
			Section:        section,
			CreatedAt:      now,
		},
		&Message{
			ID:             uuid.New(),
			ConversationID: conversationID,
			PatientID:      patientID,
			Speaker:        SpeakerBot,
			Content:        botResponse,
			Section:        section,
			CreatedAt:      now,
		})
}

// History returns one conversation's messages in the order spoken.
func (s *Service) History(ctx context.Context, conversationID string, limit, offset int) ([]*Message, int, error) {
	msgs, total, err := s.repo.ListByConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return nil, 0, ErrConversationNotFound
	}
	return msgs, total, nil
}

// PatientMessages returns every recorded message for a patient across
// all of their conversations.
func (s *Service) PatientMessages(ctx context.Context, patientID string, limit, offset int) ([]*Message, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

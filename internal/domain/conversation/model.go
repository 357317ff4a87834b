package conversation

import (
	"time"

	"github.com/google/uuid"
)

const (
	SpeakerPatient = "patient"
	SpeakerBot     = "bot"
)

// Message is one utterance in a recorded interview. A completed turn
// produces two messages: the patient's text and the bot's response.
type Message struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ConversationID string    `db:"conversation_id" json:"conversation_id"`
	PatientID      string    `db:"patient_id" json:"patient_id"`
	Speaker        string    `db:"speaker" json:"speaker"`
	Content        string    `db:"content" json:"content"`
	Section        string    `db:"section" json:"section,omitempty"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

package conversation

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type messageRepoPG struct{ pool *pgxpool.Pool }

func NewMessageRepoPG(pool *pgxpool.Pool) MessageRepository { return &messageRepoPG{pool: pool} }

const messageCols = `id, conversation_id, patient_id, speaker, content, section, created_at`

func scanMessage(row pgx.Row) (*Message, error) {
	var msg Message
	err := row.Scan(&msg.ID, &msg.ConversationID, &msg.PatientID,
		&msg.Speaker, &msg.Content, &msg.Section, &msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

// Append writes the messages in one transaction so an exchange is never
// half recorded. Ordering within the log comes from the seq column, not
// created_at, since both halves of an exchange share a timestamp.
func (r *messageRepoPG) Append(ctx context.Context, msgs ...*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, msg := range msgs {
		_, err := tx.Exec(ctx, `
			INSERT INTO conversation_messages (`+messageCols+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			msg.ID, msg.ConversationID, msg.PatientID,
			msg.Speaker, msg.Content, msg.Section, msg.CreatedAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *messageRepoPG) ListByConversation(ctx context.Context, conversationID string, limit, offset int) ([]*Message, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_messages WHERE conversation_id = $1`,
		conversationID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM conversation_messages
		 WHERE conversation_id = $1 ORDER BY seq LIMIT $2 OFFSET $3`,
		conversationID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectMessages(rows, total)
}

func (r *messageRepoPG) ListByPatient(ctx context.Context, patientID string, limit, offset int) ([]*Message, int, error) {
	var total int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversation_messages WHERE patient_id = $1`,
		patientID).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+messageCols+` FROM conversation_messages
		 WHERE patient_id = $1 ORDER BY seq LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	return collectMessages(rows, total)
}

func collectMessages(rows pgx.Rows, total int) ([]*Message, int, error) {
	var out []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, msg)
	}
	return out, total, rows.Err()
}

// Package contextstore indexes conversation turns and extracted patient
// data in SQLite and retrieves the snippets most relevant to a new
// message via vector KNN search.
package contextstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

func init() {
	sqlite_vec.Auto()
}

// Embedder produces vector embeddings for a batch of texts.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Turn is one user/bot exchange to index.
type Turn struct {
	PatientID      string
	ConversationID string
	Section        string
	Message        string
	Response       string
}

// Store wraps the SQLite database holding both retrieval corpora.
type Store struct {
	db           *sql.DB
	embedder     Embedder
	embeddingDim int
	logger       zerolog.Logger
}

// KNN queries fetch more rows than requested so that filtering by
// patient still yields up to k results.
const overFetch = 4

// New opens (or creates) a SQLite database at the given path and
// initialises the schema including the sqlite-vec virtual tables.
func New(dbPath string, embeddingDim int, embedder Embedder, logger zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if _, err := db.Exec(schemaSQL(embeddingDim)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	// Connection pool settings for SQLite.
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	return &Store{
		db:           db,
		embedder:     embedder,
		embeddingDim: embeddingDim,
		logger:       logger,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// AddTurn indexes one user/bot exchange for the patient.
func (s *Store) AddTurn(ctx context.Context, t Turn) error {
	content := "User: " + t.Message + "\nBot: " + t.Response
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_docs (patient_id, conversation_id, section, content) VALUES (?, ?, ?, ?)`,
		t.PatientID, t.ConversationID, t.Section, content)
	if err != nil {
		return fmt.Errorf("insert conversation doc: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("conversation doc id: %w", err)
	}
	return s.insertEmbedding(ctx, "vec_conversation_docs", id, content)
}

// AddExchange indexes one exchange from its parts. Convenience wrapper
// over AddTurn for callers that do not build a Turn.
func (s *Store) AddExchange(ctx context.Context, conversationID, patientID, section, message, response string) error {
	return s.AddTurn(ctx, Turn{
		PatientID:      patientID,
		ConversationID: conversationID,
		Section:        section,
		Message:        message,
		Response:       response,
	})
}

// AddPatientData indexes an extracted data snapshot for the patient. The
// payload is stored as JSON.
func (s *Store) AddPatientData(ctx context.Context, patientID, section string, data interface{}) error {
	content, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal patient data: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO patient_docs (patient_id, section, content) VALUES (?, ?, ?)`,
		patientID, section, string(content))
	if err != nil {
		return fmt.Errorf("insert patient doc: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("patient doc id: %w", err)
	}
	return s.insertEmbedding(ctx, "vec_patient_docs", id, string(content))
}

// RelevantContext returns up to k conversation snippets followed by up
// to k patient data snippets, each KNN-ranked against the query and
// restricted to the given patient.
func (s *Store) RelevantContext(ctx context.Context, query, patientID string, k int) ([]string, error) {
	if k < 1 {
		return nil, nil
	}

	emb, err := s.embedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	conv, err := s.searchCorpus(ctx, "vec_conversation_docs", "conversation_docs", emb, patientID, k)
	if err != nil {
		return nil, fmt.Errorf("search conversation corpus: %w", err)
	}
	data, err := s.searchCorpus(ctx, "vec_patient_docs", "patient_docs", emb, patientID, k)
	if err != nil {
		return nil, fmt.Errorf("search patient corpus: %w", err)
	}

	return append(conv, data...), nil
}

func (s *Store) embedQuery(ctx context.Context, query string) ([]float32, error) {
	embs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embs) == 0 || len(embs[0]) != s.embeddingDim {
		return nil, fmt.Errorf("embedder returned %d-dim vector, store expects %d", lenFirst(embs), s.embeddingDim)
	}
	return embs[0], nil
}

func lenFirst(embs [][]float32) int {
	if len(embs) == 0 {
		return 0
	}
	return len(embs[0])
}

func (s *Store) insertEmbedding(ctx context.Context, vecTable string, docID int64, content string) error {
	embs, err := s.embedder.Embed(ctx, []string{content})
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}
	if len(embs) == 0 || len(embs[0]) != s.embeddingDim {
		return fmt.Errorf("embedder returned %d-dim vector, store expects %d", lenFirst(embs), s.embeddingDim)
	}

	_, err = s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT OR REPLACE INTO %s (doc_id, embedding) VALUES (?, ?)", vecTable),
		docID, serializeFloat32(embs[0]))
	if err != nil {
		return fmt.Errorf("insert embedding: %w", err)
	}
	return nil
}

// searchCorpus performs a KNN search against one corpus. The vec0 KNN
// constraint cannot filter on joined columns, so it fetches a larger
// candidate set and lets SQLite apply the patient filter afterwards.
func (s *Store) searchCorpus(ctx context.Context, vecTable, docTable string, queryEmb []float32, patientID string, k int) ([]string, error) {
	query := fmt.Sprintf(`
		SELECT d.content
		FROM %s v
		JOIN %s d ON d.id = v.doc_id
		WHERE v.embedding MATCH ? AND k = ? AND d.patient_id = ?
		ORDER BY v.distance
		LIMIT ?
	`, vecTable, docTable)

	rows, err := s.db.QueryContext(ctx, query, serializeFloat32(queryEmb), k*overFetch, patientID, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snippets []string
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		snippets = append(snippets, content)
	}
	return snippets, rows.Err()
}

// serializeFloat32 encodes a vector in the little-endian layout
// sqlite-vec expects.
func serializeFloat32(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

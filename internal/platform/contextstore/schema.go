package contextstore

import "fmt"

// schemaSQL returns the DDL for both retrieval corpora. embeddingDim
// controls the vec0 virtual table dimension.
func schemaSQL(embeddingDim int) string {
	return fmt.Sprintf(`
-- Indexed user/bot exchanges, one row per turn
CREATE TABLE IF NOT EXISTS conversation_docs (
    id INTEGER PRIMARY KEY,
    patient_id TEXT NOT NULL,
    conversation_id TEXT NOT NULL,
    section TEXT,
    content TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_conversation_docs_patient ON conversation_docs(patient_id);

-- Extracted patient data snapshots, one row per accepted extraction
CREATE TABLE IF NOT EXISTS patient_docs (
    id INTEGER PRIMARY KEY,
    patient_id TEXT NOT NULL,
    section TEXT,
    content TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_patient_docs_patient ON patient_docs(patient_id);

-- Vector embeddings via sqlite-vec
CREATE VIRTUAL TABLE IF NOT EXISTS vec_conversation_docs USING vec0(
    doc_id INTEGER PRIMARY KEY,
    embedding float[%d]
);

CREATE VIRTUAL TABLE IF NOT EXISTS vec_patient_docs USING vec0(
    doc_id INTEGER PRIMARY KEY,
    embedding float[%d]
);
`, embeddingDim, embeddingDim)
}

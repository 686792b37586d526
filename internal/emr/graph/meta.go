package graph

import (
	"context"
	"fmt"
)

// SourceMeta describes the file a patient's record was last ingested from.
type SourceMeta struct {
	File  string
	MTime int64
	Hash  string
}

const upsertMetaCypher = `
MERGE (p:Patient {patientID: $pid})
MERGE (m:IngestionMeta {patientID: $pid})
  ON CREATE SET m.first_ingested = datetime()
SET m.last_ingested = datetime(),
    m.last_file = $fname,
    m.last_mtime = $mtime,
    m.last_hash = $hash
MERGE (p)-[:HAS_INGESTION_META]->(m)`

// UpsertIngestionMeta records the source fingerprint after a successful
// ingest. first_ingested is set once and never touched again.
func (e *Engine) UpsertIngestionMeta(ctx context.Context, pid string, meta SourceMeta) error {
	params := map[string]any{
		"pid":   pid,
		"fname": meta.File,
		"mtime": meta.MTime,
		"hash":  meta.Hash,
	}
	if err := e.db.WriteTx(ctx, upsertMetaCypher, params); err != nil {
		return fmt.Errorf("upsert ingestion meta: %w", err)
	}
	return nil
}

const lastHashCypher = `
OPTIONAL MATCH (m:IngestionMeta {patientID: $pid})
RETURN m.last_hash AS last_hash`

// LastHash returns the fingerprint of the patient's last ingested source,
// or "" when the patient has never been ingested.
func (e *Engine) LastHash(ctx context.Context, pid string) (string, error) {
	rows, err := e.db.ReadRows(ctx, lastHashCypher, map[string]any{"pid": pid})
	if err != nil {
		return "", fmt.Errorf("read ingestion meta: %w", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	hash, _ := rows[0]["last_hash"].(string)
	return hash, nil
}

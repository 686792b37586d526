// Package graph owns the knowledge-graph side of ingestion: schema
// bootstrap, idempotent per-section upserts, ingestion metadata, and the
// read queries the indexer and retriever are built on.
package graph

import (
	"context"

	"github.com/aiemr/graphrag-backend/internal/emr/registry"
	"github.com/aiemr/graphrag-backend/internal/platform/logger"
	"github.com/aiemr/graphrag-backend/internal/platform/neo4jdb"
)

// cypherRunner is the store surface the engine needs from the driver
// client.
type cypherRunner interface {
	WriteTx(ctx context.Context, cypher string, params map[string]any) error
	ReadRows(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

type Engine struct {
	db  cypherRunner
	reg *registry.Registry
	log *logger.Logger
}

func NewEngine(db *neo4jdb.Client, reg *registry.Registry, log *logger.Logger) *Engine {
	return &Engine{
		db:  db,
		reg: reg,
		log: log.With("component", "GraphEngine"),
	}
}

func (e *Engine) Registry() *registry.Registry { return e.reg }

// Uniqueness on natural keys makes every ingest MERGE idempotent; the
// indexes back the hot lookup paths.
var schemaStatements = []string{
	`CREATE CONSTRAINT patient_id IF NOT EXISTS
FOR (p:Patient) REQUIRE p.patientID IS UNIQUE`,
	`CREATE INDEX section_patient IF NOT EXISTS
FOR (sec:SectionTable) ON (sec.name, sec.patientID)`,
	`CREATE INDEX schema_key IF NOT EXISTS
FOR (s:Schema) ON (s.section, s.field, s.patientID)`,
	`CREATE INDEX value_key IF NOT EXISTS
FOR (v:Value) ON (v.value, v.valueType, v.patientID)`,
	`CREATE CONSTRAINT schema_uuid IF NOT EXISTS
FOR (s:Schema) REQUIRE s.node_id IS UNIQUE`,
	`CREATE CONSTRAINT value_uuid IF NOT EXISTS
FOR (v:Value) REQUIRE v.node_id IS UNIQUE`,
}

// node_id backfill for graphs written before ids were stamped on create.
var backfillStatements = []string{
	`MATCH (s:Schema) WHERE s.node_id IS NULL SET s.node_id = randomUUID()`,
	`MATCH (v:Value)  WHERE v.node_id IS NULL SET v.node_id = randomUUID()`,
}

// Bootstrap applies constraints, indexes, and the node_id backfill. Every
// statement is best-effort: a failure is logged and the rest still run, so
// a rerun against an already-bootstrapped graph is harmless.
func (e *Engine) Bootstrap(ctx context.Context) {
	for _, stmt := range schemaStatements {
		if err := e.db.WriteTx(ctx, stmt, nil); err != nil {
			e.log.Warn("schema statement failed (continuing)", "error", err)
		}
	}
	for _, stmt := range backfillStatements {
		if err := e.db.WriteTx(ctx, stmt, nil); err != nil {
			e.log.Warn("node_id backfill failed (continuing)", "error", err)
		}
	}
}

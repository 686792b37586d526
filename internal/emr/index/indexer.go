// Package index keeps the vector collection in step with the graph: it
// renders facts to canonical text, embeds them, and upserts points whose
// ids derive from the fact node ids. Patient identifiers only ever reach
// the collection as salted hashes.
package index

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aiemr/graphrag-backend/internal/emr/graph"
	"github.com/aiemr/graphrag-backend/internal/platform/envutil"
	"github.com/aiemr/graphrag-backend/internal/platform/logger"
	"github.com/aiemr/graphrag-backend/internal/platform/openai"
	"github.com/aiemr/graphrag-backend/internal/platform/qdrant"
)

const embeddingVersion = 1

type Indexer struct {
	engine *graph.Engine
	store  *qdrant.Store
	ai     openai.Client
	cache  *redis.Client
	log    *logger.Logger

	salt      string
	batchSize int
	cacheTTL  time.Duration
}

type IndexStats struct {
	Collection string `json:"collection"`
	Upserted   int    `json:"upserted"`
}

// NewIndexer wires the synchronizer. cache may be nil; embedding caching
// is then skipped entirely.
func NewIndexer(engine *graph.Engine, store *qdrant.Store, ai openai.Client, cache *redis.Client, log *logger.Logger) *Indexer {
	return &Indexer{
		engine:    engine,
		store:     store,
		ai:        ai,
		cache:     cache,
		log:       log.With("component", "VectorIndexer"),
		salt:      envutil.Str("PATIENT_SALT", "AIEMR"),
		batchSize: envutil.Int("EMBED_BATCH", 64),
		cacheTTL:  envutil.Duration("EMBED_CACHE_TTL", 7*24*time.Hour),
	}
}

// PatientHash is the only patient identifier allowed in the collection.
func (ix *Indexer) PatientHash(pid string) string {
	sum := sha256.Sum256([]byte(ix.salt + pid))
	return hex.EncodeToString(sum[:])
}

// RebuildAll drops and re-creates the collection, then indexes the whole
// graph. This is the administrative reset; incremental sync uses
// UpsertPatients.
func (ix *Indexer) RebuildAll(ctx context.Context) (*IndexStats, error) {
	if err := ix.store.EnsureCollection(ctx); err != nil {
		return nil, err
	}
	rows, err := ix.engine.FactRows(ctx, nil)
	if err != nil {
		return nil, err
	}
	return ix.indexRows(ctx, rows)
}

// UpsertPatients re-indexes the given patients' facts in place.
func (ix *Indexer) UpsertPatients(ctx context.Context, pids []string) (*IndexStats, error) {
	if len(pids) == 0 {
		return &IndexStats{Collection: ix.store.Collection()}, nil
	}
	rows, err := ix.engine.FactRows(ctx, pids)
	if err != nil {
		return nil, err
	}
	return ix.indexRows(ctx, rows)
}

func (ix *Indexer) indexRows(ctx context.Context, rows []graph.FactRow) (*IndexStats, error) {
	stats := &IndexStats{Collection: ix.store.Collection()}

	batch := ix.batchSize
	if batch <= 0 {
		batch = 64
	}
	for start := 0; start < len(rows); start += batch {
		end := start + batch
		if end > len(rows) {
			end = len(rows)
		}
		points, err := ix.buildPoints(ctx, rows[start:end])
		if err != nil {
			return nil, err
		}
		if err := ix.store.Upsert(ctx, points); err != nil {
			return nil, err
		}
		stats.Upserted += len(points)
	}

	ix.log.Info("index upsert complete",
		"collection", stats.Collection,
		"upserted", stats.Upserted,
	)
	return stats, nil
}

func (ix *Indexer) buildPoints(ctx context.Context, rows []graph.FactRow) ([]qdrant.Point, error) {
	texts := make([]string, len(rows))
	for i, r := range rows {
		texts[i] = canonicalText(r)
	}

	vecs, err := ix.embedWithCache(ctx, texts)
	if err != nil {
		return nil, err
	}

	points := make([]qdrant.Point, 0, len(rows))
	for i, r := range rows {
		points = append(points, qdrant.Point{
			ID:     qdrant.PointID(r.FactID),
			Vector: vecs[i],
			Payload: map[string]any{
				"fact_id":           r.FactID,
				"schema_id":         r.SchemaID,
				"patient_id_hash":   ix.PatientHash(r.PatientID),
				"section":           r.Section,
				"field":             r.Field,
				"value_type":        r.ValueType,
				"unit":              emptyToNil(r.Unit),
				"category":          emptyToNil(r.Category),
				"disease_type":      emptyToNil(r.DiseaseType),
				"since_year":        r.SinceYear,
				"on_medication":     r.OnMedication,
				"embedding_model":   ix.ai.EmbedModel(),
				"embedding_version": embeddingVersion,
			},
		})
	}
	return points, nil
}

// SearchFactIDs embeds the question and returns the nearest facts' ids in
// score order. A non-empty pids list restricts matches to those patients
// via their salted hashes.
func (ix *Indexer) SearchFactIDs(ctx context.Context, question string, pids []string, topK int) ([]string, error) {
	vecs, err := ix.ai.Embed(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	var filter map[string]any
	if len(pids) > 0 {
		should := make([]map[string]any, 0, len(pids))
		for _, pid := range pids {
			should = append(should, map[string]any{
				"key":   "patient_id_hash",
				"match": map[string]any{"value": ix.PatientHash(pid)},
			})
		}
		filter = map[string]any{"should": should}
	}

	hits, err := ix.store.Search(ctx, vecs[0], topK, filter)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if id, ok := h.Payload["fact_id"].(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// canonicalText is the embedded rendering of a fact. Composite disease
// entries get a dedicated sentence shape; everything else is field: value.
func canonicalText(r graph.FactRow) string {
	if r.Section == "MedicalHistory" && r.Field == "PastDisease" {
		return fmt.Sprintf("Past disease (%s; type: %s), since %s, on medication: %s.",
			orUnknown(r.Category), orUnknown(r.DiseaseType),
			renderAttr(r.SinceYear), renderAttr(r.OnMedication))
	}
	unit := ""
	if r.Unit != "" {
		unit = " " + r.Unit
	}
	return fmt.Sprintf("Patient %s: %v%s.", r.Field, r.Value, unit)
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}

func renderAttr(v any) string {
	if v == nil {
		return "unknown"
	}
	return fmt.Sprintf("%v", v)
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// embedWithCache fills vectors from the cache where possible and embeds
// the rest in one call. Cache failures degrade to plain embedding.
func (ix *Indexer) embedWithCache(ctx context.Context, texts []string) ([][]float32, error) {
	if ix.cache == nil {
		return ix.ai.Embed(ctx, texts)
	}

	out := make([][]float32, len(texts))
	missing := make([]int, 0, len(texts))
	for i, text := range texts {
		if vec, ok := ix.cachedVec(ctx, text); ok {
			out[i] = vec
			continue
		}
		missing = append(missing, i)
	}
	if len(missing) == 0 {
		return out, nil
	}

	pending := make([]string, len(missing))
	for j, i := range missing {
		pending[j] = texts[i]
	}
	vecs, err := ix.ai.Embed(ctx, pending)
	if err != nil {
		return nil, err
	}
	for j, i := range missing {
		out[i] = vecs[j]
		ix.storeVec(ctx, texts[i], vecs[j])
	}
	return out, nil
}

func (ix *Indexer) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(ix.ai.EmbedModel() + "|" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

func (ix *Indexer) cachedVec(ctx context.Context, text string) ([]float32, bool) {
	raw, err := ix.cache.Get(ctx, ix.cacheKey(text)).Bytes()
	if err != nil {
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (ix *Indexer) storeVec(ctx context.Context, text string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := ix.cache.Set(ctx, ix.cacheKey(text), raw, ix.cacheTTL).Err(); err != nil {
		ix.log.Debug("embedding cache write failed", "error", err)
	}
}

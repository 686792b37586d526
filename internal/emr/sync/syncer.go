// Package sync polls the EMR directory and drives ingestion: fingerprint
// each source file, ingest only what changed, then push the affected
// patients into the vector index.
package sync

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/aiemr/graphrag-backend/internal/emr/graph"
	"github.com/aiemr/graphrag-backend/internal/emr/index"
	"github.com/aiemr/graphrag-backend/internal/platform/envutil"
	"github.com/aiemr/graphrag-backend/internal/platform/logger"
)

// graphIngester is the slice of the graph engine the sync loop drives.
type graphIngester interface {
	Bootstrap(ctx context.Context)
	LastHash(ctx context.Context, pid string) (string, error)
	IngestRecord(ctx context.Context, rec map[string]any) (*graph.IngestReport, error)
	UpsertIngestionMeta(ctx context.Context, pid string, meta graph.SourceMeta) error
}

type vectorUpserter interface {
	UpsertPatients(ctx context.Context, pids []string) (*index.IndexStats, error)
}

type Syncer struct {
	engine   graphIngester
	indexer  vectorUpserter
	dir      string
	interval time.Duration
	log      *logger.Logger
	sf       singleflight.Group
}

type SyncStats struct {
	Files   int `json:"files"`
	Changed int `json:"changed"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

func NewSyncer(engine *graph.Engine, indexer *index.Indexer, log *logger.Logger) *Syncer {
	return &Syncer{
		engine:   engine,
		indexer:  indexer,
		dir:      envutil.Str("EMR_DIR", "data"),
		interval: envutil.Duration("SYNC_INTERVAL", 60*time.Second),
		log:      log.With("component", "Syncer"),
	}
}

// SyncOnce runs a single pass over the EMR directory. Concurrent callers
// (the ticker and the on-demand endpoint) share one in-flight pass, so the
// pass runs detached from the first caller's cancellation: an HTTP client
// disconnecting must not abort a pass the scheduler joined.
func (s *Syncer) SyncOnce(ctx context.Context) (SyncStats, error) {
	v, err, _ := s.sf.Do("sync", func() (any, error) {
		return s.syncPass(context.WithoutCancel(ctx))
	})
	stats, _ := v.(SyncStats)
	return stats, err
}

func (s *Syncer) syncPass(ctx context.Context) (SyncStats, error) {
	var stats SyncStats

	s.engine.Bootstrap(ctx)

	files, err := s.listSourceFiles()
	if err != nil {
		return stats, err
	}
	stats.Files = len(files)

	for _, path := range files {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		switch s.syncFile(ctx, path) {
		case fileChanged:
			stats.Changed++
		case fileSkipped:
			stats.Skipped++
		case fileFailed:
			stats.Failed++
		}
	}

	s.log.Info("sync pass complete",
		"files", stats.Files,
		"changed", stats.Changed,
		"skipped", stats.Skipped,
		"failed", stats.Failed,
	)
	return stats, nil
}

type fileOutcome int

const (
	fileChanged fileOutcome = iota
	fileSkipped
	fileFailed
)

func (s *Syncer) syncFile(ctx context.Context, path string) fileOutcome {
	name := filepath.Base(path)

	raw, err := os.ReadFile(path)
	if err != nil {
		s.log.Error("read source file failed", "file", name, "error", err)
		return fileFailed
	}

	records, err := decodeRecords(raw)
	if err != nil {
		s.log.Error("decode source file failed", "file", name, "error", err)
		return fileFailed
	}

	pid := patientIDFromRecords(records)
	if pid == "" {
		s.log.Warn("source file has no patient_id; skipping", "file", name)
		return fileSkipped
	}

	sum := sha256.Sum256(raw)
	hash := hex.EncodeToString(sum[:])

	lastHash, err := s.engine.LastHash(ctx, pid)
	if err != nil {
		s.log.Error("read last hash failed", "file", name, "patient_id", pid, "error", err)
		return fileFailed
	}
	if hash == lastHash {
		return fileSkipped
	}

	for _, rec := range records {
		report, err := s.engine.IngestRecord(ctx, rec)
		if err != nil {
			s.log.Error("ingest record failed", "file", name, "patient_id", pid, "error", err)
			return fileFailed
		}
		if err := report.FirstErr(); err != nil {
			s.log.Error("ingest record had section failures", "file", name, "patient_id", pid, "error", err)
			return fileFailed
		}
	}

	mtime := int64(0)
	if info, err := os.Stat(path); err == nil {
		mtime = info.ModTime().Unix()
	}
	if err := s.engine.UpsertIngestionMeta(ctx, pid, graph.SourceMeta{File: name, MTime: mtime, Hash: hash}); err != nil {
		s.log.Error("record ingestion meta failed", "file", name, "patient_id", pid, "error", err)
		return fileFailed
	}

	// The graph write is already committed; an index failure leaves the
	// stores briefly out of step until the next successful upsert.
	if _, err := s.indexer.UpsertPatients(ctx, []string{pid}); err != nil {
		s.log.Error("vector index upsert failed after graph write", "file", name, "patient_id", pid, "error", err)
	}
	return fileChanged
}

// Run polls until the context is canceled. A failed pass is logged and the
// ticker keeps going.
func (s *Syncer) Run(ctx context.Context) {
	s.log.Info("sync scheduler started", "dir", s.dir, "interval", s.interval.String())

	// First pass runs immediately; the ticker covers the rest.
	if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
		s.log.Error("sync pass failed", "error", err)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sync scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.SyncOnce(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("sync pass failed", "error", err)
			}
		}
	}
}

func (s *Syncer) listSourceFiles() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("scan emr dir: %w", err)
	}
	files := matches[:0]
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			files = append(files, m)
		}
	}
	sort.Strings(files)
	return files, nil
}

// decodeRecords accepts either a single record document or a list of them.
func decodeRecords(raw []byte) ([]map[string]any, error) {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single map[string]any
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, err
	}
	return []map[string]any{single}, nil
}

func patientIDFromRecords(records []map[string]any) string {
	if len(records) == 0 {
		return ""
	}
	return graph.PatientID(records[0])
}

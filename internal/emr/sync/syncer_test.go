package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aiemr/graphrag-backend/internal/emr/graph"
	"github.com/aiemr/graphrag-backend/internal/emr/index"
	"github.com/aiemr/graphrag-backend/internal/platform/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return log
}

type fakeEngine struct {
	mu         sync.Mutex
	bootstraps int
	ingests    int
	hashes     map[string]string

	// gate, when set, blocks LastHash until closed.
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeEngine) Bootstrap(ctx context.Context) {
	f.mu.Lock()
	f.bootstraps++
	f.mu.Unlock()
}

func (f *fakeEngine) LastHash(ctx context.Context, pid string) (string, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[pid], nil
}

func (f *fakeEngine) IngestRecord(ctx context.Context, rec map[string]any) (*graph.IngestReport, error) {
	f.mu.Lock()
	f.ingests++
	f.mu.Unlock()
	return &graph.IngestReport{PatientID: graph.PatientID(rec)}, nil
}

func (f *fakeEngine) UpsertIngestionMeta(ctx context.Context, pid string, meta graph.SourceMeta) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hashes == nil {
		f.hashes = map[string]string{}
	}
	f.hashes[pid] = meta.Hash
	return nil
}

type fakeIndexer struct {
	mu      sync.Mutex
	upserts [][]string
	err     error
}

func (f *fakeIndexer) UpsertPatients(ctx context.Context, pids []string) (*index.IndexStats, error) {
	f.mu.Lock()
	f.upserts = append(f.upserts, pids)
	f.mu.Unlock()
	return &index.IndexStats{Upserted: len(pids)}, f.err
}

func newTestSyncer(t *testing.T, dir string, fe *fakeEngine, fi *fakeIndexer) *Syncer {
	t.Helper()
	return &Syncer{
		engine:   fe,
		indexer:  fi,
		dir:      dir,
		interval: time.Minute,
		log:      testLogger(t),
	}
}

func writeRecord(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestSyncPassChangeDetection(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "00028.json", `{"patient_id": "00028", "General_Information": {"name": "x"}}`)

	fe := &fakeEngine{}
	fi := &fakeIndexer{}
	s := newTestSyncer(t, dir, fe, fi)
	ctx := context.Background()

	stats, err := s.SyncOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 1 || stats.Changed != 1 || stats.Skipped != 0 || stats.Failed != 0 {
		t.Fatalf("first pass: %+v", stats)
	}
	if fe.ingests != 1 {
		t.Fatalf("ingests=%d", fe.ingests)
	}
	if len(fi.upserts) != 1 || fi.upserts[0][0] != "00028" {
		t.Fatalf("index upserts=%v", fi.upserts)
	}

	// Unchanged content is fingerprint-skipped: no re-ingest, no re-index.
	stats, err = s.SyncOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Changed != 0 || stats.Skipped != 1 {
		t.Fatalf("second pass: %+v", stats)
	}
	if fe.ingests != 1 || len(fi.upserts) != 1 {
		t.Fatalf("unchanged file re-processed: ingests=%d upserts=%v", fe.ingests, fi.upserts)
	}

	// A one-byte change re-ingests exactly once.
	writeRecord(t, dir, "00028.json", `{"patient_id": "00028", "General_Information": {"name": "y"}}`)
	stats, err = s.SyncOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Changed != 1 || fe.ingests != 2 || len(fi.upserts) != 2 {
		t.Fatalf("changed file: stats=%+v ingests=%d upserts=%v", stats, fe.ingests, fi.upserts)
	}
}

func TestSyncPassMissingPatientID(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "broken.json", `{"General_Information": {"name": "x"}}`)

	fe := &fakeEngine{}
	s := newTestSyncer(t, dir, fe, &fakeIndexer{})

	stats, err := s.SyncOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Skipped != 1 || stats.Changed != 0 || stats.Failed != 0 {
		t.Fatalf("stats=%+v", stats)
	}
	if fe.ingests != 0 {
		t.Fatalf("ingests=%d", fe.ingests)
	}
}

func TestSyncPassIndexerFailureDoesNotFailCycle(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "00028.json", `{"patient_id": "00028"}`)

	fe := &fakeEngine{}
	fi := &fakeIndexer{err: errors.New("qdrant down")}
	s := newTestSyncer(t, dir, fe, fi)

	stats, err := s.SyncOnce(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// The graph write stands; the file still counts as changed.
	if stats.Changed != 1 || stats.Failed != 0 {
		t.Fatalf("stats=%+v", stats)
	}
	if fe.hashes["00028"] == "" {
		t.Fatal("ingestion meta not recorded")
	}
}

func TestSyncOnceSurvivesCallerCancel(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "00028.json", `{"patient_id": "00028"}`)

	fe := &fakeEngine{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 1),
	}
	fi := &fakeIndexer{}
	s := newTestSyncer(t, dir, fe, fi)

	ctx, cancel := context.WithCancel(context.Background())
	var stats SyncStats
	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		stats, err = s.SyncOnce(ctx)
	}()

	// Cancel the caller mid-pass; the pass keeps going.
	<-fe.entered
	cancel()
	close(fe.gate)
	<-done

	if err != nil {
		t.Fatal(err)
	}
	if stats.Changed != 1 || stats.Failed != 0 {
		t.Fatalf("stats=%+v", stats)
	}
	if fe.ingests != 1 || len(fi.upserts) != 1 {
		t.Fatalf("ingests=%d upserts=%v", fe.ingests, fi.upserts)
	}
}

func TestSyncOnceSharesInFlightPass(t *testing.T) {
	dir := t.TempDir()
	writeRecord(t, dir, "00028.json", `{"patient_id": "00028"}`)

	fe := &fakeEngine{
		gate:    make(chan struct{}),
		entered: make(chan struct{}, 2),
	}
	s := newTestSyncer(t, dir, fe, &fakeIndexer{})
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.SyncOnce(ctx)
	}()
	// Wait until the first pass is inside LastHash, then pile on.
	<-fe.entered
	go func() {
		defer wg.Done()
		_, _ = s.SyncOnce(ctx)
	}()
	time.Sleep(50 * time.Millisecond)
	close(fe.gate)
	wg.Wait()

	if fe.bootstraps != 1 {
		t.Fatalf("passes=%d, want one shared pass", fe.bootstraps)
	}
}

func TestDecodeRecordsSingleDocument(t *testing.T) {
	records, err := decodeRecords([]byte(`{"patient_id": "00028", "General_Information": {"name": "x"}}`))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0]["patient_id"] != "00028" {
		t.Fatalf("records=%v", records)
	}
}

func TestDecodeRecordsList(t *testing.T) {
	records, err := decodeRecords([]byte(`[{"patient_id": "a"}, {"patient_id": "b"}]`))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[1]["patient_id"] != "b" {
		t.Fatalf("records=%v", records)
	}
}

func TestDecodeRecordsInvalid(t *testing.T) {
	if _, err := decodeRecords([]byte(`"just a string"`)); err == nil {
		t.Fatal("expected error")
	}
	if _, err := decodeRecords([]byte(`{broken`)); err == nil {
		t.Fatal("expected error")
	}
}

func TestPatientIDFromRecords(t *testing.T) {
	if got := patientIDFromRecords(nil); got != "" {
		t.Fatalf("got %q", got)
	}
	if got := patientIDFromRecords([]map[string]any{{"patient_id": "00042"}}); got != "00042" {
		t.Fatalf("got %q", got)
	}
	if got := patientIDFromRecords([]map[string]any{{}}); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestListSourceFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.json", "a.json", "notes.txt", "c.JSON"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.Mkdir(filepath.Join(dir, "sub.json"), 0o755); err != nil {
		t.Fatal(err)
	}

	s := &Syncer{dir: dir}
	files, err := s.listSourceFiles()
	if err != nil {
		t.Fatal(err)
	}
	// Only regular *.json files, sorted.
	if len(files) != 2 {
		t.Fatalf("files=%v", files)
	}
	if filepath.Base(files[0]) != "a.json" || filepath.Base(files[1]) != "b.json" {
		t.Fatalf("order=%v", files)
	}
}

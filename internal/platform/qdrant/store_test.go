package qdrant

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

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

func newTestStore(t *testing.T, handler http.Handler) (*Store, *httptest.Server) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	if handler != nil {
		mux.Handle("/collections/", handler)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	store, err := NewStore(testLogger(t), Config{
		URL:        srv.URL,
		Collection: "test_facts",
		VectorDim:  3,
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store, srv
}

func TestNewStoreReadyCheckFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewStore(testLogger(t), Config{URL: srv.URL, Collection: "c", VectorDim: 3})
	if err == nil {
		t.Fatal("expected error")
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Code != OperationErrorQueryFailed {
		t.Fatalf("err=%v", err)
	}
}

func TestUpsertDimensionMismatch(t *testing.T) {
	store, _ := newTestStore(t, nil)

	err := store.Upsert(context.Background(), []Point{
		{ID: "p1", Vector: []float32{1, 2}},
	})
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Code != OperationErrorValidation {
		t.Fatalf("err=%v", err)
	}
}

func TestUpsertAndSearch(t *testing.T) {
	var sawUpsert, sawSearch bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPut && r.URL.Path == "/collections/test_facts/points":
			sawUpsert = true
			w.Write([]byte(`{"result": {"status": "completed"}, "status": "ok"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/collections/test_facts/points/search":
			sawSearch = true
			w.Write([]byte(`{"result": [
				{"id": "3f1c7a44-9f6e-4a7f-9a51-1f1df8f5b001", "score": 0.92, "payload": {"fact_id": "f1"}},
				{"id": 7, "score": 0.41, "payload": {"fact_id": "f2"}}
			], "status": "ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	store, _ := newTestStore(t, handler)
	ctx := context.Background()

	if err := store.Upsert(ctx, []Point{{ID: "p1", Vector: []float32{1, 2, 3}, Payload: map[string]any{"fact_id": "f1"}}}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if !sawUpsert {
		t.Fatal("upsert never hit the server")
	}

	hits, err := store.Search(ctx, []float32{1, 2, 3}, 5, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if !sawSearch {
		t.Fatal("search never hit the server")
	}
	if len(hits) != 2 {
		t.Fatalf("hits=%d", len(hits))
	}
	if hits[0].ID != "3f1c7a44-9f6e-4a7f-9a51-1f1df8f5b001" || hits[0].Score != 0.92 {
		t.Fatalf("hit[0]=%+v", hits[0])
	}
	// Numeric point ids decode to their digits.
	if hits[1].ID != "7" {
		t.Fatalf("hit[1].ID=%s", hits[1].ID)
	}
	if hits[0].Payload["fact_id"] != "f1" {
		t.Fatalf("payload=%v", hits[0].Payload)
	}
}

func TestSearchRejectsBadVector(t *testing.T) {
	store, _ := newTestStore(t, nil)

	if _, err := store.Search(context.Background(), nil, 5, nil); err == nil {
		t.Fatal("expected error for empty vector")
	}
	if _, err := store.Search(context.Background(), []float32{1}, 5, nil); err == nil {
		t.Fatal("expected error for dimension mismatch")
	}
}

func TestEnsureCollection(t *testing.T) {
	var deleted, created, indexed bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodDelete && r.URL.Path == "/collections/test_facts":
			deleted = true
			// Missing collection: tolerated.
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"status": {"error": "not found"}}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/test_facts":
			created = true
			w.Write([]byte(`{"result": true, "status": "ok"}`))
		case r.Method == http.MethodPut && r.URL.Path == "/collections/test_facts/index":
			indexed = true
			w.Write([]byte(`{"result": {}, "status": "ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	store, _ := newTestStore(t, handler)

	if err := store.EnsureCollection(context.Background()); err != nil {
		t.Fatalf("EnsureCollection: %v", err)
	}
	if !deleted || !created || !indexed {
		t.Fatalf("deleted=%v created=%v indexed=%v", deleted, created, indexed)
	}
}

func TestEnvelopeStatusError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"result": null, "status": {"error": "wrong vector size"}}`))
	})
	store, _ := newTestStore(t, handler)

	err := store.Upsert(context.Background(), []Point{{ID: "p1", Vector: []float32{1, 2, 3}}})
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Code != OperationErrorQueryFailed {
		t.Fatalf("err=%v", err)
	}
}

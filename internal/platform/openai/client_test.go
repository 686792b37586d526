package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aiemr/graphrag-backend/internal/platform/logger"
)

func newTestClient(t *testing.T, handler http.Handler) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("OPENAI_BASE_URL", srv.URL)
	t.Setenv("OPENAI_MODEL", "test-chat")
	t.Setenv("OPENAI_EMBED_MODEL", "test-embed")
	t.Setenv("OPENAI_MAX_RETRIES", "0")
	t.Setenv("OPENAI_TEMPERATURE", "")

	log, err := logger.New("dev")
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	client, err := NewClient(log)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestEmbedPreservesOrder(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/embeddings" {
			t.Errorf("path=%s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth=%q", got)
		}
		// Indices deliberately out of order.
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data": [
			{"index": 1, "embedding": [2.0]},
			{"index": 0, "embedding": [1.0]}
		]}`))
	})
	client := newTestClient(t, handler)

	vecs, err := client.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 2 {
		t.Fatalf("vecs=%d", len(vecs))
	}
	if vecs[0][0] != 1.0 || vecs[1][0] != 2.0 {
		t.Fatalf("order lost: %v", vecs)
	}
}

func TestEmbedEmptyInput(t *testing.T) {
	client := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}))

	vecs, err := client.Embed(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 0 {
		t.Fatalf("vecs=%d", len(vecs))
	}
}

func TestCompleteTemperatureFallback(t *testing.T) {
	var calls int
	var sawTemperature []bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req map[string]any
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		_, hasTemp := req["temperature"]
		sawTemperature = append(sawTemperature, hasTemp)

		w.Header().Set("Content-Type", "application/json")
		if hasTemp {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": {"message": "Unsupported parameter: 'temperature' is not supported with this model.", "type": "invalid_request_error"}}`))
			return
		}
		w.Write([]byte(`{"choices": [{"message": {"content": "fine"}}]}`))
	})
	client := newTestClient(t, handler)

	got, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "q"}})
	if err != nil {
		t.Fatal(err)
	}
	if got != "fine" {
		t.Fatalf("answer=%q", got)
	}
	if calls != 2 || !sawTemperature[0] || sawTemperature[1] {
		t.Fatalf("calls=%d sawTemperature=%v", calls, sawTemperature)
	}

	// The model is remembered; the next call skips temperature entirely.
	if _, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "q2"}}); err != nil {
		t.Fatal(err)
	}
	if calls != 3 || sawTemperature[2] {
		t.Fatalf("calls=%d sawTemperature=%v", calls, sawTemperature)
	}
}

func TestCompleteRefusal(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices": [{"message": {"content": "", "refusal": "cannot help"}}]}`))
	})
	client := newTestClient(t, handler)

	if _, err := client.Complete(context.Background(), []Message{{Role: "user", Content: "q"}}); err == nil {
		t.Fatal("expected refusal error")
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	log, err := logger.New("dev")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := NewClient(log); err == nil {
		t.Fatal("expected error without OPENAI_API_KEY")
	}
}

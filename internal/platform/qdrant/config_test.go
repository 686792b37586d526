package qdrant

import (
	"errors"
	"testing"
)

func TestResolveConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://localhost:6333")
	t.Setenv("QDRANT_API_KEY", "")
	t.Setenv("QDRANT_COLLECTION", "")
	t.Setenv("QDRANT_VECTOR_DIM", "")

	cfg, err := ResolveConfigFromEnv()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Collection != "patient_facts" {
		t.Fatalf("collection=%s", cfg.Collection)
	}
	if cfg.VectorDim != 1536 {
		t.Fatalf("vector_dim=%d", cfg.VectorDim)
	}
}

func TestResolveConfigFromEnvMissingURL(t *testing.T) {
	t.Setenv("QDRANT_URL", "")

	_, err := ResolveConfigFromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigError, got %T", err)
	}
	if cfgErr.Code != ConfigErrorMissingURL {
		t.Fatalf("code=%s", cfgErr.Code)
	}
}

func TestResolveConfigFromEnvBadDim(t *testing.T) {
	t.Setenv("QDRANT_URL", "http://localhost:6333")
	t.Setenv("QDRANT_VECTOR_DIM", "-3")

	_, err := ResolveConfigFromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Code != ConfigErrorInvalidVectorDim {
		t.Fatalf("err=%v", err)
	}
}

func TestPointID(t *testing.T) {
	// UUIDs pass through canonicalized.
	if got := PointID("3F1C7A44-9F6E-4A7F-9A51-1F1DF8F5B001"); got != "3f1c7a44-9f6e-4a7f-9a51-1f1df8f5b001" {
		t.Fatalf("got %s", got)
	}

	// Everything else derives deterministically.
	a := PointID("some-fact-id")
	b := PointID("some-fact-id")
	c := PointID("other-fact-id")
	if a != b {
		t.Fatal("derivation not deterministic")
	}
	if a == c {
		t.Fatal("distinct fact ids collide")
	}
	if len(a) != 36 {
		t.Fatalf("not a canonical uuid: %s", a)
	}
}

package logger

import (
	"strings"
	"testing"
)

func TestNewModes(t *testing.T) {
	for _, mode := range []string{"dev", "prod", "", "PRODUCTION"} {
		log, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		if log.SugaredLogger == nil {
			t.Fatalf("New(%q): nil sugared logger", mode)
		}
	}
}

func TestSanitizeKVsRedactsCredentials(t *testing.T) {
	out := sanitizeKVs([]interface{}{
		"api_key", "sk-123",
		"Authorization", "Bearer abc",
		"section", "MenstrualHistory",
	})
	if out[1] != "[REDACTED]" || out[3] != "[REDACTED]" {
		t.Fatalf("credentials leaked: %v", out)
	}
	if out[5] != "MenstrualHistory" {
		t.Fatalf("plain value mangled: %v", out[5])
	}
}

func TestSanitizeKVsHashesPatientIDs(t *testing.T) {
	out := sanitizeKVs([]interface{}{"patient_id", "00028"})
	hashed, ok := out[1].(string)
	if !ok || !strings.HasPrefix(hashed, "hash:") {
		t.Fatalf("patient_id not hashed: %v", out[1])
	}
	if strings.Contains(hashed, "00028") {
		t.Fatal("raw patient id leaked")
	}

	out = sanitizeKVs([]interface{}{"patient_ids", []string{"00028", "00042"}})
	list, ok := out[1].([]string)
	if !ok || len(list) != 2 {
		t.Fatalf("list not hashed: %v", out[1])
	}
	for _, h := range list {
		if !strings.HasPrefix(h, "hash:") {
			t.Fatalf("list entry not hashed: %v", h)
		}
	}
}

func TestHashValueStable(t *testing.T) {
	if hashValue("") != "" {
		t.Fatal("empty input should stay empty")
	}
	a := hashValue("00028")
	if a != hashValue("00028") {
		t.Fatal("hash not stable")
	}
	if a == hashValue("00029") {
		t.Fatal("distinct inputs collide")
	}
	if len(a) != len("hash:")+12 {
		t.Fatalf("unexpected hash shape: %q", a)
	}
}

func TestSanitizeKVsOddTail(t *testing.T) {
	out := sanitizeKVs([]interface{}{"key", "value", "dangling"})
	if len(out) != 3 || out[2] != "dangling" {
		t.Fatalf("odd tail mishandled: %v", out)
	}
}

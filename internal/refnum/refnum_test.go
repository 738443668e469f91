package refnum

import (
	"strings"
	"testing"
	"time"
)

func TestGenerateFormat(t *testing.T) {
	ref := Generate()
	if !IsValid(ref) {
		t.Fatalf("generated reference does not match pattern: %s", ref)
	}
	if !strings.HasPrefix(ref, "CHK-") {
		t.Errorf("missing prefix: %s", ref)
	}
	if len(ref) != len("CHK-")+14+1+6 {
		t.Errorf("unexpected length %d: %s", len(ref), ref)
	}
}

func TestGenerateTimestampPart(t *testing.T) {
	before := time.Now().UTC().Format("20060102")
	ref := Generate()
	if !strings.HasPrefix(ref[4:], before) {
		t.Errorf("timestamp part does not start with today's date: %s", ref)
	}
}

func TestIsValid(t *testing.T) {
	valid := []string{
		"CHK-20251009143025-A7B3F9",
		"CHK-19991231235959-000000",
		"CHK-20240101000000-FFFFFF",
	}
	for _, ref := range valid {
		if !IsValid(ref) {
			t.Errorf("expected valid: %s", ref)
		}
	}

	invalid := []string{
		"",
		"CHK-20251009143025-a7b3f9",  // lowercase hex
		"CHK-2025100914302-A7B3F9",   // 13-digit timestamp
		"CHK-20251009143025-A7B3F",   // 5-char suffix
		"ORD-20251009143025-A7B3F9",  // wrong prefix
		"CHK-20251009143025-A7B3F9X", // trailing junk
		"CHK-20251009143025-G7B3F9",  // non-hex char
	}
	for _, ref := range invalid {
		if IsValid(ref) {
			t.Errorf("expected invalid: %s", ref)
		}
	}
}

func TestGenerateNoImmediateCollision(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		ref := Generate()
		if seen[ref] {
			t.Fatalf("duplicate reference within one run: %s", ref)
		}
		seen[ref] = true
	}
}

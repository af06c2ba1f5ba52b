package idgen

import (
	"testing"
	"time"
)

func TestGenerateHashIDMatchesKatraVector(t *testing.T) {
	timestamp := time.Date(2024, 1, 2, 3, 4, 5, 6*1_000_000, time.UTC)
	prefix := "rec"
	content := "user prefers dark mode in the editor"
	ciID := "ci-alpha"
	recordType := "preference"

	tests := map[int]string{
		3: "rec-6sw",
		4: "rec-gdhe",
		5: "rec-4fvpt",
		6: "rec-o4fvpt",
		7: "rec-vjkxjp4",
		8: "rec-bvjkxjp4",
	}

	for length, expected := range tests {
		got := GenerateHashID(prefix, content, ciID, recordType, timestamp, length, 0)
		if got != expected {
			t.Fatalf("length %d: got %s, want %s", length, got, expected)
		}
	}
}

func TestGenerateHashIDNonceAvoidsCollision(t *testing.T) {
	timestamp := time.Date(2024, 1, 2, 3, 4, 5, 6*1_000_000, time.UTC)
	base := GenerateHashID("rec", "same content", "ci-alpha", "observation", timestamp, 8, 0)
	withNonce := GenerateHashID("rec", "same content", "ci-alpha", "observation", timestamp, 8, 1)
	if base == withNonce {
		t.Fatalf("expected distinct ids for distinct nonces, both got %s", base)
	}
}

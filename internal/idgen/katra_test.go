package idgen

import (
	"strings"
	"testing"
	"time"
)

func TestNewRecordIDStable(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := NewRecordID("ci-1", "hello world", ts, 0)
	b := NewRecordID("ci-1", "hello world", ts, 0)
	if a != b {
		t.Fatalf("expected deterministic ID, got %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "rec-") {
		t.Fatalf("expected rec- prefix, got %s", a)
	}
}

func TestNewRecordIDNonceChangesID(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := NewRecordID("ci-1", "hello world", ts, 0)
	b := NewRecordID("ci-1", "hello world", ts, 1)
	if a == b {
		t.Fatalf("expected nonce to change ID, both were %s", a)
	}
}

func TestNewDigestIDStable(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := NewDigestID("weekly", "2026-W01", "ci-1", "interaction", ts, 0)
	b := NewDigestID("weekly", "2026-W01", "ci-1", "interaction", ts, 0)
	if a != b {
		t.Fatalf("expected deterministic ID, got %s vs %s", a, b)
	}
	if !strings.HasPrefix(a, "dig-") {
		t.Fatalf("expected dig- prefix, got %s", a)
	}
}

func TestNewDigestIDDiffersByBucket(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := NewDigestID("weekly", "2026-W01", "ci-1", "interaction", ts, 0)
	b := NewDigestID("weekly", "2026-W02", "ci-1", "interaction", ts, 0)
	if a == b {
		t.Fatalf("expected different buckets to mint different IDs")
	}
}

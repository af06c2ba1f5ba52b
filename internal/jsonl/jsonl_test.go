package jsonl

import (
	"os"
	"path/filepath"
	"testing"
)

type sample struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

func TestAppendAndReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.jsonl")

	for i, id := range []string{"a", "b", "c"} {
		if err := AppendFile(path, sample{ID: id, Value: i}); err != nil {
			t.Fatalf("AppendFile: %v", err)
		}
	}

	got, err := ReadFile[sample](path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 records, got %d", len(got))
	}
	if got[1].ID != "b" || got[1].Value != 1 {
		t.Fatalf("unexpected record at index 1: %+v", got[1])
	}
}

func TestReadFileSkipsBlankLines(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.jsonl")
	if err := AppendFile(path, sample{ID: "a"}); err != nil {
		t.Fatalf("AppendFile: %v", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if _, err := f.WriteString("\n   \n"); err != nil {
		t.Fatalf("WriteString: %v", err)
	}
	f.Close()
	if err := AppendFile(path, sample{ID: "b"}); err != nil {
		t.Fatalf("AppendFile: %v", err)
	}

	got, err := ReadFile[sample](path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records, got %d", len(got))
	}
}

func TestAppendFileOffsetAndReadAt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.jsonl")

	off1, err := AppendFileOffset(path, sample{ID: "a", Value: 1})
	if err != nil {
		t.Fatalf("AppendFileOffset: %v", err)
	}
	if off1 != 0 {
		t.Fatalf("expected first offset 0, got %d", off1)
	}

	off2, err := AppendFileOffset(path, sample{ID: "b", Value: 2})
	if err != nil {
		t.Fatalf("AppendFileOffset: %v", err)
	}
	if off2 <= off1 {
		t.Fatalf("expected second offset to advance, got %d after %d", off2, off1)
	}

	got, err := ReadAt[sample](path, off2)
	if err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	if got.ID != "b" || got.Value != 2 {
		t.Fatalf("unexpected record at offset %d: %+v", off2, got)
	}
}

func TestRewriteFileReplacesContents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "data.jsonl")
	if err := AppendFile(path, sample{ID: "stale"}); err != nil {
		t.Fatalf("AppendFile: %v", err)
	}

	if err := RewriteFile(path, []any{sample{ID: "fresh", Value: 7}}); err != nil {
		t.Fatalf("RewriteFile: %v", err)
	}

	got, err := ReadFile[sample](path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(got) != 1 || got[0].ID != "fresh" {
		t.Fatalf("unexpected contents after rewrite: %+v", got)
	}
}

// Package jsonl provides the newline-delimited JSON codec shared by the
// Tier-1 write-ahead mirror and the Tier-2 digest buckets: one JSON value
// per line, append-only, read back with a buffered scanner sized for the
// occasional oversized line.
package jsonl

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// maxLineBytes bounds a single JSONL line. A record is capped at
// types.RecordSizeLimit; digests run larger, so this leaves headroom.
const maxLineBytes = 8 * 1024 * 1024

// ReadFile decodes every line of path into a T, skipping blank lines.
// It reports the 1-based line number of the first line it fails to parse.
func ReadFile[T any](path string) ([]*T, error) {
	// #nosec G304 - path is a katra-managed storage file, not user input
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open jsonl file: %w", err)
	}
	defer file.Close()
	return readAll[T](file)
}

// ReadData decodes in-memory JSONL bytes, used when reading a bucket file
// already loaded for rewriting.
func ReadData[T any](data []byte) ([]*T, error) {
	return readAll[T](bytes.NewReader(data))
}

func readAll[T any](r interface {
	Read(p []byte) (n int, err error)
}) ([]*T, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var out []*T
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("parse line %d: %w", lineNum, err)
		}
		out = append(out, &v)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan jsonl: %w", err)
	}
	return out, nil
}

// AppendFile opens path for append (creating it if needed) and writes v as
// one JSON-encoded line. Used for both the Tier-1 write-ahead mirror (one
// line per store/update) and Tier-2 bucket growth (one line per digest).
func AppendFile(path string, v any) error {
	// #nosec G304 - path is a katra-managed storage file, not user input
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open jsonl file for append: %w", err)
	}
	defer file.Close()

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal jsonl line: %w", err)
	}
	data = append(data, '\n')
	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("append jsonl line: %w", err)
	}
	return nil
}

// AppendFileOffset is AppendFile but also reports the byte offset at which
// the new line begins, for callers (internal/tier2) that register a
// (path, offset) pointer into a secondary index alongside the append.
func AppendFileOffset(path string, v any) (int64, error) {
	// #nosec G304 - path is a katra-managed storage file, not user input
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open jsonl file for append: %w", err)
	}
	defer file.Close()

	offset, err := file.Seek(0, os.SEEK_END)
	if err != nil {
		return 0, fmt.Errorf("seek jsonl file: %w", err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("marshal jsonl line: %w", err)
	}
	data = append(data, '\n')
	if _, err := file.Write(data); err != nil {
		return 0, fmt.Errorf("append jsonl line: %w", err)
	}
	return offset, nil
}

// ReadAt decodes the single JSONL line beginning at byte offset in path.
func ReadAt[T any](path string, offset int64) (*T, error) {
	// #nosec G304 - path is a katra-managed storage file, not user input
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open jsonl file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, os.SEEK_SET); err != nil {
		return nil, fmt.Errorf("seek jsonl file: %w", err)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("scan jsonl at offset %d: %w", offset, err)
		}
		return nil, fmt.Errorf("no line at offset %d", offset)
	}
	var v T
	if err := json.Unmarshal(scanner.Bytes(), &v); err != nil {
		return nil, fmt.Errorf("parse line at offset %d: %w", offset, err)
	}
	return &v, nil
}

// RewriteFile atomically replaces path's contents with one line per value
// in vs, via a temp-file-then-rename so a crash mid-write never corrupts
// the existing bucket.
func RewriteFile(path string, vs []any) error {
	tmp := path + ".tmp"
	// #nosec G304 - path is a katra-managed storage file, not user input
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp jsonl file: %w", err)
	}

	w := bufio.NewWriter(file)
	for _, v := range vs {
		data, err := json.Marshal(v)
		if err != nil {
			file.Close()
			os.Remove(tmp)
			return fmt.Errorf("marshal jsonl line: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			file.Close()
			os.Remove(tmp)
			return err
		}
		if err := w.WriteByte('\n'); err != nil {
			file.Close()
			os.Remove(tmp)
			return err
		}
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tmp)
		return fmt.Errorf("flush temp jsonl file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp jsonl file: %w", err)
	}
	return nil
}

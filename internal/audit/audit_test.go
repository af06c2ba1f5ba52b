package audit

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendCreatesFileAndWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	SetDataDir(dir)

	id1, err := Append(&Entry{Kind: "llm_call", Model: "test-model", Prompt: "p", Response: "r"})
	require.NoError(t, err)
	require.NotEmpty(t, id1)

	_, err = Append(&Entry{Kind: "archive", CIID: "agent-1", DigestID: "dig-001", RecordIDs: []string{"rec-1", "rec-2"}})
	require.NoError(t, err)

	path := filepath.Join(dir, FileName)
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	lines := 0
	for sc.Scan() {
		lines++
	}
	require.NoError(t, sc.Err())
	require.Equal(t, 2, lines)
}

func TestAppendAssignsTimestampWhenZero(t *testing.T) {
	dir := t.TempDir()
	SetDataDir(dir)

	e := &Entry{Kind: "evict", CIID: "agent-1"}
	_, err := Append(e)
	require.NoError(t, err)
	require.False(t, e.Timestamp.IsZero())
}

func TestAppendRequiresDataDir(t *testing.T) {
	SetDataDir("")
	_, err := Append(&Entry{Kind: "maintenance_tick"})
	require.Error(t, err)
}

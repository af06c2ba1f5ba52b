package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	require.NoError(t, err)
	return out.String()
}

func TestInitHealthFlushTickEndToEnd(t *testing.T) {
	dir := t.TempDir()

	runCLI(t, "--data-dir", dir, "init")
	runCLI(t, "--data-dir", dir, "health")
	runCLI(t, "--data-dir", dir, "flush")
	runCLI(t, "--data-dir", dir, "tick")
}

func TestRegisterSayHearRoundTrip(t *testing.T) {
	dir := t.TempDir()
	runCLI(t, "--data-dir", dir, "init")

	runCLI(t, "--data-dir", dir, "register", "alice", "Alice")
	runCLI(t, "--data-dir", dir, "register", "bob", "Bob")

	runCLI(t, "--data-dir", dir, "say", "alice", "hello everyone")

	out := runCLI(t, "--data-dir", dir, "hear", "bob")
	require.Contains(t, out, "hello everyone")
}

func TestArchiveCommandRunsWithoutError(t *testing.T) {
	dir := t.TempDir()
	runCLI(t, "--data-dir", dir, "init")
	runCLI(t, "--data-dir", dir, "archive", "alice", "--days", "7")
}

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/diffsync/internal/perspective"
)

// testReplica writes a config pointing data and identity into a temp dir and
// returns a runner for CLI invocations against it.
func testReplica(t *testing.T) func(args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "diffsync.yaml")
	body := "data_dir: " + dir + "\nidentity_path: " + filepath.Join(dir, "identity.json") + "\n"
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0644))

	return func(args ...string) (string, error) {
		root := newRootCmd()
		var out, errOut bytes.Buffer
		root.SetOut(&out)
		root.SetErr(&errOut)
		root.SetArgs(append([]string{"--config", cfgPath}, args...))
		err := root.Execute()
		return out.String(), err
	}
}

func TestCLI_AddRenderRemove(t *testing.T) {
	run := testReplica(t)

	out, err := run("render")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = run("add", "note://1", "tagged", "topic://go")
	require.NoError(t, err)
	_, err = run("add", "note://2", "", "topic://go")
	require.NoError(t, err)

	out, err = run("render")
	require.NoError(t, err)
	assert.Contains(t, out, "note://1 tagged topic://go")
	assert.Contains(t, out, "note://2 - topic://go")

	_, err = run("remove", "note://1", "tagged", "topic://go")
	require.NoError(t, err)
	_, err = run("remove", "note://1", "tagged", "topic://go")
	assert.Error(t, err, "nothing left to remove")

	out, err = run("render", "--json")
	require.NoError(t, err)
	var p perspective.Perspective
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	require.Len(t, p.Links, 1)
	assert.Equal(t, "note://2", *p.Links[0].Data.Source)

	out, err = run("revisions")
	require.NoError(t, err)
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 3)

	out, err = run("pull")
	require.NoError(t, err)
	assert.Equal(t, "0 additions, 0 removals\n", out)
}

func TestCLI_CommitFile(t *testing.T) {
	run := testReplica(t)
	dir := t.TempDir()

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"additions":[{"author":"did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK","data":{"source":"a"},"timestamp":"2024-01-01T00:00:00Z","proof":{"signature":"00","key":"did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK"}}],"removals":[]}`), 0644))
	_, err := run("commit", "-f", bad)
	assert.Error(t, err)

	_, err = run("commit")
	assert.Error(t, err, "file flag is required")

	out, err := run("render", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"links":[]}`, out)
}

func TestCLI_Peers(t *testing.T) {
	run := testReplica(t)
	const bob = "did:key:z6MkhaXgBZDvotDkL5257faiztiGiC2QtKLGpbnnEGta2doK"

	out, err := run("peers", "add", bob, "--url", "ws://bob.example/signals")
	require.NoError(t, err)
	assert.Contains(t, out, "brave-raven")

	_, err = run("peers", "add", "did:web:example.com")
	assert.Error(t, err)

	out, err = run("peers", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "brave-raven")
	assert.Contains(t, out, "never")

	_, err = run("peers", "remove", "brave-raven")
	require.NoError(t, err)
	out, err = run("peers", "list")
	require.NoError(t, err)
	assert.NotContains(t, out, bob)
}

func TestCLI_RejectsUnknownBackend(t *testing.T) {
	run := testReplica(t)
	_, err := run("--backend", "postgres", "render")
	assert.Error(t, err)
}

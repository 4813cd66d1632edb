package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, stdin string, args ...string) (stdout, stderr string, err error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err = cmd.Execute()
	return out.String(), errOut.String(), err
}

func lines(s string) []string {
	return strings.Split(strings.TrimSpace(s), "\n")
}

const sampleEvents = `{"source":"svc1","severity":"info","message":"A","attributes":{"region":"eu"}}
{"source":"svc2","severity":"error","message":"B","attributes":{"region":"us"}}

{"source":"svc1","severity":"critical","message":"C","attributes":{"region":"eu","retries":5}}
`

func seed(t *testing.T) string {
	t.Helper()
	db := filepath.Join(t.TempDir(), "events.db")
	_, _, err := run(t, sampleEvents, "ingest", "--db", db)
	require.NoError(t, err)
	return db
}

func TestVersion(t *testing.T) {
	orig := [3]string{appVersion, appCommit, appDate}
	defer func() { appVersion, appCommit, appDate = orig[0], orig[1], orig[2] }()
	SetVersionInfo("1.2.3", "abc1234", "2026-02-13")

	out, _, err := run(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "evmon 1.2.3")
	assert.Contains(t, out, "abc1234")
}

func TestUnknownCommand(t *testing.T) {
	_, _, err := run(t, "", "nonexistent-command")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown command")
}

func TestIngestReportsEveryLine(t *testing.T) {
	db := filepath.Join(t.TempDir(), "events.db")
	input := sampleEvents + `{"source":"svc1","severity":"fatal","message":"D"}` + "\n" + "not json\n"

	out, _, err := run(t, input, "ingest", "--db", db)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 5 events rejected")

	results := lines(out)
	require.Len(t, results, 5)
	var first, bad, garbage lineResult
	require.NoError(t, json.Unmarshal([]byte(results[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(results[3]), &bad))
	require.NoError(t, json.Unmarshal([]byte(results[4]), &garbage))
	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, 5, bad.Line)
	assert.Equal(t, "validation_error", bad.Kind)
	assert.Equal(t, "invalid_request", garbage.Kind)
}

func TestIngestMistypedLine(t *testing.T) {
	db := filepath.Join(t.TempDir(), "events.db")
	input := `{"source":"svc1","severity":"info","message":"m","occurred_at":1700000000}` + "\n"

	out, _, err := run(t, input, "ingest", "--db", db)
	require.Error(t, err)

	var res lineResult
	require.NoError(t, json.Unmarshal([]byte(lines(out)[0]), &res))
	assert.Equal(t, "invalid_timestamp", res.Kind)
	require.Len(t, res.Fields, 1)
	assert.Equal(t, "occurred_at", res.Fields[0].Field)
}

func TestIngestFromFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "events.jsonl")
	require.NoError(t, os.WriteFile(file, []byte(sampleEvents), 0o644))

	out, _, err := run(t, "", "ingest", "--db", filepath.Join(dir, "events.db"), "-f", file)
	require.NoError(t, err)
	assert.Len(t, lines(out), 3)

	_, _, err = run(t, "", "ingest", "--db", filepath.Join(dir, "events.db"), "-f", filepath.Join(dir, "missing.jsonl"))
	assert.Error(t, err)
}

func messages(t *testing.T, out string) []string {
	t.Helper()
	var msgs []string
	for _, l := range lines(out) {
		if l == "" {
			continue
		}
		var ev struct {
			Message string `json:"message"`
		}
		require.NoError(t, json.Unmarshal([]byte(l), &ev))
		msgs = append(msgs, ev.Message)
	}
	return msgs
}

func TestQuery(t *testing.T) {
	db := seed(t)

	out, _, err := run(t, "", "query", "--db", db, "--source", "svc1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "C"}, messages(t, out))

	out, _, err = run(t, "", "query", "--db", db, "--severity-min", "error")
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, messages(t, out))

	out, _, err = run(t, "", "query", "--db", db, "--attr", "region=eu", "--where", "attributes.retries > 3")
	require.NoError(t, err)
	assert.Equal(t, []string{"C"}, messages(t, out))

	out, stderr, err := run(t, "", "query", "--db", db, "--limit", "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, messages(t, out))
	assert.Contains(t, stderr, "next cursor: ")

	out, _, err = run(t, "", "query", "--db", db, "--limit", "1", "--all")
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, messages(t, out))

	_, _, err = run(t, "", "query", "--db", db, "--severity-min", "loud")
	assert.Error(t, err)
}

func TestGet(t *testing.T) {
	db := seed(t)

	out, _, err := run(t, "", "get", "--db", db, "2")
	require.NoError(t, err)
	assert.Contains(t, out, `"message": "B"`)

	_, _, err = run(t, "", "get", "--db", db, "99")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestStats(t *testing.T) {
	db := seed(t)

	out, _, err := run(t, "", "stats", "--db", db)
	require.NoError(t, err)
	var stats struct {
		Total      int64            `json:"total"`
		BySeverity map[string]int64 `json:"by_severity"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &stats))
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(1), stats.BySeverity["critical"])
}

func TestPruneAndReindex(t *testing.T) {
	db := seed(t)

	_, _, err := run(t, "", "prune", "--db", db)
	require.Error(t, err, "--older-than is required")

	out, _, err := run(t, "", "prune", "--db", db, "--older-than", "1h")
	require.NoError(t, err)
	assert.Contains(t, out, "pruned 0 events")

	out, _, err = run(t, "", "reindex", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "reindexed 3 events")
}

func TestServeFailsWhenStoreUnusable(t *testing.T) {
	db := filepath.Join(t.TempDir(), "no-such-dir", "events.db")
	_, _, err := run(t, "", "serve", "--db", db, "--addr", "127.0.0.1:0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open store")
}

func TestInvalidLimitsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\nquery:\n  default_limit: 10\n  max_limit: 5\n"), 0o644))

	_, _, err := run(t, "", "stats", "--db", filepath.Join(t.TempDir(), "events.db"), "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query.default_limit")
}

func TestLimitsFileApplies(t *testing.T) {
	db := seed(t)
	path := filepath.Join(t.TempDir(), "limits.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: \"1\"\nquery:\n  default_limit: 2\n"), 0o644))

	out, _, err := run(t, "", "query", "--db", db, "--config", path)
	require.NoError(t, err)
	assert.Len(t, messages(t, out), 2)
}

func TestBadLogLevel(t *testing.T) {
	_, _, err := run(t, "", "stats", "--db", filepath.Join(t.TempDir(), "events.db"), "--log-level", "chatty")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chatty")
}

package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/fandomvelocity/internal/ledger"
	"github.com/roach88/fandomvelocity/internal/store"
)

// cliEnv runs root commands against one database file.
type cliEnv struct {
	t   *testing.T
	dir string
	db  string
}

func newCLIEnv(t *testing.T) *cliEnv {
	dir := t.TempDir()
	return &cliEnv{t: t, dir: dir, db: filepath.Join(dir, "velocity.db")}
}

func (e *cliEnv) run(args ...string) (string, error) {
	e.t.Helper()
	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(""))
	cmd.SetArgs(append([]string{"--db", e.db}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (e *cliEnv) mustRun(args ...string) string {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, out)
	return out
}

func (e *cliEnv) write(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// jsonData decodes a successful JSON response and returns its data.
func jsonData(t *testing.T, out string) json.RawMessage {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status)
	return resp.Data
}

func jsonErrorCode(t *testing.T, out string) string {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	return resp.Error.Code
}

func TestRecordCommands(t *testing.T) {
	env := newCLIEnv(t)
	payload := env.write("ana.json", `{"a":1}`)

	out := env.mustRun("record", "put", "ds-1", "profile", "r1", payload, "--platform", "tiktok")
	assert.Equal(t, "Stored r1 (none, 7 bytes)\n", out)

	out = env.mustRun("record", "get", "r1")
	assert.Equal(t, "{\"a\":1}\n", out)

	out = env.mustRun("record", "list", "ds-1")
	assert.Contains(t, out, "r1\tprofile\ttiktok\t")

	out = env.mustRun("record", "list", "ds-1", "--platform", "instagram")
	assert.Equal(t, "No records found.\n", out)

	out = env.mustRun("record", "delete", "r1")
	assert.Equal(t, "Deleted r1\n", out)

	_, err := env.run("record", "delete", "r1")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, store.ErrNotFound)

	out, err = env.run("--format", "json", "record", "get", "r1")
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, jsonErrorCode(t, out))
}

func TestRecordPutFromStdin(t *testing.T) {
	env := newCLIEnv(t)

	out := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(`{"username":"zoe"}`))
	cmd.SetArgs([]string{"--db", env.db, "record", "put", "ds-1", "profile", "r2"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "{\"username\":\"zoe\"}\n", env.mustRun("record", "get", "r2"))
}

func TestRecordPutRejectsInvalidJSON(t *testing.T) {
	env := newCLIEnv(t)
	payload := env.write("bad.json", `{"a":`)

	out, err := env.run("--format", "json", "record", "put", "ds-1", "profile", "r1", payload)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, CodeInvalidArgument, jsonErrorCode(t, out))
}

func TestRecordPutChunksLargePayloads(t *testing.T) {
	env := newCLIEnv(t)
	cfg := env.write("velocity.yaml", `records:
  compression_threshold: 100000
  max_chunk_size: 256
`)
	body := `{"blob":"` + strings.Repeat("x", 2989) + `"}`
	require.Len(t, body, 3000)
	payload := env.write("big.json", body)

	out := env.mustRun("--config", cfg, "record", "put", "ds-1", "blob", "big", payload)
	assert.Equal(t, "Stored big (none, 3000 bytes, 12 chunks)\n", out)

	out = env.mustRun("--config", cfg, "record", "get", "big")
	assert.Equal(t, body+"\n", out)

	out = env.mustRun("--config", cfg, "record", "prune", "--older-than", "0s")
	assert.Equal(t, "Pruned 0 orphan chunk rows\n", out)
}

func TestBalanceCommands(t *testing.T) {
	env := newCLIEnv(t)

	assert.Equal(t, "u1: 0.00\n", env.mustRun("balance", "show", "u1"))
	assert.Equal(t, "u1: 10.00\n", env.mustRun("balance", "credit", "u1", "10"))
	assert.Equal(t, "u1: 7.75\n", env.mustRun("balance", "debit", "u1", "2.25", "-d", "sticker pack"))

	_, err := env.run("balance", "debit", "u1", "25")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	_, err = env.run("balance", "credit", "u1", "abc")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = env.run("balance", "credit", "u1", "0.001")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidAmount)

	out := env.mustRun("--format", "json", "balance", "show", "u1")
	assert.JSONEq(t, `{"userId":"u1","balance":7.75,"credits":7.75}`, string(jsonData(t, out)))

	out = env.mustRun("balance", "history", "u1")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "sticker pack")
	assert.Contains(t, lines[1], "manual credit")

	out = env.mustRun("balance", "history", "u1", "-n", "1")
	assert.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1)

	assert.Equal(t, "No transactions.\n", env.mustRun("balance", "history", "nobody"))
}

func TestPaymentCommands(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun("payment", "create", "p1", "u1", "20")
	assert.Equal(t, "Payment p1: pending 20.00 for u1\n", out)

	out = env.mustRun("payment", "complete", "p1", "u1", "20")
	assert.Equal(t, "Payment p1 settled; u1 balance 20.00\n", out)

	// Redelivery credits nothing.
	out = env.mustRun("payment", "complete", "p1", "u1", "20")
	assert.Equal(t, "Payment p1 already succeeded; u1 balance 20.00\n", out)
	assert.Equal(t, "u1: 20.00\n", env.mustRun("balance", "show", "u1"))

	out, err := env.run("--format", "json", "payment", "complete", "nope", "u1", "20")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, CodePaymentNotFound, jsonErrorCode(t, out))

	env.mustRun("payment", "create", "p2", "u1", "5")
	out, err = env.run("--format", "json", "payment", "complete", "p2", "u1", "6")
	require.Error(t, err)
	assert.Equal(t, CodePaymentMismatch, jsonErrorCode(t, out))

	out = env.mustRun("payment", "cancel", "p2")
	assert.Equal(t, "Payment p2: cancelled 5.00 for u1\n", out)

	_, err = env.run("payment", "fail", "p2")
	require.Error(t, err)
	assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

	env.mustRun("payment", "create", "p3", "u1", "5")
	out = env.mustRun("payment", "fail", "p3")
	assert.Equal(t, "Payment p3: failed 5.00 for u1\n", out)
}

func TestMetricsFileExport(t *testing.T) {
	env := newCLIEnv(t)
	metricsPath := filepath.Join(env.dir, "velocity.prom")

	env.mustRun("payment", "create", "pm1", "u1", "20")
	env.mustRun("--metrics-file", metricsPath, "payment", "complete", "pm1", "u1", "20")

	raw, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	text := string(raw)
	assert.Contains(t, text, "# TYPE velocity_payments_settled_total counter")
	assert.Regexp(t, `(?m)^velocity_payments_settled_total [1-9]`, text)

	// metrics_file from the config; failed commands still export.
	cfgMetrics := filepath.Join(env.dir, "from-config.prom")
	cfg := env.write("metrics.yaml", "metrics_file: "+cfgMetrics+"\n")
	_, err = env.run("--config", cfg, "payment", "complete", "missing", "u1", "20")
	require.Error(t, err)
	raw, err = os.ReadFile(cfgMetrics)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "velocity_payments_settled_total")
}

func TestMetricsFileNotWrittenByDefault(t *testing.T) {
	env := newCLIEnv(t)
	env.mustRun("balance", "show", "u1")

	entries, err := os.ReadDir(env.dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, ".prom", filepath.Ext(e.Name()))
	}
}

const testCatalog = `promos: {
	welcome10: {
		value:   10.00
		maxUses: 1
	}
	RETIRED: {
		value:  2.50
		active: false
	}
}
`

func TestPromoCommands(t *testing.T) {
	env := newCLIEnv(t)
	catalog := env.write("promos.cue", testCatalog)

	out := env.mustRun("promo", "load", catalog)
	assert.Equal(t, "Loaded 2 promo codes from "+catalog+"\n", out)

	out = env.mustRun("promo", "show", "welcome10")
	assert.Equal(t, "WELCOME10: 10.00 credits, 0/1 uses, active=true\n", out)

	out = env.mustRun("promo", "redeem", "WELCOME10", "u1")
	assert.Equal(t, "Redeemed WELCOME10: +10.00, u1 balance 10.00\n", out)

	tests := []struct {
		code, user, want string
	}{
		{"WELCOME10", "u1", "PROMO_ALREADY_REDEEMED"},
		{"WELCOME10", "u2", "PROMO_EXHAUSTED"},
		{"RETIRED", "u2", "PROMO_INACTIVE"},
		{"MISSING", "u2", "PROMO_NOT_FOUND"},
	}
	for _, tt := range tests {
		out, err := env.run("--format", "json", "promo", "redeem", tt.code, tt.user)
		require.Error(t, err)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.Equal(t, tt.want, jsonErrorCode(t, out), "%s by %s", tt.code, tt.user)
	}

	assert.Equal(t, "u2: 0.00\n", env.mustRun("balance", "show", "u2"))
}

func TestPromoLoadFromConfig(t *testing.T) {
	env := newCLIEnv(t)
	catalog := env.write("promos.cue", testCatalog)
	cfg := env.write("velocity.yaml", "promo_catalog: "+catalog+"\n")

	out := env.mustRun("--config", cfg, "promo", "load")
	assert.Contains(t, out, "Loaded 2 promo codes")

	_, err := env.run("promo", "load")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPromoLoadRejectsInvalidCatalog(t *testing.T) {
	env := newCLIEnv(t)
	catalog := env.write("bad.cue", "promos: {\n\tFREE: value: 0\n}\n")

	out, err := env.run("--format", "json", "promo", "load", catalog)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Equal(t, "CATALOG_INVALID", jsonErrorCode(t, out))
}

func TestConfigErrors(t *testing.T) {
	env := newCLIEnv(t)
	cfg := env.write("velocity.yaml", "records:\n  max_chunk_size: 0\n")

	_, err := env.run("--config", cfg, "balance", "show", "u1")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "max_chunk_size")
}

const testExport = `[
  {"username": "Ana", "followersCount": 12000000001, "followersList": [{"username": "f1"}, {"username": "f2"}]},
  {"username": "zoe", "error": "private account"},
  {"username": "@kai", "platform": "tiktok"}
]`

func TestIngestCommand(t *testing.T) {
	env := newCLIEnv(t)
	export := env.write("profiles.json", testExport)

	out, err := env.run("ingest", "--dataset", "ds-1", export)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✓ Ana -> ds-1/profile/ana\n")
	assert.Contains(t, out, "✗ zoe: private account\n")
	assert.Contains(t, out, "✓ kai -> ds-1/profile/kai\n")
	assert.Contains(t, out, "Ingest Summary: 2 stored, 1 failed")

	var profile map[string]any
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("record", "get", "ds-1/profile/ana")), &profile))
	assert.Equal(t, "instagram", profile["platform"])
	assert.Equal(t, "Ana", profile["username"])
	assert.NotEmpty(t, profile["scrapedAt"])

	out = env.mustRun("record", "list", "ds-1", "--platform", "tiktok")
	assert.Contains(t, out, "ds-1/profile/kai\tprofile\ttiktok")
}

func TestIngestReplaysIdenticalRuns(t *testing.T) {
	env := newCLIEnv(t)
	export := env.write("profiles.json", testExport)

	out := env.mustRun("ingest", "--dataset", "ds-1", "--users", "ana,kai", export)
	assert.NotContains(t, out, "Replayed")
	assert.Contains(t, out, "2 stored, 0 failed")

	out = env.mustRun("ingest", "--dataset", "ds-1", "--users", "ana,kai", export)
	assert.Contains(t, out, "Replayed earlier run")

	// A different request is not a replay, but the profiles are cached.
	out = env.mustRun("ingest", "--dataset", "ds-2", "--users", "ana", export)
	assert.NotContains(t, out, "Replayed")
	assert.Contains(t, out, "✓ ana -> ds-2/profile/ana (cached)")
}

func TestIngestFollowersMode(t *testing.T) {
	env := newCLIEnv(t)
	export := env.write("profiles.json", testExport)

	out := env.mustRun("--format", "json", "ingest", "--dataset", "ds-1", "--users", "ana",
		"--mode", "followers", "--limit", "1", export)
	var report struct {
		Mode      string `json:"mode"`
		Succeeded int    `json:"succeeded"`
	}
	require.NoError(t, json.Unmarshal(jsonData(t, out), &report))
	assert.Equal(t, "followers", report.Mode)
	assert.Equal(t, 1, report.Succeeded)

	var profile struct {
		FollowersList []map[string]any `json:"followersList"`
	}
	require.NoError(t, json.Unmarshal([]byte(env.mustRun("record", "get", "ds-1/profile/ana")), &profile))
	require.Len(t, profile.FollowersList, 1)
	assert.Equal(t, "f1", profile.FollowersList[0]["username"])
}

func TestIngestErrors(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run("ingest", "--dataset", "ds-1", filepath.Join(env.dir, "missing.json"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	noName := env.write("noname.json", `[{"fullName": "Ana"}]`)
	_, err = env.run("ingest", "--dataset", "ds-1", noName)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no username")

	export := env.write("profiles.json", testExport)
	out, err := env.run("--format", "json", "ingest", "--dataset", "ds-1", "--mode", "stories", export)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidArgument, jsonErrorCode(t, out))
}

func TestParseExportKeepsLargeNumbers(t *testing.T) {
	f, order, err := parseExport([]byte(testExport))
	require.NoError(t, err)
	assert.Equal(t, []string{"Ana", "zoe", "kai"}, order)

	p, err := f.Fetch(t.Context(), "ANA")
	require.NoError(t, err)
	assert.Equal(t, json.Number("12000000001"), p["followersCount"])

	_, err = f.Fetch(t.Context(), "zoe")
	assert.EqualError(t, err, "private account")

	_, err = f.Fetch(t.Context(), "nobody")
	assert.ErrorIs(t, err, errProfileMissing)
}

func TestCacheCommands(t *testing.T) {
	env := newCLIEnv(t)
	export := env.write("profiles.json", testExport)
	env.mustRun("ingest", "--dataset", "ds-1", "--users", "ana,kai", export)

	out := env.mustRun("cache", "sweep")
	assert.Equal(t, "Removed 0 fingerprints, 0 profiles, 0 responses\n", out)

	out = env.mustRun("cache", "forget", "@ANA")
	assert.Equal(t, "Removed 1 cached profiles\n", out)

	out = env.mustRun("ingest", "--dataset", "ds-2", "--users", "ana,kai", export)
	assert.Contains(t, out, "✓ ana -> ds-2/profile/ana\n")
	assert.Contains(t, out, "✓ kai -> ds-2/profile/kai (cached)\n")

	out = env.mustRun("cache", "forget", "--all")
	assert.Equal(t, "Removed 2 cached profiles\n", out)

	_, err := env.run("cache", "forget")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

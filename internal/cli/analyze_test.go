package cli

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scoringProvider = `#!/bin/sh
echo call >> "$(dirname "$0")/calls.log"
cat > /dev/null
echo '{"velocity": 0.8}'
`

const failingProvider = `#!/bin/sh
echo call >> "$(dirname "$0")/calls.log"
echo "quota exceeded" >&2
exit 3
`

func (e *cliEnv) provider(name, script string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func (e *cliEnv) providerCalls() int {
	e.t.Helper()
	raw, err := os.ReadFile(filepath.Join(e.dir, "calls.log"))
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(e.t, err)
	return strings.Count(string(raw), "call\n")
}

func TestAnalyzeMemoizesResponses(t *testing.T) {
	env := newCLIEnv(t)
	provider := env.provider("score.sh", scoringProvider)
	first := env.write("a.json", `{"user":"ana","window":7}`)
	second := env.write("b.json", `{ "window": 7.0, "user": "ana" }`)

	out := env.mustRun("analyze", first, "--", provider)
	assert.JSONEq(t, `{"velocity":0.8}`, out)
	assert.Equal(t, 1, env.providerCalls())

	out = env.mustRun("--format", "json", "analyze", second, "--", provider)
	assert.JSONEq(t, `{"velocity":0.8}`, string(jsonData(t, out)))
	assert.Equal(t, 1, env.providerCalls(), "same canonical input is served from the cache")

	// A different operation is a different fingerprint.
	env.mustRun("analyze", first, "--operation", "summary", "--", provider)
	assert.Equal(t, 2, env.providerCalls())
}

func TestAnalyzeProviderFailureIsNotCached(t *testing.T) {
	env := newCLIEnv(t)
	provider := env.provider("fail.sh", failingProvider)
	input := env.write("a.json", `{"user":"ana"}`)

	out, err := env.run("--format", "json", "analyze", input, "--", provider)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, CodeProviderFailed, jsonErrorCode(t, out))
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Contains(t, err.Error(), "quota exceeded")

	_, err = env.run("analyze", input, "--", provider)
	require.Error(t, err)
	assert.Equal(t, 2, env.providerCalls())
}

func TestAnalyzeRejectsNonJSONResponse(t *testing.T) {
	env := newCLIEnv(t)
	provider := env.provider("text.sh", "#!/bin/sh\necho not json\n")
	input := env.write("a.json", `{}`)

	_, err := env.run("analyze", input, "--", provider)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestAnalyzeArgumentErrors(t *testing.T) {
	env := newCLIEnv(t)
	provider := env.provider("score.sh", scoringProvider)
	input := env.write("a.json", `{}`)
	bad := env.write("bad.json", `{`)

	_, err := env.run("analyze", input, provider)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "<provider>")

	_, err = env.run("analyze", bad, "--", provider)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	_, err = env.run("analyze", input, "--ttl=-1h", "--", provider)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Zero(t, env.providerCalls())
}

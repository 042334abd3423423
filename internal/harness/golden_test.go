package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// To regenerate: go test ./internal/harness -run TestGolden -update
func TestGolden_TestdataScenarios(t *testing.T) {
	files, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)

	for _, f := range files {
		scenario, err := LoadScenario(f)
		require.NoError(t, err)
		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestGolden_SnapshotIsCanonical(t *testing.T) {
	result := NewResult()
	result.Steps = append(result.Steps, StepResult{
		Phase:    PhaseFlow,
		Index:    0,
		Action:   ActionDebit,
		Outcomes: map[string]int{"ok": 1, "insufficient_balance": 2},
		Balance:  "0.00",
	})
	result.Balances["user_B"] = "0.00"
	result.Balances["user_A"] = "1.50"

	data, err := NewSnapshot("snap", result).Bytes()
	require.NoError(t, err)
	assert.Equal(t,
		`{"balances":{"user_A":"1.50","user_B":"0.00"},"scenario":"snap","steps":[{"action":"debit","balance":"0.00","index":0,"outcomes":{"insufficient_balance":2,"ok":1},"phase":"flow"}]}`,
		string(data))
}

func TestGolden_CompareAndUpdate(t *testing.T) {
	scenario := mustParse(t, minimalScenario)
	result, err := Run(scenario)
	require.NoError(t, err)

	dir := t.TempDir()
	scenarioFile := filepath.Join(dir, "minimal.yaml")
	goldenPath := GoldenPath(scenarioFile)
	assert.Equal(t, filepath.Join(dir, "golden", "minimal.golden"), goldenPath)

	_, err = CompareGolden(scenario, result, goldenPath)
	assert.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, UpdateGolden(scenario, result, goldenPath))
	match, err := CompareGolden(scenario, result, goldenPath)
	require.NoError(t, err)
	assert.True(t, match)

	require.NoError(t, os.WriteFile(goldenPath, []byte("{}"), 0o644))
	match, err = CompareGolden(scenario, result, goldenPath)
	require.NoError(t, err)
	assert.False(t, match)
}

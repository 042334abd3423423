package fingerprint

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func TestCompute_Determinism(t *testing.T) {
	input := map[string]any{"usernames": []string{"alice", "bob"}, "mode": "enrich"}

	fp1, err := Compute("enrich", input)
	require.NoError(t, err)
	fp2, err := Compute("enrich", input)
	require.NoError(t, err)

	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 64, "hex BLAKE3-256")
}

func TestCompute_KeyOrderAndSpellingInsensitive(t *testing.T) {
	a := MustCompute("analyze", json.RawMessage(`{"b":1.0,"a":"x"}`))
	b := MustCompute("analyze", json.RawMessage(`{"a":"x","b":1}`))
	assert.Equal(t, a, b)
}

func TestCompute_ChangesWithOperationAndInput(t *testing.T) {
	base := MustCompute("enrich", json.RawMessage(`{"u":"alice"}`))

	assert.NotEqual(t, base, MustCompute("followers", json.RawMessage(`{"u":"alice"}`)))
	assert.NotEqual(t, base, MustCompute("enrich", json.RawMessage(`{"u":"bob"}`)))
}

func TestCompute_MatchesDocumentedConstruction(t *testing.T) {
	fp, err := Compute("op", json.RawMessage(`{"k":1}`))
	require.NoError(t, err)

	data := []byte(Domain + "\x00" + `{"input":{"k":1},"operation":"op"}`)
	sum := blake3.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), fp)
}

func TestHashWithDomain_Separation(t *testing.T) {
	// Without the separator these two would hash the same bytes.
	assert.NotEqual(t,
		hashWithDomain("ab", []byte("c")),
		hashWithDomain("a", []byte("bc")),
	)
}

func TestCompute_InvalidInput(t *testing.T) {
	_, err := Compute("op", json.RawMessage(`{`))
	assert.Error(t, err)

	assert.Panics(t, func() {
		MustCompute("op", make(chan int))
	})
}

package chunk

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	rand.New(rand.NewSource(int64(n))).Read(b)
	return b
}

func TestSplit_ChunkCount(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		maxSize int
		want    int
	}{
		{"empty", 0, 10, 0},
		{"single byte", 1, 10, 1},
		{"exactly one chunk", 10, 10, 1},
		{"one byte remainder", 11, 10, 2},
		{"exact multiple", 30, 10, 3},
		{"multiple plus remainder", 31, 10, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Split("g", randomBytes(t, tt.size), tt.maxSize)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g.Total)
			assert.Len(t, g.Chunks, tt.want)
			assert.Equal(t, tt.want, Count(tt.size, tt.maxSize))
		})
	}
}

func TestSplit_ChunkFields(t *testing.T) {
	data := randomBytes(t, 25)

	g, err := Split("group-1", data, 10)
	require.NoError(t, err)

	for i, c := range g.Chunks {
		assert.Equal(t, "group-1", c.GroupID)
		assert.Equal(t, i, c.Index)
		assert.Equal(t, 3, c.Total)
		assert.LessOrEqual(t, len(c.Data), 10)
		assert.False(t, c.IsHeader())
	}
	assert.Len(t, g.Chunks[2].Data, 5)

	h := g.Header()
	assert.True(t, h.IsHeader())
	assert.Equal(t, HeaderIndex, h.Index)
	assert.Equal(t, 3, h.Total)
	assert.Empty(t, h.Data)
}

func TestSplit_InvalidArgs(t *testing.T) {
	_, err := Split("g", []byte("x"), 0)
	assert.Error(t, err)

	_, err = Split("", []byte("x"), 10)
	assert.Error(t, err)
}

func TestReassemble_RoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 9, 10, 11, 99, 100, 101, 1000} {
		data := randomBytes(t, size)

		g, err := Split("g", data, 10)
		require.NoError(t, err)

		got, err := Reassemble(g.ID, g.Total, g.Chunks)
		require.NoError(t, err, "size %d", size)
		assert.True(t, bytes.Equal(data, got), "size %d", size)
	}
}

func TestReassemble_OutOfOrderInput(t *testing.T) {
	data := randomBytes(t, 35)
	g, err := Split("g", data, 10)
	require.NoError(t, err)

	shuffled := []Chunk{g.Chunks[3], g.Chunks[0], g.Chunks[2], g.Chunks[1]}

	got, err := Reassemble(g.ID, g.Total, shuffled)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, 3, shuffled[0].Index, "input slice must not be reordered")
}

func TestReassemble_MissingChunk(t *testing.T) {
	data := randomBytes(t, 35)
	g, err := Split("g", data, 10)
	require.NoError(t, err)

	for drop := range g.Chunks {
		partial := make([]Chunk, 0, len(g.Chunks)-1)
		partial = append(partial, g.Chunks[:drop]...)
		partial = append(partial, g.Chunks[drop+1:]...)

		got, err := Reassemble(g.ID, g.Total, partial)
		assert.Nil(t, got, "drop %d: must not return a truncated payload", drop)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrCorruptChunkGroup))

		var ce *CorruptGroupError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, 4, ce.Want)
		assert.Equal(t, 3, ce.Got)
	}
}

func TestReassemble_DuplicateIndexWithRightCount(t *testing.T) {
	data := randomBytes(t, 30)
	g, err := Split("g", data, 10)
	require.NoError(t, err)

	dup := []Chunk{g.Chunks[0], g.Chunks[1], g.Chunks[1]}

	_, err = Reassemble(g.ID, g.Total, dup)
	assert.ErrorIs(t, err, ErrCorruptChunkGroup)
}

func TestReassemble_ExtraChunk(t *testing.T) {
	data := randomBytes(t, 20)
	g, err := Split("g", data, 10)
	require.NoError(t, err)

	extra := append([]Chunk{}, g.Chunks...)
	extra = append(extra, Chunk{GroupID: "g", Index: 2, Total: 2, Data: []byte("x")})

	_, err = Reassemble(g.ID, g.Total, extra)
	assert.ErrorIs(t, err, ErrCorruptChunkGroup)
}

func TestNeedsSplit(t *testing.T) {
	assert.False(t, NeedsSplit(DefaultMaxSize, DefaultMaxSize))
	assert.True(t, NeedsSplit(DefaultMaxSize+1, DefaultMaxSize))
	assert.Less(t, DefaultMaxSize, 16*1024*1024)
}

func TestUUIDv7Generator_Unique(t *testing.T) {
	gen := UUIDv7Generator{}
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := gen.Generate()
		assert.Len(t, id, 36)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

package testutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFixedIDGenerator_ReturnsInOrder(t *testing.T) {
	gen := NewFixedIDGenerator("group-a", "group-b")

	assert.Equal(t, "group-a", gen.Generate())
	assert.Equal(t, "group-b", gen.Generate())
}

func TestFixedIDGenerator_FallsBackToSequence(t *testing.T) {
	gen := NewFixedIDGenerator("only")

	assert.Equal(t, "only", gen.Generate())
	assert.Equal(t, "id-2", gen.Generate())
	assert.Equal(t, "id-3", gen.Generate())
}

func TestFixedIDGenerator_Empty(t *testing.T) {
	gen := NewFixedIDGenerator()

	assert.Equal(t, "id-1", gen.Generate())
}

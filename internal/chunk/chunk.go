// Package chunk splits oversized encoded payloads into size-bounded
// segments and reassembles them.
//
// A chunk group is one header (index HeaderIndex, no data) plus Total
// chunks with indexes 0..Total-1. Chunks are contiguous slices of a
// single already-compressed stream; they are not compressed on their
// own.
//
// Reassembly is all-or-nothing: any count or index mismatch yields
// ErrCorruptChunkGroup, never a truncated payload.
package chunk

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

const (
	// DefaultMaxSize leaves headroom under the store's 16 MiB per-record
	// cap for per-record metadata.
	DefaultMaxSize = 14 * 1024 * 1024

	// HeaderIndex is the chunk index carried by a group's header record.
	HeaderIndex = -1
)

// ErrCorruptChunkGroup marks a chunk group that cannot be reassembled.
// It is a data-integrity condition, not a retryable error.
var ErrCorruptChunkGroup = errors.New("corrupt chunk group")

// CorruptGroupError describes why a group failed reassembly.
type CorruptGroupError struct {
	GroupID string
	Want    int
	Got     int
	Reason  string
}

func (e *CorruptGroupError) Error() string {
	return fmt.Sprintf("chunk group %s: %s (want %d chunks, got %d)", e.GroupID, e.Reason, e.Want, e.Got)
}

func (e *CorruptGroupError) Unwrap() error {
	return ErrCorruptChunkGroup
}

// Chunk is one segment of a group.
type Chunk struct {
	GroupID string
	Index   int
	Total   int
	Data    []byte
}

// IsHeader reports whether c is a group header.
func (c Chunk) IsHeader() bool {
	return c.Index == HeaderIndex
}

// Group is the result of a split.
type Group struct {
	ID     string
	Total  int
	Chunks []Chunk
}

// Header returns the header record for the group.
func (g Group) Header() Chunk {
	return Chunk{GroupID: g.ID, Index: HeaderIndex, Total: g.Total}
}

// NeedsSplit reports whether a payload of size n must be chunked.
func NeedsSplit(n, maxSize int) bool {
	return n > maxSize
}

// Count returns ceil(n / maxSize).
func Count(n, maxSize int) int {
	return (n + maxSize - 1) / maxSize
}

// Split cuts data into ceil(len/maxSize) contiguous chunks tagged with
// groupID. Chunks alias data; callers must not mutate it afterwards.
func Split(groupID string, data []byte, maxSize int) (Group, error) {
	if maxSize <= 0 {
		return Group{}, fmt.Errorf("split: max size must be positive, got %d", maxSize)
	}
	if groupID == "" {
		return Group{}, fmt.Errorf("split: group id is required")
	}

	total := Count(len(data), maxSize)
	chunks := make([]Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * maxSize
		end := start + maxSize
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, Chunk{
			GroupID: groupID,
			Index:   i,
			Total:   total,
			Data:    data[start:end],
		})
	}

	return Group{ID: groupID, Total: total, Chunks: chunks}, nil
}

// Reassemble concatenates the chunks of a group in index order.
//
// total is the count declared by the group's header. The chunk set must
// contain exactly indexes 0..total-1; anything else returns a
// *CorruptGroupError wrapping ErrCorruptChunkGroup. The input slice is
// not modified.
func Reassemble(groupID string, total int, chunks []Chunk) ([]byte, error) {
	if len(chunks) != total {
		return nil, &CorruptGroupError{
			GroupID: groupID,
			Want:    total,
			Got:     len(chunks),
			Reason:  "chunk count mismatch",
		}
	}

	ordered := make([]Chunk, len(chunks))
	copy(ordered, chunks)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].Index < ordered[j].Index
	})

	size := 0
	for i, c := range ordered {
		if c.Index != i {
			return nil, &CorruptGroupError{
				GroupID: groupID,
				Want:    total,
				Got:     len(chunks),
				Reason:  fmt.Sprintf("missing chunk index %d", i),
			}
		}
		size += len(c.Data)
	}

	out := make([]byte, 0, size)
	for _, c := range ordered {
		out = append(out, c.Data...)
	}
	return out, nil
}

// IDGenerator generates chunk group ids.
// Implemented by UUIDv7Generator (production) and testutil.FixedIDGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 group ids, so groups
// written later sort later when inspecting the store.
//
// Thread-safety: UUIDv7Generator is stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 and returns it as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

package store

import (
	"path/filepath"
	"testing"
	"time"
)

var testNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestRecord creates a standalone record with minimal required fields.
func createTestRecord(id, datasetID string, createdAt time.Time) PhysicalRecord {
	return PhysicalRecord{
		ID:          id,
		DatasetID:   datasetID,
		RecordType:  "profile",
		Platform:    "instagram",
		Data:        []byte(`{"id":"` + id + `"}`),
		Compression: "none",
		CreatedAt:   createdAt,
	}
}

func entry(userID string, cents int64, kind string) TransactionEntry {
	return TransactionEntry{
		UserID:      userID,
		Amount:      cents,
		Description: kind + " for " + userID,
		Type:        kind,
		CreatedAt:   testNow,
	}
}

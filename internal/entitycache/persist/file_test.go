package persist_test

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/actumdigital/crm-mcp/internal/entitycache/persist"
)

func TestFileStore_MissingFileLoadsEmpty(t *testing.T) {
	store, err := persist.NewFileStore(filepath.Join(t.TempDir(), "cache.json"))
	require.NoError(t, err)

	doc, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, doc)
}

func TestFileStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	store, err := persist.NewFileStore(path)
	require.NoError(t, err)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	in := persist.Document{
		"user_u-1":     {Name: "Jane Doe", Timestamp: ts, Outcome: "success"},
		"division_d-1": {Name: "Sales", Timestamp: ts, Outcome: "success"},
		"account_a-1":  {Name: "Not found (a-1...)", Timestamp: ts, Outcome: "not_found"},
	}
	require.NoError(t, store.Save(in))

	out, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestFileStore_DocumentShapeOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	store, err := persist.NewFileStore(path)
	require.NoError(t, err)

	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(persist.Document{
		"user_u-1": {Name: "Jane Doe", Timestamp: ts, Outcome: "success"},
	}))

	// The on-disk format is a plain JSON object keyed "{type}_{id}" with
	// name/timestamp records, so older deployments can read it back.
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var raw map[string]map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &raw))
	require.Contains(t, raw, "user_u-1")
	assert.Equal(t, "Jane Doe", raw["user_u-1"]["name"])
	assert.Contains(t, raw["user_u-1"], "timestamp")
}

func TestFileStore_LegacyRecordsWithoutOutcome(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	legacy := `{"user_u-1": {"name": "Jane Doe", "timestamp": "2025-06-01T12:00:00Z"}}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	store, err := persist.NewFileStore(path)
	require.NoError(t, err)

	doc, err := store.Load()
	require.NoError(t, err)
	require.Contains(t, doc, "user_u-1")
	assert.Equal(t, "Jane Doe", doc["user_u-1"].Name)
	assert.Empty(t, doc["user_u-1"].Outcome)
}

func TestFileStore_CorruptFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store, err := persist.NewFileStore(path)
	require.NoError(t, err)

	_, err = store.Load()
	assert.Error(t, err, "corrupt content must surface as an error for the cache to log")
}

func TestFileStore_CreatesParentDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "cache.json")
	store, err := persist.NewFileStore(path)
	require.NoError(t, err)

	require.NoError(t, store.Save(persist.Document{}))
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestFileStore_EmptyPathRejected(t *testing.T) {
	_, err := persist.NewFileStore("")
	assert.Error(t, err)
}

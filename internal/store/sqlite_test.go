package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_Migrates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")

	s, err := OpenSQLite(path)
	require.NoError(t, err)

	var version int
	require.NoError(t, s.conn.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version))
	assert.Equal(t, CurrentSchemaVersion, version)
	require.NoError(t, s.Close())

	// reopening an up-to-date database runs no migrations
	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	var rows int
	require.NoError(t, s.conn.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&rows))
	assert.Equal(t, CurrentSchemaVersion, rows)
}

func TestSQLiteStore_RecordAndHistory(t *testing.T) {
	s := openTestDB(t)
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg := "connection refused"

	records := []Result{
		{Name: "api", Method: "GET", URL: "http://a.test/", StatusCode: 200, Status: "up",
			Labels: map[string]string{"env": "prod"}, ResponseTimeMs: 12, ConnectMs: 3, DownloadedBytes: 512, CompletedAt: base},
		{Name: "db", Method: "POST", URL: "http://b.test/", Status: "down", Error: &msg,
			ResponseTimeMs: 40, CompletedAt: base.Add(time.Second)},
		{Name: "api", Method: "GET", URL: "http://a.test/", StatusCode: 503, Status: "down",
			ResponseTimeMs: 20, CompletedAt: base.Add(2 * time.Second)},
	}
	for _, r := range records {
		require.NoError(t, s.Record(r), "Record(%s)", r.Name)
	}

	api, err := s.History(context.Background(), "api", 0)
	require.NoError(t, err)
	require.Len(t, api, 2)

	// newest first
	assert.Equal(t, 503, api[0].StatusCode)
	assert.Equal(t, 200, api[1].StatusCode)
	assert.Nil(t, api[0].Error)

	assert.Equal(t, map[string]string{"env": "prod"}, api[1].Labels)
	assert.Equal(t, int64(512), api[1].DownloadedBytes)
	assert.Equal(t, int64(3), api[1].ConnectMs)
	assert.True(t, api[1].CompletedAt.Equal(base), "CompletedAt = %v, want %v", api[1].CompletedAt, base)

	all, err := s.History(context.Background(), "", 2)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "db", all[1].Name)
	require.NotNil(t, all[1].Error)
	assert.Equal(t, msg, *all[1].Error)
}

package db

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/traffic.control/internal/signal"
)

func localRequest(method, target string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	req.RemoteAddr = "127.0.0.1:12345"
	return req
}

func TestAttachAdminRoutes(t *testing.T) {
	db := setupTestDB(t)
	runID := startRun(t, db)
	require.NoError(t, db.RecordOutcome(context.Background(), runID, outcome(1, "3", signal.ExtendGreen, 40*time.Second, -150, 150), epoch))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	for _, endpoint := range []string{"/debug/db-stats", "/debug/backup", "/debug/tailsql/"} {
		t.Run(endpoint, func(t *testing.T) {
			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, endpoint, nil))
			assert.NotEqual(t, http.StatusNotFound, w.Code)
		})
	}

	t.Run("stats", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localRequest(http.MethodGet, "/debug/db-stats"))
		require.Equal(t, http.StatusOK, w.Code)
		var stats DatabaseStats
		require.NoError(t, json.NewDecoder(w.Body).Decode(&stats))
		assert.Positive(t, stats.SizeBytes)
		assert.Equal(t, []TableStats{
			{Name: "runs", RowCount: 1},
			{Name: "tick_outcomes", RowCount: 1},
			{Name: "congestion_events", RowCount: 0},
		}, stats.Tables)
	})

	t.Run("backup", func(t *testing.T) {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, localRequest(http.MethodGet, "/debug/backup"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Disposition"), ".db.gz")
		gz, err := gzip.NewReader(w.Body)
		require.NoError(t, err)
		data, err := io.ReadAll(gz)
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(data, []byte("SQLite format 3\x00")))
	})
}

func TestBackup(t *testing.T) {
	db := setupTestDB(t)
	startRun(t, db)
	dir := t.TempDir()

	path, err := db.Backup(context.Background(), dir, epoch)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "backup-1700000000.db"), path)

	copyDB, err := OpenDB(path)
	require.NoError(t, err)
	defer copyDB.Close()
	runs, err := copyDB.Runs(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

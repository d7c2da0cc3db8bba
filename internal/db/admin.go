package db

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/traffic.control/internal/httputil"
	"github.com/banshee-data/traffic.control/internal/security"
	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"
)

// TableStats is the row count of one table.
type TableStats struct {
	Name     string `json:"name"`
	RowCount int64  `json:"row_count"`
}

// DatabaseStats summarises the size of the database.
type DatabaseStats struct {
	SizeBytes int64        `json:"size_bytes"`
	Tables    []TableStats `json:"tables"`
}

var statTables = []string{"runs", "tick_outcomes", "congestion_events"}

// GetDatabaseStats counts the rows of every record table.
func (db *DB) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	var pageCount, pageSize int64
	if err := db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err != nil {
		return nil, fmt.Errorf("failed to read page_count: %w", err)
	}
	if err := db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize); err != nil {
		return nil, fmt.Errorf("failed to read page_size: %w", err)
	}
	stats := &DatabaseStats{SizeBytes: pageCount * pageSize, Tables: []TableStats{}}
	for _, name := range statTables {
		var n int64
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+name).Scan(&n); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", name, err)
		}
		stats.Tables = append(stats.Tables, TableStats{Name: name, RowCount: n})
	}
	return stats, nil
}

// Backup writes a compacted copy of the database to a new file in dir and
// returns its path.
func (db *DB) Backup(ctx context.Context, dir string, now time.Time) (string, error) {
	path, err := security.OutputPath(dir, fmt.Sprintf("backup-%d.db", now.Unix()))
	if err != nil {
		return "", err
	}
	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return "", fmt.Errorf("failed to create backup: %w", err)
	}
	return path, nil
}

// AttachAdminRoutes mounts tailsql, database stats and a gzip backup
// download on the tsweb debug page of mux.
func (db *DB) AttachAdminRoutes(mux *http.ServeMux) error {
	debug := tsweb.Debugger(mux)
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://signalctl.db", db.DB, &tailsql.DBOptions{
		Label: "Signal control DB",
	})
	debug.Handle("tailsql/", "SQL live debugging", tsql.NewMux())

	debug.Handle("db-stats", "Row counts of the record tables", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stats, err := db.GetDatabaseStats(r.Context())
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, stats)
	}))

	debug.Handle("backup", "Create and download a backup of the database now", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		dir, err := os.MkdirTemp("", "signalctl-backup-")
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to create backup dir: %v", err))
			return
		}
		defer func() {
			if err := os.RemoveAll(dir); err != nil {
				log.Printf("Failed to remove backup dir: %v", err)
			}
		}()

		path, err := db.Backup(r.Context(), dir, time.Now())
		if err != nil {
			httputil.InternalServerError(w, err.Error())
			return
		}
		f, err := os.Open(path)
		if err != nil {
			httputil.InternalServerError(w, fmt.Sprintf("Failed to open backup file: %v", err))
			return
		}
		defer f.Close()

		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", filepath.Base(path)))
		w.Header().Set("Content-Type", "application/gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()
		if _, err := io.Copy(gz, f); err != nil {
			log.Printf("Failed to stream backup: %v", err)
		}
	}))
	return nil
}

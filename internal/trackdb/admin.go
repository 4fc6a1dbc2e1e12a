package trackdb

import (
	"compress/gzip"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/tailsql/server/tailsql"
	"tailscale.com/tsweb"

	"github.com/banshee-data/camflow/internal/monitoring"
)

// AttachAdminRoutes mounts live SQL and backup download on the debug
// handler.
func (db *TrackDB) AttachAdminRoutes(debug *tsweb.DebugHandler) error {
	tsql, err := tailsql.NewServer(tailsql.Options{
		RoutePrefix: "/debug/tailsql/",
	})
	if err != nil {
		return fmt.Errorf("failed to create tailsql server: %w", err)
	}
	tsql.SetDB("sqlite://tracks.db", db.DB, &tailsql.DBOptions{
		Label: "Track DB",
	})
	debug.Handle("tailsql/", "SQL live debugging of the track store", tsql.NewMux())
	debug.Handle("backup", "Create and download a backup of the track store now", http.HandlerFunc(db.serveBackup))
	return nil
}

func (db *TrackDB) serveBackup(w http.ResponseWriter, r *http.Request) {
	dir, err := os.MkdirTemp("", "trackdb-backup-")
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup dir: %v", err), http.StatusInternalServerError)
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			monitoring.Opsf("trackdb: failed to remove backup dir: %v", err)
		}
	}()

	name := fmt.Sprintf("tracks-backup-%d.db", time.Now().Unix())
	path := filepath.Join(dir, name)
	if _, err := db.Exec("VACUUM INTO ?", path); err != nil {
		http.Error(w, fmt.Sprintf("Failed to create backup: %v", err), http.StatusInternalServerError)
		return
	}
	f, err := os.Open(path)
	if err != nil {
		http.Error(w, fmt.Sprintf("Failed to open backup file: %v", err), http.StatusInternalServerError)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.gz", name))
	w.Header().Set("Content-Type", "application/gzip")
	gz := gzip.NewWriter(w)
	defer gz.Close()
	if _, err := io.Copy(gz, f); err != nil {
		monitoring.Opsf("trackdb: backup copy: %v", err)
	}
}

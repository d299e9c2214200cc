package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/jmoiron/sqlx"

	"github.com/kandev/schaltwerk/internal/db"
)

var nonPathSafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// DatabasePath computes the per-project database location described in
// spec.md §6: <data_dir>/schaltwerk/projects/<sanitized_name>_<sha256_16>/sessions.db.
func DatabasePath(dataDir, canonicalProjectPath string) string {
	sum := sha256.Sum256([]byte(canonicalProjectPath))
	shortHash := hex.EncodeToString(sum[:])[:16]
	sanitizedName := nonPathSafe.ReplaceAllString(filepath.Base(canonicalProjectPath), "_")
	dirName := fmt.Sprintf("%s_%s", sanitizedName, shortHash)
	return filepath.Join(dataDir, "schaltwerk", "projects", dirName, "sessions.db")
}

// Open opens (creating if necessary) the per-project SQLite database at
// dbPath and returns a migrated Store plus a closer. spec.md §5 specifies a
// single DB connection behind a mutex for this store — unlike the teacher's
// higher-throughput services, there is no reader pool to split reads onto.
func Open(dbPath string) (*SQLiteStore, func() error, error) {
	conn, err := db.OpenSQLite(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	connX := sqlx.NewDb(conn, "sqlite3")
	st, err := NewSQLiteStore(connX)
	if err != nil {
		_ = connX.Close()
		return nil, nil, err
	}

	return st, connX.Close, nil
}

package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/dridash/internal/config"
	_ "modernc.org/sqlite"
)

// FileName is the database file inside the base directory.
const FileName = "dridash.db"

// CurrentSchemaVersion is the latest schema version. It equals len(migrations).
const CurrentSchemaVersion = 2

// migrations[i] moves the schema from version i to i+1.
var migrations = []string{
	// 1: keyed JSON blobs (settings, notes, card cache)
	`CREATE TABLE IF NOT EXISTS blobs (
	  scope      TEXT NOT NULL,
	  kind       TEXT NOT NULL,
	  data       TEXT NOT NULL,
	  updated_at INTEGER NOT NULL,
	  PRIMARY KEY (scope, kind)
	);`,

	// 2: refresh history
	`CREATE TABLE IF NOT EXISTS refresh_runs (
	  id          TEXT PRIMARY KEY,
	  scope       TEXT NOT NULL,
	  target      TEXT NOT NULL,
	  cards       INTEGER NOT NULL,
	  errors      INTEGER NOT NULL,
	  status      TEXT NOT NULL,
	  started_at  INTEGER NOT NULL,
	  finished_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_refresh_runs_scope_started
	ON refresh_runs(scope, started_at DESC);`,
}

// Init opens (creating if needed) baseDir/dridash.db and the exports
// directory beside it, then brings the schema up to date. Tests pass
// t.TempDir() as baseDir.
func Init(baseDir string) (*sql.DB, error) {
	for _, dir := range []string{baseDir, filepath.Join(baseDir, "exports")} {
		if err := privateDir(dir); err != nil {
			return nil, err
		}
	}

	path := filepath.Join(baseDir, FileName)
	// DSN pragmas hold for every pooled connection, not just the first.
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := verifyWALMode(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}

	_ = os.Chmod(path, 0600)
	return db, nil
}

// privateDir creates dir readable only by the owner. The chmod is
// best-effort; some filesystems ignore it.
func privateDir(dir string) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	_ = os.Chmod(dir, 0700)
	return nil
}

// ConfigurePool applies connection pool limits from config when set.
func ConfigurePool(db *sql.DB, cfg *config.Config) {
	if cfg == nil {
		return
	}
	if cfg.DBMaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	}
	if cfg.DBMaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	}
}

// migrate runs every migration above the stored user_version, recording
// the version after each one.
func migrate(db *sql.DB) error {
	version, err := GetUserVersion(db)
	if err != nil {
		return err
	}
	for i := version; i < len(migrations); i++ {
		if _, err := db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
		if err := SetUserVersion(db, i+1); err != nil {
			return err
		}
	}
	return nil
}

func verifyWALMode(db *sql.DB) error {
	var mode string
	if err := db.QueryRow("PRAGMA journal_mode;").Scan(&mode); err != nil {
		return fmt.Errorf("failed to verify journal mode: %w", err)
	}
	if mode != "wal" {
		return fmt.Errorf("expected WAL mode, got %s", mode)
	}
	return nil
}

// GetUserVersion returns the schema version stored in the user_version pragma.
func GetUserVersion(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to get user_version: %w", err)
	}
	return version, nil
}

// SetUserVersion stores version in the user_version pragma.
func SetUserVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", version)); err != nil {
		return fmt.Errorf("failed to set user_version: %w", err)
	}
	return nil
}

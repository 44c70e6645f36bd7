package repository

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/opensource-finance/callshield/internal/domain"
	_ "modernc.org/sqlite"
)

// sqlitePragmas apply to every connection in the pool.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
	"busy_timeout(5000)",
}

// openSQLite opens the pure Go SQLite driver. ":memory:" keeps the archive
// in process, which the replay tool and tests use.
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./callshield.db"
	}

	memory := path == ":memory:"
	if !memory {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", sqliteDSN(path, memory))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if memory {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

func sqliteDSN(path string, memory bool) string {
	q := url.Values{}
	for _, p := range sqlitePragmas {
		if memory && p == "journal_mode(WAL)" {
			continue
		}
		q.Add("_pragma", p)
	}
	return "file:" + path + "?" + q.Encode()
}

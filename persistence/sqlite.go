package persistence

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

// OpenSQLite opens a SQLite-backed Backend at path, per §4.5.
func OpenSQLite(path string, schema Schema) (Backend, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // sqlite3 serializes writers; avoid SQLITE_BUSY under our own load
	return newSQLBackend(db, SQLite, schema), nil
}

package persistence

import (
	"database/sql"

	_ "github.com/lib/pq"
)

// OpenPostgres opens a PostgreSQL-backed Backend using dsn, per §4.5.
func OpenPostgres(dsn string, schema Schema) (Backend, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	return newSQLBackend(db, PostgreSQL, schema), nil
}

package persistence

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
)

// OpenMySQL opens a MySQL-backed Backend using dsn, per §4.5.
func OpenMySQL(dsn string, schema Schema) (Backend, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	return newSQLBackend(db, MySQL, schema), nil
}

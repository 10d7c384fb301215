package persistence

import (
	"fmt"
	"strings"
)

// QueryBuilder is a pure value type constructed from a Dialect. It is the
// single place dialect differences are allowed to live, per §4.5: every
// SQL string a Backend emits is built through one of these methods rather
// than hand-written per dialect.
type QueryBuilder struct {
	Dialect Dialect
}

// NewQueryBuilder constructs a QueryBuilder for d.
func NewQueryBuilder(d Dialect) QueryBuilder {
	return QueryBuilder{Dialect: d}
}

// Quote quotes an identifier (table or column name) per the dialect's
// convention. Callers must have already validated ident against
// config.ValidateIdentifier; Quote does not re-validate.
func (qb QueryBuilder) Quote(ident string) string {
	switch qb.Dialect {
	case MySQL:
		return "`" + ident + "`"
	case PostgreSQL:
		return `"` + ident + `"`
	default: // SQLite
		return ident
	}
}

// HexLiteral renders a hex-encoded byte string as a dialect-appropriate
// binary literal or conversion expression.
func (qb QueryBuilder) HexLiteral(hexStr string) string {
	switch qb.Dialect {
	case MySQL:
		return "UNHEX('" + hexStr + "')"
	case PostgreSQL:
		return "decode('" + hexStr + "', 'hex')"
	default: // SQLite
		return "X'" + hexStr + "'"
	}
}

// Placeholder returns the parameter placeholder for the i-th (1-indexed)
// bound argument in a query.
func (qb QueryBuilder) Placeholder(i int) string {
	if qb.Dialect == PostgreSQL {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

// InsertIgnore renders an "insert, ignoring conflicts on the primary key"
// statement for table with the given quoted columns and one row of
// placeholders.
func (qb QueryBuilder) InsertIgnore(table string, columns []string) string {
	quotedCols := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = qb.Quote(c)
		placeholders[i] = qb.Placeholder(i + 1)
	}
	base := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", qb.Quote(table), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))

	switch qb.Dialect {
	case MySQL:
		return strings.Replace(base, "INSERT INTO", "INSERT IGNORE INTO", 1)
	case PostgreSQL:
		return base + " ON CONFLICT DO NOTHING"
	default: // SQLite
		return strings.Replace(base, "INSERT INTO", "INSERT OR IGNORE INTO", 1)
	}
}

// Upsert renders an "insert or update on conflict" statement keyed on
// conflictCol, updating every column in updateCols to the incoming value.
func (qb QueryBuilder) Upsert(table string, columns []string, conflictCol string, updateCols []string) string {
	quotedCols := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, c := range columns {
		quotedCols[i] = qb.Quote(c)
		placeholders[i] = qb.Placeholder(i + 1)
	}
	base := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", qb.Quote(table), strings.Join(quotedCols, ", "), strings.Join(placeholders, ", "))

	sets := make([]string, len(updateCols))
	switch qb.Dialect {
	case PostgreSQL, SQLite:
		for i, c := range updateCols {
			sets[i] = fmt.Sprintf("%s = excluded.%s", qb.Quote(c), qb.Quote(c))
		}
		return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s", base, qb.Quote(conflictCol), strings.Join(sets, ", "))
	default: // MySQL
		for i, c := range updateCols {
			sets[i] = fmt.Sprintf("%s = VALUES(%s)", qb.Quote(c), qb.Quote(c))
		}
		return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s", base, strings.Join(sets, ", "))
	}
}

// LimitOffset renders a LIMIT/OFFSET clause for a page of size limit
// starting at offset.
func (qb QueryBuilder) LimitOffset(limit, offset int) string {
	if qb.Dialect == MySQL {
		return fmt.Sprintf("LIMIT %d, %d", offset, limit)
	}
	return fmt.Sprintf("LIMIT %d OFFSET %d", limit, offset)
}

// AutoIncrementType returns the column type used for a primary key that
// auto-increments.
func (qb QueryBuilder) AutoIncrementType() string {
	switch qb.Dialect {
	case MySQL:
		return "INT AUTO_INCREMENT"
	case PostgreSQL:
		return "SERIAL"
	default: // SQLite
		return "INTEGER"
	}
}

package persistence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteByDialect(t *testing.T) {
	assert.Equal(t, "`torrents`", NewQueryBuilder(MySQL).Quote("torrents"))
	assert.Equal(t, `"torrents"`, NewQueryBuilder(PostgreSQL).Quote("torrents"))
	assert.Equal(t, "torrents", NewQueryBuilder(SQLite).Quote("torrents"))
}

func TestHexLiteralByDialect(t *testing.T) {
	assert.Equal(t, "UNHEX('abcd')", NewQueryBuilder(MySQL).HexLiteral("abcd"))
	assert.Equal(t, "decode('abcd', 'hex')", NewQueryBuilder(PostgreSQL).HexLiteral("abcd"))
	assert.Equal(t, "X'abcd'", NewQueryBuilder(SQLite).HexLiteral("abcd"))
}

func TestPlaceholderByDialect(t *testing.T) {
	assert.Equal(t, "$3", NewQueryBuilder(PostgreSQL).Placeholder(3))
	assert.Equal(t, "?", NewQueryBuilder(MySQL).Placeholder(3))
	assert.Equal(t, "?", NewQueryBuilder(SQLite).Placeholder(3))
}

func TestInsertIgnoreByDialect(t *testing.T) {
	assert.Contains(t, NewQueryBuilder(MySQL).InsertIgnore("t", []string{"a"}), "INSERT IGNORE INTO")
	assert.Contains(t, NewQueryBuilder(PostgreSQL).InsertIgnore("t", []string{"a"}), "ON CONFLICT DO NOTHING")
	assert.Contains(t, NewQueryBuilder(SQLite).InsertIgnore("t", []string{"a"}), "INSERT OR IGNORE INTO")
}

func TestUpsertByDialect(t *testing.T) {
	assert.Contains(t, NewQueryBuilder(MySQL).Upsert("t", []string{"a", "b"}, "a", []string{"b"}), "ON DUPLICATE KEY UPDATE")
	assert.Contains(t, NewQueryBuilder(PostgreSQL).Upsert("t", []string{"a", "b"}, "a", []string{"b"}), "ON CONFLICT (\"a\") DO UPDATE SET")
	assert.Contains(t, NewQueryBuilder(SQLite).Upsert("t", []string{"a", "b"}, "a", []string{"b"}), "ON CONFLICT (a) DO UPDATE SET")
}

func TestLimitOffsetByDialect(t *testing.T) {
	assert.Equal(t, "LIMIT 10, 20", NewQueryBuilder(MySQL).LimitOffset(20, 10))
	assert.Equal(t, "LIMIT 20 OFFSET 10", NewQueryBuilder(PostgreSQL).LimitOffset(20, 10))
	assert.Equal(t, "LIMIT 20 OFFSET 10", NewQueryBuilder(SQLite).LimitOffset(20, 10))
}

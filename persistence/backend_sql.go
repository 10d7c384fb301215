package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kestrel-tracker/kestrel/pkg/log"
)

// sqlBackend implements Backend on top of database/sql. Every dialect
// difference is routed through qb; the query text assembled here is
// otherwise identical across sqlite3, mysql and postgres.
type sqlBackend struct {
	db     *sql.DB
	qb     QueryBuilder
	schema Schema
}

var _ Backend = (*sqlBackend)(nil)

func newSQLBackend(db *sql.DB, dialect Dialect, schema Schema) *sqlBackend {
	return &sqlBackend{db: db, qb: NewQueryBuilder(dialect), schema: schema}
}

func (b *sqlBackend) Close() error { return b.db.Close() }

// CreateSchema idempotently creates every table, per §4.5.
func (b *sqlBackend) CreateSchema(ctx context.Context) error {
	s := b.schema
	qb := b.qb

	stmts := []string{
		fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (%s VARCHAR(40) PRIMARY KEY, %s BIGINT NOT NULL DEFAULT 0, %s BIGINT NOT NULL DEFAULT 0)",
			qb.Quote(s.TorrentsTable), qb.Quote(s.TorrentsInfoHashCol), qb.Quote(s.TorrentsCompletedCol), qb.Quote(s.TorrentsUpdatedCol),
		),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s VARCHAR(40) PRIMARY KEY)", qb.Quote(s.WhitelistTable), qb.Quote(s.WhitelistInfoHashCol)),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s VARCHAR(40) PRIMARY KEY)", qb.Quote(s.BlacklistTable), qb.Quote(s.BlacklistInfoHashCol)),
		fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s VARCHAR(40) PRIMARY KEY, %s BIGINT NOT NULL DEFAULT 0)", qb.Quote(s.KeysTable), qb.Quote(s.KeysKeyCol), qb.Quote(s.KeysExpiresCol)),
		fmt.Sprintf(
			"CREATE TABLE IF NOT EXISTS %s (%s VARCHAR(40) PRIMARY KEY, %s VARCHAR(255) NOT NULL DEFAULT '', %s VARCHAR(40) NOT NULL DEFAULT '', %s BIGINT NOT NULL DEFAULT 0, %s BIGINT NOT NULL DEFAULT 0, %s BIGINT NOT NULL DEFAULT 0)",
			qb.Quote(s.UsersTable), qb.Quote(s.UsersIDCol), qb.Quote(s.UsersExternalIDCol), qb.Quote(s.UsersSecretKeyCol),
			qb.Quote(s.UsersUploadedCol), qb.Quote(s.UsersDownloadedCol), qb.Quote(s.UsersCompletedCol),
		),
	}

	for _, stmt := range stmts {
		if _, err := b.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("persistence: create schema: %w", err)
		}
	}
	return nil
}

func (b *sqlBackend) LoadTorrents(ctx context.Context, page func([]TorrentRecord) error) error {
	s := b.schema
	offset := 0
	for {
		query := fmt.Sprintf("SELECT %s, %s, %s FROM %s ORDER BY %s %s",
			b.qb.Quote(s.TorrentsInfoHashCol), b.qb.Quote(s.TorrentsCompletedCol), b.qb.Quote(s.TorrentsUpdatedCol),
			b.qb.Quote(s.TorrentsTable), b.qb.Quote(s.TorrentsInfoHashCol), b.qb.LimitOffset(PageSize, offset))

		rows, err := b.db.QueryContext(ctx, query)
		if err != nil {
			log.Error("persistence: load torrents failed, starting empty", log.Err(err))
			return nil
		}

		var batch []TorrentRecord
		for rows.Next() {
			var r TorrentRecord
			if err := rows.Scan(&r.InfoHash, &r.Completed, &r.Updated); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, r)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := page(batch); err != nil {
			return err
		}
		if len(batch) < PageSize {
			return nil
		}
		offset += PageSize
	}
}

func (b *sqlBackend) loadHashList(ctx context.Context, table, col string, page func([]string) error) error {
	offset := 0
	for {
		query := fmt.Sprintf("SELECT %s FROM %s ORDER BY %s %s", b.qb.Quote(col), b.qb.Quote(table), b.qb.Quote(col), b.qb.LimitOffset(PageSize, offset))
		rows, err := b.db.QueryContext(ctx, query)
		if err != nil {
			log.Error("persistence: load failed, starting empty", log.Fields{"table": table, "error": err})
			return nil
		}

		var batch []string
		for rows.Next() {
			var v string
			if err := rows.Scan(&v); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, v)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := page(batch); err != nil {
			return err
		}
		if len(batch) < PageSize {
			return nil
		}
		offset += PageSize
	}
}

func (b *sqlBackend) LoadWhitelist(ctx context.Context, page func([]string) error) error {
	return b.loadHashList(ctx, b.schema.WhitelistTable, b.schema.WhitelistInfoHashCol, page)
}

func (b *sqlBackend) LoadBlacklist(ctx context.Context, page func([]string) error) error {
	return b.loadHashList(ctx, b.schema.BlacklistTable, b.schema.BlacklistInfoHashCol, page)
}

func (b *sqlBackend) LoadKeys(ctx context.Context, page func([]KeyRecord) error) error {
	s := b.schema
	offset := 0
	for {
		query := fmt.Sprintf("SELECT %s, %s FROM %s ORDER BY %s %s",
			b.qb.Quote(s.KeysKeyCol), b.qb.Quote(s.KeysExpiresCol), b.qb.Quote(s.KeysTable), b.qb.Quote(s.KeysKeyCol), b.qb.LimitOffset(PageSize, offset))

		rows, err := b.db.QueryContext(ctx, query)
		if err != nil {
			log.Error("persistence: load keys failed, starting empty", log.Err(err))
			return nil
		}

		var batch []KeyRecord
		for rows.Next() {
			var r KeyRecord
			if err := rows.Scan(&r.Key, &r.ExpiresAt); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, r)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := page(batch); err != nil {
			return err
		}
		if len(batch) < PageSize {
			return nil
		}
		offset += PageSize
	}
}

func (b *sqlBackend) LoadUsers(ctx context.Context, page func([]UserRecord) error) error {
	s := b.schema
	offset := 0
	for {
		query := fmt.Sprintf("SELECT %s, %s, %s, %s, %s, %s FROM %s ORDER BY %s %s",
			b.qb.Quote(s.UsersIDCol), b.qb.Quote(s.UsersExternalIDCol), b.qb.Quote(s.UsersSecretKeyCol),
			b.qb.Quote(s.UsersUploadedCol), b.qb.Quote(s.UsersDownloadedCol), b.qb.Quote(s.UsersCompletedCol),
			b.qb.Quote(s.UsersTable), b.qb.Quote(s.UsersIDCol), b.qb.LimitOffset(PageSize, offset))

		rows, err := b.db.QueryContext(ctx, query)
		if err != nil {
			log.Error("persistence: load users failed, starting empty", log.Err(err))
			return nil
		}

		var batch []UserRecord
		for rows.Next() {
			var r UserRecord
			if err := rows.Scan(&r.ID, &r.ExternalID, &r.SecretKey, &r.Uploaded, &r.Downloaded, &r.Completed); err != nil {
				rows.Close()
				return err
			}
			batch = append(batch, r)
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := page(batch); err != nil {
			return err
		}
		if len(batch) < PageSize {
			return nil
		}
		offset += PageSize
	}
}

func (b *sqlBackend) SaveTorrents(ctx context.Context, upserts []TorrentRecord, deletes []string) error {
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}
	s := b.schema

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsertQuery := b.qb.Upsert(s.TorrentsTable,
		[]string{s.TorrentsInfoHashCol, s.TorrentsCompletedCol, s.TorrentsUpdatedCol},
		s.TorrentsInfoHashCol,
		[]string{s.TorrentsCompletedCol, s.TorrentsUpdatedCol})

	for _, r := range upserts {
		if _, err := tx.ExecContext(ctx, upsertQuery, r.InfoHash, r.Completed, r.Updated); err != nil {
			return err
		}
	}

	if len(deletes) > 0 {
		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", b.qb.Quote(s.TorrentsTable), b.qb.Quote(s.TorrentsInfoHashCol), b.qb.Placeholder(1))
		for _, ih := range deletes {
			if _, err := tx.ExecContext(ctx, deleteQuery, ih); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (b *sqlBackend) saveHashList(ctx context.Context, table, col string, adds, removes []string) error {
	if len(adds) == 0 && len(removes) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	insertQuery := b.qb.InsertIgnore(table, []string{col})
	for _, ih := range adds {
		if _, err := tx.ExecContext(ctx, insertQuery, ih); err != nil {
			return err
		}
	}

	if len(removes) > 0 {
		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", b.qb.Quote(table), b.qb.Quote(col), b.qb.Placeholder(1))
		for _, ih := range removes {
			if _, err := tx.ExecContext(ctx, deleteQuery, ih); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (b *sqlBackend) SaveWhitelist(ctx context.Context, adds, removes []string) error {
	return b.saveHashList(ctx, b.schema.WhitelistTable, b.schema.WhitelistInfoHashCol, adds, removes)
}

func (b *sqlBackend) SaveBlacklist(ctx context.Context, adds, removes []string) error {
	return b.saveHashList(ctx, b.schema.BlacklistTable, b.schema.BlacklistInfoHashCol, adds, removes)
}

func (b *sqlBackend) SaveKeys(ctx context.Context, upserts []KeyRecord, removes []string) error {
	if len(upserts) == 0 && len(removes) == 0 {
		return nil
	}
	s := b.schema

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	upsertQuery := b.qb.Upsert(s.KeysTable, []string{s.KeysKeyCol, s.KeysExpiresCol}, s.KeysKeyCol, []string{s.KeysExpiresCol})
	for _, r := range upserts {
		if _, err := tx.ExecContext(ctx, upsertQuery, r.Key, r.ExpiresAt); err != nil {
			return err
		}
	}

	if len(removes) > 0 {
		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", b.qb.Quote(s.KeysTable), b.qb.Quote(s.KeysKeyCol), b.qb.Placeholder(1))
		for _, key := range removes {
			if _, err := tx.ExecContext(ctx, deleteQuery, key); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (b *sqlBackend) SaveUsers(ctx context.Context, upserts []UserRecord, deletes []string) error {
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}
	s := b.schema

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	cols := []string{s.UsersIDCol, s.UsersExternalIDCol, s.UsersSecretKeyCol, s.UsersUploadedCol, s.UsersDownloadedCol, s.UsersCompletedCol}
	upsertQuery := b.qb.Upsert(s.UsersTable, cols, s.UsersIDCol,
		[]string{s.UsersExternalIDCol, s.UsersSecretKeyCol, s.UsersUploadedCol, s.UsersDownloadedCol, s.UsersCompletedCol})

	for _, r := range upserts {
		if _, err := tx.ExecContext(ctx, upsertQuery, r.ID, r.ExternalID, r.SecretKey, r.Uploaded, r.Downloaded, r.Completed); err != nil {
			return err
		}
	}

	if len(deletes) > 0 {
		deleteQuery := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", b.qb.Quote(s.UsersTable), b.qb.Quote(s.UsersIDCol), b.qb.Placeholder(1))
		for _, id := range deletes {
			if _, err := tx.ExecContext(ctx, deleteQuery, id); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

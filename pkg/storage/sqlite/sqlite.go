package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/perpetuallyhorni/trailercast/pkg/storage"
)

//go:embed queries/*.sql
//go:embed queries/*.sql.tpl
var queryFS embed.FS

// DB is a SQLite implementation of the storage.Storer interface.
type DB struct {
	Conn *sql.DB // The raw database connection, exposed for extensibility.
}

// New opens (or creates) the database at path and ensures the schema is up to date.
// Transactions use BEGIN IMMEDIATE so that UpdateCounter holds the write lock for its whole
// read-modify-write cycle, even across processes sharing the file.
func New(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_txlock=immediate&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{Conn: db}
	if err := instance.createSchema(); err != nil {
		_ = instance.Close()
		return nil, fmt.Errorf("failed to create database schema: %w", err)
	}

	return instance, nil
}

// getQuery reads a raw SQL query from the embedded filesystem.
func getQuery(name string) (string, error) {
	b, err := queryFS.ReadFile("queries/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read embedded query %s: %w", name, err)
	}
	return string(b), nil
}

// getParsedQuery parses and executes a SQL template from the embedded filesystem.
func getParsedQuery(templateName string, data any) (string, error) {
	t, err := template.ParseFS(queryFS, "queries/"+templateName)
	if err != nil {
		return "", fmt.Errorf("failed to parse embedded query template %s: %w", templateName, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute embedded query template %s: %w", templateName, err)
	}
	return buf.String(), nil
}

// createSchema creates the necessary tables if they don't exist and adds columns that older
// databases lack.
func (db *DB) createSchema() error {
	query, err := getQuery("schema.sql")
	if err != nil {
		return err
	}
	if _, err := db.Conn.Exec(query); err != nil {
		return err
	}
	return db.migrateHolds()
}

// migrateHolds adds the holds column to quota_counters tables created before it existed.
func (db *DB) migrateHolds() error {
	query, err := getQuery("counter_columns.sql")
	if err != nil {
		return err
	}
	rows, err := db.Conn.Query(query)
	if err != nil {
		return fmt.Errorf("failed to inspect quota_counters: %w", err)
	}
	found := false
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return fmt.Errorf("failed to scan quota_counters column: %w", err)
		}
		if name == "holds" {
			found = true
		}
	}
	if err := rows.Close(); err != nil {
		return err
	}
	if found {
		return nil
	}
	alter, err := getQuery("add_holds_column.sql")
	if err != nil {
		return err
	}
	if _, err := db.Conn.Exec(alter); err != nil {
		return fmt.Errorf("failed to add holds column: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func loadCounter(ctx context.Context, q queryer, key string) (storage.QuotaCounter, bool, error) {
	query, err := getQuery("get_counter.sql")
	if err != nil {
		return storage.QuotaCounter{}, false, err
	}
	var (
		c                  storage.QuotaCounter
		resetAt, lastWrite int64
		holds              string
	)
	err = q.QueryRowContext(ctx, query, key).Scan(&c.Key, &c.Count, &resetAt, &lastWrite, &holds)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.QuotaCounter{Key: key}, false, nil
		}
		return storage.QuotaCounter{}, false, fmt.Errorf("failed to load quota counter %s: %w", key, err)
	}
	c.ResetAt = fromMillis(resetAt)
	c.LastUpdate = fromMillis(lastWrite)
	c.Holds = storage.DecodeHolds(holds)
	return c, true, nil
}

// GetCounter returns the counter stored for key.
func (db *DB) GetCounter(ctx context.Context, key string) (storage.QuotaCounter, bool, error) {
	return loadCounter(ctx, db.Conn, key)
}

// UpdateCounter runs fn against the counter for key inside an immediate transaction.
func (db *DB) UpdateCounter(ctx context.Context, key string, fn func(c *storage.QuotaCounter) error) (storage.QuotaCounter, error) {
	upsert, err := getQuery("upsert_counter.sql")
	if err != nil {
		return storage.QuotaCounter{}, err
	}

	tx, err := db.Conn.BeginTx(ctx, nil)
	if err != nil {
		return storage.QuotaCounter{}, fmt.Errorf("failed to begin transaction for %s: %w", key, err)
	}
	defer func() { _ = tx.Rollback() }()

	c, _, err := loadCounter(ctx, tx, key)
	if err != nil {
		return storage.QuotaCounter{}, err
	}
	if err := fn(&c); err != nil {
		return storage.QuotaCounter{}, err
	}
	c.Key = key

	if _, err := tx.ExecContext(ctx, upsert, c.Key, c.Count, toMillis(c.ResetAt), toMillis(c.LastUpdate), storage.EncodeHolds(c.Holds)); err != nil {
		return storage.QuotaCounter{}, fmt.Errorf("failed to write quota counter %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return storage.QuotaCounter{}, fmt.Errorf("failed to commit quota counter %s: %w", key, err)
	}
	return c, nil
}

// ListCounters returns all counters whose key starts with prefix.
func (db *DB) ListCounters(ctx context.Context, prefix string) ([]storage.QuotaCounter, error) {
	query, err := getQuery("list_counters.sql")
	if err != nil {
		return nil, err
	}
	rows, err := db.Conn.QueryContext(ctx, query, likePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("failed to list quota counters: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			fmt.Printf("failed to close rows: %v", err)
		}
	}()

	var counters []storage.QuotaCounter
	for rows.Next() {
		var (
			c                  storage.QuotaCounter
			resetAt, lastWrite int64
			holds              string
		)
		if err := rows.Scan(&c.Key, &c.Count, &resetAt, &lastWrite, &holds); err != nil {
			return nil, fmt.Errorf("failed to scan quota counter row: %w", err)
		}
		c.ResetAt = fromMillis(resetAt)
		c.LastUpdate = fromMillis(lastWrite)
		c.Holds = storage.DecodeHolds(holds)
		counters = append(counters, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during quota counter iteration: %w", err)
	}
	return counters, nil
}

// DeleteCounters removes all counters whose key starts with prefix.
func (db *DB) DeleteCounters(ctx context.Context, prefix string) error {
	query, err := getQuery("delete_counters.sql")
	if err != nil {
		return err
	}
	if _, err := db.Conn.ExecContext(ctx, query, likePrefix(prefix)); err != nil {
		return fmt.Errorf("failed to delete quota counters with prefix %q: %w", prefix, err)
	}
	return nil
}

// RecordPublish stores a successful publish and forces a WAL checkpoint.
func (db *DB) RecordPublish(ctx context.Context, rec storage.PublishRecord) error {
	query, err := getQuery("add_publish.sql")
	if err != nil {
		return err
	}
	_, err = db.Conn.ExecContext(ctx, query, rec.ID, rec.SourceID, rec.Target, rec.MediaID, rec.PostID, rec.Caption, toMillis(rec.PublishedAt))
	if err != nil {
		return fmt.Errorf("failed to insert publish %s (target: %s): %w", rec.ID, rec.Target, err)
	}

	if _, err := db.Conn.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE);"); err != nil {
		return fmt.Errorf("failed to checkpoint WAL after publish %s: %w", rec.ID, err)
	}
	return nil
}

// PublishExists reports whether sourceID has already been published to target.
func (db *DB) PublishExists(ctx context.Context, sourceID, target string) (bool, error) {
	if sourceID == "" {
		return false, nil
	}
	query, err := getQuery("publish_exists.sql")
	if err != nil {
		return false, err
	}
	var exists bool
	if err := db.Conn.QueryRowContext(ctx, query, sourceID, target).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check publish history for %s on %s: %w", sourceID, target, err)
	}
	return exists, nil
}

// ListPublishes returns publish records newest first.
func (db *DB) ListPublishes(ctx context.Context, filter storage.HistoryFilter) ([]storage.PublishRecord, error) {
	query, err := getParsedQuery("list_publishes.sql.tpl", filter)
	if err != nil {
		return nil, err
	}
	var args []any
	if filter.Target != "" {
		args = append(args, filter.Target)
	}
	if filter.SourceID != "" {
		args = append(args, filter.SourceID)
	}

	rows, err := db.Conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query publish history: %w", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			fmt.Printf("failed to close rows: %v", err)
		}
	}()

	var records []storage.PublishRecord
	for rows.Next() {
		var (
			rec         storage.PublishRecord
			publishedAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.SourceID, &rec.Target, &rec.MediaID, &rec.PostID, &rec.Caption, &publishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan publish row: %w", err)
		}
		rec.PublishedAt = fromMillis(publishedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during publish history iteration: %w", err)
	}
	return records, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.Conn.Close()
}

// likePrefix escapes LIKE wildcards in prefix and appends '%'.
func likePrefix(prefix string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(prefix) + "%"
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

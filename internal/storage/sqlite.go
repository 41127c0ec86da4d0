package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"notifyd/internal/delivery"
	logx "notifyd/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	closed atomic.Bool
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if !IsMemoryPath(path) {
		return nil, fmt.Errorf("%w: %q", ErrDurablePath, path)
	}
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection: an in-memory database lives and dies with its connection,
	// and SQLite prefers a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Put(ctx context.Context, rec delivery.Record) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var sentAt any
	if rec.SentAt != nil {
		sentAt = rec.SentAt.UnixNano()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(id, channel, recipient, status, created_at, sent_at, err, attempts)
		 VALUES(?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   channel=excluded.channel, recipient=excluded.recipient, status=excluded.status,
		   created_at=excluded.created_at, sent_at=excluded.sent_at, err=excluded.err,
		   attempts=excluded.attempts`,
		rec.ID, string(rec.Channel), rec.Recipient, string(rec.Status),
		rec.CreatedAt.UnixNano(), sentAt, nullStr(rec.Error), rec.Attempts,
	)
	return err
}

const selectColumns = `SELECT id, channel, recipient, status, created_at, sent_at, err, attempts FROM deliveries`

func (s *sqliteStore) Get(ctx context.Context, id string) (delivery.Record, bool, error) {
	if s.closed.Load() {
		return delivery.Record{}, false, ErrClosed
	}
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return delivery.Record{}, false, nil
	}
	if err != nil {
		return delivery.Record{}, false, err
	}
	return rec, true, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]delivery.Record, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []delivery.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (delivery.Record, error) {
	var (
		rec       delivery.Record
		channel   string
		status    string
		createdAt int64
		sentAt    sql.NullInt64
		errMsg    sql.NullString
	)
	if err := row.Scan(&rec.ID, &channel, &rec.Recipient, &status, &createdAt, &sentAt, &errMsg, &rec.Attempts); err != nil {
		return delivery.Record{}, err
	}
	rec.Channel = delivery.Channel(channel)
	rec.Status = delivery.Status(status)
	rec.CreatedAt = time.Unix(0, createdAt).UTC()
	if sentAt.Valid {
		t := time.Unix(0, sentAt.Int64).UTC()
		rec.SentAt = &t
	}
	rec.Error = errMsg.String
	return rec, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

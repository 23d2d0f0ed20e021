// Package sqlite implements the ledger persistence gateway on SQLite.
// One settings row plus one table per collection. Transactions are append-only;
// the only statements that remove them are the import and reset replacements.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/boddenberg/habit-hero-go/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("sqlite")

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Store implements port.LedgerStore.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the database at path, applies the schema and seeds
// the default aggregate on first use.
func Open(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Single connection: SQLite has one writer anyway, and an in-memory database
	// exists per connection.
	db.SetMaxOpenConns(1)

	s := New(db, logger)
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	if err := s.seedIfEmpty(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("seed database: %w", err)
	}
	return s, nil
}

// New wraps an already-open handle without touching the schema.
func New(db *sql.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrations returns the schema statements, one statement per string.
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS settings (
			id          INTEGER PRIMARY KEY CHECK (id = 1),
			childName   TEXT    NOT NULL,
			parentPin   TEXT    NOT NULL,
			totalPoints INTEGER NOT NULL DEFAULT 0,
			avatar      TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS habits (
			id       TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			name     TEXT    NOT NULL,
			points   INTEGER NOT NULL,
			emoji    TEXT    NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS rewards (
			id       TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			name     TEXT    NOT NULL,
			cost     INTEGER NOT NULL,
			emoji    TEXT    NOT NULL DEFAULT '',
			image    TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS deductions (
			id       TEXT PRIMARY KEY,
			position INTEGER NOT NULL,
			name     TEXT    NOT NULL,
			points   INTEGER NOT NULL,
			emoji    TEXT    NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS pending_tasks (
			id        TEXT PRIMARY KEY,
			position  INTEGER NOT NULL,
			habitId   TEXT    NOT NULL,
			habitName TEXT    NOT NULL,
			points    INTEGER NOT NULL,
			emoji     TEXT    NOT NULL DEFAULT '',
			timestamp TEXT    NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS transactions (
			id          TEXT PRIMARY KEY,
			type        TEXT    NOT NULL CHECK (type IN ('earn', 'spend', 'adjust')),
			amount      INTEGER NOT NULL CHECK (amount > 0),
			description TEXT    NOT NULL,
			date        TEXT    NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_date ON transactions(date DESC)`,
	}
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range Migrations() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) seedIfEmpty(ctx context.Context) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM settings WHERE id = 1`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	s.logger.Info("sqlite: seeding default household data")
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return replaceSettings(ctx, tx, domain.DefaultAppData().Settings())
	})
}

// ============================================================
// Reads
// ============================================================

// LoadAll reads the whole aggregate inside one transaction so that the balance and
// the collections come from the same snapshot.
func (s *Store) LoadAll(ctx context.Context) (*domain.AppData, error) {
	ctx, span := tracer.Start(ctx, "sqlite.LoadAll")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	data := domain.DefaultAppData()
	var avatar sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT childName, parentPin, totalPoints, avatar FROM settings WHERE id = 1`,
	).Scan(&data.ChildName, &data.ParentPin, &data.TotalPoints, &avatar)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	data.Avatar = fromNull(avatar)

	if data.Habits, err = queryAll(ctx, tx,
		`SELECT id, name, points, emoji FROM habits ORDER BY position`,
		func(r *sql.Rows) (h domain.Habit, err error) {
			err = r.Scan(&h.ID, &h.Name, &h.Points, &h.Emoji)
			return
		}); err != nil {
		return nil, fmt.Errorf("read habits: %w", err)
	}

	if data.Rewards, err = queryAll(ctx, tx,
		`SELECT id, name, cost, emoji, image FROM rewards ORDER BY position`,
		func(r *sql.Rows) (rw domain.Reward, err error) {
			var image sql.NullString
			err = r.Scan(&rw.ID, &rw.Name, &rw.Cost, &rw.Emoji, &image)
			rw.Image = image.String
			return
		}); err != nil {
		return nil, fmt.Errorf("read rewards: %w", err)
	}

	if data.Deductions, err = queryAll(ctx, tx,
		`SELECT id, name, points, emoji FROM deductions ORDER BY position`,
		func(r *sql.Rows) (d domain.Deduction, err error) {
			err = r.Scan(&d.ID, &d.Name, &d.Points, &d.Emoji)
			return
		}); err != nil {
		return nil, fmt.Errorf("read deductions: %w", err)
	}

	if data.PendingTasks, err = queryAll(ctx, tx,
		`SELECT id, habitId, habitName, points, emoji, timestamp FROM pending_tasks ORDER BY position`,
		func(r *sql.Rows) (p domain.PendingTask, err error) {
			var ts string
			if err = r.Scan(&p.ID, &p.HabitID, &p.HabitName, &p.Points, &p.Emoji, &ts); err != nil {
				return
			}
			p.Timestamp, err = parseTime(ts)
			return
		}); err != nil {
		return nil, fmt.Errorf("read pending tasks: %w", err)
	}

	if data.Transactions, err = queryAll(ctx, tx,
		`SELECT id, type, amount, description, date FROM transactions ORDER BY date DESC, rowid DESC`,
		func(r *sql.Rows) (t domain.Transaction, err error) {
			var date string
			if err = r.Scan(&t.ID, &t.Type, &t.Amount, &t.Description, &date); err != nil {
				return
			}
			t.Date, err = parseTime(date)
			return
		}); err != nil {
		return nil, fmt.Errorf("read transactions: %w", err)
	}

	span.SetAttributes(
		attribute.Int("ledger.transactions", len(data.Transactions)),
		attribute.Int("ledger.pending", len(data.PendingTasks)),
	)
	return data, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ============================================================
// Writes
// ============================================================

// SaveSettings replaces the settings row and the four catalog/workflow tables.
func (s *Store) SaveSettings(ctx context.Context, settings domain.Settings) error {
	ctx, span := tracer.Start(ctx, "sqlite.SaveSettings")
	defer span.End()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		return replaceSettings(ctx, tx, settings)
	})
}

// AppendTransaction inserts a single transaction.
func (s *Store) AppendTransaction(ctx context.Context, t domain.Transaction) error {
	ctx, span := tracer.Start(ctx, "sqlite.AppendTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaction.id", t.ID))

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transactions (id, type, amount, description, date) VALUES (?, ?, ?, ?, ?)`,
		t.ID, string(t.Type), t.Amount, t.Description, formatTime(t.Date),
	)
	if err != nil {
		s.logger.Error("sqlite: failed to append transaction",
			zap.String("transaction_id", t.ID),
			zap.Error(err),
		)
	}
	return err
}

// AppendTransactionsBulk inserts all txs in a single transaction.
func (s *Store) AppendTransactionsBulk(ctx context.Context, txs []domain.Transaction) error {
	ctx, span := tracer.Start(ctx, "sqlite.AppendTransactionsBulk")
	defer span.End()
	span.SetAttributes(attribute.Int("transactions.count", len(txs)))

	start := time.Now()
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return insertTransactions(ctx, tx, txs)
	})
	if err != nil {
		s.logger.Error("sqlite: bulk append rolled back", zap.Int("count", len(txs)), zap.Error(err))
		return err
	}
	s.logger.Debug("sqlite: bulk append committed",
		zap.Int("count", len(txs)),
		zap.Duration("took", time.Since(start)),
	)
	return nil
}

// ImportAll replaces the whole aggregate, history included.
func (s *Store) ImportAll(ctx context.Context, data *domain.AppData) error {
	ctx, span := tracer.Start(ctx, "sqlite.ImportAll")
	defer span.End()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := replaceSettings(ctx, tx, data.Settings()); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM transactions`); err != nil {
			return err
		}
		return insertTransactions(ctx, tx, data.Transactions)
	})
}

// ResetAll wipes every table and restores the seed aggregate.
func (s *Store) ResetAll(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "sqlite.ResetAll")
	defer span.End()

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if err := replaceSettings(ctx, tx, domain.DefaultAppData().Settings()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM transactions`)
		return err
	})
}

// ============================================================
// Helpers
// ============================================================

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Warn("sqlite: rollback failed", zap.Error(rbErr))
		}
		return err
	}
	return tx.Commit()
}

func replaceSettings(ctx context.Context, tx *sql.Tx, st domain.Settings) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO settings (id, childName, parentPin, totalPoints, avatar)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			childName   = excluded.childName,
			parentPin   = excluded.parentPin,
			totalPoints = excluded.totalPoints,
			avatar      = excluded.avatar
	`, st.ChildName, st.ParentPin, st.TotalPoints, toNull(st.Avatar)); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	for _, table := range []string{"habits", "rewards", "deductions", "pending_tasks"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for i, h := range st.Habits {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO habits (id, position, name, points, emoji) VALUES (?, ?, ?, ?, ?)`,
			h.ID, i, h.Name, h.Points, h.Emoji); err != nil {
			return fmt.Errorf("write habit %s: %w", h.ID, err)
		}
	}
	for i, r := range st.Rewards {
		var image *string
		if r.Image != "" {
			image = &r.Image
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rewards (id, position, name, cost, emoji, image) VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, i, r.Name, r.Cost, r.Emoji, toNull(image)); err != nil {
			return fmt.Errorf("write reward %s: %w", r.ID, err)
		}
	}
	for i, d := range st.Deductions {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO deductions (id, position, name, points, emoji) VALUES (?, ?, ?, ?, ?)`,
			d.ID, i, d.Name, d.Points, d.Emoji); err != nil {
			return fmt.Errorf("write deduction %s: %w", d.ID, err)
		}
	}
	for i, p := range st.PendingTasks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending_tasks (id, position, habitId, habitName, points, emoji, timestamp) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			p.ID, i, p.HabitID, p.HabitName, p.Points, p.Emoji, formatTime(p.Timestamp)); err != nil {
			return fmt.Errorf("write pending task %s: %w", p.ID, err)
		}
	}
	return nil
}

// insertTransactions writes txs from last to first: for a newest-first list that
// gives newer rows the larger rowid, which breaks equal-date ties on read.
func insertTransactions(ctx context.Context, tx *sql.Tx, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transactions (id, type, amount, description, date) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i := len(txs) - 1; i >= 0; i-- {
		t := txs[i]
		if _, err := stmt.ExecContext(ctx, t.ID, string(t.Type), t.Amount, t.Description, formatTime(t.Date)); err != nil {
			return fmt.Errorf("insert transaction %s: %w", t.ID, err)
		}
	}
	return nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func queryAll[T any](ctx context.Context, q querier, query string, scan func(*sql.Rows) (T, error)) ([]T, error) {
	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(domain.TimeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func toNull(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNull(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

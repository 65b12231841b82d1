package sqlx

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"questkit/adapters/memory"
	"questkit/core"
)

// Driver names accepted by Config.Driver.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know by default.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// Config holds SQL connection configuration
type Config struct {
	Driver          string        `json:"driver" env:"QUESTKIT_SQL_DRIVER"`
	DSN             string        `json:"dsn"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// DefaultConfig returns pool defaults for driver.
func DefaultConfig(driver string) Config {
	cfg := Config{
		Driver:          driver,
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
	}
	if driver == DriverSQLite {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
	}
	return cfg
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS quests (
		user_id VARCHAR(191) NOT NULL,
		id VARCHAR(191) NOT NULL,
		status VARCHAR(32) NOT NULL,
		body TEXT NOT NULL,
		updated_at VARCHAR(64) NOT NULL,
		PRIMARY KEY (user_id, id)
	)`,
}

// Store implements engine.Storage on a SQL database. Each quest row carries
// the full quest as a JSON body next to the columns used for lookup.
type Store struct {
	db     *sqlx.DB
	driver string
}

// New opens the database, applies pool settings and creates the schema.
func New(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case DriverPostgres, DriverMySQL, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}
	db, err := sqlx.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.Driver, err)
	}
	s := NewWithDB(db, cfg.Driver)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewWithDB wraps an existing handle (useful for testing). No migration runs.
func NewWithDB(db *sqlx.DB, driver string) *Store {
	return &Store{db: db, driver: driver}
}

// Migrate creates the quests table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateQuest(ctx context.Context, q core.Quest) error {
	body, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode quest: %w", err)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var exists bool
	err = tx.GetContext(ctx, &exists,
		tx.Rebind(`SELECT EXISTS (SELECT 1 FROM quests WHERE user_id = ? AND id = ?)`),
		string(q.UserID), string(q.ID))
	if err != nil {
		return fmt.Errorf("check quest: %w", err)
	}
	if exists {
		return core.ErrQuestExists
	}
	_, err = tx.ExecContext(ctx,
		tx.Rebind(`INSERT INTO quests (user_id, id, status, body, updated_at) VALUES (?, ?, ?, ?, ?)`),
		string(q.UserID), string(q.ID), string(q.Status), string(body), stamp(q.Updated))
	if err != nil {
		return fmt.Errorf("insert quest: %w", err)
	}
	return tx.Commit()
}

func (s *Store) GetQuest(ctx context.Context, user core.UserID, id core.QuestID) (core.Quest, error) {
	var body string
	err := s.db.GetContext(ctx, &body,
		s.db.Rebind(`SELECT body FROM quests WHERE user_id = ? AND id = ?`),
		string(user), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Quest{}, core.ErrQuestNotFound
	}
	if err != nil {
		return core.Quest{}, fmt.Errorf("get quest: %w", err)
	}
	return decodeQuest(body)
}

func (s *Store) ListQuests(ctx context.Context, user core.UserID) ([]core.Quest, error) {
	var bodies []string
	err := s.db.SelectContext(ctx, &bodies,
		s.db.Rebind(`SELECT body FROM quests WHERE user_id = ?`), string(user))
	if err != nil {
		return nil, fmt.Errorf("list quests: %w", err)
	}
	out := make([]core.Quest, 0, len(bodies))
	for _, b := range bodies {
		q, err := decodeQuest(b)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	memory.SortQuests(out)
	return out, nil
}

// UpdateQuest locks the row for the duration of fn (SQLite serializes writers
// on its own) and writes the result back in the same transaction.
func (s *Store) UpdateQuest(ctx context.Context, user core.UserID, id core.QuestID, fn func(*core.Quest) error) (core.Quest, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return core.Quest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	query := `SELECT body FROM quests WHERE user_id = ? AND id = ?`
	if s.driver != DriverSQLite {
		query += ` FOR UPDATE`
	}
	var body string
	err = tx.GetContext(ctx, &body, tx.Rebind(query), string(user), string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return core.Quest{}, core.ErrQuestNotFound
	}
	if err != nil {
		return core.Quest{}, fmt.Errorf("load quest: %w", err)
	}
	q, err := decodeQuest(body)
	if err != nil {
		return core.Quest{}, err
	}
	if err := fn(&q); err != nil {
		return core.Quest{}, err
	}
	q.ID, q.UserID = id, user
	next, err := json.Marshal(q)
	if err != nil {
		return core.Quest{}, fmt.Errorf("encode quest: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		tx.Rebind(`UPDATE quests SET status = ?, body = ?, updated_at = ? WHERE user_id = ? AND id = ?`),
		string(q.Status), string(next), stamp(q.Updated), string(user), string(id))
	if err != nil {
		return core.Quest{}, fmt.Errorf("update quest: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return core.Quest{}, err
	}
	return q, nil
}

func (s *Store) DeleteQuest(ctx context.Context, user core.UserID, id core.QuestID) error {
	res, err := s.db.ExecContext(ctx,
		s.db.Rebind(`DELETE FROM quests WHERE user_id = ? AND id = ?`),
		string(user), string(id))
	if err != nil {
		return fmt.Errorf("delete quest: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrQuestNotFound
	}
	return nil
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeQuest(body string) (core.Quest, error) {
	var q core.Quest
	if err := json.Unmarshal([]byte(body), &q); err != nil {
		return core.Quest{}, fmt.Errorf("decode quest: %w", err)
	}
	return q, nil
}

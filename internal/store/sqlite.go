package store

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"

	"cohortd/internal/model"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string, shards int) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:cohortd.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db, shards: shards}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS customers (
			customer_id TEXT PRIMARY KEY,
			daily_spend REAL,
			user_type TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cohort_members (
			customer_id TEXT NOT NULL,
			cohort_type TEXT NOT NULL,
			added_at TEXT NOT NULL,
			PRIMARY KEY (customer_id, cohort_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cohort_members_type ON cohort_members(cohort_type)`,
		`CREATE TABLE IF NOT EXISTS customer_changes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			shard_id TEXT NOT NULL,
			change_kind TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			daily_spend REAL,
			user_type TEXT,
			ts TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_changes_shard_seq ON customer_changes(shard_id, seq)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqliteStore) SaveCustomer(ctx context.Context, customer model.Customer) error {
	if customer.ID == "" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM customers WHERE customer_id = ?)`,
		customer.ID,
	).Scan(&exists); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO customers (customer_id, daily_spend, user_type, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(customer_id) DO UPDATE SET
			daily_spend = excluded.daily_spend,
			user_type = excluded.user_type,
			updated_at = excluded.updated_at`,
		customer.ID, customer.DailySpend, string(customer.UserType), nowUTC(),
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	kind := model.ChangeCreated
	if exists {
		kind = model.ChangeUpdated
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO customer_changes (shard_id, change_kind, customer_id, daily_spend, user_type, ts)
		VALUES (?, ?, ?, ?, ?, ?)`,
		s.shardFor(customer.ID), string(kind), customer.ID, customer.DailySpend, string(customer.UserType), nowUTC(),
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *sqliteStore) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT customer_id, daily_spend, user_type FROM customers ORDER BY customer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCustomers(rows)
}

func (s *sqliteStore) AddCustomerToCohort(ctx context.Context, cohort model.CohortType, customerID string) (bool, error) {
	if customerID == "" || cohort == "" {
		return false, nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cohort_members (customer_id, cohort_type, added_at)
		VALUES (?, ?, ?)
		ON CONFLICT(customer_id, cohort_type) DO NOTHING`,
		customerID, string(cohort), nowUTC(),
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *sqliteStore) IsCustomerInCohort(ctx context.Context, customerID string, cohort model.CohortType) (bool, error) {
	if customerID == "" || cohort == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM cohort_members WHERE customer_id = ? AND cohort_type = ?)`,
		customerID, string(cohort),
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *sqliteStore) CustomerIDsByCohort(ctx context.Context, cohort model.CohortType) ([]string, error) {
	if cohort == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT customer_id FROM cohort_members WHERE cohort_type = ? ORDER BY customer_id`,
		string(cohort),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *sqliteStore) CohortsByCustomer(ctx context.Context, customerID string) ([]model.CohortType, error) {
	if customerID == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT cohort_type FROM cohort_members WHERE customer_id = ? ORDER BY cohort_type`,
		customerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCohorts(rows)
}

func (s *sqliteStore) ListShards(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT shard_id FROM customer_changes ORDER BY shard_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *sqliteStore) GetCursor(ctx context.Context, shardID string, position model.StreamPosition) (model.ShardCursor, error) {
	cursor := model.ShardCursor{ShardID: shardID}
	if position != model.Latest {
		return cursor, nil
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM customer_changes WHERE shard_id = ?`,
		shardID,
	).Scan(&cursor.Seq)
	if err != nil {
		return model.ShardCursor{ShardID: shardID}, err
	}
	return cursor, nil
}

func (s *sqliteStore) Pull(ctx context.Context, cursor model.ShardCursor, limit int) ([]model.ChangeRecord, model.ShardCursor, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, shard_id, change_kind, customer_id, daily_spend, user_type, ts
		FROM customer_changes
		WHERE shard_id = ? AND seq > ?
		ORDER BY seq
		LIMIT ?`,
		cursor.ShardID, cursor.Seq, limit,
	)
	if err != nil {
		return nil, cursor, err
	}
	defer rows.Close()
	return scanChanges(rows, cursor)
}

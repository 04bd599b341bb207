package store

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"

	"cohortd/internal/model"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string, shards int) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/cohortd?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, shards: shards}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS customers (
			customer_id TEXT PRIMARY KEY,
			daily_spend DOUBLE PRECISION,
			user_type TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS cohort_members (
			customer_id TEXT NOT NULL,
			cohort_type TEXT NOT NULL,
			added_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (customer_id, cohort_type)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cohort_members_type ON cohort_members(cohort_type)`,
		`CREATE TABLE IF NOT EXISTS customer_changes (
			seq BIGSERIAL PRIMARY KEY,
			shard_id TEXT NOT NULL,
			change_kind TEXT NOT NULL,
			customer_id TEXT NOT NULL,
			daily_spend DOUBLE PRECISION,
			user_type TEXT,
			ts TIMESTAMPTZ NOT NULL
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

func (s *postgresStore) SaveCustomer(ctx context.Context, customer model.Customer) error {
	if customer.ID == "" {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM customers WHERE customer_id = $1)`,
		customer.ID,
	).Scan(&exists); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO customers (customer_id, daily_spend, user_type, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (customer_id) DO UPDATE SET
			daily_spend = EXCLUDED.daily_spend,
			user_type = EXCLUDED.user_type,
			updated_at = EXCLUDED.updated_at`,
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
		VALUES ($1, $2, $3, $4, $5, $6)`,
		s.shardFor(customer.ID), string(kind), customer.ID, customer.DailySpend, string(customer.UserType), nowUTC(),
	); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *postgresStore) ListCustomers(ctx context.Context) ([]model.Customer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT customer_id, daily_spend, user_type FROM customers ORDER BY customer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCustomers(rows)
}

func (s *postgresStore) AddCustomerToCohort(ctx context.Context, cohort model.CohortType, customerID string) (bool, error) {
	if customerID == "" || cohort == "" {
		return false, nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cohort_members (customer_id, cohort_type, added_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (customer_id, cohort_type) DO NOTHING`,
		customerID, string(cohort), nowUTC(),
	)
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *postgresStore) IsCustomerInCohort(ctx context.Context, customerID string, cohort model.CohortType) (bool, error) {
	if customerID == "" || cohort == "" {
		return false, nil
	}
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM cohort_members WHERE customer_id = $1 AND cohort_type = $2)`,
		customerID, string(cohort),
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *postgresStore) CustomerIDsByCohort(ctx context.Context, cohort model.CohortType) ([]string, error) {
	if cohort == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT customer_id FROM cohort_members WHERE cohort_type = $1 ORDER BY customer_id`,
		string(cohort),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *postgresStore) CohortsByCustomer(ctx context.Context, customerID string) ([]model.CohortType, error) {
	if customerID == "" {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT cohort_type FROM cohort_members WHERE customer_id = $1 ORDER BY cohort_type`,
		customerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCohorts(rows)
}

func (s *postgresStore) ListShards(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT shard_id FROM customer_changes ORDER BY shard_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

func (s *postgresStore) GetCursor(ctx context.Context, shardID string, position model.StreamPosition) (model.ShardCursor, error) {
	cursor := model.ShardCursor{ShardID: shardID}
	if position != model.Latest {
		return cursor, nil
	}
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM customer_changes WHERE shard_id = $1`,
		shardID,
	).Scan(&cursor.Seq)
	if err != nil {
		return model.ShardCursor{ShardID: shardID}, err
	}
	return cursor, nil
}

func (s *postgresStore) Pull(ctx context.Context, cursor model.ShardCursor, limit int) ([]model.ChangeRecord, model.ShardCursor, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, shard_id, change_kind, customer_id, daily_spend, user_type, ts
		FROM customer_changes
		WHERE shard_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3`,
		cursor.ShardID, cursor.Seq, limit,
	)
	if err != nil {
		return nil, cursor, err
	}
	defer rows.Close()
	return scanChanges(rows, cursor)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"cohortd/internal/config"
	"cohortd/internal/model"
)

// Store is the durable mapping between customers and cohort types plus the
// raw customer records and their change feed. Membership is monotonic:
// there is no removal operation, and AddCustomerToCohort is idempotent so
// concurrent redelivery from either ingestion path converges on the same
// state. Read operations degrade to empty results on blank input rather
// than returning an error.
type Store interface {
	Init(ctx context.Context) error
	Close() error

	SaveCustomer(ctx context.Context, customer model.Customer) error
	ListCustomers(ctx context.Context) ([]model.Customer, error)

	AddCustomerToCohort(ctx context.Context, cohort model.CohortType, customerID string) (bool, error)
	IsCustomerInCohort(ctx context.Context, customerID string, cohort model.CohortType) (bool, error)
	CustomerIDsByCohort(ctx context.Context, cohort model.CohortType) ([]string, error)
	CohortsByCustomer(ctx context.Context, customerID string) ([]model.CohortType, error)

	// Change feed, consumed by the stream poller.
	ListShards(ctx context.Context) ([]string, error)
	GetCursor(ctx context.Context, shardID string, position model.StreamPosition) (model.ShardCursor, error)
	Pull(ctx context.Context, cursor model.ShardCursor, limit int) ([]model.ChangeRecord, model.ShardCursor, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "memory":
		return NewMemory(cfg.ShardCount), nil
	case "sqlite":
		return NewSQLite(cfg.DSN, cfg.ShardCount)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN, cfg.ShardCount)
	default:
		return nil, errors.New("unsupported storage driver")
	}
}

type baseStore struct {
	db     *sql.DB
	shards int
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// shardFor buckets a customer id onto a fixed shard. Buckets only become
// visible to ListShards once they hold at least one change row, so the
// shard set grows as data arrives and consumers must re-discover.
func (b *baseStore) shardFor(customerID string) string {
	n := b.shards
	if n <= 0 {
		n = 1
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(customerID))
	return fmt.Sprintf("shard-%04d", h.Sum32()%uint32(n))
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// Package queue implements the message-queue leg of the ingestion
// pipeline: a narrow SQS-style contract (receive a bounded batch with a
// bounded wait, acknowledge per message, create the queue when missing)
// and a periodic consumer that feeds parsed customer payloads to the
// classifier. Delivery is at-least-once; an unacknowledged message is
// redelivered and idempotent classification absorbs the duplicate.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"cohortd/internal/model"
)

// Message is one received queue entry. Partition and Offset identify it
// for acknowledgement.
type Message struct {
	Partition int
	Offset    int64
	Body      []byte
}

type Queue interface {
	// EnsureQueue resolves the queue endpoint, creating the queue if it
	// is not yet provisioned.
	EnsureQueue(ctx context.Context) error
	// Receive returns up to max messages, waiting at most wait.
	Receive(ctx context.Context, max int, wait time.Duration) ([]Message, error)
	// Delete acknowledges a successfully processed message.
	Delete(ctx context.Context, msg Message) error
	Close() error
}

type payload struct {
	CustomerID string   `json:"customerId"`
	DailySpend *float64 `json:"dailySpend"`
	UserType   string   `json:"userType"`
}

// ParsePayload decodes a customer-update message body. The customer id and
// a valid user type are required; daily spend may be absent.
func ParsePayload(body []byte) (*model.Customer, error) {
	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if strings.TrimSpace(p.CustomerID) == "" {
		return nil, fmt.Errorf("payload missing customerId")
	}
	userType, err := model.ParseUserType(p.UserType)
	if err != nil {
		return nil, err
	}
	return &model.Customer{
		ID:         strings.TrimSpace(p.CustomerID),
		DailySpend: p.DailySpend,
		UserType:   userType,
	}, nil
}

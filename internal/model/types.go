package model

import (
	"fmt"
	"strings"
	"time"
)

// UserType distinguishes paying customers from free-tier ones.
type UserType string

const (
	UserPaid UserType = "PAID"
	UserFree UserType = "FREE"
)

func ParseUserType(s string) (UserType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "PAID":
		return UserPaid, nil
	case "FREE":
		return UserFree, nil
	}
	return "", fmt.Errorf("unknown user type: %q", s)
}

// CohortType is the closed set of cohort labels. Extending it requires a
// code change and redeployment.
type CohortType string

const (
	CohortFraud   CohortType = "FRAUD"
	CohortPremium CohortType = "PREMIUM"
	CohortNormal  CohortType = "NORMAL"
	CohortVIP     CohortType = "VIP"
)

func CohortTypes() []CohortType {
	return []CohortType{CohortFraud, CohortPremium, CohortNormal, CohortVIP}
}

func ParseCohortType(s string) (CohortType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "FRAUD":
		return CohortFraud, nil
	case "PREMIUM":
		return CohortPremium, nil
	case "NORMAL":
		return CohortNormal, nil
	case "VIP":
		return CohortVIP, nil
	}
	return "", fmt.Errorf("unknown cohort type: %q", s)
}

// Customer is an immutable snapshot of a customer record. DailySpend is a
// pointer because source feeds may omit it; rules treat nil as no match.
type Customer struct {
	ID         string   `json:"customerId"`
	DailySpend *float64 `json:"dailySpend"`
	UserType   UserType `json:"userType"`
}

// NewCustomer builds a snapshot with a known daily spend.
func NewCustomer(id string, dailySpend float64, userType UserType) Customer {
	return Customer{ID: id, DailySpend: &dailySpend, UserType: userType}
}

// ChangeKind classifies a change-feed record.
type ChangeKind string

const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
)

// StreamPosition selects where a freshly initialized shard cursor starts.
type StreamPosition string

const (
	TrimHorizon StreamPosition = "TRIM_HORIZON"
	Latest      StreamPosition = "LATEST"
)

// ShardCursor marks how far one change-feed shard has been consumed. It is
// held in process memory only; a restart re-initializes from TrimHorizon.
type ShardCursor struct {
	ShardID string
	Seq     int64
}

// ChangeRecord is one entry pulled from a customer change-feed shard.
// PostImage is absent for removals and for malformed rows.
type ChangeRecord struct {
	Seq       int64      `json:"seq"`
	ShardID   string     `json:"shard_id"`
	Kind      ChangeKind `json:"kind"`
	PostImage *Customer  `json:"post_image,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

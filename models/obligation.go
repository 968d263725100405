package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	CollectionObligations = "obligations"
)

// types of obligation status
const (
	ObligationStatusPending   = "pending"
	ObligationStatusFulfilled = "fulfilled"
	ObligationStatusDefaulted = "defaulted"
	ObligationStatusTimedOut  = "timed_out"
)

// reason codes recorded on defaults
const (
	DefaultReasonTimeout    = "TIMEOUT"
	DefaultReasonInsolvency = "INSOLVENCY"
	DefaultReasonManual     = "MANUAL"
)

type Obligation struct {
	Id            *primitive.ObjectID `bson:"_id,omitempty"`
	ObligationId  string              `bson:"obligation_id"`
	User          string              `bson:"user"`
	Custodian     string              `bson:"custodian"`
	Wallet        string              `bson:"wallet"`
	TargetAddress string              `bson:"target_address"`
	Amount        string              `bson:"amount"`
	ActualAmount  string              `bson:"actual_amount,omitempty"`
	RequestedAt   time.Time           `bson:"requested_at"`
	ResolvedAt    *time.Time          `bson:"resolved_at,omitempty"`
	Status        string              `bson:"status"`
	ReasonCode    string              `bson:"reason_code,omitempty"`
	UpdatedAt     time.Time           `bson:"updated_at"`
}

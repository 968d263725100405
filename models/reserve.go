package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	CollectionReserves = "reserves"
)

// Reserve is the finalized consensus balance for one custodian.
type Reserve struct {
	Id          *primitive.ObjectID `bson:"_id,omitempty"`
	Custodian   string              `bson:"custodian"`
	Balance     string              `bson:"balance"`
	FinalizedAt time.Time           `bson:"finalized_at"`
	Failed      bool                `bson:"failed"`
	Attesters   []string            `bson:"attesters"`
	UpdatedAt   time.Time           `bson:"updated_at"`
}

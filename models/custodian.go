package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	CollectionCustodians = "custodians"
)

// types of custodian status
const (
	CustodianStatusActive          = "active"
	CustodianStatusSelfPaused      = "self_paused"
	CustodianStatusUnderReview     = "under_review"
	CustodianStatusEmergencyPaused = "emergency_paused"
	CustodianStatusRevoked         = "revoked"
)

type Custodian struct {
	Id                 *primitive.ObjectID `bson:"_id,omitempty"`
	Address            string              `bson:"address"`
	Status             string              `bson:"status"`
	MaxCapacity        string              `bson:"max_capacity"`
	TotalMinted        string              `bson:"total_minted"`
	CurrentBacking     string              `bson:"current_backing"`
	RegisteredAt       time.Time           `bson:"registered_at"`
	SelfPauseTimestamp *time.Time          `bson:"self_pause_timestamp,omitempty"`
	Escalated          bool                `bson:"escalated"`
	MintingPaused      bool                `bson:"minting_paused"`
	RedeemingPaused    bool                `bson:"redeeming_paused"`
	UpdatedAt          time.Time           `bson:"updated_at"`
}

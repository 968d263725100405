package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	CollectionAuditEvents = "audit_events"
)

// AuditEvent is one entry of the append-only state transition trail.
// Digest chains over the previous event so the trail is tamper evident.
type AuditEvent struct {
	Id            *primitive.ObjectID `bson:"_id,omitempty"`
	EventId       string              `bson:"event_id"`
	Sequence      uint64              `bson:"sequence"`
	Entity        string              `bson:"entity"`
	PreviousState string              `bson:"previous_state"`
	NewState      string              `bson:"new_state"`
	ReasonCode    string              `bson:"reason_code"`
	Actor         string              `bson:"actor"`
	Timestamp     time.Time           `bson:"timestamp"`
	Digest        string              `bson:"digest"`
}

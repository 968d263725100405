package audit

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/qbtc-network/qbtc-custodian/models"
)

// digestBody is the canonical encoding input for one event. Core mode keeps
// map keys sorted so the digest is deterministic across processes.
type digestBody struct {
	Sequence      uint64 `cbor:"1,keyasint"`
	Entity        string `cbor:"2,keyasint"`
	PreviousState string `cbor:"3,keyasint"`
	NewState      string `cbor:"4,keyasint"`
	ReasonCode    string `cbor:"5,keyasint"`
	Actor         string `cbor:"6,keyasint"`
	UnixNanos     int64  `cbor:"7,keyasint"`
	PrevDigest    string `cbor:"8,keyasint"`
}

// Trail is the append-only state transition log shared by all engine
// components. Every accepted transition appends exactly one event.
type Trail struct {
	mu         sync.RWMutex
	events     []models.AuditEvent
	lastDigest string
	enc        cbor.EncMode
}

func NewTrail() *Trail {
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		log.Fatal("[AUDIT] Error creating cbor encoder: ", err)
	}
	return &Trail{
		enc: enc,
	}
}

// Append records one transition and returns the stored event.
func (x *Trail) Append(entity string, previousState string, newState string, reasonCode string, actor string, timestamp time.Time) models.AuditEvent {
	x.mu.Lock()
	defer x.mu.Unlock()

	sequence := uint64(len(x.events)) + 1

	body := digestBody{
		Sequence:      sequence,
		Entity:        entity,
		PreviousState: previousState,
		NewState:      newState,
		ReasonCode:    reasonCode,
		Actor:         actor,
		UnixNanos:     timestamp.UnixNano(),
		PrevDigest:    x.lastDigest,
	}
	encoded, err := x.enc.Marshal(body)
	if err != nil {
		// all digestBody fields are encodable; this cannot fail on valid input
		log.Error("[AUDIT] Error encoding event: ", err)
	}
	digest := hex.EncodeToString(crypto.Keccak256(encoded))

	event := models.AuditEvent{
		EventId:       uuid.NewString(),
		Sequence:      sequence,
		Entity:        entity,
		PreviousState: previousState,
		NewState:      newState,
		ReasonCode:    reasonCode,
		Actor:         actor,
		Timestamp:     timestamp,
		Digest:        digest,
	}

	x.events = append(x.events, event)
	x.lastDigest = digest

	return event
}

func (x *Trail) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return len(x.events)
}

// Events returns a copy of the full trail.
func (x *Trail) Events() []models.AuditEvent {
	x.mu.RLock()
	defer x.mu.RUnlock()

	events := make([]models.AuditEvent, len(x.events))
	copy(events, x.events)
	return events
}

// EventsSince returns events with sequence strictly greater than seq.
func (x *Trail) EventsSince(seq uint64) []models.AuditEvent {
	x.mu.RLock()
	defer x.mu.RUnlock()

	if seq >= uint64(len(x.events)) {
		return nil
	}
	events := make([]models.AuditEvent, len(x.events)-int(seq))
	copy(events, x.events[seq:])
	return events
}

// EventsFor returns events for one entity.
func (x *Trail) EventsFor(entity string) []models.AuditEvent {
	x.mu.RLock()
	defer x.mu.RUnlock()

	var events []models.AuditEvent
	for _, event := range x.events {
		if event.Entity == entity {
			events = append(events, event)
		}
	}
	return events
}

// Verify recomputes the digest chain and reports the first bad sequence,
// or 0 when the trail is intact.
func (x *Trail) Verify() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	prevDigest := ""
	for _, event := range x.events {
		body := digestBody{
			Sequence:      event.Sequence,
			Entity:        event.Entity,
			PreviousState: event.PreviousState,
			NewState:      event.NewState,
			ReasonCode:    event.ReasonCode,
			Actor:         event.Actor,
			UnixNanos:     event.Timestamp.UnixNano(),
			PrevDigest:    prevDigest,
		}
		encoded, err := x.enc.Marshal(body)
		if err != nil {
			return event.Sequence
		}
		digest := hex.EncodeToString(crypto.Keccak256(encoded))
		if digest != event.Digest {
			return event.Sequence
		}
		prevDigest = digest
	}
	return 0
}

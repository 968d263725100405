package registry

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// PauseRecord exists from the first self-pause trigger until a validated
// recovery clears it.
type PauseRecord struct {
	IsPaused           bool
	SelfPauseTimestamp time.Time
	Escalated          bool
}

// EscalationPolicy holds the timer rules that turn stale oracle data into a
// self-pause and a lingering self-pause into a system-visible escalation.
type EscalationPolicy struct {
	GracePeriod     time.Duration
	EscalationDelay time.Duration
}

// ShouldSelfPause reports whether staleness has persisted beyond the grace
// period. A zero staleSince means the data is not currently stale.
func (p EscalationPolicy) ShouldSelfPause(staleSince time.Time, now time.Time) bool {
	if staleSince.IsZero() {
		return false
	}
	return now.Sub(staleSince) > p.GracePeriod
}

// ShouldEscalate reports whether the escalation delay has elapsed since the
// self-pause, never earlier.
func (p EscalationPolicy) ShouldEscalate(pause PauseRecord, now time.Time) bool {
	if !pause.IsPaused || pause.Escalated {
		return false
	}
	return now.Sub(pause.SelfPauseTimestamp) >= p.EscalationDelay
}

// SelfPause records the first self-pause trigger for a custodian; repeated
// triggers keep the original timestamp.
func (x *Registry) SelfPause(custodian common.Address, now time.Time) PauseRecord {
	x.mu.Lock()
	defer x.mu.Unlock()

	pause, ok := x.pauses[custodian]
	if !ok || !pause.IsPaused {
		pause = &PauseRecord{
			IsPaused:           true,
			SelfPauseTimestamp: now,
		}
		x.pauses[custodian] = pause
	}
	return *pause
}

// Escalate marks the pause record escalated.
func (x *Registry) Escalate(custodian common.Address) PauseRecord {
	x.mu.Lock()
	defer x.mu.Unlock()

	pause, ok := x.pauses[custodian]
	if !ok {
		pause = &PauseRecord{IsPaused: true}
		x.pauses[custodian] = pause
	}
	pause.Escalated = true
	return *pause
}

// ClearPause removes the pause record after a validated recovery.
func (x *Registry) ClearPause(custodian common.Address) {
	x.mu.Lock()
	defer x.mu.Unlock()

	delete(x.pauses, custodian)
}

// Pause returns a copy of the pause record, if any.
func (x *Registry) Pause(custodian common.Address) (PauseRecord, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	pause, ok := x.pauses[custodian]
	if !ok {
		return PauseRecord{}, false
	}
	return *pause, true
}

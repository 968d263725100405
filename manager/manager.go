package manager

import (
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/hashicorp/golang-lru/v2/expirable"
	log "github.com/sirupsen/logrus"

	"github.com/qbtc-network/qbtc-custodian/audit"
	"github.com/qbtc-network/qbtc-custodian/auth"
	"github.com/qbtc-network/qbtc-custodian/ledger"
	"github.com/qbtc-network/qbtc-custodian/models"
	"github.com/qbtc-network/qbtc-custodian/oracle"
	"github.com/qbtc-network/qbtc-custodian/registry"
)

const (
	syncGateSize = 4096
)

// Params are the lifecycle tunables, read from config at wiring time.
type Params struct {
	GracePeriod      time.Duration
	EscalationDelay  time.Duration
	MinSyncInterval  time.Duration
	DefaultsToReview int
	DefaultWindow    time.Duration
}

// Manager coordinates the oracle, the custodian registry and the capacity
// ledger. Components are connected by custodian id, never by ownership; all
// cross-component transitions for one custodian serialize on one mutex.
type Manager struct {
	params   Params
	policy   registry.EscalationPolicy
	roles    auth.RoleProvider
	oracle   *oracle.Consensus
	registry *registry.Registry
	capacity *ledger.Capacity
	holdings *ledger.Holdings
	trail    *audit.Trail

	mu         sync.Mutex
	locks      map[common.Address]*sync.Mutex
	staleSince map[common.Address]time.Time
	defaults   map[common.Address][]time.Time
	syncGate   *expirable.LRU[common.Address, time.Time]

	now func() time.Time
}

func NewManager(
	params Params,
	roles auth.RoleProvider,
	consensus *oracle.Consensus,
	reg *registry.Registry,
	capacity *ledger.Capacity,
	holdings *ledger.Holdings,
	trail *audit.Trail,
) *Manager {
	return &Manager{
		params: params,
		policy: registry.EscalationPolicy{
			GracePeriod:     params.GracePeriod,
			EscalationDelay: params.EscalationDelay,
		},
		roles:      roles,
		oracle:     consensus,
		registry:   reg,
		capacity:   capacity,
		holdings:   holdings,
		trail:      trail,
		locks:      make(map[common.Address]*sync.Mutex),
		staleSince: make(map[common.Address]time.Time),
		defaults:   make(map[common.Address][]time.Time),
		syncGate:   expirable.NewLRU[common.Address, time.Time](syncGateSize, nil, params.MinSyncInterval),
		now:        time.Now,
	}
}

// lockFor returns the per-custodian mutex, creating it on first use.
func (x *Manager) lockFor(custodian common.Address) *sync.Mutex {
	x.mu.Lock()
	defer x.mu.Unlock()

	lock, ok := x.locks[custodian]
	if !ok {
		lock = &sync.Mutex{}
		x.locks[custodian] = lock
	}
	return lock
}

func entityFor(custodian common.Address) string {
	return "custodian:" + custodian.Hex()
}

// RegisterQC creates the registry record with status Active and authorizes
// the custodian in the capacity ledger with the given cap.
func (x *Manager) RegisterQC(registrar common.Address, custodian common.Address, maxCapacity math.Int) error {
	if !x.roles.HasRole(registrar, auth.RoleRegistrar) {
		return fmt.Errorf("%w: %s is not a registrar", models.ErrUnauthorized, registrar.Hex())
	}

	lock := x.lockFor(custodian)
	lock.Lock()
	defer lock.Unlock()

	now := x.now()

	if err := x.registry.Register(custodian, maxCapacity, now); err != nil {
		return err
	}
	if err := x.capacity.AuthorizeReserve(custodian, maxCapacity); err != nil {
		return err
	}

	x.trail.Append(entityFor(custodian), "none", models.CustodianStatusActive, "REGISTERED", registrar.Hex(), now)

	log.Info("[MANAGER] Registered custodian ", custodian.Hex(), " with capacity ", maxCapacity.String())
	return nil
}

// SyncFromOracle reads the consensus view for one custodian and applies the
// self-pause and escalation rules. Rate-limited per custodian; time is read
// once per invocation.
func (x *Manager) SyncFromOracle(custodian common.Address) error {
	lock := x.lockFor(custodian)
	lock.Lock()
	defer lock.Unlock()

	// checked under the lock so concurrent syncs cannot both pass the gate
	if _, limited := x.syncGate.Get(custodian); limited {
		return fmt.Errorf("%w: sync for %s within min interval", models.ErrRateLimited, custodian.Hex())
	}

	record, ok := x.registry.Get(custodian)
	if !ok {
		return fmt.Errorf("%w: custodian %s not registered", models.ErrValidation, custodian.Hex())
	}

	now := x.now()
	x.syncGate.Add(custodian, now)

	reserve := x.oracle.GetBalance(custodian)
	if reserve.Found {
		if err := x.registry.SetBacking(custodian, reserve.Balance); err != nil {
			return err
		}
	}

	if !reserve.Stale && !reserve.Failed {
		x.mu.Lock()
		delete(x.staleSince, custodian)
		x.mu.Unlock()
		return nil
	}

	// stale or failed reserve data; paused custodians never auto-recover
	switch record.Status {
	case models.CustodianStatusActive:
		x.mu.Lock()
		staleSince, tracked := x.staleSince[custodian]
		if !tracked {
			x.staleSince[custodian] = now
			staleSince = now
		}
		x.mu.Unlock()

		if !x.policy.ShouldSelfPause(staleSince, now) {
			return nil
		}
		return x.selfPauseLocked(custodian, now)

	case models.CustodianStatusSelfPaused:
		pause, ok := x.registry.Pause(custodian)
		if !ok || !x.policy.ShouldEscalate(pause, now) {
			return nil
		}
		return x.escalateLocked(custodian, now)
	}

	return nil
}

// selfPauseLocked transitions Active -> SelfPaused. Caller holds the
// per-custodian lock.
func (x *Manager) selfPauseLocked(custodian common.Address, now time.Time) error {
	if err := x.registry.SetStatus(custodian, models.CustodianStatusSelfPaused); err != nil {
		return err
	}
	x.registry.SelfPause(custodian, now)

	capacityRecord, _ := x.capacity.Get(custodian)
	if err := x.capacity.SetPauseFlags(custodian, true, capacityRecord.RedeemingPaused); err != nil {
		return err
	}

	x.mu.Lock()
	delete(x.staleSince, custodian)
	x.mu.Unlock()

	x.trail.Append(entityFor(custodian), models.CustodianStatusActive, models.CustodianStatusSelfPaused, "STALE_RESERVE", "manager", now)

	log.Warn("[MANAGER] Custodian ", custodian.Hex(), " self-paused on stale reserve data")
	return nil
}

// escalateLocked transitions SelfPaused -> UnderReview. Redemption pauses
// only at escalation, not at self-pause. Caller holds the per-custodian lock.
func (x *Manager) escalateLocked(custodian common.Address, now time.Time) error {
	if err := x.registry.SetStatus(custodian, models.CustodianStatusUnderReview); err != nil {
		return err
	}
	x.registry.Escalate(custodian)

	if err := x.capacity.SetPauseFlags(custodian, true, true); err != nil {
		return err
	}

	x.trail.Append(entityFor(custodian), models.CustodianStatusSelfPaused, models.CustodianStatusUnderReview, "ESCALATED", "manager", now)

	log.Warn("[MANAGER] Custodian ", custodian.Hex(), " escalated to under review")
	return nil
}

// SetStatus is the privileged transition for arbiters and enforcement:
// force UnderReview, EmergencyPaused or Revoked, or restore Active after
// manual verification. Recovery is never automatic.
func (x *Manager) SetStatus(actor common.Address, custodian common.Address, newStatus string, reasonCode string) error {
	if !x.roles.HasRole(actor, auth.RoleArbiter) && !x.roles.HasRole(actor, auth.RoleEnforcement) {
		return fmt.Errorf("%w: %s is not an arbiter or enforcement", models.ErrUnauthorized, actor.Hex())
	}

	switch newStatus {
	case models.CustodianStatusActive, models.CustodianStatusUnderReview,
		models.CustodianStatusEmergencyPaused, models.CustodianStatusRevoked:
	default:
		return fmt.Errorf("%w: status %q cannot be forced", models.ErrValidation, newStatus)
	}

	lock := x.lockFor(custodian)
	lock.Lock()
	defer lock.Unlock()

	now := x.now()

	record, ok := x.registry.Get(custodian)
	if !ok {
		return fmt.Errorf("%w: custodian %s not registered", models.ErrValidation, custodian.Hex())
	}
	if record.Status == models.CustodianStatusRevoked {
		return fmt.Errorf("%w: custodian %s is revoked", models.ErrStateConflict, custodian.Hex())
	}
	if record.Status == newStatus {
		return fmt.Errorf("%w: custodian %s already %s", models.ErrStateConflict, custodian.Hex(), newStatus)
	}

	if newStatus == models.CustodianStatusActive {
		capacityRecord, ok := x.capacity.Get(custodian)
		if !ok {
			return fmt.Errorf("%w: custodian %s not authorized", models.ErrStateConflict, custodian.Hex())
		}
		if capacityRecord.TotalMinted.GT(capacityRecord.MintingCap) {
			return fmt.Errorf("%w: total minted %s exceeds cap %s", models.ErrInvariant, capacityRecord.TotalMinted.String(), capacityRecord.MintingCap.String())
		}
		if err := x.capacity.SetPauseFlags(custodian, false, false); err != nil {
			return err
		}
		x.registry.ClearPause(custodian)
		x.mu.Lock()
		delete(x.staleSince, custodian)
		x.mu.Unlock()
	} else {
		if err := x.capacity.SetPauseFlags(custodian, true, true); err != nil {
			return err
		}
	}

	if err := x.registry.SetStatus(custodian, newStatus); err != nil {
		return err
	}

	x.trail.Append(entityFor(custodian), record.Status, newStatus, reasonCode, actor.Hex(), now)

	log.Info("[MANAGER] Custodian ", custodian.Hex(), " status ", record.Status, " -> ", newStatus, " (", reasonCode, ")")
	return nil
}

// Mint is the issuance path: the custodian mints against its own cap and
// the user is credited. Stale reserve data is a soft deny.
func (x *Manager) Mint(custodian common.Address, user common.Address, amount math.Int) error {
	if user == (common.Address{}) {
		return fmt.Errorf("%w: zero user", models.ErrValidation)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount", models.ErrValidation)
	}

	lock := x.lockFor(custodian)
	lock.Lock()
	defer lock.Unlock()

	now := x.now()

	record, ok := x.registry.Get(custodian)
	if !ok {
		return fmt.Errorf("%w: custodian %s not registered", models.ErrValidation, custodian.Hex())
	}
	if record.Status != models.CustodianStatusActive {
		return fmt.Errorf("%w: custodian %s is %s", models.ErrStateConflict, custodian.Hex(), record.Status)
	}

	reserve := x.oracle.GetBalance(custodian)
	if reserve.Stale || reserve.Failed {
		return fmt.Errorf("%w: reserve data for %s is stale", models.ErrStateConflict, custodian.Hex())
	}

	if !x.capacity.CanMint(custodian, amount) {
		return fmt.Errorf("%w: mint %s not admissible for %s", models.ErrStateConflict, amount.String(), custodian.Hex())
	}
	if err := x.capacity.RecordMint(custodian, amount); err != nil {
		return err
	}
	if err := x.holdings.Credit(user, amount); err != nil {
		// restore the ledger so the operation has no partial effect
		if restoreErr := x.capacity.RecordRedeem(custodian, amount); restoreErr != nil {
			log.Error("[MANAGER] Error restoring ledger after failed credit: ", restoreErr)
		}
		return err
	}

	capacityRecord, _ := x.capacity.Get(custodian)
	if err := x.registry.SetMinted(custodian, capacityRecord.TotalMinted); err != nil {
		return err
	}

	x.trail.Append(entityFor(custodian), "minted:"+record.TotalMinted.String(), "minted:"+capacityRecord.TotalMinted.String(), "MINT", custodian.Hex(), now)

	log.Info("[MANAGER] Custodian ", custodian.Hex(), " minted ", amount.String(), " to ", user.Hex())
	return nil
}

// ReportDefault records a redemption default against a custodian. Enough
// defaults within the window force the custodian under review.
func (x *Manager) ReportDefault(custodian common.Address, now time.Time) {
	lock := x.lockFor(custodian)
	lock.Lock()
	defer lock.Unlock()

	x.mu.Lock()
	history := x.defaults[custodian]
	fresh := history[:0]
	for _, at := range history {
		if now.Sub(at) <= x.params.DefaultWindow {
			fresh = append(fresh, at)
		}
	}
	fresh = append(fresh, now)
	x.defaults[custodian] = fresh
	count := len(fresh)
	x.mu.Unlock()

	log.Warn("[MANAGER] Default reported for ", custodian.Hex(), " (", count, " in window)")

	if x.params.DefaultsToReview <= 0 || count < x.params.DefaultsToReview {
		return
	}

	record, ok := x.registry.Get(custodian)
	if !ok {
		return
	}
	switch record.Status {
	case models.CustodianStatusActive, models.CustodianStatusSelfPaused:
		if err := x.registry.SetStatus(custodian, models.CustodianStatusUnderReview); err != nil {
			log.Error("[MANAGER] Error forcing review on defaults: ", err)
			return
		}
		x.registry.Escalate(custodian)
		if err := x.capacity.SetPauseFlags(custodian, true, true); err != nil {
			log.Error("[MANAGER] Error pausing on defaults: ", err)
			return
		}
		x.trail.Append(entityFor(custodian), record.Status, models.CustodianStatusUnderReview, "DEFAULTS", "redeemer", now)
		log.Warn("[MANAGER] Custodian ", custodian.Hex(), " forced under review after ", count, " defaults")
	}
}

// DefaultCount reports the defaults recorded within the current window.
func (x *Manager) DefaultCount(custodian common.Address) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.now()
	count := 0
	for _, at := range x.defaults[custodian] {
		if now.Sub(at) <= x.params.DefaultWindow {
			count++
		}
	}
	return count
}

// Custodians lists registered custodian addresses.
func (x *Manager) Custodians() []common.Address {
	return x.registry.All()
}

// Trail exposes the audit trail for flushing and queries.
func (x *Manager) Trail() *audit.Trail {
	return x.trail
}

// Oracle exposes the consensus component for reserve snapshots.
func (x *Manager) Oracle() *oracle.Consensus {
	return x.oracle
}

// Snapshot builds the persistable custodian document, refreshing the minted
// mirror from the capacity ledger.
func (x *Manager) Snapshot(custodian common.Address) (models.Custodian, bool) {
	record, ok := x.registry.Get(custodian)
	if !ok {
		return models.Custodian{}, false
	}

	capacityRecord, hasCapacity := x.capacity.Get(custodian)
	if hasCapacity && !capacityRecord.TotalMinted.Equal(record.TotalMinted) {
		if err := x.registry.SetMinted(custodian, capacityRecord.TotalMinted); err == nil {
			record.TotalMinted = capacityRecord.TotalMinted
		}
	}

	doc := models.Custodian{
		Address:         custodian.Hex(),
		Status:          record.Status,
		MaxCapacity:     record.MaxCapacity.String(),
		TotalMinted:     record.TotalMinted.String(),
		CurrentBacking:  record.CurrentBacking.String(),
		RegisteredAt:    record.RegisteredAt,
		MintingPaused:   capacityRecord.MintingPaused,
		RedeemingPaused: capacityRecord.RedeemingPaused,
	}

	if pause, hasPause := x.registry.Pause(custodian); hasPause {
		ts := pause.SelfPauseTimestamp
		doc.SelfPauseTimestamp = &ts
		doc.Escalated = pause.Escalated
	}

	return doc, true
}

// SetNowFunc overrides the clock, used by tests.
func (x *Manager) SetNowFunc(now func() time.Time) {
	x.now = now
}

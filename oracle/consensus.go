package oracle

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/qbtc-network/qbtc-custodian/audit"
	"github.com/qbtc-network/qbtc-custodian/auth"
	"github.com/qbtc-network/qbtc-custodian/models"
)

// Params are the consensus tunables, read from config at wiring time.
type Params struct {
	ConsensusThreshold int
	AttestationTimeout time.Duration
	StaleThreshold     time.Duration
}

// Reserve is the finalized view for one custodian. Staleness is a flag, not
// an error; callers decide policy.
type Reserve struct {
	Balance     math.Int
	FinalizedAt time.Time
	Stale       bool
	Failed      bool
	Found       bool
}

type pendingAttestation struct {
	balance math.Int
	at      time.Time
}

type finalizedReserve struct {
	balance     math.Int
	finalizedAt time.Time
	failed      bool
	attesters   []string
}

// ConsensusHandler is notified after each finalization, outside of policy
// decisions: the manager still polls reserves during its own sync.
type ConsensusHandler func(custodian common.Address, balance math.Int, at time.Time)

// Consensus collects per-custodian balance attestations and finalizes the
// median once quorum is reached. All methods are safe for concurrent use.
type Consensus struct {
	mu          sync.Mutex
	params      Params
	roles       auth.RoleProvider
	trail       *audit.Trail
	pending     map[common.Address]map[common.Address]pendingAttestation
	finalized   map[common.Address]finalizedReserve
	onConsensus ConsensusHandler
	now         func() time.Time
}

func NewConsensus(params Params, roles auth.RoleProvider, trail *audit.Trail, onConsensus ConsensusHandler) *Consensus {
	return &Consensus{
		params:      params,
		roles:       roles,
		trail:       trail,
		pending:     make(map[common.Address]map[common.Address]pendingAttestation),
		finalized:   make(map[common.Address]finalizedReserve),
		onConsensus: onConsensus,
		now:         time.Now,
	}
}

// Attest records one attester's reported balance. A resubmission before
// quorum overwrites the attester's previous pending value. Reaching quorum
// finalizes the median of the fresh balances and resets the round.
func (x *Consensus) Attest(attester common.Address, custodian common.Address, balance math.Int) error {
	if custodian == (common.Address{}) {
		return fmt.Errorf("%w: zero custodian", models.ErrValidation)
	}
	if balance.IsNil() || balance.IsNegative() {
		return fmt.Errorf("%w: invalid balance", models.ErrValidation)
	}
	if !x.roles.HasRole(attester, auth.RoleAttester) {
		return fmt.Errorf("%w: %s is not an attester", models.ErrUnauthorized, attester.Hex())
	}

	x.mu.Lock()

	now := x.now()

	round := x.pending[custodian]
	if round == nil {
		round = make(map[common.Address]pendingAttestation)
		x.pending[custodian] = round
	}

	// drop entries that aged out before they could count toward quorum
	for addr, attestation := range round {
		if now.Sub(attestation.at) > x.params.AttestationTimeout {
			delete(round, addr)
		}
	}

	round[attester] = pendingAttestation{balance: balance, at: now}

	log.Debug("[ORACLE] Attestation for ", custodian.Hex(), " from ", attester.Hex(), ": ", balance.String(), " (", len(round), "/", x.params.ConsensusThreshold, ")")

	if len(round) < x.params.ConsensusThreshold {
		x.mu.Unlock()
		return nil
	}

	final := x.finalizeLocked(custodian, round, now)
	x.mu.Unlock()

	// the handler may read back into the consensus state, so it runs after
	// the mutex is released
	if x.onConsensus != nil {
		x.onConsensus(custodian, final, now)
	}
	return nil
}

// finalizeLocked computes the median over the fresh round, stores the
// finalized balance and clears the pending set. Caller holds the lock and
// notifies the handler after releasing it.
func (x *Consensus) finalizeLocked(custodian common.Address, round map[common.Address]pendingAttestation, now time.Time) math.Int {
	balances := make([]math.Int, 0, len(round))
	attesters := make([]string, 0, len(round))
	for addr, attestation := range round {
		balances = append(balances, attestation.balance)
		attesters = append(attesters, addr.Hex())
	}
	sort.Strings(attesters)

	balance := median(balances)

	previous := "none"
	if prior, ok := x.finalized[custodian]; ok {
		previous = prior.balance.String()
	}

	x.finalized[custodian] = finalizedReserve{
		balance:     balance,
		finalizedAt: now,
		failed:      false,
		attesters:   attesters,
	}
	delete(x.pending, custodian)

	x.trail.Append("reserve:"+custodian.Hex(), previous, balance.String(), "CONSENSUS", "oracle", now)

	log.Info("[ORACLE] Consensus reached for ", custodian.Hex(), ": ", balance.String())
	return balance
}

// median returns the standard median: the middle value for odd counts, the
// mean of the two middle values for even counts. Input order is irrelevant.
func median(balances []math.Int) math.Int {
	sorted := make([]math.Int, len(balances))
	copy(sorted, balances)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].LT(sorted[j])
	})

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).QuoRaw(2)
}

// GetBalance returns the finalized reserve view for a custodian.
func (x *Consensus) GetBalance(custodian common.Address) Reserve {
	x.mu.Lock()
	defer x.mu.Unlock()

	finalized, ok := x.finalized[custodian]
	if !ok {
		return Reserve{Balance: math.ZeroInt(), Stale: true}
	}

	return Reserve{
		Balance:     finalized.balance,
		FinalizedAt: finalized.finalizedAt,
		Stale:       x.now().Sub(finalized.finalizedAt) > x.params.StaleThreshold,
		Failed:      finalized.failed,
		Found:       true,
	}
}

// PendingCount reports the fresh pending attestations for a custodian.
func (x *Consensus) PendingCount(custodian common.Address) int {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.now()
	count := 0
	for _, attestation := range x.pending[custodian] {
		if now.Sub(attestation.at) <= x.params.AttestationTimeout {
			count++
		}
	}
	return count
}

// EmergencyOverride bypasses consensus for dispute resolution. Pending
// attestations are cleared so they cannot contaminate the next round.
func (x *Consensus) EmergencyOverride(arbiter common.Address, custodian common.Address, balance math.Int) error {
	if custodian == (common.Address{}) {
		return fmt.Errorf("%w: zero custodian", models.ErrValidation)
	}
	if balance.IsNil() || balance.IsNegative() {
		return fmt.Errorf("%w: invalid balance", models.ErrValidation)
	}
	if !x.roles.HasRole(arbiter, auth.RoleArbiter) {
		return fmt.Errorf("%w: %s is not an arbiter", models.ErrUnauthorized, arbiter.Hex())
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.now()

	previous := "none"
	if prior, ok := x.finalized[custodian]; ok {
		previous = prior.balance.String()
	}

	x.finalized[custodian] = finalizedReserve{
		balance:     balance,
		finalizedAt: now,
		failed:      false,
	}
	delete(x.pending, custodian)

	x.trail.Append("reserve:"+custodian.Hex(), previous, balance.String(), "OVERRIDE", arbiter.Hex(), now)

	log.Warn("[ORACLE] Emergency override for ", custodian.Hex(), ": ", balance.String())
	return nil
}

// FlagFailure marks the finalized reserve as failed; the manager treats a
// failed reserve like a stale one. Cleared by the next finalization.
func (x *Consensus) FlagFailure(arbiter common.Address, custodian common.Address) error {
	if custodian == (common.Address{}) {
		return fmt.Errorf("%w: zero custodian", models.ErrValidation)
	}
	if !x.roles.HasRole(arbiter, auth.RoleArbiter) {
		return fmt.Errorf("%w: %s is not an arbiter", models.ErrUnauthorized, arbiter.Hex())
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.now()

	finalized, ok := x.finalized[custodian]
	if !ok {
		finalized = finalizedReserve{balance: math.ZeroInt(), finalizedAt: now}
	}
	finalized.failed = true
	x.finalized[custodian] = finalized
	delete(x.pending, custodian)

	x.trail.Append("reserve:"+custodian.Hex(), "finalized", "failed", "FAILURE", arbiter.Hex(), now)

	log.Warn("[ORACLE] Reserve flagged as failed for ", custodian.Hex())
	return nil
}

// Snapshot returns the persistable reserve document for a custodian.
func (x *Consensus) Snapshot(custodian common.Address) (models.Reserve, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	finalized, ok := x.finalized[custodian]
	if !ok {
		return models.Reserve{}, false
	}
	return models.Reserve{
		Custodian:   custodian.Hex(),
		Balance:     finalized.balance.String(),
		FinalizedAt: finalized.finalizedAt,
		Failed:      finalized.failed,
		Attesters:   finalized.attesters,
	}, true
}

// SetNowFunc overrides the clock, used by tests.
func (x *Consensus) SetNowFunc(now func() time.Time) {
	x.now = now
}

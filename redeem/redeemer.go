package redeem

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	log "github.com/sirupsen/logrus"

	"github.com/qbtc-network/qbtc-custodian/audit"
	"github.com/qbtc-network/qbtc-custodian/auth"
	"github.com/qbtc-network/qbtc-custodian/ledger"
	"github.com/qbtc-network/qbtc-custodian/models"
)

// Params are the redemption tunables, read from config at wiring time.
type Params struct {
	RedemptionTimeout time.Duration
	DustToleranceBps  int64
}

// Obligation is one outstanding redemption. Once terminal it is immutable.
type Obligation struct {
	Id            common.Hash
	User          common.Address
	Custodian     common.Address
	Wallet        string
	TargetAddress string
	Amount        math.Int
	ActualAmount  math.Int
	RequestedAt   time.Time
	ResolvedAt    time.Time
	Status        string
	ReasonCode    string
}

// DefaultReporter receives default notifications so repeated defaults can
// escalate custodian status.
type DefaultReporter interface {
	ReportDefault(custodian common.Address, now time.Time)
}

// Engine tracks redemption obligations per custodian and wallet and drives
// them to exactly one terminal outcome.
type Engine struct {
	mu          sync.Mutex
	params      Params
	roles       auth.RoleProvider
	capacity    *ledger.Capacity
	holdings    *ledger.Holdings
	wallets     AddressRegistry
	verifier    ProofVerifier
	reporter    DefaultReporter
	trail       *audit.Trail
	obligations map[common.Hash]*Obligation
	byWallet    map[string][]common.Hash
	nonce       uint64
	now         func() time.Time
}

func NewEngine(
	params Params,
	roles auth.RoleProvider,
	capacity *ledger.Capacity,
	holdings *ledger.Holdings,
	wallets AddressRegistry,
	verifier ProofVerifier,
	reporter DefaultReporter,
	trail *audit.Trail,
) *Engine {
	return &Engine{
		params:      params,
		roles:       roles,
		capacity:    capacity,
		holdings:    holdings,
		wallets:     wallets,
		verifier:    verifier,
		reporter:    reporter,
		trail:       trail,
		obligations: make(map[common.Hash]*Obligation),
		byWallet:    make(map[string][]common.Hash),
		now:         time.Now,
	}
}

func entityFor(id common.Hash) string {
	return "obligation:" + id.Hex()
}

// deriveId produces the unique obligation id. The nonce disambiguates
// identical requests within one clock tick.
func (x *Engine) deriveId(user common.Address, custodian common.Address, wallet string, amount math.Int, at time.Time) common.Hash {
	x.nonce++
	var tail [16]byte
	binary.BigEndian.PutUint64(tail[:8], uint64(at.UnixNano()))
	binary.BigEndian.PutUint64(tail[8:], x.nonce)

	return common.BytesToHash(crypto.Keccak256(
		user.Bytes(),
		custodian.Bytes(),
		[]byte(wallet),
		amount.BigInt().Bytes(),
		tail[:],
	))
}

// InitiateRedemption burns the user's holding immediately and opens a
// Pending obligation against the custodian's wallet.
func (x *Engine) InitiateRedemption(user common.Address, custodian common.Address, wallet string, amount math.Int, targetAddress string) (common.Hash, error) {
	if user == (common.Address{}) || custodian == (common.Address{}) {
		return common.Hash{}, fmt.Errorf("%w: zero address", models.ErrValidation)
	}
	if wallet == "" || targetAddress == "" {
		return common.Hash{}, fmt.Errorf("%w: empty wallet or target", models.ErrValidation)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return common.Hash{}, fmt.Errorf("%w: non-positive amount", models.ErrValidation)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.now()

	record, ok := x.capacity.Get(custodian)
	if !ok {
		return common.Hash{}, fmt.Errorf("%w: custodian %s not authorized", models.ErrValidation, custodian.Hex())
	}
	if record.RedeemingPaused {
		return common.Hash{}, fmt.Errorf("%w: redeeming paused for %s", models.ErrStateConflict, custodian.Hex())
	}
	if !x.wallets.IsRegisteredWallet(custodian, wallet) {
		return common.Hash{}, fmt.Errorf("%w: wallet %s not registered for %s", models.ErrValidation, wallet, custodian.Hex())
	}
	if !x.wallets.IsWalletActive(wallet) {
		return common.Hash{}, fmt.Errorf("%w: wallet %s is inactive", models.ErrStateConflict, wallet)
	}
	if x.holdings.Balance(user).LT(amount) {
		return common.Hash{}, fmt.Errorf("%w: insufficient balance for %s", models.ErrValidation, user.Hex())
	}

	// burn on request: the debit happens now, so a later default must
	// re-issue, not merely close the books
	if err := x.holdings.Debit(user, amount); err != nil {
		return common.Hash{}, err
	}
	if err := x.capacity.RecordRedeem(custodian, amount); err != nil {
		if restoreErr := x.holdings.Credit(user, amount); restoreErr != nil {
			log.Error("[REDEEMER] Error restoring holding after failed redeem: ", restoreErr)
		}
		return common.Hash{}, err
	}

	id := x.deriveId(user, custodian, wallet, amount, now)

	x.obligations[id] = &Obligation{
		Id:            id,
		User:          user,
		Custodian:     custodian,
		Wallet:        wallet,
		TargetAddress: targetAddress,
		Amount:        amount,
		RequestedAt:   now,
		Status:        models.ObligationStatusPending,
	}
	x.byWallet[wallet] = append(x.byWallet[wallet], id)

	x.trail.Append(entityFor(id), "none", models.ObligationStatusPending, "REQUESTED", user.Hex(), now)

	log.Info("[REDEEMER] Obligation ", id.Hex(), " opened: ", amount.String(), " against ", custodian.Hex())
	return id, nil
}

// derivedStatus reports the lazily computed status: a Pending obligation
// past the redemption timeout reads as TimedOut without a stored transition.
func (x *Engine) derivedStatus(obligation *Obligation, now time.Time) string {
	if obligation.Status == models.ObligationStatusPending &&
		now.Sub(obligation.RequestedAt) > x.params.RedemptionTimeout {
		return models.ObligationStatusTimedOut
	}
	return obligation.Status
}

// Get returns a copy of the obligation with its derived status.
func (x *Engine) Get(id common.Hash) (Obligation, error) {
	x.mu.Lock()
	defer x.mu.Unlock()

	obligation, ok := x.obligations[id]
	if !ok {
		return Obligation{}, fmt.Errorf("%w: obligation %s not found", models.ErrValidation, id.Hex())
	}
	view := *obligation
	view.Status = x.derivedStatus(obligation, x.now())
	return view, nil
}

// RecordFulfillment settles a Pending obligation against a verified proof.
func (x *Engine) RecordFulfillment(id common.Hash, actualAmount math.Int, proof Proof) error {
	if actualAmount.IsNil() || !actualAmount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount", models.ErrValidation)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.now()

	obligation, ok := x.obligations[id]
	if !ok {
		return fmt.Errorf("%w: obligation %s not found", models.ErrValidation, id.Hex())
	}
	if status := x.derivedStatus(obligation, now); status != models.ObligationStatusPending {
		return fmt.Errorf("%w: obligation %s is %s", models.ErrStateConflict, id.Hex(), status)
	}

	// dust/fee tolerance: the settled amount may fall short of the request
	// by at most the configured basis points
	minAccepted := obligation.Amount.Sub(obligation.Amount.MulRaw(x.params.DustToleranceBps).QuoRaw(10000))
	if actualAmount.LT(minAccepted) {
		return fmt.Errorf("%w: settled %s below tolerance %s", models.ErrStateConflict, actualAmount.String(), minAccepted.String())
	}

	result, err := x.verifier.Verify(proof)
	if err != nil {
		return fmt.Errorf("proof verification: %w", err)
	}
	if !result.Valid {
		return fmt.Errorf("%w: invalid settlement proof", models.ErrValidation)
	}
	if result.TargetAddress != obligation.TargetAddress {
		return fmt.Errorf("%w: proof target %s does not match obligation target %s", models.ErrValidation, result.TargetAddress, obligation.TargetAddress)
	}

	obligation.Status = models.ObligationStatusFulfilled
	obligation.ActualAmount = actualAmount
	obligation.ResolvedAt = now

	x.trail.Append(entityFor(id), models.ObligationStatusPending, models.ObligationStatusFulfilled, "PROOF", "redeemer", now)

	log.Info("[REDEEMER] Obligation ", id.Hex(), " fulfilled with ", actualAmount.String())
	return nil
}

// FlagDefault marks a Pending obligation defaulted, re-issues the burned
// amount to the user and notifies the manager.
func (x *Engine) FlagDefault(actor common.Address, id common.Hash, reasonCode string) error {
	if !x.roles.HasRole(actor, auth.RoleArbiter) && !x.roles.HasRole(actor, auth.RoleEnforcement) {
		return fmt.Errorf("%w: %s is not an arbiter or enforcement", models.ErrUnauthorized, actor.Hex())
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	return x.defaultLocked(id, reasonCode, actor.Hex())
}

// defaultLocked performs the default transition. Caller holds the lock.
func (x *Engine) defaultLocked(id common.Hash, reasonCode string, actor string) error {
	now := x.now()

	obligation, ok := x.obligations[id]
	if !ok {
		return fmt.Errorf("%w: obligation %s not found", models.ErrValidation, id.Hex())
	}
	if obligation.Status != models.ObligationStatusPending {
		return fmt.Errorf("%w: obligation %s is %s", models.ErrStateConflict, id.Hex(), obligation.Status)
	}

	// compensating re-issuance of the amount burned at request time; the
	// ledger re-books it so totalMinted keeps tracking circulation
	if err := x.holdings.Credit(obligation.User, obligation.Amount); err != nil {
		return err
	}
	if err := x.capacity.RecordReissue(obligation.Custodian, obligation.Amount); err != nil {
		log.Error("[REDEEMER] Error re-booking minted amount after default: ", err)
	}

	obligation.Status = models.ObligationStatusDefaulted
	obligation.ReasonCode = reasonCode
	obligation.ResolvedAt = now

	x.trail.Append(entityFor(id), models.ObligationStatusPending, models.ObligationStatusDefaulted, reasonCode, actor, now)

	log.Warn("[REDEEMER] Obligation ", id.Hex(), " defaulted (", reasonCode, ")")

	if x.reporter != nil {
		x.reporter.ReportDefault(obligation.Custodian, now)
	}
	return nil
}

// TimedOutIds lists Pending obligations whose derived status is TimedOut.
func (x *Engine) TimedOutIds() []common.Hash {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.now()
	var ids []common.Hash
	for id, obligation := range x.obligations {
		if obligation.Status == models.ObligationStatusPending &&
			x.derivedStatus(obligation, now) == models.ObligationStatusTimedOut {
			ids = append(ids, id)
		}
	}
	return ids
}

// DefaultTimedOut is the watchdog path: it defaults a lazily timed out
// obligation with reason TIMEOUT.
func (x *Engine) DefaultTimedOut(id common.Hash) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	obligation, ok := x.obligations[id]
	if !ok {
		return fmt.Errorf("%w: obligation %s not found", models.ErrValidation, id.Hex())
	}
	if x.derivedStatus(obligation, x.now()) != models.ObligationStatusTimedOut {
		return fmt.Errorf("%w: obligation %s has not timed out", models.ErrStateConflict, id.Hex())
	}
	return x.defaultLocked(id, models.DefaultReasonTimeout, "watchdog")
}

// HasWalletObligations reports whether any Pending obligation is keyed to
// the wallet; a wallet with pending obligations may not be deregistered.
func (x *Engine) HasWalletObligations(wallet string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	for _, id := range x.byWallet[wallet] {
		if x.obligations[id].Status == models.ObligationStatusPending {
			return true
		}
	}
	return false
}

// EarliestDeadline returns the soonest fulfillment deadline among the
// wallet's Pending obligations.
func (x *Engine) EarliestDeadline(wallet string) (time.Time, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	var earliest time.Time
	found := false
	for _, id := range x.byWallet[wallet] {
		obligation := x.obligations[id]
		if obligation.Status != models.ObligationStatusPending {
			continue
		}
		deadline := obligation.RequestedAt.Add(x.params.RedemptionTimeout)
		if !found || deadline.Before(earliest) {
			earliest = deadline
			found = true
		}
	}
	return earliest, found
}

// Snapshots returns persistable documents for all obligations, statuses
// derived as of now.
func (x *Engine) Snapshots() []models.Obligation {
	x.mu.Lock()
	defer x.mu.Unlock()

	now := x.now()
	docs := make([]models.Obligation, 0, len(x.obligations))
	for _, obligation := range x.obligations {
		doc := models.Obligation{
			ObligationId:  obligation.Id.Hex(),
			User:          obligation.User.Hex(),
			Custodian:     obligation.Custodian.Hex(),
			Wallet:        obligation.Wallet,
			TargetAddress: obligation.TargetAddress,
			Amount:        obligation.Amount.String(),
			RequestedAt:   obligation.RequestedAt,
			Status:        x.derivedStatus(obligation, now),
			ReasonCode:    obligation.ReasonCode,
		}
		if !obligation.ActualAmount.IsNil() {
			doc.ActualAmount = obligation.ActualAmount.String()
		}
		if !obligation.ResolvedAt.IsZero() {
			resolvedAt := obligation.ResolvedAt
			doc.ResolvedAt = &resolvedAt
		}
		docs = append(docs, doc)
	}
	return docs
}

// PendingCount reports stored Pending obligations.
func (x *Engine) PendingCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()

	count := 0
	for _, obligation := range x.obligations {
		if obligation.Status == models.ObligationStatusPending {
			count++
		}
	}
	return count
}

// SetNowFunc overrides the clock, used by tests.
func (x *Engine) SetNowFunc(now func() time.Time) {
	x.now = now
}

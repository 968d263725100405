package ledger

import (
	"fmt"
	"sync"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/qbtc-network/qbtc-custodian/models"
)

// Record is the authorization view for one custodian: the single source of
// truth for "can this custodian mint or redeem right now".
type Record struct {
	Authorized      bool
	MintingCap      math.Int
	TotalMinted     math.Int
	MintingPaused   bool
	RedeemingPaused bool
}

// Capacity is the authorization ledger. Mutated only by the custodian
// manager, except for the redeeming pause flag which the redemption engine
// sets on persistent default.
type Capacity struct {
	mu      sync.RWMutex
	records map[common.Address]*Record
}

func NewCapacity() *Capacity {
	return &Capacity{
		records: make(map[common.Address]*Record),
	}
}

// AuthorizeReserve authorizes a custodian with the given cap. Re-authorizing
// an existing custodian updates the cap in place.
func (x *Capacity) AuthorizeReserve(custodian common.Address, cap math.Int) error {
	if custodian == (common.Address{}) {
		return fmt.Errorf("%w: zero custodian", models.ErrValidation)
	}
	if cap.IsNil() || !cap.IsPositive() {
		return fmt.Errorf("%w: non-positive cap", models.ErrValidation)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	record, ok := x.records[custodian]
	if !ok {
		x.records[custodian] = &Record{
			Authorized:  true,
			MintingCap:  cap,
			TotalMinted: math.ZeroInt(),
		}
		log.Info("[CAPACITY] Authorized ", custodian.Hex(), " with cap ", cap.String())
		return nil
	}

	if record.TotalMinted.GT(cap) {
		return fmt.Errorf("%w: total minted %s exceeds new cap %s", models.ErrInvariant, record.TotalMinted.String(), cap.String())
	}

	record.Authorized = true
	record.MintingCap = cap
	log.Info("[CAPACITY] Re-authorized ", custodian.Hex(), " with cap ", cap.String())
	return nil
}

func (x *Capacity) Deauthorize(custodian common.Address) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	record, ok := x.records[custodian]
	if !ok {
		return fmt.Errorf("%w: custodian %s not authorized", models.ErrValidation, custodian.Hex())
	}
	record.Authorized = false
	log.Info("[CAPACITY] Deauthorized ", custodian.Hex())
	return nil
}

// CanMint reports whether a mint of amount is admissible right now.
func (x *Capacity) CanMint(custodian common.Address, amount math.Int) bool {
	if amount.IsNil() || !amount.IsPositive() {
		return false
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	record, ok := x.records[custodian]
	if !ok || !record.Authorized || record.MintingPaused {
		return false
	}
	return record.TotalMinted.Add(amount).LTE(record.MintingCap)
}

// RecordMint adjusts totalMinted upward. A cap overrun is an invariant
// break: the operation aborts and nothing is applied.
func (x *Capacity) RecordMint(custodian common.Address, amount math.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount", models.ErrValidation)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	record, ok := x.records[custodian]
	if !ok || !record.Authorized {
		return fmt.Errorf("%w: custodian %s not authorized", models.ErrStateConflict, custodian.Hex())
	}
	if record.MintingPaused {
		return fmt.Errorf("%w: minting paused for %s", models.ErrStateConflict, custodian.Hex())
	}

	next := record.TotalMinted.Add(amount)
	if next.GT(record.MintingCap) {
		return fmt.Errorf("%w: mint %s would exceed cap %s (minted %s)", models.ErrInvariant, amount.String(), record.MintingCap.String(), record.TotalMinted.String())
	}

	record.TotalMinted = next
	return nil
}

// RecordRedeem adjusts totalMinted downward. Driving it negative is an
// invariant break: the operation aborts and nothing is applied.
func (x *Capacity) RecordRedeem(custodian common.Address, amount math.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount", models.ErrValidation)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	record, ok := x.records[custodian]
	if !ok {
		return fmt.Errorf("%w: custodian %s not authorized", models.ErrStateConflict, custodian.Hex())
	}

	next := record.TotalMinted.Sub(amount)
	if next.IsNegative() {
		return fmt.Errorf("%w: redeem %s would drive total minted %s negative", models.ErrInvariant, amount.String(), record.TotalMinted.String())
	}

	record.TotalMinted = next
	return nil
}

// RecordReissue restores totalMinted after a defaulted redemption re-issues
// the burned amount to the user. Compensation is not new issuance: it
// bypasses the minting pause, and it may land above a cap that was lowered
// in the interim because the re-issued supply is already in circulation.
func (x *Capacity) RecordReissue(custodian common.Address, amount math.Int) error {
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount", models.ErrValidation)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	record, ok := x.records[custodian]
	if !ok {
		return fmt.Errorf("%w: custodian %s not authorized", models.ErrStateConflict, custodian.Hex())
	}

	record.TotalMinted = record.TotalMinted.Add(amount)
	if record.TotalMinted.GT(record.MintingCap) {
		log.Warn("[CAPACITY] Re-issuance for ", custodian.Hex(), " puts total minted ", record.TotalMinted.String(), " above cap ", record.MintingCap.String())
	}
	return nil
}

// SetPauseFlags sets both pause flags. Only the custodian manager and the
// redemption engine (persistent-default escalation) call this.
func (x *Capacity) SetPauseFlags(custodian common.Address, mintingPaused bool, redeemingPaused bool) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	record, ok := x.records[custodian]
	if !ok {
		return fmt.Errorf("%w: custodian %s not authorized", models.ErrValidation, custodian.Hex())
	}
	record.MintingPaused = mintingPaused
	record.RedeemingPaused = redeemingPaused
	log.Debug("[CAPACITY] Pause flags for ", custodian.Hex(), ": minting=", mintingPaused, " redeeming=", redeemingPaused)
	return nil
}

// Get returns a copy of the record.
func (x *Capacity) Get(custodian common.Address) (Record, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	record, ok := x.records[custodian]
	if !ok {
		return Record{}, false
	}
	return *record, true
}

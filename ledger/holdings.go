package ledger

import (
	"fmt"
	"sync"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"

	"github.com/qbtc-network/qbtc-custodian/models"
)

// Holdings tracks per-user minted asset balances. Redemption burns on
// request, so a default later re-issues the debited amount here.
type Holdings struct {
	mu       sync.RWMutex
	balances map[common.Address]math.Int
}

func NewHoldings() *Holdings {
	return &Holdings{
		balances: make(map[common.Address]math.Int),
	}
}

func (x *Holdings) Balance(user common.Address) math.Int {
	x.mu.RLock()
	defer x.mu.RUnlock()

	balance, ok := x.balances[user]
	if !ok {
		return math.ZeroInt()
	}
	return balance
}

func (x *Holdings) Credit(user common.Address, amount math.Int) error {
	if user == (common.Address{}) {
		return fmt.Errorf("%w: zero user", models.ErrValidation)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount", models.ErrValidation)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	balance, ok := x.balances[user]
	if !ok {
		balance = math.ZeroInt()
	}
	x.balances[user] = balance.Add(amount)
	return nil
}

// Debit never drives a balance negative; an overdraw aborts with nothing
// applied.
func (x *Holdings) Debit(user common.Address, amount math.Int) error {
	if user == (common.Address{}) {
		return fmt.Errorf("%w: zero user", models.ErrValidation)
	}
	if amount.IsNil() || !amount.IsPositive() {
		return fmt.Errorf("%w: non-positive amount", models.ErrValidation)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	balance, ok := x.balances[user]
	if !ok {
		balance = math.ZeroInt()
	}
	next := balance.Sub(amount)
	if next.IsNegative() {
		return fmt.Errorf("%w: debit %s exceeds balance %s", models.ErrInvariant, amount.String(), balance.String())
	}
	x.balances[user] = next
	return nil
}

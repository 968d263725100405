package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/qbtc-network/qbtc-custodian/models"
)

// Custodian is the identity and status record for one registered custodian.
// TotalMinted and CurrentBacking mirror the capacity ledger and oracle; the
// manager keeps them in step on every transition.
type Custodian struct {
	Address        common.Address
	Status         string
	MaxCapacity    math.Int
	TotalMinted    math.Int
	CurrentBacking math.Int
	RegisteredAt   time.Time
}

// Registry holds custodian records and pause records, addressed by
// custodian id. Status transitions happen only through the manager.
type Registry struct {
	mu         sync.RWMutex
	custodians map[common.Address]*Custodian
	pauses     map[common.Address]*PauseRecord
}

func NewRegistry() *Registry {
	return &Registry{
		custodians: make(map[common.Address]*Custodian),
		pauses:     make(map[common.Address]*PauseRecord),
	}
}

func (x *Registry) Register(custodian common.Address, maxCapacity math.Int, now time.Time) error {
	if custodian == (common.Address{}) {
		return fmt.Errorf("%w: zero custodian", models.ErrValidation)
	}
	if maxCapacity.IsNil() || !maxCapacity.IsPositive() {
		return fmt.Errorf("%w: non-positive capacity", models.ErrValidation)
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if _, ok := x.custodians[custodian]; ok {
		return fmt.Errorf("%w: custodian %s already registered", models.ErrStateConflict, custodian.Hex())
	}

	x.custodians[custodian] = &Custodian{
		Address:        custodian,
		Status:         models.CustodianStatusActive,
		MaxCapacity:    maxCapacity,
		TotalMinted:    math.ZeroInt(),
		CurrentBacking: math.ZeroInt(),
		RegisteredAt:   now,
	}

	log.Info("[REGISTRY] Registered custodian ", custodian.Hex(), " with capacity ", maxCapacity.String())
	return nil
}

func (x *Registry) Get(custodian common.Address) (Custodian, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	record, ok := x.custodians[custodian]
	if !ok {
		return Custodian{}, false
	}
	return *record, true
}

// All returns registered custodian addresses in deterministic order.
func (x *Registry) All() []common.Address {
	x.mu.RLock()
	defer x.mu.RUnlock()

	addresses := make([]common.Address, 0, len(x.custodians))
	for address := range x.custodians {
		addresses = append(addresses, address)
	}
	sort.Slice(addresses, func(i, j int) bool {
		return addresses[i].Hex() < addresses[j].Hex()
	})
	return addresses
}

func (x *Registry) SetStatus(custodian common.Address, status string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	record, ok := x.custodians[custodian]
	if !ok {
		return fmt.Errorf("%w: custodian %s not registered", models.ErrValidation, custodian.Hex())
	}
	record.Status = status
	return nil
}

func (x *Registry) SetBacking(custodian common.Address, backing math.Int) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	record, ok := x.custodians[custodian]
	if !ok {
		return fmt.Errorf("%w: custodian %s not registered", models.ErrValidation, custodian.Hex())
	}
	record.CurrentBacking = backing
	return nil
}

func (x *Registry) SetMinted(custodian common.Address, minted math.Int) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	record, ok := x.custodians[custodian]
	if !ok {
		return fmt.Errorf("%w: custodian %s not registered", models.ErrValidation, custodian.Hex())
	}
	record.TotalMinted = minted
	return nil
}

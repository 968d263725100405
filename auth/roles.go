package auth

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/qbtc-network/qbtc-custodian/models"
)

type Role string

const (
	RoleGovernance  Role = "governance"
	RoleArbiter     Role = "arbiter"
	RoleEnforcement Role = "enforcement"
	RoleAttester    Role = "attester"
	RoleRegistrar   Role = "registrar"
)

// RoleProvider answers whether a principal holds a role. Every privileged
// engine operation consults this before mutating state.
type RoleProvider interface {
	HasRole(principal common.Address, role Role) bool
}

// RoleSet is an explicit, versioned role registry. Mutations are gated on
// the governance role and bump the version.
type RoleSet struct {
	mu      sync.RWMutex
	version uint64
	grants  map[Role]map[common.Address]bool
}

func NewRoleSet(cfg models.RolesConfig) *RoleSet {
	x := &RoleSet{
		grants: make(map[Role]map[common.Address]bool),
	}
	seed := map[Role][]string{
		RoleGovernance:  cfg.Governance,
		RoleArbiter:     cfg.Arbiters,
		RoleEnforcement: cfg.Enforcement,
		RoleAttester:    cfg.Attesters,
		RoleRegistrar:   cfg.Registrars,
	}
	for role, addresses := range seed {
		x.grants[role] = make(map[common.Address]bool)
		for _, address := range addresses {
			x.grants[role][common.HexToAddress(address)] = true
		}
	}
	return x
}

func (x *RoleSet) HasRole(principal common.Address, role Role) bool {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return x.grants[role][principal]
}

func (x *RoleSet) Version() uint64 {
	x.mu.RLock()
	defer x.mu.RUnlock()

	return x.version
}

func (x *RoleSet) Grant(governor common.Address, principal common.Address, role Role) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.grants[RoleGovernance][governor] {
		return fmt.Errorf("%w: %s requires governance", models.ErrUnauthorized, governor.Hex())
	}
	if principal == (common.Address{}) {
		return fmt.Errorf("%w: zero principal", models.ErrValidation)
	}
	if x.grants[role] == nil {
		x.grants[role] = make(map[common.Address]bool)
	}
	x.grants[role][principal] = true
	x.version++
	return nil
}

func (x *RoleSet) Revoke(governor common.Address, principal common.Address, role Role) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if !x.grants[RoleGovernance][governor] {
		return fmt.Errorf("%w: %s requires governance", models.ErrUnauthorized, governor.Hex())
	}
	delete(x.grants[role], principal)
	x.version++
	return nil
}

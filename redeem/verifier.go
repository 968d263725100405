package redeem

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	"github.com/fxamacker/cbor/v2"

	"github.com/qbtc-network/qbtc-custodian/models"
)

// Proof is the opaque settlement proof bundle handed to the external SPV
// collaborator. The engine never inspects it.
type Proof struct {
	TxHash string
	Raw    []byte
}

// VerifyResult is the verifier's verdict on a settlement proof.
type VerifyResult struct {
	Valid         bool
	SettledAmount math.Int
	TargetAddress string
}

// ProofVerifier validates settlement proofs. An invalid result aborts the
// fulfillment with no state change.
type ProofVerifier interface {
	Verify(proof Proof) (VerifyResult, error)
}

// VerifierFunc adapts a function to the ProofVerifier interface.
type VerifierFunc func(proof Proof) (VerifyResult, error)

func (f VerifierFunc) Verify(proof Proof) (VerifyResult, error) {
	return f(proof)
}

// settlementDocument is the decoded form of Proof.Raw. The settlement
// pipeline performs the SPV checks upstream and emits these documents.
type settlementDocument struct {
	TxHash        string `cbor:"1,keyasint"`
	TargetAddress string `cbor:"2,keyasint"`
	Amount        string `cbor:"3,keyasint"`
	Confirmed     bool   `cbor:"4,keyasint"`
}

// DocumentVerifier accepts settlement documents produced by the upstream
// pipeline. A document whose transaction hash does not match the proof, or
// that is not confirmed, yields an invalid result without error.
type DocumentVerifier struct{}

func (DocumentVerifier) Verify(proof Proof) (VerifyResult, error) {
	if proof.TxHash == "" || len(proof.Raw) == 0 {
		return VerifyResult{}, fmt.Errorf("%w: empty settlement proof", models.ErrValidation)
	}

	var doc settlementDocument
	if err := cbor.Unmarshal(proof.Raw, &doc); err != nil {
		return VerifyResult{}, fmt.Errorf("%w: malformed settlement document", models.ErrValidation)
	}

	if doc.TxHash != proof.TxHash || !doc.Confirmed {
		return VerifyResult{}, nil
	}

	amount, ok := math.NewIntFromString(doc.Amount)
	if !ok {
		return VerifyResult{}, fmt.Errorf("%w: invalid settled amount %q", models.ErrValidation, doc.Amount)
	}

	return VerifyResult{
		Valid:         true,
		SettledAmount: amount,
		TargetAddress: doc.TargetAddress,
	}, nil
}

// RejectVerifier refuses every proof. It is the binding used when no
// settlement pipeline is configured.
type RejectVerifier struct{}

func (RejectVerifier) Verify(Proof) (VerifyResult, error) {
	return VerifyResult{}, fmt.Errorf("%w: no proof verifier configured", models.ErrValidation)
}

// AddressRegistry answers wallet registration and liveness questions; it is
// an external collaborator consulted on obligation creation.
type AddressRegistry interface {
	IsRegisteredWallet(custodian common.Address, wallet string) bool
	IsWalletActive(wallet string) bool
}

// StaticWalletRegistry is a config-seeded AddressRegistry.
type StaticWalletRegistry struct {
	wallets map[common.Address]map[string]bool
	active  map[string]bool
}

func NewStaticWalletRegistry() *StaticWalletRegistry {
	return &StaticWalletRegistry{
		wallets: make(map[common.Address]map[string]bool),
		active:  make(map[string]bool),
	}
}

func (x *StaticWalletRegistry) Add(custodian common.Address, wallet string, active bool) {
	if x.wallets[custodian] == nil {
		x.wallets[custodian] = make(map[string]bool)
	}
	x.wallets[custodian][wallet] = true
	x.active[wallet] = active
}

func (x *StaticWalletRegistry) IsRegisteredWallet(custodian common.Address, wallet string) bool {
	return x.wallets[custodian][wallet]
}

func (x *StaticWalletRegistry) IsWalletActive(wallet string) bool {
	return x.active[wallet]
}

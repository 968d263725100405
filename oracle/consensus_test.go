package oracle

import (
	"errors"
	"io"
	"testing"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"github.com/qbtc-network/qbtc-custodian/audit"
	"github.com/qbtc-network/qbtc-custodian/auth"
	"github.com/qbtc-network/qbtc-custodian/models"
)

func init() {
	log.SetOutput(io.Discard)
}

var (
	attesterA = common.HexToAddress("0x0000000000000000000000000000000000000A01")
	attesterB = common.HexToAddress("0x0000000000000000000000000000000000000A02")
	attesterC = common.HexToAddress("0x0000000000000000000000000000000000000A03")
	attesterD = common.HexToAddress("0x0000000000000000000000000000000000000A04")
	arbiter   = common.HexToAddress("0x0000000000000000000000000000000000000B01")
	custodian = common.HexToAddress("0x0000000000000000000000000000000000000C01")
)

func newTestConsensus(threshold int) (*Consensus, *audit.Trail) {
	roles := auth.NewRoleSet(models.RolesConfig{
		Attesters: []string{attesterA.Hex(), attesterB.Hex(), attesterC.Hex(), attesterD.Hex()},
		Arbiters:  []string{arbiter.Hex()},
	})
	trail := audit.NewTrail()
	x := NewConsensus(Params{
		ConsensusThreshold: threshold,
		AttestationTimeout: 5 * time.Minute,
		StaleThreshold:     time.Hour,
	}, roles, trail, nil)
	return x, trail
}

func TestAttestValidation(t *testing.T) {
	x, _ := newTestConsensus(3)

	t.Run("Zero Custodian", func(t *testing.T) {
		err := x.Attest(attesterA, common.Address{}, math.NewInt(100))
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("Negative Balance", func(t *testing.T) {
		err := x.Attest(attesterA, custodian, math.NewInt(-1))
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("Unauthorized Attester", func(t *testing.T) {
		err := x.Attest(arbiter, custodian, math.NewInt(100))
		assert.True(t, errors.Is(err, models.ErrUnauthorized))
	})
}

func TestConsensusMedianOddCount(t *testing.T) {
	x, trail := newTestConsensus(3)

	assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(800)))
	assert.Nil(t, x.Attest(attesterB, custodian, math.NewInt(1000)))

	reserve := x.GetBalance(custodian)
	assert.False(t, reserve.Found)
	assert.True(t, reserve.Stale)

	assert.Nil(t, x.Attest(attesterC, custodian, math.NewInt(900)))

	reserve = x.GetBalance(custodian)
	assert.True(t, reserve.Found)
	assert.False(t, reserve.Stale)
	assert.Equal(t, math.NewInt(900), reserve.Balance)

	events := trail.EventsFor("reserve:" + custodian.Hex())
	assert.Equal(t, 1, len(events))
	assert.Equal(t, "CONSENSUS", events[0].ReasonCode)
	assert.Equal(t, "none", events[0].PreviousState)
	assert.Equal(t, "900", events[0].NewState)
}

func TestConsensusMedianEvenCount(t *testing.T) {
	x, _ := newTestConsensus(4)

	assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(100)))
	assert.Nil(t, x.Attest(attesterB, custodian, math.NewInt(200)))
	assert.Nil(t, x.Attest(attesterC, custodian, math.NewInt(400)))
	assert.Nil(t, x.Attest(attesterD, custodian, math.NewInt(800)))

	// mean of the two middle values
	reserve := x.GetBalance(custodian)
	assert.True(t, reserve.Found)
	assert.Equal(t, math.NewInt(300), reserve.Balance)
}

func TestConsensusOrderIndependence(t *testing.T) {
	first, _ := newTestConsensus(3)
	second, _ := newTestConsensus(3)

	assert.Nil(t, first.Attest(attesterA, custodian, math.NewInt(800)))
	assert.Nil(t, first.Attest(attesterB, custodian, math.NewInt(900)))
	assert.Nil(t, first.Attest(attesterC, custodian, math.NewInt(1000)))

	assert.Nil(t, second.Attest(attesterC, custodian, math.NewInt(1000)))
	assert.Nil(t, second.Attest(attesterA, custodian, math.NewInt(800)))
	assert.Nil(t, second.Attest(attesterB, custodian, math.NewInt(900)))

	assert.Equal(t, first.GetBalance(custodian).Balance, second.GetBalance(custodian).Balance)
}

func TestAttestResubmissionOverwrites(t *testing.T) {
	x, _ := newTestConsensus(3)

	assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(100)))
	assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(900)))
	assert.Equal(t, 1, x.PendingCount(custodian))

	assert.Nil(t, x.Attest(attesterB, custodian, math.NewInt(900)))
	assert.Nil(t, x.Attest(attesterC, custodian, math.NewInt(900)))

	assert.Equal(t, math.NewInt(900), x.GetBalance(custodian).Balance)
}

func TestAttestPurgesAgedEntries(t *testing.T) {
	x, _ := newTestConsensus(3)

	current := time.Now()
	x.SetNowFunc(func() time.Time { return current })

	assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(100)))
	assert.Nil(t, x.Attest(attesterB, custodian, math.NewInt(200)))

	// attesterA's entry ages past the attestation timeout
	current = current.Add(6 * time.Minute)

	assert.Nil(t, x.Attest(attesterC, custodian, math.NewInt(300)))

	// only B and C remain pending, so no quorum was reached
	assert.False(t, x.GetBalance(custodian).Found)
	assert.Equal(t, 2, x.PendingCount(custodian))
}

func TestConsensusResetsRound(t *testing.T) {
	x, _ := newTestConsensus(3)

	assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(900)))
	assert.Nil(t, x.Attest(attesterB, custodian, math.NewInt(900)))
	assert.Nil(t, x.Attest(attesterC, custodian, math.NewInt(900)))

	assert.Equal(t, 0, x.PendingCount(custodian))

	// a fresh round needs a full quorum again
	assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(500)))
	assert.Equal(t, 1, x.PendingCount(custodian))
	assert.Equal(t, math.NewInt(900), x.GetBalance(custodian).Balance)
}

func TestConsensusHandlerNotified(t *testing.T) {
	roles := auth.NewRoleSet(models.RolesConfig{
		Attesters: []string{attesterA.Hex(), attesterB.Hex(), attesterC.Hex()},
	})
	var notified math.Int
	x := NewConsensus(Params{
		ConsensusThreshold: 3,
		AttestationTimeout: 5 * time.Minute,
		StaleThreshold:     time.Hour,
	}, roles, audit.NewTrail(), func(c common.Address, balance math.Int, at time.Time) {
		assert.Equal(t, custodian, c)
		notified = balance
	})

	assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(900)))
	assert.Nil(t, x.Attest(attesterB, custodian, math.NewInt(900)))
	assert.Nil(t, x.Attest(attesterC, custodian, math.NewInt(900)))

	assert.Equal(t, math.NewInt(900), notified)
}

func TestConsensusHandlerReadsBack(t *testing.T) {
	roles := auth.NewRoleSet(models.RolesConfig{
		Attesters: []string{attesterA.Hex(), attesterB.Hex(), attesterC.Hex()},
	})
	var x *Consensus
	var readBack Reserve
	x = NewConsensus(Params{
		ConsensusThreshold: 3,
		AttestationTimeout: 5 * time.Minute,
		StaleThreshold:     time.Hour,
	}, roles, audit.NewTrail(), func(c common.Address, balance math.Int, at time.Time) {
		// the handler reads the finalized state it was just notified about
		readBack = x.GetBalance(c)
	})

	assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(900)))
	assert.Nil(t, x.Attest(attesterB, custodian, math.NewInt(900)))

	done := make(chan struct{})
	go func() {
		assert.Nil(t, x.Attest(attesterC, custodian, math.NewInt(900)))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("quorum-reaching attestation did not return")
	}

	assert.True(t, readBack.Found)
	assert.Equal(t, math.NewInt(900), readBack.Balance)
}

func TestGetBalanceStaleness(t *testing.T) {
	x, _ := newTestConsensus(3)

	current := time.Now()
	x.SetNowFunc(func() time.Time { return current })

	assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(900)))
	assert.Nil(t, x.Attest(attesterB, custodian, math.NewInt(900)))
	assert.Nil(t, x.Attest(attesterC, custodian, math.NewInt(900)))

	assert.False(t, x.GetBalance(custodian).Stale)

	current = current.Add(2 * time.Hour)

	// staleness is a flag, not an error; the balance stays readable
	reserve := x.GetBalance(custodian)
	assert.True(t, reserve.Stale)
	assert.Equal(t, math.NewInt(900), reserve.Balance)
}

func TestEmergencyOverride(t *testing.T) {
	t.Run("By Arbiter", func(t *testing.T) {
		x, trail := newTestConsensus(3)

		assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(100)))
		assert.Nil(t, x.EmergencyOverride(arbiter, custodian, math.NewInt(5000)))

		reserve := x.GetBalance(custodian)
		assert.True(t, reserve.Found)
		assert.Equal(t, math.NewInt(5000), reserve.Balance)

		// pending attestations cleared so they cannot leak into the next round
		assert.Equal(t, 0, x.PendingCount(custodian))

		events := trail.EventsFor("reserve:" + custodian.Hex())
		assert.Equal(t, 1, len(events))
		assert.Equal(t, "OVERRIDE", events[0].ReasonCode)
	})

	t.Run("By Non Arbiter", func(t *testing.T) {
		x, _ := newTestConsensus(3)

		err := x.EmergencyOverride(attesterA, custodian, math.NewInt(5000))
		assert.True(t, errors.Is(err, models.ErrUnauthorized))
	})
}

func TestFlagFailure(t *testing.T) {
	x, _ := newTestConsensus(3)

	assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(900)))
	assert.Nil(t, x.Attest(attesterB, custodian, math.NewInt(900)))
	assert.Nil(t, x.Attest(attesterC, custodian, math.NewInt(900)))

	assert.Nil(t, x.FlagFailure(arbiter, custodian))
	assert.True(t, x.GetBalance(custodian).Failed)

	// next finalization clears the failure
	assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(800)))
	assert.Nil(t, x.Attest(attesterB, custodian, math.NewInt(800)))
	assert.Nil(t, x.Attest(attesterC, custodian, math.NewInt(800)))
	assert.False(t, x.GetBalance(custodian).Failed)
}

func TestReserveSnapshot(t *testing.T) {
	x, _ := newTestConsensus(3)

	_, ok := x.Snapshot(custodian)
	assert.False(t, ok)

	assert.Nil(t, x.Attest(attesterA, custodian, math.NewInt(900)))
	assert.Nil(t, x.Attest(attesterB, custodian, math.NewInt(900)))
	assert.Nil(t, x.Attest(attesterC, custodian, math.NewInt(900)))

	doc, ok := x.Snapshot(custodian)
	assert.True(t, ok)
	assert.Equal(t, custodian.Hex(), doc.Custodian)
	assert.Equal(t, "900", doc.Balance)
	assert.Equal(t, 3, len(doc.Attesters))
}

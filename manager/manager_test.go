package manager

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
	"github.com/qbtc-network/qbtc-custodian/ledger"
	"github.com/qbtc-network/qbtc-custodian/models"
	"github.com/qbtc-network/qbtc-custodian/oracle"
	"github.com/qbtc-network/qbtc-custodian/registry"
)

func init() {
	log.SetOutput(io.Discard)
}

var (
	registrar   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	arbiter     = common.HexToAddress("0x0000000000000000000000000000000000000002")
	enforcement = common.HexToAddress("0x0000000000000000000000000000000000000003")
	attesterA   = common.HexToAddress("0x0000000000000000000000000000000000000A01")
	attesterB   = common.HexToAddress("0x0000000000000000000000000000000000000A02")
	attesterC   = common.HexToAddress("0x0000000000000000000000000000000000000A03")
	custodian   = common.HexToAddress("0x0000000000000000000000000000000000000C01")
	user        = common.HexToAddress("0x0000000000000000000000000000000000000D01")
	stranger    = common.HexToAddress("0x0000000000000000000000000000000000000009")
)

type fixture struct {
	clock    time.Time
	trail    *audit.Trail
	oracle   *oracle.Consensus
	registry *registry.Registry
	capacity *ledger.Capacity
	holdings *ledger.Holdings
	manager  *Manager
}

func newFixture(minSyncInterval time.Duration) *fixture {
	roles := auth.NewRoleSet(models.RolesConfig{
		Registrars:  []string{registrar.Hex()},
		Arbiters:    []string{arbiter.Hex()},
		Enforcement: []string{enforcement.Hex()},
		Attesters:   []string{attesterA.Hex(), attesterB.Hex(), attesterC.Hex()},
	})
	trail := audit.NewTrail()
	consensus := oracle.NewConsensus(oracle.Params{
		ConsensusThreshold: 3,
		AttestationTimeout: 5 * time.Minute,
		StaleThreshold:     time.Hour,
	}, roles, trail, nil)
	reg := registry.NewRegistry()
	capacity := ledger.NewCapacity()
	holdings := ledger.NewHoldings()
	m := NewManager(Params{
		GracePeriod:      10 * time.Minute,
		EscalationDelay:  time.Hour,
		MinSyncInterval:  minSyncInterval,
		DefaultsToReview: 3,
		DefaultWindow:    24 * time.Hour,
	}, roles, consensus, reg, capacity, holdings, trail)

	f := &fixture{
		clock:    time.Now(),
		trail:    trail,
		oracle:   consensus,
		registry: reg,
		capacity: capacity,
		holdings: holdings,
		manager:  m,
	}
	consensus.SetNowFunc(func() time.Time { return f.clock })
	m.SetNowFunc(func() time.Time { return f.clock })
	return f
}

// the sync rate-limit gate runs on wall-clock time, unlike the simulated
// clock; waiting out a short interval keeps syncs in tests unthrottled
func (f *fixture) waitGate() {
	time.Sleep(3 * time.Millisecond)
}

func (f *fixture) attest(balance math.Int) {
	if err := f.oracle.Attest(attesterA, custodian, balance); err != nil {
		panic(err)
	}
	if err := f.oracle.Attest(attesterB, custodian, balance); err != nil {
		panic(err)
	}
	if err := f.oracle.Attest(attesterC, custodian, balance); err != nil {
		panic(err)
	}
}

func TestRegisterQC(t *testing.T) {
	t.Run("By Registrar", func(t *testing.T) {
		f := newFixture(time.Millisecond)

		err := f.manager.RegisterQC(registrar, custodian, math.NewInt(1000))

		assert.Nil(t, err)
		record, ok := f.registry.Get(custodian)
		assert.True(t, ok)
		assert.Equal(t, models.CustodianStatusActive, record.Status)

		capacityRecord, ok := f.capacity.Get(custodian)
		assert.True(t, ok)
		assert.True(t, capacityRecord.Authorized)
		assert.Equal(t, math.NewInt(1000), capacityRecord.MintingCap)

		events := f.trail.EventsFor("custodian:" + custodian.Hex())
		assert.Equal(t, 1, len(events))
		assert.Equal(t, "REGISTERED", events[0].ReasonCode)
	})

	t.Run("By Non Registrar", func(t *testing.T) {
		f := newFixture(time.Millisecond)

		err := f.manager.RegisterQC(stranger, custodian, math.NewInt(1000))

		assert.True(t, errors.Is(err, models.ErrUnauthorized))
		_, ok := f.registry.Get(custodian)
		assert.False(t, ok)
	})

	t.Run("Duplicate", func(t *testing.T) {
		f := newFixture(time.Millisecond)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))

		err := f.manager.RegisterQC(registrar, custodian, math.NewInt(2000))
		assert.True(t, errors.Is(err, models.ErrStateConflict))
	})
}

func TestSyncFromOracle(t *testing.T) {
	t.Run("Unregistered Custodian", func(t *testing.T) {
		f := newFixture(time.Millisecond)

		err := f.manager.SyncFromOracle(custodian)
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("Rate Limited", func(t *testing.T) {
		f := newFixture(time.Minute)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))
		f.attest(math.NewInt(900))

		assert.Nil(t, f.manager.SyncFromOracle(custodian))

		err := f.manager.SyncFromOracle(custodian)
		assert.True(t, errors.Is(err, models.ErrRateLimited))
	})

	t.Run("Fresh Reserve Updates Backing", func(t *testing.T) {
		f := newFixture(time.Millisecond)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))
		f.attest(math.NewInt(900))

		assert.Nil(t, f.manager.SyncFromOracle(custodian))

		record, _ := f.registry.Get(custodian)
		assert.Equal(t, math.NewInt(900), record.CurrentBacking)
		assert.Equal(t, models.CustodianStatusActive, record.Status)
	})

	t.Run("Concurrent Syncs Admit One", func(t *testing.T) {
		f := newFixture(time.Minute)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))
		f.attest(math.NewInt(900))

		results := make(chan error, 2)
		for i := 0; i < 2; i++ {
			go func() { results <- f.manager.SyncFromOracle(custodian) }()
		}

		rateLimited := 0
		for i := 0; i < 2; i++ {
			if err := <-results; err != nil {
				assert.True(t, errors.Is(err, models.ErrRateLimited))
				rateLimited++
			}
		}

		// the admission gate is checked under the per-custodian lock, so
		// exactly one of the racing syncs passes it
		assert.Equal(t, 1, rateLimited)
	})
}

// mirrors the service wiring: the consensus callback drives a manager sync,
// which reads the oracle back. The quorum-reaching attestation must return.
func TestConsensusHandlerDrivesSync(t *testing.T) {
	roles := auth.NewRoleSet(models.RolesConfig{
		Registrars: []string{registrar.Hex()},
		Attesters:  []string{attesterA.Hex(), attesterB.Hex(), attesterC.Hex()},
	})
	trail := audit.NewTrail()

	var m *Manager
	consensus := oracle.NewConsensus(oracle.Params{
		ConsensusThreshold: 3,
		AttestationTimeout: 5 * time.Minute,
		StaleThreshold:     time.Hour,
	}, roles, trail, func(c common.Address, balance math.Int, at time.Time) {
		if m == nil {
			return
		}
		assert.Nil(t, m.SyncFromOracle(c))
	})

	reg := registry.NewRegistry()
	m = NewManager(Params{
		GracePeriod:      10 * time.Minute,
		EscalationDelay:  time.Hour,
		MinSyncInterval:  time.Minute,
		DefaultsToReview: 3,
		DefaultWindow:    24 * time.Hour,
	}, roles, consensus, reg, ledger.NewCapacity(), ledger.NewHoldings(), trail)

	assert.Nil(t, m.RegisterQC(registrar, custodian, math.NewInt(1000)))

	done := make(chan struct{})
	go func() {
		assert.Nil(t, consensus.Attest(attesterA, custodian, math.NewInt(900)))
		assert.Nil(t, consensus.Attest(attesterB, custodian, math.NewInt(900)))
		assert.Nil(t, consensus.Attest(attesterC, custodian, math.NewInt(900)))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("quorum-reaching attestation did not return")
	}

	record, _ := reg.Get(custodian)
	assert.Equal(t, math.NewInt(900), record.CurrentBacking)
}

func TestStaleReserveLifecycle(t *testing.T) {
	f := newFixture(time.Millisecond)
	assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))
	f.attest(math.NewInt(900))

	assert.Nil(t, f.manager.SyncFromOracle(custodian))
	f.waitGate()

	// reserve goes stale; the first sync observing it anchors the grace timer
	f.clock = f.clock.Add(2 * time.Hour)
	assert.Nil(t, f.manager.SyncFromOracle(custodian))
	f.waitGate()

	record, _ := f.registry.Get(custodian)
	assert.Equal(t, models.CustodianStatusActive, record.Status)

	// staleness persists beyond the grace period
	f.clock = f.clock.Add(11 * time.Minute)
	assert.Nil(t, f.manager.SyncFromOracle(custodian))
	f.waitGate()

	record, _ = f.registry.Get(custodian)
	assert.Equal(t, models.CustodianStatusSelfPaused, record.Status)

	capacityRecord, _ := f.capacity.Get(custodian)
	assert.True(t, capacityRecord.MintingPaused)
	assert.False(t, capacityRecord.RedeemingPaused)
	assert.False(t, f.capacity.CanMint(custodian, math.NewInt(1)))

	pause, ok := f.registry.Pause(custodian)
	assert.True(t, ok)
	assert.False(t, pause.Escalated)

	// still within the escalation delay
	f.clock = f.clock.Add(30 * time.Minute)
	assert.Nil(t, f.manager.SyncFromOracle(custodian))
	f.waitGate()

	record, _ = f.registry.Get(custodian)
	assert.Equal(t, models.CustodianStatusSelfPaused, record.Status)

	// escalation delay elapses; redemption pauses only now
	f.clock = f.clock.Add(31 * time.Minute)
	assert.Nil(t, f.manager.SyncFromOracle(custodian))
	f.waitGate()

	record, _ = f.registry.Get(custodian)
	assert.Equal(t, models.CustodianStatusUnderReview, record.Status)

	capacityRecord, _ = f.capacity.Get(custodian)
	assert.True(t, capacityRecord.MintingPaused)
	assert.True(t, capacityRecord.RedeemingPaused)

	pause, _ = f.registry.Pause(custodian)
	assert.True(t, pause.Escalated)

	// escalation is monotonic: further syncs change nothing
	f.clock = f.clock.Add(time.Hour)
	assert.Nil(t, f.manager.SyncFromOracle(custodian))

	record, _ = f.registry.Get(custodian)
	assert.Equal(t, models.CustodianStatusUnderReview, record.Status)
}

func TestFreshReserveClearsGraceTimer(t *testing.T) {
	f := newFixture(time.Millisecond)
	assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))
	f.attest(math.NewInt(900))

	// anchor the grace timer on stale data
	f.clock = f.clock.Add(2 * time.Hour)
	assert.Nil(t, f.manager.SyncFromOracle(custodian))
	f.waitGate()

	// fresh consensus arrives before the grace period runs out
	f.attest(math.NewInt(950))
	assert.Nil(t, f.manager.SyncFromOracle(custodian))
	f.waitGate()

	// staleness must persist for a full new grace period to pause again
	f.clock = f.clock.Add(2 * time.Hour)
	assert.Nil(t, f.manager.SyncFromOracle(custodian))

	record, _ := f.registry.Get(custodian)
	assert.Equal(t, models.CustodianStatusActive, record.Status)
}

func TestSetStatus(t *testing.T) {
	t.Run("Unauthorized Actor", func(t *testing.T) {
		f := newFixture(time.Millisecond)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))

		err := f.manager.SetStatus(stranger, custodian, models.CustodianStatusEmergencyPaused, "MANUAL")
		assert.True(t, errors.Is(err, models.ErrUnauthorized))
	})

	t.Run("Invalid Target Status", func(t *testing.T) {
		f := newFixture(time.Millisecond)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))

		err := f.manager.SetStatus(arbiter, custodian, models.CustodianStatusSelfPaused, "MANUAL")
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("Same Status", func(t *testing.T) {
		f := newFixture(time.Millisecond)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))

		err := f.manager.SetStatus(arbiter, custodian, models.CustodianStatusActive, "MANUAL")
		assert.True(t, errors.Is(err, models.ErrStateConflict))
	})

	t.Run("Emergency Pause By Enforcement", func(t *testing.T) {
		f := newFixture(time.Millisecond)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))

		err := f.manager.SetStatus(enforcement, custodian, models.CustodianStatusEmergencyPaused, "COURT_ORDER")

		assert.Nil(t, err)
		record, _ := f.registry.Get(custodian)
		assert.Equal(t, models.CustodianStatusEmergencyPaused, record.Status)

		capacityRecord, _ := f.capacity.Get(custodian)
		assert.True(t, capacityRecord.MintingPaused)
		assert.True(t, capacityRecord.RedeemingPaused)
	})

	t.Run("Revoked Is Terminal", func(t *testing.T) {
		f := newFixture(time.Millisecond)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))
		assert.Nil(t, f.manager.SetStatus(arbiter, custodian, models.CustodianStatusRevoked, "FRAUD"))

		err := f.manager.SetStatus(arbiter, custodian, models.CustodianStatusActive, "RESTORE")
		assert.True(t, errors.Is(err, models.ErrStateConflict))
	})

	t.Run("Restore Active Unpauses", func(t *testing.T) {
		f := newFixture(time.Millisecond)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))
		assert.Nil(t, f.manager.SetStatus(arbiter, custodian, models.CustodianStatusUnderReview, "MANUAL"))

		err := f.manager.SetStatus(arbiter, custodian, models.CustodianStatusActive, "VERIFIED")

		assert.Nil(t, err)
		record, _ := f.registry.Get(custodian)
		assert.Equal(t, models.CustodianStatusActive, record.Status)

		capacityRecord, _ := f.capacity.Get(custodian)
		assert.False(t, capacityRecord.MintingPaused)
		assert.False(t, capacityRecord.RedeemingPaused)

		_, hasPause := f.registry.Pause(custodian)
		assert.False(t, hasPause)
	})
}

func TestMint(t *testing.T) {
	t.Run("Active With Fresh Reserve", func(t *testing.T) {
		f := newFixture(time.Millisecond)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))
		f.attest(math.NewInt(900))

		err := f.manager.Mint(custodian, user, math.NewInt(500))

		assert.Nil(t, err)
		assert.Equal(t, math.NewInt(500), f.holdings.Balance(user))

		record, _ := f.registry.Get(custodian)
		assert.Equal(t, math.NewInt(500), record.TotalMinted)
	})

	t.Run("Unregistered Custodian", func(t *testing.T) {
		f := newFixture(time.Millisecond)

		err := f.manager.Mint(custodian, user, math.NewInt(500))
		assert.True(t, errors.Is(err, models.ErrValidation))
	})

	t.Run("Not Active", func(t *testing.T) {
		f := newFixture(time.Millisecond)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))
		f.attest(math.NewInt(900))
		assert.Nil(t, f.manager.SetStatus(arbiter, custodian, models.CustodianStatusUnderReview, "MANUAL"))

		err := f.manager.Mint(custodian, user, math.NewInt(500))
		assert.True(t, errors.Is(err, models.ErrStateConflict))
		assert.Equal(t, math.ZeroInt(), f.holdings.Balance(user))
	})

	t.Run("Stale Reserve Is Soft Deny", func(t *testing.T) {
		f := newFixture(time.Millisecond)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))
		f.attest(math.NewInt(900))

		f.clock = f.clock.Add(2 * time.Hour)

		err := f.manager.Mint(custodian, user, math.NewInt(500))
		assert.True(t, errors.Is(err, models.ErrStateConflict))

		// the custodian stays Active; only the sync loop pauses it
		record, _ := f.registry.Get(custodian)
		assert.Equal(t, models.CustodianStatusActive, record.Status)
	})

	t.Run("Cap Exceeded", func(t *testing.T) {
		f := newFixture(time.Millisecond)
		assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))
		f.attest(math.NewInt(900))
		assert.Nil(t, f.manager.Mint(custodian, user, math.NewInt(800)))

		err := f.manager.Mint(custodian, user, math.NewInt(300))

		assert.True(t, errors.Is(err, models.ErrStateConflict))
		assert.Equal(t, math.NewInt(800), f.holdings.Balance(user))
	})
}

func TestReportDefault(t *testing.T) {
	f := newFixture(time.Millisecond)
	assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))

	f.manager.ReportDefault(custodian, f.clock)
	f.manager.ReportDefault(custodian, f.clock)

	record, _ := f.registry.Get(custodian)
	assert.Equal(t, models.CustodianStatusActive, record.Status)
	assert.Equal(t, 2, f.manager.DefaultCount(custodian))

	// third default within the window forces review
	f.manager.ReportDefault(custodian, f.clock)

	record, _ = f.registry.Get(custodian)
	assert.Equal(t, models.CustodianStatusUnderReview, record.Status)

	capacityRecord, _ := f.capacity.Get(custodian)
	assert.True(t, capacityRecord.MintingPaused)
	assert.True(t, capacityRecord.RedeemingPaused)
}

func TestReportDefaultWindowPrunes(t *testing.T) {
	f := newFixture(time.Millisecond)
	assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))

	f.manager.ReportDefault(custodian, f.clock)
	f.manager.ReportDefault(custodian, f.clock)

	// the earlier defaults age out of the window
	f.clock = f.clock.Add(25 * time.Hour)
	f.manager.ReportDefault(custodian, f.clock)

	record, _ := f.registry.Get(custodian)
	assert.Equal(t, models.CustodianStatusActive, record.Status)
	assert.Equal(t, 1, f.manager.DefaultCount(custodian))
}

func TestSnapshot(t *testing.T) {
	f := newFixture(time.Millisecond)

	_, ok := f.manager.Snapshot(custodian)
	assert.False(t, ok)

	assert.Nil(t, f.manager.RegisterQC(registrar, custodian, math.NewInt(1000)))
	f.attest(math.NewInt(900))
	assert.Nil(t, f.manager.SyncFromOracle(custodian))
	assert.Nil(t, f.manager.Mint(custodian, user, math.NewInt(500)))

	doc, ok := f.manager.Snapshot(custodian)
	assert.True(t, ok)
	assert.Equal(t, custodian.Hex(), doc.Address)
	assert.Equal(t, models.CustodianStatusActive, doc.Status)
	assert.Equal(t, "1000", doc.MaxCapacity)
	assert.Equal(t, "500", doc.TotalMinted)
	assert.Equal(t, "900", doc.CurrentBacking)
	assert.Nil(t, doc.SelfPauseTimestamp)
}

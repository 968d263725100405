package main

import (
	"sync"
	"time"

	"cosmossdk.io/math"
	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"

	"github.com/qbtc-network/qbtc-custodian/app"
	"github.com/qbtc-network/qbtc-custodian/audit"
	"github.com/qbtc-network/qbtc-custodian/auth"
	"github.com/qbtc-network/qbtc-custodian/ledger"
	"github.com/qbtc-network/qbtc-custodian/manager"
	"github.com/qbtc-network/qbtc-custodian/models"
	"github.com/qbtc-network/qbtc-custodian/oracle"
	"github.com/qbtc-network/qbtc-custodian/redeem"
	"github.com/qbtc-network/qbtc-custodian/registry"
)

// Core holds the shared in-memory state machines that the services drive.
type Core struct {
	Roles    *auth.RoleSet
	Trail    *audit.Trail
	Oracle   *oracle.Consensus
	Registry *registry.Registry
	Capacity *ledger.Capacity
	Holdings *ledger.Holdings
	Manager  *manager.Manager
	Redeemer *redeem.Engine
}

func CreateCore() *Core {
	roles := auth.NewRoleSet(app.Config.Roles)
	trail := audit.NewTrail()

	reg := registry.NewRegistry()
	capacity := ledger.NewCapacity()
	holdings := ledger.NewHoldings()

	// the manager is also the consensus subscriber, so bind it after
	// construction through the closure
	var m *manager.Manager
	consensus := oracle.NewConsensus(oracle.Params{
		ConsensusThreshold: app.Config.Oracle.ConsensusThreshold,
		AttestationTimeout: time.Duration(app.Config.Oracle.AttestationTimeoutSecs) * time.Second,
		StaleThreshold:     time.Duration(app.Config.Oracle.StaleThresholdSecs) * time.Second,
	}, roles, trail, func(custodian common.Address, balance math.Int, at time.Time) {
		if m == nil {
			return
		}
		if err := m.SyncFromOracle(custodian); err != nil {
			log.Debug("[CORE] Skipping sync after consensus for ", custodian.Hex(), ": ", err)
		}
	})

	m = manager.NewManager(manager.Params{
		GracePeriod:      time.Duration(app.Config.Manager.GracePeriodSecs) * time.Second,
		EscalationDelay:  time.Duration(app.Config.Manager.EscalationDelaySecs) * time.Second,
		MinSyncInterval:  time.Duration(app.Config.Manager.MinSyncIntervalSecs) * time.Second,
		DefaultsToReview: app.Config.Manager.DefaultsToReview,
		DefaultWindow:    time.Duration(app.Config.Manager.DefaultWindowSecs) * time.Second,
	}, roles, consensus, reg, capacity, holdings, trail)

	wallets := redeem.NewStaticWalletRegistry()
	for _, wallet := range app.Config.Wallets {
		wallets.Add(common.HexToAddress(wallet.Custodian), wallet.Wallet, wallet.Active)
	}

	var verifier redeem.ProofVerifier
	switch app.Config.Redeemer.ProofMode {
	case models.ProofModeDocument:
		verifier = redeem.DocumentVerifier{}
	default:
		verifier = redeem.RejectVerifier{}
	}

	redeemer := redeem.NewEngine(redeem.Params{
		RedemptionTimeout: time.Duration(app.Config.Redeemer.RedemptionTimeoutSecs) * time.Second,
		DustToleranceBps:  app.Config.Redeemer.DustToleranceBps,
	}, roles, capacity, holdings, wallets, verifier, m, trail)

	return &Core{
		Roles:    roles,
		Trail:    trail,
		Oracle:   consensus,
		Registry: reg,
		Capacity: capacity,
		Holdings: holdings,
		Manager:  m,
		Redeemer: redeemer,
	}
}

func CreateService(
	wg *sync.WaitGroup,
	serviceName string,
	serviceHealthMap map[string]models.ServiceHealth,
	createService func(*sync.WaitGroup) models.Service,
	createServiceWithLastHealth func(*sync.WaitGroup, models.ServiceHealth) models.Service,
) models.Service {
	serviceHealth, ok := serviceHealthMap[serviceName]
	if ok {
		return createServiceWithLastHealth(wg, serviceHealth)
	} else {
		return createService(wg)
	}
}

type ServiceFactory struct {
	CreateService               func(*sync.WaitGroup) models.Service
	CreateServiceWithLastHealth func(*sync.WaitGroup, models.ServiceHealth) models.Service
}

func GetServiceFactories(core *Core) map[string]ServiceFactory {
	services := map[string]ServiceFactory{
		manager.StatusSyncName: {
			CreateService: func(wg *sync.WaitGroup) models.Service {
				return manager.NewStatusSyncService(core.Manager, wg)
			},
			CreateServiceWithLastHealth: func(wg *sync.WaitGroup, lastHealth models.ServiceHealth) models.Service {
				return manager.NewStatusSyncService(core.Manager, wg)
			},
		},
		redeem.ObligationWatchName: {
			CreateService: func(wg *sync.WaitGroup) models.Service {
				return redeem.NewObligationWatchService(core.Redeemer, wg)
			},
			CreateServiceWithLastHealth: func(wg *sync.WaitGroup, lastHealth models.ServiceHealth) models.Service {
				return redeem.NewObligationWatchService(core.Redeemer, wg)
			},
		},
	}

	return services
}

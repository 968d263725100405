package manager

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/qbtc-network/qbtc-custodian/app"
	"github.com/qbtc-network/qbtc-custodian/models"
)

const (
	StatusSyncName = "STATUS SYNC"
)

// StatusSyncRunner is the recurring external trigger for SyncFromOracle:
// it walks every registered custodian, applies the lifecycle rules and
// persists custodian, reserve and audit documents.
type StatusSyncRunner struct {
	manager  *Manager
	lastSeq  uint64
	lastSync int
}

func (x *StatusSyncRunner) Run() {
	x.SyncCustodians()
	x.FlushAuditEvents()
}

func (x *StatusSyncRunner) Status() models.RunnerStatus {
	return models.RunnerStatus{
		Custodians: strconv.Itoa(x.lastSync),
	}
}

func (x *StatusSyncRunner) SyncCustodians() bool {
	custodians := x.manager.Custodians()
	x.lastSync = len(custodians)

	var success = true
	for _, custodian := range custodians {
		success = x.SyncCustodian(custodian) && success
	}
	return success
}

func (x *StatusSyncRunner) SyncCustodian(custodian common.Address) bool {
	lockId, err := app.DB.XLock("custodian/" + custodian.Hex())
	if err != nil {
		log.Error("[STATUS SYNC] Error locking custodian: ", err)
		return false
	}
	defer func() {
		if err := app.DB.Unlock(lockId); err != nil {
			log.Error("[STATUS SYNC] Error unlocking custodian: ", err)
		}
	}()

	if err := x.manager.SyncFromOracle(custodian); err != nil {
		if errors.Is(err, models.ErrRateLimited) {
			log.Debug("[STATUS SYNC] Skipping ", custodian.Hex(), ": ", err)
		} else {
			log.Error("[STATUS SYNC] Error syncing ", custodian.Hex(), ": ", err)
			return false
		}
	}

	return x.PersistCustodian(custodian)
}

func (x *StatusSyncRunner) PersistCustodian(custodian common.Address) bool {
	doc, ok := x.manager.Snapshot(custodian)
	if !ok {
		log.Debug("[STATUS SYNC] No record for ", custodian.Hex())
		return true
	}

	update := bson.M{
		"$set": bson.M{
			"status":               doc.Status,
			"max_capacity":         doc.MaxCapacity,
			"total_minted":         doc.TotalMinted,
			"current_backing":      doc.CurrentBacking,
			"registered_at":        doc.RegisteredAt,
			"self_pause_timestamp": doc.SelfPauseTimestamp,
			"escalated":            doc.Escalated,
			"minting_paused":       doc.MintingPaused,
			"redeeming_paused":     doc.RedeemingPaused,
			"updated_at":           time.Now(),
		},
	}
	if err := app.DB.UpsertOne(models.CollectionCustodians, bson.M{"address": doc.Address}, update); err != nil {
		log.Error("[STATUS SYNC] Error storing custodian: ", err)
		return false
	}

	reserve, ok := x.manager.Oracle().Snapshot(custodian)
	if !ok {
		return true
	}
	reserveUpdate := bson.M{
		"$set": bson.M{
			"balance":      reserve.Balance,
			"finalized_at": reserve.FinalizedAt,
			"failed":       reserve.Failed,
			"attesters":    reserve.Attesters,
			"updated_at":   time.Now(),
		},
	}
	if err := app.DB.UpsertOne(models.CollectionReserves, bson.M{"custodian": reserve.Custodian}, reserveUpdate); err != nil {
		log.Error("[STATUS SYNC] Error storing reserve: ", err)
		return false
	}

	return true
}

func (x *StatusSyncRunner) FlushAuditEvents() bool {
	events := x.manager.Trail().EventsSince(x.lastSeq)

	for _, event := range events {
		if err := app.DB.InsertOne(models.CollectionAuditEvents, event); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				log.Debug("[STATUS SYNC] Found duplicate audit event: ", event.Sequence)
			} else {
				// stop here so the failed event is retried next run
				log.Error("[STATUS SYNC] Error storing audit event: ", err)
				return false
			}
		}
		x.lastSeq = event.Sequence
	}
	return true
}

func NewStatusSyncService(m *Manager, wg *sync.WaitGroup) models.Service {
	if !app.Config.StatusSync.Enabled {
		log.Debug("[STATUS SYNC] Service disabled")
		return models.NewEmptyService(wg)
	}

	log.Debug("[STATUS SYNC] Initializing service")

	x := &StatusSyncRunner{
		manager: m,
	}

	return app.NewRunnerService(StatusSyncName, x, wg, time.Duration(app.Config.StatusSync.IntervalMillis)*time.Millisecond)
}

package redeem

import (
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/qbtc-network/qbtc-custodian/app"
	"github.com/qbtc-network/qbtc-custodian/models"
)

const (
	ObligationWatchName = "OBLIGATION WATCH"
)

// ObligationWatchRunner is the recurring external trigger for timeout
// detection: it reports lazily timed out obligations, optionally defaults
// them, and persists obligation documents.
type ObligationWatchRunner struct {
	engine      *Engine
	autoDefault bool
}

func (x *ObligationWatchRunner) Run() {
	x.CheckTimeouts()
	x.PersistObligations()
}

func (x *ObligationWatchRunner) Status() models.RunnerStatus {
	return models.RunnerStatus{
		Obligations: strconv.Itoa(x.engine.PendingCount()),
	}
}

func (x *ObligationWatchRunner) CheckTimeouts() bool {
	timedOut := x.engine.TimedOutIds()
	if len(timedOut) == 0 {
		return true
	}

	log.Info("[OBLIGATION WATCH] Found ", len(timedOut), " timed out obligations")

	if !x.autoDefault {
		return true
	}

	var success = true
	for _, id := range timedOut {
		if err := x.engine.DefaultTimedOut(id); err != nil {
			log.Error("[OBLIGATION WATCH] Error defaulting ", id.Hex(), ": ", err)
			success = false
		}
	}
	return success
}

func (x *ObligationWatchRunner) PersistObligations() bool {
	var success = true
	for _, doc := range x.engine.Snapshots() {
		update := bson.M{
			"$set": bson.M{
				"user":           doc.User,
				"custodian":      doc.Custodian,
				"wallet":         doc.Wallet,
				"target_address": doc.TargetAddress,
				"amount":         doc.Amount,
				"actual_amount":  doc.ActualAmount,
				"requested_at":   doc.RequestedAt,
				"resolved_at":    doc.ResolvedAt,
				"status":         doc.Status,
				"reason_code":    doc.ReasonCode,
				"updated_at":     time.Now(),
			},
		}
		if err := app.DB.UpsertOne(models.CollectionObligations, bson.M{"obligation_id": doc.ObligationId}, update); err != nil {
			log.Error("[OBLIGATION WATCH] Error storing obligation: ", err)
			success = false
		}
	}
	return success
}

func NewObligationWatchService(engine *Engine, wg *sync.WaitGroup) models.Service {
	if !app.Config.ObligationWatch.Enabled {
		log.Debug("[OBLIGATION WATCH] Service disabled")
		return models.NewEmptyService(wg)
	}

	log.Debug("[OBLIGATION WATCH] Initializing service")

	x := &ObligationWatchRunner{
		engine:      engine,
		autoDefault: app.Config.Redeemer.AutoDefaultTimeouts,
	}

	return app.NewRunnerService(ObligationWatchName, x, wg, time.Duration(app.Config.ObligationWatch.IntervalMillis)*time.Millisecond)
}

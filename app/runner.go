package app

import (
	"sync"
	"time"

	"github.com/qbtc-network/qbtc-custodian/models"
	log "github.com/sirupsen/logrus"
)

// Runner is one unit of recurring work driven by a RunnerService.
type Runner interface {
	Run()
	Status() models.RunnerStatus
}

type RunnerService struct {
	name     string
	runner   Runner
	interval time.Duration
	stop     chan bool
	wg       *sync.WaitGroup

	healthMu sync.RWMutex
	health   models.ServiceHealth
}

func (x *RunnerService) Start() {
	log.Info("[", x.name, "] Starting service")
	stop := false
	for !stop {
		log.Debug("[", x.name, "] Starting run")

		x.runner.Run()

		x.updateHealth()

		log.Debug("[", x.name, "] Finished run, sleeping for ", x.interval)

		select {
		case <-x.stop:
			stop = true
			log.Info("[", x.name, "] Stopped service")
		case <-time.After(x.interval):
		}
	}
	x.wg.Done()
}

func (x *RunnerService) Health() models.ServiceHealth {
	x.healthMu.RLock()
	defer x.healthMu.RUnlock()

	return x.health
}

func (x *RunnerService) updateHealth() {
	x.healthMu.Lock()
	defer x.healthMu.Unlock()

	lastSyncTime := time.Now()
	status := x.runner.Status()

	x.health = models.ServiceHealth{
		Name:         x.name,
		LastSyncTime: lastSyncTime,
		NextSyncTime: lastSyncTime.Add(x.interval),
		Custodians:   status.Custodians,
		Obligations:  status.Obligations,
		Healthy:      true,
	}
}

func (x *RunnerService) Stop() {
	log.Debug("[", x.name, "] Stopping service")
	x.stop <- true
}

func NewRunnerService(name string, runner Runner, wg *sync.WaitGroup, interval time.Duration) models.Service {
	if name == "" || runner == nil || interval == 0 {
		log.Error("[RUNNER] Invalid service parameters: ", name)
		return nil
	}

	return &RunnerService{
		name:     name,
		runner:   runner,
		interval: interval,
		stop:     make(chan bool, 1),
		wg:       wg,
	}
}

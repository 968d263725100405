package app

import (
	"os"
	"time"

	"github.com/qbtc-network/qbtc-custodian/models"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
)

const (
	HealthCheckName = "HEALTH"
)

type HealthCheckRunner struct {
	operatorId string
	hostname   string
	services   []models.Service
}

func (x *HealthCheckRunner) Run() {
	x.PostHealth()
}

func (x *HealthCheckRunner) Status() models.RunnerStatus {
	return models.RunnerStatus{}
}

func (x *HealthCheckRunner) SetServices(services []models.Service) {
	x.services = services
}

func (x *HealthCheckRunner) ServiceHealths() []models.ServiceHealth {
	var serviceHealths []models.ServiceHealth
	for _, service := range x.services {
		health := service.Health()
		if health.Name == models.EmptyServiceName {
			continue
		}
		serviceHealths = append(serviceHealths, health)
	}
	return serviceHealths
}

func (x *HealthCheckRunner) FindLastHealth() (models.Health, error) {
	var health models.Health
	filter := bson.M{
		"operator_id": x.operatorId,
		"hostname":    x.hostname,
	}
	err := DB.FindOne(models.CollectionHealthChecks, filter, &health)
	return health, err
}

// LastHealthByService maps the last posted health by service name, used to
// resume runner state across restarts.
func (x *HealthCheckRunner) LastHealthByService() map[string]models.ServiceHealth {
	healthMap := make(map[string]models.ServiceHealth)
	lastHealth, err := x.FindLastHealth()
	if err != nil {
		log.Warn("[HEALTH] Error getting last health: ", err)
		return healthMap
	}
	for _, health := range lastHealth.ServiceHealths {
		healthMap[health.Name] = health
	}
	return healthMap
}

func (x *HealthCheckRunner) PostHealth() bool {
	log.Debug("[HEALTH] Posting health")

	filter := bson.M{
		"operator_id": x.operatorId,
		"hostname":    x.hostname,
	}

	onInsert := bson.M{
		"operator_id": x.operatorId,
		"hostname":    x.hostname,
		"created_at":  time.Now(),
	}

	update := bson.M{
		"$set": bson.M{
			"service_healths": x.ServiceHealths(),
			"updated_at":      time.Now(),
		},
		"$setOnInsert": onInsert,
	}

	err := DB.UpsertOne(models.CollectionHealthChecks, filter, update)

	if err != nil {
		log.Error("[HEALTH] Error posting health: ", err)
		return false
	}

	log.Info("[HEALTH] Posted health")
	return true
}

func NewHealthCheck() *HealthCheckRunner {
	hostname, err := os.Hostname()
	if err != nil {
		log.Fatal("[HEALTH] Error getting hostname: ", err)
	}

	return &HealthCheckRunner{
		operatorId: Config.HealthCheck.OperatorId,
		hostname:   hostname,
	}
}

package app

import (
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/qbtc-network/qbtc-custodian/models"
	"gopkg.in/yaml.v2"
)

var (
	Config models.Config
)

func InitConfig(configFile string, envFile string) {
	var yamlFile, err = os.ReadFile(configFile)
	if err != nil {
		log.Fatalf("[CONFIG] Error reading config file %q: %s\n", configFile, err.Error())
	}
	err = yaml.Unmarshal(yamlFile, &Config)
	if err != nil {
		log.Fatalf("[CONFIG] Error unmarshalling config file %q: %s\n", configFile, err.Error())
	}
	readConfigFromENV(envFile)
	readSecretsFromGSM()
	validateConfig()
}

func validateConfig() {
	if Config.MongoDB.URI == "" {
		log.Fatal("[CONFIG] MongoDB.URI is required")
	}
	if Config.MongoDB.Database == "" {
		log.Fatal("[CONFIG] MongoDB.Database is required")
	}
	if Config.MongoDB.TimeoutMillis == 0 {
		log.Fatal("[CONFIG] MongoDB.TimeoutMillis is required")
	}
	if Config.Oracle.ConsensusThreshold <= 0 {
		log.Fatal("[CONFIG] Oracle.ConsensusThreshold is required")
	}
	if len(Config.Roles.Attesters) < Config.Oracle.ConsensusThreshold {
		log.Fatal("[CONFIG] Not enough attesters for consensus threshold")
	}
	if Config.Oracle.AttestationTimeoutSecs == 0 {
		log.Fatal("[CONFIG] Oracle.AttestationTimeoutSecs is required")
	}
	if Config.Oracle.StaleThresholdSecs == 0 {
		log.Fatal("[CONFIG] Oracle.StaleThresholdSecs is required")
	}
	if Config.Manager.GracePeriodSecs == 0 {
		log.Fatal("[CONFIG] Manager.GracePeriodSecs is required")
	}
	if Config.Manager.EscalationDelaySecs == 0 {
		log.Fatal("[CONFIG] Manager.EscalationDelaySecs is required")
	}
	if Config.Manager.MinSyncIntervalSecs == 0 {
		log.Fatal("[CONFIG] Manager.MinSyncIntervalSecs is required")
	}
	if Config.Redeemer.RedemptionTimeoutSecs == 0 {
		log.Fatal("[CONFIG] Redeemer.RedemptionTimeoutSecs is required")
	}
	if Config.Redeemer.ProofMode != models.ProofModeDocument && Config.Redeemer.ProofMode != models.ProofModeReject {
		log.Fatal("[CONFIG] Redeemer.ProofMode must be \"document\" or \"reject\"")
	}
	if Config.HealthCheck.OperatorId == "" {
		log.Fatal("[CONFIG] HealthCheck.OperatorId is required")
	}
}

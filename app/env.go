package app

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

func readConfigFromENV(envFile string) {
	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil {
			log.Warn("[ENV] Error loading .env file: ", err.Error())
		}
	}

	if os.Getenv("MONGODB_URI") != "" {
		Config.MongoDB.URI = os.Getenv("MONGODB_URI")
	}
	if os.Getenv("MONGODB_DATABASE") != "" {
		Config.MongoDB.Database = os.Getenv("MONGODB_DATABASE")
	}
	if os.Getenv("MONGODB_TIMEOUT_MS") != "" {
		timeoutMillis, err := strconv.ParseInt(os.Getenv("MONGODB_TIMEOUT_MS"), 10, 64)
		if err != nil {
			log.Warn("[ENV] Error parsing MONGODB_TIMEOUT_MS: ", err.Error())
		} else {
			Config.MongoDB.TimeoutMillis = timeoutMillis
		}
	}

	// oracle
	if os.Getenv("ORACLE_CONSENSUS_THRESHOLD") != "" {
		threshold, err := strconv.Atoi(os.Getenv("ORACLE_CONSENSUS_THRESHOLD"))
		if err != nil {
			log.Warn("[ENV] Error parsing ORACLE_CONSENSUS_THRESHOLD: ", err.Error())
		} else {
			Config.Oracle.ConsensusThreshold = threshold
		}
	}
	if os.Getenv("ORACLE_ATTESTATION_TIMEOUT_SECS") != "" {
		timeoutSecs, err := strconv.ParseInt(os.Getenv("ORACLE_ATTESTATION_TIMEOUT_SECS"), 10, 64)
		if err != nil {
			log.Warn("[ENV] Error parsing ORACLE_ATTESTATION_TIMEOUT_SECS: ", err.Error())
		} else {
			Config.Oracle.AttestationTimeoutSecs = timeoutSecs
		}
	}
	if os.Getenv("ORACLE_STALE_THRESHOLD_SECS") != "" {
		staleSecs, err := strconv.ParseInt(os.Getenv("ORACLE_STALE_THRESHOLD_SECS"), 10, 64)
		if err != nil {
			log.Warn("[ENV] Error parsing ORACLE_STALE_THRESHOLD_SECS: ", err.Error())
		} else {
			Config.Oracle.StaleThresholdSecs = staleSecs
		}
	}

	// manager
	if os.Getenv("MANAGER_GRACE_PERIOD_SECS") != "" {
		graceSecs, err := strconv.ParseInt(os.Getenv("MANAGER_GRACE_PERIOD_SECS"), 10, 64)
		if err != nil {
			log.Warn("[ENV] Error parsing MANAGER_GRACE_PERIOD_SECS: ", err.Error())
		} else {
			Config.Manager.GracePeriodSecs = graceSecs
		}
	}
	if os.Getenv("MANAGER_ESCALATION_DELAY_SECS") != "" {
		delaySecs, err := strconv.ParseInt(os.Getenv("MANAGER_ESCALATION_DELAY_SECS"), 10, 64)
		if err != nil {
			log.Warn("[ENV] Error parsing MANAGER_ESCALATION_DELAY_SECS: ", err.Error())
		} else {
			Config.Manager.EscalationDelaySecs = delaySecs
		}
	}
	if os.Getenv("MANAGER_MIN_SYNC_INTERVAL_SECS") != "" {
		intervalSecs, err := strconv.ParseInt(os.Getenv("MANAGER_MIN_SYNC_INTERVAL_SECS"), 10, 64)
		if err != nil {
			log.Warn("[ENV] Error parsing MANAGER_MIN_SYNC_INTERVAL_SECS: ", err.Error())
		} else {
			Config.Manager.MinSyncIntervalSecs = intervalSecs
		}
	}

	// redeemer
	if os.Getenv("REDEEMER_TIMEOUT_SECS") != "" {
		timeoutSecs, err := strconv.ParseInt(os.Getenv("REDEEMER_TIMEOUT_SECS"), 10, 64)
		if err != nil {
			log.Warn("[ENV] Error parsing REDEEMER_TIMEOUT_SECS: ", err.Error())
		} else {
			Config.Redeemer.RedemptionTimeoutSecs = timeoutSecs
		}
	}
	if os.Getenv("REDEEMER_DUST_TOLERANCE_BPS") != "" {
		dustBps, err := strconv.ParseInt(os.Getenv("REDEEMER_DUST_TOLERANCE_BPS"), 10, 64)
		if err != nil {
			log.Warn("[ENV] Error parsing REDEEMER_DUST_TOLERANCE_BPS: ", err.Error())
		} else {
			Config.Redeemer.DustToleranceBps = dustBps
		}
	}
	if os.Getenv("REDEEMER_PROOF_MODE") != "" {
		Config.Redeemer.ProofMode = os.Getenv("REDEEMER_PROOF_MODE")
	}

	// roles
	if os.Getenv("ROLES_ATTESTERS") != "" {
		Config.Roles.Attesters = strings.Split(os.Getenv("ROLES_ATTESTERS"), ",")
	}
	if os.Getenv("ROLES_ARBITERS") != "" {
		Config.Roles.Arbiters = strings.Split(os.Getenv("ROLES_ARBITERS"), ",")
	}
	if os.Getenv("ROLES_GOVERNANCE") != "" {
		Config.Roles.Governance = strings.Split(os.Getenv("ROLES_GOVERNANCE"), ",")
	}
	if os.Getenv("ROLES_REGISTRARS") != "" {
		Config.Roles.Registrars = strings.Split(os.Getenv("ROLES_REGISTRARS"), ",")
	}
	if os.Getenv("ROLES_ENFORCEMENT") != "" {
		Config.Roles.Enforcement = strings.Split(os.Getenv("ROLES_ENFORCEMENT"), ",")
	}

	// health check
	if os.Getenv("HEALTH_CHECK_OPERATOR_ID") != "" {
		Config.HealthCheck.OperatorId = os.Getenv("HEALTH_CHECK_OPERATOR_ID")
	}
	if os.Getenv("HEALTH_CHECK_INTERVAL_MS") != "" {
		intervalMillis, err := strconv.ParseInt(os.Getenv("HEALTH_CHECK_INTERVAL_MS"), 10, 64)
		if err != nil {
			log.Warn("[ENV] Error parsing HEALTH_CHECK_INTERVAL_MS: ", err.Error())
		} else {
			Config.HealthCheck.IntervalMillis = intervalMillis
		}
	}

	// logging
	if Config.Logger.Level == "" {
		logLevel := os.Getenv("LOG_LEVEL")
		if logLevel == "" {
			log.Warn("[ENV] Setting LogLevel to debug")
			Config.Logger.Level = "debug"
		} else {
			Config.Logger.Level = logLevel
		}
	}

	// google secret manager
	if os.Getenv("GOOGLE_SECRET_MANAGER_ENABLED") != "" {
		enabled, err := strconv.ParseBool(os.Getenv("GOOGLE_SECRET_MANAGER_ENABLED"))
		if err != nil {
			log.Warn("[ENV] Error parsing GOOGLE_SECRET_MANAGER_ENABLED: ", err.Error())
		} else {
			Config.GoogleSecretManager.Enabled = enabled
		}
	}
	if Config.GoogleSecretManager.ProjectId == "" {
		Config.GoogleSecretManager.ProjectId = os.Getenv("GOOGLE_PROJECT_ID")
	}
	if Config.GoogleSecretManager.MongoSecretName == "" {
		Config.GoogleSecretManager.MongoSecretName = os.Getenv("GOOGLE_MONGO_SECRET_NAME")
	}
}

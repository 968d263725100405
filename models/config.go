package models

type Config struct {
	GoogleSecretManager GoogleSecretManagerConfig `yaml:"google_secret_manager" json:"google_secret_manager"`
	HealthCheck         HealthCheckConfig         `yaml:"health_check" json:"health_check"`
	Logger              LoggerConfig              `yaml:"logger" json:"logger"`
	MongoDB             MongoConfig               `yaml:"mongodb" json:"mongo_db"`
	Roles               RolesConfig               `yaml:"roles" json:"roles"`
	Oracle              OracleConfig              `yaml:"oracle" json:"oracle"`
	Manager             ManagerConfig             `yaml:"manager" json:"manager"`
	Redeemer            RedeemerConfig            `yaml:"redeemer" json:"redeemer"`
	Wallets             []WalletConfig            `yaml:"wallets" json:"wallets"`
	StatusSync          ServiceConfig             `yaml:"status_sync" json:"status_sync"`
	ObligationWatch     ServiceConfig             `yaml:"obligation_watch" json:"obligation_watch"`
}

type GoogleSecretManagerConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	ProjectId       string `yaml:"project_id" json:"project_id"`
	MongoSecretName string `yaml:"mongo_secret_name" json:"mongo_secret_name"`
}

type HealthCheckConfig struct {
	OperatorId     string `yaml:"operator_id" json:"operator_id"`
	IntervalMillis int64  `yaml:"interval_ms" json:"interval_ms"`
	ReadLastHealth bool   `yaml:"read_last_health" json:"read_last_health"`
}

type LoggerConfig struct {
	Level string `yaml:"level" json:"level"`
}

type MongoConfig struct {
	URI           string `yaml:"uri" json:"uri"`
	Database      string `yaml:"database" json:"database"`
	TimeoutMillis int64  `yaml:"timeout_ms" json:"timeout_ms"`
}

// RolesConfig is the versioned role registry seed; addresses are hex.
type RolesConfig struct {
	Governance  []string `yaml:"governance" json:"governance"`
	Arbiters    []string `yaml:"arbiters" json:"arbiters"`
	Enforcement []string `yaml:"enforcement" json:"enforcement"`
	Attesters   []string `yaml:"attesters" json:"attesters"`
	Registrars  []string `yaml:"registrars" json:"registrars"`
}

type OracleConfig struct {
	ConsensusThreshold      int   `yaml:"consensus_threshold" json:"consensus_threshold"`
	AttestationTimeoutSecs  int64 `yaml:"attestation_timeout_secs" json:"attestation_timeout_secs"`
	StaleThresholdSecs      int64 `yaml:"stale_threshold_secs" json:"stale_threshold_secs"`
}

type ManagerConfig struct {
	GracePeriodSecs     int64 `yaml:"grace_period_secs" json:"grace_period_secs"`
	EscalationDelaySecs int64 `yaml:"escalation_delay_secs" json:"escalation_delay_secs"`
	MinSyncIntervalSecs int64 `yaml:"min_sync_interval_secs" json:"min_sync_interval_secs"`
	DefaultsToReview    int   `yaml:"defaults_to_review" json:"defaults_to_review"`
	DefaultWindowSecs   int64 `yaml:"default_window_secs" json:"default_window_secs"`
}

// Proof verification modes: "document" accepts pre-verified settlement
// documents from the upstream pipeline, "reject" refuses every proof.
const (
	ProofModeDocument = "document"
	ProofModeReject   = "reject"
)

type RedeemerConfig struct {
	RedemptionTimeoutSecs int64  `yaml:"redemption_timeout_secs" json:"redemption_timeout_secs"`
	DustToleranceBps      int64  `yaml:"dust_tolerance_bps" json:"dust_tolerance_bps"`
	AutoDefaultTimeouts   bool   `yaml:"auto_default_timeouts" json:"auto_default_timeouts"`
	ProofMode             string `yaml:"proof_mode" json:"proof_mode"`
}

type WalletConfig struct {
	Custodian string `yaml:"custodian" json:"custodian"`
	Wallet    string `yaml:"wallet" json:"wallet"`
	Active    bool   `yaml:"active" json:"active"`
}

type ServiceConfig struct {
	Enabled        bool  `yaml:"enabled" json:"enabled"`
	IntervalMillis int64 `yaml:"interval_ms" json:"interval_ms"`
}

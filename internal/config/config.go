package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration struct
type Config struct {
	Node    NodeConfig    `mapstructure:"node"`
	Anchors AnchorsConfig `mapstructure:"anchors"`
	Payouts PayoutsConfig `mapstructure:"payouts"`
	KYC     KYCConfig     `mapstructure:"kyc"`
}

// NodeConfig holds service-level settings
type NodeConfig struct {
	ListenAddr   string      `mapstructure:"listenAddr"`
	DataDir      string      `mapstructure:"dataDir"` // empty runs fully in-memory
	DeploymentID string      `mapstructure:"deploymentID"`
	Roles        RolesConfig `mapstructure:"roles"`
}

// RolesConfig binds the fixed role addresses
type RolesConfig struct {
	Admin     string `mapstructure:"admin"`
	Disburser string `mapstructure:"disburser"`
	Pauser    string `mapstructure:"pauser"`
}

// AnchorsConfig holds anchor registry settings
type AnchorsConfig struct {
	MaxPerInterval int           `mapstructure:"maxPerInterval"`
	Interval       time.Duration `mapstructure:"interval"`
	Restricted     bool          `mapstructure:"restricted"`
	Anchorers      []string      `mapstructure:"anchorers"`
}

// PayoutsConfig holds payout router settings. Amounts are micro-units of
// the reference asset.
type PayoutsConfig struct {
	Asset          string `mapstructure:"asset"`
	MaxPerTx       uint64 `mapstructure:"maxPerTx"`
	MaxPerDay      uint64 `mapstructure:"maxPerDay"`
	OpeningBalance uint64 `mapstructure:"openingBalance"`
}

// KYCConfig holds the compliance-signer set (base64 ed25519 public keys)
type KYCConfig struct {
	Signers []string `mapstructure:"signers"`
}

// Load reads configuration from file and environment
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("node.listenAddr", "0.0.0.0:8580")
	v.SetDefault("node.dataDir", "")
	v.SetDefault("node.deploymentID", "lucid-dev")
	v.SetDefault("anchors.maxPerInterval", 64)
	v.SetDefault("anchors.interval", 120*time.Second)
	v.SetDefault("anchors.restricted", false)
	v.SetDefault("payouts.asset", "USDT-TRC20")
	v.SetDefault("payouts.maxPerTx", uint64(10_000_000_000))     // 10,000 units
	v.SetDefault("payouts.maxPerDay", uint64(1_000_000_000_000)) // 1,000,000 units
	v.SetDefault("payouts.openingBalance", uint64(0))

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

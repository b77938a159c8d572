package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

var GlobalConfig *Config

// Config is the top-level application configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Redis          RedisConfig          `yaml:"redis"`
	MySQL          *MySQLConfig         `yaml:"mysql,omitempty"` // optional: nil disables durable state store persistence
	Logger         LoggerConfig         `yaml:"logger"`
	AutoScaler     AutoScalerConfig     `yaml:"autoscaler"`
	ReplicaManager ReplicaManagerConfig `yaml:"replicaManager"`
}

// ServerConfig configures the telemetry HTTP API.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"` // debug, release
}

// RedisConfig configures the Redis connection backing the distributed lock
// and request window persistence.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MySQLConfig configures the durable replica/event audit store.
type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// LoggerConfig configures the zap-backed logger.
type LoggerConfig struct {
	Level  string           `yaml:"level"`  // debug, info, warn, error
	Output string           `yaml:"output"` // console, file, both
	File   LoggerFileConfig `yaml:"file"`
}

// LoggerFileConfig configures file-based log output.
type LoggerFileConfig struct {
	Path string `yaml:"path"`
}

// ReplicaManagerConfig selects and configures the backend that actually
// provisions replicas.
type ReplicaManagerConfig struct {
	Backend    string           `yaml:"backend"` // "kubernetes" or "mock"
	Kubernetes KubernetesConfig `yaml:"kubernetes"`
}

// KubernetesConfig configures the Kubernetes-backed Replica Manager.
type KubernetesConfig struct {
	Namespace string `yaml:"namespace"`
	Image     string `yaml:"image"`
}

// AutoScalerConfig configures every autoscaled service and its policy.
type AutoScalerConfig struct {
	Enabled    bool                       `yaml:"enabled"`
	WindowSize time.Duration              `yaml:"windowSize"`
	Services   map[string]ServiceConfig   `yaml:"services"`
	Catalogue  []AcceleratorCatalogueItem `yaml:"catalogue"`
}

// ServiceConfig configures one autoscaled service: which policy drives it
// and that policy's parameters. Exactly one of RateThreshold or
// Heterogeneous should be set, matching the service's Policy field.
type ServiceConfig struct {
	Policy        string               `yaml:"policy"` // "rate_threshold" or "heterogeneous"
	Interval      time.Duration        `yaml:"interval"`
	Accelerator   string               `yaml:"accelerator,omitempty"` // rate_threshold only
	RateThreshold RateThresholdSection `yaml:"rateThreshold,omitempty"`
	Heterogeneous HeterogeneousSection `yaml:"heterogeneous,omitempty"`
}

// RateThresholdSection mirrors autoscaler.RateThresholdConfig in YAML form.
type RateThresholdSection struct {
	MinReplicas       int           `yaml:"minReplicas"`
	MaxReplicas       int           `yaml:"maxReplicas"`
	UpperThreshold    float64       `yaml:"upperThreshold"`
	LowerThreshold    float64       `yaml:"lowerThreshold"`
	ScaleUpCooldown   time.Duration `yaml:"scaleUpCooldown"`
	ScaleDownCooldown time.Duration `yaml:"scaleDownCooldown"`
}

// HeterogeneousSection mirrors autoscaler.HeterogeneousConfig in YAML form.
type HeterogeneousSection struct {
	MinReplicas       int           `yaml:"minReplicas"`
	MaxReplicas       int           `yaml:"maxReplicas"`
	ScaleUpCooldown   time.Duration `yaml:"scaleUpCooldown"`
	ScaleDownCooldown time.Duration `yaml:"scaleDownCooldown"`
}

// AcceleratorCatalogueItem mirrors autoscaler.CatalogueEntry in YAML form.
type AcceleratorCatalogueItem struct {
	Class         string  `yaml:"class"`
	ThroughputRPS float64 `yaml:"throughputRps"`
	FallbackClass string  `yaml:"fallbackClass,omitempty"`
	FallbackCount int     `yaml:"fallbackCount,omitempty"`
}

// DefaultCatalogue is shipped when the config file's autoscaler.catalogue
// section is absent: a three-tier fallback chain (H100 -> A100 -> A10),
// supplementing the original's hardcoded two-member A10/A100 case with a
// configurable but runnable-out-of-the-box default.
func DefaultCatalogue() []AcceleratorCatalogueItem {
	return []AcceleratorCatalogueItem{
		{Class: "A10", ThroughputRPS: 8},
		{Class: "A100", ThroughputRPS: 20, FallbackClass: "A10", FallbackCount: 4},
		{Class: "H100", ThroughputRPS: 45, FallbackClass: "A100", FallbackCount: 2},
	}
}

// Init loads configuration from CONFIG_PATH (default config/config.yaml),
// applies environment variable overrides, and fills in defaults for
// sections the file omitted.
func Init() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return err
	}

	applyEnvOverrides(&cfg)
	validateAndApplyDefaults(&cfg)

	GlobalConfig = &cfg
	return nil
}

// applyEnvOverrides applies environment variable overrides. Environment
// variables take precedence over the config file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			cfg.Server.Port = port
		} else {
			log.Printf("[WARN] invalid SERVER_PORT value %q, using config file value: %v", v, err)
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
}

// validateAndApplyDefaults fills defaults for sections the config file left
// empty. An entire section being absent is detected the same way the
// teacher's config layer does: check whether the fields that would never
// legitimately all be zero are all zero, and if so, apply the whole
// default block rather than validating field by field.
func validateAndApplyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		log.Printf("[INFO] server section not found in config, defaulting to port 8080")
		cfg.Server.Port = 8080
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "release"
	}

	if cfg.Logger.Level == "" && cfg.Logger.Output == "" {
		log.Printf("[INFO] logger section not found in config, using defaults (level=info, output=console)")
		cfg.Logger.Level = "info"
		cfg.Logger.Output = "console"
	}

	if cfg.AutoScaler.WindowSize == 0 {
		log.Printf("[WARN] invalid autoscaler.windowSize, using default 60s")
		cfg.AutoScaler.WindowSize = 60 * time.Second
	}

	if len(cfg.AutoScaler.Catalogue) == 0 {
		log.Printf("[INFO] autoscaler.catalogue not found in config, using default accelerator catalogue")
		cfg.AutoScaler.Catalogue = DefaultCatalogue()
	}

	if cfg.ReplicaManager.Backend == "" {
		log.Printf("[INFO] replicaManager.backend not set, defaulting to mock backend")
		cfg.ReplicaManager.Backend = "mock"
	}

	for name, svc := range cfg.AutoScaler.Services {
		if svc.Interval == 0 {
			svc.Interval = 10 * time.Second
			cfg.AutoScaler.Services[name] = svc
		}
	}
}

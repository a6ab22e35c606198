// Package config loads the process configuration from RPCPARITY_* environment
// variables and the optional YAML probe plan.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/gabapcia/rpcparity/internal/pkg/validator"
	"github.com/gabapcia/rpcparity/internal/sampler"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// Prefix is prepended to every environment variable name.
const Prefix = "RPCPARITY"

const (
	StorageNDJSON = "ndjson"
	StorageRedis  = "redis"
)

var (
	// ErrInvalidConfig is returned when the environment does not describe a
	// usable configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidProbes is returned when the probe plan cannot be read or is invalid.
	ErrInvalidProbes = errors.New("invalid probe plan")
)

// Config is the full process configuration.
type Config struct {
	PrimaryURL   string `envconfig:"PRIMARY_URL" validate:"required,url"`
	ReferenceURL string `envconfig:"REFERENCE_URL" validate:"required,url"`

	Interval     time.Duration `envconfig:"INTERVAL" default:"2s" validate:"gt=0"`
	ErrorBackoff time.Duration `envconfig:"ERROR_BACKOFF" default:"10s" validate:"gt=0"`
	CallTimeout  time.Duration `envconfig:"CALL_TIMEOUT" default:"10s" validate:"gt=0"`
	RetryMax     int           `envconfig:"HTTP_RETRY_MAX" default:"0" validate:"gte=0,lte=10"`
	RetryWaitMin time.Duration `envconfig:"HTTP_RETRY_WAIT_MIN" default:"250ms" validate:"gt=0"`
	RetryWaitMax time.Duration `envconfig:"HTTP_RETRY_WAIT_MAX" default:"2s" validate:"gtefield=RetryWaitMin"`
	MaxIdleConns int           `envconfig:"HTTP_MAX_IDLE_CONNS" default:"16" validate:"gt=0"`

	RecheckDelay       time.Duration `envconfig:"RECHECK_DELAY" default:"5s" validate:"gte=0"`
	MaxPendingRechecks int           `envconfig:"MAX_PENDING_RECHECKS" default:"1000" validate:"gt=0"`
	RecheckAttempts    uint          `envconfig:"RECHECK_ATTEMPTS" default:"2" validate:"gte=1"`
	DrainTimeout       time.Duration `envconfig:"DRAIN_TIMEOUT" default:"10s" validate:"gte=0"`

	StrictLogs  bool     `envconfig:"STRICT_LOGS" default:"false"`
	BatchSize   int      `envconfig:"BATCH_SIZE" default:"10" validate:"gte=0"`
	MemoryEvery int      `envconfig:"MEMORY_EVERY" default:"10" validate:"gte=0"`
	Addresses   []string `envconfig:"ADDRESSES" validate:"dive,evmaddress"`
	LogAddress  string   `envconfig:"LOG_ADDRESS" validate:"omitempty,evmaddress"`
	ProbesFile  string   `envconfig:"PROBES_FILE"`

	SampleWindow int `envconfig:"SAMPLE_WINDOW" default:"500" validate:"gt=0"`
	RecentLimit  int `envconfig:"RECENT_LIMIT" default:"20" validate:"gt=0"`

	Storage        string `envconfig:"STORAGE" default:"ndjson" validate:"oneof=ndjson redis"`
	DataDir        string `envconfig:"DATA_DIR" default:"./data" validate:"required_if=Storage ndjson"`
	RedisAddr      string `envconfig:"REDIS_ADDR" validate:"required_if=Storage redis"`
	RedisUsername  string `envconfig:"REDIS_USERNAME"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD"`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0" validate:"gte=0"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"rpcparity"`

	HTTPAddr         string `envconfig:"HTTP_ADDR" default:":9464"`
	TelemetryEnabled bool   `envconfig:"TELEMETRY_ENABLED" default:"false"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Plan sampler.Plan `ignored:"true"`
}

// Load reads the configuration from the environment and, when PROBES_FILE is
// set, the probe plan from fsys. Addresses listed in the environment are added
// to those of the file. The file's batchSize wins over BATCH_SIZE when set.
func Load(fsys afero.Fs) (Config, error) {
	var cfg Config
	if err := envconfig.Process(Prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := validator.Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	plan, err := loadPlan(fsys, cfg.ProbesFile)
	if err != nil {
		return Config{}, err
	}

	plan.Addresses = append(plan.Addresses, cfg.Addresses...)
	if plan.BatchSize == 0 {
		plan.BatchSize = cfg.BatchSize
	}
	if plan.Logs == nil && cfg.LogAddress != "" {
		plan.Logs = &sampler.LogFilter{Address: cfg.LogAddress}
	}

	if err := validator.Validate(plan); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidProbes, err)
	}

	cfg.Plan = plan
	return cfg, nil
}

func loadPlan(fsys afero.Fs, path string) (sampler.Plan, error) {
	var plan sampler.Plan
	if path == "" {
		return plan, nil
	}

	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return plan, fmt.Errorf("%w: %w", ErrInvalidProbes, err)
	}

	if err := yaml.Unmarshal(data, &plan); err != nil {
		return plan, fmt.Errorf("%w: %s: %w", ErrInvalidProbes, path, err)
	}

	return plan, nil
}

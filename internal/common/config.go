package common

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Config is the top-level application configuration loaded from TOML
type Config struct {
	Service   ServiceConfig   `toml:"service"`
	Storage   StorageConfig   `toml:"storage"`
	Logging   LoggingConfig   `toml:"logging"`
	Jobs      JobsConfig      `toml:"jobs"`
	LLM       LLMConfig       `toml:"llm"`
	Finetune  FinetuneConfig  `toml:"finetune"`
	Deploy    DeployConfig    `toml:"deploy"`
	Scheduler SchedulerConfig `toml:"scheduler"`
}

type ServiceConfig struct {
	Name        string `toml:"name"`
	Environment string `toml:"environment"`
	Locale      string `toml:"locale"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

type BadgerConfig struct {
	Path           string `toml:"path"`
	InMemory       bool   `toml:"in_memory"`
	ResetOnStartup bool   `toml:"reset_on_startup"`
}

type LoggingConfig struct {
	Level  string   `toml:"level"`
	Output []string `toml:"output"`
}

type JobsConfig struct {
	// MaxConcurrent bounds the number of pipeline jobs executing in parallel.
	MaxConcurrent int `toml:"max_concurrent"`
	// PollInterval is the scheduler tick in seconds when no job finishes.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
}

type LLMConfig struct {
	TimeoutSeconds           int `toml:"timeout_seconds"`
	QuestionGenerationLength int `toml:"question_generation_length"`
}

type FinetuneConfig struct {
	// RemoteRoot is the staging root on every training machine.
	RemoteRoot string `toml:"remote_root"`
	// LocalDir receives downloaded run logs and model tarballs.
	LocalDir string `toml:"local_dir"`
	// DatasetVersionDir holds materialized dataset version files.
	DatasetVersionDir  string `toml:"dataset_version_dir"`
	WatchInterval      int    `toml:"watch_interval_seconds"`
	MaxConnectFailures int    `toml:"max_connect_failures"`
}

type DeployConfig struct {
	RayPort       int `toml:"ray_port"`
	VLLMPort      int `toml:"vllm_port"`
	DashboardPort int `toml:"dashboard_port"`
}

type SchedulerConfig struct {
	Enabled bool `toml:"enabled"`
	// SyncSchedule is a cron expression for cluster status reconciliation.
	SyncSchedule string `toml:"sync_schedule"`
}

var (
	globalConfig *Config
	configMutex  sync.RWMutex
)

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "forge",
			Environment: "development",
			Locale:      "en",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/forge.db",
				InMemory:       false,
				ResetOnStartup: false,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"console", "file"},
		},
		Jobs: JobsConfig{
			MaxConcurrent:       5,
			PollIntervalSeconds: 1,
		},
		LLM: LLMConfig{
			TimeoutSeconds:           300,
			QuestionGenerationLength: 240,
		},
		Finetune: FinetuneConfig{
			RemoteRoot:         "/dataset_finetune",
			LocalDir:           "./data/finetune",
			DatasetVersionDir:  "./data/dataset_versions",
			WatchInterval:      10,
			MaxConnectFailures: 10,
		},
		Deploy: DeployConfig{
			RayPort:       26379,
			VLLMPort:      8000,
			DashboardPort: 8265,
		},
		Scheduler: SchedulerConfig{
			Enabled:      true,
			SyncSchedule: "*/5 * * * *",
		},
	}
}

// LoadConfig reads the first existing candidate path, applies environment
// overrides, and installs the result as the process-wide configuration.
func LoadConfig(paths ...string) (*Config, error) {
	config := DefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		break
	}

	applyEnvironmentOverrides(config)

	configMutex.Lock()
	globalConfig = config
	configMutex.Unlock()

	return config, nil
}

// GetConfig returns the current process-wide configuration
func GetConfig() *Config {
	configMutex.RLock()
	if globalConfig != nil {
		defer configMutex.RUnlock()
		return globalConfig
	}
	configMutex.RUnlock()

	configMutex.Lock()
	defer configMutex.Unlock()
	if globalConfig == nil {
		globalConfig = DefaultConfig()
	}
	return globalConfig
}

// SetConfig replaces the process-wide configuration, for tests
func SetConfig(config *Config) {
	configMutex.Lock()
	globalConfig = config
	configMutex.Unlock()
}

func applyEnvironmentOverrides(config *Config) {
	if v := os.Getenv("FORGE_BADGER_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("FORGE_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("FORGE_LOCALE"); v != "" {
		config.Service.Locale = v
	}
	if v := os.Getenv("FORGE_MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.Jobs.MaxConcurrent = n
		}
	}
	if v := os.Getenv("DATASET_VERSION_DIR"); v != "" {
		config.Finetune.DatasetVersionDir = v
	}
	if v := os.Getenv("FINETUNE_FILE_LOCAL_DIR"); v != "" {
		config.Finetune.LocalDir = v
	}
	if v := os.Getenv("DEBUG"); v != "" {
		if debug, err := strconv.ParseBool(v); err == nil && debug {
			config.Logging.Level = "debug"
		}
	}
}

// CandidateConfigPaths returns the default locations probed at startup
func CandidateConfigPaths() []string {
	paths := []string{"forge.toml", "config.toml"}
	if execPath, err := os.Executable(); err == nil {
		execDir := filepath.Dir(execPath)
		paths = append(paths, filepath.Join(execDir, "forge.toml"))
	}
	return paths
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel string        `json:"log_level" yaml:"log_level"`
	Queue    QueueConfig   `json:"queue" yaml:"queue"`
	Stream   StreamConfig  `json:"stream" yaml:"stream"`
	Scan     ScanConfig    `json:"scan" yaml:"scan"`
	Rules    RulesConfig   `json:"rules" yaml:"rules"`
	Storage  StorageConfig `json:"storage" yaml:"storage"`
	API      APIConfig     `json:"api" yaml:"api"`
}

type QueueConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	Topic        string        `json:"topic" yaml:"topic"`
	GroupID      string        `json:"group_id" yaml:"group_id"`
	Partitions   int           `json:"partitions" yaml:"partitions"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	MaxMessages  int           `json:"max_messages" yaml:"max_messages"`
	WaitTime     time.Duration `json:"wait_time" yaml:"wait_time"`
}

type StreamConfig struct {
	Enabled         bool          `json:"enabled" yaml:"enabled"`
	PollInterval    time.Duration `json:"poll_interval" yaml:"poll_interval"`
	BatchLimit      int           `json:"batch_limit" yaml:"batch_limit"`
	DiscoverBackoff time.Duration `json:"discover_backoff" yaml:"discover_backoff"`
}

type ScanConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	PollInterval time.Duration `json:"poll_interval" yaml:"poll_interval"`
	DedupWindow  time.Duration `json:"dedup_window" yaml:"dedup_window"`
}

type RulesConfig struct {
	Enabled        bool         `json:"enabled" yaml:"enabled"`
	Configurations []RuleConfig `json:"configurations" yaml:"configurations"`
}

// RuleConfig describes one classification rule. Type is one of
// "daily-spend", "mid-spend" or "custom-rule"; unset thresholds leave the
// corresponding bound unchecked.
type RuleConfig struct {
	Type            string   `json:"type" yaml:"type"`
	CohortType      string   `json:"cohort_type" yaml:"cohort_type"`
	MinThreshold    *float64 `json:"min_threshold" yaml:"min_threshold"`
	MaxThreshold    *float64 `json:"max_threshold" yaml:"max_threshold"`
	RequirePaidUser *bool    `json:"require_paid_user" yaml:"require_paid_user"`
}

type StorageConfig struct {
	Driver     string `json:"driver" yaml:"driver"`
	DSN        string `json:"dsn" yaml:"dsn"`
	ShardCount int    `json:"shard_count" yaml:"shard_count"`
}

type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr"`
}

func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Queue: QueueConfig{
			Enabled:      false,
			Topic:        "customer-data",
			GroupID:      "cohortd",
			Partitions:   1,
			PollInterval: 10 * time.Second,
			MaxMessages:  10,
			WaitTime:     5 * time.Second,
		},
		Stream: StreamConfig{
			Enabled:         true,
			PollInterval:    5 * time.Second,
			BatchLimit:      100,
			DiscoverBackoff: 10 * time.Second,
		},
		Scan: ScanConfig{
			Enabled:      false,
			PollInterval: 5 * time.Second,
			DedupWindow:  60 * time.Second,
		},
		Rules: RulesConfig{Enabled: false},
		Storage: StorageConfig{
			Driver:     "sqlite",
			DSN:        "file:cohortd.db?_pragma=busy_timeout(5000)",
			ShardCount: 4,
		},
		API: APIConfig{Enabled: true, Addr: ":8080"},
	}
}

func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()

	trimmed := strings.TrimSpace(string(content))
	if len(trimmed) == 0 {
		return nil, errors.New("config file is empty")
	}
	var decodeErr error
	if looksLikeJSON(trimmed) {
		decodeErr = json.Unmarshal([]byte(trimmed), cfg)
	} else {
		decodeErr = yaml.Unmarshal([]byte(trimmed), cfg)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func looksLikeJSON(s string) bool {
	for _, ch := range s {
		if ch == '{' || ch == '[' {
			return true
		}
		if ch > ' ' {
			return false
		}
	}
	return false
}

func applyDefaults(cfg *Config) {
	if cfg.Queue.PollInterval <= 0 {
		cfg.Queue.PollInterval = 10 * time.Second
	}
	if cfg.Queue.MaxMessages <= 0 {
		cfg.Queue.MaxMessages = 10
	}
	if cfg.Queue.WaitTime <= 0 {
		cfg.Queue.WaitTime = 5 * time.Second
	}
	if cfg.Queue.Partitions <= 0 {
		cfg.Queue.Partitions = 1
	}
	if cfg.Stream.PollInterval <= 0 {
		cfg.Stream.PollInterval = 5 * time.Second
	}
	if cfg.Stream.BatchLimit <= 0 {
		cfg.Stream.BatchLimit = 100
	}
	if cfg.Stream.DiscoverBackoff <= 0 {
		cfg.Stream.DiscoverBackoff = 10 * time.Second
	}
	if cfg.Scan.PollInterval <= 0 {
		cfg.Scan.PollInterval = 5 * time.Second
	}
	if cfg.Scan.DedupWindow <= 0 {
		cfg.Scan.DedupWindow = 60 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.ShardCount <= 0 {
		cfg.Storage.ShardCount = 4
	}
}

func Validate(cfg *Config) error {
	if cfg.API.Enabled && cfg.API.Addr == "" {
		return errors.New("api.addr required when api.enabled is true")
	}
	if cfg.Queue.Enabled {
		if len(cfg.Queue.Brokers) == 0 || cfg.Queue.Topic == "" || cfg.Queue.GroupID == "" {
			return errors.New("queue requires brokers, topic, group_id")
		}
	}
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory", "sqlite", "postgres", "postgresql":
	default:
		return fmt.Errorf("unsupported storage driver: %s", cfg.Storage.Driver)
	}
	if cfg.Rules.Enabled {
		for _, rc := range cfg.Rules.Configurations {
			if strings.TrimSpace(rc.Type) == "" {
				return errors.New("rules.configurations entries require a type")
			}
		}
	}
	return nil
}

type Manager struct {
	path string
	cfg  atomic.Value
}

func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.cfg.Store(cfg)
	return m, nil
}

// NewStaticManager wraps an in-memory config, used when no file is given.
func NewStaticManager(cfg *Config) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	applyDefaults(cfg)
	m := &Manager{}
	m.cfg.Store(cfg)
	return m
}

func (m *Manager) Get() *Config {
	if v := m.cfg.Load(); v != nil {
		return v.(*Config)
	}
	return DefaultConfig()
}

func (m *Manager) Path() string {
	return m.path
}

func ResolvePath(path string) string {
	if path == "" {
		return path
	}
	if filepath.IsAbs(path) {
		return path
	}
	cwd, err := os.Getwd()
	if err != nil {
		return path
	}
	return filepath.Join(cwd, path)
}

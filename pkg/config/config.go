// Package config loads and validates the wayfarer.yaml configuration:
// defaults merged with the user file, environment expansion, and validation.
package config

import (
	"fmt"
	"time"
)

// Store type values for StoreConfig.Type.
const (
	StoreTypeInMemory = "inmemory"
	StoreTypeRemoteKV = "remotekv"
	StoreTypeRedis    = "redis" // alias for remotekv
)

// Config is the full application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Store        StoreConfig        `yaml:"store"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Queue        QueueConfig        `yaml:"queue"`
	Revisions    RevisionsConfig    `yaml:"revisions"`
	TaskSweep    TaskSweepConfig    `yaml:"task_sweep"`
	Cleanup      CleanupConfig      `yaml:"cleanup"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LLMConfig holds model and gateway settings.
type LLMConfig struct {
	// MockMode serves canned responses and makes no network calls.
	MockMode bool `yaml:"mock_mode"`
	// MockDir is an optional directory of canned mock responses.
	MockDir     string      `yaml:"mock_dir"`
	Model       string      `yaml:"model"`
	Temperature float64     `yaml:"temperature"`
	MaxTokens   int         `yaml:"max_tokens"`
	APIKeyEnv   string      `yaml:"api_key_env"`
	Retry       RetryConfig `yaml:"retry"`
}

// RetryConfig tunes gateway retries.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
	BaseMs      int `yaml:"base_ms"`
}

// Base returns the initial backoff interval.
func (r RetryConfig) Base() time.Duration {
	return time.Duration(r.BaseMs) * time.Millisecond
}

// StoreConfig selects and tunes the persistence backend.
type StoreConfig struct {
	Type  string      `yaml:"type"` // "inmemory" or "remotekv"
	Redis RedisConfig `yaml:"redis"`
}

// RedisConfig holds connection settings for the remote KV store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// OrchestratorConfig tunes the generation pipeline.
type OrchestratorConfig struct {
	PhaseTimeoutSec int `yaml:"phase_timeout_sec"`
}

// PhaseTimeout returns the per-phase agent deadline.
func (o OrchestratorConfig) PhaseTimeout() time.Duration {
	return time.Duration(o.PhaseTimeoutSec) * time.Second
}

// QueueConfig tunes the durable task worker pool.
type QueueConfig struct {
	WorkerCount        int `yaml:"worker_count"`
	MaxConcurrentTasks int `yaml:"max_concurrent_tasks"`
	PollIntervalMs     int `yaml:"poll_interval_ms"`
	PollJitterMs       int `yaml:"poll_jitter_ms"`
	TaskTimeoutSec     int `yaml:"task_timeout_sec"`
	MaxAttempts        int `yaml:"max_attempts"`
	RetryBaseMs        int `yaml:"retry_base_ms"`
}

// TaskSweepConfig tunes zombie task recovery.
type TaskSweepConfig struct {
	IntervalSec      int `yaml:"interval_sec"`
	StalenessMinutes int `yaml:"staleness_minutes"`
	HardLimitMinutes int `yaml:"hard_limit_minutes"`
}

// RevisionsConfig bounds revision retention.
type RevisionsConfig struct {
	Retain int `yaml:"retain"`
}

// CleanupConfig tunes the background retention service.
type CleanupConfig struct {
	IntervalMinutes int `yaml:"interval_minutes"`
	TaskTTLHours    int `yaml:"task_ttl_hours"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Addr: ":8080"},
		LLM: LLMConfig{
			Model:       "gpt-4o-mini",
			Temperature: 0.7,
			MaxTokens:   4096,
			APIKeyEnv:   "OPENAI_API_KEY",
			Retry:       RetryConfig{MaxAttempts: 3, BaseMs: 500},
		},
		Store: StoreConfig{
			Type:  StoreTypeInMemory,
			Redis: RedisConfig{Addr: "localhost:6379"},
		},
		Orchestrator: OrchestratorConfig{PhaseTimeoutSec: 120},
		Queue: QueueConfig{
			WorkerCount:        4,
			MaxConcurrentTasks: 4,
			PollIntervalMs:     500,
			PollJitterMs:       250,
			TaskTimeoutSec:     300,
			MaxAttempts:        3,
			RetryBaseMs:        2000,
		},
		Revisions: RevisionsConfig{Retain: 50},
		TaskSweep: TaskSweepConfig{
			IntervalSec:      30,
			StalenessMinutes: 10,
			HardLimitMinutes: 30,
		},
		Cleanup: CleanupConfig{
			IntervalMinutes: 60,
			TaskTTLHours:    24,
		},
	}
}

// validate checks the merged configuration.
func validate(cfg *Config) error {
	switch cfg.Store.Type {
	case StoreTypeInMemory:
	case StoreTypeRemoteKV, StoreTypeRedis:
		if cfg.Store.Redis.Addr == "" {
			return fmt.Errorf("store.redis.addr is required for store.type %q", cfg.Store.Type)
		}
	default:
		return fmt.Errorf("store.type must be %q or %q, got %q",
			StoreTypeInMemory, StoreTypeRemoteKV, cfg.Store.Type)
	}

	if !cfg.LLM.MockMode && cfg.LLM.Model == "" {
		return fmt.Errorf("llm.model is required when llm.mock_mode is false")
	}
	if cfg.LLM.Retry.MaxAttempts < 1 {
		return fmt.Errorf("llm.retry.max_attempts must be at least 1")
	}
	if cfg.Queue.WorkerCount < 1 {
		return fmt.Errorf("queue.worker_count must be at least 1")
	}
	if cfg.Orchestrator.PhaseTimeoutSec < 1 {
		return fmt.Errorf("orchestrator.phase_timeout_sec must be at least 1")
	}
	if cfg.Revisions.Retain < 1 {
		return fmt.Errorf("revisions.retain must be at least 1")
	}
	return nil
}

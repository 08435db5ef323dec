package config

import (
	"encoding/json"
	"errors"
	"os"
	"strings"
	"time"
)

type Config struct {
	Gateway   GatewayConfig   `json:"gateway"`
	Storage   StorageConfig   `json:"storage"`
	LLM       LLMConfig       `json:"llm"`
	Agent     AgentConfig     `json:"agent"`
	Scheduler SchedulerConfig `json:"scheduler"`
}

type GatewayConfig struct {
	HTTPAddr          string  `json:"http_addr"`
	AuthToken         string  `json:"auth_token"`
	TrustedHost       bool    `json:"trusted_host"`
	RateLimitPerSec   float64 `json:"rate_limit_per_sec"`
	RateLimitBurst    int     `json:"rate_limit_burst"`
	ShutdownGraceSecs int     `json:"shutdown_grace_secs"`
}

type StorageConfig struct {
	PostgresDSN     string `json:"postgres_dsn"`
	MaxOpenConns    int    `json:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns"`
	ConnMaxLifeSecs int    `json:"conn_max_life_secs"`
	WorkspaceDir    string `json:"workspace_dir"`
}

type LLMConfig struct {
	Provider        string `json:"provider"`
	APIKey          string `json:"api_key"`
	APIBase         string `json:"api_base"`
	Model           string `json:"model"`
	TimeoutMS       int    `json:"timeout_ms"`
	MaxOutputTokens int    `json:"max_output_tokens"`
}

// AgentConfig carries the run-level resource budget. Zero values fall back
// to the product defaults (5 steps, 30s wall clock, 3 reasoning calls,
// 5 tool calls, 60s cooldown).
type AgentConfig struct {
	MaxSteps         int `json:"max_steps"`
	RunTimeoutSecs   int `json:"run_timeout_secs"`
	MaxLLMCalls      int `json:"max_llm_calls"`
	MaxToolCalls     int `json:"max_tool_calls"`
	CooldownSecs     int `json:"cooldown_secs"`
	ApprovalWaitSecs int `json:"approval_wait_secs"`
}

type SchedulerConfig struct {
	Enabled          bool `json:"enabled"`
	PollIntervalSecs int  `json:"poll_interval_secs"`
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	cfg.applyEnv()
	return cfg, cfg.Validate()
}

// applyEnv lets secrets come from the environment (or a .env file loaded by
// main) instead of the config file. Environment wins over the file so a
// deploy can rotate a token without rewriting config.
func (c *Config) applyEnv() {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Storage.PostgresDSN = v
	}
	if v := os.Getenv("BOTWARD_AUTH_TOKEN"); v != "" {
		c.Gateway.AuthToken = v
	}
	if v := os.Getenv("BOTWARD_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	} else if v := os.Getenv("OPENAI_API_KEY"); v != "" && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Gateway.HTTPAddr) == "" {
		return errors.New("gateway.http_addr required")
	}
	if strings.TrimSpace(c.Storage.PostgresDSN) == "" {
		return errors.New("storage.postgres_dsn required")
	}
	if strings.TrimSpace(c.LLM.Provider) != "" {
		if strings.TrimSpace(c.LLM.Model) == "" {
			return errors.New("llm.model required when llm.provider is set")
		}
		p := strings.ToLower(strings.TrimSpace(c.LLM.Provider))
		if (p == "openai" || p == "anthropic") && strings.TrimSpace(c.LLM.APIKey) == "" {
			return errors.New("llm.api_key required for llm.provider " + p)
		}
	}
	if c.Agent.MaxSteps < 0 || c.Agent.RunTimeoutSecs < 0 || c.Agent.MaxLLMCalls < 0 ||
		c.Agent.MaxToolCalls < 0 || c.Agent.CooldownSecs < 0 || c.Agent.ApprovalWaitSecs < 0 {
		return errors.New("agent budget values must be non-negative")
	}
	if c.Scheduler.Enabled && c.Scheduler.PollIntervalSecs < 0 {
		return errors.New("scheduler.poll_interval_secs must be non-negative")
	}
	return nil
}

// RunTimeout returns the wall-clock budget as a duration, applying the
// product default when unset.
func (c AgentConfig) RunTimeout() time.Duration {
	if c.RunTimeoutSecs <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.RunTimeoutSecs) * time.Second
}

func (c AgentConfig) Cooldown() time.Duration {
	if c.CooldownSecs <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.CooldownSecs) * time.Second
}

func (c AgentConfig) ApprovalWait() time.Duration {
	if c.ApprovalWaitSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.ApprovalWaitSecs) * time.Second
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func baseValidConfig() Config {
	return Config{
		Gateway: GatewayConfig{HTTPAddr: ":8080"},
		Storage: StorageConfig{PostgresDSN: "dsn"},
	}
}

func TestValidateMissing(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateOK(t *testing.T) {
	cfg := baseValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestValidateStillRequiresHTTPAddr(t *testing.T) {
	cfg := Config{}
	cfg.Storage.PostgresDSN = "dsn"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing gateway.http_addr")
	}
}

func TestValidateStillRequiresPostgresDSN(t *testing.T) {
	cfg := Config{}
	cfg.Gateway.HTTPAddr = ":8080"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing storage.postgres_dsn")
	}
}

func TestValidateLLMRequiresModel(t *testing.T) {
	cfg := baseValidConfig()
	cfg.LLM.Provider = "openai"
	cfg.LLM.APIKey = "key"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing llm.model")
	}
}

func TestValidateLLMRequiresKey(t *testing.T) {
	cfg := baseValidConfig()
	cfg.LLM.Provider = "anthropic"
	cfg.LLM.Model = "model"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for missing llm.api_key")
	}
}

func TestValidateLLMOptional(t *testing.T) {
	cfg := baseValidConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("llm should be optional, got: %v", err)
	}
}

func TestValidateNegativeBudget(t *testing.T) {
	cfg := baseValidConfig()
	cfg.Agent.MaxSteps = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for negative budget")
	}
}

func TestAgentBudgetDefaults(t *testing.T) {
	var a AgentConfig
	if got := a.RunTimeout(); got != 30*time.Second {
		t.Fatalf("run timeout default: %v", got)
	}
	if got := a.Cooldown(); got != 60*time.Second {
		t.Fatalf("cooldown default: %v", got)
	}
	if got := a.ApprovalWait(); got != 5*time.Minute {
		t.Fatalf("approval wait default: %v", got)
	}
}

func TestAgentBudgetConfigured(t *testing.T) {
	a := AgentConfig{RunTimeoutSecs: 10, CooldownSecs: 5, ApprovalWaitSecs: 20}
	if got := a.RunTimeout(); got != 10*time.Second {
		t.Fatalf("run timeout: %v", got)
	}
	if got := a.Cooldown(); got != 5*time.Second {
		t.Fatalf("cooldown: %v", got)
	}
	if got := a.ApprovalWait(); got != 20*time.Second {
		t.Fatalf("approval wait: %v", got)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	data := `{"gateway":{"http_addr":":8080","trusted_host":true},"storage":{"postgres_dsn":"dsn"},"agent":{"max_steps":3}}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Gateway.TrustedHost {
		t.Fatalf("expected trusted_host")
	}
	if cfg.Agent.MaxSteps != 3 {
		t.Fatalf("max_steps: %d", cfg.Agent.MaxSteps)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoadConfigBadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatalf("expected error")
	}
}

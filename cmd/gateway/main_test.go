package main

import (
	"net/http"
	"os"
	"testing"
	"time"

	"botward/internal/config"
	"botward/internal/db"
	"botward/internal/llm"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	file := t.TempDir() + "/cfg.json"
	if err := os.WriteFile(file, []byte(data), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return file
}

func TestRunRequiresConfig(t *testing.T) {
	if err := run([]string{}, func(srv *http.Server) error { return nil }); err == nil {
		t.Fatal("expected error without -config")
	}
}

func TestRunWithConfig(t *testing.T) {
	file := writeConfig(t, `{"gateway":{"http_addr":":9090"},"storage":{"postgres_dsn":"postgres://example"}}`)
	err := run([]string{"-config", file}, func(srv *http.Server) error { return nil })
	if err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestRunAppliesPoolConfig(t *testing.T) {
	file := writeConfig(t, `{"gateway":{"http_addr":":9091"},"storage":{"postgres_dsn":"postgres://example","max_open_conns":7,"max_idle_conns":2,"conn_max_life_secs":60}}`)

	oldNewDB := newDB
	defer func() { newDB = oldNewDB }()
	var captured db.PoolConfig
	newDB = func(dsn string, pool db.PoolConfig) (*db.DB, error) {
		captured = pool
		return oldNewDB(dsn, pool)
	}

	if err := run([]string{"-config", file}, func(srv *http.Server) error { return nil }); err != nil {
		t.Fatalf("err: %v", err)
	}
	if captured.MaxOpenConns != 7 || captured.MaxIdleConns != 2 || captured.ConnMaxLifetime != time.Minute {
		t.Fatalf("pool: %+v", captured)
	}
}

func TestRunWiresCompleter(t *testing.T) {
	file := writeConfig(t, `{"gateway":{"http_addr":":9092"},"storage":{"postgres_dsn":"postgres://example"},"llm":{"provider":"openai","api_key":"k","model":"gpt"}}`)

	oldNew := newCompleter
	defer func() { newCompleter = oldNew }()
	var captured llm.Options
	newCompleter = func(opts llm.Options) (llm.Completer, error) {
		captured = opts
		return oldNew(opts)
	}

	if err := run([]string{"-config", file}, func(srv *http.Server) error { return nil }); err != nil {
		t.Fatalf("err: %v", err)
	}
	if captured.Provider != "openai" || captured.Model != "gpt" {
		t.Fatalf("opts: %+v", captured)
	}
}

func TestRunAnthropicProvider(t *testing.T) {
	// Any provider Validate accepts has to construct at startup.
	file := writeConfig(t, `{"gateway":{"http_addr":":9094"},"storage":{"postgres_dsn":"postgres://example"},"llm":{"provider":"anthropic","api_key":"k","model":"claude"}}`)
	if err := run([]string{"-config", file}, func(srv *http.Server) error { return nil }); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestRunUnknownLLMProvider(t *testing.T) {
	file := writeConfig(t, `{"gateway":{"http_addr":":9093"},"storage":{"postgres_dsn":"postgres://example"},"llm":{"provider":"nope","model":"m"}}`)
	if err := run([]string{"-config", file}, func(srv *http.Server) error { return nil }); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}

func TestBudgetFromConfig(t *testing.T) {
	b := budget(config.AgentConfig{MaxSteps: 9, RunTimeoutSecs: 45, CooldownSecs: 10})
	if b.MaxSteps != 9 || b.RunTimeout != 45*time.Second || b.Cooldown != 10*time.Second {
		t.Fatalf("budget: %+v", b)
	}
	// Unset fields keep the product defaults.
	def := budget(config.AgentConfig{})
	if def.MaxSteps != 5 || def.RunTimeout != 30*time.Second {
		t.Fatalf("defaults: %+v", def)
	}
}

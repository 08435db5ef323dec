package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"botward/internal/agent"
	"botward/internal/approval"
	"botward/internal/audit"
	"botward/internal/config"
	"botward/internal/db"
	"botward/internal/llm"
	"botward/internal/logging"
	"botward/internal/permission"
	"botward/internal/web"
)

func main() {
	logging.Init("gateway", nil)
	_ = godotenv.Load()
	if err := run(os.Args[1:], serveHTTP); err != nil {
		fatalf("gateway: %v", err)
	}
}

var serveHTTP = func(srv *http.Server) error { return srv.ListenAndServe() }
var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var newDB = db.NewDBWithPool
var newCompleter = llm.New

func run(args []string, serve func(*http.Server) error) error {
	fs := flag.NewFlagSet("gateway", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return errors.New("-config required")
	}
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	database, err := newDB(cfg.Storage.PostgresDSN, poolConfig(cfg.Storage))
	if err != nil {
		return err
	}
	defer database.Close()

	recorder := audit.NewWithDB(database)
	resolver := permission.NewResolver(database, permission.Env{TrustedHost: cfg.Gateway.TrustedHost})
	gate := approval.NewGate(resolver, database, recorder)

	var completer llm.Completer
	if cfg.LLM.Provider != "" {
		completer, err = newCompleter(llm.Options{
			Provider:  cfg.LLM.Provider,
			APIBase:   cfg.LLM.APIBase,
			APIKey:    cfg.LLM.APIKey,
			Model:     cfg.LLM.Model,
			TimeoutMS: cfg.LLM.TimeoutMS,
		})
		if err != nil {
			return err
		}
	}

	workDir := cfg.Storage.WorkspaceDir
	if workDir == "" {
		workDir = "./workspace"
	}
	tools := agent.NewRegistry(agent.Builtins(workDir, completer)...)
	plans := agent.NewPlanRegistry(0)

	executor := agent.NewExecutor(database, gate, tools, plans, resolver)
	executor.Completer = completer
	executor.Audit = recorder
	executor.Budget = budget(cfg.Agent)

	srv := web.NewServer(database, resolver, gate)
	srv.Audit = recorder
	srv.Executor = executor
	srv.AuthToken = cfg.Gateway.AuthToken
	if completer != nil {
		planner := agent.NewPlanner(completer, tools, plans, recorder)
		executor.Planner = planner
		srv.Planner = planner
	}
	if cfg.Gateway.RateLimitPerSec > 0 {
		burst := cfg.Gateway.RateLimitBurst
		if burst <= 0 {
			burst = 10
		}
		srv.RateLimiter = web.NewRateLimiter(cfg.Gateway.RateLimitPerSec, burst)
	}

	var wg sync.WaitGroup
	if cfg.Scheduler.Enabled {
		scheduler := web.NewScheduler(database, executor)
		if cfg.Scheduler.PollIntervalSecs > 0 {
			scheduler.PollInterval = time.Duration(cfg.Scheduler.PollIntervalSecs) * time.Second
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
				slog.Error("scheduler stopped", "error", err)
			}
		}()
	}

	mainSrv := &http.Server{Addr: cfg.Gateway.HTTPAddr, Handler: srv.Handler()}
	errCh := make(chan error, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- serve(mainSrv)
	}()

	slog.Info("gateway listening", "addr", cfg.Gateway.HTTPAddr)
	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	grace := 30 * time.Second
	if cfg.Gateway.ShutdownGraceSecs > 0 {
		grace = time.Duration(cfg.Gateway.ShutdownGraceSecs) * time.Second
	}
	forceExit := time.AfterFunc(grace+5*time.Second, func() { os.Exit(1) })
	defer forceExit.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	_ = mainSrv.Shutdown(shutdownCtx)
	wg.Wait()
	select {
	case err := <-errCh:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	default:
		return nil
	}
}

func poolConfig(s config.StorageConfig) db.PoolConfig {
	pool := db.DefaultPoolConfig()
	if s.MaxOpenConns > 0 {
		pool.MaxOpenConns = s.MaxOpenConns
	}
	if s.MaxIdleConns > 0 {
		pool.MaxIdleConns = s.MaxIdleConns
	}
	if s.ConnMaxLifeSecs > 0 {
		pool.ConnMaxLifetime = time.Duration(s.ConnMaxLifeSecs) * time.Second
	}
	return pool
}

func budget(a config.AgentConfig) agent.Budget {
	b := agent.DefaultBudget()
	if a.MaxSteps > 0 {
		b.MaxSteps = a.MaxSteps
	}
	if a.RunTimeoutSecs > 0 {
		b.RunTimeout = a.RunTimeout()
	}
	if a.MaxLLMCalls > 0 {
		b.MaxLLMCalls = a.MaxLLMCalls
	}
	if a.MaxToolCalls > 0 {
		b.MaxToolCalls = a.MaxToolCalls
	}
	if a.CooldownSecs > 0 {
		b.Cooldown = a.Cooldown()
	}
	if a.ApprovalWaitSecs > 0 {
		b.ApprovalWait = a.ApprovalWait()
	}
	return b
}

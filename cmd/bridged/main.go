// Command bridged runs the orchestration core as a single long-lived
// process: it recovers from a previous crash, then drives a pool of
// workers that repeatedly pick up the oldest ToDo root task and execute it
// to completion, following the teacher's cmd/oasis poll-loop shape.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	bridge "github.com/StarfleetAI/bridge-common"
	"github.com/StarfleetAI/bridge-common/bridge/chat"
	"github.com/StarfleetAI/bridge-common/bridge/executor"
	"github.com/StarfleetAI/bridge-common/bridge/startup"
	"github.com/StarfleetAI/bridge-common/bridge/tools/webbrowse"
	"github.com/StarfleetAI/bridge-common/internal/config"
	"github.com/StarfleetAI/bridge-common/internal/llm"
	"github.com/StarfleetAI/bridge-common/internal/sandbox"
	"github.com/StarfleetAI/bridge-common/repo"
	"github.com/StarfleetAI/bridge-common/repo/postgres"
	"github.com/StarfleetAI/bridge-common/repo/sqlite"
)

// pollBackoff is how long an idle worker waits after finding no root task
// before asking again.
const pollBackoff = 2 * time.Second

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	if err := run(logger); err != nil {
		logger.Error("bridged: fatal", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg, err := config.Load(os.Getenv("BRIDGE_CONFIG"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tenantID, err := tenantIDFromEnv()
	if err != nil {
		return err
	}

	backend, err := openRepo(cfg)
	if err != nil {
		return fmt.Errorf("open repo: %w", err)
	}

	sandboxRunner, err := sandbox.NewRunner(logger)
	if err != nil {
		return fmt.Errorf("start sandbox runner: %w", err)
	}

	workdirRoot := os.Getenv("BRIDGE_WORKDIR_ROOT")
	if workdirRoot == "" {
		workdirRoot = "bridge-workdir"
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := startup.Recover(ctx, backend); err != nil {
		return fmt.Errorf("startup recovery: %w", err)
	}
	logger.Info("bridged: startup recovery complete")

	settings, err := backend.Settings().Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	concurrency := settings.Tasks.ExecutionConcurrency
	if concurrency < 1 {
		concurrency = 1
	}

	deps := executor.Deps{
		Repo:             backend,
		Emitter:          &logEmitter{logger: logger},
		NewLLM:           newChatLLM,
		Sandbox:          sandboxRunner,
		WorkdirRoot:      workdirRoot,
		PythonImage:      cfg.Sandbox.PythonImage,
		BrowserImage:     cfg.Sandbox.ChromedriverImage,
		ChromedriverPort: cfg.Sandbox.ChromedriverPort,
		NewBrowserLLM:    newBrowserLLM,
	}

	logger.Info("bridged: running", "tenant_id", tenantID, "concurrency", concurrency)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			executionLoop(ctx, logger, workerID, deps, tenantID)
		}(i)
	}
	wg.Wait()

	return nil
}

// executionLoop repeatedly executes the oldest ToDo root task. An empty
// poll backs off for pollBackoff before asking again; a found task is
// followed immediately by another attempt, so a backlog drains without
// waiting out the backoff between tasks.
func executionLoop(ctx context.Context, logger *slog.Logger, workerID int, deps executor.Deps, tenantID uuid.UUID) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		err := executor.ExecuteRootTask(ctx, deps, tenantID)
		switch {
		case err == nil:
			continue
		case isNoRootTasks(err):
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollBackoff):
			}
		default:
			logger.Error("bridged: execute root task", "worker", workerID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollBackoff):
			}
		}
	}
}

func isNoRootTasks(err error) bool {
	_, ok := err.(*bridge.ErrNoRootTasks)
	return ok
}

// newChatLLM is executor.LLMFactory: internal/llm.Client satisfies
// chat.LLMClient's StreamComplete method.
func newChatLLM(model *bridge.Model, apiKey string) chat.LLMClient {
	return llm.NewForModel(model, apiKey)
}

// newBrowserLLM is webbrowse.LLMFactory.
func newBrowserLLM(model *bridge.Model, apiKey string) webbrowse.LLMClient {
	return llm.NewForModel(model, apiKey)
}

// tenantIDFromEnv reads the single tenant this process serves. Multi-tenant
// isolation beyond the tenant-id tag every row already carries is out of
// scope, so one process serves exactly one tenant.
func tenantIDFromEnv() (uuid.UUID, error) {
	raw := os.Getenv("BRIDGE_TENANT_ID")
	if raw == "" {
		return uuid.UUID{}, fmt.Errorf("BRIDGE_TENANT_ID is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, fmt.Errorf("parse BRIDGE_TENANT_ID: %w", err)
	}
	return id, nil
}

// openRepo picks the backend by DATABASE_URL's scheme: a postgres:// or
// postgresql:// DSN opens the pooled pgx backend, anything else is treated
// as a sqlite file path.
func openRepo(cfg config.Config) (repo.Repo, error) {
	url := cfg.Database.URL
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		poolCfg, err := pgxpool.ParseConfig(url)
		if err != nil {
			return nil, fmt.Errorf("parse database url: %w", err)
		}
		poolCfg.MaxConns = int32(cfg.Database.PoolSize)
		pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		return postgres.New(pool), nil
	}
	return sqlite.New(url)
}

// logEmitter satisfies bridge.EventEmitter by structured-logging every
// event. Client transport (WebSocket / SSE / IPC) is explicitly out of
// this module's scope; this is the default wiring a real transport would
// wrap or replace.
type logEmitter struct {
	logger *slog.Logger
}

func (e *logEmitter) Emit(ctx context.Context, userID uuid.UUID, ev bridge.Event) error {
	e.logger.Info("event", "user_id", userID, "kind", ev.Kind)
	return nil
}

// Package app assembles the components described across spec.md §4
// into one runnable mission: stores, sources, schemas, checkpoints, the
// webhook server, and the action executor, wired into a pipeline
// runner and (if the mission declares one) a cron/interval scheduler.
// Grounded on the teacher's runtime.App (runtime/app.go): the same
// Initialize → load → run → graceful-shutdown shape, generalized from
// "one gin server per flow" to "one mission, optionally daemonized".
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/reqon/reqon/internal/checkpoint"
	"github.com/reqon/reqon/internal/credentials"
	"github.com/reqon/reqon/internal/cron"
	"github.com/reqon/reqon/internal/debugctl"
	"github.com/reqon/reqon/internal/evalx"
	"github.com/reqon/reqon/internal/executor"
	"github.com/reqon/reqon/internal/fetch"
	"github.com/reqon/reqon/internal/mission"
	"github.com/reqon/reqon/internal/obslog"
	"github.com/reqon/reqon/internal/pipeline"
	"github.com/reqon/reqon/internal/schema"
	"github.com/reqon/reqon/internal/store"
	"github.com/reqon/reqon/internal/webhook"
)

// Options configures how a Mission's supporting components are built.
type Options struct {
	// DataDir roots file-backed checkpoints. File stores open their
	// StoreDef.Identifier as given; it is not joined to DataDir.
	// Defaults to ".reqon-data".
	DataDir string
	// CredentialsPath is the JSON credentials file spec.md §6
	// describes. Optional: missions whose sources are all AuthNone
	// need none.
	CredentialsPath string
	// WebhookAddr is the embedded webhook server's listen address.
	// Defaults to ":8089".
	WebhookAddr string
	// StoreFactories supplies adapters for StoreDef kinds beyond
	// memory/file (sql, nosql), keyed by mission.StoreKind.
	StoreFactories map[mission.StoreKind]store.Factory
	// Debug, if set, wires a debug controller (C12) into the executor.
	Debug *debugctl.Controller
	// Logger overrides the default JSON-to-stdout slog logger.
	Logger *slog.Logger
	// Mock puts every source's fetch client into dry-run mode
	// (spec.md §6): fetch/call steps synthesise responses from OAS
	// schemas instead of performing real HTTP exchanges.
	Mock bool
}

func (o Options) dataDir() string {
	if o.DataDir == "" {
		return ".reqon-data"
	}
	return o.DataDir
}

func (o Options) webhookAddr() string {
	if o.WebhookAddr == "" {
		return ":8089"
	}
	return o.WebhookAddr
}

// App is one fully wired mission, ready to run once or be scheduled.
type App struct {
	Mission *mission.Mission
	Engine  *executor.Engine
	Runner  *pipeline.Runner
	Log     *obslog.Logger

	checkpoints *checkpoint.FileStore
	webhooks    *webhook.Server
	scheduler   *cron.Scheduler
	stores      map[string]store.Adapter

	sweepStop chan struct{}
}

// Build wires every component a mission needs, in the dependency order
// spec.md §2 lists (stores and sources before the executor; the
// executor before the pipeline runner; the pipeline runner before the
// scheduler). Build does not run name resolution (C13); callers run
// resolve.Mission beforehand so a malformed mission fails before
// anything is opened.
func Build(m *mission.Mission, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	log := obslog.New(logger)

	var creds *credentials.Store
	if opts.CredentialsPath != "" {
		var err error
		creds, err = credentials.Load(opts.CredentialsPath)
		if err != nil {
			return nil, fmt.Errorf("app: %w", err)
		}
	}

	stores := make(map[string]store.Adapter, len(m.Stores))
	for name, def := range m.Stores {
		adapter, err := store.Open(def, opts.StoreFactories)
		if err != nil {
			return nil, fmt.Errorf("app: store %q: %w", name, err)
		}
		stores[name] = adapter
	}

	sources := make(map[string]*fetch.Client, len(m.Sources))
	for name, src := range m.Sources {
		var cred *fetch.Credential
		if creds != nil && src.Credentials != "" {
			var err error
			cred, err = creds.Resolve(src.Credentials)
			if err != nil {
				return nil, fmt.Errorf("app: source %q: %w", name, err)
			}
		}
		client := fetch.New(src, cred)
		client.Mock = opts.Mock
		if creds != nil {
			client.OnTokenRefresh(func(sourceName string, c *fetch.Credential) {
				if err := creds.Persist(sourceName, c); err != nil {
					log.Warn(context.Background(), "credentials.persist.failed",
						map[string]any{"source": sourceName, "error": err.Error()})
				}
			})
		}
		sources[name] = client
	}

	registry := schema.NewRegistry(m.Schemas)
	checkpoints := checkpoint.NewFileStore(opts.dataDir())
	webhooks := webhook.NewServer(opts.webhookAddr())

	eval := evalx.NewEvaluator()

	engine := &executor.Engine{
		Mission:     m,
		Eval:        eval,
		Log:         log,
		Checkpoints: checkpoints,
		Webhooks:    webhooks,
		Debug:       opts.Debug,
		Stores:      stores,
		Sources:     sources,
		Schemas:     registry,
	}

	runner := &pipeline.Runner{Mission: m, Actions: engine, Log: log}

	a := &App{
		Mission:     m,
		Engine:      engine,
		Runner:      runner,
		Log:         log,
		checkpoints: checkpoints,
		webhooks:    webhooks,
		stores:      stores,
	}

	if m.Schedule != nil {
		scheduler, err := cron.New(m.Schedule, runner.Run, log)
		if err != nil {
			return nil, fmt.Errorf("app: schedule: %w", err)
		}
		a.scheduler = scheduler
	}

	return a, nil
}

// RunOnce runs the mission's pipeline exactly once, ignoring any
// declared Schedule. Used by the CLI's `run` command and by tests.
func (a *App) RunOnce(ctx context.Context) error {
	if err := a.startWebhooks(); err != nil {
		return err
	}
	defer a.stopWebhooks(context.Background())
	return a.Runner.Run(ctx)
}

// Serve starts the webhook server and (if the mission declares one)
// the cron scheduler, then blocks until ctx is cancelled. Mirrors the
// teacher's App.Start/shutdown pair (runtime/app.go), generalized from
// one HTTP server-per-flow to the mission's own daemon surface:
// webhook listener plus schedule ticker rather than a request router.
func (a *App) Serve(ctx context.Context) error {
	if err := a.startWebhooks(); err != nil {
		return err
	}
	defer a.stopWebhooks(context.Background())

	if a.scheduler != nil {
		a.scheduler.Start(ctx)
		defer a.scheduler.Stop()
	}

	<-ctx.Done()
	return nil
}

func (a *App) startWebhooks() error {
	if err := a.webhooks.Start(); err != nil {
		return fmt.Errorf("app: webhook server: %w", err)
	}
	a.sweepStop = make(chan struct{})
	go a.sweepLoop()
	return nil
}

func (a *App) stopWebhooks(ctx context.Context) {
	if a.sweepStop != nil {
		close(a.sweepStop)
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_ = a.webhooks.Stop(shutdownCtx)
}

// sweepLoop periodically garbage-collects expired webhook
// registrations, per spec.md §3: "expired registrations are
// garbage-collected on a periodic sweep."
func (a *App) sweepLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.sweepStop:
			return
		case now := <-ticker.C:
			a.webhooks.SweepExpired(now)
		}
	}
}

// ResetCheckpoints deletes every recorded checkpoint under the data
// directory (the whole sync/ tree, for every mission, not only this
// one), honoring the CLI full-reset flag spec.md §4.5 describes.
func (a *App) ResetCheckpoints(ctx context.Context) error {
	return a.checkpoints.Reset(ctx)
}

// Close calls Close on every opened store adapter and returns the first
// error. The built-in memory and file adapters hold nothing to release:
// the file adapter already persists on every write.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	var mu sync.Mutex
	for name, adapter := range a.stores {
		if err := adapter.Close(ctx); err != nil {
			mu.Lock()
			if firstErr == nil {
				firstErr = fmt.Errorf("app: close store %q: %w", name, err)
			}
			mu.Unlock()
		}
	}
	return firstErr
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/agentcore/config"
	"github.com/c360studio/agentcore/engine"
	"github.com/c360studio/agentcore/event"
	"github.com/c360studio/agentcore/llm"
	"github.com/c360studio/agentcore/schedule"
	"github.com/c360studio/agentcore/storage"
	"github.com/c360studio/agentcore/workflow"
)

// App wires together the storage backend, the engine, and the scheduler.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	// NATS
	embeddedServer *server.Server
	natsConn       *nats.Conn
	js             jetstream.JetStream

	store     storage.Store
	registry  *workflow.Registry
	engine    *engine.Engine
	scheduler *schedule.Scheduler

	metricsServer *http.Server
	stopPolling   chan struct{}
}

// NewApp creates a new application instance.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		cfg:      cfg,
		logger:   logger,
		registry: workflow.NewRegistry(),
	}, nil
}

// Run starts every component and blocks until a shutdown signal arrives.
func (a *App) Run() error {
	ctx := context.Background()

	if err := a.startNATS(); err != nil {
		return fmt.Errorf("start NATS: %w", err)
	}

	store, err := storage.NewKVStore(ctx, a.js)
	if err != nil {
		a.closeNATS()
		return fmt.Errorf("initialize storage: %w", err)
	}
	a.store = store

	if err := a.buildComponents(); err != nil {
		a.closeNATS()
		return err
	}

	if err := a.registerWorkflows(); err != nil {
		a.closeNATS()
		return err
	}

	if err := a.engine.Initialize(ctx); err != nil {
		a.closeNATS()
		return fmt.Errorf("initialize engine: %w", err)
	}
	if err := a.scheduler.Initialize(ctx); err != nil {
		a.closeNATS()
		return fmt.Errorf("initialize scheduler: %w", err)
	}

	if err := a.engine.Start(ctx); err != nil {
		a.closeNATS()
		return fmt.Errorf("start engine: %w", err)
	}

	a.startMetrics()

	a.logger.Info("Agentcore ready",
		"version", Version,
		"workflows", len(a.registry.Names()),
		"active_timers", a.scheduler.ActiveTimers())

	// Block until shutdown signal
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()
	<-signalCtx.Done()
	a.logger.Info("Received shutdown signal")

	a.Shutdown()
	return nil
}

func (a *App) buildComponents() error {
	tz := time.UTC
	if a.cfg.Scheduler.Timezone != "" {
		loc, err := time.LoadLocation(a.cfg.Scheduler.Timezone)
		if err != nil {
			return fmt.Errorf("load timezone: %w", err)
		}
		tz = loc
	}

	engineOpts := []engine.Option{
		engine.WithLogger(a.logger),
		engine.WithTickInterval(a.cfg.Engine.TickInterval),
	}
	if a.cfg.Engine.StateTemplatePath != "" {
		template, err := os.ReadFile(a.cfg.Engine.StateTemplatePath)
		if err != nil {
			return fmt.Errorf("read state template: %w", err)
		}
		engineOpts = append(engineOpts, engine.WithStateTemplate(string(template)))
	}
	a.engine = engine.New(a.store, a.registry, engineOpts...)

	client := llm.NewClient(llm.Endpoint{
		Provider: a.cfg.Model.Provider,
		URL:      a.cfg.Model.Endpoint,
		Model:    a.cfg.Model.Name,
		APIKey:   a.cfg.Model.APIKey,
	},
		llm.WithLogger(a.logger),
		llm.WithHTTPClient(&http.Client{Timeout: a.cfg.Model.Timeout}),
	)
	interpreter := schedule.NewLLMInterpreter(client, a.logger)

	a.scheduler = schedule.NewScheduler(a.store, interpreter, a.engine,
		schedule.WithLogger(a.logger),
		schedule.WithTimezone(tz),
	)
	return nil
}

// registerWorkflows installs the built-in workflows. Further workflows are
// registered by embedding agentcore as a library.
func (a *App) registerWorkflows() error {
	// Schedule trigger audit: records every fire in the state document so
	// the assistant's recent activity survives restarts.
	err := a.registry.Register(&workflow.Definition{
		Name:         "schedule-trigger-audit",
		Description:  "Appends fired schedule actions to the state document",
		TriggerTypes: []string{event.TypeScheduleTriggered},
		Execute: func(_ context.Context, ev *event.Event, state string, _ event.Sink) (string, error) {
			issueID, _ := ev.Payload["issueId"].(string)
			request, _ := ev.Payload["originalRequestText"].(string)
			line := fmt.Sprintf("\n- [%s] schedule fired for issue %s: %s",
				ev.Timestamp.Format(time.RFC3339), issueID, request)
			return state + line, nil
		},
	})
	if err != nil {
		return fmt.Errorf("register schedule-trigger-audit: %w", err)
	}

	// Input audit: marks the arrival of raw inputs in the state document.
	err = a.registry.Register(&workflow.Definition{
		Name:         "input-audit",
		Description:  "Appends ingested inputs to the state document",
		TriggerTypes: []string{event.TypeInputReceived},
		Execute: func(_ context.Context, ev *event.Event, state string, _ event.Sink) (string, error) {
			inputID, _ := ev.Payload["inputId"].(string)
			source, _ := ev.Payload["source"].(string)
			line := fmt.Sprintf("\n- [%s] input %s received from %s",
				ev.Timestamp.Format(time.RFC3339), inputID, source)
			return state + line, nil
		},
	})
	if err != nil {
		return fmt.Errorf("register input-audit: %w", err)
	}
	return nil
}

func (a *App) startNATS() error {
	if a.cfg.NATS.URL != "" && !a.cfg.NATS.Embedded {
		a.logger.Info("Connecting to NATS", "url", a.cfg.NATS.URL)
		conn, err := nats.Connect(a.cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		a.natsConn = conn
	} else {
		a.logger.Info("Starting embedded NATS server")
		opts := &server.Options{
			Port:      -1, // Random available port
			JetStream: true,
			NoLog:     true,
			NoSigs:    true,
		}

		ns, err := server.NewServer(opts)
		if err != nil {
			return fmt.Errorf("create embedded NATS server: %w", err)
		}

		go ns.Start()

		if !ns.ReadyForConnections(5 * time.Second) {
			ns.Shutdown()
			return fmt.Errorf("embedded NATS server failed to start")
		}

		a.embeddedServer = ns

		conn, err := nats.Connect(ns.ClientURL())
		if err != nil {
			ns.Shutdown()
			return fmt.Errorf("connect to embedded NATS: %w", err)
		}
		a.natsConn = conn
	}

	js, err := jetstream.New(a.natsConn)
	if err != nil {
		return fmt.Errorf("create JetStream context: %w", err)
	}
	a.js = js

	return nil
}

// startMetrics serves /metrics when an address is configured. The active
// timer gauge is refreshed on a slow poll; everything else updates inline.
func (a *App) startMetrics() {
	if a.cfg.Metrics.Addr == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", engine.MetricsHandler())
	a.metricsServer = &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		a.logger.Info("Serving metrics", "addr", a.cfg.Metrics.Addr)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Metrics server failed", "error", err)
		}
	}()

	a.stopPolling = make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				engine.SetSchedulesActive(a.scheduler.ActiveTimers())
			case <-a.stopPolling:
				return
			}
		}
	}()
}

// Shutdown stops components in dependency order: no new timer fires, then no
// more loop ticks, then the transport underneath them.
func (a *App) Shutdown() {
	a.scheduler.Shutdown()
	a.engine.Stop()

	if a.stopPolling != nil {
		close(a.stopPolling)
	}
	if a.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = a.metricsServer.Shutdown(ctx)
		cancel()
	}

	a.closeNATS()
	a.logger.Info("Agentcore shutdown complete")
}

func (a *App) closeNATS() {
	if a.natsConn != nil {
		_ = a.natsConn.Drain()
		a.natsConn.Close()
	}
	if a.embeddedServer != nil {
		a.embeddedServer.Shutdown()
		a.embeddedServer.WaitForShutdown()
	}
}

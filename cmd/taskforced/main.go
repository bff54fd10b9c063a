// Command taskforced is the taskforce server daemon.
// It loads the YAML config, registers the configured agents with the
// orchestrator, builds teams and serves the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/GoCodeAlone/taskforce/agent"
	"github.com/GoCodeAlone/taskforce/comms"
	"github.com/GoCodeAlone/taskforce/config"
	"github.com/GoCodeAlone/taskforce/internal/version"
	"github.com/GoCodeAlone/taskforce/orchestrator"
	"github.com/GoCodeAlone/taskforce/provider"
	"github.com/GoCodeAlone/taskforce/provider/mock"
	"github.com/GoCodeAlone/taskforce/server"
	"github.com/GoCodeAlone/taskforce/server/api"
	"github.com/GoCodeAlone/taskforce/task"
)

var configPath = flag.String("config", "", "path to taskforce config file (defaults are used when empty)")

func main() {
	flag.Parse()

	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}

	level, _ := cfg.SlogLevel()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))

	logger.Info("starting taskforced",
		"version", version.Version,
		"commit", version.Commit,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("taskforced exited", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var archive task.ResultStore
	if path := cfg.HistoryPath(); path != "" {
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create data dir: %w", err)
			}
		}
		store, err := task.NewSQLiteStore(path)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck
		archive = store
		logger.Info("result archive opened", "path", path)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	assigner, err := newAssigner(cfg.Assigner)
	if err != nil {
		return err
	}

	bus := comms.NewInMemoryBus()
	oc := cfg.Orchestrator
	opts := []orchestrator.Option{
		orchestrator.WithMaxConcurrentTasks(oc.MaxConcurrentTasks),
		orchestrator.WithMaxHistory(oc.MaxHistory),
		orchestrator.WithTimeoutEnforcement(oc.EnforceTimeouts),
		orchestrator.WithDefaultTimeout(oc.DefaultTimeout),
		orchestrator.WithAssignTimeout(oc.AssignTimeout),
		orchestrator.WithLogger(logger),
		orchestrator.WithBus(bus),
		orchestrator.WithMetrics(orchestrator.MustNewMetrics(reg)),
	}
	if archive != nil {
		opts = append(opts, orchestrator.WithArchive(archive))
	}
	if assigner != nil {
		opts = append(opts, orchestrator.WithAssigner(assigner))
		logger.Info("ai assigner enabled", "provider", cfg.Assigner.Provider)
	}
	orch := orchestrator.New(opts...)

	agents := registerAgents(ctx, orch, cfg.Agents, logger)

	teams, err := buildTeams(cfg.Teams, agents, bus, assigner, logger)
	if err != nil {
		return err
	}

	srv := server.New(*cfg, version.Version, logger)
	srv.SetScheduler(orch)
	srv.SetTeams(teams)
	srv.SetBus(bus)
	srv.SetMetricsGatherer(reg)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	fmt.Printf("Taskforce server running on %s\n", cfg.Server.Addr)
	fmt.Printf("Version: %s (%s)\n", version.Version, version.Commit)

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	fmt.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("server stop error", "err", err)
	}
	if n := teams.CancelMissions(); n > 0 {
		logger.Info("cancelled running missions", "count", n)
	}
	if err := orch.Close(shutdownCtx); err != nil {
		logger.Error("orchestrator close error", "err", err)
	}
	fmt.Println("Shutdown complete")
	return serveErr
}

// registerAgents builds and registers the configured agents. An agent that
// cannot be built or initialized is logged and left out; the daemon keeps
// scheduling onto the rest.
func registerAgents(ctx context.Context, orch *orchestrator.Orchestrator, cfgs []config.AgentConfig, logger *slog.Logger) map[string]agent.Agent {
	agents := make(map[string]agent.Agent, len(cfgs))
	for _, ac := range cfgs {
		a, err := agent.FromConfig(ac)
		if err != nil {
			logger.Error("agent config rejected, skipping", "agent_id", ac.ID, "err", err)
			continue
		}
		if err := orch.RegisterAgent(ctx, a); err != nil {
			logger.Error("agent registration failed, skipping", "agent_id", ac.ID, "err", err)
			continue
		}
		agents[ac.ID] = a
	}
	logger.Info("agents registered", "count", len(agents), "configured", len(cfgs))
	return agents
}

// newAssigner returns nil when no provider is configured.
func newAssigner(cfg config.AssignerConfig) (agent.Assigner, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	var p provider.Provider
	if cfg.Provider == "mock" {
		p = mock.New()
	} else {
		var err error
		p, err = provider.New(cfg.Provider, provider.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   cfg.BaseURL,
			MaxTokens: cfg.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
	}
	return provider.NewChatAssigner(p), nil
}

func buildTeams(cfgs []config.TeamConfig, agents map[string]agent.Agent, bus comms.Bus, assigner agent.Assigner, logger *slog.Logger) (*api.TeamRegistry, error) {
	registry := api.NewTeamRegistry()
	for _, tc := range cfgs {
		name := tc.Name
		if name == "" {
			name = tc.ID
		}
		opts := []agent.TeamOption{
			agent.WithTeamID(tc.ID),
			agent.WithTeamBus(bus),
			agent.WithTeamLogger(logger.With("team", tc.ID)),
		}
		if tc.UseAssigner && assigner != nil {
			opts = append(opts, agent.WithTeamAssigner(assigner))
		}
		team := agent.NewTeam(name, opts...)
		if a, ok := agents[tc.Leader]; ok {
			team.SetLeader(a)
		} else if tc.Leader != "" {
			logger.Warn("team leader not registered, skipping", "team", tc.ID, "agent_id", tc.Leader)
		}
		for _, id := range tc.Members {
			if a, ok := agents[id]; ok {
				team.AddMember(a)
			} else {
				logger.Warn("team member not registered, skipping", "team", tc.ID, "agent_id", id)
			}
		}
		if err := registry.Add(team); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

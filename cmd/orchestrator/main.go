// Package main is the orchestrator CLI: a thin cobra command tree that
// wires internal/config, internal/client, internal/innerloop,
// internal/manager, internal/dispatch, internal/collab, and
// internal/metrics together to drive one root conversation turn,
// grounded on the teacher's cmd/nexus buildRootCmd/buildServeCmd shape
// (cmd/nexus/main.go) scaled down to this module's single entry point.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/swordfish444/codex-sub000/internal/client"
	"github.com/swordfish444/codex-sub000/internal/collab"
	"github.com/swordfish444/codex-sub000/internal/config"
	"github.com/swordfish444/codex-sub000/internal/dispatch"
	"github.com/swordfish444/codex-sub000/internal/innerloop"
	"github.com/swordfish444/codex-sub000/internal/manager"
	"github.com/swordfish444/codex-sub000/internal/metrics"
	"github.com/swordfish444/codex-sub000/internal/rollout"
	"github.com/swordfish444/codex-sub000/internal/subagent"
	"github.com/swordfish444/codex-sub000/pkg/convid"
	"github.com/swordfish444/codex-sub000/pkg/revent"
)

var (
	version = "dev"

	configPath  string
	resumePath  string
	metricsAddr string
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "orchestrator",
		Short:        "Drives a root subagent-manager conversation from the CLI",
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "orchestrator.yaml", "path to a YAML config overriding client/manager/collaboration defaults")
	root.PersistentFlags().StringVar(&resumePath, "resume", "", "path to a newline-delimited rollout file to replay into the registry before running")
	root.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090) for the run's duration")

	root.AddCommand(buildRunCmd(), buildStatusCmd())
	return root
}

func buildRunCmd() *cobra.Command {
	var prompt, model string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Spawn a root session, submit a prompt, and print the final message",
		RunE: func(cmd *cobra.Command, args []string) error {
			if prompt == "" {
				return fmt.Errorf("run: --prompt is required")
			}
			return runOnce(cmd.Context(), prompt, model)
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "initial user prompt for the root session")
	cmd.Flags().StringVar(&model, "model", "gpt-5", "model name for the root session's inner conversation")
	return cmd
}

func buildStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Replay a rollout file and print the non-terminal sessions of the reconstructed registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if resumePath == "" {
				return fmt.Errorf("status: --resume is required")
			}
			f, err := os.Open(resumePath)
			if err != nil {
				return err
			}
			defer f.Close()

			registry := subagent.NewRegistry()
			result, err := rollout.Replay(f, registry)
			if err != nil {
				return err
			}
			fmt.Printf("replayed %d session(s), %d watchdog(s) reconstructed\n", result.SessionsReplayed, len(result.Watchdogs))
			for _, meta := range registry.ListActive() {
				fmt.Printf("  agent %d: session=%s status=%s label=%q\n", meta.AgentID, meta.SessionID, meta.Status, meta.Label)
			}
			return nil
		},
	}
}

func runOnce(ctx context.Context, prompt, model string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server failed", "error", err)
			}
		}()
		defer srv.Close()
	}

	httpCl := &http.Client{Timeout: 0}
	apiKey := os.Getenv("OPENAI_API_KEY")
	baseURL := cfg.Client.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	retries := cfg.Client.RequestMaxRetries
	if retries <= 0 {
		retries = 3
	}
	idleTimeout := cfg.Client.StreamIdleTimeout
	if idleTimeout <= 0 {
		idleTimeout = 60 * time.Second
	}
	cl := client.New(client.Config{
		BaseURL:           baseURL,
		APIKey:            apiKey,
		RequestMaxRetries: retries,
		StreamIdleTimeout: idleTimeout,
	}, httpCl)

	rootSessionID := convid.New()

	mgrCfg := manager.Config{
		MaxActiveSubagents:        cfg.Manager.MaxActiveSubagents,
		RootInboxAutosubmit:       cfg.Manager.RootInboxAutosubmit,
		RootAgentUsesUserMessages: cfg.Manager.RootAgentUsesUserMessages,
		DefaultAwaitTimeout:       cfg.Manager.DefaultAwaitTimeout,
	}

	toolSpecs := innerloop.ToolSpecs()
	instructions := "You are the root orchestrator agent. Use the subagent_* and collaboration_* tools to delegate work."

	launcher := innerloop.NewLauncher(cl, model, instructions, toolSpecs, nil)

	lifecycle := make(chan revent.Lifecycle, 256)
	mgr := manager.New(mgrCfg, rootSessionID, launcher, lifecycle)
	mgr.SetMetricsSink(met)
	launcher.Attach(mgr.Registry(), dispatch.New(mgr), collab.New(mgr, collab.Limits{MaxAgents: cfg.Collab.MaxAgents, MaxDepth: cfg.Collab.MaxDepth}))

	if resumePath != "" {
		f, err := os.Open(resumePath)
		if err != nil {
			return fmt.Errorf("open resume file: %w", err)
		}
		result, err := rollout.Replay(f, mgr.Registry())
		f.Close()
		if err != nil {
			return fmt.Errorf("replay rollout: %w", err)
		}
		slog.Info("replayed rollout", "sessions", result.SessionsReplayed, "watchdogs", len(result.Watchdogs))
	}

	pollCtx, cancelPoll := context.WithCancel(ctx)
	defer cancelPoll()
	go met.PollRegistry(pollCtx, mgr.Registry(), 2*time.Second)

	rootDriver := launcher.NewRootDriver(ctx, rootSessionID, model)
	mgr.SetRootDriver(rootDriver)
	defer rootDriver.Close()

	if err := rootDriver.Submit(subagent.Op{Kind: subagent.OpUserInput, Text: prompt}); err != nil {
		return fmt.Errorf("submit prompt: %w", err)
	}

	for {
		select {
		case ev := <-rootDriver.Events():
			switch ev.Kind {
			case subagent.InnerTaskComplete:
				fmt.Println(ev.LastAgentMessage)
				return nil
			case subagent.InnerStreamError, subagent.InnerError:
				return fmt.Errorf("root turn failed: %s", ev.Message)
			case subagent.InnerAgentReasoningDelta:
				// streamed live; no buffering needed for a one-shot CLI run.
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

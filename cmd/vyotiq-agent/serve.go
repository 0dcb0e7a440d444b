package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vyotiq-ai/vyotiq-agent-sub016/agent"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/config"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/debug"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/discovery"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/gateway"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/health"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/llm"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/policy"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/telemetry"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/trace"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent API server",
	Long: `Start the HTTP/WebSocket server exposing sessions, runs,
confirmations, health, tool discovery, breakpoints, and traces.

Examples:
  vyotiq-agent serve
  vyotiq-agent serve --addr :9000 --config agent.json`,
	RunE: runServe,
}

var (
	serveAddr   string
	serveConfig string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides config)")
	serveCmd.Flags().StringVar(&serveConfig, "config", "vyotiq-agent.json", "path to JSON config file")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(serveConfig)
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Gateway.Addr = serveAddr
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := llm.NewClientFromEnv()
	defer client.Close()

	index := discovery.NewIndex(discovery.Config{
		AlwaysLoaded:     cfg.Discovery.AlwaysLoaded,
		MaxResults:       cfg.Discovery.MaxResults,
		FuzzyMatch:       cfg.Discovery.FuzzyMatch,
		TokenCostPerTool: cfg.Discovery.TokenCostPerTool,
	})
	discovery.RegisterDiscoveryTools(index)

	monitor := health.NewMonitor(healthConfig(cfg.Health))
	tracer := trace.NewTracer()
	breakpoints := debug.NewEvaluator()
	recorder := debug.NewRecorder(1000)
	inspector := debug.NewInspector()

	var engine *policy.Engine
	policySource := policy.DefaultPolicy
	if cfg.PolicyFile != "" {
		data, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			return fmt.Errorf("read policy file: %w", err)
		}
		policySource = string(data)
	}
	engine, err = policy.NewEngine(ctx, policySource)
	if err != nil {
		return err
	}

	orch := agent.NewOrchestrator(agent.Deps{
		Client:      client,
		Discovery:   index,
		Health:      monitor,
		Tracer:      tracer,
		Breakpoints: breakpoints,
		Recorder:    recorder,
		Inspector:   inspector,
		Policy:      engine,
	})
	defer orch.Close()

	srv := gateway.New(gateway.Deps{
		Orchestrator: orch,
		Monitor:      monitor,
		Index:        index,
		Tracer:       tracer,
		Breakpoints:  breakpoints,
		Recorder:     recorder,
		Inspector:    inspector,
	})

	var exporter *telemetry.Exporter
	if cfg.Telemetry.Enabled {
		exporter, err = telemetry.NewExporter(ctx, telemetry.Config{
			Enabled:  true,
			Endpoint: cfg.Telemetry.Endpoint,
		})
		if err != nil {
			return err
		}
		defer exporter.Close(context.Background())
	}

	// Fan lifecycle events out to the websocket hub and the metrics
	// exporter.
	go func() {
		for ev := range orch.Events() {
			srv.Hub().Broadcast(ev)
			if exporter != nil {
				exporter.Observe(ctx, ev)
			}
		}
	}()

	// Periodic stall sweep.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, id := range monitor.CheckForStalls() {
					log.Printf("WARN: session %s stalled", id)
				}
			}
		}
	}()

	// Hot reload of health thresholds.
	if watcher, err := config.Watch(serveConfig, func(next config.Config) {
		monitor.UpdateConfig(healthConfig(next.Health))
		log.Printf("config reloaded from %s", serveConfig)
	}); err == nil {
		defer watcher.Close()
	} else {
		log.Printf("WARN: config watch disabled: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", cfg.Gateway.Addr)
		errCh <- srv.Start(cfg.Gateway.Addr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case sig := <-sigCh:
		log.Printf("received %s, shutting down", sig)
	}

	srv.Shutdown()
	return nil
}

// healthConfig maps the file-level health section onto the monitor's
// config, leaving unset fields to the monitor defaults.
func healthConfig(h config.HealthConfig) health.Config {
	cfg := health.DefaultConfig()
	if h.SlowResponseSeconds > 0 {
		cfg.SlowResponseThreshold = h.SlowResponseThreshold()
	}
	if h.StallTimeoutSeconds > 0 {
		cfg.StallTimeout = h.StallTimeout()
	}
	if h.MaxIssuesPerSession > 0 {
		cfg.MaxIssuesPerSession = h.MaxIssuesPerSession
	}
	w := h.Weights
	if w.IterationHigh > 0 {
		cfg.Weights.IterationHigh = w.IterationHigh
	}
	if w.IterationMid > 0 {
		cfg.Weights.IterationMid = w.IterationMid
	}
	if w.IterationLow > 0 {
		cfg.Weights.IterationLow = w.IterationLow
	}
	if w.TokenHigh > 0 {
		cfg.Weights.TokenHigh = w.TokenHigh
	}
	if w.TokenMid > 0 {
		cfg.Weights.TokenMid = w.TokenMid
	}
	if w.ErrorIssue > 0 {
		cfg.Weights.ErrorIssue = w.ErrorIssue
	}
	if w.WarningIssue > 0 {
		cfg.Weights.WarningIssue = w.WarningIssue
	}
	if w.SlowAverage > 0 {
		cfg.Weights.SlowAverage = w.SlowAverage
	}
	return cfg
}

// Remedyd is a reliability telemetry decision daemon. It validates incoming
// events, classifies anomalies against adaptive baselines, recalls similar
// historical incidents, evaluates healing policies and routes every proposed
// remediation through a safety gateway before anything observable happens.
//
// Events are read as JSON lines from stdin; pipeline results are written as
// JSON lines to stdout. Prometheus metrics are served on the configured
// listen address.
//
// Usage:
//
//	# Start with defaults (advisory mode)
//	remedyd
//
//	# Custom configuration
//	remedyd --config /etc/remedyd/config.yaml
//
//	# Entitle autonomous execution for this deployment
//	remedyd --enable-autonomous-execution
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/remedyd/internal/audit"
	"github.com/fyrsmithlabs/remedyd/internal/classifier"
	"github.com/fyrsmithlabs/remedyd/internal/config"
	"github.com/fyrsmithlabs/remedyd/internal/embeddings"
	"github.com/fyrsmithlabs/remedyd/internal/engine"
	"github.com/fyrsmithlabs/remedyd/internal/event"
	"github.com/fyrsmithlabs/remedyd/internal/gateway"
	"github.com/fyrsmithlabs/remedyd/internal/logging"
	"github.com/fyrsmithlabs/remedyd/internal/memory"
	"github.com/fyrsmithlabs/remedyd/internal/policy"
	"github.com/fyrsmithlabs/remedyd/internal/telemetry"
)

var (
	version = "dev"

	configPath string
	autonomous bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "remedyd",
	Short:   "Reliability telemetry decision and safety daemon",
	Version: version,
	RunE:    run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to YAML configuration file")
	rootCmd.Flags().BoolVar(&autonomous, "enable-autonomous-execution", false,
		"entitle this deployment to execute remediations autonomously")
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		// Configuration load failure is the single fatal startup
		// condition.
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	tel, err := telemetry.New(ctx, cfg.Telemetry)
	if err != nil {
		logger.Warn("telemetry disabled, tracer setup failed", zap.Error(err))
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if shutdownErr := tel.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("telemetry shutdown failed", zap.Error(shutdownErr))
		}
	}()

	svc, cleanup, err := wire(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	var metricsSrv *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
		go func() {
			logger.Info("metrics endpoint listening", zap.String("addr", cfg.Metrics.Listen))
			if serveErr := metricsSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				logger.Error("metrics endpoint failed", zap.Error(serveErr))
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	logger.Info("remedyd started",
		zap.String("mode", cfg.Engine.Mode),
		zap.Bool("autonomous_execution", autonomous),
	)

	return processLoop(ctx, svc, logger)
}

// wire builds the full pipeline from configuration.
func wire(cfg *config.Config, logger *zap.Logger) (engine.Service, func(), error) {
	provider, err := embeddings.NewProvider(cfg.Embeddings)
	if err != nil {
		return nil, nil, fmt.Errorf("building embedding provider: %w", err)
	}

	mem, err := memory.New(cfg.Memory, provider, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building incident memory: %w", err)
	}

	policies, err := policy.New(cfg.Policy, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building policy engine: %w", err)
	}

	registry, err := gateway.DefaultRegistry(logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building tool registry: %w", err)
	}

	exporter, err := audit.NewExporter(cfg.Audit, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building audit exporter: %w", err)
	}
	var trailOpts []audit.TrailOption
	if cfg.Audit.DisableScrubbing {
		trailOpts = append(trailOpts, audit.WithoutScrubbing())
	}
	trail := audit.NewTrail(exporter, logger, trailOpts...)

	gw, err := gateway.New(cfg.Gateway, gateway.Capabilities{
		AutonomousExecution: autonomous,
	}, registry, trail, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("building safety gateway: %w", err)
	}

	svc, err := engine.New(cfg.Engine, engine.Deps{
		Validator:  event.NewValidator(logger),
		Classifier: classifier.New(cfg.Classifier, logger),
		Memory:     mem,
		Policies:   policies,
		Gateway:    gw,
		Impact:     engine.NewRevenueImpactCalculator(),
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("building pipeline: %w", err)
	}

	cleanup := func() {
		if closeErr := svc.Close(); closeErr != nil {
			logger.Warn("pipeline close failed", zap.Error(closeErr))
		}
		if closeErr := trail.Close(); closeErr != nil {
			logger.Warn("audit trail close failed", zap.Error(closeErr))
		}
		if closeErr := mem.Close(); closeErr != nil {
			logger.Warn("memory close failed", zap.Error(closeErr))
		}
	}
	return svc, cleanup, nil
}

// processLoop reads raw events from stdin, one JSON object per line, and
// writes pipeline results to stdout.
func processLoop(ctx context.Context, svc engine.Service, logger *zap.Logger) error {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	enc := json.NewEncoder(os.Stdout)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw event.Raw
		if err := json.Unmarshal(line, &raw); err != nil {
			logger.Warn("skipping malformed input line", zap.Error(err))
			continue
		}

		result, err := svc.ProcessEvent(ctx, raw)
		if err != nil {
			// Validation and rate-limit rejections are reported inline
			// and never stop the loop.
			if encErr := enc.Encode(map[string]string{"status": "rejected", "error": err.Error()}); encErr != nil {
				return encErr
			}
			continue
		}
		if err := enc.Encode(result); err != nil {
			return err
		}
	}
	return scanner.Err()
}

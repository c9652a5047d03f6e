// Command gatewayd is the code-evaluation gateway daemon: it owns the
// process manager and exposes it over the client-facing JSON-RPC
// endpoint, plus Prometheus metrics, health, and an optional thin
// gRPC control-plane for cluster supervisors.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oriys/evalgw/internal/builder"
	"github.com/oriys/evalgw/internal/config"
	"github.com/oriys/evalgw/internal/controlplane"
	"github.com/oriys/evalgw/internal/engine"
	"github.com/oriys/evalgw/internal/logging"
	"github.com/oriys/evalgw/internal/metrics"
	"github.com/oriys/evalgw/internal/observability"
	"github.com/oriys/evalgw/internal/procmanager"
	"github.com/oriys/evalgw/internal/rpc"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "gatewayd",
		Short: "evalgw code-evaluation gateway",
		Long:  "Run the multi-tenant code-evaluation gateway daemon",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file")
	rootCmd.AddCommand(daemonCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func daemonCmd() *cobra.Command {
	var (
		logLevel   string
		listenAddr string
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the gateway daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.DefaultSettings()
			if configFile != "" {
				var err error
				cfg, err = config.LoadFromFile(configFile)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
			}
			config.LoadFromEnv(cfg)

			if cmd.Flags().Changed("log-level") {
				cfg.Daemon.LogLevel = logLevel
			}
			if cmd.Flags().Changed("listen") {
				cfg.Daemon.HTTPAddr = listenAddr
			}

			logging.SetLevelFromString(cfg.Daemon.LogLevel)
			logging.InitStructured(cfg.Observability.LogFormat, cfg.Daemon.LogLevel)

			if err := observability.Init(context.Background(), observability.Config{
				Enabled:     cfg.Observability.TracingEnabled,
				Exporter:    "otlp-http",
				Endpoint:    cfg.Observability.TracingEndpoint,
				ServiceName: "evalgw",
				SampleRate:  cfg.Observability.TracingSampling,
			}); err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.Shutdown(context.Background())

			var m *metrics.Metrics
			if cfg.Observability.MetricsEnabled {
				m = metrics.Init("evalgw")
			}

			builders := builder.NewRegistry(cfg.EnginePath)
			for _, kind := range []engine.Kind{engine.KindPython, engine.KindPython3, engine.KindJavaScript} {
				if !cfg.HasEngine(string(kind)) {
					builders.Unregister(kind)
				}
			}
			reqLog := logging.Default()
			manager := procmanager.New(cfg, builders, m, reqLog)
			defer manager.KillAll()

			rpcServer := rpc.NewServer(manager)

			mux := http.NewServeMux()
			mux.Handle("/rpc", rpcServer)
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte(`{"status":"ok","service":"evalgw"}`))
			})
			if m != nil {
				mux.Handle("/metrics", m.Handler())
			}

			httpServer := &http.Server{
				Addr:    cfg.Daemon.HTTPAddr,
				Handler: observability.HTTPMiddleware(mux),
			}
			go func() {
				logging.Op().Info("evalgw HTTP endpoint started", "addr", cfg.Daemon.HTTPAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logging.Op().Error("evalgw HTTP server error", "error", err)
				}
			}()

			var cp *controlplane.Server
			if cfg.GRPC.Enabled {
				cp = controlplane.NewServer(manager)
				if err := cp.Start(cfg.GRPC.Addr); err != nil {
					return fmt.Errorf("start control-plane: %w", err)
				}
			}

			logging.Op().Info("evalgw gateway started", "engines", cfg.EnabledEngineNames())

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			logging.Op().Info("shutdown signal received")

			if cp != nil {
				cp.Stop()
			}

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			httpServer.Shutdown(ctx)

			return nil
		},
	}

	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level")
	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address for /rpc, /health and /metrics")

	return cmd
}

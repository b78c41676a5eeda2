package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/forgebox/internal/config"
	"github.com/cuemby/forgebox/internal/forgeerr"
	"github.com/cuemby/forgebox/internal/gateway"
	"github.com/cuemby/forgebox/internal/githubapp"
	"github.com/cuemby/forgebox/internal/httpapi"
	"github.com/cuemby/forgebox/internal/provisioner"
	"github.com/cuemby/forgebox/pkg/health"
	"github.com/cuemby/forgebox/pkg/log"
	"github.com/cuemby/forgebox/pkg/metrics"
	"github.com/cuemby/forgebox/pkg/workspacecfg"
	dockerclient "github.com/docker/docker/client"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "forgebox",
	Short:   "forgebox provisions isolated workspaces and gateways commands into them",
	Version: Version,
	RunE:    run,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("forgebox version %s\nCommit: %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	rootCmd.Flags().String("provisioning-mode", "", "Backend to provision workspaces on: local or docker (required)")
	rootCmd.Flags().String("workspace-config-path", "", "Path to a WorkspaceContext config file, JSON or YAML (required)")
	rootCmd.Flags().String("server-mode", "http", "RPC surface to serve: http or nats (required)")
	_ = rootCmd.MarkFlagRequired("provisioning-mode")
	_ = rootCmd.MarkFlagRequired("workspace-config-path")
	_ = rootCmd.MarkFlagRequired("server-mode")

	cobra.OnInitialize(initLogging)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
	metrics.SetVersion(Version)
}

func run(cmd *cobra.Command, _ []string) error {
	provisioningMode, _ := cmd.Flags().GetString("provisioning-mode")
	workspaceConfigPath, _ := cmd.Flags().GetString("workspace-config-path")
	serverMode, _ := cmd.Flags().GetString("server-mode")

	cfg, err := config.Load(provisioningMode, workspaceConfigPath, serverMode)
	if err != nil {
		return err
	}

	wctx, err := workspacecfg.ContextFromFile(cfg.WorkspaceConfigPath)
	if err != nil {
		return err
	}

	var integration githubapp.HostingIntegration
	if !cfg.DisableGitHostingIntegration && cfg.GithubAppID != 0 {
		integration, err = githubapp.New(cfg.GithubAppID, cfg.GithubPrivateKeyB64, cfg.GithubEndpoint)
		if err != nil {
			return err
		}
		log.Info("github app integration enabled")
	} else {
		cfg.DisableGitHostingIntegration = true
		log.Info("github app integration disabled, workspaces will use a neutral git identity")
	}

	monitorCtx, stopMonitors := context.WithCancel(context.Background())
	defer stopMonitors()

	var docker dockerclient.APIClient
	if provisioner.Mode(cfg.ProvisioningMode) == provisioner.ModeDocker {
		opts := []dockerclient.Opt{dockerclient.FromEnv, dockerclient.WithAPIVersionNegotiation()}
		if cfg.DockerHost != "" {
			opts = append(opts, dockerclient.WithHost(cfg.DockerHost))
		}
		docker, err = dockerclient.NewClientWithOpts(opts...)
		if err != nil {
			return forgeerr.Wrap(forgeerr.Backend, err, "could not create docker client")
		}
		metrics.RequireComponent("docker")
		monitorComponent(monitorCtx, "docker", health.NewDockerChecker(docker), 15*time.Second)
	}

	prov, err := provisioner.New(cfg.ProvisioningMode, docker, cfg.DockerBaseImage, integration, cfg.DisableGitHostingIntegration)
	if err != nil {
		return err
	}

	gw := gateway.New(prov, wctx)
	monitorComponent(monitorCtx, "registry", health.NewRegistryChecker(func() int { return len(gw.ListWorkspaces()) }), 15*time.Second)

	switch cfg.ServerMode {
	case "nats":
		return forgeerr.New(forgeerr.Backend, "server-mode \"nats\" is not implemented")
	case "http":
		return serveHTTP(gw, cfg.ListenAddr)
	default:
		return forgeerr.Newf(forgeerr.Validation, "unknown server mode %q", cfg.ServerMode)
	}
}

// monitorComponent runs checker once immediately, then every interval,
// debouncing through a health.Status so a single transient failure doesn't
// flip /ready; only health.DefaultConfig().Retries consecutive failures (or
// the next success) change what's published to metrics.UpdateComponent.
// Ported in spirit from pkg/worker's per-container health monitor loop,
// re-aimed at process-wide components (docker, registry).
func monitorComponent(ctx context.Context, name string, checker health.Checker, interval time.Duration) {
	status := health.NewStatus()
	config := health.DefaultConfig()

	report := func() {
		result := checker.Check(ctx)
		status.Update(result, config)
		metrics.UpdateComponent(name, status.Healthy, result.Message)
	}
	report()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				report()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func serveHTTP(gw *gateway.Gateway, addr string) error {
	api := httpapi.New(gw)

	mux := http.NewServeMux()
	mux.Handle("/", api.Handler())
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(fmt.Sprintf("forgebox listening on %s", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		return forgeerr.Wrap(forgeerr.Backend, err, "http server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

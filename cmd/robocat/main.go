// Command robocat runs the merge-request supervision engine: it serves the
// forge/tracker webhook endpoints, runs a periodic reconciliation sweep over
// every MR it has seen, and drives each through the project -> evaluate ->
// plan -> execute cycle.
//
// Grounded on server/plugin.go's OnActivate wiring (one collaborator built
// per configuration section, in dependency order) generalized from a
// Mattermost plugin's lifecycle hooks to a standalone process's main/serve
// split, with github.com/spf13/cobra supplying the command/flag surface the
// teacher's plugin.json manifest covered in-process.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/networkoptix/robocat/internal/actor"
	"github.com/networkoptix/robocat/internal/compliance"
	"github.com/networkoptix/robocat/internal/config"
	"github.com/networkoptix/robocat/internal/engine"
	"github.com/networkoptix/robocat/internal/forge"
	"github.com/networkoptix/robocat/internal/gitworkspace"
	"github.com/networkoptix/robocat/internal/ingress"
	"github.com/networkoptix/robocat/internal/logging"
	"github.com/networkoptix/robocat/internal/metricsserver"
	"github.com/networkoptix/robocat/internal/rules"
	"github.com/networkoptix/robocat/internal/tracker"
	"github.com/networkoptix/robocat/internal/webhookserver"
)

var (
	logLevel     string
	parallelism  int
	configPath   string
	listenAddr   string
	tickInterval time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "robocat",
		Short: "Robocat supervises merge requests through their review-to-merge lifecycle",
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "log level (DEBUG, INFO, WARN, ERROR)")
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "robocat.yaml", "path to the configuration file")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "run the webhook server and reconciliation loop",
		RunE:  runServe,
	}
	serve.Flags().IntVarP(&parallelism, "parallelism", "p", 0, "max concurrent MR evaluations (0 = use configuration)")
	serve.Flags().StringVar(&listenAddr, "listen", ":8080", "HTTP listen address")
	serve.Flags().DurationVar(&tickInterval, "tick-interval", 5*time.Minute, "periodic reconciliation sweep interval")

	root.AddCommand(serve)
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	log := logging.New(logLevel)

	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if parallelism > 0 {
		cfg.Parallelism = parallelism
	}

	forgeClient, err := forge.New(cfg.ForgeURL, cfg.ForgeToken)
	if err != nil {
		return errors.Wrap(err, "failed to construct forge client")
	}
	trackerClient, err := tracker.New(cfg.Jira.URL, cfg.Jira.Login, cfg.Jira.Password)
	if err != nil {
		return errors.Wrap(err, "failed to construct tracker client")
	}

	var ws *gitworkspace.Workspace
	if cfg.Repo.Path != "" {
		ws, err = gitworkspace.Open(cfg.Repo.Path)
		if err != nil {
			return errors.Wrap(err, "failed to open git workspace")
		}
	}

	checkers := compliance.New(cmd.Context(), cfg.Repo.Path,
		&compliance.ExecOpenSourceChecker{BinaryPath: cfg.Compliance.OpenSourceCheckerCmd},
		&compliance.ExecSubmoduleChecker{BinaryPath: cfg.Compliance.SubmoduleCheckerCmd},
	)
	rulePipeline := rules.Default(checkers)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := engine.New(cfg.SupportedProjects[0], cfg, log, forgeClient, trackerClient, ws, rulePipeline)
	registry := actor.New(ctx, eng, cfg.GetParallelism(), log)

	dedupWindow := time.Duration(cfg.EventDedupWindowSecs) * time.Second
	ing := ingress.New(registry, dedupWindow)

	tracked := newTrackedMRSet()

	whServer := webhookserver.New([]byte(cfg.ForgeToken), ing, log)
	whServer.OnEvent = tracked.add
	metricsSrv := metricsserver.New()

	mux := http.NewServeMux()
	mux.Handle("/webhooks/", metricsSrv.Middleware(whServer))
	mux.Handle("/metrics", metricsSrv)
	mux.Handle("/healthz", metricsSrv)

	httpServer := &http.Server{Addr: listenAddr, Handler: mux}

	go runReconciliationLoop(ctx, ing, tracked, tickInterval, log)

	errCh := make(chan error, 1)
	go func() {
		log.Info("robocat listening", "addr", listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		return errors.Wrap(err, "http server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

// trackedMRSet remembers every MR id Robocat has observed, so the periodic
// reconciliation sweep (SPEC_FULL PART 5's "janitor sweep") has something to
// iterate over without a forge-wide "list open MRs" API.
type trackedMRSet struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func newTrackedMRSet() *trackedMRSet {
	return &trackedMRSet{ids: map[string]struct{}{}}
}

func (t *trackedMRSet) add(mrID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ids[mrID] = struct{}{}
}

func (t *trackedMRSet) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.ids))
	for id := range t.ids {
		out = append(out, id)
	}
	return out
}

// runReconciliationLoop periodically re-ticks every tracked MR, catching any
// state change (approval recorded out-of-band, pipeline finished) that no
// webhook delivery reported, per SPEC_FULL PART 5's timer-tick supplement.
func runReconciliationLoop(ctx context.Context, ing *ingress.Ingress, tracked *trackedMRSet, interval time.Duration, log logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ids := tracked.snapshot()
			log.Debug("reconciliation sweep", "mr_count", len(ids))
			for _, id := range ids {
				ing.Tick(id)
			}
		}
	}
}

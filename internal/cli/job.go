package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/xreposync/internal/metrics"
	"github.com/roach88/xreposync/internal/model"
	"github.com/roach88/xreposync/internal/store"
	"github.com/roach88/xreposync/internal/syncconfig"
	"github.com/roach88/xreposync/internal/syncer"
)

const metricsShutdownTimeout = 5 * time.Second

// job holds the resources of one command run.
type job struct {
	cfg      *JobConfig
	store    *store.Store
	config   *syncconfig.Resolver
	logger   *zap.Logger
	registry *prometheus.Registry
	server   *metrics.Server
}

// openJob loads the job config and opens the store and the sync config.
// pair requires source and target repo ids.
func (o *RootOptions) openJob(ctx context.Context, pair bool) (*job, error) {
	cfg, err := loadJobConfig(o.viper)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if pair {
		err = cfg.ValidatePair()
	} else {
		err = cfg.Validate()
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	logger := o.Logger()
	resolver, err := syncconfig.Load(cfg.SyncConfig)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load sync config", err)
	}
	if pair {
		if _, _, err := resolver.Direction(cfg.Source(), cfg.Target()); err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid repo pair", err)
		}
	}

	logger.Debug("opening store", zap.String("path", cfg.DB))
	st, err := store.OpenWithRetry(ctx, cfg.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	j := &job{
		cfg:      cfg,
		store:    st,
		config:   resolver,
		logger:   logger,
		registry: prometheus.NewRegistry(),
	}
	j.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return j, nil
}

// serveMetrics starts the metrics server if metrics_addr is set.
func (j *job) serveMetrics() error {
	if j.cfg.MetricsAddr == "" {
		return nil
	}
	j.server = metrics.NewServer(j.cfg.MetricsAddr, j.registry, j.logger)
	if _, err := j.server.Start(); err != nil {
		return WrapExitError(ExitCommandError, "failed to start metrics server", err)
	}
	return nil
}

// syncer builds the syncer of the configured pair.
func (j *job) syncer() *syncer.Syncer {
	return syncer.New(
		j.store.Repo(j.cfg.Source()),
		j.store.Repo(j.cfg.Target()),
		j.store.Mapping(),
		j.config,
		syncer.WithLogger(j.logger),
		syncer.WithPushrebaseRewriteDates(j.cfg.PushrebaseRewriteDates),
	)
}

// metrics creates the collectors of kind on the job registry.
func (j *job) metrics(kind string, source, target model.RepositoryID) *metrics.Metrics {
	return metrics.New(j.registry, kind, source, target)
}

func (j *job) Close() {
	if j.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
		defer cancel()
		if err := j.server.Stop(ctx); err != nil {
			j.logger.Warn("failed to stop metrics server", zap.Error(err))
		}
	}
	if err := j.store.Close(); err != nil {
		j.logger.Error("error closing database", zap.Error(err))
	}
}

// signalContext returns the command context, cancelled on SIGINT or
// SIGTERM.
func signalContext(cmd *cobra.Command, logger *zap.Logger) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", zap.Stringer("signal", sig))
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

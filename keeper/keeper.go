// Package keeper is the snapshot product surface. It opens the configured
// backend and exposes the snapshot engine over MCP tools and a JSON HTTP API,
// runs the retention loop and optionally keeps an audit trail of changes.
//
// Usage:
//
//	k, err := keeper.New(cfg, logger)
//	defer k.Close()
//	k.RegisterMCP(mcpServer)
//	http.ListenAndServe(addr, k.Handler())
//	k.Start(ctx)
package keeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hazyhaar/recsnap/audit"
	"github.com/hazyhaar/recsnap/snapshot"
	"github.com/hazyhaar/recsnap/snapshot/filestore"
	"github.com/hazyhaar/recsnap/snapshot/kvstore"
	"github.com/hazyhaar/recsnap/snapshot/memstore"
	"github.com/hazyhaar/recsnap/snapshot/tablestore"
)

// Keeper wires a backend to the snapshot service and statistics.
type Keeper struct {
	svc     *snapshot.Service
	stats   *snapshot.Aggregator
	audit   *audit.SQLiteLogger
	metrics *metrics
	closers []io.Closer // closed in order
	logger  *slog.Logger
	config  *Config

	stopLoops context.CancelFunc
	loops     sync.WaitGroup
}

// New creates a Keeper and opens the configured backend.
func New(cfg *Config, logger *slog.Logger) (*Keeper, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend, closer, err := openBackend(cfg, logger)
	if err != nil {
		return nil, err
	}
	k := newKeeper(cfg, backend, logger)
	if closer != nil {
		k.closers = append(k.closers, closer)
	}
	if cfg.Audit.Enabled {
		if err := k.openAudit(backend); err != nil {
			k.Close()
			return nil, err
		}
	}
	return k, nil
}

func newKeeper(cfg *Config, backend snapshot.Backend, logger *slog.Logger) *Keeper {
	svc := snapshot.NewService(backend,
		snapshot.WithExclude(cfg.ExcludeFields...),
		snapshot.WithLabelPrefix(cfg.LabelPrefix),
		snapshot.WithLogger(logger),
	)
	stats := svc.Aggregator(
		snapshot.WithTopFields(cfg.Stats.TopFields),
		snapshot.WithStatsLogger(logger),
	)
	return &Keeper{svc: svc, stats: stats, metrics: newMetrics(), logger: logger, config: cfg}
}

func openBackend(cfg *Config, logger *slog.Logger) (snapshot.Backend, io.Closer, error) {
	switch cfg.Backend {
	case filestore.Name:
		return filestore.New(cfg.File.Dir, filestore.WithLogger(logger)), nil, nil
	case memstore.Name:
		return memstore.New(), nil, nil
	case kvstore.Name:
		s, err := kvstore.Open(cfg.KV, kvstore.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	default:
		s, err := tablestore.Open(cfg.Table.DBPath,
			tablestore.WithLogger(logger), tablestore.WithOpenOptions(cfg.Table.openOptions()...))
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil
	}
}

// Service returns the snapshot service.
func (k *Keeper) Service() *snapshot.Service { return k.svc }

// Metrics returns the Prometheus registry of this Keeper.
func (k *Keeper) Metrics() *prometheus.Registry { return k.metrics.registry }

// Stats returns the statistics aggregator.
func (k *Keeper) Stats() *snapshot.Aggregator { return k.stats }

// Observer returns the record observer for the configured capture events.
func (k *Keeper) Observer() snapshot.RecordObserver {
	kinds := make([]snapshot.EventKind, len(k.config.CaptureEvents))
	for i, e := range k.config.CaptureEvents {
		kinds[i] = snapshot.EventKind(e)
	}
	return k.svc.Observer(kinds...)
}

// Start launches the retention loop when a policy is configured. It returns
// immediately; the loop stops with ctx or Close.
func (k *Keeper) Start(ctx context.Context) {
	if !k.config.Retention.Enabled() {
		k.logger.Info("keeper: started", "backend", k.config.Backend, "retention", false)
		return
	}
	ctx, k.stopLoops = context.WithCancel(ctx)
	k.loops.Add(1)
	go func() {
		defer k.loops.Done()
		k.pruneLoop(ctx)
	}()
	k.logger.Info("keeper: started", "backend", k.config.Backend,
		"retention", true, "prune_interval", k.config.PruneInterval)
}

func (k *Keeper) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(k.config.PruneInterval)
	defer ticker.Stop()
	k.prune(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			k.prune(ctx)
		}
	}
}

func (k *Keeper) prune(ctx context.Context) {
	start := time.Now()
	n, err := k.svc.Prune(ctx, k.config.Retention)
	if err != nil && ctx.Err() != nil {
		return
	}
	if err != nil {
		k.logger.Error("keeper: prune", "error", err)
	}
	k.metrics.pruned.Add(float64(n))
	if n > 0 || err != nil {
		k.auditPrune(n, time.Since(start), err)
	}
	if gc, ok := k.svc.Backend().(garbageCollector); ok && n > 0 {
		if err := gc.CollectGarbage(gcDiscardRatio); err != nil {
			k.logger.Warn("keeper: backend gc", "error", err)
		}
	}
}

// garbageCollector is implemented by backends that reclaim space after
// deletions.
type garbageCollector interface {
	CollectGarbage(discardRatio float64) error
}

const gcDiscardRatio = 0.5

// Close stops the retention loop, waits for a running prune, then flushes
// the audit trail and releases the backend.
func (k *Keeper) Close() error {
	if k.stopLoops != nil {
		k.stopLoops()
	}
	k.loops.Wait()

	var errs []error
	for _, c := range k.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	k.closers = nil
	return errors.Join(errs...)
}

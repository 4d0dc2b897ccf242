package watch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jujuci/bundleverify/internal/cache"
	"github.com/jujuci/bundleverify/internal/juju"
	"github.com/jujuci/bundleverify/internal/models"
	"github.com/jujuci/bundleverify/internal/observability"
	"github.com/jujuci/bundleverify/internal/verify"
)

// Watcher re-verifies a set of services on an interval and stores the latest
// report for the serve surface.
type Watcher struct {
	verifier verify.Verifier
	client   juju.Client
	services []string
	opts     verify.Options
	store    cache.ReportCache
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// New creates a Watcher. ttl bounds how long a stored report stays current;
// it should cover at least one interval.
func New(verifier verify.Verifier, client juju.Client, services []string, opts verify.Options, store cache.ReportCache, ttl, interval time.Duration, logger *zap.Logger) *Watcher {
	return &Watcher{
		verifier: verifier,
		client:   client,
		services: services,
		opts:     opts,
		store:    store,
		ttl:      ttl,
		interval: interval,
		logger:   logger,
	}
}

// Run verifies immediately, then on every tick until ctx is done. Returns
// ctx.Err() on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	w.runOnce(ctx)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.runOnce(ctx)
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context) {
	report, err := w.verifier.VerifyServices(ctx, w.client, w.services, w.opts)
	if err != nil {
		if w.logger != nil {
			w.logger.Error("verification run failed", zap.Error(err))
		}
		return
	}

	w.logOutcome(report)
	// Reports are stored under the configured model name, which is the key
	// the serve handlers read. The controller-reported name can differ
	// (e.g. when no -m flag is set the configured name is empty), so it is
	// kept for display only.
	if err := w.store.Set(ctx, w.client.ModelName(), report, w.ttl); err != nil {
		observability.ReportCacheErrorsTotal.WithLabelValues("set").Inc()
		if w.logger != nil {
			w.logger.Error("store report", zap.Error(err))
		}
	}
}

func (w *Watcher) logOutcome(report *models.Report) {
	if w.logger == nil {
		return
	}
	if report.OK() {
		w.logger.Info("bundle verified",
			zap.String("model", report.Model),
			zap.Int("services", len(report.Services)))
		return
	}
	w.logger.Warn("bundle verification failed",
		zap.String("model", report.Model),
		zap.Strings("failed", report.Failed()))
}

// Package maintenance runs the periodic loop of spec §4.9: compute
// health, archive, flush, check the working-memory budget, and clean up
// the message bus. Health is computed and reported but does not change
// what a tick does; critical pressure triggers no extra, off-cadence
// consolidation.
// Grounded on spec.md §4.9 directly (no teacher issue-tracker analogue
// has a memory-pressure maintenance loop); the concurrency split between
// independent steps (flush, bus cleanup) and the dependent
// archive→budget chain uses golang.org/x/sync/errgroup, declared
// directly in the teacher's go.mod (golang.org/x/sync v0.20.0) even
// though no retrieved teacher file in this pack exercises it.
package maintenance

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ckoons/katra/internal/audit"
	"github.com/ckoons/katra/internal/budget"
	"github.com/ckoons/katra/internal/config"
	"github.com/ckoons/katra/internal/consolidate"
	"github.com/ckoons/katra/internal/debug"
	"github.com/ckoons/katra/internal/katraerr"
	"github.com/ckoons/katra/internal/messagebus"
	"github.com/ckoons/katra/internal/storage"
	"github.com/ckoons/katra/internal/telemetry"
	"go.opentelemetry.io/otel/metric"
)

// Bus is the subset of *messagebus.Bus the loop depends on, so tests can
// substitute a fake instead of standing up a real chat.db.
type Bus interface {
	Cleanup(ctx context.Context) error
}

var _ Bus = (*messagebus.Bus)(nil)

// TickResult summarizes one Tick's outcome for callers (telemetry, CLI,
// tests) that want more than pass/fail.
type TickResult struct {
	Health          Health
	ArchivedAgents  int
	BudgetActions   int
	Errors          []error
}

// Loop is the maintenance loop's handle: the Tier-1 store, the
// consolidation archiver, the message bus, and the tunables governing
// cadence, health thresholds, and budget limits.
type Loop struct {
	store      storage.Storage
	archiver   *consolidate.Archiver
	bus        Bus
	maint      config.MaintenanceConfig
	budgetCfg  config.BudgetConfig
	errorCount atomic.Int64

	metricsOnce sync.Once
	metrics     loopMetrics
}

type loopMetrics struct {
	recordsArchived metric.Int64Counter
	digestsWritten  metric.Int64Counter
	tickDuration    metric.Float64Histogram
	tickErrors      metric.Int64Counter
}

// New builds a Loop over the given store, archiver, and bus.
func New(store storage.Storage, archiver *consolidate.Archiver, bus Bus, maint config.MaintenanceConfig, budgetCfg config.BudgetConfig) *Loop {
	return &Loop{store: store, archiver: archiver, bus: bus, maint: maint, budgetCfg: budgetCfg}
}

func (l *Loop) initMetrics() {
	m := telemetry.Meter("github.com/ckoons/katra/maintenance")
	l.metrics.recordsArchived, _ = m.Int64Counter("katra.maintenance.records_archived",
		metric.WithDescription("Tier-1 records archived into Tier-2 digests per maintenance tick"))
	l.metrics.digestsWritten, _ = m.Int64Counter("katra.maintenance.digests_written",
		metric.WithDescription("Tier-2 digests written per maintenance tick"))
	l.metrics.tickDuration, _ = m.Float64Histogram("katra.maintenance.tick.duration",
		metric.WithDescription("Maintenance tick wall-clock duration in milliseconds"), metric.WithUnit("ms"))
	l.metrics.tickErrors, _ = m.Int64Counter("katra.maintenance.errors",
		metric.WithDescription("Errors encountered during maintenance ticks"))
}

// Run ticks every interval until ctx is canceled. Per-tick errors are
// logged and counted; the loop itself never returns early on them.
func (l *Loop) Run(ctx context.Context) {
	interval := l.maint.Interval
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := l.Tick(ctx); err != nil {
				debug.Logf("maintenance: tick failed: %v\n", err)
			}
		}
	}
}

// Tick runs one pass of the loop's steps. It never returns a fatal
// error for a single failed step — each step's error is collected into
// the result and counted — but does return an error if the tick could
// not run at all (e.g. listing agents failed).
func (l *Loop) Tick(ctx context.Context) (*TickResult, error) {
	l.metricsOnce.Do(l.initMetrics)
	start := time.Now()
	result := &TickResult{}

	count, err := l.store.CountAll(ctx)
	if err != nil {
		return nil, err
	}
	result.Health = ComputeHealth(count, l.maint)

	ciIDs, err := l.store.DistinctCIIDs(ctx)
	if err != nil {
		return nil, err
	}

	// Steps 4 and 6 are independent of each other and of the archive/budget
	// chain (disjoint tables, neither depends on the other's result within
	// one tick). Archival and the budget check run for every agent on
	// every Tick, whatever the health status computed above.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return l.store.Flush(gctx) })
	g.Go(func() error { return l.bus.Cleanup(gctx) })

	for _, ciID := range ciIDs {
		if err := l.archiver.ArchiveOlderThan(ctx, ciID, l.maint.ArchiveOlderThanDays); err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		result.ArchivedAgents++

		res, err := budget.Check(ctx, l.store, ciID, l.budgetCfg)
		if err != nil {
			result.Errors = append(result.Errors, err)
			continue
		}
		if res.Action != budget.ActionNone {
			result.BudgetActions++
		}
	}

	if err := g.Wait(); err != nil {
		result.Errors = append(result.Errors, err)
	}

	for _, e := range result.Errors {
		debug.Logf("maintenance: tick step error: %v\n", e)
	}
	l.errorCount.Add(int64(len(result.Errors)))

	ms := float64(time.Since(start).Milliseconds())
	if l.metrics.tickDuration != nil {
		l.metrics.tickDuration.Record(ctx, ms)
		l.metrics.recordsArchived.Add(ctx, int64(result.ArchivedAgents))
		l.metrics.tickErrors.Add(ctx, int64(len(result.Errors)))
	}

	_, _ = audit.Append(&audit.Entry{Kind: "maintenance_tick", Reason: string(result.Health.Status)})

	return result, nil
}

// ErrorCount returns the cumulative count of per-step errors observed
// across every Tick this Loop has run.
func (l *Loop) ErrorCount() int64 { return l.errorCount.Load() }

// CheckWrite implements spec §4.9's critical-write-floor: while health is
// critical, a write below the configured importance floor is refused.
func CheckWrite(h Health, importance float64, cfg config.MaintenanceConfig) error {
	if h.Status == "critical" && importance < cfg.CriticalWriteFloor {
		return katraerr.New(katraerr.KindTierFull, "memory tier full: write importance below critical floor")
	}
	return nil
}

// Package engine is the single handle of spec.md §9: one writer mutex
// over the Tier-1 SQLite connection, the vector/graph index locks, and
// the loaded config, constructed once via Open and torn down via Close
// (which performs the WAL checkpoint of spec.md §6). Grounded on the
// teacher's cmd/bd root-command package-level store/lifecycle globals
// (internal/storage.Storage opened once, closed on shutdown), here
// collected into one struct instead of package globals since katra is a
// library-first module rather than a single CLI binary.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ckoons/katra/internal/audit"
	"github.com/ckoons/katra/internal/budget"
	"github.com/ckoons/katra/internal/config"
	"github.com/ckoons/katra/internal/consolidate"
	"github.com/ckoons/katra/internal/debug"
	"github.com/ckoons/katra/internal/graphindex"
	"github.com/ckoons/katra/internal/katraerr"
	"github.com/ckoons/katra/internal/llmembed"
	"github.com/ckoons/katra/internal/lockfile"
	"github.com/ckoons/katra/internal/maintenance"
	"github.com/ckoons/katra/internal/messagebus"
	"github.com/ckoons/katra/internal/retrieval"
	"github.com/ckoons/katra/internal/storage"
	"github.com/ckoons/katra/internal/storage/sqlite"
	"github.com/ckoons/katra/internal/summarizer"
	"github.com/ckoons/katra/internal/tier2"
	"github.com/ckoons/katra/internal/types"
	"github.com/ckoons/katra/internal/vectorindex"
)

// Engine is the host-owned handle over every tiered-memory subsystem.
// All writer access to Tier 1 goes through writerMu, matching spec.md
// §5's "single writer" constraint.
type Engine struct {
	cfg *config.Config

	writerMu sync.Mutex

	store    storage.Storage
	tier2    *tier2.Store
	vector   *vectorindex.Index
	bus      *messagebus.Bus
	archiver *consolidate.Archiver

	graphMu sync.RWMutex
	graph   *graphindex.Graph

	maintLoop   *maintenance.Loop
	maintCancel context.CancelFunc
}

// Option configures Open beyond what config.Config covers.
type Option func(*openOptions)

type openOptions struct {
	embedProvider llmembed.Provider
	summarizer    consolidate.Summarizer
}

// WithEmbeddingProvider supplies the llmembed.Provider Engine.Open wires
// up when cfg.Vector.Scheme is "external" — the embedding collaborator
// has no default network implementation (spec.md §4.2 Non-goals), so
// callers who want it must provide one.
func WithEmbeddingProvider(p llmembed.Provider) Option {
	return func(o *openOptions) { o.embedProvider = p }
}

// WithSummarizer overrides the default Anthropic-or-deterministic
// Summarizer selection, for hosts that want their own test double.
func WithSummarizer(s consolidate.Summarizer) Option {
	return func(o *openOptions) { o.summarizer = s }
}

// Open builds every subsystem under dataDir per spec.md §6's directory
// layout, acquiring a cross-process lock around first-open schema
// migration so two engine instances sharing one data directory don't
// race on it.
func Open(ctx context.Context, dataDir string, cfg *config.Config, opts ...Option) (*Engine, error) {
	var o openOptions
	for _, opt := range opts {
		opt(&o)
	}

	dirs := []string{
		filepath.Join(dataDir, "tier1"),
		filepath.Join(dataDir, "tier2", "weekly"),
		filepath.Join(dataDir, "tier2", "monthly"),
		filepath.Join(dataDir, "tier2", "index"),
		filepath.Join(dataDir, "chat"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("engine: create data dir %s: %w", d, err)
		}
	}

	unlock, err := acquireMigrationLock(dataDir)
	if err != nil {
		return nil, err
	}
	defer unlock()

	audit.SetDataDir(dataDir)

	store, err := sqlite.Open(ctx, filepath.Join(dataDir, "tier1", "index.db"), cfg.Tier1.DedupWindow)
	if err != nil {
		return nil, fmt.Errorf("engine: open tier1: %w", err)
	}

	t2, err := tier2.Open(ctx, filepath.Join(dataDir, "tier2"), store.DB(), cfg.Tier2.MaxBucketFileMB)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: open tier2: %w", err)
	}

	embedder, err := buildEmbedder(cfg.Vector, o.embedProvider)
	if err != nil {
		store.Close()
		return nil, err
	}
	vector, err := vectorindex.NewIndex(ctx, store.DB(), embedder)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: open vector index: %w", err)
	}

	var graph *graphindex.Graph
	if cfg.Graph.Enabled {
		graph, err = graphindex.Open(ctx, store.DB())
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("engine: open graph index: %w", err)
		}
	}

	bus, err := messagebus.Open(ctx, filepath.Join(dataDir, "chat", "chat.db"), cfg.MessageBus)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("engine: open message bus: %w", err)
	}

	sum := o.summarizer
	if sum == nil {
		real, sumErr := summarizer.New(cfg.Summarizer)
		if sumErr != nil {
			if !errors.Is(sumErr, summarizer.ErrAPIKeyRequired) {
				store.Close()
				bus.Close()
				return nil, fmt.Errorf("engine: build summarizer: %w", sumErr)
			}
			sum = summarizer.Deterministic{}
		} else {
			sum = real
		}
	}
	archiver := consolidate.New(store, t2, sum, cfg.Consolidate, types.PeriodWeekly)

	e := &Engine{
		cfg:      cfg,
		store:    store,
		tier2:    t2,
		vector:   vector,
		graph:    graph,
		bus:      bus,
		archiver: archiver,
	}
	e.maintLoop = maintenance.New(store, archiver, bus, cfg.Maintenance, cfg.Budget)

	return e, nil
}

func buildEmbedder(cfg config.VectorConfig, provider llmembed.Provider) (vectorindex.Embedder, error) {
	switch cfg.Scheme {
	case "", "tfidf":
		return vectorindex.NewTFIDFEmbedder(), nil
	case "hash":
		return vectorindex.NewHashEmbedder(cfg.HashDimensions), nil
	case "external":
		if provider == nil {
			return nil, katraerr.New(katraerr.KindFeatureDisabled, "engine: external vector scheme configured but no embedding provider supplied")
		}
		return vectorindex.NewExternalEmbedder(provider), nil
	default:
		return nil, katraerr.New(katraerr.KindInvalidState, fmt.Sprintf("engine: unknown vector scheme %q", cfg.Scheme))
	}
}

// StartMaintenance launches the background maintenance loop (spec §4.9)
// on its configured interval. Stop via Close or StopMaintenance.
func (e *Engine) StartMaintenance(ctx context.Context) {
	if e.maintCancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.maintCancel = cancel
	go e.maintLoop.Run(loopCtx)
}

// StopMaintenance cancels the background maintenance loop, if running.
func (e *Engine) StopMaintenance() {
	if e.maintCancel != nil {
		e.maintCancel()
		e.maintCancel = nil
	}
}

// Tick runs one maintenance cycle synchronously, for operator-driven
// invocation (cmd/katractl's "tick" subcommand) outside the background
// loop's cadence.
func (e *Engine) Tick(ctx context.Context) (*maintenance.TickResult, error) {
	return e.maintLoop.Tick(ctx)
}

// SetGraphEnabled constructs or tears down the graph index as a config
// setter, never a side effect of unrelated state, per spec.md §9.
func (e *Engine) SetGraphEnabled(ctx context.Context, enabled bool) error {
	e.graphMu.Lock()
	defer e.graphMu.Unlock()

	if enabled {
		if e.graph != nil {
			return nil
		}
		g, err := graphindex.Open(ctx, e.store.DB())
		if err != nil {
			return fmt.Errorf("engine: enable graph index: %w", err)
		}
		e.graph = g
		e.cfg.Graph.Enabled = true
		return nil
	}

	e.graph = nil
	e.cfg.Graph.Enabled = false
	return nil
}

// Graph returns the current graph index, or nil if disabled.
func (e *Engine) Graph() *graphindex.Graph {
	e.graphMu.RLock()
	defer e.graphMu.RUnlock()
	return e.graph
}

// Store returns the Tier-1 store, for callers that need direct access
// (e.g. cmd/katractl's status reporting).
func (e *Engine) Store() storage.Storage { return e.store }

// Tier2 returns the Tier-2 cold store.
func (e *Engine) Tier2() *tier2.Store { return e.tier2 }

// Bus returns the message bus.
func (e *Engine) Bus() *messagebus.Bus { return e.bus }

// Remember validates and stores r under the writer mutex, refusing the
// write if maintenance health is critical and r's importance is below
// the configured floor (spec §4.9).
func (e *Engine) Remember(ctx context.Context, r *types.Record) (string, error) {
	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	count, err := e.store.CountAll(ctx)
	if err != nil {
		return "", err
	}
	health := maintenance.ComputeHealth(count, e.cfg.Maintenance)
	if err := maintenance.CheckWrite(health, r.Importance, e.cfg.Maintenance); err != nil {
		return "", err
	}

	id, err := e.store.CreateRecord(ctx, r)
	if err != nil {
		return "", err
	}
	if err := e.vector.Store(ctx, r.CIID, id, r.Content); err != nil {
		return id, fmt.Errorf("engine: index record in vector store: %w", err)
	}
	return id, nil
}

// Health reports the current Tier-1 fill pressure (spec §4.9), without
// running a full maintenance tick.
func (e *Engine) Health(ctx context.Context) (maintenance.Health, error) {
	count, err := e.store.CountAll(ctx)
	if err != nil {
		return maintenance.Health{}, err
	}
	return maintenance.ComputeHealth(count, e.cfg.Maintenance), nil
}

// Recall runs the hybrid retrieval pipeline (spec §4.5) for one agent.
func (e *Engine) Recall(ctx context.Context, ciID, topic string, opts retrieval.Options) ([]retrieval.Result, error) {
	return retrieval.Search(ctx, e.store, e.vector, ciID, topic, opts)
}

// CheckBudget runs the working-memory budget policy (spec §4.7) for one
// agent outside the maintenance loop's cadence.
func (e *Engine) CheckBudget(ctx context.Context, ciID string) (budget.Result, error) {
	return budget.Check(ctx, e.store, ciID, e.cfg.Budget)
}

// Archive runs consolidation/archival (spec §4.6) for one agent outside
// the maintenance loop's cadence.
func (e *Engine) Archive(ctx context.Context, ciID string) error {
	return e.archiver.Run(ctx, ciID)
}

// ArchiveOlderThan runs the acceptance-test-named archive entrypoint
// (spec §9) for one agent.
func (e *Engine) ArchiveOlderThan(ctx context.Context, ciID string, days int) error {
	return e.archiver.ArchiveOlderThan(ctx, ciID, days)
}

// Flush is a durability barrier over Tier-1 (spec §6).
func (e *Engine) Flush(ctx context.Context) error {
	return e.store.Flush(ctx)
}

// Close tears down every subsystem, checkpointing the Tier-1 WAL (spec
// §6) before releasing the connection.
func (e *Engine) Close() error {
	e.StopMaintenance()

	var errs []error
	if err := e.bus.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return fmt.Errorf("engine: close: %v", errs)
	}
	return nil
}

// Version identifies this engine build in the daemon.lock LockInfo record.
const Version = "0.1.0"

// acquireMigrationLock serializes first-open schema migration across
// engine instances sharing dataDir. It reuses the teacher's daemon.lock
// convention (internal/lockfile's LockInfo/TryDaemonLock), repurposed from
// "is a daemon process already attached" to "is another engine instance
// already mid-migration against this data directory": a non-blocking probe
// logs which PID holds it before falling back to the blocking acquire, and
// the holder's PID/database/version/start time are recorded in the lock
// file itself for post-mortem inspection.
func acquireMigrationLock(dataDir string) (func(), error) {
	if running, pid := lockfile.TryDaemonLock(dataDir); running {
		debug.Logf("engine: data directory %s is held by pid %d; waiting for migration lock", dataDir, pid)
	}

	path := filepath.Join(dataDir, "daemon.lock")
	// #nosec G304 - path is the katra-managed migration lock file
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("engine: open migration lock: %w", err)
	}
	if err := lockfile.FlockExclusiveBlocking(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("engine: acquire migration lock: %w", err)
	}

	info := lockfile.LockInfo{
		PID:       os.Getpid(),
		ParentPID: os.Getppid(),
		Database:  dataDir,
		Version:   Version,
		StartedAt: time.Now(),
	}
	if data, err := json.Marshal(info); err == nil {
		_ = f.Truncate(0)
		_, _ = f.Seek(0, 0)
		_, _ = f.Write(data)
	}

	return func() {
		_ = lockfile.FlockUnlock(f)
		_ = f.Close()
	}, nil
}

// Package orchestrator guards sync execution: single-flight, throttle,
// connectivity gating and stall recovery. It owns no sync logic itself;
// the pipeline does the work.
package orchestrator

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/avolkov/tutti/internal/domain"
	"github.com/avolkov/tutti/internal/pipeline"
	"github.com/avolkov/tutti/internal/state"
)

const (
	// Unforced triggers within this window of a completed run are dropped.
	minSyncInterval = 6 * time.Hour

	// A run with no progress movement for this long is considered dead.
	stallTimeout = 15 * time.Minute
)

// Provider supplies the fetcher set for a run. Resolved at run start so
// source changes between runs take effect without rewiring.
type Provider interface {
	Fetchers() ([]domain.Fetcher, []domain.JellyfinFetcher)
}

// Config holds orchestrator dependencies.
type Config struct {
	Pipeline     *pipeline.Pipeline
	State        *state.Publisher
	Provider     Provider
	Connectivity domain.Connectivity
	Logger       *slog.Logger

	// MinInterval and StallTimeout override the defaults when positive.
	MinInterval  time.Duration
	StallTimeout time.Duration

	// DataSaving suppresses automatic (StartIfNeeded) runs; explicit
	// triggers still work.
	DataSaving bool

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Orchestrator serializes sync runs. At most one run executes per
// process; concurrent triggers are dropped, never queued.
type Orchestrator struct {
	pipeline     *pipeline.Pipeline
	state        *state.Publisher
	provider     Provider
	connectivity domain.Connectivity
	logger       *slog.Logger
	minInterval  time.Duration
	stallTimeout time.Duration
	dataSaving   bool
	now          func() time.Time

	running atomic.Bool
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	connectivity := cfg.Connectivity
	if connectivity == nil {
		connectivity = domain.AlwaysOnline{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = minSyncInterval
	}
	stall := cfg.StallTimeout
	if stall <= 0 {
		stall = stallTimeout
	}
	return &Orchestrator{
		pipeline:     cfg.Pipeline,
		state:        cfg.State,
		provider:     cfg.Provider,
		connectivity: connectivity,
		logger:       logger,
		minInterval:  minInterval,
		stallTimeout: stall,
		dataSaving:   cfg.DataSaving,
		now:          now,
	}
}

// Active reports whether a run is executing in this process.
func (o *Orchestrator) Active() bool {
	return o.running.Load()
}

// RunSyncNow executes one sync run on the calling goroutine. It returns
// ErrSyncActive when a run is already in flight, ErrOffline when the
// device has no usable network; both leave no side effects. force
// requests a full (non-delta) run.
func (o *Orchestrator) RunSyncNow(ctx context.Context, force bool) error {
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Debug("sync trigger dropped", "reason", "already running")
		return domain.ErrSyncActive
	}
	defer o.running.Store(false)

	if o.connectivity.Offline() {
		o.logger.Info("sync skipped", "reason", "offline")
		return domain.ErrOffline
	}

	o.state.SetActive(true)
	o.state.SetStartedAt(o.now().UnixMilli())
	defer o.state.ResetProgress()

	fetchers, jellyfin := o.provider.Fetchers()
	mode := domain.SyncModeDelta
	if force {
		mode = domain.SyncModeFull
	}

	o.logger.Info("sync run starting", "mode", mode.String(), "sources", len(fetchers), "jellyfin", len(jellyfin), "force", force)
	if err := o.pipeline.Run(ctx, fetchers, jellyfin, mode); err != nil {
		o.logger.Warn("sync run aborted", "error", err)
		o.state.Log(domain.StagePreparing, "Sync aborted", false)
		return err
	}
	o.logger.Info("sync run finished")
	return nil
}

// Start fires RunSyncNow on its own goroutine and returns immediately.
// Refusals are logged by RunSyncNow itself.
func (o *Orchestrator) Start(force bool) {
	go func() {
		_ = o.RunSyncNow(context.Background(), force)
	}()
}

// StartIfNeeded triggers an unforced background run unless the throttle,
// connectivity or single-flight guards say otherwise. The app calls this
// on foreground; it is safe to call as often as the caller likes.
func (o *Orchestrator) StartIfNeeded() bool {
	if o.running.Load() {
		return false
	}
	if o.dataSaving {
		return false
	}
	if o.connectivity.Offline() {
		return false
	}
	last := o.state.Snapshot().LastCompletedAt
	if !syncDue(last, o.now(), o.minInterval) {
		o.logger.Debug("sync skipped", "reason", "throttled")
		return false
	}
	o.Start(false)
	return true
}

// RecoverIfStalled detects a run that died without clearing its active
// flag (process kill mid-sync) and restarts it as a forced run. A run
// executing in this process is never recovered out from under itself.
func (o *Orchestrator) RecoverIfStalled() bool {
	if o.running.Load() {
		return false
	}
	snap := o.state.Snapshot()
	if !snap.Active {
		return false
	}

	updated := o.state.ProgressUpdatedAt()
	if updated == 0 {
		updated = snap.StartedAt
	}
	if updated > 0 && o.now().UnixMilli()-updated < o.stallTimeout.Milliseconds() {
		return false
	}

	o.logger.Warn("stalled sync detected; restarting", "stage", snap.Stage.String(), "startedAt", snap.StartedAt)
	o.state.ResetProgress()
	o.Start(true)
	return true
}

// syncDue reports whether enough time has passed since the last
// completed run.
func syncDue(lastCompleted int64, now time.Time, interval time.Duration) bool {
	if lastCompleted <= 0 {
		return true
	}
	return now.UnixMilli()-lastCompleted >= interval.Milliseconds()
}

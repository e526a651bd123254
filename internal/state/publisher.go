// Package state persists sync progress fields and fans changes out to
// observers. Observers are notified synchronously on the writer's
// goroutine; any subset of fields changing means "state may have
// changed" and observers re-read what they care about.
package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/avolkov/tutti/internal/domain"
	"github.com/avolkov/tutti/internal/store"
)

// LogLimit bounds the in-memory diagnostic ring.
const LogLimit = 200

// Persisted state field keys. Each field is written individually so a
// partial update never rewrites the whole state object.
const (
	fieldActive          = "sync_active"
	fieldStage           = "sync_stage"
	fieldProgressCurrent = "sync_progress_current"
	fieldProgressTotal   = "sync_progress_total"
	fieldCoverCurrent    = "sync_cover_current"
	fieldCoverTotal      = "sync_cover_total"
	fieldLyricsCurrent   = "sync_lyrics_current"
	fieldLyricsTotal     = "sync_lyrics_total"
	fieldStartedAt       = "sync_started"
	fieldLastCompleted   = "sync_last_completed"
	fieldProgressUpdated = "sync_progress_updated"
)

// Observer receives the full state snapshot after any field changes.
type Observer func(domain.SyncState)

// Publisher owns the persisted SyncState and the bounded log ring. The
// log ring lives only for the process lifetime; it is a diagnostic
// trail, not state.
type Publisher struct {
	store  *store.Store
	logger *slog.Logger

	mu        sync.Mutex
	observers map[int]Observer
	nextID    int
	logs      []domain.LogEntry // Newest first
}

func NewPublisher(st *store.Store, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		store:     st,
		logger:    logger,
		observers: make(map[int]Observer),
	}
}

// Subscribe registers an observer and returns its unsubscribe func.
// Observers attach/detach per their own lifecycle.
func (p *Publisher) Subscribe(obs Observer) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.observers[id] = obs
	p.mu.Unlock()

	return func() {
		p.mu.Lock()
		delete(p.observers, id)
		p.mu.Unlock()
	}
}

// Snapshot rebuilds the full SyncState from the persisted fields.
func (p *Publisher) Snapshot() domain.SyncState {
	return domain.SyncState{
		Active:          store.StateField[bool](p.store, fieldActive),
		Stage:           domain.StageFromName(store.StateField[string](p.store, fieldStage)),
		ProgressCurrent: store.StateField[int](p.store, fieldProgressCurrent),
		ProgressTotal:   store.StateField[int](p.store, fieldProgressTotal),
		CoverArtCurrent: store.StateField[int](p.store, fieldCoverCurrent),
		CoverArtTotal:   store.StateField[int](p.store, fieldCoverTotal),
		LyricsCurrent:   store.StateField[int](p.store, fieldLyricsCurrent),
		LyricsTotal:     store.StateField[int](p.store, fieldLyricsTotal),
		StartedAt:       store.StateField[int64](p.store, fieldStartedAt),
		LastCompletedAt: store.StateField[int64](p.store, fieldLastCompleted),
	}
}

func (p *Publisher) SetActive(active bool) {
	p.store.PutStateField(fieldActive, active)
	p.notify()
}

// SetStage records the stage being executed. Written before fetch
// begins so observers see "currently syncing: X" rather than the prior
// stage.
func (p *Publisher) SetStage(stage domain.Stage) {
	p.store.PutStateField(fieldStage, stage.String())
	p.touchProgress()
	p.notify()
}

// SetProgress updates the generic per-stage counters. (0, 0) means
// indeterminate.
func (p *Publisher) SetProgress(current, total int) {
	p.store.PutStateField(fieldProgressCurrent, current)
	p.store.PutStateField(fieldProgressTotal, total)
	p.touchProgress()
	p.notify()
}

// SetCoverArtProgress updates the per-asset cover art counters, which
// track asset fetch completion independently of the record counters.
func (p *Publisher) SetCoverArtProgress(current, total int) {
	p.store.PutStateField(fieldCoverCurrent, current)
	p.store.PutStateField(fieldCoverTotal, total)
	p.touchProgress()
	p.notify()
}

func (p *Publisher) SetLyricsProgress(current, total int) {
	p.store.PutStateField(fieldLyricsCurrent, current)
	p.store.PutStateField(fieldLyricsTotal, total)
	p.touchProgress()
	p.notify()
}

func (p *Publisher) SetStartedAt(ts int64) {
	p.store.PutStateField(fieldStartedAt, ts)
	p.notify()
}

func (p *Publisher) SetLastCompletedAt(ts int64) {
	p.store.PutStateField(fieldLastCompleted, ts)
	p.notify()
}

// ProgressUpdatedAt returns when any progress field last moved. Stall
// detection anchors on this.
func (p *Publisher) ProgressUpdatedAt() int64 {
	return store.StateField[int64](p.store, fieldProgressUpdated)
}

func (p *Publisher) touchProgress() {
	p.store.PutStateField(fieldProgressUpdated, time.Now().UnixMilli())
}

// ResetProgress clears the transient run fields. Stage and
// lastCompletedAt are deliberately left so observers can show what the
// most recent run finished with.
func (p *Publisher) ResetProgress() {
	p.store.PutStateField(fieldActive, false)
	p.store.PutStateField(fieldProgressCurrent, 0)
	p.store.PutStateField(fieldProgressTotal, 0)
	p.store.PutStateField(fieldCoverCurrent, 0)
	p.store.PutStateField(fieldCoverTotal, 0)
	p.store.PutStateField(fieldLyricsCurrent, 0)
	p.store.PutStateField(fieldLyricsTotal, 0)
	p.store.PutStateField(fieldStartedAt, int64(0))
	p.store.PutStateField(fieldProgressUpdated, int64(0))
	p.notify()
}

// === Log ring ===

// Log appends an entry to the bounded ring, newest first, and notifies
// observers. completed=false marks failures and in-progress notes.
func (p *Publisher) Log(stage domain.Stage, message string, completed bool) {
	if message == "" {
		return
	}
	entry := domain.LogEntry{
		Message:   message,
		Stage:     stage,
		Timestamp: time.Now().UnixMilli(),
		Completed: completed,
	}

	p.mu.Lock()
	p.logs = append([]domain.LogEntry{entry}, p.logs...)
	if len(p.logs) > LogLimit {
		p.logs = p.logs[:LogLimit]
	}
	p.mu.Unlock()

	p.logger.Debug("sync log", "stage", stage.String(), "message", message, "completed", completed)
	p.notify()
}

// Logs returns a copy of the ring, newest first.
func (p *Publisher) Logs() []domain.LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.LogEntry, len(p.logs))
	copy(out, p.logs)
	return out
}

func (p *Publisher) ClearLogs() {
	p.mu.Lock()
	p.logs = nil
	p.mu.Unlock()
	p.notify()
}

func (p *Publisher) notify() {
	snapshot := p.Snapshot()

	p.mu.Lock()
	observers := make([]Observer, 0, len(p.observers))
	for _, obs := range p.observers {
		observers = append(observers, obs)
	}
	p.mu.Unlock()

	for _, obs := range observers {
		obs(snapshot)
	}
}

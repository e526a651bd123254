// Package pipeline executes the fixed metadata sync stage sequence:
// fetch from each active source, reconcile, cache, publish progress.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/avolkov/tutti/internal/domain"
	"github.com/avolkov/tutti/internal/state"
	"github.com/avolkov/tutti/internal/store"
)

const (
	defaultDetailParallelism = 4
	defaultAssetRate         = rate.Limit(10) // Asset fetches per second

	logIntervalSmall  = 10
	logIntervalMedium = 25
	logIntervalLarge  = 50

	// A source skipped by delta sync is still fully refreshed this often.
	fullRefreshInterval = 7 * 24 * time.Hour
)

// Config holds pipeline dependencies and tuning.
type Config struct {
	Store             *store.Store
	State             *state.Publisher
	Logger            *slog.Logger
	DetailParallelism int
	AssetRate         rate.Limit
	DataSaving        bool // Skips the asset stages entirely

	// HTTPClient fetches detail image URLs (artist/album art hosted
	// off-server). Defaults to a client with a request timeout.
	HTTPClient *http.Client
}

// Pipeline drives one sync run stage by stage. It holds no run state
// itself; a Pipeline is safe to reuse across runs as long as the caller
// guarantees single-flight.
type Pipeline struct {
	store       *store.Store
	state       *state.Publisher
	logger      *slog.Logger
	parallelism int
	limiter     *rate.Limiter
	dataSaving  bool
	client      *http.Client
}

func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	parallelism := cfg.DetailParallelism
	if parallelism <= 0 {
		parallelism = defaultDetailParallelism
	}
	assetRate := cfg.AssetRate
	if assetRate <= 0 {
		assetRate = defaultAssetRate
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Pipeline{
		store:       cfg.Store,
		state:       cfg.State,
		logger:      logger,
		parallelism: parallelism,
		limiter:     rate.NewLimiter(assetRate, 1),
		dataSaving:  cfg.DataSaving,
		client:      client,
	}
}

// run carries per-run accumulations between stages.
type run struct {
	fetchers []domain.Fetcher
	jellyfin []domain.JellyfinFetcher
	mode     domain.SyncMode

	skipped map[string]bool // Source id -> delta skip

	songs     []domain.Song
	songIDs   map[string]struct{}
	artists   []domain.Artist
	albums    []domain.Album
	jfLibs    []domain.JellyfinLibrary
	coverIDs  map[string]struct{}
	coverURLs map[string]struct{}
}

func newRun(fetchers []domain.Fetcher, jellyfin []domain.JellyfinFetcher, mode domain.SyncMode) *run {
	return &run{
		fetchers:  fetchers,
		jellyfin:  jellyfin,
		mode:      mode,
		skipped:   make(map[string]bool),
		songIDs:   make(map[string]struct{}),
		coverIDs:  make(map[string]struct{}),
		coverURLs: make(map[string]struct{}),
	}
}

func (r *run) addSong(s domain.Song) {
	if s.ID == "" {
		return
	}
	if _, ok := r.songIDs[s.ID]; ok {
		return
	}
	r.songIDs[s.ID] = struct{}{}
	r.songs = append(r.songs, s)
	if s.CoverArtID != "" {
		r.coverIDs[s.CoverArtID] = struct{}{}
	}
}

// applicable returns the fetchers that can contribute to a stage this
// run, honoring delta skips.
func (r *run) applicable(stage domain.Stage) []domain.Fetcher {
	var out []domain.Fetcher
	for _, f := range r.fetchers {
		if r.skipped[f.SourceID()] {
			continue
		}
		if f.Supports(stage) {
			out = append(out, f)
		}
	}
	return out
}

// skippedKinds returns the source kinds that would contribute to a
// stage but were delta-skipped this run. The merge stages fold their
// cached entries back in so a partial rewrite never drops them.
func (r *run) skippedKinds(stage domain.Stage) map[domain.SourceKind]bool {
	kinds := make(map[domain.SourceKind]bool)
	for _, f := range r.fetchers {
		if r.skipped[f.SourceID()] && f.Supports(stage) {
			kinds[f.Kind()] = true
		}
	}
	return kinds
}

// Run executes the stage sequence exactly once. Fetch failures never
// abort the run; the only returned error is context cancellation.
func (p *Pipeline) Run(ctx context.Context, fetchers []domain.Fetcher, jellyfin []domain.JellyfinFetcher, mode domain.SyncMode) error {
	r := newRun(fetchers, jellyfin, mode)

	p.state.SetStage(domain.StagePreparing)
	p.state.SetProgress(0, 0)
	p.state.SetCoverArtProgress(0, 0)
	p.state.SetLyricsProgress(0, 0)
	p.state.ClearLogs()
	p.state.Log(domain.StagePreparing, fmt.Sprintf("Sync started (%s)", mode), false)

	p.prepare(ctx, r)

	type stageFn struct {
		stage domain.Stage
		fn    func(context.Context, *run)
	}
	sequence := []stageFn{
		{domain.StagePlaylists, p.stagePlaylists},
		{domain.StageJellyfin, p.stageJellyfin},
		{domain.StageArtists, p.stageArtists},
		{domain.StageArtistDetails, p.stageArtistDetails},
		{domain.StageGenres, p.stageGenres},
		{domain.StageAlbums, p.stageAlbums},
		{domain.StageAlbumDetails, p.stageAlbumDetails},
		{domain.StageSongs, p.stageSongs},
		{domain.StageCoverArt, p.stageCoverArt},
		{domain.StageLyrics, p.stageLyrics},
	}

	for _, s := range sequence {
		if err := ctx.Err(); err != nil {
			return err
		}
		// Stage is published before fetch begins so observers see
		// "currently syncing: X" rather than the prior stage.
		p.state.SetStage(s.stage)
		s.fn(ctx, r)
	}

	p.commitSignatures(ctx, r)

	p.state.SetStage(domain.StageDone)
	p.state.SetLastCompletedAt(time.Now().UnixMilli())
	p.state.SetActive(false)
	p.state.Log(domain.StageDone, "Sync complete", true)
	return nil
}

// prepare evaluates delta signatures and marks unchanged sources as
// skipped for this run. force runs (FULL mode) never skip.
func (p *Pipeline) prepare(ctx context.Context, r *run) {
	if r.mode == domain.SyncModeFull {
		return
	}
	for _, f := range r.fetchers {
		if p.deltaUnchanged(ctx, f.SourceID(), f.Signature) {
			r.skipped[f.SourceID()] = true
			p.state.Log(domain.StagePreparing, fmt.Sprintf("%s delta: no changes", f.Kind()), true)
		}
	}
	for _, jf := range r.jellyfin {
		id := jf.Server().ID
		if p.deltaUnchanged(ctx, id, jf.Signature) {
			r.skipped[id] = true
			p.state.Log(domain.StagePreparing, fmt.Sprintf("Jellyfin delta: no changes (%s)", jf.Server().DisplayName()), true)
		}
	}
}

func (p *Pipeline) deltaUnchanged(ctx context.Context, sourceID string, signature func(context.Context) (string, error)) bool {
	sig, err := signature(ctx)
	if err != nil || sig == "" {
		return false
	}
	stored := store.StateField[string](p.store, sigKey(sourceID))
	if sig != stored {
		return false
	}
	lastFull := store.StateField[int64](p.store, fullKey(sourceID))
	return !shouldForceFull(lastFull, time.Now())
}

// commitSignatures records the post-run signature of every source that
// actually synced, so the next delta run can skip it.
func (p *Pipeline) commitSignatures(ctx context.Context, r *run) {
	now := time.Now().UnixMilli()
	record := func(sourceID string, signature func(context.Context) (string, error)) {
		if r.skipped[sourceID] {
			return
		}
		sig, err := signature(ctx)
		if err != nil || sig == "" {
			return
		}
		p.store.PutStateField(sigKey(sourceID), sig)
		p.store.PutStateField(fullKey(sourceID), now)
	}
	for _, f := range r.fetchers {
		record(f.SourceID(), f.Signature)
	}
	for _, jf := range r.jellyfin {
		record(jf.Server().ID, jf.Signature)
	}
}

func sigKey(sourceID string) string  { return "sync_sig_" + sourceID }
func fullKey(sourceID string) string { return "sync_full_" + sourceID }

// shouldForceFull reports whether the periodic full refresh is due.
func shouldForceFull(lastFull int64, now time.Time) bool {
	if lastFull <= 0 {
		return true
	}
	return now.UnixMilli()-lastFull >= fullRefreshInterval.Milliseconds()
}

// logProgress appends a log entry at the first, last and every
// interval-th item, keeping the ring readable on large libraries.
func (p *Pipeline) logProgress(stage domain.Stage, index, total int, message string, interval int) {
	if index <= 0 || total <= 0 {
		return
	}
	if index == 1 || index%interval == 0 || index == total {
		p.state.Log(stage, fmt.Sprintf("%s (%d/%d)", message, index, total), false)
	}
}

// logFailure records a non-fatal per-source fetch failure.
func (p *Pipeline) logFailure(stage domain.Stage, f domain.Fetcher, err error) {
	p.logger.Warn("source fetch failed", "stage", stage.String(), "source", f.SourceID(), "kind", string(f.Kind()), "error", err)
	p.state.Log(stage, fmt.Sprintf("%s fetch failed (%s)", stage, f.Kind()), false)
}

// progressAggregator folds incremental pagination progress from
// concurrent sources into one counter pair for the publisher.
type progressAggregator struct {
	mu       sync.Mutex
	current  map[string]int
	total    map[string]int
	report   func(current, total int)
}

func newProgressAggregator(report func(current, total int)) *progressAggregator {
	return &progressAggregator{
		current: make(map[string]int),
		total:   make(map[string]int),
		report:  report,
	}
}

// forSource returns the ProgressFunc handed to one source's fetch.
func (a *progressAggregator) forSource(sourceID string) domain.ProgressFunc {
	return func(current, total int) {
		a.mu.Lock()
		a.current[sourceID] = current
		if total > 0 {
			a.total[sourceID] = total
		}
		sumCurrent, sumTotal := 0, 0
		for _, c := range a.current {
			sumCurrent += c
		}
		for _, t := range a.total {
			sumTotal += t
		}
		a.mu.Unlock()
		a.report(sumCurrent, sumTotal)
	}
}

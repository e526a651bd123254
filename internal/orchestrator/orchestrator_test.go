package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/tutti/internal/domain"
	"github.com/avolkov/tutti/internal/log"
	"github.com/avolkov/tutti/internal/pipeline"
	"github.com/avolkov/tutti/internal/state"
	"github.com/avolkov/tutti/internal/store"
)

type staticProvider struct {
	fetchers []domain.Fetcher
	jellyfin []domain.JellyfinFetcher
}

func (p *staticProvider) Fetchers() ([]domain.Fetcher, []domain.JellyfinFetcher) {
	return p.fetchers, p.jellyfin
}

type offline struct{}

func (offline) Offline() bool { return true }

// blockingFetcher parks inside FetchPlaylists until released, so tests
// can hold a run open at a known point.
type blockingFetcher struct {
	started chan struct{}
	release chan struct{}
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (f *blockingFetcher) Kind() domain.SourceKind             { return domain.SourceSubsonic }
func (f *blockingFetcher) SourceID() string                    { return "subsonic" }
func (f *blockingFetcher) Supports(domain.Stage) bool          { return true }
func (f *blockingFetcher) Signature(context.Context) (string, error) { return "", nil }

func (f *blockingFetcher) FetchPlaylists(context.Context) ([]domain.Playlist, error) {
	close(f.started)
	<-f.release
	return nil, nil
}

func (f *blockingFetcher) FetchPlaylistSongs(context.Context, string) ([]domain.Song, error) {
	return nil, nil
}
func (f *blockingFetcher) FetchArtists(context.Context) ([]domain.Artist, error) { return nil, nil }
func (f *blockingFetcher) FetchArtistInfo(context.Context, string) (*domain.ArtistInfo, error) {
	return nil, nil
}
func (f *blockingFetcher) FetchGenres(context.Context) ([]domain.Genre, error) { return nil, nil }
func (f *blockingFetcher) FetchAlbums(context.Context, domain.ProgressFunc) ([]domain.Album, error) {
	return nil, nil
}
func (f *blockingFetcher) FetchAlbumInfo(context.Context, string) (*domain.AlbumInfo, error) {
	return nil, nil
}
func (f *blockingFetcher) FetchSongs(context.Context, domain.ProgressFunc) ([]domain.Song, error) {
	return nil, nil
}
func (f *blockingFetcher) FetchCoverArt(context.Context, string) ([]byte, error) { return nil, nil }
func (f *blockingFetcher) FetchLyrics(context.Context, string) (*domain.Lyrics, error) {
	return nil, nil
}

func newTestOrchestrator(t *testing.T, cfg Config) (*Orchestrator, *state.Publisher) {
	t.Helper()
	st, err := store.New("")
	require.NoError(t, err)
	publisher := state.NewPublisher(st, log.Null())

	cfg.State = publisher
	cfg.Logger = log.Null()
	if cfg.Pipeline == nil {
		cfg.Pipeline = pipeline.New(pipeline.Config{Store: st, State: publisher, Logger: log.Null()})
	}
	if cfg.Provider == nil {
		cfg.Provider = &staticProvider{}
	}
	return New(cfg), publisher
}

func TestRunSyncNowCompletes(t *testing.T) {
	o, publisher := newTestOrchestrator(t, Config{})

	require.NoError(t, o.RunSyncNow(context.Background(), false))

	snap := publisher.Snapshot()
	assert.False(t, snap.Active)
	assert.Equal(t, domain.StageDone, snap.Stage)
	assert.Greater(t, snap.LastCompletedAt, int64(0))
}

func TestConcurrentTriggerDropped(t *testing.T) {
	f := newBlockingFetcher()
	o, _ := newTestOrchestrator(t, Config{Provider: &staticProvider{fetchers: []domain.Fetcher{f}}})

	var wg sync.WaitGroup
	var firstErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = o.RunSyncNow(context.Background(), false)
	}()

	<-f.started
	assert.True(t, o.Active())
	// Second trigger while the first holds the flag: dropped, no queue.
	assert.ErrorIs(t, o.RunSyncNow(context.Background(), false), domain.ErrSyncActive)

	close(f.release)
	wg.Wait()
	assert.NoError(t, firstErr)
	assert.False(t, o.Active())
}

func TestOfflineSkipsRun(t *testing.T) {
	o, publisher := newTestOrchestrator(t, Config{Connectivity: offline{}})

	assert.ErrorIs(t, o.RunSyncNow(context.Background(), false), domain.ErrOffline)
	assert.False(t, publisher.Snapshot().Active)
	assert.False(t, o.StartIfNeeded())
}

func TestStartIfNeededThrottled(t *testing.T) {
	base := time.Now()
	o, publisher := newTestOrchestrator(t, Config{Now: func() time.Time { return base }})

	// A run completed an hour ago: inside the six hour window.
	publisher.SetLastCompletedAt(base.Add(-1 * time.Hour).UnixMilli())
	assert.False(t, o.StartIfNeeded())
}

func TestStartIfNeededDue(t *testing.T) {
	base := time.Now()
	o, publisher := newTestOrchestrator(t, Config{Now: func() time.Time { return base }})

	publisher.SetLastCompletedAt(base.Add(-7 * time.Hour).UnixMilli())
	assert.True(t, o.StartIfNeeded())
}

func TestStartIfNeededDataSaving(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{DataSaving: true})
	assert.False(t, o.StartIfNeeded())
	// Explicit triggers are unaffected.
	assert.NoError(t, o.RunSyncNow(context.Background(), false))
}

func TestStartIfNeededNeverSynced(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{})
	assert.True(t, o.StartIfNeeded())
}

func TestSyncDue(t *testing.T) {
	now := time.Now()
	assert.True(t, syncDue(0, now, minSyncInterval))
	assert.True(t, syncDue(now.Add(-7*time.Hour).UnixMilli(), now, minSyncInterval))
	assert.False(t, syncDue(now.Add(-time.Hour).UnixMilli(), now, minSyncInterval))
}

func TestRecoverIfStalledRestarts(t *testing.T) {
	base := time.Now()
	o, publisher := newTestOrchestrator(t, Config{Now: func() time.Time { return base.Add(20 * time.Minute) }})

	// Simulate a run that died mid-flight: active flag persisted, last
	// progress movement 20 minutes in the past.
	publisher.SetActive(true)
	publisher.SetStage(domain.StageSongs)
	publisher.SetProgress(10, 100)

	assert.True(t, o.RecoverIfStalled())
}

func TestRecoverIgnoresFreshRun(t *testing.T) {
	base := time.Now()
	o, publisher := newTestOrchestrator(t, Config{Now: func() time.Time { return base.Add(1 * time.Minute) }})

	publisher.SetActive(true)
	publisher.SetProgress(10, 100)

	assert.False(t, o.RecoverIfStalled())
}

func TestRecoverIgnoresIdleState(t *testing.T) {
	o, _ := newTestOrchestrator(t, Config{})
	assert.False(t, o.RecoverIfStalled())
}

func TestRecoverIgnoresInProcessRun(t *testing.T) {
	f := newBlockingFetcher()
	base := time.Now()
	o, _ := newTestOrchestrator(t, Config{
		Provider: &staticProvider{fetchers: []domain.Fetcher{f}},
		Now:      func() time.Time { return base.Add(time.Hour) },
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = o.RunSyncNow(context.Background(), false)
	}()

	<-f.started
	assert.False(t, o.RecoverIfStalled())

	close(f.release)
	wg.Wait()
}

package pipeline

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/avolkov/tutti/internal/domain"
	"github.com/avolkov/tutti/internal/reconcile"
	"github.com/avolkov/tutti/internal/search"
	"github.com/avolkov/tutti/internal/store"
)

// fetchResult pairs one source's items with the fetcher that produced
// them, so stages can route follow-up calls back to the owning source.
type fetchResult[T any] struct {
	fetcher domain.Fetcher
	items   []T
}

// fetchEach invokes fetch concurrently for every applicable source and
// joins the results. A failing source is logged and dropped; the stage
// continues with whatever the others returned.
func fetchEach[T any](ctx context.Context, p *Pipeline, stage domain.Stage, fetchers []domain.Fetcher, fetch func(context.Context, domain.Fetcher) ([]T, error)) ([]fetchResult[T], int) {
	var mu sync.Mutex
	var results []fetchResult[T]
	failures := 0

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range fetchers {
		g.Go(func() error {
			items, err := fetch(gctx, f)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				p.logFailure(stage, f, err)
				return nil
			}
			results = append(results, fetchResult[T]{fetcher: f, items: items})
			return nil
		})
	}
	g.Wait()
	return results, failures
}

func bySource[T any](results []fetchResult[T]) map[domain.SourceKind][]T {
	m := make(map[domain.SourceKind][]T)
	for _, r := range results {
		m[r.fetcher.Kind()] = append(m[r.fetcher.Kind()], r.items...)
	}
	return m
}

// addSkippedFromCache folds cached entries belonging to delta-skipped
// sources back into the merge inputs. Without this, a partial run would
// rewrite the merged key with only the freshly fetched sources.
func addSkippedFromCache[T any](p *Pipeline, r *run, stage domain.Stage, key string, id func(T) string, sources map[domain.SourceKind][]T) {
	kinds := r.skippedKinds(stage)
	if len(kinds) == 0 {
		return
	}
	cached, err := store.Load[[]T](p.store, key)
	if err != nil {
		return
	}
	for _, item := range cached {
		kind := reconcile.SourceOf(id(item))
		if kinds[kind] {
			sources[kind] = append(sources[kind], item)
		}
	}
}

// === PLAYLISTS ===

func (p *Pipeline) stagePlaylists(ctx context.Context, r *run) {
	fetchers := r.applicable(domain.StagePlaylists)
	if len(fetchers) == 0 {
		return
	}

	p.state.SetProgress(0, 0)
	p.state.Log(domain.StagePlaylists, "Fetching playlists", false)

	results, failures := fetchEach(ctx, p, domain.StagePlaylists, fetchers,
		func(ctx context.Context, f domain.Fetcher) ([]domain.Playlist, error) {
			return f.FetchPlaylists(ctx)
		})

	sources := bySource(results)
	addSkippedFromCache(p, r, domain.StagePlaylists, store.KeyPlaylists,
		func(pl domain.Playlist) string { return pl.ID }, sources)

	merged := reconcile.Playlists(sources)
	if len(merged) == 0 && failures > 0 {
		p.state.Log(domain.StagePlaylists, "Playlists unavailable; keeping previous cache", true)
		return
	}
	p.store.Put(store.KeyPlaylists, merged)

	// Route each playlist's songs fetch back to its owning source.
	owner := make(map[string]domain.Fetcher)
	for _, res := range results {
		for _, pl := range res.items {
			owner[pl.ID] = res.fetcher
		}
	}

	total := len(merged)
	p.state.SetProgress(0, total)
	for i, pl := range merged {
		if ctx.Err() != nil {
			return
		}
		if pl.CoverArtID != "" {
			r.coverIDs[pl.CoverArtID] = struct{}{}
		}
		if f := owner[pl.ID]; f != nil {
			songs, err := f.FetchPlaylistSongs(ctx, pl.ID)
			if err == nil {
				p.store.Put(store.PlaylistSongsKey(pl.ID), songs)
			} else {
				p.state.Log(domain.StagePlaylists, fmt.Sprintf("Playlist songs fetch failed (%s)", pl.ID), false)
			}
		}
		name := pl.Name
		if name == "" {
			name = pl.ID
		}
		p.logProgress(domain.StagePlaylists, i+1, total, "Playlist: "+name, logIntervalSmall)
		p.state.SetProgress(i+1, total)
	}
	p.state.Log(domain.StagePlaylists, fmt.Sprintf("Playlists cached (%d)", total), true)
}

// === JELLYFIN ===

func (p *Pipeline) stageJellyfin(ctx context.Context, r *run) {
	var servers []domain.JellyfinFetcher
	for _, jf := range r.jellyfin {
		if !r.skipped[jf.Server().ID] {
			servers = append(servers, jf)
		}
	}

	if len(servers) > 0 {
		p.state.SetProgress(0, len(servers))
		p.state.Log(domain.StageJellyfin, "Fetching Jellyfin libraries", false)

		entries := 0
		for i, jf := range servers {
			if ctx.Err() != nil {
				return
			}
			lib, err := jf.FetchLibrary(ctx)
			if err != nil {
				p.logger.Warn("jellyfin fetch failed", "server", jf.Server().ID, "error", err)
				p.state.Log(domain.StageJellyfin, fmt.Sprintf("Jellyfin fetch failed (%s)", jf.Server().DisplayName()), false)
			} else if lib != nil {
				tagJellyfinLibrary(lib)
				r.jfLibs = append(r.jfLibs, *lib)
				entries += len(lib.Artists) + len(lib.Albums) + len(lib.Songs)
				for _, s := range lib.Songs {
					if s.CoverArtID != "" {
						r.coverIDs[s.CoverArtID] = struct{}{}
					}
				}
				for _, a := range lib.Albums {
					if a.CoverArtID != "" {
						r.coverIDs[a.CoverArtID] = struct{}{}
					}
				}
			}
			p.logProgress(domain.StageJellyfin, i+1, len(servers), "Jellyfin: "+jf.Server().DisplayName(), logIntervalSmall)
			p.state.SetProgress(i+1, len(servers))
		}

		if len(r.jfLibs) > 0 {
			p.store.Put(store.KeyJellyfinLibrary, r.jfLibs)
			p.state.Log(domain.StageJellyfin, fmt.Sprintf("Jellyfin cached (%d)", entries), true)
		}
	}

	// Delta-skipped servers still contribute the registry's cached
	// entries to the merge stages below. Only libraries of servers
	// configured this run qualify; a removed server's cache must not
	// keep flowing into merges.
	if len(r.jfLibs) == 0 && len(r.jellyfin) > 0 {
		cached, err := store.Load[[]domain.JellyfinLibrary](p.store, store.KeyJellyfinLibrary)
		if err != nil {
			return
		}
		configured := make(map[string]bool, len(r.jellyfin))
		for _, jf := range r.jellyfin {
			configured[jf.Server().ID] = true
		}
		for _, lib := range cached {
			if configured[lib.ServerID] {
				r.jfLibs = append(r.jfLibs, lib)
			}
		}
	}
}

// tagJellyfinLibrary namespaces every identifier a server returned.
// Tagging is idempotent, so pre-tagged fetchers pass through unchanged.
func tagJellyfinLibrary(lib *domain.JellyfinLibrary) {
	tag := func(id string) string { return reconcile.Tag(domain.SourceJellyfin, id) }
	for i := range lib.Artists {
		lib.Artists[i].ID = tag(lib.Artists[i].ID)
		lib.Artists[i].CoverArtID = tag(lib.Artists[i].CoverArtID)
	}
	for i := range lib.Albums {
		lib.Albums[i].ID = tag(lib.Albums[i].ID)
		lib.Albums[i].ArtistID = tag(lib.Albums[i].ArtistID)
		lib.Albums[i].CoverArtID = tag(lib.Albums[i].CoverArtID)
	}
	for i := range lib.Songs {
		lib.Songs[i].ID = tag(lib.Songs[i].ID)
		lib.Songs[i].AlbumID = tag(lib.Songs[i].AlbumID)
		lib.Songs[i].ArtistID = tag(lib.Songs[i].ArtistID)
		lib.Songs[i].CoverArtID = tag(lib.Songs[i].CoverArtID)
	}
}

func (r *run) jellyfinArtists() []domain.Artist {
	var out []domain.Artist
	for _, lib := range r.jfLibs {
		out = append(out, lib.Artists...)
	}
	return out
}

func (r *run) jellyfinAlbums() []domain.Album {
	var out []domain.Album
	for _, lib := range r.jfLibs {
		out = append(out, lib.Albums...)
	}
	return out
}

func (r *run) jellyfinSongs() []domain.Song {
	var out []domain.Song
	for _, lib := range r.jfLibs {
		out = append(out, lib.Songs...)
	}
	return out
}

// === ARTISTS ===

func (p *Pipeline) stageArtists(ctx context.Context, r *run) {
	fetchers := r.applicable(domain.StageArtists)
	jf := r.jellyfinArtists()
	if len(fetchers) == 0 && len(jf) == 0 {
		return
	}

	p.state.SetProgress(0, 0)
	p.state.Log(domain.StageArtists, "Fetching artists", false)

	results, failures := fetchEach(ctx, p, domain.StageArtists, fetchers,
		func(ctx context.Context, f domain.Fetcher) ([]domain.Artist, error) {
			return f.FetchArtists(ctx)
		})

	sources := bySource(results)
	sources[domain.SourceJellyfin] = append(sources[domain.SourceJellyfin], jf...)
	addSkippedFromCache(p, r, domain.StageArtists, store.KeyArtistsAll,
		func(a domain.Artist) string { return a.ID }, sources)

	merged := reconcile.Artists(sources)
	if len(merged) == 0 && failures > 0 {
		p.state.Log(domain.StageArtists, "Artists unavailable; keeping previous cache", true)
		r.artists = p.cachedArtists()
		return
	}
	p.store.Put(store.KeyArtistsAll, merged)
	r.artists = merged
	for _, a := range merged {
		if a.CoverArtID != "" {
			r.coverIDs[a.CoverArtID] = struct{}{}
		}
	}
	p.state.SetProgress(len(merged), len(merged))
	p.state.Log(domain.StageArtists, fmt.Sprintf("Artists cached (%d)", len(merged)), true)
}

func (p *Pipeline) cachedArtists() []domain.Artist {
	cached, err := store.Load[[]domain.Artist](p.store, store.KeyArtistsAll)
	if err != nil {
		return nil
	}
	return cached
}

// === ARTIST_DETAILS ===

func (p *Pipeline) stageArtistDetails(ctx context.Context, r *run) {
	p.stageDetails(ctx, r, domain.StageArtistDetails, len(r.artists), func(i int) (string, string, domain.SourceKind) {
		return r.artists[i].ID, r.artists[i].Name, reconcile.SourceOf(r.artists[i].ID)
	}, func(ctx context.Context, f domain.Fetcher, id string) ([]string, error) {
		info, err := f.FetchArtistInfo(ctx, id)
		if err != nil || info == nil {
			return nil, err
		}
		p.store.Put(store.ArtistInfoKey(id), *info)
		return info.ImageURLs(), nil
	}, "Artist details")
}

// === GENRES ===

func (p *Pipeline) stageGenres(ctx context.Context, r *run) {
	fetchers := r.applicable(domain.StageGenres)
	if len(fetchers) == 0 {
		return
	}
	// Genre rows carry no source-tagged identity, so a partial refresh
	// cannot be reconciled with cached rows; keep the previous cache
	// whenever any contributing source was delta-skipped.
	if len(r.skippedKinds(domain.StageGenres)) > 0 {
		return
	}

	p.state.SetProgress(0, 0)
	p.state.Log(domain.StageGenres, "Fetching genres", false)

	results, failures := fetchEach(ctx, p, domain.StageGenres, fetchers,
		func(ctx context.Context, f domain.Fetcher) ([]domain.Genre, error) {
			return f.FetchGenres(ctx)
		})

	merged := reconcile.Genres(bySource(results))
	if len(merged) == 0 && failures > 0 {
		p.state.Log(domain.StageGenres, "Genres unavailable; keeping previous cache", true)
		return
	}
	p.store.Put(store.KeyGenresAll, merged)
	p.state.SetProgress(len(merged), len(merged))
	p.state.Log(domain.StageGenres, fmt.Sprintf("Genres cached (%d)", len(merged)), true)
}

// === ALBUMS ===

func (p *Pipeline) stageAlbums(ctx context.Context, r *run) {
	fetchers := r.applicable(domain.StageAlbums)
	jf := r.jellyfinAlbums()
	if len(fetchers) == 0 && len(jf) == 0 {
		return
	}

	p.state.SetProgress(0, 0)
	p.state.Log(domain.StageAlbums, "Fetching albums", false)

	// Paginated fetches report incrementally as batches arrive.
	agg := newProgressAggregator(p.state.SetProgress)
	results, failures := fetchEach(ctx, p, domain.StageAlbums, fetchers,
		func(ctx context.Context, f domain.Fetcher) ([]domain.Album, error) {
			return f.FetchAlbums(ctx, agg.forSource(f.SourceID()))
		})

	sources := bySource(results)
	sources[domain.SourceJellyfin] = append(sources[domain.SourceJellyfin], jf...)
	addSkippedFromCache(p, r, domain.StageAlbums, store.KeyAlbumsAll,
		func(a domain.Album) string { return a.ID }, sources)

	merged := reconcile.Albums(sources)
	if len(merged) == 0 && failures > 0 {
		p.state.Log(domain.StageAlbums, "Albums unavailable; keeping previous cache", true)
		r.albums = p.cachedAlbums()
		return
	}
	p.store.Put(store.KeyAlbumsAll, merged)
	r.albums = merged
	for _, a := range merged {
		if a.CoverArtID != "" {
			r.coverIDs[a.CoverArtID] = struct{}{}
		}
	}
	p.state.SetProgress(len(merged), len(merged))
	p.state.Log(domain.StageAlbums, fmt.Sprintf("Albums cached (%d)", len(merged)), true)
}

func (p *Pipeline) cachedAlbums() []domain.Album {
	cached, err := store.Load[[]domain.Album](p.store, store.KeyAlbumsAll)
	if err != nil {
		return nil
	}
	return cached
}

// === ALBUM_DETAILS ===

func (p *Pipeline) stageAlbumDetails(ctx context.Context, r *run) {
	p.stageDetails(ctx, r, domain.StageAlbumDetails, len(r.albums), func(i int) (string, string, domain.SourceKind) {
		return r.albums[i].ID, r.albums[i].Name, reconcile.SourceOf(r.albums[i].ID)
	}, func(ctx context.Context, f domain.Fetcher, id string) ([]string, error) {
		info, err := f.FetchAlbumInfo(ctx, id)
		if err != nil || info == nil {
			return nil, err
		}
		p.store.Put(store.AlbumInfoKey(id), *info)
		return info.ImageURLs(), nil
	}, "Album details")
}

// stageDetails fans out per-entity detail fetches with bounded
// parallelism. Per-item failures are silently skipped; the detail blobs
// are best-effort enrichment.
//
// Tagged ids identify a kind, not a single source, so every fetcher of
// the matching kind is tried until one resolves the id (two local
// folders share the local_ namespace).
func (p *Pipeline) stageDetails(ctx context.Context, r *run, stage domain.Stage, total int,
	entity func(i int) (id, name string, kind domain.SourceKind),
	fetch func(ctx context.Context, f domain.Fetcher, id string) ([]string, error),
	label string,
) {
	byKind := make(map[domain.SourceKind][]domain.Fetcher)
	for _, f := range r.applicable(stage) {
		byKind[f.Kind()] = append(byKind[f.Kind()], f)
	}
	if len(byKind) == 0 || total == 0 {
		return
	}

	p.state.SetProgress(0, total)

	var mu sync.Mutex
	done := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i := 0; i < total; i++ {
		id, name, kind := entity(i)
		candidates := byKind[kind]
		if len(candidates) == 0 || id == "" {
			continue
		}
		g.Go(func() error {
			var urls []string
			err := error(domain.ErrSourceNotFound)
			for _, f := range candidates {
				urls, err = fetch(gctx, f, id)
				if err == nil {
					break
				}
			}

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				for _, u := range urls {
					r.coverURLs[u] = struct{}{}
				}
			}
			done++
			p.logProgress(stage, done, total, label+": "+name, logIntervalMedium)
			p.state.SetProgress(done, total)
			return nil
		})
	}
	g.Wait()
	p.state.Log(stage, fmt.Sprintf("%s cached (%d)", label, done), true)
}

// === SONGS ===

func (p *Pipeline) stageSongs(ctx context.Context, r *run) {
	fetchers := r.applicable(domain.StageSongs)
	jf := r.jellyfinSongs()
	if len(fetchers) == 0 && len(jf) == 0 {
		return
	}

	p.state.SetProgress(0, 0)
	p.state.Log(domain.StageSongs, "Fetching songs", false)

	agg := newProgressAggregator(p.state.SetProgress)
	results, failures := fetchEach(ctx, p, domain.StageSongs, fetchers,
		func(ctx context.Context, f domain.Fetcher) ([]domain.Song, error) {
			return f.FetchSongs(ctx, agg.forSource(f.SourceID()))
		})

	sources := bySource(results)
	sources[domain.SourceJellyfin] = append(sources[domain.SourceJellyfin], jf...)
	addSkippedFromCache(p, r, domain.StageSongs, store.KeySongsAll,
		func(s domain.Song) string { return s.ID }, sources)

	merged := reconcile.Songs(sources)
	if len(merged) == 0 && failures > 0 {
		// Songs is mandatory: never overwrite good data with empty results.
		p.state.Log(domain.StageSongs, "Songs returned empty; keeping previous cache", true)
	} else {
		p.store.Put(store.KeySongsAll, merged)
		for _, s := range merged {
			r.addSong(s)
		}
		p.state.SetProgress(len(merged), len(merged))
		p.state.Log(domain.StageSongs, fmt.Sprintf("Songs cached (%d)", len(merged)), true)
	}

	p.rebuildSearchIndex(r)
}

// rebuildSearchIndex refreshes the persisted library search index from
// this run's reconciled collections.
func (p *Pipeline) rebuildSearchIndex(r *run) {
	if len(r.songs) == 0 && len(r.albums) == 0 && len(r.artists) == 0 {
		return
	}
	entries := search.Build(r.artists, r.albums, r.songs)
	p.store.Put(store.KeySearchIndex, entries)
}

// hydrateFromCache backfills song and cover inputs for the asset stages
// when delta skips left this run without fresh listing data.
func (p *Pipeline) hydrateFromCache(r *run, stage domain.Stage) {
	if len(r.songs) > 0 && len(r.coverIDs) > 0 {
		return
	}

	if songs, err := store.Load[[]domain.Song](p.store, store.KeySongsAll); err == nil {
		for _, s := range songs {
			r.addSong(s)
		}
	}
	if albums, err := store.Load[[]domain.Album](p.store, store.KeyAlbumsAll); err == nil {
		for _, a := range albums {
			if a.CoverArtID != "" {
				r.coverIDs[a.CoverArtID] = struct{}{}
			}
		}
	}
	if artists, err := store.Load[[]domain.Artist](p.store, store.KeyArtistsAll); err == nil {
		for _, a := range artists {
			if a.CoverArtID != "" {
				r.coverIDs[a.CoverArtID] = struct{}{}
			}
		}
	}
	if playlists, err := store.Load[[]domain.Playlist](p.store, store.KeyPlaylists); err == nil {
		for _, pl := range playlists {
			if pl.CoverArtID != "" {
				r.coverIDs[pl.CoverArtID] = struct{}{}
			}
		}
	}

	if len(r.songs) > 0 || len(r.coverIDs) > 0 {
		p.state.Log(stage, "Using cached metadata for lyrics/cover art", false)
	}
}

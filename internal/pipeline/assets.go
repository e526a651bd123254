package pipeline

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/avolkov/tutti/internal/domain"
	"github.com/avolkov/tutti/internal/reconcile"
	"github.com/avolkov/tutti/internal/store"
)

// === COVER_ART ===

// stageCoverArt downloads every cover blob referenced by this run's
// metadata. Already-cached blobs are skipped, so incremental runs only
// pull what is new.
func (p *Pipeline) stageCoverArt(ctx context.Context, r *run) {
	if p.dataSaving {
		p.state.Log(domain.StageCoverArt, "Data saving enabled; skipping cover art", true)
		return
	}

	p.hydrateFromCache(r, domain.StageCoverArt)

	var ids []string
	for id := range r.coverIDs {
		if !p.store.HasAsset(id) {
			ids = append(ids, id)
		}
	}
	var urls []string
	for u := range r.coverURLs {
		if !p.store.HasAsset(u) {
			urls = append(urls, u)
		}
	}

	total := len(ids) + len(urls)
	if total == 0 {
		p.state.SetCoverArtProgress(0, 0)
		p.state.Log(domain.StageCoverArt, "Cover art queue empty", true)
		return
	}

	p.state.SetCoverArtProgress(0, total)
	p.state.Log(domain.StageCoverArt, fmt.Sprintf("Fetching cover art (%d pending)", total), false)

	done, failed := 0, 0
	advance := func(label string, ok bool) {
		done++
		if !ok {
			failed++
		}
		p.state.SetCoverArtProgress(done, total)
		p.logProgress(domain.StageCoverArt, done, total, "Cover art: "+label, logIntervalLarge)
	}

	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		data, err := p.fetchCoverByID(ctx, r, id)
		if err == nil && len(data) > 0 {
			p.store.PutAsset(id, data)
			advance(id, true)
		} else {
			advance(id, false)
		}
	}

	for _, u := range urls {
		if ctx.Err() != nil {
			return
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		data, err := p.fetchURL(ctx, u)
		if err == nil && len(data) > 0 {
			p.store.PutAsset(u, data)
			advance("image", true)
		} else {
			advance("image", false)
		}
	}

	if failed > 0 {
		p.state.Log(domain.StageCoverArt, fmt.Sprintf("Cover art cached (%d, %d failed)", done-failed, failed), true)
	} else {
		p.state.Log(domain.StageCoverArt, fmt.Sprintf("Cover art cached (%d)", done), true)
	}
}

// fetchCoverByID routes a cover fetch to the source its tagged id names.
func (p *Pipeline) fetchCoverByID(ctx context.Context, r *run, id string) ([]byte, error) {
	if reconcile.IsJellyfinTagged(id) {
		var lastErr error = domain.ErrSourceNotFound
		for _, jf := range r.jellyfin {
			data, err := jf.FetchCoverArt(ctx, id)
			if err == nil {
				return data, nil
			}
			lastErr = err
		}
		return nil, lastErr
	}

	// Tagged ids name a kind, not a single source, so every fetcher of
	// the matching kind is tried (two local folders share the local_
	// namespace and only the owning one resolves the id).
	kind := reconcile.SourceOf(id)
	var lastErr error = domain.ErrSourceNotFound
	for _, f := range r.fetchers {
		if f.Kind() != kind || !f.Supports(domain.StageCoverArt) {
			continue
		}
		data, err := f.FetchCoverArt(ctx, id)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

func (p *Pipeline) fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image fetch: unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// === LYRICS ===

func (p *Pipeline) stageLyrics(ctx context.Context, r *run) {
	if p.dataSaving {
		p.state.Log(domain.StageLyrics, "Data saving enabled; skipping lyrics", true)
		return
	}

	p.hydrateFromCache(r, domain.StageLyrics)

	byKind := make(map[domain.SourceKind][]domain.Fetcher)
	for _, f := range r.fetchers {
		if f.Supports(domain.StageLyrics) {
			byKind[f.Kind()] = append(byKind[f.Kind()], f)
		}
	}
	if len(byKind) == 0 {
		return
	}

	var pending []domain.Song
	for _, s := range r.songs {
		if len(byKind[reconcile.SourceOf(s.ID)]) == 0 {
			continue
		}
		if p.store.Has(store.LyricsKey(s.ID)) {
			continue
		}
		pending = append(pending, s)
	}

	total := len(pending)
	if total == 0 {
		p.state.SetLyricsProgress(0, 0)
		p.state.Log(domain.StageLyrics, "Lyrics queue empty", true)
		return
	}

	p.state.SetLyricsProgress(0, total)
	p.state.Log(domain.StageLyrics, fmt.Sprintf("Fetching lyrics (%d pending)", total), false)

	cached := 0
	for i, s := range pending {
		if ctx.Err() != nil {
			return
		}
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		for _, f := range byKind[reconcile.SourceOf(s.ID)] {
			lyr, err := f.FetchLyrics(ctx, s.ID)
			if err == nil && lyr != nil && len(lyr.Lines) > 0 {
				p.store.Put(store.LyricsKey(s.ID), *lyr)
				cached++
				break
			}
		}
		p.state.SetLyricsProgress(i+1, total)
		p.logProgress(domain.StageLyrics, i+1, total, "Lyrics: "+s.Title, logIntervalMedium)
	}

	p.state.Log(domain.StageLyrics, fmt.Sprintf("Lyrics cached (%d)", cached), true)
}

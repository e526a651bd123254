// Package search builds and queries the persisted library search index.
// The index is rebuilt from the reconciled collections after every song
// sync; queries run fully offline against the cached rows.
package search

import (
	"sort"
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/avolkov/tutti/internal/domain"
	"github.com/avolkov/tutti/internal/reconcile"
	"github.com/avolkov/tutti/internal/store"
)

// Build flattens the reconciled collections into index rows. Row order
// is artists, albums, songs; Query re-ranks by match quality anyway.
func Build(artists []domain.Artist, albums []domain.Album, songs []domain.Song) []store.IndexEntry {
	entries := make([]store.IndexEntry, 0, len(artists)+len(albums)+len(songs))
	for _, a := range artists {
		entries = append(entries, store.IndexEntry{
			ID:     a.ID,
			Type:   store.IndexTypeArtist,
			Title:  a.Name,
			Source: reconcile.SourceOf(a.ID),
			Cover:  a.CoverArtID,
		})
	}
	for _, a := range albums {
		entries = append(entries, store.IndexEntry{
			ID:     a.ID,
			Type:   store.IndexTypeAlbum,
			Title:  a.Name,
			Artist: a.Artist,
			Source: reconcile.SourceOf(a.ID),
			Cover:  a.CoverArtID,
		})
	}
	for _, s := range songs {
		entries = append(entries, store.IndexEntry{
			ID:     s.ID,
			Type:   store.IndexTypeSong,
			Title:  s.Title,
			Artist: s.Artist,
			Album:  s.Album,
			Source: reconcile.SourceOf(s.ID),
			Cover:  s.CoverArtID,
		})
	}
	return entries
}

// Filter narrows Query to a subset of the index.
type Filter struct {
	Types   []string            // Entry types to include (nil = all)
	Sources []domain.SourceKind // Sources to include (nil = all)
	Limit   int                 // Max results (0 = unbounded)
}

// Query fuzzy-matches query against entry titles and returns matching
// rows ranked best first. Matching is case- and diacritic-insensitive.
func Query(entries []store.IndexEntry, query string, f Filter) []store.IndexEntry {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	typeSet := make(map[string]bool, len(f.Types))
	for _, t := range f.Types {
		typeSet[t] = true
	}
	sourceSet := make(map[domain.SourceKind]bool, len(f.Sources))
	for _, s := range f.Sources {
		sourceSet[s] = true
	}

	var candidates []store.IndexEntry
	titles := make([]string, 0, len(entries))
	for _, e := range entries {
		if len(typeSet) > 0 && !typeSet[e.Type] {
			continue
		}
		if len(sourceSet) > 0 && !sourceSet[e.Source] {
			continue
		}
		candidates = append(candidates, e)
		titles = append(titles, e.Title)
	}

	ranks := fuzzy.RankFindNormalizedFold(query, titles)
	sort.Sort(ranks)

	out := make([]store.IndexEntry, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, candidates[r.OriginalIndex])
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out
}

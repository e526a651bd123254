// Package reconcile merges per-source fetch results into unified
// collections. Identity is purely the tagged identifier: identifiers are
// source-namespaced, so "merge" means concatenation in fixed priority
// order with dedupe by id, never field-level conflict resolution. Two
// sources exposing the same display name stay two items.
package reconcile

import (
	"strings"

	"github.com/avolkov/tutti/internal/domain"
)

// Identifier tag prefixes. Subsonic ids pass through untagged; the
// other namespaces are prefixed so downstream code can apply
// source-specific restrictions without per-source types.
const (
	jellyfinPrefix = "jf_"
	localPrefix    = "local_"
)

// Tag namespaces an id by its originating source.
func Tag(kind domain.SourceKind, id string) string {
	if id == "" {
		return ""
	}
	switch kind {
	case domain.SourceJellyfin:
		if strings.HasPrefix(id, jellyfinPrefix) {
			return id
		}
		return jellyfinPrefix + id
	case domain.SourceLocal:
		if strings.HasPrefix(id, localPrefix) {
			return id
		}
		return localPrefix + id
	default:
		return id
	}
}

// IsJellyfinTagged reports whether an id originates from a Jellyfin
// source. Shared predicate used by favorites, playlists and search.
func IsJellyfinTagged(id string) bool {
	return strings.HasPrefix(id, jellyfinPrefix)
}

// IsLocalTagged reports whether an id originates from a local folder.
func IsLocalTagged(id string) bool {
	return strings.HasPrefix(id, localPrefix)
}

// SourceOf resolves the originating source of a tagged id. Untagged ids
// belong to the Subsonic namespace.
func SourceOf(id string) domain.SourceKind {
	switch {
	case IsJellyfinTagged(id):
		return domain.SourceJellyfin
	case IsLocalTagged(id):
		return domain.SourceLocal
	default:
		return domain.SourceSubsonic
	}
}

// merge builds the unified collection by iterating sources in fixed
// priority order, deduplicating by id. Items with empty ids are dropped.
func merge[T any](bySource map[domain.SourceKind][]T, id func(T) string) []T {
	seen := make(map[string]struct{})
	var out []T
	for _, kind := range domain.MergePriority {
		for _, item := range bySource[kind] {
			key := id(item)
			if key == "" {
				continue
			}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, item)
		}
	}
	return out
}

func Songs(bySource map[domain.SourceKind][]domain.Song) []domain.Song {
	return merge(bySource, func(s domain.Song) string { return s.ID })
}

func Albums(bySource map[domain.SourceKind][]domain.Album) []domain.Album {
	return merge(bySource, func(a domain.Album) string { return a.ID })
}

func Artists(bySource map[domain.SourceKind][]domain.Artist) []domain.Artist {
	return merge(bySource, func(a domain.Artist) string { return a.ID })
}

func Playlists(bySource map[domain.SourceKind][]domain.Playlist) []domain.Playlist {
	return merge(bySource, func(p domain.Playlist) string { return p.ID })
}

// Genres merges by name rather than id; genres have no per-source
// identity, and the same label from two sources is genuinely one genre.
// Counts are summed across sources.
func Genres(bySource map[domain.SourceKind][]domain.Genre) []domain.Genre {
	index := make(map[string]int)
	var out []domain.Genre
	for _, kind := range domain.MergePriority {
		for _, g := range bySource[kind] {
			if g.Name == "" {
				continue
			}
			if i, ok := index[g.Name]; ok {
				out[i].SongCount += g.SongCount
				out[i].AlbumCount += g.AlbumCount
				continue
			}
			index[g.Name] = len(out)
			out = append(out, g)
		}
	}
	return out
}

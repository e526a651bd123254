package store

import (
	"reflect"
	"strings"

	"github.com/avolkov/tutti/internal/domain"
)

// Cache key naming contract. UI code depends on these names staying
// stable; every key always holds the merged view across active sources.
const (
	KeyAlbumsAll       = "albums_all"
	KeyArtistsAll      = "artists_all"
	KeySongsAll        = "songs_all"
	KeyGenresAll       = "genres_all"
	KeyPlaylists       = "playlists"
	KeyJellyfinLibrary = "jellyfin_library"
	KeySearchIndex     = "search_index"

	PrefixPlaylistSongs = "playlist_songs_"
	PrefixArtistInfo    = "artist_info_"
	PrefixAlbumInfo     = "album_info_"
	PrefixLyricsSong    = "lyrics_song_"
)

// PlaylistSongsKey builds the detail key for one playlist's songs.
func PlaylistSongsKey(playlistID string) string { return PrefixPlaylistSongs + playlistID }

// ArtistInfoKey builds the detail key for one artist's info blob.
func ArtistInfoKey(artistID string) string { return PrefixArtistInfo + artistID }

// AlbumInfoKey builds the detail key for one album's info blob.
func AlbumInfoKey(albumID string) string { return PrefixAlbumInfo + albumID }

// LyricsKey builds the detail key for one song's lyrics.
func LyricsKey(songID string) string { return PrefixLyricsSong + songID }

// Keys used by the source registry (sources bucket).
const (
	KeySources         = "sources_all"
	KeyJellyfinServers = "jellyfin_servers"
)

// shape registry: every readable key maps to exactly one payload type,
// validated on both write and read.
var exactShapes = map[string]reflect.Type{
	KeyAlbumsAll:       reflect.TypeOf([]domain.Album(nil)),
	KeyArtistsAll:      reflect.TypeOf([]domain.Artist(nil)),
	KeySongsAll:        reflect.TypeOf([]domain.Song(nil)),
	KeyGenresAll:       reflect.TypeOf([]domain.Genre(nil)),
	KeyPlaylists:       reflect.TypeOf([]domain.Playlist(nil)),
	KeyJellyfinLibrary: reflect.TypeOf([]domain.JellyfinLibrary(nil)),
	KeySearchIndex:     reflect.TypeOf([]IndexEntry(nil)),
	KeySources:         reflect.TypeOf([]domain.SourceRef(nil)),
	KeyJellyfinServers: reflect.TypeOf([]domain.JellyfinServer(nil)),
}

var prefixShapes = []struct {
	prefix string
	typ    reflect.Type
}{
	{PrefixPlaylistSongs, reflect.TypeOf([]domain.Song(nil))},
	{PrefixArtistInfo, reflect.TypeOf(domain.ArtistInfo{})},
	{PrefixAlbumInfo, reflect.TypeOf(domain.AlbumInfo{})},
	{PrefixLyricsSong, reflect.TypeOf(domain.Lyrics{})},
}

// IndexEntry is one row of the persisted library search index.
type IndexEntry struct {
	ID     string            `json:"id"` // Tagged identifier
	Type   string            `json:"type"`
	Title  string            `json:"title"`
	Artist string            `json:"artist,omitempty"`
	Album  string            `json:"album,omitempty"`
	Source domain.SourceKind `json:"source"`
	Cover  string            `json:"coverArt,omitempty"`
}

// Index entry types.
const (
	IndexTypeSong   = "song"
	IndexTypeAlbum  = "album"
	IndexTypeArtist = "artist"
)

func shapeFor(key string) (reflect.Type, bool) {
	if t, ok := exactShapes[key]; ok {
		return t, true
	}
	for _, ps := range prefixShapes {
		if strings.HasPrefix(key, ps.prefix) {
			return ps.typ, true
		}
	}
	return nil, false
}

// bucketFor routes a registered key to its bucket. Library-wide merged
// collections live apart from per-entity detail blobs so prefix
// invalidation stays cheap.
func bucketFor(key string) []byte {
	switch key {
	case KeySources, KeyJellyfinServers:
		return bucketSources
	case KeyAlbumsAll, KeyArtistsAll, KeySongsAll, KeyGenresAll, KeyPlaylists, KeyJellyfinLibrary, KeySearchIndex:
		return bucketLibrary
	default:
		return bucketDetails
	}
}

package domain

import "context"

// Fetcher is the per-backend collaborator the pipeline drives. One
// implementation exists per configured Subsonic server or local folder
// tree; the pipeline never speaks the wire protocol itself.
//
// Every method may return partial results or fail independently. Returned
// entities carry tagged (source-namespaced) identifiers.
type Fetcher interface {
	// Kind identifies the backend family this fetcher talks to.
	Kind() SourceKind

	// SourceID identifies the configured source this fetcher serves.
	SourceID() string

	// Supports reports whether this fetcher can contribute to a stage.
	// Unsupported stages are skipped for this source without logging.
	Supports(stage Stage) bool

	// Signature returns a cheap change marker for delta sync. An empty
	// signature disables delta skipping for this source.
	Signature(ctx context.Context) (string, error)

	FetchPlaylists(ctx context.Context) ([]Playlist, error)
	FetchPlaylistSongs(ctx context.Context, playlistID string) ([]Song, error)
	FetchArtists(ctx context.Context) ([]Artist, error)
	FetchArtistInfo(ctx context.Context, artistID string) (*ArtistInfo, error)
	FetchGenres(ctx context.Context) ([]Genre, error)
	FetchAlbums(ctx context.Context, progress ProgressFunc) ([]Album, error)
	FetchAlbumInfo(ctx context.Context, albumID string) (*AlbumInfo, error)
	FetchSongs(ctx context.Context, progress ProgressFunc) ([]Song, error)
	FetchCoverArt(ctx context.Context, coverArtID string) ([]byte, error)
	FetchLyrics(ctx context.Context, songID string) (*Lyrics, error)
}

// JellyfinLibrary is everything one Jellyfin server contributes in a
// single listing pass. Entities arrive already tagged.
type JellyfinLibrary struct {
	ServerID string   `json:"serverId"`
	Artists  []Artist `json:"artists,omitempty"`
	Albums   []Album  `json:"albums,omitempty"`
	Songs    []Song   `json:"songs,omitempty"`
}

// JellyfinFetcher is the collaborator for one Jellyfin server. Jellyfin
// libraries sync wholesale into a parallel registry rather than per
// entity type.
type JellyfinFetcher interface {
	Server() JellyfinServer
	Signature(ctx context.Context) (string, error)
	FetchLibrary(ctx context.Context) (*JellyfinLibrary, error)
	FetchCoverArt(ctx context.Context, coverArtID string) ([]byte, error)
}

// Connectivity answers whether the device currently has a usable network.
type Connectivity interface {
	Offline() bool
}

// AlwaysOnline is the Connectivity used when no checker is wired.
type AlwaysOnline struct{}

func (AlwaysOnline) Offline() bool { return false }

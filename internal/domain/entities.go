package domain

import "fmt"

// Song represents one playable track from any source.
type Song struct {
	ID         string `json:"id"` // Tagged identifier (source-namespaced)
	Title      string `json:"title"`
	Album      string `json:"album,omitempty"`
	AlbumID    string `json:"albumId,omitempty"`
	Artist     string `json:"artist,omitempty"`
	ArtistID   string `json:"artistId,omitempty"`
	Genre      string `json:"genre,omitempty"`
	Track      int    `json:"track,omitempty"`
	Year       int    `json:"year,omitempty"`
	Duration   int    `json:"duration,omitempty"` // Seconds
	CoverArtID string `json:"coverArt,omitempty"`
	Path       string `json:"path,omitempty"` // Local sources only
}

// Album represents an album listing entry.
type Album struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Artist     string `json:"artist,omitempty"`
	ArtistID   string `json:"artistId,omitempty"`
	SongCount  int    `json:"songCount,omitempty"`
	Duration   int    `json:"duration,omitempty"`
	Year       int    `json:"year,omitempty"`
	Genre      string `json:"genre,omitempty"`
	CoverArtID string `json:"coverArt,omitempty"`
}

// Artist represents an artist listing entry.
type Artist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	AlbumCount int    `json:"albumCount,omitempty"`
	CoverArtID string `json:"coverArt,omitempty"`
}

// Genre is a genre with usage counts as reported by the server.
type Genre struct {
	Name       string `json:"name"`
	SongCount  int    `json:"songCount,omitempty"`
	AlbumCount int    `json:"albumCount,omitempty"`
}

// Playlist represents a playlist listing entry.
type Playlist struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Owner      string `json:"owner,omitempty"`
	SongCount  int    `json:"songCount,omitempty"`
	Duration   int    `json:"duration,omitempty"`
	CoverArtID string `json:"coverArt,omitempty"`
}

// ArtistInfo is the per-artist detail blob (biography, images, similar artists).
type ArtistInfo struct {
	ArtistID       string   `json:"artistId"`
	Biography      string   `json:"biography,omitempty"`
	SmallImageURL  string   `json:"smallImageUrl,omitempty"`
	MediumImageURL string   `json:"mediumImageUrl,omitempty"`
	LargeImageURL  string   `json:"largeImageUrl,omitempty"`
	SimilarArtists []Artist `json:"similarArtists,omitempty"`
}

// ImageURLs returns the non-empty image URLs carried by the detail blob.
func (i ArtistInfo) ImageURLs() []string {
	var urls []string
	for _, u := range []string{i.SmallImageURL, i.MediumImageURL, i.LargeImageURL} {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// AlbumInfo is the per-album detail blob.
type AlbumInfo struct {
	AlbumID        string `json:"albumId"`
	Notes          string `json:"notes,omitempty"`
	SmallImageURL  string `json:"smallImageUrl,omitempty"`
	MediumImageURL string `json:"mediumImageUrl,omitempty"`
	LargeImageURL  string `json:"largeImageUrl,omitempty"`
}

// ImageURLs returns the non-empty image URLs carried by the detail blob.
func (i AlbumInfo) ImageURLs() []string {
	var urls []string
	for _, u := range []string{i.SmallImageURL, i.MediumImageURL, i.LargeImageURL} {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// LyricLine is one timed line of synchronized lyrics.
type LyricLine struct {
	Start int    `json:"start,omitempty"` // Milliseconds from track start
	Value string `json:"value"`
}

// Lyrics holds the lyrics fetched for one song.
type Lyrics struct {
	SongID string      `json:"songId"`
	Synced bool        `json:"synced,omitempty"`
	Lines  []LyricLine `json:"lines,omitempty"`
}

// FormattedDuration renders a song duration as "3m05s" style text.
func (s Song) FormattedDuration() string {
	m := s.Duration / 60
	sec := s.Duration % 60
	if m >= 60 {
		return fmt.Sprintf("%dh%02dm", m/60, m%60)
	}
	return fmt.Sprintf("%dm%02ds", m, sec)
}

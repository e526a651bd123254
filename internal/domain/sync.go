package domain

// Stage is one step of the fixed synchronization sequence.
// Stages execute in declaration order and never regress within a run.
type Stage int

const (
	StagePreparing Stage = iota
	StagePlaylists
	StageJellyfin
	StageArtists
	StageArtistDetails
	StageGenres
	StageAlbums
	StageAlbumDetails
	StageSongs
	StageCoverArt
	StageLyrics
	StageDone
)

var stageNames = map[Stage]string{
	StagePreparing:     "preparing",
	StagePlaylists:     "playlists",
	StageJellyfin:      "jellyfin",
	StageArtists:       "artists",
	StageArtistDetails: "artist_details",
	StageGenres:        "genres",
	StageAlbums:        "albums",
	StageAlbumDetails:  "album_details",
	StageSongs:         "songs",
	StageCoverArt:      "cover_art",
	StageLyrics:        "lyrics",
	StageDone:          "done",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return "unknown"
}

// Next returns the stage that follows s. Done is terminal.
func (s Stage) Next() Stage {
	if s >= StageDone {
		return StageDone
	}
	return s + 1
}

// Terminal reports whether s is the final stage.
func (s Stage) Terminal() bool {
	return s == StageDone
}

// StageFromName resolves a persisted stage name back to its Stage.
// Unknown names map to StagePreparing.
func StageFromName(name string) Stage {
	for stage, n := range stageNames {
		if n == name {
			return stage
		}
	}
	return StagePreparing
}

// SyncState is the single source of truth for sync progress.
// When Active is false, Stage holds the last value from the most recent
// run so observers can render "last sync: stage X".
type SyncState struct {
	Active          bool  `json:"active"`
	Stage           Stage `json:"stage"`
	ProgressCurrent int   `json:"progressCurrent"`
	ProgressTotal   int   `json:"progressTotal"` // 0 with current 0 means indeterminate
	CoverArtCurrent int   `json:"coverArtCurrent"`
	CoverArtTotal   int   `json:"coverArtTotal"`
	LyricsCurrent   int   `json:"lyricsCurrent"`
	LyricsTotal     int   `json:"lyricsTotal"`
	StartedAt       int64 `json:"startedAt"`       // Unix millis, 0 when idle
	LastCompletedAt int64 `json:"lastCompletedAt"` // Unix millis, 0 if never completed
}

// LogEntry is one line of the bounded diagnostic trail. Entries live only
// for the process lifetime; they are not state.
type LogEntry struct {
	Message   string
	Stage     Stage
	Timestamp int64 // Unix millis
	Completed bool  // false marks a failure or an in-progress note
}

// SyncMode selects between a full refetch and a signature-gated delta run.
type SyncMode int

const (
	SyncModeDelta SyncMode = iota
	SyncModeFull
)

func (m SyncMode) String() string {
	if m == SyncModeFull {
		return "full"
	}
	return "delta"
}

// ProgressFunc reports incremental progress during paginated fetches:
// (50, 500), (100, 500), ... A total of -1 means unknown.
type ProgressFunc func(current, total int)

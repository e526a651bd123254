package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/avolkov/tutti/internal/domain"
)

func TestTag(t *testing.T) {
	assert.Equal(t, "abc", Tag(domain.SourceSubsonic, "abc"))
	assert.Equal(t, "jf_abc", Tag(domain.SourceJellyfin, "abc"))
	assert.Equal(t, "local_abc", Tag(domain.SourceLocal, "abc"))
	assert.Equal(t, "", Tag(domain.SourceJellyfin, ""))

	// Tagging an already tagged id is a no-op.
	assert.Equal(t, "jf_abc", Tag(domain.SourceJellyfin, "jf_abc"))
	assert.Equal(t, "local_abc", Tag(domain.SourceLocal, "local_abc"))
}

func TestSourceOf(t *testing.T) {
	assert.Equal(t, domain.SourceSubsonic, SourceOf("abc"))
	assert.Equal(t, domain.SourceJellyfin, SourceOf("jf_abc"))
	assert.Equal(t, domain.SourceLocal, SourceOf("local_abc"))
}

func TestSongsPriorityOrder(t *testing.T) {
	merged := Songs(map[domain.SourceKind][]domain.Song{
		domain.SourceLocal:    {{ID: "local_1", Title: "local song"}},
		domain.SourceJellyfin: {{ID: "jf_1", Title: "jellyfin song"}},
		domain.SourceSubsonic: {{ID: "1", Title: "subsonic song"}},
	})

	// Subsonic first, then jellyfin, then local.
	assert.Equal(t, []string{"1", "jf_1", "local_1"}, ids(merged))
}

func TestSongsDedupeByID(t *testing.T) {
	merged := Songs(map[domain.SourceKind][]domain.Song{
		domain.SourceSubsonic: {
			{ID: "1", Title: "first"},
			{ID: "1", Title: "duplicate"},
		},
	})

	assert.Len(t, merged, 1)
	assert.Equal(t, "first", merged[0].Title)
}

func TestSameNameStaysTwoItems(t *testing.T) {
	// Dedupe is by tagged id only; display names never merge.
	merged := Artists(map[domain.SourceKind][]domain.Artist{
		domain.SourceSubsonic: {{ID: "ar1", Name: "Miles Davis"}},
		domain.SourceJellyfin: {{ID: "jf_ar9", Name: "Miles Davis"}},
	})

	assert.Len(t, merged, 2)
}

func TestEmptyIDDropped(t *testing.T) {
	merged := Albums(map[domain.SourceKind][]domain.Album{
		domain.SourceSubsonic: {{ID: "", Name: "broken"}, {ID: "a1", Name: "ok"}},
	})

	assert.Equal(t, []string{"a1"}, func() []string {
		var out []string
		for _, a := range merged {
			out = append(out, a.ID)
		}
		return out
	}())
}

func TestMissingSourcesIgnored(t *testing.T) {
	merged := Playlists(map[domain.SourceKind][]domain.Playlist{
		domain.SourceSubsonic: {{ID: "p1", Name: "Favorites"}},
	})

	assert.Len(t, merged, 1)

	assert.Empty(t, Playlists(map[domain.SourceKind][]domain.Playlist{}))
}

func TestGenresMergeByName(t *testing.T) {
	merged := Genres(map[domain.SourceKind][]domain.Genre{
		domain.SourceSubsonic: {{Name: "Jazz", SongCount: 10, AlbumCount: 2}},
		domain.SourceLocal:    {{Name: "Jazz", SongCount: 5, AlbumCount: 1}, {Name: "Rock", SongCount: 3}},
	})

	assert.Len(t, merged, 2)
	assert.Equal(t, "Jazz", merged[0].Name)
	assert.Equal(t, 15, merged[0].SongCount)
	assert.Equal(t, 3, merged[0].AlbumCount)
	assert.Equal(t, "Rock", merged[1].Name)
}

func ids(songs []domain.Song) []string {
	out := make([]string, len(songs))
	for i, s := range songs {
		out[i] = s.ID
	}
	return out
}

package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avolkov/tutti/internal/domain"
	"github.com/avolkov/tutti/internal/store"
)

func testIndex() []store.IndexEntry {
	return Build(
		[]domain.Artist{
			{ID: "ar1", Name: "Charles Mingus"},
			{ID: "jf_ar2", Name: "Mingus Big Band"},
		},
		[]domain.Album{
			{ID: "al1", Name: "Mingus Ah Um", Artist: "Charles Mingus", CoverArtID: "c1"},
		},
		[]domain.Song{
			{ID: "s1", Title: "Better Git It in Your Soul", Artist: "Charles Mingus", Album: "Mingus Ah Um"},
			{ID: "local_s2", Title: "Goodbye Pork Pie Hat", Artist: "Charles Mingus"},
		},
	)
}

func TestBuild(t *testing.T) {
	entries := testIndex()
	require.Len(t, entries, 5)

	byID := make(map[string]store.IndexEntry)
	for _, e := range entries {
		byID[e.ID] = e
	}

	assert.Equal(t, store.IndexTypeArtist, byID["ar1"].Type)
	assert.Equal(t, domain.SourceSubsonic, byID["ar1"].Source)
	assert.Equal(t, domain.SourceJellyfin, byID["jf_ar2"].Source)
	assert.Equal(t, domain.SourceLocal, byID["local_s2"].Source)
	assert.Equal(t, "c1", byID["al1"].Cover)
	assert.Equal(t, "Mingus Ah Um", byID["s1"].Album)
}

func TestQueryMatches(t *testing.T) {
	entries := testIndex()

	results := Query(entries, "mingus", Filter{})
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Contains(t, r.Title, "Mingus")
	}
}

func TestQueryTypeFilter(t *testing.T) {
	entries := testIndex()

	results := Query(entries, "mingus", Filter{Types: []string{store.IndexTypeArtist}})
	require.Len(t, results, 2)
	for _, r := range results {
		assert.Equal(t, store.IndexTypeArtist, r.Type)
	}
}

func TestQuerySourceFilter(t *testing.T) {
	entries := testIndex()

	results := Query(entries, "mingus", Filter{Sources: []domain.SourceKind{domain.SourceJellyfin}})
	require.Len(t, results, 1)
	assert.Equal(t, "jf_ar2", results[0].ID)
}

func TestQueryLimit(t *testing.T) {
	entries := testIndex()

	results := Query(entries, "mingus", Filter{Limit: 1})
	assert.Len(t, results, 1)
}

func TestQueryEmpty(t *testing.T) {
	entries := testIndex()

	assert.Nil(t, Query(entries, "", Filter{}))
	assert.Nil(t, Query(entries, "   ", Filter{}))
	assert.Empty(t, Query(entries, "zzzzzz", Filter{}))
	assert.Empty(t, Query(nil, "mingus", Filter{}))
}

package catalog

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// The driver only honours pragmas in _pragma=name(value) form; verify
// they actually reached the connection.
func TestConnectionPragmas(t *testing.T) {
	s := openTestStore(t)

	var mode string
	require.NoError(t, s.db.QueryRow(`PRAGMA journal_mode`).Scan(&mode))
	assert.Equal(t, "wal", strings.ToLower(mode))

	var timeout int
	require.NoError(t, s.db.QueryRow(`PRAGMA busy_timeout`).Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestHashPath(t *testing.T) {
	// md5("/music/a.mp3")
	assert.Len(t, HashPath("/music/a.mp3"), 32)
	assert.Equal(t, HashPath("/music/a.mp3"), HashPath("/music/a.mp3"))
	assert.NotEqual(t, HashPath("/music/a.mp3"), HashPath("/music/b.mp3"))
	// Known digest keeps the encoding honest.
	assert.Equal(t, "d41d8cd98f00b204e9800998ecf8427e", HashPath(""))
}

func TestOpenIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.AddFile(context.Background(), "/m/a.mp3", Meta{
		Artist: "A", Album: "B", Title: "T",
	}))
	require.NoError(t, s.Close())

	// Reopen: schema migration must be a no-op and data must survive.
	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	artists, err := s.ListArtists(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, artists)
}

func TestAddFileAndListings(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddFile(ctx, "/m/a/b/t.mp3", Meta{
		Artist: "A", Album: "B", Title: "T", Track: 3, Length: 240,
	}))

	artists, err := s.ListArtists(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, artists)

	albums, err := s.ListAlbums(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, albums)

	songs, err := s.ListSongs(ctx, "A", "B")
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, Song{Title: "T", Length: 240, Hash: HashPath("/m/a/b/t.mp3")}, songs[0])

	path, err := s.ResolveSong(ctx, HashPath("/m/a/b/t.mp3"))
	require.NoError(t, err)
	assert.Equal(t, "/m/a/b/t.mp3", path)
}

func TestResolveSongNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.ResolveSong(context.Background(), "deadbeefdeadbeefdeadbeefdeadbeef")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListingsUnknownNamesEmpty(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	artists, err := s.ListArtists(ctx)
	require.NoError(t, err)
	assert.Empty(t, artists)

	albums, err := s.ListAlbums(ctx, "nobody")
	require.NoError(t, err)
	assert.Empty(t, albums)

	songs, err := s.ListSongs(ctx, "nobody", "nothing")
	require.NoError(t, err)
	assert.Empty(t, songs)
}

func TestSharedArtistAlbumNoDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.AddFile(ctx, fmt.Sprintf("/m/t%d.mp3", i), Meta{
			Artist: "A", Album: "B", Title: fmt.Sprintf("T%d", i), Track: i + 1,
		}))
	}

	artists, err := s.ListArtists(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, artists)

	albums, err := s.ListAlbums(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, albums)
}

func TestAddFileIdempotentOnPath(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddFile(ctx, "/m/t.mp3", Meta{
		Artist: "A", Album: "B", Title: "T", Track: 1, Length: 100,
	}))
	// Second ingest of the same path updates in place.
	require.NoError(t, s.AddFile(ctx, "/m/t.mp3", Meta{
		Artist: "A", Album: "B", Title: "T (remaster)", Track: 1, Length: 101,
	}))

	songs, err := s.ListSongs(ctx, "A", "B")
	require.NoError(t, err)
	require.Len(t, songs, 1)
	assert.Equal(t, "T (remaster)", songs[0].Title)
	assert.Equal(t, 101, songs[0].Length)
}

func TestListSongsOrderedByTrack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Inserted out of order on purpose.
	require.NoError(t, s.AddFile(ctx, "/m/t2.mp3", Meta{Artist: "A", Album: "B", Title: "Two", Track: 2}))
	require.NoError(t, s.AddFile(ctx, "/m/t1.mp3", Meta{Artist: "A", Album: "B", Title: "One", Track: 1}))

	songs, err := s.ListSongs(ctx, "A", "B")
	require.NoError(t, err)
	require.Len(t, songs, 2)
	assert.Equal(t, "One", songs[0].Title)
	assert.Equal(t, "Two", songs[1].Title)
}

func TestArtistNamesCaseSensitive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddFile(ctx, "/m/1.mp3", Meta{Artist: "abba", Album: "X", Title: "1"}))
	require.NoError(t, s.AddFile(ctx, "/m/2.mp3", Meta{Artist: "ABBA", Album: "X", Title: "2"}))

	artists, err := s.ListArtists(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"abba", "ABBA"}, artists)
}

func TestConcurrentWritersAndReaders(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				err := s.AddFile(ctx, fmt.Sprintf("/m/w%d/t%d.mp3", w, i), Meta{
					Artist: "A", Album: fmt.Sprintf("B%d", w),
					Title: fmt.Sprintf("T%d", i), Track: i,
				})
				assert.NoError(t, err)
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := s.ListArtists(ctx)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	albums, err := s.ListAlbums(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, albums, 4)
}

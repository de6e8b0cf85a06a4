package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // SQLite driver (pure Go, no CGO)

	"github.com/tworaz/basileus/internal/metrics"
)

// Store provides SQLite persistence for the music catalog.
type Store struct {
	db *sql.DB

	// writeMu serializes AddFile transactions. Readers go through the
	// connection pool and are never blocked by this lock.
	writeMu sync.Mutex
}

// Open initializes the catalog store at dbPath, creating the schema on
// first use. Reopening an existing catalog is idempotent.
func Open(dbPath string) (*Store, error) {
	// The modernc driver takes pragmas in _pragma=name(value) form;
	// busy_timeout avoids "database locked" errors under write load.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if n, err := s.countSongs(context.Background()); err == nil {
		metrics.CatalogSongs.Set(float64(n))
	}

	return s, nil
}

// Close releases the database handle. The caller must cancel a running
// scan first; Close does not wait for in-flight writers.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artists (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS albums (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		artist_id INTEGER NOT NULL REFERENCES artists(id),
		UNIQUE(artist_id, name)
	);

	CREATE TABLE IF NOT EXISTS songs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		path TEXT NOT NULL UNIQUE,
		hash TEXT NOT NULL UNIQUE,
		track INTEGER NOT NULL DEFAULT 0,
		length INTEGER NOT NULL DEFAULT 0,
		artist_id INTEGER NOT NULL REFERENCES artists(id),
		album_id INTEGER NOT NULL REFERENCES albums(id)
	);

	CREATE INDEX IF NOT EXISTS idx_albums_artist ON albums(artist_id);
	CREATE INDEX IF NOT EXISTS idx_songs_album ON songs(album_id);
	CREATE INDEX IF NOT EXISTS idx_songs_hash ON songs(hash);
	`

	_, err := s.db.Exec(schema)
	return err
}

// AddFile upserts the artist, album and song rows for one ingested file
// in a single transaction. Re-ingesting a path replaces the song's
// metadata; it never produces a duplicate row.
func (s *Store) AddFile(ctx context.Context, path string, meta Meta) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	artistID, err := upsertNamed(ctx, tx,
		`INSERT INTO artists (name) VALUES (?) ON CONFLICT(name) DO NOTHING`,
		`SELECT id FROM artists WHERE name = ?`,
		meta.Artist)
	if err != nil {
		return fmt.Errorf("upsert artist: %w", err)
	}

	albumID, err := upsertNamed(ctx, tx,
		`INSERT INTO albums (name, artist_id) VALUES (?, ?) ON CONFLICT(artist_id, name) DO NOTHING`,
		`SELECT id FROM albums WHERE name = ? AND artist_id = ?`,
		meta.Album, artistID)
	if err != nil {
		return fmt.Errorf("upsert album: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
	INSERT INTO songs (title, path, hash, track, length, artist_id, album_id)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		title = excluded.title,
		track = excluded.track,
		length = excluded.length,
		artist_id = excluded.artist_id,
		album_id = excluded.album_id
	`, meta.Title, path, HashPath(path), meta.Track, meta.Length, artistID, albumID)
	if err != nil {
		return fmt.Errorf("upsert song: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}

	if n, err := s.countSongs(ctx); err == nil {
		metrics.CatalogSongs.Set(float64(n))
	}
	return nil
}

// upsertNamed inserts a row if absent and returns its id either way.
// The variadic args feed both statements: the insert takes all of them,
// the select takes the same values in the same order.
func upsertNamed(ctx context.Context, tx *sql.Tx, insert, query string, args ...any) (int64, error) {
	if _, err := tx.ExecContext(ctx, insert, args...); err != nil {
		return 0, err
	}
	var id int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// ListArtists returns all artist names in insertion order.
func (s *Store) ListArtists(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM artists ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ListAlbums returns the artist's album names in insertion order.
// An unknown artist yields an empty list.
func (s *Store) ListAlbums(ctx context.Context, artist string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT al.name FROM albums al
	JOIN artists ar ON ar.id = al.artist_id
	WHERE ar.name = ?
	ORDER BY al.id
	`, artist)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ListSongs returns the album's songs ordered by track number.
func (s *Store) ListSongs(ctx context.Context, artist, album string) ([]Song, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT so.title, so.length, so.hash FROM songs so
	JOIN albums al ON al.id = so.album_id
	JOIN artists ar ON ar.id = so.artist_id
	WHERE ar.name = ? AND al.name = ?
	ORDER BY so.track
	`, artist, album)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	songs := []Song{}
	for rows.Next() {
		var so Song
		if err := rows.Scan(&so.Title, &so.Length, &so.Hash); err != nil {
			return nil, err
		}
		songs = append(songs, so)
	}
	return songs, rows.Err()
}

// ResolveSong maps a song hash back to its filesystem path.
func (s *Store) ResolveSong(ctx context.Context, hash string) (string, error) {
	var path string
	err := s.db.QueryRowContext(ctx,
		`SELECT path FROM songs WHERE hash = ?`, hash).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

func (s *Store) countSongs(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM songs`).Scan(&n)
	return n, err
}

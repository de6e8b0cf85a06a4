// Package catalog persists the music collection in an embedded SQLite
// database. Three tables hold artists, albums and songs; writes are
// serialized behind a mutex while readers run concurrently.
package catalog

import (
	"crypto/md5" // #nosec G501 -- non-cryptographic: stable public song identifier
	"encoding/hex"
	"errors"
)

// Song is the listing row returned for album queries.
type Song struct {
	Title  string `json:"title"`
	Length int    `json:"length"`
	Hash   string `json:"hash"`
}

// Meta is the tag metadata recorded for an ingested file.
type Meta struct {
	Artist string
	Title  string
	Album  string
	Track  int
	Length int
}

// ErrNotFound signals a lookup that matched no catalog row.
var ErrNotFound = errors.New("not found")

// HashPath returns the stable public identifier for a song: the
// 32-character lowercase hex MD5 digest of its absolute path.
func HashPath(path string) string {
	sum := md5.Sum([]byte(path)) // #nosec G401
	return hex.EncodeToString(sum[:])
}

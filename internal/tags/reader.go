// Package tags reads audio metadata from music files.
//
// Tag frames are read with dhowden/tag; TagLib serves as a fallback for
// containers dhowden/tag rejects and as the source of stream properties
// (duration).
package tags

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dhowden/tag"
	"go.senan.xyz/taglib"
)

// Fallback values for files with missing tag frames.
const (
	UnknownArtist = "Unknown artist"
	UnknownAlbum  = "Unknown album"
)

// ErrUnsupported signals a file extension the reader does not handle.
// Scanners skip such files silently.
var ErrUnsupported = errors.New("unrecognized file type")

// Meta is the metadata contract consumed by the collection scanner.
type Meta struct {
	Artist string
	Title  string
	Album  string
	Track  int // 1-based track number, 0 when untagged
	Length int // audio length in seconds, 0 when unknown
}

var supportedExt = map[string]struct{}{
	".mp3":  {},
	".ogg":  {},
	".oga":  {},
	".opus": {},
	".flac": {},
	".m4a":  {},
	".mp4":  {},
	".wav":  {},
	".wv":   {},
	".aiff": {},
	".ape":  {},
}

// Supported reports whether the reader recognizes the file's extension.
func Supported(path string) bool {
	_, ok := supportedExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Read extracts tag metadata from the audio file at path.
// It returns ErrUnsupported for file types the reader does not handle
// and an I/O or parse error for files it handles but cannot read.
func Read(path string) (*Meta, error) {
	if !Supported(path) {
		return nil, ErrUnsupported
	}

	m, err := readFrames(path)
	if err != nil {
		// dhowden/tag fails on some valid containers; TagLib gets a shot.
		m, err = readFramesTaglib(path)
		if err != nil {
			return nil, err
		}
	}

	if props, err := taglib.ReadProperties(path); err == nil {
		m.Length = int(props.Length.Seconds())
	}

	m.sanitize(path)
	return m, nil
}

func readFrames(path string) (*Meta, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	t, err := tag.ReadFrom(f)
	if err != nil {
		return nil, err
	}

	track, _ := t.Track()
	return &Meta{
		Artist: t.Artist(),
		Title:  t.Title(),
		Album:  t.Album(),
		Track:  track,
	}, nil
}

func readFramesTaglib(path string) (*Meta, error) {
	raw, err := taglib.ReadTags(path)
	if err != nil {
		return nil, err
	}

	get := func(key string) string {
		if vs := raw[key]; len(vs) > 0 {
			return vs[0]
		}
		return ""
	}

	track := 0
	if v := get(taglib.TrackNumber); v != "" {
		// Vorbis comments allow "3/12" style values.
		num, _, _ := strings.Cut(v, "/")
		if n, err := strconv.Atoi(strings.TrimSpace(num)); err == nil {
			track = n
		}
	}

	return &Meta{
		Artist: get(taglib.Artist),
		Title:  get(taglib.Title),
		Album:  get(taglib.Album),
		Track:  track,
	}, nil
}

// sanitize fills missing fields so every ingested file lands somewhere
// browsable in the catalog.
func (m *Meta) sanitize(path string) {
	if m.Artist == "" {
		m.Artist = UnknownArtist
	}
	if m.Album == "" {
		m.Album = UnknownAlbum
	}
	if m.Title == "" {
		m.Title = filepath.Base(path)
	}
	if m.Track < 0 {
		m.Track = 0
	}
	if m.Length < 0 {
		m.Length = 0
	}
}

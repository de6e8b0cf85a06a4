package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSupported(t *testing.T) {
	assert.True(t, Supported("/music/a.mp3"))
	assert.True(t, Supported("/music/a.FLAC"))
	assert.True(t, Supported("/music/a.Ogg"))
	assert.False(t, Supported("/music/cover.jpg"))
	assert.False(t, Supported("/music/README"))
}

func TestReadUnsupported(t *testing.T) {
	_, err := Read("/music/notes.txt")
	assert.ErrorIs(t, err, ErrUnsupported)
}

func TestSanitizeFallbacks(t *testing.T) {
	m := &Meta{}
	m.sanitize("/music/unknown/track07.mp3")
	assert.Equal(t, UnknownArtist, m.Artist)
	assert.Equal(t, UnknownAlbum, m.Album)
	assert.Equal(t, "track07.mp3", m.Title)

	m = &Meta{Artist: "A", Title: "T", Album: "B", Track: -1, Length: -2}
	m.sanitize("/music/a.mp3")
	assert.Equal(t, "A", m.Artist)
	assert.Zero(t, m.Track)
	assert.Zero(t, m.Length)
}

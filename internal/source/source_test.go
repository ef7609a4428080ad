package source

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	k, err := Parse("")
	require.NoError(t, err)
	assert.Equal(t, YouTube, k)

	k, err = Parse(" SoundCloud ")
	require.NoError(t, err)
	assert.Equal(t, SoundCloud, k)

	_, err = Parse("vimeo")
	require.Error(t, err)
}

func TestKind_Allows(t *testing.T) {
	tests := []struct {
		name string
		kind Kind
		url  string
		want bool
	}{
		{name: "youtube watch", kind: YouTube, url: "https://www.youtube.com/watch?v=abc", want: true},
		{name: "youtube short", kind: YouTube, url: "https://youtu.be/abc", want: true},
		{name: "youtube music", kind: YouTube, url: "http://music.youtube.com/watch?v=abc", want: true},
		{name: "uppercase host", kind: YouTube, url: "https://WWW.YOUTUBE.COM/watch?v=abc", want: true},
		{name: "youtube lookalike", kind: YouTube, url: "https://youtube.com.evil.test/watch", want: false},
		{name: "ftp scheme", kind: YouTube, url: "ftp://youtube.com/x", want: false},
		{name: "no host", kind: YouTube, url: "https:///watch", want: false},
		{name: "soundcloud", kind: SoundCloud, url: "https://soundcloud.com/artist/track", want: true},
		{name: "soundcloud on youtube", kind: SoundCloud, url: "https://youtu.be/abc", want: false},
		{name: "unknown kind", kind: Kind("vimeo"), url: "https://vimeo.com/1", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.Allows(tt.url))
		})
	}
}

func TestNormalizeBrowser(t *testing.T) {
	assert.Equal(t, "firefox", NormalizeBrowser(" Firefox "))
	assert.Equal(t, "", NormalizeBrowser("netscape"))
	assert.Equal(t, "", NormalizeBrowser(""))
}

func TestKind_Label(t *testing.T) {
	assert.Equal(t, "YouTube", YouTube.Label())
	assert.Equal(t, "SoundCloud", SoundCloud.Label())
}

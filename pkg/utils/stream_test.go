package utils

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyStreamURL(t *testing.T) {
	tests := []struct {
		url  string
		want StreamKind
	}{
		{"http://radio.example.com:8000/live", StreamHTTP},
		{"https://cdn.example.com/station/playlist.m3u8", StreamHLS},
		{"rtmp://live.example.com/app/key", StreamRTMP},
		{"https://www.youtube.com/watch?v=abc123", StreamYouTube},
		{"https://youtu.be/abc123", StreamYouTube},
		{"/var/lib/fixtures/sample.mp3", StreamFile},
	}
	for _, tt := range tests {
		got, err := ClassifyStreamURL(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, got, tt.url)
	}
}

func TestClassifyStreamURLRejectsUnknownScheme(t *testing.T) {
	_, err := ClassifyStreamURL("gopher://old.example.com")
	assert.Error(t, err)
}

func TestResolveStreamURLPassthrough(t *testing.T) {
	raw := "http://radio.example.com:8000/live"
	got, err := ResolveStreamURL(context.Background(), raw)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestShortID(t *testing.T) {
	assert.Equal(t, "3f2a9c1b", ShortID("3f2a9c1b-0000-4000-8000-000000000000"))
	assert.Equal(t, "abc", ShortID("abc"))
	assert.Len(t, GenerateUUID(), 36)
}

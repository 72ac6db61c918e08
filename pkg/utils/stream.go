package utils

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
)

// StreamKind classifies a station stream URL.
type StreamKind string

const (
	StreamHTTP    StreamKind = "http"    // Icecast/Shoutcast or plain progressive HTTP
	StreamHLS     StreamKind = "hls"     // .m3u8 playlists
	StreamRTMP    StreamKind = "rtmp"    // rtmp:// and rtmps://
	StreamYouTube StreamKind = "youtube" // needs resolution before ffmpeg can read it
	StreamFile    StreamKind = "file"
)

// ClassifyStreamURL inspects a stream URL without touching the network.
func ClassifyStreamURL(raw string) (StreamKind, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("invalid stream URL: %w", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		if IsYouTubeURL(raw) {
			return StreamYouTube, nil
		}
		if strings.HasSuffix(strings.ToLower(u.Path), ".m3u8") {
			return StreamHLS, nil
		}
		return StreamHTTP, nil
	case "rtmp", "rtmps":
		return StreamRTMP, nil
	case "file", "":
		if u.Path == "" {
			return "", fmt.Errorf("stream URL %q has no scheme or path", raw)
		}
		return StreamFile, nil
	default:
		return "", fmt.Errorf("unsupported stream scheme %q", u.Scheme)
	}
}

func IsYouTubeURL(urlStr string) bool {
	u, err := url.Parse(urlStr)
	if err != nil {
		return false
	}

	host := strings.ToLower(u.Host)
	return strings.Contains(host, "youtube.com") || strings.Contains(host, "youtu.be")
}

// ResolveStreamURL turns station page URLs that ffmpeg cannot read directly
// (YouTube live pages) into a direct media URL. Other URLs pass through.
func ResolveStreamURL(ctx context.Context, raw string) (string, error) {
	kind, err := ClassifyStreamURL(raw)
	if err != nil {
		return "", err
	}
	if kind != StreamYouTube {
		return raw, nil
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	result, err := ytdlp.New().
		Format("bestaudio").
		NoPlaylist().
		NoWarnings().
		GetURL().
		Run(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("yt-dlp could not resolve %s: %w", raw, err)
	}

	for _, line := range strings.Split(result.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", fmt.Errorf("yt-dlp returned no media URL for %s", raw)
}

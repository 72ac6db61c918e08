package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/himanishpuri/StationDNA/pkg/utils"
)

// Logger is the subset of logging used by this package.
type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

// CaptureRequest describes one fixed-duration capture window.
type CaptureRequest struct {
	StreamURL  string
	Duration   time.Duration
	SampleRate int
	Channels   int
	Timeout    time.Duration // hard wall-clock limit, must exceed Duration
	Retry      *RetryPolicy  // nil keeps the capturer's own policy
}

// RetryPolicy bounds the attempts made for one capture window.
type RetryPolicy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Capturer pulls a PCM window (s16le) from a stream.
// Errors returned by implementations are *CaptureFailure.
type Capturer interface {
	Capture(ctx context.Context, req CaptureRequest) ([]byte, error)
}

// CapturerFunc adapts a function to the Capturer interface.
type CapturerFunc func(ctx context.Context, req CaptureRequest) ([]byte, error)

func (f CapturerFunc) Capture(ctx context.Context, req CaptureRequest) ([]byte, error) {
	return f(ctx, req)
}

// CaptureFailure is the typed reason a capture produced no usable PCM.
type CaptureFailure struct {
	Reason   models.CaptureResult
	Attempts int
	Err      error
}

func (f *CaptureFailure) Error() string {
	if f.Err == nil {
		return fmt.Sprintf("capture failed: %s after %d attempt(s)", f.Reason, f.Attempts)
	}
	return fmt.Sprintf("capture failed: %s after %d attempt(s): %v", f.Reason, f.Attempts, f.Err)
}

func (f *CaptureFailure) Unwrap() error { return f.Err }

// FailureReason extracts the capture result from an error returned by a Capturer.
// Unknown errors map to processing_error.
func FailureReason(err error) models.CaptureResult {
	var cf *CaptureFailure
	if errors.As(err, &cf) {
		return cf.Reason
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.CaptureTimeout
	}
	return models.CaptureProcessingError
}

// FFmpegCapturer runs one ffmpeg process per attempt and retries transient
// failures with linear backoff (RetryDelay * attempt).
type FFmpegCapturer struct {
	FFmpegPath string
	MaxRetries int
	RetryDelay time.Duration
	Log        Logger
}

// NewFFmpegCapturer returns a capturer with the default retry policy.
func NewFFmpegCapturer(log Logger) *FFmpegCapturer {
	return &FFmpegCapturer{
		FFmpegPath: "ffmpeg",
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
		Log:        log,
	}
}

func (c *FFmpegCapturer) Capture(ctx context.Context, req CaptureRequest) ([]byte, error) {
	if err := validateRequest(&req); err != nil {
		return nil, &CaptureFailure{Reason: models.CaptureProcessingError, Err: err}
	}

	maxAttempts, retryDelay := c.MaxRetries, c.RetryDelay
	if req.Retry != nil {
		maxAttempts, retryDelay = req.Retry.MaxAttempts, req.Retry.Delay
	}
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var last *CaptureFailure
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pcm, failure := c.captureOnce(ctx, req)
		if failure == nil {
			c.debugf("captured %s from %s on attempt %d", humanize.Bytes(uint64(len(pcm))), req.StreamURL, attempt)
			return pcm, nil
		}
		failure.Attempts = attempt
		last = failure

		// A timed-out or cancelled attempt already used its full budget.
		if failure.Reason == models.CaptureTimeout || ctx.Err() != nil {
			return nil, failure
		}
		if attempt == maxAttempts {
			break
		}

		delay := retryDelay * time.Duration(attempt)
		c.warnf("capture attempt %d/%d for %s failed (%s), retrying in %s", attempt, maxAttempts, req.StreamURL, failure.Reason, delay)
		if err := sleepCtx(ctx, delay); err != nil {
			return nil, &CaptureFailure{Reason: models.CaptureTimeout, Attempts: attempt, Err: err}
		}
	}
	return nil, last
}

func (c *FFmpegCapturer) captureOnce(ctx context.Context, req CaptureRequest) ([]byte, *CaptureFailure) {
	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	path := c.FFmpegPath
	if path == "" {
		path = "ffmpeg"
	}

	var stdout bytes.Buffer
	stderr := &tailBuffer{max: 4096}

	cmd := exec.CommandContext(ctx, path, ffmpegArgs(req)...)
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = 2 * time.Second
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, &CaptureFailure{Reason: models.CaptureProcessingError, Err: fmt.Errorf("starting ffmpeg: %w", err)}
	}
	err := cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, &CaptureFailure{Reason: models.CaptureTimeout, Err: fmt.Errorf("ffmpeg did not finish within %s: %w", req.Timeout, ctxErr)}
	}
	if err != nil {
		return nil, &CaptureFailure{Reason: models.CaptureStreamUnavailable, Err: fmt.Errorf("ffmpeg failed: %w (%s)", err, stderr.String())}
	}
	if stdout.Len() == 0 {
		return nil, &CaptureFailure{Reason: models.CaptureNoAudio, Err: errors.New("ffmpeg produced no audio")}
	}
	return stdout.Bytes(), nil
}

func validateRequest(req *CaptureRequest) error {
	if strings.TrimSpace(req.StreamURL) == "" {
		return errors.New("stream URL is required")
	}
	if req.Duration <= 0 {
		return errors.New("capture duration must be positive")
	}
	if req.SampleRate <= 0 {
		req.SampleRate = 11025
	}
	if req.Channels <= 0 {
		req.Channels = 1
	}
	if req.Timeout <= req.Duration {
		req.Timeout = req.Duration + 10*time.Second
	}
	return nil
}

func ffmpegArgs(req CaptureRequest) []string {
	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}
	if kind, err := utils.ClassifyStreamURL(req.StreamURL); err == nil && kind == utils.StreamHTTP {
		args = append(args, "-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "2")
	}
	return append(args,
		"-i", req.StreamURL,
		"-t", strconv.FormatFloat(req.Duration.Seconds(), 'f', 3, 64),
		"-vn",
		"-ac", strconv.Itoa(req.Channels),
		"-ar", strconv.Itoa(req.SampleRate),
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"pipe:1",
	)
}

func (c *FFmpegCapturer) debugf(format string, args ...any) {
	if c.Log != nil {
		c.Log.Debugf(format, args...)
	}
}

func (c *FFmpegCapturer) warnf(format string, args ...any) {
	if c.Log != nil {
		c.Log.Warnf(format, args...)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// tailBuffer keeps only the last max bytes written, for stderr diagnostics.
type tailBuffer struct {
	buf []byte
	max int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if len(b.buf) > b.max {
		b.buf = b.buf[len(b.buf)-b.max:]
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}

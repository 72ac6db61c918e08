package cloud

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/himanishpuri/StationDNA/pkg/logger"
)

var (
	// ErrRateLimited is returned without any network call when the
	// per-minute or per-day budget is spent.
	ErrRateLimited = errors.New("cloud recognition rate limit reached")
	// ErrServiceError means the service could not answer; it is never a "no match".
	ErrServiceError = errors.New("cloud recognition service error")
	// ErrNotConfigured is returned when credentials are missing.
	ErrNotConfigured = errors.New("cloud recognition not configured")
)

// ACRCloud status codes.
const (
	statusSuccess         = 0
	statusNoResult        = 1001
	statusNoFingerprint   = 2004
	statusInternalError   = 3000
	statusLimitExceeded   = 3003
	identifyPath          = "/v1/identify"
	signatureVersion      = "1"
	dataTypeAudio         = "audio"
	defaultRequestTimeout = 15 * time.Second
)

// Outcomes reported to the call observer.
const (
	OutcomeMatch       = "match"
	OutcomeNoResult    = "no_result"
	OutcomeRateLimited = "rate_limited"
	OutcomeError       = "error"
)

type Logger interface {
	Debugf(format string, args ...any)
	Warnf(format string, args ...any)
}

type Config struct {
	Host              string // e.g. identify-eu-west-1.acrcloud.com
	AccessKey         string
	AccessSecret      string
	Timeout           time.Duration
	RequestsPerMinute int
	RequestsPerDay    int
	MaxRetries        int // extra attempts after a service error
	RetryDelay        time.Duration
	PROOverrides      map[string]string
	DefaultPRO        string
	HTTPClient        *http.Client
	Now               func() time.Time
}

// Match is a recognised track. Confidence is in [0,1].
type Match struct {
	Title          string
	Artist         string
	Album          string
	Label          string
	ISRC           string
	ACRID          string
	ProAffiliation string
	Confidence     float64
	DurationMs     int
	PlayOffsetMs   int
	Raw            map[string]any
}

// Client talks to the ACRCloud identify API.
type Client struct {
	cfg      Config
	http     *http.Client
	quota    *quota
	pro      *PROTable
	log      Logger
	observer func(outcome string)
}

func NewClient(cfg Config, log Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 10
	}
	if cfg.RequestsPerDay <= 0 {
		cfg.RequestsPerDay = 1000
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Client{
		cfg:   cfg,
		http:  httpClient,
		quota: newQuota(cfg.RequestsPerMinute, cfg.RequestsPerDay),
		pro:   NewPROTable(cfg.PROOverrides, cfg.DefaultPRO),
		log:   log,
	}
}

// OnCall registers an observer for every Identify outcome.
func (c *Client) OnCall(fn func(outcome string)) {
	c.observer = fn
}

// HTTPClient exposes the underlying client, e.g. for transport mocking.
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// UsedToday reports how many requests the daily budget has consumed.
func (c *Client) UsedToday() int {
	return c.quota.usedToday()
}

// Identify submits an audio sample (WAV bytes). It returns (nil, nil) when
// the service answers but recognises nothing, ErrRateLimited when the local
// budget is spent, and an error wrapping ErrServiceError otherwise.
func (c *Client) Identify(ctx context.Context, sample []byte, territory string) (*Match, error) {
	m, err := c.identify(ctx, sample, territory)
	if c.observer != nil {
		switch {
		case errors.Is(err, ErrRateLimited):
			c.observer(OutcomeRateLimited)
		case err != nil:
			c.observer(OutcomeError)
		case m == nil:
			c.observer(OutcomeNoResult)
		default:
			c.observer(OutcomeMatch)
		}
	}
	return m, err
}

func (c *Client) identify(ctx context.Context, sample []byte, territory string) (*Match, error) {
	if c.cfg.Host == "" || c.cfg.AccessKey == "" || c.cfg.AccessSecret == "" {
		return nil, ErrNotConfigured
	}
	if len(sample) == 0 {
		return nil, fmt.Errorf("%w: empty sample", ErrServiceError)
	}

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.cfg.RetryDelay*time.Duration(attempt)); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrServiceError, err)
			}
		}
		if !c.quota.allow(c.cfg.Now()) {
			return nil, ErrRateLimited
		}

		resp, retryable, err := c.send(ctx, sample)
		if err != nil {
			lastErr = err
			if !retryable || ctx.Err() != nil {
				break
			}
			c.log.Warnf("acrcloud request failed (attempt %d/%d): %v", attempt+1, c.cfg.MaxRetries+1, err)
			continue
		}
		return c.toMatch(resp, territory), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrServiceError, lastErr)
}

type identifyResponse struct {
	Status struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	} `json:"status"`
	Metadata struct {
		Music []musicResult `json:"music"`
	} `json:"metadata"`
}

type musicResult struct {
	Title   string `json:"title"`
	Artists []struct {
		Name string `json:"name"`
	} `json:"artists"`
	Album struct {
		Name string `json:"name"`
	} `json:"album"`
	Label       string `json:"label"`
	ACRID       string `json:"acrid"`
	Score       any    `json:"score"`
	DurationMs  int    `json:"duration_ms"`
	PlayOffset  int    `json:"play_offset_ms"`
	ExternalIDs struct {
		ISRC any `json:"isrc"`
	} `json:"external_ids"`
}

type decoded struct {
	body   identifyResponse
	rawMap map[string]any
}

// send performs one signed request. retryable reports whether a failure is
// worth another attempt.
func (c *Client) send(ctx context.Context, sample []byte) (*decoded, bool, error) {
	timestamp := strconv.FormatInt(c.cfg.Now().Unix(), 10)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	fields := map[string]string{
		"access_key":        c.cfg.AccessKey,
		"data_type":         dataTypeAudio,
		"signature_version": signatureVersion,
		"timestamp":         timestamp,
		"signature":         Sign(c.cfg.AccessKey, c.cfg.AccessSecret, timestamp),
		"sample_bytes":      strconv.Itoa(len(sample)),
	}
	for _, k := range []string{"access_key", "data_type", "signature_version", "timestamp", "signature", "sample_bytes"} {
		if err := w.WriteField(k, fields[k]); err != nil {
			return nil, false, err
		}
	}
	part, err := w.CreateFormFile("sample", "sample.wav")
	if err != nil {
		return nil, false, err
	}
	if _, err := part.Write(sample); err != nil {
		return nil, false, err
	}
	if err := w.Close(); err != nil {
		return nil, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	url := "https://" + strings.TrimSuffix(strings.TrimPrefix(c.cfg.Host, "https://"), "/") + identifyPath
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("http %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("http %d", resp.StatusCode)
	}

	var d decoded
	if err := json.Unmarshal(raw, &d.body); err != nil {
		return nil, false, fmt.Errorf("decoding response: %w", err)
	}
	_ = json.Unmarshal(raw, &d.rawMap)

	switch d.body.Status.Code {
	case statusSuccess, statusNoResult, statusNoFingerprint:
		return &d, false, nil
	case statusInternalError, statusLimitExceeded:
		return nil, true, fmt.Errorf("acrcloud status %d: %s", d.body.Status.Code, d.body.Status.Msg)
	default:
		return nil, false, fmt.Errorf("acrcloud status %d: %s", d.body.Status.Code, d.body.Status.Msg)
	}
}

func (c *Client) toMatch(d *decoded, territory string) *Match {
	if d.body.Status.Code != statusSuccess || len(d.body.Metadata.Music) == 0 {
		c.log.Debugf("acrcloud: no result (status %d)", d.body.Status.Code)
		return nil
	}
	best := d.body.Metadata.Music[0]

	artists := make([]string, 0, len(best.Artists))
	for _, a := range best.Artists {
		if a.Name != "" {
			artists = append(artists, a.Name)
		}
	}

	return &Match{
		Title:          best.Title,
		Artist:         strings.Join(artists, ", "),
		Album:          best.Album.Name,
		Label:          best.Label,
		ISRC:           firstString(best.ExternalIDs.ISRC),
		ACRID:          best.ACRID,
		ProAffiliation: c.pro.Lookup(territory),
		Confidence:     normalizeScore(best.Score),
		DurationMs:     best.DurationMs,
		PlayOffsetMs:   best.PlayOffset,
		Raw:            d.rawMap,
	}
}

// normalizeScore maps ACRCloud's 0-100 score to [0,1].
func normalizeScore(v any) float64 {
	var score float64
	switch s := v.(type) {
	case float64:
		score = s
	case string:
		score, _ = strconv.ParseFloat(s, 64)
	}
	score /= 100
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// firstString handles isrc being either a string or a list of strings.
func firstString(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []any:
		for _, item := range s {
			if str, ok := item.(string); ok && str != "" {
				return str
			}
		}
	}
	return ""
}

// Sign computes the request signature: base64(HMAC-SHA1(secret, stringToSign)).
func Sign(accessKey, accessSecret, timestamp string) string {
	stringToSign := strings.Join([]string{
		http.MethodPost,
		identifyPath,
		accessKey,
		dataTypeAudio,
		signatureVersion,
		timestamp,
	}, "\n")
	mac := hmac.New(sha1.New, []byte(accessSecret))
	mac.Write([]byte(stringToSign))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

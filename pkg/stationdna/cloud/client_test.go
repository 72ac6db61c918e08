package cloud

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const identifyURL = "https://identify.test/v1/identify"

const matchBody = `{
  "status": {"msg": "Success", "code": 0, "version": "1.0"},
  "metadata": {
    "music": [{
      "title": "Sweet Mother",
      "artists": [{"name": "Prince Nico Mbarga"}, {"name": "Rocafil Jazz"}],
      "album": {"name": "Sweet Mother"},
      "label": "Rogers All Stars",
      "acrid": "abc123",
      "score": 92,
      "duration_ms": 420000,
      "play_offset_ms": 61000,
      "external_ids": {"isrc": "NGA000000001"}
    }]
  },
  "result_type": 0
}`

const noResultBody = `{"status": {"msg": "No result", "code": 1001, "version": "1.0"}}`

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestClient(t *testing.T, cfg Config) (*Client, *httpmock.MockTransport, *testClock) {
	t.Helper()
	mock := httpmock.NewMockTransport()
	clock := &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}

	cfg.Host = "identify.test"
	cfg.AccessKey = "key"
	cfg.AccessSecret = "secret"
	cfg.HTTPClient = &http.Client{Transport: mock}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = time.Millisecond
	}
	cfg.Now = clock.Now
	return NewClient(cfg, nil), mock, clock
}

func TestIdentifyMatch(t *testing.T) {
	c, mock, _ := newTestClient(t, Config{})
	mock.RegisterResponder(http.MethodPost, identifyURL, httpmock.NewStringResponder(200, matchBody))

	m, err := c.Identify(context.Background(), []byte("RIFF....WAVE"), "NG")
	require.NoError(t, err)
	require.NotNil(t, m)

	assert.Equal(t, "Sweet Mother", m.Title)
	assert.Equal(t, "Prince Nico Mbarga, Rocafil Jazz", m.Artist)
	assert.Equal(t, "NGA000000001", m.ISRC)
	assert.Equal(t, "COSON", m.ProAffiliation)
	assert.InDelta(t, 0.92, m.Confidence, 1e-9)
	assert.Equal(t, "Rogers All Stars", m.Label)
	assert.NotEmpty(t, m.Raw)
}

func TestIdentifyNoResultIsNotAnError(t *testing.T) {
	c, mock, _ := newTestClient(t, Config{})
	mock.RegisterResponder(http.MethodPost, identifyURL, httpmock.NewStringResponder(200, noResultBody))

	m, err := c.Identify(context.Background(), []byte("wav"), "GH")
	assert.NoError(t, err)
	assert.Nil(t, m)
}

func TestIdentifyServiceErrorIsRetriedThenSurfaced(t *testing.T) {
	c, mock, _ := newTestClient(t, Config{MaxRetries: 2})
	mock.RegisterResponder(http.MethodPost, identifyURL, httpmock.NewStringResponder(503, "unavailable"))

	m, err := c.Identify(context.Background(), []byte("wav"), "GH")
	assert.Nil(t, m)
	assert.ErrorIs(t, err, ErrServiceError)
	assert.Equal(t, 3, mock.GetTotalCallCount())
}

func TestIdentifyAuthErrorNotRetried(t *testing.T) {
	c, mock, _ := newTestClient(t, Config{MaxRetries: 2})
	mock.RegisterResponder(http.MethodPost, identifyURL,
		httpmock.NewStringResponder(200, `{"status": {"msg": "Invalid signature", "code": 3014}}`))

	_, err := c.Identify(context.Background(), []byte("wav"), "GH")
	assert.ErrorIs(t, err, ErrServiceError)
	assert.Equal(t, 1, mock.GetTotalCallCount())
}

func TestIdentifyRecoversOnRetry(t *testing.T) {
	c, mock, _ := newTestClient(t, Config{MaxRetries: 1})
	calls := 0
	mock.RegisterResponder(http.MethodPost, identifyURL, func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection reset")
		}
		return httpmock.NewStringResponse(200, matchBody), nil
	})

	m, err := c.Identify(context.Background(), []byte("wav"), "US")
	require.NoError(t, err)
	assert.Equal(t, "ASCAP", m.ProAffiliation)
	assert.Equal(t, 2, calls)
}

func TestIdentifyPerMinuteLimitFailsFast(t *testing.T) {
	c, mock, _ := newTestClient(t, Config{RequestsPerMinute: 2})
	mock.RegisterResponder(http.MethodPost, identifyURL, httpmock.NewStringResponder(200, noResultBody))

	for i := 0; i < 2; i++ {
		_, err := c.Identify(context.Background(), []byte("wav"), "GH")
		require.NoError(t, err)
	}
	_, err := c.Identify(context.Background(), []byte("wav"), "GH")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 2, mock.GetTotalCallCount())
}

func TestIdentifyPerDayLimitResetsAtMidnight(t *testing.T) {
	c, mock, clock := newTestClient(t, Config{RequestsPerMinute: 60, RequestsPerDay: 1})
	mock.RegisterResponder(http.MethodPost, identifyURL, httpmock.NewStringResponder(200, noResultBody))

	_, err := c.Identify(context.Background(), []byte("wav"), "GH")
	require.NoError(t, err)
	_, err = c.Identify(context.Background(), []byte("wav"), "GH")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, c.UsedToday())

	clock.Advance(13 * time.Hour)
	_, err = c.Identify(context.Background(), []byte("wav"), "GH")
	assert.NoError(t, err)
	assert.Equal(t, 2, mock.GetTotalCallCount())
}

func TestIdentifySendsSignedMultipart(t *testing.T) {
	c, mock, clock := newTestClient(t, Config{})
	var got map[string]string
	mock.RegisterResponder(http.MethodPost, identifyURL, func(req *http.Request) (*http.Response, error) {
		if err := req.ParseMultipartForm(1 << 20); err != nil {
			return nil, err
		}
		got = map[string]string{}
		for k, v := range req.MultipartForm.Value {
			got[k] = v[0]
		}
		_, hdr, err := req.FormFile("sample")
		if err != nil {
			return nil, err
		}
		got["filesize"] = strconv.FormatInt(hdr.Size, 10)
		return httpmock.NewStringResponse(200, noResultBody), nil
	})

	_, err := c.Identify(context.Background(), []byte("12345"), "GH")
	require.NoError(t, err)

	ts := strconv.FormatInt(clock.Now().Unix(), 10)
	assert.Equal(t, "1709294400", ts)
	assert.Equal(t, "key", got["access_key"])
	assert.Equal(t, "audio", got["data_type"])
	assert.Equal(t, "1", got["signature_version"])
	assert.Equal(t, ts, got["timestamp"])
	assert.Equal(t, "5", got["sample_bytes"])
	assert.Equal(t, "5", got["filesize"])
	assert.Equal(t, Sign("key", "secret", ts), got["signature"])
}

func TestIdentifyNotConfigured(t *testing.T) {
	c := NewClient(Config{}, nil)
	_, err := c.Identify(context.Background(), []byte("wav"), "GH")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestIdentifyObserverOutcomes(t *testing.T) {
	c, mock, _ := newTestClient(t, Config{RequestsPerMinute: 1})
	mock.RegisterResponder(http.MethodPost, identifyURL, httpmock.NewStringResponder(200, matchBody))

	var outcomes []string
	c.OnCall(func(o string) { outcomes = append(outcomes, o) })

	_, _ = c.Identify(context.Background(), []byte("wav"), "GH")
	_, _ = c.Identify(context.Background(), []byte("wav"), "GH")
	assert.Equal(t, []string{OutcomeMatch, OutcomeRateLimited}, outcomes)
}

func TestSignKnownValue(t *testing.T) {
	sig := Sign("key", "secret", "1709294400")
	assert.Equal(t, "y3Sh4DdQYJTjyqzE+QJ5dGUmXyY=", sig)
	assert.NotEqual(t, sig, Sign("key", "other", "1709294400"))
}

func TestNormalizeScore(t *testing.T) {
	assert.Equal(t, 1.0, normalizeScore(100.0))
	assert.Equal(t, 0.8, normalizeScore(80.0))
	assert.Equal(t, 0.75, normalizeScore("75"))
	assert.Equal(t, 1.0, normalizeScore(250.0))
	assert.Equal(t, 0.0, normalizeScore(nil))
}

func TestPROTable(t *testing.T) {
	tbl := NewPROTable(map[string]string{"gh": "CUSTOM"}, "")
	assert.Equal(t, "CUSTOM", tbl.Lookup("GH"))
	assert.Equal(t, "PRS", tbl.Lookup(" gb "))
	assert.Equal(t, DefaultPRO, tbl.Lookup("XX"))
	assert.Equal(t, DefaultPRO, tbl.Lookup(""))

	assert.Equal(t, "NONE", NewPROTable(nil, "NONE").Lookup("XX"))
}

func TestIdentifyHonoursCancelledContextDuringRetry(t *testing.T) {
	c, mock, _ := newTestClient(t, Config{MaxRetries: 3, RetryDelay: time.Hour})
	mock.RegisterResponder(http.MethodPost, identifyURL, httpmock.NewStringResponder(500, ""))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Identify(ctx, []byte("wav"), "GH")
	assert.ErrorIs(t, err, ErrServiceError)
}

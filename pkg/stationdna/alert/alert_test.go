package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/himanishpuri/StationDNA/pkg/logger"
	"github.com/himanishpuri/StationDNA/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	done chan struct{}
	err  error
}

func newToken(err error, complete bool) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	if complete {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool                     { <-t.done; return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
	topic   string
	qos     byte
	payload []byte
	token   *fakeToken
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.topic, p.qos, p.payload = topic, qos, payload.([]byte)
	return p.token
}

var testAlert = models.Alert{
	Type:      models.AlertHighFailureRate,
	SessionID: "sess-1",
	StationID: "joy-fm",
	Message:   "80% of the last 10 captures failed",
	Value:     0.8,
	RaisedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
}

func TestMQTTSinkPublishesJSON(t *testing.T) {
	pub := &fakePublisher{token: newToken(nil, true)}
	sink := NewMQTTSink(pub, "", 1)

	require.NoError(t, sink.Publish(context.Background(), testAlert))
	assert.Equal(t, "stationdna/alerts/joy-fm/high_failure_rate", pub.topic)
	assert.Equal(t, byte(1), pub.qos)

	var got models.Alert
	require.NoError(t, json.Unmarshal(pub.payload, &got))
	assert.Equal(t, testAlert, got)
}

func TestMQTTSinkPublishError(t *testing.T) {
	pub := &fakePublisher{token: newToken(errors.New("not connected"), true)}
	err := NewMQTTSink(pub, "radio/", 0).Publish(context.Background(), testAlert)
	assert.ErrorContains(t, err, "not connected")
	assert.Equal(t, "radio/joy-fm/high_failure_rate", pub.topic)
}

func TestMQTTSinkRespectsContext(t *testing.T) {
	pub := &fakePublisher{token: newToken(nil, false)}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := NewMQTTSink(pub, "", 1).Publish(ctx, testAlert)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMultiJoinsErrors(t *testing.T) {
	var calls int
	ok := Func(func(context.Context, models.Alert) error { calls++; return nil })
	bad := Func(func(context.Context, models.Alert) error { calls++; return errors.New("boom") })

	err := Multi{ok, nil, bad, ok}.Publish(context.Background(), testAlert)
	assert.ErrorContains(t, err, "boom")
	assert.Equal(t, 3, calls)

	assert.NoError(t, Multi{ok}.Publish(context.Background(), testAlert))
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(logger.Config{Level: logger.DEBUG, Output: &buf})

	require.NoError(t, LogSink{Log: log}.Publish(context.Background(), testAlert))
	assert.Contains(t, buf.String(), "ALERT high_failure_rate station=joy-fm session=sess-1")
}

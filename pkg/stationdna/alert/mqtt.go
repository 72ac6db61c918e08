package alert

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/himanishpuri/StationDNA/pkg/models"
)

const DefaultTopicPrefix = "stationdna/alerts"

type MQTTConfig struct {
	Broker      string // tcp://host:1883
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// publisher is the part of mqtt.Client the sink needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes alerts as JSON to <prefix>/<station>/<type>.
type MQTTSink struct {
	client publisher
	conn   mqtt.Client
	prefix string
	qos    byte
}

// DialMQTT connects to the broker and returns a sink owning the connection.
func DialMQTT(cfg MQTTConfig, log Logger) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "stationdna"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if log != nil {
			log.Warnf("mqtt connection lost: %v", err)
		}
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connecting to mqtt broker: %w", token.Error())
	}

	s := NewMQTTSink(client, cfg.TopicPrefix, cfg.QoS)
	s.conn = client
	return s, nil
}

// NewMQTTSink wraps an already connected client.
func NewMQTTSink(client publisher, topicPrefix string, qos byte) *MQTTSink {
	if topicPrefix == "" {
		topicPrefix = DefaultTopicPrefix
	}
	if qos > 2 {
		qos = 1
	}
	return &MQTTSink{client: client, prefix: strings.TrimSuffix(topicPrefix, "/"), qos: qos}
}

func (s *MQTTSink) Topic(a models.Alert) string {
	station := a.StationID
	if station == "" {
		station = "unknown"
	}
	return s.prefix + "/" + station + "/" + string(a.Type)
}

func (s *MQTTSink) Publish(ctx context.Context, a models.Alert) error {
	payload, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	token := s.client.Publish(s.Topic(a), s.qos, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt publish: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("mqtt publish: %w", ctx.Err())
	}
}

// Close disconnects a connection opened by DialMQTT.
func (s *MQTTSink) Close() {
	if s.conn != nil {
		s.conn.Disconnect(250)
	}
}

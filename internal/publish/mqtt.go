// Package publish mirrors every access decision to an MQTT topic so home
// automation and dashboards can react without polling the backend.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/andresmejia3/gatekeeper/internal/session"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultTopic      = "gatekeeper/decisions"
	DefaultPort       = 1883
	connectTimeout    = 5 * time.Second
	publishTimeout    = 2 * time.Second
	disconnectQuiesce = 250 // ms
)

var ErrNotConnected = errors.New("mqtt not connected")

// Options configure the broker connection.
type Options struct {
	Broker   string
	Port     int
	ClientID string
	Username string
	Password string
	Topic    string
}

// Client is the subset of mqtt.Client the reporter uses.
type Client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// Decision is the published JSON document.
type Decision struct {
	RequestID  string    `json:"request_id"`
	SessionID  string    `json:"session_id"`
	Recognized bool      `json:"recognized"`
	UserName   string    `json:"user_name"`
	Attempts   int       `json:"attempts"`
	Outcome    string    `json:"outcome"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewDecision converts a session into its published form.
func NewDecision(s session.Session) Decision {
	name := s.UserName()
	if name == "" {
		name = "Unknown"
	}
	return Decision{
		RequestID:  s.RequestID,
		SessionID:  s.ID,
		Recognized: s.Recognized(),
		UserName:   name,
		Attempts:   s.Attempts,
		Outcome:    s.Outcome.Kind.String(),
		Timestamp:  s.CompletedAt,
	}
}

// Reporter publishes decisions with QoS 1, not retained.
type Reporter struct {
	client Client
	topic  string
	raw    mqtt.Client
}

// NewReporter wraps an existing client, mainly for tests.
func NewReporter(c Client, topic string) *Reporter {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Reporter{client: c, topic: topic}
}

// Connect dials the broker with auto-reconnect and returns a ready Reporter.
func Connect(opts Options) (*Reporter, error) {
	if opts.Port == 0 {
		opts.Port = DefaultPort
	}
	brokerURL := fmt.Sprintf("tcp://%s:%d", opts.Broker, opts.Port)
	logger := log.WithFields(log.Fields{"component": "mqtt", "broker": brokerURL})

	mo := mqtt.NewClientOptions()
	mo.AddBroker(brokerURL)
	mo.SetClientID(opts.ClientID)
	if opts.Username != "" {
		mo.SetUsername(opts.Username)
		mo.SetPassword(opts.Password)
	}
	mo.SetAutoReconnect(true)
	mo.SetMaxReconnectInterval(1 * time.Minute)
	mo.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("MQTT client connected")
	})
	mo.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost, will auto-reconnect")
	})

	c := mqtt.NewClient(mo)
	logger.Info("Connecting to MQTT broker")
	token := c.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connection failed: %w", err)
	}

	r := NewReporter(c, opts.Topic)
	r.raw = c
	return r, nil
}

// Report publishes one decision.
func (r *Reporter) Report(ctx context.Context, s session.Session) error {
	if !r.client.IsConnected() {
		return ErrNotConnected
	}

	payload, err := json.Marshal(NewDecision(s))
	if err != nil {
		return fmt.Errorf("failed to marshal decision: %w", err)
	}

	token := r.client.Publish(r.topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	log.WithFields(log.Fields{"component": "mqtt", "topic": r.topic, "request_id": s.RequestID}).
		Debug("Decision published")
	return nil
}

// Close disconnects when the reporter owns the connection.
func (r *Reporter) Close() {
	if r.raw != nil && r.raw.IsConnected() {
		log.WithField("component", "mqtt").Info("Disconnecting MQTT client...")
		r.raw.Disconnect(disconnectQuiesce)
	}
}

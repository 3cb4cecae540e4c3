// Package transport subscribes to the scanner snapshot feed and hands parsed
// snapshots to the reconciler.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/netwatch-io/presence-mon/internal/config"
	"github.com/netwatch-io/presence-mon/pkg/types"
)

// SnapshotHandler consumes one parsed snapshot for one network.
type SnapshotHandler interface {
	Reconcile(ctx context.Context, networkName string, snap types.Snapshot) error
}

// Subscriber is the MQTT ingestion side of the server. Each retained or live
// message on the configured topic is decoded and reconciled synchronously on
// paho's delivery goroutine.
type Subscriber struct {
	cfg     config.MQTTConfig
	handler SnapshotHandler
	logger  *slog.Logger
	client  mqtt.Client
}

// NewSubscriber creates a subscriber; Connect establishes the session.
func NewSubscriber(cfg config.MQTTConfig, handler SnapshotHandler, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "mqtt"),
	}
}

// Connect dials the broker and subscribes to the snapshot topic. The paho
// client auto-reconnects and re-subscribes on connection loss.
func (s *Subscriber) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.BrokerURL)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetOrderMatters(true)

	opts.OnConnect = func(client mqtt.Client) {
		s.logger.Info("connected to broker", "broker", s.cfg.BrokerURL)
		token := client.Subscribe(s.cfg.Topic, config.MQTTQoS, func(_ mqtt.Client, msg mqtt.Message) {
			s.handleMessage(ctx, msg.Topic(), msg.Payload())
		})
		if !token.WaitTimeout(s.connectTimeout()) || token.Error() != nil {
			s.logger.Error("subscribe failed", "topic", s.cfg.Topic, "error", token.Error())
			return
		}
		s.logger.Info("subscribed", "topic", s.cfg.Topic)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		s.logger.Warn("connection lost", "error", err)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(s.connectTimeout()) {
		return fmt.Errorf("connecting to %s: timeout", s.cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connecting to %s: %w", s.cfg.BrokerURL, err)
	}

	s.client = client
	return nil
}

// Disconnect flushes in-flight work and tears down the session.
func (s *Subscriber) Disconnect() {
	if s.client == nil {
		return
	}
	s.client.Disconnect(250)
	s.logger.Info("disconnected")
}

func (s *Subscriber) connectTimeout() time.Duration {
	if s.cfg.ConnectTimeout > 0 {
		return s.cfg.ConnectTimeout
	}
	return config.DefaultMQTTConnectTimeout
}

// handleMessage decodes one snapshot payload. Malformed payloads are dropped
// here with a log line; they never reach the reconciler.
func (s *Subscriber) handleMessage(ctx context.Context, topic string, payload []byte) {
	networkName := NetworkNameFromTopic(topic)
	if networkName == "" {
		s.logger.Warn("could not derive network name", "topic", topic)
		return
	}

	var snap types.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		s.logger.Error("malformed snapshot dropped",
			"topic", topic, "bytes", len(payload), "error", err)
		return
	}
	if snap.Timestamp.IsZero() {
		snap.Timestamp = time.Now().UTC()
	}

	s.logger.Debug("snapshot received",
		"network", networkName, "hostname", snap.Hostname, "devices", len(snap.Devices))

	if err := s.handler.Reconcile(ctx, networkName, snap); err != nil {
		s.logger.Error("reconciliation failed",
			"network", networkName, "error", err)
	}
}

// NetworkNameFromTopic extracts the network name from a topic path: the
// segment immediately before the last one ("networks/office/scan" yields
// "office"). Topics with fewer than two segments are used whole.
func NetworkNameFromTopic(topic string) string {
	segments := strings.Split(topic, "/")
	if len(segments) < 2 {
		return topic
	}
	return segments[len(segments)-2]
}

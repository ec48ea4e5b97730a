// v1
// internal/transport/iothub/iothub.go

// Package iothub delivers telemetry to Azure IoT Hub as device-to-cloud
// messages over MQTT.
package iothub

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/transport"
)

const (
	// APIVersion is the IoT Hub MQTT API version sent in the username.
	APIVersion = "2021-04-12"

	mqttPort              = 8883
	qosAtLeastOnce        = 1
	defaultTokenTTL       = time.Hour
	defaultConnectTimeout = 30 * time.Second
	disconnectQuiesceMS   = 250
)

// Option customises a Transport.
type Option func(*Transport)

// WithTokenTTL sets how long each generated SAS token stays valid.
func WithTokenTTL(ttl time.Duration) Option {
	return func(t *Transport) {
		if ttl > 0 {
			t.tokenTTL = ttl
		}
	}
}

// WithConnectTimeout bounds the initial MQTT connect.
func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.connectTimeout = d
		}
	}
}

// WithClientFactory replaces the paho client constructor; used by tests.
func WithClientFactory(fn func(*mqtt.ClientOptions) mqtt.Client) Option {
	return func(t *Transport) {
		if fn != nil {
			t.newClient = fn
		}
	}
}

// Transport acquires one MQTT session per device connection string.
type Transport struct {
	logger         *slog.Logger
	tokenTTL       time.Duration
	connectTimeout time.Duration
	now            func() time.Time
	newClient      func(*mqtt.ClientOptions) mqtt.Client
}

// New builds an IoT Hub transport.
func New(logger *slog.Logger, opts ...Option) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		logger:         logger.With(slog.String("component", "iothub")),
		tokenTTL:       defaultTokenTTL,
		connectTimeout: defaultConnectTimeout,
		now:            time.Now,
		newClient:      mqtt.NewClient,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Acquire parses credential, opens the MQTT session and waits for the
// CONNACK or ctx, whichever comes first.
func (t *Transport) Acquire(ctx context.Context, credential string) (transport.Handle, error) {
	cs, err := ParseConnectionString(credential)
	if err != nil {
		return nil, err
	}
	// fail fast on a key that cannot sign
	if _, err := cs.SASToken(t.now(), t.tokenTTL); err != nil {
		return nil, err
	}

	log := t.logger.With(slog.String("device_id", cs.DeviceID), slog.String("host", cs.HostName))
	opts := t.clientOptions(cs, log)
	client := t.newClient(opts)

	tok := client.Connect()
	if err := waitToken(ctx, tok, t.connectTimeout); err != nil {
		client.Disconnect(disconnectQuiesceMS)
		return nil, fmt.Errorf("mqtt connect %s: %w", cs.HostName, err)
	}
	log.Info("iothub_connected")

	return &handle{
		client:   client,
		deviceID: cs.DeviceID,
		topic:    EventsTopic(cs.DeviceID),
		logger:   log,
	}, nil
}

func (t *Transport) clientOptions(cs ConnectionString, log *slog.Logger) *mqtt.ClientOptions {
	username := cs.Username()
	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tls://%s:%d", cs.HostName, mqttPort)).
		SetClientID(cs.DeviceID).
		SetProtocolVersion(4).
		SetTLSConfig(&tls.Config{ServerName: cs.HostName, MinVersion: tls.VersionTLS12}).
		SetConnectTimeout(t.connectTimeout).
		SetKeepAlive(4 * time.Minute).
		SetAutoReconnect(true).
		SetConnectRetry(false)

	// a fresh token on every (re)connect keeps long runs past the token TTL
	opts.SetCredentialsProvider(func() (string, string) {
		tok, err := cs.SASToken(t.now(), t.tokenTTL)
		if err != nil {
			log.Error("iothub_sas_token_failed", slog.Any("err", err))
		}
		return username, tok
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("iothub_connection_lost", slog.Any("err", err))
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		log.Info("iothub_reconnecting")
	})
	return opts
}

// EventsTopic is the device-to-cloud topic prefix for deviceID.
func EventsTopic(deviceID string) string {
	return "devices/" + deviceID + "/messages/events/"
}

// PropertyBag encodes system properties appended to the events topic.
func PropertyBag(msg transport.Message) string {
	var parts []string
	if msg.ContentType != "" {
		parts = append(parts, "$.ct="+url.QueryEscape(msg.ContentType))
	}
	if msg.ContentEncoding != "" {
		parts = append(parts, "$.ce="+url.QueryEscape(msg.ContentEncoding))
	}
	if msg.MessageID != "" {
		parts = append(parts, "$.mid="+url.QueryEscape(msg.MessageID))
	}
	return strings.Join(parts, "&")
}

type handle struct {
	client   mqtt.Client
	deviceID string
	topic    string
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (h *handle) Send(ctx context.Context, msg transport.Message) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return transport.ErrHandleInvalid
	}

	tok := h.client.Publish(h.topic+PropertyBag(msg), qosAtLeastOnce, false, msg.Body)
	if err := waitToken(ctx, tok, 0); err != nil {
		if errors.Is(err, mqtt.ErrNotConnected) && !h.client.IsConnected() {
			// paho reports connected while it reconnects, so this only follows
			// a local Disconnect; the session will not come back
			return fmt.Errorf("%w: %v", transport.ErrHandleInvalid, err)
		}
		return err
	}
	return nil
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	h.client.Disconnect(disconnectQuiesceMS)
	h.logger.Info("iothub_disconnected")
	return nil
}

// waitToken blocks until tok completes, ctx ends or timeout elapses
// (timeout <= 0 means no extra bound).
func waitToken(ctx context.Context, tok mqtt.Token, timeout time.Duration) error {
	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer:
		return fmt.Errorf("timed out after %s", timeout)
	}
}

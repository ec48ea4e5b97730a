// v2
// internal/transport/kafka/kafka.go

// Package kafka delivers telemetry to a Kafka topic, keyed by device id so
// that each device's readings stay ordered within one partition.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/Ahmedbooudouh/cst8916-final-project/internal/transport"
)

// Scheme prefixes every Kafka credential.
const Scheme = "kafka"

// ErrMalformedCredential is wrapped by every credential parse failure.
var ErrMalformedCredential = errors.New("malformed kafka credential")

// Credential is a parsed kafka://broker1:9092,broker2:9092/topic string.
type Credential struct {
	Brokers []string
	Topic   string
}

// ParseCredential splits raw into brokers and topic.
func ParseCredential(raw string) (Credential, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(raw), Scheme+"://")
	if !ok {
		return Credential{}, fmt.Errorf("%w: want %s://brokers/topic", ErrMalformedCredential, Scheme)
	}
	hosts, topic, _ := strings.Cut(rest, "/")
	var brokers []string
	for _, b := range strings.Split(hosts, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	topic = strings.TrimSuffix(topic, "/")
	if len(brokers) == 0 {
		return Credential{}, fmt.Errorf("%w: no brokers", ErrMalformedCredential)
	}
	if topic == "" || strings.Contains(topic, "/") {
		return Credential{}, fmt.Errorf("%w: invalid topic %q", ErrMalformedCredential, topic)
	}
	return Credential{Brokers: brokers, Topic: topic}, nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Option customises a Transport.
type Option func(*Transport)

// WithWriterFactory replaces the kafka.Writer constructor; used by tests.
func WithWriterFactory(fn func(Credential) messageWriter) Option {
	return func(t *Transport) {
		if fn != nil {
			t.newWriter = fn
		}
	}
}

// WithProbe replaces the broker reachability check run by Acquire. A nil
// probe disables the check.
func WithProbe(fn func(ctx context.Context, brokers []string) error) Option {
	return func(t *Transport) { t.probe = fn }
}

// WithWriteTimeout bounds each produce request.
func WithWriteTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.writeTimeout = d
		}
	}
}

// Transport hands every device its own writer.
type Transport struct {
	logger       *slog.Logger
	writeTimeout time.Duration
	newWriter    func(Credential) messageWriter
	probe        func(ctx context.Context, brokers []string) error
	now          func() time.Time
}

// New builds a Kafka transport.
func New(logger *slog.Logger, opts ...Option) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		logger:       logger.With(slog.String("component", "kafka")),
		writeTimeout: 10 * time.Second,
		probe:        dialAny,
		now:          time.Now,
	}
	t.newWriter = t.defaultWriter
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) defaultWriter(c Credential) messageWriter {
	return &kafka.Writer{
		Addr:                   kafka.TCP(c.Brokers...),
		Topic:                  c.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		WriteTimeout:           t.writeTimeout,
		AllowAutoTopicCreation: true,
	}
}

// dialAny succeeds as soon as one broker accepts a connection.
func dialAny(ctx context.Context, brokers []string) error {
	var errs []error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err == nil {
			return conn.Close()
		}
		errs = append(errs, fmt.Errorf("%s: %w", b, err))
	}
	return errors.Join(errs...)
}

// Acquire parses credential, checks that a broker is reachable and returns
// a handle owning a fresh writer.
func (t *Transport) Acquire(ctx context.Context, credential string) (transport.Handle, error) {
	c, err := ParseCredential(credential)
	if err != nil {
		return nil, err
	}
	if t.probe != nil {
		if err := t.probe(ctx, c.Brokers); err != nil {
			return nil, fmt.Errorf("kafka brokers unreachable: %w", err)
		}
	}
	t.logger.Info("kafka_writer_ready", slog.String("topic", c.Topic), slog.Any("brokers", c.Brokers))
	return &handle{writer: t.newWriter(c), topic: c.Topic, now: t.now, logger: t.logger}, nil
}

type handle struct {
	writer messageWriter
	topic  string
	now    func() time.Time
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

// Headers builds the Kafka record headers carried with every message.
func Headers(msg transport.Message) []kafka.Header {
	hs := make([]kafka.Header, 0, 3)
	if msg.ContentType != "" {
		hs = append(hs, kafka.Header{Key: "content-type", Value: []byte(msg.ContentType)})
	}
	if msg.ContentEncoding != "" {
		hs = append(hs, kafka.Header{Key: "content-encoding", Value: []byte(msg.ContentEncoding)})
	}
	if msg.MessageID != "" {
		hs = append(hs, kafka.Header{Key: "message-id", Value: []byte(msg.MessageID)})
	}
	return hs
}

func (h *handle) Send(ctx context.Context, msg transport.Message) error {
	h.mu.Lock()
	closed := h.closed
	h.mu.Unlock()
	if closed {
		return transport.ErrHandleInvalid
	}
	err := h.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(msg.DeviceID),
		Value:   msg.Body,
		Headers: Headers(msg),
		Time:    h.now(),
	})
	if errors.Is(err, io.ErrClosedPipe) {
		return fmt.Errorf("%w: %v", transport.ErrHandleInvalid, err)
	}
	return err
}

func (h *handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if err := h.writer.Close(); err != nil {
		h.logger.Warn("kafka_writer_close_failed", slog.String("topic", h.topic), slog.Any("err", err))
		return err
	}
	return nil
}

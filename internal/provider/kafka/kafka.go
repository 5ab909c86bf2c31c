// Package kafka publishes analytics calls as JSON envelopes to a Kafka
// topic for downstream consumers. It supports identification.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"github.com/aicoder88/roigpt-sub000/internal/domain"
	"github.com/aicoder88/roigpt-sub000/internal/idempotency"
	"github.com/aicoder88/roigpt-sub000/internal/provider"
)

// Producer is the subset of *kafka.Producer the adapter uses.
type Producer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

type Config struct {
	Brokers  string
	Topic    string
	ClientID string
	// NewProducer defaults to kafka.NewProducer.
	NewProducer func(cfg *kafka.ConfigMap) (Producer, error)
	SessionID   func(ctx context.Context) string
	Now         func() time.Time
}

// Envelope is the message value written to the topic.
type Envelope struct {
	Type      string         `json:"type"`
	Event     *domain.Event  `json:"event,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	Traits    map[string]any `json:"traits,omitempty"`
	Page      string         `json:"page,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	SentAt    time.Time      `json:"sent_at"`
}

const (
	TypeTrack          = "track"
	TypeIdentify       = "identify"
	TypePage           = "page"
	TypeUserProperties = "user_properties"
)

type Provider struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	producer Producer
	userID   string
}

func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.NewProducer == nil {
		cfg.NewProducer = func(c *kafka.ConfigMap) (Producer, error) { return kafka.NewProducer(c) }
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "analyticsd"
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{cfg: cfg, logger: logger}
}

func (p *Provider) Name() string { return string(provider.KindKafka) }

func (p *Provider) Initialize(context.Context) error {
	if strings.TrimSpace(p.cfg.Brokers) == "" {
		return provider.MissingCredential(provider.KindKafka, "brokers")
	}
	if strings.TrimSpace(p.cfg.Topic) == "" {
		return provider.MissingCredential(provider.KindKafka, "topic")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.producer != nil {
		return nil
	}
	prod, err := p.cfg.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": p.cfg.Brokers,
		"client.id":         p.cfg.ClientID,
	})
	if err != nil {
		return fmt.Errorf("create kafka producer: %w", err)
	}
	p.producer = prod
	return nil
}

// Close flushes outstanding messages and closes the producer.
func (p *Provider) Close() error {
	p.mu.Lock()
	prod := p.producer
	p.producer = nil
	p.mu.Unlock()
	if prod == nil {
		return nil
	}
	if n := prod.Flush(5000); n > 0 {
		p.logger.Warn("kafka messages left unflushed", zap.Int("count", n))
	}
	prod.Close()
	return nil
}

func (p *Provider) Track(ctx context.Context, ev domain.Event) error {
	p.mu.Lock()
	if ev.UserID == "" {
		ev.UserID = p.userID
	}
	p.mu.Unlock()
	key, _ := idempotency.DeriveKey(ev)
	return p.publish(ctx, key, Envelope{Type: TypeTrack, Event: &ev, UserID: ev.UserID, SessionID: ev.SessionID})
}

func (p *Provider) Page(ctx context.Context, name string, props map[string]any) error {
	return p.publish(ctx, "", Envelope{Type: TypePage, Page: name, Traits: maps.Clone(props), UserID: p.currentUser()})
}

func (p *Provider) Identify(ctx context.Context, userID string, props map[string]any) error {
	p.mu.Lock()
	p.userID = userID
	p.mu.Unlock()
	return p.publish(ctx, userID, Envelope{Type: TypeIdentify, UserID: userID, Traits: maps.Clone(props)})
}

func (p *Provider) SetUserProperties(ctx context.Context, props map[string]any) error {
	userID := p.currentUser()
	return p.publish(ctx, userID, Envelope{Type: TypeUserProperties, UserID: userID, Traits: maps.Clone(props)})
}

func (p *Provider) Reset(context.Context) error {
	p.mu.Lock()
	p.userID = ""
	p.mu.Unlock()
	return nil
}

func (p *Provider) currentUser() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.userID
}

// publish produces one message and waits for its delivery report.
func (p *Provider) publish(ctx context.Context, key string, env Envelope) error {
	p.mu.Lock()
	prod := p.producer
	p.mu.Unlock()
	if prod == nil {
		return provider.ErrNotInitialized
	}

	if env.SessionID == "" && p.cfg.SessionID != nil {
		env.SessionID = p.cfg.SessionID(ctx)
	}
	if key == "" {
		key = env.SessionID
	}
	env.SentAt = p.cfg.Now()

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode kafka envelope: %w", err)
	}

	topic := p.cfg.Topic
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            []byte(key),
		Value:          value,
		Headers:        []kafka.Header{{Key: "type", Value: []byte(env.Type)}},
	}

	// Buffered so an abandoned wait never blocks the producer.
	deliveryChan := make(chan kafka.Event, 1)
	if err := prod.Produce(msg, deliveryChan); err != nil {
		return fmt.Errorf("failed to produce message: %w", err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case e := <-deliveryChan:
		m, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("unexpected delivery event %v", e)
		}
		if m.TopicPartition.Error != nil {
			return fmt.Errorf("delivery failed: %w", m.TopicPartition.Error)
		}
		return nil
	}
}

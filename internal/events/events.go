// Package events publishes per-request query events to Kafka.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"

	"github.com/dabbsLondon/pivot-experiment/internal/core/observability"
	"github.com/dabbsLondon/pivot-experiment/internal/logger"
)

// Event describes one served analytical request.
type Event struct {
	Endpoint    string    `json:"endpoint"`
	CacheKey    string    `json:"cache_key,omitempty"`
	Cached      bool      `json:"cached"`
	Rows        int       `json:"rows"`
	QueryTimeMs uint64    `json:"query_time_ms"`
	TS          time.Time `json:"ts"`
}

// Sink accepts events without blocking the caller.
type Sink interface {
	Publish(ev Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(Event) {}
func (Nop) Close() error  { return nil }

type Publisher struct {
	topic   string
	mu      sync.RWMutex // guards closed and sends on events
	closed  bool
	events  chan Event
	prod    sarama.AsyncProducer
	logger  *slog.Logger
	stopped chan struct{}
	errDone chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, log *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.RequiredAcks = sarama.WaitForLocal

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newWithProducer(prod, topic, queueSize, log), nil
}

func newWithProducer(prod sarama.AsyncProducer, topic string, queueSize int, log *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = logger.Discard()
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan Event, queueSize),
		prod:    prod,
		logger:  log,
		stopped: make(chan struct{}),
		errDone: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.logger.Warn("event marshal failed", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.Endpoint),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.errDone)
		for err := range p.prod.Errors() {
			if err != nil {
				p.logger.Warn("event producer error", "err", err.Err, "topic", p.topic)
			}
		}
	}()

	return p
}

// Publish enqueues ev, dropping it when the queue is full or the publisher is closed.
func (p *Publisher) Publish(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		observability.IncEventsDropped()
		return
	}
	select {
	case p.events <- ev:
	default:
		observability.IncEventsDropped()
	}
}

// Close drains queued events into the producer and shuts it down. Later calls are no-ops.
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	<-p.stopped

	err := p.prod.Close()
	<-p.errDone
	if err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}

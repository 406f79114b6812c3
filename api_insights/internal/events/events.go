package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"lance/api_insights/internal/insights"
	"lance/pkg/logging"
	pkgredis "lance/pkg/redis"
)

// ChannelPrefix prefixes the per-user redis channel.
const ChannelPrefix = "insights:snapshots:"

// SnapshotEvent announces a newly stored snapshot so clients can refetch
// instead of polling.
type SnapshotEvent struct {
	EventID       string    `json:"event_id"`
	UserID        string    `json:"user_id"`
	SnapshotID    string    `json:"snapshot_id"`
	PeriodStart   string    `json:"period_start"`
	PeriodEnd     string    `json:"period_end"`
	HashtagCount  int       `json:"hashtag_count"`
	KeywordCount  int       `json:"keyword_count"`
	CreativeCount int       `json:"creative_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewSnapshotEvent describes snap with a fresh event id.
func NewSnapshotEvent(snap *insights.Snapshot) SnapshotEvent {
	return SnapshotEvent{
		EventID:       uuid.NewString(),
		UserID:        snap.UserID,
		SnapshotID:    snap.ID,
		PeriodStart:   snap.PeriodStart.Format(time.DateOnly),
		PeriodEnd:     snap.PeriodEnd.Format(time.DateOnly),
		HashtagCount:  len(snap.TopHashtags),
		KeywordCount:  len(snap.TopKeywords),
		CreativeCount: len(snap.TopCreatives),
		CreatedAt:     snap.CreatedAt,
	}
}

// Channel returns the redis channel for userID.
func Channel(userID string) string {
	return ChannelPrefix + userID
}

type Publisher interface {
	Name() string
	Publish(ctx context.Context, event SnapshotEvent) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Name() string { return "nop" }
func (NopPublisher) Publish(context.Context, SnapshotEvent) error { return nil }

// RedisPublisher fans events out over redis pub/sub.
type RedisPublisher struct {
	pubsub *pkgredis.TypedPubSub[SnapshotEvent]
	logger logging.Logger
}

func NewRedisPublisher(pubsub *pkgredis.TypedPubSub[SnapshotEvent], logger logging.Logger) *RedisPublisher {
	return &RedisPublisher{pubsub: pubsub, logger: logger}
}

func (p *RedisPublisher) Name() string { return "redis" }

func (p *RedisPublisher) Publish(ctx context.Context, event SnapshotEvent) error {
	receivers, err := p.pubsub.Publish(ctx, Channel(event.UserID), event)
	if err != nil {
		return err
	}
	p.logger.WithFields(logging.Fields{
		"user_id":     event.UserID,
		"snapshot_id": event.SnapshotID,
		"receivers":   receivers,
	}).Debug("Published snapshot event")
	return nil
}

// RecordProducer is the subset of the kafka producer used here.
type RecordProducer interface {
	Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error
}

// KafkaPublisher appends events to a topic keyed by user so one user's
// events stay ordered within a partition.
type KafkaPublisher struct {
	producer RecordProducer
	topic    string
}

func NewKafkaPublisher(producer RecordProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) Name() string { return "kafka" }

func (p *KafkaPublisher) Publish(ctx context.Context, event SnapshotEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal snapshot event: %w", err)
	}
	headers := map[string]string{
		"event_type": "snapshot_created",
		"event_id":   event.EventID,
	}
	return p.producer.Produce(ctx, p.topic, []byte(event.UserID), value, headers)
}

// MultiPublisher sends each event to every sink. A failing sink does not
// stop the others; all failures are returned joined.
type MultiPublisher struct {
	sinks   []Publisher
	counter *prometheus.CounterVec
}

// NewMultiPublisher counts outcomes per sink on counter when it is non-nil.
func NewMultiPublisher(counter *prometheus.CounterVec, sinks ...Publisher) *MultiPublisher {
	return &MultiPublisher{sinks: sinks, counter: counter}
}

func (m *MultiPublisher) Name() string { return "multi" }

func (m *MultiPublisher) Len() int { return len(m.sinks) }

func (m *MultiPublisher) Publish(ctx context.Context, event SnapshotEvent) error {
	var errs []error
	for _, sink := range m.sinks {
		status := "success"
		if err := sink.Publish(ctx, event); err != nil {
			status = "error"
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
		if m.counter != nil {
			m.counter.WithLabelValues(sink.Name(), status).Inc()
		}
	}
	return errors.Join(errs...)
}

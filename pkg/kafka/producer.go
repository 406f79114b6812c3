package kafka

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"lance/pkg/logging"
)

// Producer is a synchronous franz-go producer.
type Producer struct {
	client *kgo.Client
	logger logging.Logger
}

// NewProducer builds a client for brokers. Extra options are appended last so
// callers can override the defaults.
func NewProducer(brokers []string, clientID string, logger logging.Logger, extra ...kgo.Opt) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ClientID(clientID),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
		kgo.ProducerLinger(10 * time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	opts = append(opts, extra...)

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{client: client, logger: logger}, nil
}

// Produce writes one record and waits for the broker acknowledgement.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte, headers map[string]string) error {
	record := NewRecord(topic, key, value, headers)
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", topic, err)
	}
	if p.logger != nil {
		p.logger.WithFields(logging.Fields{
			"topic":     topic,
			"partition": record.Partition,
			"offset":    record.Offset,
		}).Debug("Produced kafka record")
	}
	return nil
}

func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

func (p *Producer) Close() {
	p.client.Close()
}

// NewRecord builds a record with headers in a stable key order.
func NewRecord(topic string, key, value []byte, headers map[string]string) *kgo.Record {
	record := &kgo.Record{Topic: topic, Key: key, Value: value}
	if len(headers) == 0 {
		return record
	}
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(headers[k])})
	}
	return record
}

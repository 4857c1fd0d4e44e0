package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Default Kafka names.
const (
	DefaultKafkaTopic   = "security-events"
	DefaultKafkaGroupID = "secpipeline"
)

// KafkaConfig configures a Kafka source or publisher.
type KafkaConfig struct {
	Brokers         []string
	Topic           string
	GroupID         string
	DeadLetterTopic string // empty disables dead-lettering
}

func (c *KafkaConfig) withDefaults() {
	if len(c.Brokers) == 0 {
		c.Brokers = []string{"localhost:9092"}
	}
	if c.Topic == "" {
		c.Topic = DefaultKafkaTopic
	}
	if c.GroupID == "" {
		c.GroupID = DefaultKafkaGroupID
	}
}

// kafkaReader is the subset of *kafka.Reader used by KafkaSource.
type kafkaReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSource reads a topic as part of a consumer group. Several workers
// may receive concurrently; a partition's offset is committed only up to
// the last record below which every fetched record has been acked, so a
// crash re-delivers every unacked record.
type KafkaSource struct {
	reader     kafkaReader
	deadLetter *kafka.Writer
	logger     *zap.Logger

	// mu orders commits so the group offset never moves backwards.
	mu      sync.Mutex
	offsets *offsetTracker
}

// NewKafkaSource creates a KafkaSource. Connections are established lazily.
func NewKafkaSource(cfg KafkaConfig, logger *zap.Logger) *KafkaSource {
	cfg.withDefaults()
	s := &KafkaSource{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        cfg.Brokers,
			Topic:          cfg.Topic,
			GroupID:        cfg.GroupID,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        500 * time.Millisecond,
			CommitInterval: 0, // synchronous commits
		}),
		logger:  logger,
		offsets: newOffsetTracker(),
	}
	if cfg.DeadLetterTopic != "" {
		s.deadLetter = &kafka.Writer{
			Addr:                   kafka.TCP(cfg.Brokers...),
			Topic:                  cfg.DeadLetterTopic,
			Balancer:               &kafka.LeastBytes{},
			AllowAutoTopicCreation: true,
		}
	}
	logger.Info("kafka source configured",
		zap.Strings("brokers", cfg.Brokers),
		zap.String("topic", cfg.Topic),
		zap.String("group", cfg.GroupID),
	)
	return s
}

// Receive implements Source. The message ID is topic/partition/offset,
// which is stable across re-deliveries.
func (s *KafkaSource) Receive(ctx context.Context) (*Message, error) {
	m, err := s.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.offsets.fetched(m)
	s.mu.Unlock()
	return &Message{
		ID:   fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset),
		Data: m.Value,
		raw:  m,
	}, nil
}

// Ack implements Source. The commit is deferred while an earlier record
// of the same partition is still in flight.
func (s *KafkaSource) Ack(ctx context.Context, msg *Message) error {
	m, ok := msg.raw.(kafka.Message)
	if !ok {
		return fmt.Errorf("message %s did not come from kafka", msg.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	commit, ok := s.offsets.acked(m)
	if !ok {
		return nil
	}
	if err := s.reader.CommitMessages(ctx, commit); err != nil {
		return fmt.Errorf("commit offset: %w", err)
	}
	return nil
}

// offsetTracker follows fetched and acked offsets per partition. Not safe
// for concurrent use; KafkaSource guards it with its mutex.
type offsetTracker struct {
	partitions map[int]*partitionState
}

type partitionState struct {
	// inflight holds fetched offsets in fetch order; done marks acked ones.
	inflight []kafka.Message
	done     map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{partitions: make(map[int]*partitionState)}
}

func (t *offsetTracker) fetched(m kafka.Message) {
	p := t.partitions[m.Partition]
	// A fetch at or below a tracked offset means the partition was
	// reassigned and rewound; earlier in-flight records are re-delivered.
	if p == nil || (len(p.inflight) > 0 && m.Offset <= p.inflight[len(p.inflight)-1].Offset) {
		p = &partitionState{done: make(map[int64]bool)}
		t.partitions[m.Partition] = p
	}
	p.inflight = append(p.inflight, m)
}

// acked records m and returns the highest message that can now be
// committed, if the contiguous acked prefix grew.
func (t *offsetTracker) acked(m kafka.Message) (kafka.Message, bool) {
	p := t.partitions[m.Partition]
	if p == nil || len(p.inflight) == 0 ||
		m.Offset < p.inflight[0].Offset || m.Offset > p.inflight[len(p.inflight)-1].Offset {
		return kafka.Message{}, false
	}
	p.done[m.Offset] = true

	var (
		commit kafka.Message
		moved  bool
	)
	for len(p.inflight) > 0 && p.done[p.inflight[0].Offset] {
		commit = p.inflight[0]
		delete(p.done, commit.Offset)
		p.inflight = p.inflight[1:]
		moved = true
	}
	return commit, moved
}

// Reject implements Source.
func (s *KafkaSource) Reject(ctx context.Context, msg *Message, reason string) error {
	if s.deadLetter != nil {
		err := s.deadLetter.WriteMessages(ctx, kafka.Message{
			Key:   []byte(msg.ID),
			Value: msg.Data,
			Headers: []kafka.Header{
				{Key: "reject-reason", Value: []byte(reason)},
			},
		})
		if err != nil {
			return fmt.Errorf("write dead letter: %w", err)
		}
	}
	return s.Ack(ctx, msg)
}

// Close implements Source.
func (s *KafkaSource) Close() error {
	if s.deadLetter != nil {
		if err := s.deadLetter.Close(); err != nil {
			s.logger.Warn("close dead-letter writer", zap.Error(err))
		}
	}
	return s.reader.Close()
}

// KafkaPublisher writes raw records to a topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a KafkaPublisher.
func NewKafkaPublisher(cfg KafkaConfig) *KafkaPublisher {
	cfg.withDefaults()
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}}
}

// Publish implements Publisher. Records are keyed by content so duplicates
// land on the same partition.
func (p *KafkaPublisher) Publish(ctx context.Context, data []byte) error {
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ContentID(data)), Value: data}); err != nil {
		return fmt.Errorf("write kafka message: %w", err)
	}
	return nil
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

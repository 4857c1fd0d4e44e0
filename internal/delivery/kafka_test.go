package delivery

import (
	"context"
	"sync"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// fakeKafkaReader serves queued messages and records commits.
type fakeKafkaReader struct {
	mu      sync.Mutex
	queue   []kafka.Message
	commits []kafka.Message
}

func (r *fakeKafkaReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) == 0 {
		return kafka.Message{}, context.Canceled
	}
	m := r.queue[0]
	r.queue = r.queue[1:]
	return m, nil
}

func (r *fakeKafkaReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, msgs...)
	return nil
}

func (r *fakeKafkaReader) Close() error { return nil }

func (r *fakeKafkaReader) committed() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int64, len(r.commits))
	for i, m := range r.commits {
		out[i] = m.Offset
	}
	return out
}

func newTestKafkaSource(msgs ...kafka.Message) (*KafkaSource, *fakeKafkaReader) {
	r := &fakeKafkaReader{queue: msgs}
	return &KafkaSource{reader: r, logger: zap.NewNop(), offsets: newOffsetTracker()}, r
}

func kmsg(partition int, offset int64) kafka.Message {
	return kafka.Message{Topic: "security-events", Partition: partition, Offset: offset, Value: []byte("{}")}
}

func receiveN(t *testing.T, s *KafkaSource, n int) []*Message {
	t.Helper()
	out := make([]*Message, n)
	for i := range n {
		m, err := s.Receive(ctx)
		if err != nil {
			t.Fatalf("receive %d: %v", i, err)
		}
		out[i] = m
	}
	return out
}

func TestKafkaSource_outOfOrderAckDoesNotSkipUnacked(t *testing.T) {
	s, r := newTestKafkaSource(kmsg(0, 10), kmsg(0, 11), kmsg(0, 12))
	msgs := receiveN(t, s, 3)

	if err := s.Ack(ctx, msgs[1]); err != nil {
		t.Fatal(err)
	}
	if err := s.Ack(ctx, msgs[2]); err != nil {
		t.Fatal(err)
	}
	if got := r.committed(); len(got) != 0 {
		t.Fatalf("committed %v while offset 10 is still in flight", got)
	}

	if err := s.Ack(ctx, msgs[0]); err != nil {
		t.Fatal(err)
	}
	got := r.committed()
	if len(got) != 1 || got[0] != 12 {
		t.Errorf("commits: got %v, want [12]", got)
	}
}

func TestKafkaSource_inOrderAcksCommitEach(t *testing.T) {
	s, r := newTestKafkaSource(kmsg(0, 5), kmsg(0, 6))
	msgs := receiveN(t, s, 2)

	for _, m := range msgs {
		if err := s.Ack(ctx, m); err != nil {
			t.Fatal(err)
		}
	}
	got := r.committed()
	if len(got) != 2 || got[0] != 5 || got[1] != 6 {
		t.Errorf("commits: got %v, want [5 6]", got)
	}
}

func TestKafkaSource_partitionsAreIndependent(t *testing.T) {
	s, r := newTestKafkaSource(kmsg(0, 1), kmsg(1, 7))
	msgs := receiveN(t, s, 2)

	if err := s.Ack(ctx, msgs[1]); err != nil {
		t.Fatal(err)
	}
	got := r.committed()
	if len(got) != 1 || r.commits[0].Partition != 1 || got[0] != 7 {
		t.Errorf("partition 1 should commit despite partition 0 in flight, got %v", r.commits)
	}
}

func TestKafkaSource_rewindAfterRebalance(t *testing.T) {
	s, r := newTestKafkaSource(kmsg(0, 20), kmsg(0, 21), kmsg(0, 20))
	msgs := receiveN(t, s, 3)

	// 21 was fetched before the rewind; its ack refers to state that no
	// longer exists and must not commit past the re-delivered 20.
	if err := s.Ack(ctx, msgs[1]); err != nil {
		t.Fatal(err)
	}
	if got := r.committed(); len(got) != 0 {
		t.Fatalf("stale ack committed %v", got)
	}
	if err := s.Ack(ctx, msgs[2]); err != nil {
		t.Fatal(err)
	}
	if got := r.committed(); len(got) != 1 || got[0] != 20 {
		t.Errorf("commits: got %v, want [20]", got)
	}
}

func TestKafkaSource_rejectAcks(t *testing.T) {
	s, r := newTestKafkaSource(kmsg(0, 3))
	msgs := receiveN(t, s, 1)

	if err := s.Reject(ctx, msgs[0], "malformed"); err != nil {
		t.Fatal(err)
	}
	if got := r.committed(); len(got) != 1 || got[0] != 3 {
		t.Errorf("commits: got %v, want [3]", got)
	}
}

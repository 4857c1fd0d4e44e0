package delivery

import (
	"context"
	"sync"
)

// MemorySource is a channel-backed Source for tests and local runs.
type MemorySource struct {
	ch        chan *Message
	closeOnce sync.Once
	done      chan struct{}

	mu       sync.Mutex
	acked    []string
	rejected map[string]string
}

// NewMemorySource creates a MemorySource with the given buffer size.
func NewMemorySource(buffer int) *MemorySource {
	return &MemorySource{
		ch:       make(chan *Message, buffer),
		done:     make(chan struct{}),
		rejected: map[string]string{},
	}
}

// Push enqueues a record. The ID is derived from the content.
func (s *MemorySource) Push(data []byte) {
	s.ch <- &Message{ID: ContentID(data), Data: data}
}

// Publish implements Publisher.
func (s *MemorySource) Publish(ctx context.Context, data []byte) error {
	select {
	case s.ch <- &Message{ID: ContentID(data), Data: data}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrClosed
	}
}

// Receive implements Source.
func (s *MemorySource) Receive(ctx context.Context) (*Message, error) {
	select {
	case m := <-s.ch:
		return m, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, ErrClosed
	}
}

// Ack implements Source.
func (s *MemorySource) Ack(_ context.Context, msg *Message) error {
	s.mu.Lock()
	s.acked = append(s.acked, msg.ID)
	s.mu.Unlock()
	return nil
}

// Reject implements Source.
func (s *MemorySource) Reject(_ context.Context, msg *Message, reason string) error {
	s.mu.Lock()
	s.rejected[msg.ID] = reason
	s.acked = append(s.acked, msg.ID)
	s.mu.Unlock()
	return nil
}

// Acked returns the IDs acked so far, in order.
func (s *MemorySource) Acked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.acked...)
}

// Rejected returns the rejection reason per message ID.
func (s *MemorySource) Rejected() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.rejected))
	for k, v := range s.rejected {
		out[k] = v
	}
	return out
}

// Close implements Source.
func (s *MemorySource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

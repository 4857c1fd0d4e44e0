package auditlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/metrics"
	"github.com/jmerrifield20/secpipeline/internal/responder"
)

// MemoryLedger is an in-memory, thread-safe Ledger.
type MemoryLedger struct {
	mu      sync.RWMutex
	entries []*Entry
	now     func() time.Time
}

// NewMemory creates a MemoryLedger holding only the genesis entry.
func NewMemory() *MemoryLedger {
	return &MemoryLedger{
		entries: []*Entry{genesisEntry(time.Now())},
		now:     time.Now,
	}
}

// Append implements Ledger.
func (l *MemoryLedger) Append(_ context.Context, res *responder.ActionResult) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.entries[len(l.entries)-1]
	entry, err := newEntry(len(l.entries), prev.Hash, res, l.now())
	if err != nil {
		return nil, err
	}
	l.entries = append(l.entries, entry)
	metrics.RecordAuditAppend()
	return entry, nil
}

// Get implements Ledger.
func (l *MemoryLedger) Get(_ context.Context, index int) (*Entry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("index %d: %w", index, ErrNotFound)
	}
	return l.entries[index], nil
}

// Recent implements Ledger.
func (l *MemoryLedger) Recent(_ context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		return []*Entry{}, nil
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]*Entry, 0, min(limit, len(l.entries)-1))
	for i := len(l.entries) - 1; i > 0 && len(out) < limit; i-- {
		out = append(out, l.entries[i])
	}
	return out, nil
}

// Len implements Ledger.
func (l *MemoryLedger) Len(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries), nil
}

// Verify implements Ledger.
func (l *MemoryLedger) Verify(_ context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i, curr := range l.entries {
		if i == 0 {
			if curr.Hash != GenesisHash {
				return fmt.Errorf("genesis entry has wrong hash: got %q", curr.Hash)
			}
			continue
		}
		if err := checkLink(l.entries[i-1], curr); err != nil {
			return err
		}
	}
	return nil
}

// Root implements Ledger.
func (l *MemoryLedger) Root(_ context.Context) (string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[len(l.entries)-1].Hash, nil
}

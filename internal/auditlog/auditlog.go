// Package auditlog keeps a tamper-evident record of every playbook decision.
//
// The log is a hash chain that starts with a well-known genesis entry whose
// Hash equals GenesisHash (64 hex zeros). Each later entry stores the hash
// of its predecessor and the SHA-256 of the ActionResult it records, so any
// edit to a stored decision is detected by Verify.
//
// MemoryLedger serves tests and single-process runs; PostgresLedger is the
// durable implementation.
package auditlog

import (
	"context"
	"errors"

	"github.com/jmerrifield20/secpipeline/internal/responder"
)

// ErrNotFound is returned when an index is outside the ledger.
var ErrNotFound = errors.New("audit entry not found")

// Ledger is the append-only audit log of action results.
type Ledger interface {
	// Append records res chained to the previous entry.
	Append(ctx context.Context, res *responder.ActionResult) (*Entry, error)

	// Get returns the entry at the given zero-based index.
	Get(ctx context.Context, index int) (*Entry, error)

	// Recent returns up to limit entries, newest first, excluding genesis.
	Recent(ctx context.Context, limit int) ([]*Entry, error)

	// Len returns the number of entries including genesis.
	Len(ctx context.Context) (int, error)

	// Verify walks the chain and checks hash consistency.
	Verify(ctx context.Context) error

	// Root returns the hash of the chain tip.
	Root(ctx context.Context) (string, error)
}

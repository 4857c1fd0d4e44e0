package auditlog

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmerrifield20/secpipeline/internal/responder"
)

// GenesisHash is the hash of the genesis entry and the anchor of the chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

const actionGenesis = "genesis"

// Entry is one audit record.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	EventID   string    `json:"event_id"`
	EntityID  string    `json:"entity_id"`
	Playbook  string    `json:"playbook"` // "genesis" for index 0
	Status    string    `json:"status"`
	DataHash  string    `json:"data_hash"` // SHA-256 of Result as JSON
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`

	Result json.RawMessage `json:"result,omitempty"`
}

func newEntry(index int, prevHash string, res *responder.ActionResult, now time.Time) (*Entry, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("marshal action result: %w", err)
	}
	e := &Entry{
		Index:     index,
		Timestamp: now.UTC().Truncate(time.Microsecond), // postgres precision
		EventID:   res.EventID,
		EntityID:  res.EntityID,
		Playbook:  res.Playbook,
		Status:    string(res.Status),
		DataHash:  sha256Sum(data),
		PrevHash:  prevHash,
		Result:    data,
	}
	e.Hash = hashEntry(e)
	return e, nil
}

func genesisEntry(now time.Time) *Entry {
	return &Entry{
		Index:     0,
		Timestamp: now.UTC(),
		Playbook:  actionGenesis,
		Status:    actionGenesis,
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash,
	}
}

// hashEntry must never be called on the genesis entry.
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.EventID, e.EntityID, e.Playbook, e.Status, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// checkLink validates curr against its predecessor.
func checkLink(prev, curr *Entry) error {
	if curr.PrevHash != prev.Hash {
		return fmt.Errorf("hash chain broken at index %d", curr.Index)
	}
	if curr.Hash != hashEntry(curr) {
		return fmt.Errorf("entry %d has invalid hash", curr.Index)
	}
	if len(curr.Result) > 0 && sha256Sum(curr.Result) != curr.DataHash {
		return fmt.Errorf("entry %d payload does not match data hash", curr.Index)
	}
	return nil
}

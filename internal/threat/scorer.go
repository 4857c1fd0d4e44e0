// Package threat scores canonical security events for risk. A fixed,
// ordered rule set consults two read-only oracles (baseline behaviour and
// indicator reputation) and accumulates rule weights into a 0–100 score.
package threat

import (
	"context"
	"fmt"
)

// BaselineOracle answers whether behaviour is normal for an entity.
type BaselineOracle interface {
	// IsAnomalous reports whether attributes are unusual for entityID.
	IsAnomalous(ctx context.Context, entityID string, attributes map[string]string) (bool, error)

	// AllowedGeo returns the locations considered normal for entityID.
	AllowedGeo(ctx context.Context, entityID string) ([]string, error)
}

// ReputationOracle maps indicators (IPs, hashes, domains) to a 0–100
// suspicion score. Higher is more suspicious.
type ReputationOracle interface {
	Reputation(ctx context.Context, indicators []string) (int, error)
}

// OracleUnavailableError is returned by Engine.Score when an oracle call
// fails. No partial assessment accompanies it.
type OracleUnavailableError struct {
	Oracle string // "baseline" or "reputation"
	Err    error
}

func (e *OracleUnavailableError) Error() string {
	return fmt.Sprintf("%s oracle unavailable: %v", e.Oracle, e.Err)
}

func (e *OracleUnavailableError) Unwrap() error { return e.Err }

// Weights holds the rule weights and reputation thresholds. The zero value is
// not useful; start from DefaultWeights.
type Weights struct {
	Privileged       int
	ReputationHigh   int
	ReputationMedium int
	Anomaly          int
	Geo              int

	// HighReputationAbove and MediumReputationAbove are exclusive lower
	// bounds: a reputation of exactly 80 is medium, not high.
	HighReputationAbove   int
	MediumReputationAbove int
}

// DefaultWeights returns the stock weights. All four rules firing sums to
// exactly 100.
func DefaultWeights() Weights {
	return Weights{
		Privileged:            35,
		ReputationHigh:        25,
		ReputationMedium:      15,
		Anomaly:               25,
		Geo:                   15,
		HighReputationAbove:   80,
		MediumReputationAbove: 50,
	}
}

// DefaultPrivilegedActions are API calls that create credentials, widen
// permissions or destroy audit trails and data.
var DefaultPrivilegedActions = []string{
	"CreateAccessKey",
	"DeleteAccessKey",
	"AttachUserPolicy",
	"PutUserPolicy",
	"DeleteTrail",
	"StopLogging",
	"DeleteBucket",
}

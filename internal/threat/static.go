package threat

import (
	"context"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// StaticBaseline is a table-driven BaselineOracle for tests, demos and
// small deployments.
type StaticBaseline struct {
	// NormalGeos maps entity → allowed locations.
	NormalGeos map[string][]string
	// NormalActions maps entity → actions it usually performs. An entity with
	// no entry is never anomalous.
	NormalActions map[string][]string
	// DefaultGeos applies to entities missing from NormalGeos.
	DefaultGeos []string
}

// IsAnomalous implements BaselineOracle. It compares attributes["action"]
// against the entity's usual actions.
func (b *StaticBaseline) IsAnomalous(_ context.Context, entityID string, attributes map[string]string) (bool, error) {
	normal := b.NormalActions[entityID]
	if len(normal) == 0 {
		return false, nil
	}
	return !slices.Contains(normal, attributes["action"]), nil
}

// AllowedGeo implements BaselineOracle.
func (b *StaticBaseline) AllowedGeo(_ context.Context, entityID string) ([]string, error) {
	if geos, ok := b.NormalGeos[entityID]; ok {
		return geos, nil
	}
	return b.DefaultGeos, nil
}

// StaticReputation is a table-driven ReputationOracle. The score of a set of
// indicators is the highest score of any member; unknown indicators score 0.
type StaticReputation struct {
	Scores map[string]int
}

// Reputation implements ReputationOracle.
func (r *StaticReputation) Reputation(_ context.Context, indicators []string) (int, error) {
	best := 0
	for _, ind := range indicators {
		best = max(best, r.Scores[ind])
	}
	return best, nil
}

// DefaultBaseline returns the built-in demo baseline.
func DefaultBaseline() *StaticBaseline {
	return &StaticBaseline{
		NormalGeos: map[string][]string{
			"alice@example.com": {"US", "CA"},
			"bob@example.com":   {"US"},
			"admin@example.com": {"US", "UK"},
		},
		NormalActions: map[string][]string{
			"alice@example.com": {"GetObject", "PutObject", "DescribeInstances"},
			"bob@example.com":   {"ListBuckets", "GetUser"},
		},
		DefaultGeos: []string{"US"},
	}
}

// DefaultReputation returns the built-in demo reputation table.
func DefaultReputation() *StaticReputation {
	return &StaticReputation{Scores: map[string]int{
		"185.220.101.1": 95, // tor exit
		"45.142.120.10": 98,
	}}
}

// tableFile is the on-disk layout read by LoadTables.
type tableFile struct {
	Baseline struct {
		DefaultGeos []string `yaml:"default_geos"`
		Entities    map[string]struct {
			Geos    []string `yaml:"geos"`
			Actions []string `yaml:"actions"`
		} `yaml:"entities"`
	} `yaml:"baseline"`
	Reputation map[string]int `yaml:"reputation"`
}

// LoadTables reads a YAML file describing a static baseline and reputation
// table. See configs/baseline.yaml for the layout.
func LoadTables(path string) (*StaticBaseline, *StaticReputation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read tables: %w", err)
	}
	return ParseTables(data)
}

// ParseTables decodes the YAML table layout used by LoadTables.
func ParseTables(data []byte) (*StaticBaseline, *StaticReputation, error) {
	var tf tableFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, nil, fmt.Errorf("parse tables: %w", err)
	}

	b := &StaticBaseline{
		NormalGeos:    make(map[string][]string),
		NormalActions: make(map[string][]string),
		DefaultGeos:   tf.Baseline.DefaultGeos,
	}
	if len(b.DefaultGeos) == 0 {
		b.DefaultGeos = []string{"US"}
	}
	for entity, e := range tf.Baseline.Entities {
		if len(e.Geos) > 0 {
			b.NormalGeos[entity] = e.Geos
		}
		if len(e.Actions) > 0 {
			b.NormalActions[entity] = e.Actions
		}
	}

	r := &StaticReputation{Scores: make(map[string]int, len(tf.Reputation))}
	for ind, score := range tf.Reputation {
		if score < 0 || score > 100 {
			return nil, nil, fmt.Errorf("parse tables: reputation for %q out of range: %d", ind, score)
		}
		r.Scores[ind] = score
	}
	return b, r, nil
}

package collector

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"time"
)

// Scenarios understood by Generator.
const (
	ScenarioNormal     = "normal"
	ScenarioSuspicious = "suspicious"
	ScenarioMixed      = "mixed"
	ScenarioAttack     = "attack"
)

var (
	normalActions = []string{
		"DescribeInstances", "ListBuckets", "GetObject", "PutObject",
		"DescribeSecurityGroups", "DescribeVolumes", "ListUsers", "GetUser",
		"AssumeRole", "GetCallerIdentity",
	}
	suspiciousActions = []string{
		"DeleteTrail", "StopLogging", "PutBucketPolicy", "CreateAccessKey",
		"DeleteBucket", "ModifyInstanceAttribute", "AuthorizeSecurityGroupIngress",
		"CreateUser", "AttachUserPolicy", "PutUserPolicy",
	}
	attackActions = []string{
		"DeleteTrail", "StopLogging", "DeleteBucket", "DisableRegion",
		"DeleteFlowLogs", "DeleteLogGroup",
	}

	corporateIPs  = []string{"192.168.1.100", "10.0.1.50", "172.16.0.20", "203.0.113.45", "198.51.100.88"}
	suspiciousIPs = []string{"185.220.101.1", "45.142.120.10"}

	principals = []string{
		"alice@example.com", "bob@example.com", "charlie@example.com",
		"admin@example.com", "service-account@example.com", "contractor@external.com",
	}
	regions = []string{"us-east-1", "us-west-2", "eu-west-1", "ap-southeast-1"}
)

// Generator produces synthetic CloudTrail records wrapped in the EventBridge
// envelope accepted by Normalize. It is not safe for concurrent use.
type Generator struct {
	scenario string
	rng      *rand.Rand
	now      func() time.Time
}

// NewGenerator returns a Generator for scenario seeded with seed, so runs
// are reproducible.
func NewGenerator(scenario string, seed uint64) (*Generator, error) {
	switch scenario {
	case ScenarioNormal, ScenarioSuspicious, ScenarioMixed, ScenarioAttack:
	default:
		return nil, fmt.Errorf("unknown scenario %q", scenario)
	}
	return &Generator{
		scenario: scenario,
		rng:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now:      time.Now,
	}, nil
}

// Next returns one encoded record.
func (g *Generator) Next() ([]byte, error) {
	var action, ip string
	switch g.scenario {
	case ScenarioNormal:
		action = pick(g.rng, normalActions)
	case ScenarioSuspicious:
		action = pick(g.rng, suspiciousActions)
	case ScenarioAttack:
		action = pick(g.rng, attackActions)
	default:
		if g.rng.IntN(len(normalActions)+len(suspiciousActions)) < len(normalActions) {
			action = pick(g.rng, normalActions)
		} else {
			action = pick(g.rng, suspiciousActions)
		}
	}
	if g.scenario == ScenarioSuspicious || g.scenario == ScenarioAttack {
		ip = pick(g.rng, suspiciousIPs)
	} else {
		ip = pick(g.rng, corporateIPs)
	}

	principal := pick(g.rng, principals)
	ts := g.now().UTC().Add(-time.Duration(g.rng.IntN(300)) * time.Second)

	rec := map[string]any{
		"source":      "aws.cloudtrail",
		"detail-type": "AWS API Call via CloudTrail",
		"detail": rawDetail{
			EventName:         action,
			EventTime:         ts.Format(time.RFC3339),
			AWSRegion:         pick(g.rng, regions),
			SourceIPAddress:   ip,
			UserIdentity:      &rawIdentity{Type: "IAMUser", UserName: principal, ARN: "arn:aws:iam::123456789012:user/" + principal},
			RequestParameters: g.requestParams(action),
		},
	}
	return json.Marshal(rec)
}

// Batch returns n encoded records.
func (g *Generator) Batch(n int) ([][]byte, error) {
	out := make([][]byte, 0, n)
	for range n {
		rec, err := g.Next()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (g *Generator) requestParams(action string) map[string]any {
	switch action {
	case "CreateAccessKey":
		return map[string]any{"userName": pick(g.rng, principals)}
	case "PutBucketPolicy", "DeleteBucket":
		return map[string]any{"bucketName": fmt.Sprintf("security-logs-%d", g.rng.IntN(100)+1)}
	case "AuthorizeSecurityGroupIngress":
		return map[string]any{
			"groupId":       fmt.Sprintf("sg-%08x", g.rng.Uint32()),
			"ipPermissions": map[string]any{"fromPort": 22, "toPort": 22, "ipProtocol": "tcp", "ipRanges": []string{"0.0.0.0/0"}},
		}
	case "ModifyInstanceAttribute":
		return map[string]any{"instanceId": fmt.Sprintf("i-%08x", g.rng.Uint32())}
	case "DeleteTrail", "StopLogging":
		return map[string]any{"name": "CloudTrail-SecurityLogs"}
	}
	return nil
}

func pick(rng *rand.Rand, from []string) string {
	return from[rng.IntN(len(from))]
}

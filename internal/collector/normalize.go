// Package collector turns raw activity records delivered by the queue into
// canonical SecurityEvents.
package collector

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmerrifield20/secpipeline/internal/event"
)

// DefaultSource is the origin tag stamped on events built from CloudTrail records.
const DefaultSource = "cloudtrail"

// MalformedRecordError reports a raw record that cannot be turned into an
// event. It is unrecoverable for that record; the delivery layer drops or
// dead-letters it.
type MalformedRecordError struct {
	Field  string
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Field == "" {
		return "malformed record: " + e.Reason
	}
	return fmt.Sprintf("malformed record: %s: %s", e.Field, e.Reason)
}

// rawRecord is the EventBridge envelope around a CloudTrail entry.
type rawRecord struct {
	Detail *rawDetail `json:"detail"`
}

type rawDetail struct {
	EventName         string            `json:"eventName"`
	EventTime         string            `json:"eventTime"`
	AWSRegion         string            `json:"awsRegion"`
	SourceIPAddress   string            `json:"sourceIPAddress"`
	UserIdentity      *rawIdentity      `json:"userIdentity"`
	RequestParameters map[string]any    `json:"requestParameters"`
	Indicators        []string          `json:"indicators"`
	Tags              map[string]string `json:"tags"`
}

type rawIdentity struct {
	Type     string `json:"type"`
	UserName string `json:"userName"`
	ARN      string `json:"arn"`
}

// resourceParams are request parameters that name the resource acted upon,
// checked in order.
var resourceParams = []string{"instanceId", "groupId", "bucketName"}

// Normalizer converts raw records for one source system.
type Normalizer struct {
	source string
	newID  func() string
}

// NewNormalizer returns a Normalizer stamping events with the given source tag.
func NewNormalizer(source string) *Normalizer {
	if source == "" {
		source = DefaultSource
	}
	return &Normalizer{source: source, newID: func() string { return uuid.NewString() }}
}

// Normalize converts a raw CloudTrail record using the default source tag.
func Normalize(raw []byte) (*event.SecurityEvent, error) {
	return NewNormalizer(DefaultSource).Normalize(raw)
}

// Normalize converts a raw record into a SecurityEvent. A fresh ID is
// assigned on every call, even for a re-delivered record.
func (n *Normalizer) Normalize(raw []byte) (*event.SecurityEvent, error) {
	var rec rawRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &MalformedRecordError{Reason: "invalid JSON: " + err.Error()}
	}
	d := rec.Detail
	if d == nil {
		return nil, &MalformedRecordError{Field: "detail", Reason: "missing"}
	}
	if d.EventName == "" {
		return nil, &MalformedRecordError{Field: "detail.eventName", Reason: "missing"}
	}
	if d.EventTime == "" {
		return nil, &MalformedRecordError{Field: "detail.eventTime", Reason: "missing"}
	}
	ts, err := time.Parse(time.RFC3339, d.EventTime)
	if err != nil {
		return nil, &MalformedRecordError{Field: "detail.eventTime", Reason: err.Error()}
	}

	// A missing identity is a signal in its own right, not an error.
	entity := event.Unknown
	if d.UserIdentity != nil && d.UserIdentity.UserName != "" {
		entity = d.UserIdentity.UserName
	}

	geo := d.SourceIPAddress
	if geo == "" {
		geo = event.Unknown
	}

	attrs := map[string]string{event.AttrGeo: geo}
	if d.AWSRegion != "" {
		attrs[event.AttrRegion] = d.AWSRegion
	}
	if id := resourceID(d.RequestParameters); id != "" {
		attrs[event.AttrResourceID] = id
	}
	for k, v := range d.Tags {
		if _, taken := attrs[k]; !taken {
			attrs[k] = v
		}
	}

	indicators := make([]string, 0, len(d.Indicators))
	for _, ind := range d.Indicators {
		if ind != "" {
			indicators = append(indicators, ind)
		}
	}

	return &event.SecurityEvent{
		ID:         n.newID(),
		EntityID:   entity,
		Source:     n.source,
		Action:     d.EventName,
		Timestamp:  ts.UTC(),
		Attributes: attrs,
		Indicators: indicators,
	}, nil
}

func resourceID(params map[string]any) string {
	for _, key := range resourceParams {
		if s, ok := params[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

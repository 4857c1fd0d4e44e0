// Package metrics holds the pipeline's Prometheus collectors. Metric names
// are shared with the dashboards and alert rules, so renaming one is a
// breaking change.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	collectorRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sec_collector_records_total",
		Help: "Raw records pulled from the delivery layer by outcome.",
	}, []string{"result"})

	enricherReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sec_enricher_received_events_total",
		Help: "Total events received for enrichment.",
	})

	enricherEnrichedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sec_enricher_enriched_events_total",
		Help: "Total events enriched with a risk assessment.",
	})

	enricherDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sec_enricher_enrichment_duration_seconds",
		Help:    "Enrichment duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	enricherIntelFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sec_enricher_threat_intel_failures_total",
		Help: "Events forwarded unscored because an oracle was unavailable.",
	})

	enricherRiskScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sec_enricher_risk_score",
		Help: "Most recent risk score per entity.",
	}, []string{"entity_id"})

	responderActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sec_responder_actions_total",
		Help: "Total response playbook outcomes by playbook and status.",
	}, []string{"playbook", "status"})

	responderFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sec_responder_action_failures_total",
		Help: "Failed playbook executions.",
	}, []string{"playbook"})

	responderDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sec_responder_action_duration_seconds",
		Help:    "Playbook execution duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"playbook"})

	reporterGeneratedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sec_reporter_reports_generated_total",
		Help: "Total reports generated by type.",
	}, []string{"type"})

	reporterComplianceScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sec_reporter_compliance_score",
		Help: "Latest compliance score by standard.",
	}, []string{"standard"})

	reporterPolicyViolations = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sec_reporter_policy_violations",
		Help: "Latest policy violation counts by severity.",
	}, []string{"severity"})

	notifyDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sec_notify_deliveries_total",
		Help: "Notification deliveries by success status.",
	}, []string{"status"})

	auditEntriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sec_audit_entries_total",
		Help: "Total action records appended to the audit ledger.",
	})

	dependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sec_dependency_up",
		Help: "Result of the last dependency probe (1 = up).",
	}, []string{"dependency"})
)

// Collector record outcomes.
const (
	RecordAccepted  = "accepted"
	RecordMalformed = "malformed"
	RecordDuplicate = "duplicate"
)

// RecordCollected counts a raw record by outcome.
func RecordCollected(result string) {
	collectorRecordsTotal.WithLabelValues(result).Inc()
}

// RecordEnrichReceived counts an event entering enrichment.
func RecordEnrichReceived() {
	enricherReceivedTotal.Inc()
}

// RecordEnriched records a successful enrichment.
func RecordEnriched(entityID string, score int, seconds float64) {
	enricherEnrichedTotal.Inc()
	enricherRiskScore.WithLabelValues(entityID).Set(float64(score))
	enricherDuration.Observe(seconds)
}

// RecordIntelFailure counts an event forwarded unscored.
func RecordIntelFailure(seconds float64) {
	enricherIntelFailuresTotal.Inc()
	enricherDuration.Observe(seconds)
}

// RecordAction counts a playbook outcome. Failures are also counted on the
// dedicated failure counter.
func RecordAction(playbook, status string, seconds float64) {
	responderActionsTotal.WithLabelValues(playbook, status).Inc()
	responderDuration.WithLabelValues(playbook).Observe(seconds)
	if status == "failed" {
		responderFailuresTotal.WithLabelValues(playbook).Inc()
	}
}

// RecordReport counts a generated report.
func RecordReport(reportType string) {
	reporterGeneratedTotal.WithLabelValues(reportType).Inc()
}

// SetComplianceScore publishes the latest compliance score for a standard.
func SetComplianceScore(standard string, score float64) {
	reporterComplianceScore.WithLabelValues(standard).Set(score)
}

// SetPolicyViolations publishes the latest violation count for a severity.
func SetPolicyViolations(severity string, count float64) {
	reporterPolicyViolations.WithLabelValues(severity).Set(count)
}

// RecordNotification records a notification delivery attempt.
func RecordNotification(success bool) {
	if success {
		notifyDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		notifyDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// RecordAuditAppend records an audit ledger append.
func RecordAuditAppend() {
	auditEntriesTotal.Inc()
}

// SetDependencyUp publishes the last probe result for a dependency.
func SetDependencyUp(name string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	dependencyUp.WithLabelValues(name).Set(v)
}

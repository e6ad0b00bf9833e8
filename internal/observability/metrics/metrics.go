package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes application-level instruments.
type Metrics struct {
	productsRegistered prometheus.Counter
	checkpointsAdded   prometheus.Counter
	certificatesMinted prometheus.Counter
	certificateVerify  *prometheus.CounterVec
	complianceChecks   *prometheus.CounterVec
	escrowOperations   *prometheus.CounterVec
	eventsPublished    *prometheus.CounterVec
}

// New registers the domain instruments on the default registry.
func New() *Metrics {
	return &Metrics{
		productsRegistered: promauto.NewCounter(prometheus.CounterOpts{
			Name: "provenance_products_registered_total",
			Help: "Products registered in the ledger.",
		}),
		checkpointsAdded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "provenance_checkpoints_added_total",
			Help: "Checkpoints appended across all products.",
		}),
		certificatesMinted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "provenance_certificates_minted_total",
			Help: "Authenticity certificates minted.",
		}),
		certificateVerify: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_certificate_verifications_total",
			Help: "Certificate verification calls by outcome.",
		}, []string{"reason"}),
		complianceChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_compliance_checks_total",
			Help: "Compliance checks recorded by result.",
		}, []string{"result"}),
		escrowOperations: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_escrow_operations_total",
			Help: "Escrow operations by type.",
		}, []string{"operation"}),
		eventsPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "provenance_events_published_total",
			Help: "Outbox events delivered by type.",
		}, []string{"event_type"}),
	}
}

func (m *Metrics) RecordProductRegistered() {
	if m == nil {
		return
	}
	m.productsRegistered.Inc()
}

func (m *Metrics) RecordCheckpointAdded() {
	if m == nil {
		return
	}
	m.checkpointsAdded.Inc()
}

func (m *Metrics) RecordCertificateMinted() {
	if m == nil {
		return
	}
	m.certificatesMinted.Inc()
}

func (m *Metrics) RecordCertificateVerification(reason string) {
	if m == nil {
		return
	}
	m.certificateVerify.WithLabelValues(reason).Inc()
}

func (m *Metrics) RecordComplianceCheck(passed bool) {
	if m == nil {
		return
	}
	result := "failed"
	if passed {
		result = "passed"
	}
	m.complianceChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordEscrowOperation(operation string) {
	if m == nil {
		return
	}
	m.escrowOperations.WithLabelValues(operation).Inc()
}

func (m *Metrics) RecordEventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(eventType).Inc()
}

package events

import "time"

// Event types emitted by the ledger. Consumers receive them at least once and
// must dedupe by event id.
const (
	EventProductRegistered      = "product.registered"
	EventCheckpointAdded        = "checkpoint.added"
	EventStakeholderAdded       = "stakeholder.added"
	EventProductDeactivated     = "product.deactivated"
	EventCertificateMinted      = "certificate.minted"
	EventCertificateInvalidated = "certificate.invalidated"
	EventComplianceChecked      = "compliance.checked"
	EventComplianceChanged      = "compliance.status_changed"
	EventPaymentCreated         = "payment.created"
	EventPaymentReleased        = "payment.released"
	EventDisputeInitiated       = "dispute.initiated"
	EventDisputeResolved        = "dispute.resolved"
	EventSystemPaused           = "system.paused"
	EventSystemResumed          = "system.resumed"
)

// Event is a pending notification published inside a mutation's transaction.
type Event struct {
	Type      string
	Payload   map[string]any
	DedupeKey string
}

// Delivery is what subscribers receive.
type Delivery struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Subscriber handles deliveries. Errors are logged; the delivery is retried on
// the next dispatch cycle, so handlers must tolerate duplicates.
type Subscriber func(Delivery) error

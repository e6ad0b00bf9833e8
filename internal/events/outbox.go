package events

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Record is the durable outbox row.
type Record struct {
	ID          string     `gorm:"primaryKey;type:text"`
	EventType   string     `gorm:"type:text;not null;index"`
	Payload     string     `gorm:"type:text;not null"`
	DedupeKey   string     `gorm:"type:text;not null;uniqueIndex:ux_outbox_events_dedupe"`
	CreatedAt   time.Time  `gorm:"not null"`
	PublishedAt *time.Time `gorm:"index"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "outbox_events" }

// Outbox persists events in the same transaction as the state change that
// produced them. Delivery happens after commit, via the Dispatcher.
type Outbox struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewOutbox(db *gorm.DB, log *zap.Logger) *Outbox {
	return &Outbox{db: db, log: log.Named("events.outbox")}
}

// PublishTx enqueues the event inside tx. A duplicate dedupe key is a no-op so
// retried mutations do not double-publish.
func (o *Outbox) PublishTx(ctx context.Context, tx *gorm.DB, ev Event) error {
	eventType := strings.TrimSpace(ev.Type)
	if eventType == "" {
		return errors.New("event_type_required")
	}

	dedupeKey := strings.TrimSpace(ev.DedupeKey)
	id := ulid.Make().String()
	if dedupeKey == "" {
		dedupeKey = id
	}

	payload := ev.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	return tx.WithContext(ctx).Exec(
		`INSERT INTO outbox_events (id, event_type, payload, dedupe_key, created_at, published_at)
		 VALUES (?, ?, ?, ?, ?, NULL)
		 ON CONFLICT (dedupe_key) DO NOTHING`,
		id,
		eventType,
		string(raw),
		dedupeKey,
		time.Now().UTC(),
	).Error
}

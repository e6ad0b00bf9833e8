package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	obsmetrics "github.com/smallbiznis/provenance/internal/observability/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	dispatchInterval = time.Second
	dispatchBatch    = 100
)

// Dispatcher polls the outbox and delivers committed events to in-process
// subscribers. Delivery is at-least-once: a row is marked published only after
// every subscriber returned, so a crash mid-delivery redelivers.
type Dispatcher struct {
	db      *gorm.DB
	log     *zap.Logger
	metrics *obsmetrics.Metrics

	mu          sync.RWMutex
	subscribers []Subscriber

	stop chan struct{}
	done chan struct{}
}

func NewDispatcher(db *gorm.DB, log *zap.Logger, metrics *obsmetrics.Metrics) *Dispatcher {
	return &Dispatcher{
		db:      db,
		log:     log.Named("events.dispatcher"),
		metrics: metrics,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Subscribe registers a handler for all event types.
func (d *Dispatcher) Subscribe(fn Subscriber) {
	if fn == nil {
		return
	}
	d.mu.Lock()
	d.subscribers = append(d.subscribers, fn)
	d.mu.Unlock()
}

// Start launches the dispatch loop.
func (d *Dispatcher) Start() {
	go func() {
		defer close(d.done)
		ticker := time.NewTicker(dispatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-d.stop:
				return
			case <-ticker.C:
				if err := d.dispatchPending(context.Background()); err != nil {
					d.log.Warn("outbox dispatch failed", zap.Error(err))
				}
			}
		}
	}()
}

// Stop halts the dispatch loop and waits for the in-flight cycle.
func (d *Dispatcher) Stop(ctx context.Context) error {
	close(d.stop)
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush delivers everything currently pending. Used by tests and shutdown.
func (d *Dispatcher) Flush(ctx context.Context) error {
	return d.dispatchPending(ctx)
}

func (d *Dispatcher) dispatchPending(ctx context.Context) error {
	var records []Record
	err := d.db.WithContext(ctx).Raw(
		`SELECT id, event_type, payload, dedupe_key, created_at, published_at
		 FROM outbox_events
		 WHERE published_at IS NULL
		 ORDER BY created_at ASC, id ASC
		 LIMIT ?`,
		dispatchBatch,
	).Scan(&records).Error
	if err != nil {
		return err
	}

	d.mu.RLock()
	subscribers := make([]Subscriber, len(d.subscribers))
	copy(subscribers, d.subscribers)
	d.mu.RUnlock()

	for _, record := range records {
		payload := map[string]any{}
		if err := json.Unmarshal([]byte(record.Payload), &payload); err != nil {
			d.log.Error("dropping undecodable outbox payload",
				zap.String("event_id", record.ID),
				zap.Error(err),
			)
		}

		delivery := Delivery{
			ID:         record.ID,
			Type:       record.EventType,
			Payload:    payload,
			OccurredAt: record.CreatedAt,
		}

		delivered := true
		for _, fn := range subscribers {
			if err := fn(delivery); err != nil {
				d.log.Warn("subscriber rejected event",
					zap.String("event_id", record.ID),
					zap.String("event_type", record.EventType),
					zap.Error(err),
				)
				delivered = false
				break
			}
		}
		if !delivered {
			continue
		}

		now := time.Now().UTC()
		if err := d.db.WithContext(ctx).Exec(
			`UPDATE outbox_events SET published_at = ? WHERE id = ? AND published_at IS NULL`,
			now,
			record.ID,
		).Error; err != nil {
			return err
		}
		d.metrics.RecordEventPublished(record.EventType)
	}

	return nil
}

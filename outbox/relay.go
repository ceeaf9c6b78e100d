package outbox

import (
	"context"
	"time"

	"loyalty-engine/models"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	DefaultTopic      = "loyalty.events"
	DefaultBatchSize  = 100
	DefaultInterval   = 2 * time.Second
	DefaultMaxRetries = 10

	headerEventType = "event_type"
	headerEventID   = "event_id"
)

// Writer is the subset of *kafka.Writer the relay needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Recorder receives relay outcomes. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveOutbox(result string, n int)
}

type Option func(*Relay)

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithMaxRetries(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

func WithRecorder(rec Recorder) Option {
	return func(r *Relay) { r.recorder = rec }
}

func WithClock(now func() time.Time) Option {
	return func(r *Relay) { r.now = now }
}

// Relay publishes pending event_outbox rows to the broker.
type Relay struct {
	db         *gorm.DB
	writer     Writer
	batchSize  int
	interval   time.Duration
	maxRetries int
	recorder   Recorder
	now        func() time.Time
}

func NewRelay(db *gorm.DB, writer Writer, opts ...Option) *Relay {
	r := &Relay{
		db:         db,
		writer:     writer,
		batchSize:  DefaultBatchSize,
		interval:   DefaultInterval,
		maxRetries: DefaultMaxRetries,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewKafkaWriter builds the producer used in production. Messages with the
// same merchant key land on the same partition.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
}

// Run polls until ctx is canceled.
func (r *Relay) Run(ctx context.Context) {
	log := zerolog.Ctx(ctx).With().Str("component", "outbox_relay").Logger()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.interval).Int("batch", r.batchSize).Msg("outbox relay started")
	for {
		for {
			sent, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Msg("outbox relay batch failed")
				}
				break
			}
			// keep draining while batches come back full
			if sent < r.batchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("outbox relay stopped")
			return
		case <-ticker.C:
		}
	}
}

// RelayOnce claims one batch of pending rows, publishes it and records the
// outcome. It returns how many rows were marked SENT.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var (
		sent     int
		writeErr error
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("status = ?", models.OutboxStatusPending).
			Order("created_at ASC").
			Limit(r.batchSize)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}

		var rows []models.EventOutbox
		if err := q.Find(&rows).Error; err != nil {
			return errors.Wrap(err, "claim outbox rows")
		}
		if len(rows) == 0 {
			return nil
		}

		msgs := make([]kafka.Message, 0, len(rows))
		ids := make([]interface{}, 0, len(rows))
		for _, row := range rows {
			msgs = append(msgs, toMessage(row))
			ids = append(ids, row.ID)
		}

		now := r.now()
		if writeErr = r.writer.WriteMessages(ctx, msgs...); writeErr != nil {
			return r.markFailed(tx, rows, writeErr, now)
		}

		if err := tx.Model(&models.EventOutbox{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     models.OutboxStatusSent,
				"sent_at":    now,
				"last_error": "",
				"updated_at": now,
			}).Error; err != nil {
			return errors.Wrap(err, "mark outbox rows sent")
		}
		sent = len(rows)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if writeErr != nil {
		return 0, errors.Wrap(writeErr, "publish outbox batch")
	}
	if r.recorder != nil {
		r.recorder.ObserveOutbox("sent", sent)
	}
	return sent, nil
}

func (r *Relay) markFailed(tx *gorm.DB, rows []models.EventOutbox, cause error, now time.Time) error {
	var failed int
	for _, row := range rows {
		retries := row.Retries + 1
		status := models.OutboxStatusPending
		if retries >= r.maxRetries {
			status = models.OutboxStatusFailed
			failed++
		}
		if err := tx.Model(&models.EventOutbox{}).
			Where("id = ?", row.ID).
			Updates(map[string]interface{}{
				"status":     status,
				"retries":    retries,
				"last_error": truncate(cause.Error(), 500),
				"updated_at": now,
			}).Error; err != nil {
			return errors.Wrap(err, "record outbox failure")
		}
	}
	if r.recorder != nil {
		r.recorder.ObserveOutbox("retry", len(rows)-failed)
		r.recorder.ObserveOutbox("failed", failed)
	}
	return nil
}

func toMessage(row models.EventOutbox) kafka.Message {
	return kafka.Message{
		Key:   []byte(row.MerchantID.String()),
		Value: []byte(row.Payload),
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(row.EventType)},
			{Key: headerEventID, Value: []byte(row.ID.String())},
		},
		Time: row.CreatedAt,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

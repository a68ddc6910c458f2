// README: Outbox relay; polls unsent rows and publishes them to Kafka keyed by order id.
package outbox

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Source interface {
	FetchPending(ctx context.Context, limit int) ([]Record, error)
	MarkSent(ctx context.Context, ids []int64) error
}

type Publisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Relay struct {
	source    Source
	publisher Publisher
	log       *zap.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(source Source, publisher Publisher, log *zap.Logger, interval time.Duration, batchSize int) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{source: source, publisher: publisher, log: log, interval: interval, batchSize: batchSize}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Drain(ctx)
			if err != nil {
				r.log.Warn("outbox relay tick failed", zap.Error(err))
				continue
			}
			if n > 0 {
				r.log.Debug("outbox relayed", zap.Int("events", n))
			}
		}
	}
}

// Drain publishes one batch. Rows are marked sent only after the broker acknowledged them, so delivery
// is at-least-once; consumers dedupe on event_id.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	recs, err := r.source.FetchPending(ctx, r.batchSize)
	if err != nil || len(recs) == 0 {
		return 0, err
	}

	msgs := make([]kafka.Message, len(recs))
	ids := make([]int64, len(recs))
	for i, rec := range recs {
		msgs[i] = kafka.Message{
			Key:   []byte(rec.Key),
			Value: rec.Payload,
			Time:  rec.CreatedAt.UTC(),
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(rec.EventID)},
			},
		}
		ids[i] = rec.ID
	}
	if err := r.publisher.WriteMessages(ctx, msgs...); err != nil {
		return 0, err
	}
	if err := r.source.MarkSent(ctx, ids); err != nil {
		return 0, err
	}
	return len(recs), nil
}

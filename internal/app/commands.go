package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"lamudi_ingest/internal/domain"
)

// NewMessage builds a queue envelope with a fresh id.
func NewMessage(t domain.MessageType, source string, data json.RawMessage) domain.Message {
	return domain.Message{
		ID:         uuid.NewString(),
		Type:       t,
		Source:     source,
		Data:       data,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Dispatcher routes queue messages to the service that owns them.
type Dispatcher struct {
	ingest       *IngestService
	pipeline     *Pipeline
	descriptions *DescriptionService
	pub          domain.Publisher
	chain        bool
}

func NewDispatcher(i *IngestService, p *Pipeline, d *DescriptionService, pub domain.Publisher, chain bool) *Dispatcher {
	return &Dispatcher{ingest: i, pipeline: p, descriptions: d, pub: pub, chain: chain}
}

// Handle processes one message. Returned errors wrapping domain.ErrValidation
// or domain.ErrUnknownMessage are permanent; anything else may be retried.
func (d *Dispatcher) Handle(ctx context.Context, msg domain.Message) error {
	lg := log.With().Str("msg_id", msg.ID).Str("msg_type", string(msg.Type)).Int("retry", msg.Retry).Logger()

	switch msg.Type {
	case domain.MsgCreateRawListing:
		id, err := d.ingest.IngestRaw(ctx, msg.Data)
		if err != nil {
			return err
		}
		lg.Info().Int64("raw_id", id).Msg("raw listing stored")
		return nil

	case domain.MsgReconcileRawListings:
		res, err := d.pipeline.RunBatch(ctx)
		if err != nil {
			return err
		}
		if res.Full && d.chain && d.pub != nil {
			next := NewMessage(domain.MsgReconcileRawListings, domain.SourceApp, nil)
			if _, perr := d.pub.Publish(ctx, next); perr != nil {
				// the next scheduled trigger picks the backlog up anyway
				lg.Warn().Err(perr).Str("batch_id", res.BatchID).Msg("chain reconcile trigger")
			} else {
				lg.Debug().Str("batch_id", res.BatchID).Str("next_msg_id", next.ID).Msg("backlog remains, chained next batch")
			}
		}
		return nil

	case domain.MsgGenerateAIDescription:
		if d.descriptions == nil {
			return fmt.Errorf("ai descriptions are not configured on this worker: %w", domain.ErrValidation)
		}
		if _, err := d.descriptions.Backfill(ctx); err != nil {
			return err
		}
		return nil

	default:
		return fmt.Errorf("%q: %w", msg.Type, domain.ErrUnknownMessage)
	}
}

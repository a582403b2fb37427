// Package schedule enqueues trigger messages on cron schedules.
package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"lamudi_ingest/internal/adapters/observability"
	"lamudi_ingest/internal/app"
	"lamudi_ingest/internal/domain"
)

// Trigger pairs a cron expression with the message type it enqueues. An
// empty Spec disables the trigger.
type Trigger struct {
	Spec string
	Type domain.MessageType
}

// Scheduler publishes one message per cron tick. It only enqueues; the
// worker consuming the queue does the work, so overlapping ticks are safe.
type Scheduler struct {
	cron    *cron.Cron
	pub     domain.Publisher
	timeout time.Duration
	entries int
}

func New(pub domain.Publisher, triggers ...Trigger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(cron.WithLocation(time.UTC)),
		pub:     pub,
		timeout: 10 * time.Second,
	}
	for _, t := range triggers {
		if t.Spec == "" {
			continue
		}
		if !t.Type.Known() {
			return nil, fmt.Errorf("schedule %q: %w", t.Type, domain.ErrUnknownMessage)
		}
		msgType := t.Type
		if _, err := s.cron.AddFunc(t.Spec, func() { s.fire(msgType) }); err != nil {
			return nil, fmt.Errorf("parse cron %q for %s: %w", t.Spec, t.Type, err)
		}
		log.Info().Str("schedule", t.Spec).Str("msg_type", string(t.Type)).Msg("trigger scheduled")
		s.entries++
	}
	return s, nil
}

// Len reports how many triggers are active.
func (s *Scheduler) Len() int { return s.entries }

// Run starts the cron loop and blocks until ctx is done, then waits for a
// running publish to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.entries == 0 {
		<-ctx.Done()
		return nil
	}
	s.cron.Start()
	<-ctx.Done()
	<-s.cron.Stop().Done()
	log.Info().Msg("scheduler stopped")
	return nil
}

func (s *Scheduler) fire(t domain.MessageType) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	msg := app.NewMessage(t, domain.SourceApp, nil)
	entryID, err := s.pub.Publish(ctx, msg)
	if err != nil {
		log.Error().Err(err).Str("msg_type", string(t)).Msg("scheduled trigger publish failed")
		return
	}
	observability.ObserveQueue(string(t), "published")
	log.Info().Str("msg_type", string(t)).Str("msg_id", msg.ID).Str("entry_id", entryID).Msg("scheduled trigger enqueued")
}

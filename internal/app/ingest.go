package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"lamudi_ingest/internal/domain"
)

// IngestService stores scraped pages verbatim for later reconciliation.
type IngestService struct {
	raw domain.RawStore
}

func NewIngestService(r domain.RawStore) *IngestService {
	return &IngestService{raw: r}
}

func (s *IngestService) IngestRaw(ctx context.Context, data json.RawMessage) (int64, error) {
	p, err := mapRawPayload(data)
	if err != nil {
		return 0, err
	}
	id, err := s.raw.InsertRaw(ctx, p)
	if err != nil {
		return 0, fmt.Errorf("store raw listing %s: %w", p.ListingURL, err)
	}
	log.Debug().Int64("raw_id", id).Str("url", p.ListingURL).Msg("raw listing stored")
	return id, nil
}

package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"lamudi_ingest/internal/adapters/observability"
	"lamudi_ingest/internal/domain"
)

// FindExistingListing returns the stored listing for url, or nil. With
// matchTitle set, a listing with the same title also counts as a match.
// Several rows for one URL is an integrity problem: the lowest id wins and a
// warning is raised.
func FindExistingListing(ctx context.Context, f domain.ListingFinder, url, title string, matchTitle bool) (*domain.ListingRef, error) {
	if !matchTitle {
		title = ""
	}
	rows, err := f.FindListings(ctx, url, title)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	var byURL []domain.ListingRef
	for _, r := range rows {
		if r.URL == url {
			byURL = append(byURL, r)
		}
	}
	candidates := byURL
	if len(candidates) == 0 {
		candidates = rows
	}
	chosen := candidates[0]
	for _, r := range candidates[1:] {
		if r.ID < chosen.ID {
			chosen = r
		}
	}

	if len(byURL) > 1 {
		ids := make([]int64, 0, len(byURL))
		for _, r := range byURL {
			ids = append(ids, r.ID)
		}
		observability.ObserveIntegrity("duplicate_listing_url")
		log.Warn().Str("url", url).Ints64("listing_ids", ids).Int64("chosen", chosen.ID).
			Msg("multiple listings share one url")
	}
	return &chosen, nil
}

package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"lamudi_ingest/internal/adapters/observability"
	"lamudi_ingest/internal/domain"
)

// ResolveLocation maps the natural keys of loc to Region/City/Area surrogate
// ids, creating missing rows. Area is skipped when loc has no area key.
func ResolveLocation(ctx context.Context, s domain.DimensionStore, loc domain.Location) (domain.LocationIDs, error) {
	var ids domain.LocationIDs

	regionID, err := resolveDimension(ctx, s, domain.Dimension{
		Kind: domain.DimensionRegion, Key: loc.RegionKey, Name: loc.RegionName,
	})
	if err != nil {
		return ids, err
	}
	cityID, err := resolveDimension(ctx, s, domain.Dimension{
		Kind: domain.DimensionCity, Key: loc.CityKey, Name: loc.CityName, ParentID: &regionID,
	})
	if err != nil {
		return ids, err
	}
	ids.RegionID, ids.CityID = regionID, cityID

	if loc.AreaKey != "" {
		areaID, err := resolveDimension(ctx, s, domain.Dimension{
			Kind: domain.DimensionArea, Key: loc.AreaKey, Name: loc.AreaName, ParentID: &cityID,
		})
		if err != nil {
			return ids, err
		}
		ids.AreaID = &areaID
	}
	return ids, nil
}

// resolveDimension is insert-or-fetch: a duplicate key on insert means another
// consumer created the row first, so the existing id is re-selected.
func resolveDimension(ctx context.Context, s domain.DimensionStore, d domain.Dimension) (int64, error) {
	if d.Key == "" {
		return 0, fmt.Errorf("%s: empty natural key: %w", d.Kind, domain.ErrValidation)
	}
	id, ok, err := s.FindDimension(ctx, d.Kind, d.Key)
	if err != nil {
		return 0, fmt.Errorf("find %s %q: %w", d.Kind, d.Key, err)
	}
	if ok {
		return id, nil
	}

	id, err = s.InsertDimension(ctx, d)
	if err == nil {
		observability.ObserveDimensionCreated(string(d.Kind))
		log.Debug().Str("kind", string(d.Kind)).Str("key", d.Key).Int64("id", id).Msg("dimension created")
		return id, nil
	}
	if !errors.Is(err, domain.ErrDuplicateKey) {
		return 0, fmt.Errorf("insert %s %q: %w", d.Kind, d.Key, err)
	}

	id, ok, err = s.FindDimension(ctx, d.Kind, d.Key)
	if err != nil {
		return 0, fmt.Errorf("re-select %s %q: %w", d.Kind, d.Key, err)
	}
	if !ok {
		return 0, fmt.Errorf("%s %q: conflicting row not visible: %w", d.Kind, d.Key, domain.ErrStructural)
	}
	log.Debug().Str("kind", string(d.Kind)).Str("key", d.Key).Int64("id", id).Msg("dimension insert raced, re-selected")
	return id, nil
}

// VerifyLocation re-reads every resolved id by natural key and fails if any
// is missing or points at a different row.
func VerifyLocation(ctx context.Context, s domain.DimensionStore, loc domain.Location, ids domain.LocationIDs) error {
	check := func(kind domain.DimensionKind, key string, want int64) error {
		got, ok, err := s.FindDimension(ctx, kind, key)
		if err != nil {
			return fmt.Errorf("verify %s %q: %w", kind, key, err)
		}
		if !ok || got != want {
			return fmt.Errorf("verify %s %q: resolved id %d not found", kind, key, want)
		}
		return nil
	}
	if err := check(domain.DimensionRegion, loc.RegionKey, ids.RegionID); err != nil {
		return err
	}
	if err := check(domain.DimensionCity, loc.CityKey, ids.CityID); err != nil {
		return err
	}
	if ids.AreaID != nil {
		return check(domain.DimensionArea, loc.AreaKey, *ids.AreaID)
	}
	return nil
}

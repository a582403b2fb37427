package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"lamudi_ingest/internal/domain"
)

// CreatePropertyAndListing inserts the Property and then the Listing that
// references it. Both writes belong to the caller's unit of work.
func CreatePropertyAndListing(ctx context.Context, w domain.ListingWriter, rec domain.NormalizedRecord, ids domain.LocationIDs) (propertyID, listingID int64, err error) {
	p := rec.Property
	p.Location = ids
	if !p.Type.Valid() {
		p.Type = domain.PropertyOther
	}
	if p.Images == nil {
		p.Images = []string{}
	}
	p.Amenities = orEmpty(p.Amenities)
	p.IndoorFeatures = orEmpty(p.IndoorFeatures)
	p.OutdoorFeatures = orEmpty(p.OutdoorFeatures)
	p.PropertyFeatures = orEmpty(p.PropertyFeatures)

	propertyID, err = w.InsertProperty(ctx, p)
	if err != nil {
		return 0, 0, fmt.Errorf("insert property: %w", err)
	}
	listingID, err = w.InsertListing(ctx, domain.Listing{
		PropertyID:     propertyID,
		Title:          rec.Title,
		URL:            rec.URL,
		ProjectName:    p.ProjectName,
		Description:    rec.Description,
		Scraped:        true,
		Address:        rec.Address,
		Price:          rec.Price,
		PriceFormatted: rec.PriceFormatted,
		OfferType:      rec.OfferType,
	})
	if err != nil {
		return 0, 0, fmt.Errorf("insert listing for property %d: %w", propertyID, err)
	}
	return propertyID, listingID, nil
}

// UpdatePropertyAndListing refreshes a re-scraped listing. Only price fields
// on the Listing and the media/people fields on the Property change; sizes,
// features and descriptions keep their first-scrape values.
func UpdatePropertyAndListing(ctx context.Context, w domain.ListingWriter, existing domain.ListingRef, rec domain.NormalizedRecord, now time.Time) (priceChanged bool, err error) {
	if err := w.UpdateListingPrice(ctx, existing.ID, rec.Price, rec.PriceFormatted); err != nil {
		return false, fmt.Errorf("update listing %d: %w", existing.ID, err)
	}
	images := rec.Property.Images
	if images == nil {
		images = []string{}
	}
	if err := w.UpdatePropertySnapshot(ctx, existing.PropertyID, domain.PropertySnapshot{
		Images:           images,
		AgentName:        rec.Property.AgentName,
		ProductOwnerName: rec.Property.ProductOwnerName,
		ProjectName:      rec.Property.ProjectName,
	}); err != nil {
		return false, fmt.Errorf("update property %d: %w", existing.PropertyID, err)
	}
	if existing.Price == rec.Price {
		return false, nil
	}
	if err := w.AppendPriceChange(ctx, domain.PriceChange{
		ListingID: existing.ID,
		OldPrice:  existing.Price,
		NewPrice:  rec.Price,
		ChangedAt: now.UTC(),
	}); err != nil {
		return false, fmt.Errorf("log price change for listing %d: %w", existing.ID, err)
	}
	return true, nil
}

func orEmpty(b json.RawMessage) json.RawMessage {
	if len(b) == 0 || string(b) == "null" {
		return json.RawMessage(`{}`)
	}
	return b
}

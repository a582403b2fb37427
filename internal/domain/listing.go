package domain

import (
	"encoding/json"
	"time"
)

// OfferType mirrors the offer_type lookup table. Zero means the source did not say.
type OfferType int

const (
	OfferUnknown OfferType = 0
	OfferBuy     OfferType = 1
	OfferRent    OfferType = 2
)

func (o OfferType) String() string {
	switch o {
	case OfferBuy:
		return "Buy"
	case OfferRent:
		return "Rent"
	default:
		return ""
	}
}

// RawRecord is one scraped page waiting in the staging table.
type RawRecord struct {
	ID        int64
	JSON      []byte // full scraped payload, verbatim
	Processed bool
}

// RawPayload is what CREATE_RAW_LAMUDI_LISTING_DATA persists.
type RawPayload struct {
	ListingURL string
	Images     json.RawMessage
	JSON       json.RawMessage
}

// NormalizedRecord is a RawRecord after field extraction and validation.
type NormalizedRecord struct {
	RawID          int64
	Title          string
	URL            string
	Description    string
	Address        string
	Price          float64
	PriceFormatted string
	OfferType      OfferType
	Location       Location

	// Property carries everything except Location and ID, which the pipeline fills in.
	Property Property
}

// Listing is a market offer for exactly one Property.
type Listing struct {
	ID             int64
	PropertyID     int64
	Title          string
	URL            string
	ProjectName    string
	Description    string
	Scraped        bool
	Address        string
	Price          float64
	PriceFormatted string
	OfferType      OfferType
}

// ListingRef is the slice of a stored Listing the deduplicator needs.
type ListingRef struct {
	ID         int64
	PropertyID int64
	URL        string
	Title      string
	Price      float64
}

// PriceChange is one entry of a listing's price audit trail.
type PriceChange struct {
	ListingID int64     `json:"listingId" db:"listing_id"`
	OldPrice  float64   `json:"oldPrice" db:"old_price"`
	NewPrice  float64   `json:"newPrice" db:"new_price"`
	ChangedAt time.Time `json:"changedAt" db:"changed_at"`
}

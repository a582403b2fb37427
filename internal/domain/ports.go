package domain

import (
	"context"
	"encoding/json"
	"time"
)

// DimensionStore looks up and creates Region/City/Area rows.
type DimensionStore interface {
	FindDimension(ctx context.Context, kind DimensionKind, key string) (int64, bool, error)
	// InsertDimension returns ErrDuplicateKey when the natural key already exists
	// and the store cannot hand back the existing id itself.
	InsertDimension(ctx context.Context, d Dimension) (int64, error)
}

// ListingFinder returns stored listings matching url, or title when title != "".
// Results are ordered by id ascending; deleted listings are excluded.
type ListingFinder interface {
	FindListings(ctx context.Context, url, title string) ([]ListingRef, error)
}

type ListingWriter interface {
	InsertProperty(ctx context.Context, p Property) (int64, error)
	InsertListing(ctx context.Context, l Listing) (int64, error)
	UpdateListingPrice(ctx context.Context, listingID int64, price float64, formatted string) error
	UpdatePropertySnapshot(ctx context.Context, propertyID int64, s PropertySnapshot) error
	AppendPriceChange(ctx context.Context, c PriceChange) error
}

// ReconcileTx is the single unit of work one reconciliation batch runs in.
type ReconcileTx interface {
	DimensionStore
	ListingFinder
	ListingWriter

	// FetchPendingRaw locks up to limit unprocessed raw records, skipping rows
	// another consumer already holds.
	FetchPendingRaw(ctx context.Context, limit int) ([]RawRecord, error)
	MarkProcessed(ctx context.Context, rawID int64) error

	Savepoint(ctx context.Context, name string) error
	RollbackToSavepoint(ctx context.Context, name string) error

	Commit() error
	Rollback() error
}

type ReconcileStore interface {
	BeginReconcile(ctx context.Context) (ReconcileTx, error)
}

type RawStore interface {
	InsertRaw(ctx context.Context, p RawPayload) (int64, error)
}

type DescriptionStore interface {
	PropertiesMissingDescription(ctx context.Context, limit int, types []PropertyType) ([]DescriptionSubject, error)
	DescriptionSubject(ctx context.Context, propertyID int64) (DescriptionSubject, error)
	SaveDescription(ctx context.Context, propertyID int64, description json.RawMessage) error
}

// DescriptionGenerator is the AI copywriter. It returns the model's raw reply.
type DescriptionGenerator interface {
	GenerateDescription(ctx context.Context, subject DescriptionSubject) (string, error)
}

type Publisher interface {
	Publish(ctx context.Context, msg Message) (string, error)
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// PropertyRepository is the read side used by the HTTP API.
type PropertyRepository interface {
	SearchProperties(ctx context.Context, f PropertyFilter) (PropertiesPage, error)
	GetProperty(ctx context.Context, id int64) (PropertyView, error)
	PriceHistory(ctx context.Context, listingID int64) ([]PriceChange, error)
	ListCities(ctx context.Context) ([]City, error)

	ListFavorites(ctx context.Context, userID string) ([]PropertySummary, error)
	AddFavorite(ctx context.Context, userID string, propertyID int64) error
	RemoveFavorite(ctx context.Context, userID string, propertyID int64) error
}

// Read models & queries

type PropertySummary struct {
	ID             int64     `json:"id" db:"id"`
	ListingID      int64     `json:"listingId" db:"listing_id"`
	Title          string    `json:"title" db:"title"`
	URL            string    `json:"url" db:"url"`
	Price          float64   `json:"price" db:"price"`
	PriceFormatted *string   `json:"priceFormatted" db:"price_formatted"`
	OfferType      *string   `json:"offerType" db:"offer_type"`
	PropertyType   string    `json:"propertyType" db:"property_type"`
	Bedrooms       int       `json:"bedrooms" db:"no_of_bedrooms"`
	Bathrooms      int       `json:"bathrooms" db:"no_of_bathrooms"`
	FloorSize      float64   `json:"floorSize" db:"floor_size"`
	LotSize        float64   `json:"lotSize" db:"lot_size"`
	PrimaryImage   *string   `json:"primaryImage" db:"primary_image_url"`
	Region         *string   `json:"region" db:"region"`
	City           *string   `json:"city" db:"city"`
	Area           *string   `json:"area" db:"area"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
}

type PropertyView struct {
	PropertySummary
	Description     string          `json:"description"`
	Address         *string         `json:"address"`
	ProjectName     *string         `json:"projectName"`
	AgentName       *string         `json:"agentName"`
	OwnerName       *string         `json:"productOwnerName"`
	BuildingSize    float64         `json:"buildingSize"`
	ParkingSpaces   int             `json:"parkingSpaces"`
	CeilingHeight   float64         `json:"ceilingHeight"`
	YearBuilt       int             `json:"yearBuilt"`
	Coords          *Coords         `json:"coords,omitempty"`
	Images          json.RawMessage `json:"images"`
	Amenities       json.RawMessage `json:"amenities"`
	IndoorFeatures  json.RawMessage `json:"indoorFeatures"`
	OutdoorFeatures json.RawMessage `json:"outdoorFeatures"`
	Features        json.RawMessage `json:"propertyFeatures"`
	AIDescription   json.RawMessage `json:"aiGeneratedDescription,omitempty"`
	PriceHistory    []PriceChange   `json:"priceHistory"`
}

type Coords struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

type City struct {
	ID       int64   `json:"id" db:"id"`
	Name     string  `json:"city" db:"city"`
	Key      string  `json:"listingCityId" db:"listing_city_id"`
	RegionID *int64  `json:"regionId" db:"region_id"`
	Region   *string `json:"region" db:"region"`
}

type SortOrder string

const (
	SortNewest    SortOrder = "newest"
	SortPriceAsc  SortOrder = "price_asc"
	SortPriceDesc SortOrder = "price_desc"
)

// PropertyFilter is the typed search filter; every value ends up as a
// bound parameter.
type PropertyFilter struct {
	Query         string
	RegionID      *int64
	CityID        *int64
	AreaID        *int64
	PropertyTypes []PropertyType
	OfferType     OfferType
	MinPrice      *float64
	MaxPrice      *float64
	MinBedrooms   *int
	MinBathrooms  *int
	Sort          SortOrder
	Page          int
	Limit         int
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

type PropertiesPage struct {
	Items      []PropertySummary `json:"data"`
	Pagination Pagination        `json:"pagination"`
}

package domain

import "encoding/json"

// PropertyType mirrors the property_type lookup table.
type PropertyType int

const (
	PropertyCondominium PropertyType = 1
	PropertyHouse       PropertyType = 2
	PropertyWarehouse   PropertyType = 3
	PropertyLand        PropertyType = 4
	PropertyOther       PropertyType = 5
)

func (t PropertyType) String() string {
	switch t {
	case PropertyCondominium:
		return "Condominium"
	case PropertyHouse:
		return "House"
	case PropertyWarehouse:
		return "Warehouse"
	case PropertyLand:
		return "Land"
	default:
		return "Other"
	}
}

// Valid reports whether t is one of the known types.
func (t PropertyType) Valid() bool { return t >= PropertyCondominium && t <= PropertyOther }

// DimensionKind names one of the geographic lookup tables.
type DimensionKind string

const (
	DimensionRegion DimensionKind = "region"
	DimensionCity   DimensionKind = "city"
	DimensionArea   DimensionKind = "area"
)

// Dimension is a Region/City/Area row keyed by the source site's own identifier.
type Dimension struct {
	ID       int64
	Kind     DimensionKind
	Key      string // natural key, unique per kind
	Name     string
	ParentID *int64 // city -> region
}

// Location carries the raw natural keys and names for one listing.
type Location struct {
	RegionKey, RegionName string
	CityKey, CityName     string
	AreaKey, AreaName     string // optional
}

// LocationIDs are the surrogate ids resolved for a Location.
type LocationIDs struct {
	RegionID int64
	CityID   int64
	AreaID   *int64
}

// Property is the physical-asset aggregate as written by the pipeline.
type Property struct {
	ID               int64
	Type             PropertyType
	FloorSize        float64
	LotSize          float64
	LandSize         float64
	BuildingSize     float64
	Bedrooms         int
	Bathrooms        int
	ParkingSpaces    int
	RoomsTotal       int
	CeilingHeight    float64
	YearBuilt        int
	Longitude        *float64
	Latitude         *float64
	PrimaryImageURL  string
	Images           []string
	Amenities        json.RawMessage
	IndoorFeatures   json.RawMessage
	OutdoorFeatures  json.RawMessage
	PropertyFeatures json.RawMessage
	Address          string
	ProjectName      string
	AgentName        string
	ProductOwnerName string
	Location         LocationIDs
	AIDescription    json.RawMessage // nil until generated
}

// PropertySnapshot is the subset of Property refreshed when a listing is re-scraped.
type PropertySnapshot struct {
	Images           []string
	AgentName        string
	ProductOwnerName string
	ProjectName      string
}

// DescriptionSubject is everything the copywriter is allowed to see about a property.
type DescriptionSubject struct {
	PropertyID       int64           `json:"property_id"`
	Type             PropertyType    `json:"-"`
	TypeName         string          `json:"property_type"`
	Title            string          `json:"listing_title,omitempty"`
	Description      string          `json:"listing_description,omitempty"`
	Address          string          `json:"listing_address,omitempty"`
	RegionName       string          `json:"listing_region_name,omitempty"`
	CityName         string          `json:"listing_city_name,omitempty"`
	AreaName         string          `json:"listing_area_name,omitempty"`
	PriceFormatted   string          `json:"price_formatted,omitempty"`
	FloorSize        float64         `json:"floor_size,omitempty"`
	LotSize          float64         `json:"lot_size,omitempty"`
	BuildingSize     float64         `json:"building_size,omitempty"`
	Bedrooms         int             `json:"no_of_bedrooms,omitempty"`
	Bathrooms        int             `json:"no_of_bathrooms,omitempty"`
	ParkingSpaces    int             `json:"no_of_parking_spaces,omitempty"`
	YearBuilt        int             `json:"year_built,omitempty"`
	ProjectName      string          `json:"project_name,omitempty"`
	Amenities        json.RawMessage `json:"amenities,omitempty"`
	IndoorFeatures   json.RawMessage `json:"indoor_features,omitempty"`
	OutdoorFeatures  json.RawMessage `json:"outdoor_features,omitempty"`
	PropertyFeatures json.RawMessage `json:"property_features,omitempty"`
}

package app

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"lamudi_ingest/internal/domain"
)

/********** alias registries (single source of truth) **********/

// Paths are relative to dataLayer.
var listingAliases = map[string][]string{
	"title":          {"title", "attributes.title"},
	"description":    {"description.text", "attributes.description"},
	"agent":          {"agent_name", "attributes.agent_name"},
	"owner":          {"attributes.product_owner_name", "product_owner_name"},
	"region_key":     {"attributes.listing_region_id"},
	"region_name":    {"location.region", "attributes.listing_region"},
	"city_key":       {"attributes.listing_city_id"},
	"city_name":      {"location.city", "attributes.listing_city"},
	"area_key":       {"attributes.listing_area_id"},
	"area_name":      {"attributes.listing_area", "location.area"},
	"address":        {"attributes.listing_address", "location.address"},
	"project":        {"attributes.project_name"},
	"price":          {"attributes.price"},
	"price_fmt":      {"attributes.price_formatted"},
	"offer":          {"attributes.offer_type"},
	"set_name":       {"attributes.attribute_set_name"},
	"subcategory":    {"attributes.subcategory"},
	"urlkey":         {"attributes.urlkey_details"},
	"primary_image":  {"attributes.image_url"},
	"amenities":      {"attributes.amenities"},
	"indoor":         {"attributes.indoor_features"},
	"outdoor":        {"attributes.outdoor_features"},
	"other_features": {"attributes.other_features", "attributes.property_features"},
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// lookupStr returns the value at path as a trimmed string, or "".
// Numbers are accepted since the site emits ids both ways.
func lookupStr(m map[string]any, path string) string {
	switch v := lookupAny(m, path).(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}

// firstAlias: first non-empty string for a named alias set.
func firstAlias(m map[string]any, key string) string {
	for _, p := range listingAliases[key] {
		if s := lookupStr(m, p); s != "" {
			return s
		}
	}
	return ""
}

// getFloatFlexible: number from several paths (float64/int/string like "6,000,000").
func getFloatFlexible(m map[string]any, paths ...string) *float64 {
	for _, k := range paths {
		switch v := lookupAny(m, k).(type) {
		case float64:
			f := v
			return &f
		case int:
			f := float64(v)
			return &f
		case string:
			s := strings.TrimSpace(strings.ReplaceAll(v, ",", ""))
			if s == "" {
				continue
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return &f
			}
		}
	}
	return nil
}

func floatOr0(m map[string]any, paths ...string) float64 {
	if f := getFloatFlexible(m, paths...); f != nil {
		return *f
	}
	return 0
}

func intOr0(m map[string]any, paths ...string) int {
	if f := getFloatFlexible(m, paths...); f != nil {
		return int(*f)
	}
	return 0
}

// sliceStrings: accept []any with either strings or {src/url}.
func sliceStrings(m map[string]any, path string) []string {
	raw, ok := lookupAny(m, path).([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, it := range raw {
		switch t := it.(type) {
		case string:
			if t != "" {
				out = append(out, t)
			}
		case map[string]any:
			if u, ok := t["src"].(string); ok && u != "" {
				out = append(out, u)
				continue
			}
			if u, ok := t["url"].(string); ok && u != "" {
				out = append(out, u)
			}
		}
	}
	return out
}

var emptyObject = json.RawMessage(`{}`)

// featureBlob returns the feature set at key as JSON. The site sends these
// either as objects or as JSON-encoded strings; anything absent or unparsable
// becomes an empty object so the column is never NULL.
func featureBlob(dl map[string]any, key string) json.RawMessage {
	for _, p := range listingAliases[key] {
		switch v := lookupAny(dl, p).(type) {
		case nil:
			continue
		case string:
			s := strings.TrimSpace(v)
			if s == "" || s == "null" {
				continue
			}
			if json.Valid([]byte(s)) {
				return json.RawMessage(s)
			}
			log.Debug().Str("field", p).Msg("feature set is not valid JSON, storing {}")
			return emptyObject
		case map[string]any, []any:
			b, err := json.Marshal(v)
			if err != nil {
				return emptyObject
			}
			return b
		}
	}
	return emptyObject
}

/********** property type / offer type **********/

func propertyTypeOf(dl map[string]any) domain.PropertyType {
	switch firstAlias(dl, "set_name") {
	case "Condominium":
		return domain.PropertyCondominium
	case "House":
		return domain.PropertyHouse
	case "Land":
		return domain.PropertyLand
	}
	if firstAlias(dl, "subcategory") == "Warehouse" {
		return domain.PropertyWarehouse
	}
	return domain.PropertyOther
}

func offerTypeOf(dl map[string]any) domain.OfferType {
	switch firstAlias(dl, "offer") {
	case "Buy":
		return domain.OfferBuy
	case "Rent":
		return domain.OfferRent
	}
	return domain.OfferUnknown
}

/********** raw record mapper **********/

// Normalizer turns a scraped Lamudi page into a NormalizedRecord.
type Normalizer struct {
	BaseURL  string  // prefix for attributes.urlkey_details
	MinPrice float64 // records priced at or below this are scrape noise
}

func invalid(rawID int64, format string, args ...any) error {
	return fmt.Errorf("raw %d: %s: %w", rawID, fmt.Sprintf(format, args...), domain.ErrValidation)
}

// Normalize extracts and validates one raw record. Every rejection wraps
// domain.ErrValidation.
func (n Normalizer) Normalize(r domain.RawRecord) (domain.NormalizedRecord, error) {
	var root map[string]any
	if err := json.Unmarshal(r.JSON, &root); err != nil || root == nil {
		return domain.NormalizedRecord{}, invalid(r.ID, "payload is not a JSON object")
	}
	dl, ok := root["dataLayer"].(map[string]any)
	if !ok {
		return domain.NormalizedRecord{}, invalid(r.ID, "missing dataLayer")
	}
	if _, ok := dl["location"].(map[string]any); !ok {
		return domain.NormalizedRecord{}, invalid(r.ID, "missing location")
	}
	if _, ok := dl["attributes"].(map[string]any); !ok {
		return domain.NormalizedRecord{}, invalid(r.ID, "missing attributes")
	}

	agent, owner := firstAlias(dl, "agent"), firstAlias(dl, "owner")
	if agent == "" && owner == "" {
		return domain.NormalizedRecord{}, invalid(r.ID, "missing agent and product owner names")
	}

	loc := domain.Location{
		RegionKey:  firstAlias(dl, "region_key"),
		RegionName: firstAlias(dl, "region_name"),
		CityKey:    firstAlias(dl, "city_key"),
		CityName:   firstAlias(dl, "city_name"),
		AreaKey:    firstAlias(dl, "area_key"),
		AreaName:   firstAlias(dl, "area_name"),
	}
	if loc.RegionName == "" || loc.CityName == "" {
		return domain.NormalizedRecord{}, invalid(r.ID, "missing region or city name")
	}
	if loc.RegionKey == "" || loc.CityKey == "" {
		return domain.NormalizedRecord{}, invalid(r.ID, "missing region or city id")
	}
	if loc.AreaKey == "" {
		loc.AreaName = ""
	} else if loc.AreaName == "" {
		loc.AreaName = loc.AreaKey
	}

	// Stored as DECIMAL(15,2); compare and persist the same value.
	price := roundCents(floatOr0(dl, listingAliases["price"]...))
	if price <= n.MinPrice {
		return domain.NormalizedRecord{}, invalid(r.ID, "price %.0f not above minimum %.0f", price, n.MinPrice)
	}

	url := lookupStr(root, "listingUrl")
	if key := firstAlias(dl, "urlkey"); key != "" {
		url = n.BaseURL + strings.TrimPrefix(key, "/")
	}
	if url == "" {
		return domain.NormalizedRecord{}, invalid(r.ID, "missing listing url")
	}

	images := sliceStrings(root, "images")
	if images == nil {
		images = []string{}
	}
	primary := firstAlias(dl, "primary_image")
	if primary == "" && len(images) > 0 {
		primary = images[0]
	}

	address := firstAlias(dl, "address")
	if address == "" {
		address = "-"
	}
	project := firstAlias(dl, "project")

	return domain.NormalizedRecord{
		RawID:          r.ID,
		Title:          firstAlias(dl, "title"),
		URL:            url,
		Description:    cleanText(firstAlias(dl, "description")),
		Address:        address,
		Price:          price,
		PriceFormatted: firstAlias(dl, "price_fmt"),
		OfferType:      offerTypeOf(dl),
		Location:       loc,
		Property: domain.Property{
			Type:             propertyTypeOf(dl),
			FloorSize:        floatOr0(dl, "attributes.floor_size"),
			LotSize:          floatOr0(dl, "attributes.lot_size"),
			LandSize:         floatOr0(dl, "attributes.land_size"),
			BuildingSize:     floatOr0(dl, "attributes.building_size"),
			Bedrooms:         intOr0(dl, "attributes.bedrooms"),
			Bathrooms:        intOr0(dl, "attributes.bathrooms"),
			ParkingSpaces:    intOr0(dl, "attributes.car_spaces"),
			RoomsTotal:       intOr0(dl, "location.rooms_total", "attributes.rooms_total"),
			CeilingHeight:    floatOr0(dl, "attributes.ceiling_height"),
			YearBuilt:        intOr0(dl, "attributes.year_built"),
			Longitude:        getFloatFlexible(dl, "attributes.location_longitude"),
			Latitude:         getFloatFlexible(dl, "attributes.location_latitude"),
			PrimaryImageURL:  primary,
			Images:           images,
			Amenities:        featureBlob(dl, "amenities"),
			IndoorFeatures:   featureBlob(dl, "indoor"),
			OutdoorFeatures:  featureBlob(dl, "outdoor"),
			PropertyFeatures: featureBlob(dl, "other_features"),
			Address:          address,
			ProjectName:      project,
			AgentName:        agent,
			ProductOwnerName: owner,
		},
	}, nil
}

/********** raw ingest mapper **********/

// mapRawPayload validates a CREATE_RAW_LAMUDI_LISTING_DATA body and pulls out
// the columns stored next to the verbatim JSON.
func mapRawPayload(data json.RawMessage) (domain.RawPayload, error) {
	var root map[string]any
	if err := json.Unmarshal(data, &root); err != nil || root == nil {
		return domain.RawPayload{}, fmt.Errorf("raw payload is not a JSON object: %w", domain.ErrValidation)
	}
	url := lookupStr(root, "listingUrl")
	if url == "" {
		return domain.RawPayload{}, fmt.Errorf("raw payload has no listingUrl: %w", domain.ErrValidation)
	}
	images := json.RawMessage(`[]`)
	if v, ok := root["images"].([]any); ok {
		if b, err := json.Marshal(v); err == nil {
			images = b
		}
	}
	return domain.RawPayload{ListingURL: url, Images: images, JSON: data}, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

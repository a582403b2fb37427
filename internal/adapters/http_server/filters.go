package httpserver

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"lamudi_ingest/internal/domain"
)

var propertyTypeNames = map[string]domain.PropertyType{
	"condominium": domain.PropertyCondominium,
	"condo":       domain.PropertyCondominium,
	"house":       domain.PropertyHouse,
	"warehouse":   domain.PropertyWarehouse,
	"land":        domain.PropertyLand,
	"other":       domain.PropertyOther,
}

// parseFilter reads the search query string. Unknown parameters are ignored;
// malformed known ones are rejected.
func parseFilter(q url.Values) (domain.PropertyFilter, error) {
	f := domain.PropertyFilter{
		Query: strings.TrimSpace(q.Get("q")),
		Sort:  domain.SortOrder(q.Get("sort")),
	}
	var err error
	if f.RegionID, err = optInt64(q, "regionId"); err != nil {
		return f, err
	}
	if f.CityID, err = optInt64(q, "cityId"); err != nil {
		return f, err
	}
	if f.AreaID, err = optInt64(q, "areaId"); err != nil {
		return f, err
	}
	if f.MinPrice, err = optFloat(q, "minPrice"); err != nil {
		return f, err
	}
	if f.MaxPrice, err = optFloat(q, "maxPrice"); err != nil {
		return f, err
	}
	if f.MinBedrooms, err = optInt(q, "bedrooms"); err != nil {
		return f, err
	}
	if f.MinBathrooms, err = optInt(q, "bathrooms"); err != nil {
		return f, err
	}

	for _, raw := range q["propertyType"] {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v == "" {
				continue
			}
			t, ok := parsePropertyType(v)
			if !ok {
				return f, fmt.Errorf("unknown propertyType %q", v)
			}
			f.PropertyTypes = append(f.PropertyTypes, t)
		}
	}

	switch strings.ToLower(q.Get("offerType")) {
	case "":
	case "buy", "1":
		f.OfferType = domain.OfferBuy
	case "rent", "2":
		f.OfferType = domain.OfferRent
	default:
		return f, fmt.Errorf("offerType must be buy or rent")
	}

	switch f.Sort {
	case "", domain.SortNewest, domain.SortPriceAsc, domain.SortPriceDesc:
	default:
		return f, fmt.Errorf("sort must be newest, price_asc or price_desc")
	}

	if v := q.Get("page"); v != "" {
		if f.Page, err = strconv.Atoi(v); err != nil || f.Page < 1 {
			return f, fmt.Errorf("page must be a positive integer")
		}
	}
	if v := q.Get("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil || f.Limit < 1 || f.Limit > 100 {
			return f, fmt.Errorf("limit must be an integer between 1 and 100")
		}
	}
	return f, nil
}

func parsePropertyType(v string) (domain.PropertyType, bool) {
	if n, err := strconv.Atoi(v); err == nil {
		t := domain.PropertyType(n)
		return t, t.Valid()
	}
	t, ok := propertyTypeNames[strings.ToLower(v)]
	return t, ok
}

func optInt64(q url.Values, k string) (*int64, error) {
	v := q.Get(k)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return nil, fmt.Errorf("%s must be a positive integer", k)
	}
	return &n, nil
}

func optInt(q url.Values, k string) (*int, error) {
	v := q.Get(k)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%s must be a non-negative integer", k)
	}
	return &n, nil
}

func optFloat(q url.Values, k string) (*float64, error) {
	v := q.Get(k)
	if v == "" {
		return nil, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil || n < 0 {
		return nil, fmt.Errorf("%s must be a non-negative number", k)
	}
	return &n, nil
}

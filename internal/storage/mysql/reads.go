package mysql

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"

	"lamudi_ingest/internal/domain"
)

var sortClauses = map[domain.SortOrder]string{
	domain.SortNewest:    "l.created_at DESC, l.id DESC",
	domain.SortPriceAsc:  "l.price ASC, l.id ASC",
	domain.SortPriceDesc: "l.price DESC, l.id DESC",
}

// where accumulates AND-ed predicates. Values are always bound, never inlined.
type where struct {
	clauses []string
	args    []any
}

func (w *where) add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

func (w *where) String() string {
	if len(w.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(w.clauses, " AND ") + "\n"
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func filterWhere(f domain.PropertyFilter) *where {
	w := &where{}
	if f.Query != "" {
		like := "%" + likeEscaper.Replace(f.Query) + "%"
		w.add("(l.title LIKE ? OR l.description LIKE ? OR p.address LIKE ? OR p.project_name LIKE ?)", like, like, like, like)
	}
	if f.RegionID != nil {
		w.add("p.listing_region_id = ?", *f.RegionID)
	}
	if f.CityID != nil {
		w.add("p.listing_city_id = ?", *f.CityID)
	}
	if f.AreaID != nil {
		w.add("p.listing_area_id = ?", *f.AreaID)
	}
	if len(f.PropertyTypes) > 0 {
		ids := make([]int, 0, len(f.PropertyTypes))
		for _, t := range f.PropertyTypes {
			ids = append(ids, int(t))
		}
		w.add("p.property_type_id IN (?)", ids)
	}
	if f.OfferType != domain.OfferUnknown {
		w.add("l.offer_type_id = ?", int(f.OfferType))
	}
	if f.MinPrice != nil {
		w.add("l.price >= ?", *f.MinPrice)
	}
	if f.MaxPrice != nil {
		w.add("l.price <= ?", *f.MaxPrice)
	}
	if f.MinBedrooms != nil {
		w.add("p.no_of_bedrooms >= ?", *f.MinBedrooms)
	}
	if f.MinBathrooms != nil {
		w.add("p.no_of_bathrooms >= ?", *f.MinBathrooms)
	}
	return w
}

// SearchProperties runs a count and a page query over the same predicates.
// Paging and sort are expected to be normalized by the caller.
func (r *Repo) SearchProperties(ctx context.Context, f domain.PropertyFilter) (domain.PropertiesPage, error) {
	w := filterWhere(f)

	countQ, countArgs, err := sqlx.In("SELECT COUNT(*)"+summaryFrom+w.String(), w.args...)
	if err != nil {
		return domain.PropertiesPage{}, err
	}
	var total int
	if err := r.x.GetContext(ctx, &total, r.x.Rebind(countQ), countArgs...); err != nil {
		return domain.PropertiesPage{}, classify(err)
	}

	order, ok := sortClauses[f.Sort]
	if !ok {
		order = sortClauses[domain.SortNewest]
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	args := append(append([]any{}, w.args...), limit, (page-1)*limit)
	pageQ, pageArgs, err := sqlx.In("SELECT"+summaryColumns+summaryFrom+w.String()+"ORDER BY "+order+"\nLIMIT ? OFFSET ?", args...)
	if err != nil {
		return domain.PropertiesPage{}, err
	}
	items := []domain.PropertySummary{}
	if err := r.x.SelectContext(ctx, &items, r.x.Rebind(pageQ), pageArgs...); err != nil {
		return domain.PropertiesPage{}, classify(err)
	}
	return domain.PropertiesPage{
		Items:      items,
		Pagination: domain.Pagination{Page: page, Limit: limit, Total: total},
	}, nil
}

type propertyRow struct {
	domain.PropertySummary
	Description   string          `db:"description"`
	Address       sql.NullString  `db:"address"`
	ProjectName   sql.NullString  `db:"project_name"`
	AgentName     sql.NullString  `db:"agent_name"`
	OwnerName     sql.NullString  `db:"product_owner_name"`
	BuildingSize  float64         `db:"building_size"`
	ParkingSpaces int             `db:"no_of_parking_spaces"`
	CeilingHeight float64         `db:"ceiling_height"`
	YearBuilt     int             `db:"year_built"`
	Longitude     sql.NullFloat64 `db:"longitude"`
	Latitude      sql.NullFloat64 `db:"latitude"`
	Images        []byte          `db:"images"`
	Amenities     []byte          `db:"amenities"`
	Indoor        []byte          `db:"indoor_features"`
	Outdoor       []byte          `db:"outdoor_features"`
	Features      []byte          `db:"property_features"`
	AIDescription []byte          `db:"ai_generated_description"`
}

func jsonOr(b []byte, fallback string) []byte {
	if len(b) == 0 {
		return []byte(fallback)
	}
	return b
}

func (r *Repo) GetProperty(ctx context.Context, id int64) (domain.PropertyView, error) {
	var row propertyRow
	err := r.x.GetContext(ctx, &row, getPropertySQL, id)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PropertyView{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.PropertyView{}, classify(err)
	}

	pv := domain.PropertyView{
		PropertySummary: row.PropertySummary,
		Description:     row.Description,
		Address:         ptrStr(row.Address),
		ProjectName:     ptrStr(row.ProjectName),
		AgentName:       ptrStr(row.AgentName),
		OwnerName:       ptrStr(row.OwnerName),
		BuildingSize:    row.BuildingSize,
		ParkingSpaces:   row.ParkingSpaces,
		CeilingHeight:   row.CeilingHeight,
		YearBuilt:       row.YearBuilt,
		Images:          jsonOr(row.Images, `[]`),
		Amenities:       jsonOr(row.Amenities, `{}`),
		IndoorFeatures:  jsonOr(row.Indoor, `{}`),
		OutdoorFeatures: jsonOr(row.Outdoor, `{}`),
		Features:        jsonOr(row.Features, `{}`),
	}
	if len(row.AIDescription) > 0 {
		pv.AIDescription = row.AIDescription
	}
	if row.Longitude.Valid && row.Latitude.Valid {
		pv.Coords = &domain.Coords{Lon: row.Longitude.Float64, Lat: row.Latitude.Float64}
	}
	return pv, nil
}

func (r *Repo) PriceHistory(ctx context.Context, listingID int64) ([]domain.PriceChange, error) {
	out := []domain.PriceChange{}
	if err := r.x.SelectContext(ctx, &out, priceHistorySQL, listingID); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (r *Repo) ListCities(ctx context.Context) ([]domain.City, error) {
	out := []domain.City{}
	if err := r.x.SelectContext(ctx, &out, listCitiesSQL); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (r *Repo) ListFavorites(ctx context.Context, userID string) ([]domain.PropertySummary, error) {
	out := []domain.PropertySummary{}
	if err := r.x.SelectContext(ctx, &out, listFavoritesSQL, userID); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

// AddFavorite is idempotent. An unknown property surfaces as ErrNotFound.
func (r *Repo) AddFavorite(ctx context.Context, userID string, propertyID int64) error {
	_, err := r.db.ExecContext(ctx, addFavoriteSQL, userID, propertyID)
	return classify(err)
}

func (r *Repo) RemoveFavorite(ctx context.Context, userID string, propertyID int64) error {
	_, err := r.db.ExecContext(ctx, removeFavoriteSQL, userID, propertyID)
	return classify(err)
}

package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"

	"lamudi_ingest/internal/domain"
)

func valInt64(p *int64) any {
	if p == nil {
		return nil
	}
	return *p
}
func valF64(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}
func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
func ptrStr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

// Repo is the MySQL implementation of every store port.
type Repo struct {
	db *sql.DB
	x  *sqlx.DB
}

func New(db *sql.DB) *Repo { return &Repo{db: db, x: sqlx.NewDb(db, "mysql")} }

// Open connects and pings. The pool is sized for one batch transaction per
// worker plus the API's read traffic.
func Open(ctx context.Context, dsn string, maxConns int) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
		db.SetMaxIdleConns(maxConns)
	}
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

/********** ingest **********/

func (r *Repo) InsertRaw(ctx context.Context, p domain.RawPayload) (int64, error) {
	images := p.Images
	if len(images) == 0 {
		images = json.RawMessage(`[]`)
	}
	res, err := r.db.ExecContext(ctx, insertRawSQL, string(p.JSON), p.ListingURL, string(images))
	if err != nil {
		return 0, classify(err)
	}
	return res.LastInsertId()
}

/********** AI descriptions **********/

type subjectRow struct {
	PropertyID       int64               `db:"property_id"`
	Type             domain.PropertyType `db:"property_type_id"`
	Title            string              `db:"title"`
	Description      string              `db:"description"`
	Address          string              `db:"address"`
	Region           sql.NullString      `db:"region"`
	City             sql.NullString      `db:"city"`
	Area             sql.NullString      `db:"area"`
	PriceFormatted   sql.NullString      `db:"price_formatted"`
	FloorSize        float64             `db:"floor_size"`
	LotSize          float64             `db:"lot_size"`
	BuildingSize     float64             `db:"building_size"`
	Bedrooms         int                 `db:"no_of_bedrooms"`
	Bathrooms        int                 `db:"no_of_bathrooms"`
	ParkingSpaces    int                 `db:"no_of_parking_spaces"`
	YearBuilt        int                 `db:"year_built"`
	ProjectName      sql.NullString      `db:"project_name"`
	Amenities        []byte              `db:"amenities"`
	IndoorFeatures   []byte              `db:"indoor_features"`
	OutdoorFeatures  []byte              `db:"outdoor_features"`
	PropertyFeatures []byte              `db:"property_features"`
}

func (s subjectRow) toDomain() domain.DescriptionSubject {
	return domain.DescriptionSubject{
		PropertyID:       s.PropertyID,
		Type:             s.Type,
		TypeName:         s.Type.String(),
		Title:            s.Title,
		Description:      s.Description,
		Address:          s.Address,
		RegionName:       s.Region.String,
		CityName:         s.City.String,
		AreaName:         s.Area.String,
		PriceFormatted:   s.PriceFormatted.String,
		FloorSize:        s.FloorSize,
		LotSize:          s.LotSize,
		BuildingSize:     s.BuildingSize,
		Bedrooms:         s.Bedrooms,
		Bathrooms:        s.Bathrooms,
		ParkingSpaces:    s.ParkingSpaces,
		YearBuilt:        s.YearBuilt,
		ProjectName:      s.ProjectName.String,
		Amenities:        s.Amenities,
		IndoorFeatures:   s.IndoorFeatures,
		OutdoorFeatures:  s.OutdoorFeatures,
		PropertyFeatures: s.PropertyFeatures,
	}
}

// PropertiesMissingDescription returns up to limit properties of the given
// types that have no generated description yet, newest first.
func (r *Repo) PropertiesMissingDescription(ctx context.Context, limit int, types []domain.PropertyType) ([]domain.DescriptionSubject, error) {
	if len(types) == 0 || limit <= 0 {
		return nil, nil
	}
	ids := make([]int, 0, len(types))
	for _, t := range types {
		ids = append(ids, int(t))
	}
	q, args, err := sqlx.In(missingDescriptionSQL, ids, limit)
	if err != nil {
		return nil, fmt.Errorf("expand type list: %w", err)
	}
	var rows []subjectRow
	if err := r.x.SelectContext(ctx, &rows, r.x.Rebind(q), args...); err != nil {
		return nil, classify(err)
	}
	out := make([]domain.DescriptionSubject, 0, len(rows))
	for _, s := range rows {
		out = append(out, s.toDomain())
	}
	return out, nil
}

func (r *Repo) DescriptionSubject(ctx context.Context, propertyID int64) (domain.DescriptionSubject, error) {
	var row subjectRow
	err := r.x.GetContext(ctx, &row, descriptionSubjectSQL, propertyID)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DescriptionSubject{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.DescriptionSubject{}, classify(err)
	}
	return row.toDomain(), nil
}

func (r *Repo) SaveDescription(ctx context.Context, propertyID int64, description json.RawMessage) error {
	_, err := r.db.ExecContext(ctx, saveDescriptionSQL, string(description), propertyID)
	return classify(err)
}

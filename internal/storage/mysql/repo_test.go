package mysql

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	gomysql "github.com/go-sql-driver/mysql"

	"lamudi_ingest/internal/domain"
)

func newMock(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func expectMet(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		dup        bool
		structural bool
		notFound   bool
	}{
		{"duplicate entry", &gomysql.MySQLError{Number: 1062, Message: "Duplicate entry"}, true, false, false},
		{"deadlock", &gomysql.MySQLError{Number: 1213}, false, true, false},
		{"lock wait", &gomysql.MySQLError{Number: 1205}, false, true, false},
		{"missing parent", &gomysql.MySQLError{Number: 1452}, false, false, true},
		{"data too long", &gomysql.MySQLError{Number: 1406}, false, false, false},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), false, true, false},
		{"invalid conn", gomysql.ErrInvalidConn, false, true, false},
		{"plain", errors.New("boom"), false, false, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classify(tc.err)
			if errors.Is(got, domain.ErrDuplicateKey) != tc.dup {
				t.Errorf("duplicate = %v, want %v", !tc.dup, tc.dup)
			}
			if domain.IsStructural(got) != tc.structural {
				t.Errorf("structural = %v, want %v", !tc.structural, tc.structural)
			}
			if errors.Is(got, domain.ErrNotFound) != tc.notFound {
				t.Errorf("not found = %v, want %v", !tc.notFound, tc.notFound)
			}
		})
	}
	if classify(nil) != nil {
		t.Error("classify(nil) must stay nil")
	}
}

func TestReconcileTx_FetchSavepointMarkCommit(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id, json_data\s+FROM lamudi_raw_data`).
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "json_data"}).
			AddRow(int64(1), []byte(`{"listingUrl":"https://x/1"}`)).
			AddRow(int64(2), []byte(`{"listingUrl":"https://x/2"}`)))
	mock.ExpectExec("SAVEPOINT raw_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("ROLLBACK TO SAVEPOINT raw_1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("UPDATE lamudi_raw_data SET is_process = TRUE").
		WithArgs(int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := repo.BeginReconcile(ctx)
	if err != nil {
		t.Fatalf("BeginReconcile() error = %v", err)
	}
	raws, err := tx.FetchPendingRaw(ctx, 50)
	if err != nil {
		t.Fatalf("FetchPendingRaw() error = %v", err)
	}
	if len(raws) != 2 || raws[0].ID != 1 || string(raws[1].JSON) != `{"listingUrl":"https://x/2"}` {
		t.Fatalf("unexpected raws: %+v", raws)
	}
	if err := tx.Savepoint(ctx, "raw_1"); err != nil {
		t.Fatalf("Savepoint() error = %v", err)
	}
	if err := tx.RollbackToSavepoint(ctx, "raw_1"); err != nil {
		t.Fatalf("RollbackToSavepoint() error = %v", err)
	}
	if err := tx.MarkProcessed(ctx, 1); err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	expectMet(t, mock)
}

func TestReconcileTx_RejectsForeignSavepointNames(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectRollback()

	tx, err := repo.BeginReconcile(context.Background())
	if err != nil {
		t.Fatalf("BeginReconcile() error = %v", err)
	}
	for _, name := range []string{"", "raw_1; DROP TABLE listing", "Raw-1"} {
		if err := tx.Savepoint(context.Background(), name); err == nil {
			t.Errorf("Savepoint(%q) accepted", name)
		}
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("Rollback() error = %v", err)
	}
	expectMet(t, mock)
}

func TestReconcileTx_Dimensions(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()
	regionID := int64(3)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM listing_city WHERE listing_city_id").
		WithArgs("C-Taguig").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectExec("INSERT INTO listing_city").
		WithArgs("C-Taguig", "Taguig", regionID).
		WillReturnResult(sqlmock.NewResult(11, 1))
	mock.ExpectExec("INSERT INTO listing_region").
		WithArgs("R-NCR", "NCR").
		WillReturnError(&gomysql.MySQLError{Number: 1062, Message: "Duplicate entry 'R-NCR'"})
	mock.ExpectQuery("SELECT id FROM listing_region WHERE listing_region_id").
		WithArgs("R-NCR").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(regionID))
	mock.ExpectRollback()

	tx, err := repo.BeginReconcile(ctx)
	if err != nil {
		t.Fatalf("BeginReconcile() error = %v", err)
	}
	if _, ok, err := tx.FindDimension(ctx, domain.DimensionCity, "C-Taguig"); err != nil || ok {
		t.Fatalf("FindDimension() = %v, %v; want miss", ok, err)
	}
	id, err := tx.InsertDimension(ctx, domain.Dimension{Kind: domain.DimensionCity, Key: "C-Taguig", Name: "Taguig", ParentID: &regionID})
	if err != nil || id != 11 {
		t.Fatalf("InsertDimension() = %d, %v", id, err)
	}
	_, err = tx.InsertDimension(ctx, domain.Dimension{Kind: domain.DimensionRegion, Key: "R-NCR", Name: "NCR"})
	if !errors.Is(err, domain.ErrDuplicateKey) {
		t.Fatalf("InsertDimension() error = %v, want ErrDuplicateKey", err)
	}
	if got, ok, err := tx.FindDimension(ctx, domain.DimensionRegion, "R-NCR"); err != nil || !ok || got != regionID {
		t.Fatalf("FindDimension() = %d, %v, %v", got, ok, err)
	}
	_ = tx.Rollback()
	expectMet(t, mock)
}

func TestReconcileTx_FindListingsByTitleUsesUnion(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()
	cols := []string{"id", "property_id", "url", "title", "price"}

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM listing\s+WHERE url = \? AND deleted_at IS NULL\s+ORDER BY id`).
		WithArgs("https://x/1").
		WillReturnRows(sqlmock.NewRows(cols).AddRow(int64(5), int64(4), "https://x/1", "Loft", "6000000.00"))
	mock.ExpectQuery("UNION").
		WithArgs("https://x/1", "Loft").
		WillReturnRows(sqlmock.NewRows(cols))
	mock.ExpectRollback()

	tx, _ := repo.BeginReconcile(ctx)
	refs, err := tx.FindListings(ctx, "https://x/1", "")
	if err != nil || len(refs) != 1 || refs[0].PropertyID != 4 || refs[0].Price != 6000000 {
		t.Fatalf("FindListings(url) = %+v, %v", refs, err)
	}
	refs, err = tx.FindListings(ctx, "https://x/1", "Loft")
	if err != nil || len(refs) != 0 {
		t.Fatalf("FindListings(url, title) = %+v, %v", refs, err)
	}
	_ = tx.Rollback()
	expectMet(t, mock)
}

func TestReconcileTx_WritePath(t *testing.T) {
	repo, mock := newMock(t)
	ctx := context.Background()
	changedAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO property").WillReturnResult(sqlmock.NewResult(40, 1))
	mock.ExpectExec("INSERT INTO listing").
		WithArgs(int64(40), "Loft", "https://x/1", nil, "No description", true, "-", 6000000.0, nil, 1).
		WillReturnResult(sqlmock.NewResult(41, 1))
	mock.ExpectExec("UPDATE listing SET price").
		WithArgs(6200000.0, "PHP 6.2M", int64(41)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE property").
		WithArgs(`[]`, "Maria", nil, nil, int64(40)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO price_change_log").
		WithArgs(int64(41), 6000000.0, 6200000.0, changedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, _ := repo.BeginReconcile(ctx)
	pid, err := tx.InsertProperty(ctx, domain.Property{
		Type:             domain.PropertyCondominium,
		Images:           []string{"https://img/1.jpg"},
		Amenities:        json.RawMessage(`{}`),
		IndoorFeatures:   json.RawMessage(`{}`),
		OutdoorFeatures:  json.RawMessage(`{}`),
		PropertyFeatures: json.RawMessage(`{}`),
		Address:          "-",
		Location:         domain.LocationIDs{RegionID: 1, CityID: 2},
	})
	if err != nil || pid != 40 {
		t.Fatalf("InsertProperty() = %d, %v", pid, err)
	}
	lid, err := tx.InsertListing(ctx, domain.Listing{
		PropertyID: pid, Title: "Loft", URL: "https://x/1", Description: "No description",
		Scraped: true, Address: "-", Price: 6000000, OfferType: domain.OfferBuy,
	})
	if err != nil || lid != 41 {
		t.Fatalf("InsertListing() = %d, %v", lid, err)
	}
	if err := tx.UpdateListingPrice(ctx, lid, 6200000, "PHP 6.2M"); err != nil {
		t.Fatalf("UpdateListingPrice() error = %v", err)
	}
	if err := tx.UpdatePropertySnapshot(ctx, pid, domain.PropertySnapshot{AgentName: "Maria"}); err != nil {
		t.Fatalf("UpdatePropertySnapshot() error = %v", err)
	}
	if err := tx.AppendPriceChange(ctx, domain.PriceChange{ListingID: lid, OldPrice: 6000000, NewPrice: 6200000, ChangedAt: changedAt}); err != nil {
		t.Fatalf("AppendPriceChange() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	expectMet(t, mock)
}

func TestReconcileTx_CommitFailureIsStructural(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectCommit().WillReturnError(errors.New("connection lost"))

	tx, _ := repo.BeginReconcile(context.Background())
	if err := tx.Commit(); !domain.IsStructural(err) {
		t.Fatalf("Commit() error = %v, want structural", err)
	}
	expectMet(t, mock)
}

func TestRepo_InsertRaw(t *testing.T) {
	repo, mock := newMock(t)
	payload := `{"listingUrl":"https://x/1"}`

	mock.ExpectExec("INSERT INTO lamudi_raw_data").
		WithArgs(payload, "https://x/1", `[]`).
		WillReturnResult(sqlmock.NewResult(9, 1))

	id, err := repo.InsertRaw(context.Background(), domain.RawPayload{ListingURL: "https://x/1", JSON: json.RawMessage(payload)})
	if err != nil || id != 9 {
		t.Fatalf("InsertRaw() = %d, %v", id, err)
	}
	expectMet(t, mock)
}

func TestRepo_PropertiesMissingDescriptionExpandsTypes(t *testing.T) {
	repo, mock := newMock(t)
	cols := []string{
		"property_id", "property_type_id", "title", "description", "address", "region", "city", "area",
		"price_formatted", "floor_size", "lot_size", "building_size", "no_of_bedrooms", "no_of_bathrooms",
		"no_of_parking_spaces", "year_built", "project_name", "amenities", "indoor_features",
		"outdoor_features", "property_features",
	}
	mock.ExpectQuery(`property_type_id IN \(\?, \?\)\s+ORDER BY p\.created_at DESC, p\.id DESC\s+LIMIT \?`).
		WithArgs(1, 3, 10).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			int64(7), int64(3), "Warehouse in Pasig", "Big", "-", "NCR", "Pasig", nil,
			"PHP 20M", 0.0, 500.0, 450.0, 0, 1, 4, 2015, nil, []byte(`{}`), []byte(`{}`), []byte(`{}`), []byte(`{}`),
		))

	subs, err := repo.PropertiesMissingDescription(context.Background(), 10,
		[]domain.PropertyType{domain.PropertyCondominium, domain.PropertyWarehouse})
	if err != nil {
		t.Fatalf("PropertiesMissingDescription() error = %v", err)
	}
	if len(subs) != 1 || subs[0].Type != domain.PropertyWarehouse || subs[0].TypeName != "Warehouse" ||
		subs[0].CityName != "Pasig" || subs[0].AreaName != "" || subs[0].ParkingSpaces != 4 {
		t.Fatalf("unexpected subjects: %+v", subs)
	}
	expectMet(t, mock)
}

var summaryCols = []string{
	"id", "listing_id", "title", "url", "price", "price_formatted", "offer_type", "property_type",
	"no_of_bedrooms", "no_of_bathrooms", "floor_size", "lot_size", "primary_image_url",
	"region", "city", "area", "created_at",
}

func TestRepo_SearchPropertiesBindsEveryFilter(t *testing.T) {
	repo, mock := newMock(t)
	minPrice, beds := 1000000.0, 2
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	mock.ExpectQuery(`SELECT COUNT\(\*\)`).
		WithArgs("%50\\%%", "%50\\%%", "%50\\%%", "%50\\%%", 1, 4, 1, minPrice, beds).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(21))
	mock.ExpectQuery(`ORDER BY l.price ASC, l.id ASC\s+LIMIT \? OFFSET \?`).
		WithArgs("%50\\%%", "%50\\%%", "%50\\%%", "%50\\%%", 1, 4, 1, minPrice, beds, 10, 10).
		WillReturnRows(sqlmock.NewRows(summaryCols).AddRow(
			int64(1), int64(2), "Condo", "https://x/1", "1500000.00", "PHP 1.5M", "Buy", "Condominium",
			2, 1, 40.0, 0.0, nil, "NCR", "Taguig", nil, created,
		))

	page, err := repo.SearchProperties(context.Background(), domain.PropertyFilter{
		Query:         "50%",
		PropertyTypes: []domain.PropertyType{domain.PropertyCondominium, domain.PropertyLand},
		OfferType:     domain.OfferBuy,
		MinPrice:      &minPrice,
		MinBedrooms:   &beds,
		Sort:          domain.SortPriceAsc,
		Page:          2,
		Limit:         10,
	})
	if err != nil {
		t.Fatalf("SearchProperties() error = %v", err)
	}
	if page.Pagination.Total != 21 || len(page.Items) != 1 || page.Items[0].Price != 1500000 || page.Items[0].Area != nil {
		t.Fatalf("unexpected page: %+v", page)
	}
	if !page.Items[0].CreatedAt.Equal(created) {
		t.Errorf("created_at = %v", page.Items[0].CreatedAt)
	}
	expectMet(t, mock)
}

func TestRepo_GetPropertyNotFound(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectQuery("WHERE p.id = \\?").WithArgs(int64(99)).WillReturnRows(sqlmock.NewRows(summaryCols))

	if _, err := repo.GetProperty(context.Background(), 99); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetProperty() error = %v, want ErrNotFound", err)
	}
	expectMet(t, mock)
}

func TestRepo_AddFavoriteUnknownProperty(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec("INSERT INTO user_favorites").
		WithArgs("u1", int64(5)).
		WillReturnError(&gomysql.MySQLError{Number: 1452, Message: "Cannot add or update a child row"})

	if err := repo.AddFavorite(context.Background(), "u1", 5); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("AddFavorite() error = %v, want ErrNotFound", err)
	}
	expectMet(t, mock)
}

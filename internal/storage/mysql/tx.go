package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"lamudi_ingest/internal/domain"
)

// BeginReconcile opens the batch transaction. READ COMMITTED keeps gap locks
// off the dimension tables so concurrent batches only collide on real keys.
func (r *Repo) BeginReconcile(ctx context.Context) (domain.ReconcileTx, error) {
	tx, err := r.x.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("begin reconcile tx: %w: %w", domain.ErrStructural, err)
	}
	return &reconcileTx{tx: tx}, nil
}

type reconcileTx struct{ tx *sqlx.Tx }

type rawRow struct {
	ID   int64  `db:"id"`
	JSON []byte `db:"json_data"`
}

func (t *reconcileTx) FetchPendingRaw(ctx context.Context, limit int) ([]domain.RawRecord, error) {
	var rows []rawRow
	if err := t.tx.SelectContext(ctx, &rows, fetchPendingRawSQL, limit); err != nil {
		return nil, classify(err)
	}
	out := make([]domain.RawRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.RawRecord{ID: r.ID, JSON: r.JSON})
	}
	return out, nil
}

func (t *reconcileTx) MarkProcessed(ctx context.Context, rawID int64) error {
	res, err := t.tx.ExecContext(ctx, markProcessedSQL, rawID)
	if err != nil {
		return classify(err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("raw %d: %w", rawID, domain.ErrNotFound)
	}
	return nil
}

// Savepoint names cannot be bound as parameters; only names we generate are accepted.
func validSavepoint(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, c := range name {
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

func (t *reconcileTx) Savepoint(ctx context.Context, name string) error {
	if !validSavepoint(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	_, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name)
	return classify(err)
}

func (t *reconcileTx) RollbackToSavepoint(ctx context.Context, name string) error {
	if !validSavepoint(name) {
		return fmt.Errorf("invalid savepoint name %q", name)
	}
	_, err := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name)
	return classify(err)
}

func (t *reconcileTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStructural, err)
	}
	return nil
}

func (t *reconcileTx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

/********** dimensions **********/

func (t *reconcileTx) FindDimension(ctx context.Context, kind domain.DimensionKind, key string) (int64, bool, error) {
	tbl, ok := dimTables[string(kind)]
	if !ok {
		return 0, false, fmt.Errorf("unknown dimension kind %q", kind)
	}
	var id int64
	err := t.tx.GetContext(ctx, &id, tbl.find, key)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, classify(err)
	}
	return id, true, nil
}

// InsertDimension is a plain INSERT: a duplicate natural key surfaces as
// ErrDuplicateKey and leaves the transaction usable for the re-select.
func (t *reconcileTx) InsertDimension(ctx context.Context, d domain.Dimension) (int64, error) {
	tbl, ok := dimTables[string(d.Kind)]
	if !ok {
		return 0, fmt.Errorf("unknown dimension kind %q", d.Kind)
	}
	args := []any{d.Key, d.Name}
	if tbl.parent {
		args = append(args, valInt64(d.ParentID))
	}
	res, err := t.tx.ExecContext(ctx, tbl.insert, args...)
	if err != nil {
		return 0, classify(err)
	}
	return res.LastInsertId()
}

/********** listings **********/

type listingRefRow struct {
	ID         int64   `db:"id"`
	PropertyID int64   `db:"property_id"`
	URL        string  `db:"url"`
	Title      string  `db:"title"`
	Price      float64 `db:"price"`
}

func (t *reconcileTx) FindListings(ctx context.Context, url, title string) ([]domain.ListingRef, error) {
	var (
		rows []listingRefRow
		err  error
	)
	if title == "" {
		err = t.tx.SelectContext(ctx, &rows, findListingsByURLSQL, url)
	} else {
		err = t.tx.SelectContext(ctx, &rows, findListingsByURLOrTitleSQL, url, title)
	}
	if err != nil {
		return nil, classify(err)
	}
	out := make([]domain.ListingRef, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.ListingRef(r))
	}
	return out, nil
}

func (t *reconcileTx) InsertProperty(ctx context.Context, p domain.Property) (int64, error) {
	images, err := json.Marshal(p.Images)
	if err != nil {
		return 0, fmt.Errorf("marshal images: %w", err)
	}
	res, err := t.tx.ExecContext(ctx, insertPropertySQL,
		int(p.Type),
		p.FloorSize,
		p.LotSize,
		p.LandSize,
		p.BuildingSize,
		p.Bedrooms,
		p.Bathrooms,
		p.ParkingSpaces,
		p.RoomsTotal,
		p.CeilingHeight,
		p.YearBuilt,
		valF64(p.Longitude),
		valF64(p.Latitude),
		nullStr(p.PrimaryImageURL),
		string(images),
		string(p.Amenities),
		string(p.IndoorFeatures),
		string(p.OutdoorFeatures),
		string(p.PropertyFeatures),
		p.Address,
		nullStr(p.ProjectName),
		nullStr(p.AgentName),
		nullStr(p.ProductOwnerName),
		p.Location.RegionID,
		p.Location.CityID,
		valInt64(p.Location.AreaID),
	)
	if err != nil {
		return 0, classify(err)
	}
	return res.LastInsertId()
}

func (t *reconcileTx) InsertListing(ctx context.Context, l domain.Listing) (int64, error) {
	var offer any
	if l.OfferType != domain.OfferUnknown {
		offer = int(l.OfferType)
	}
	res, err := t.tx.ExecContext(ctx, insertListingSQL,
		l.PropertyID,
		l.Title,
		l.URL,
		nullStr(l.ProjectName),
		l.Description,
		l.Scraped,
		nullStr(l.Address),
		l.Price,
		nullStr(l.PriceFormatted),
		offer,
	)
	if err != nil {
		return 0, classify(err)
	}
	return res.LastInsertId()
}

func (t *reconcileTx) UpdateListingPrice(ctx context.Context, listingID int64, price float64, formatted string) error {
	_, err := t.tx.ExecContext(ctx, updateListingPriceSQL, price, nullStr(formatted), listingID)
	return classify(err)
}

func (t *reconcileTx) UpdatePropertySnapshot(ctx context.Context, propertyID int64, s domain.PropertySnapshot) error {
	images := s.Images
	if images == nil {
		images = []string{}
	}
	b, err := json.Marshal(images)
	if err != nil {
		return fmt.Errorf("marshal images: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, updatePropertySnapshotSQL,
		string(b),
		nullStr(s.AgentName),
		nullStr(s.ProductOwnerName),
		nullStr(s.ProjectName),
		propertyID,
	)
	return classify(err)
}

func (t *reconcileTx) AppendPriceChange(ctx context.Context, c domain.PriceChange) error {
	var at any
	if !c.ChangedAt.IsZero() {
		at = c.ChangedAt.UTC()
	}
	_, err := t.tx.ExecContext(ctx, insertPriceChangeSQL, c.ListingID, c.OldPrice, c.NewPrice, at)
	return classify(err)
}

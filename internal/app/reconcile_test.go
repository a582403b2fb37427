package app_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lamudi_ingest/internal/app"
	"lamudi_ingest/internal/domain"
)

func newPipeline(store *memStore, cache *fakeCache, batchSize int) *app.Pipeline {
	return app.NewPipeline(store, cache, app.PipelineConfig{
		BatchSize:    batchSize,
		BatchTimeout: 5 * time.Second,
		Normalizer:   app.Normalizer{BaseURL: "https://x/", MinPrice: 5000},
	})
}

func fiveRecords(store *memStore, broken int) {
	for i := 1; i <= 5; i++ {
		o := rawOpts{url: fmt.Sprintf("https://x/%d", i), region: "NCR", city: "Taguig", price: 6000000 + i}
		if i == broken {
			o.noLocation = true
		}
		store.addRaw(int64(i), lamudiPayload(o))
	}
}

func TestPipeline_CreatesDimensionsPropertyAndListing(t *testing.T) {
	store := newMemStore()
	store.addRaw(1, lamudiPayload(rawOpts{url: "https://x/1", region: "NCR", city: "Taguig", price: 6000000}))

	res, err := newPipeline(store, &fakeCache{}, 50).RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, app.StateCommitted, res.State)
	assert.Equal(t, 1, res.Created)

	st := store.snapshot()
	assert.Len(t, st.dims[domain.DimensionRegion], 1)
	assert.Len(t, st.dims[domain.DimensionCity], 1)
	assert.Empty(t, st.dims[domain.DimensionArea])
	require.Len(t, st.properties, 1)
	require.Len(t, st.listings, 1)
	assert.True(t, st.processed[1])

	for _, l := range st.listings {
		assert.Equal(t, 6000000.0, l.Price)
		assert.Equal(t, "https://x/1", l.URL)
		assert.True(t, l.Scraped)
		p := st.properties[l.PropertyID]
		assert.Equal(t, domain.PropertyCondominium, p.Type)
		assert.Nil(t, p.Location.AreaID)
		assert.Equal(t, st.dims[domain.DimensionRegion]["R-NCR"], p.Location.RegionID)
	}
}

func TestPipeline_ReprocessedURLTakesUpdatePath(t *testing.T) {
	store := newMemStore()
	p := newPipeline(store, &fakeCache{}, 50)
	store.addRaw(1, lamudiPayload(rawOpts{url: "https://x/1", region: "NCR", city: "Taguig", price: 6000000}))
	_, err := p.RunBatch(context.Background())
	require.NoError(t, err)
	before := store.snapshot()

	store.addRaw(2, lamudiPayload(rawOpts{url: "https://x/1", region: "NCR", city: "Taguig", price: 6200000}))
	res, err := p.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 1, res.PriceChanges)

	after := store.snapshot()
	assert.Len(t, after.properties, len(before.properties))
	assert.Len(t, after.listings, len(before.listings))
	assert.Equal(t, before.dims, after.dims)
	for _, l := range after.listings {
		assert.Equal(t, 6200000.0, l.Price)
	}
	require.Len(t, after.priceLog, 1)
	assert.Equal(t, 6000000.0, after.priceLog[0].OldPrice)
	assert.Equal(t, 6200000.0, after.priceLog[0].NewPrice)
	assert.True(t, after.processed[2])
}

func TestPipeline_RedeliveredRecordIsIdempotent(t *testing.T) {
	store := newMemStore()
	payload := lamudiPayload(rawOpts{url: "https://x/7", region: "NCR", city: "Makati", price: 9000000})
	store.addRaw(1, payload)
	store.addRaw(2, payload) // same page delivered twice

	res, err := newPipeline(store, &fakeCache{}, 50).RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.PriceChanges)

	st := store.snapshot()
	assert.Len(t, st.listings, 1)
	assert.Len(t, st.properties, 1)
	assert.Empty(t, st.priceLog)
}

func TestPipeline_SubCentPriceDriftIsNotAPriceChange(t *testing.T) {
	store := newMemStore()
	p := newPipeline(store, &fakeCache{}, 50)
	store.addRaw(1, lamudiPayload(rawOpts{url: "https://x/3", region: "NCR", city: "Pasig", price: 6000000.004}))
	_, err := p.RunBatch(context.Background())
	require.NoError(t, err)

	store.addRaw(2, lamudiPayload(rawOpts{url: "https://x/3", region: "NCR", city: "Pasig", price: 6000000.001}))
	res, err := p.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Updated)
	assert.Equal(t, 0, res.PriceChanges)
	assert.Empty(t, store.snapshot().priceLog)
}

func TestPipeline_MissingLocationIsRejectedAndProcessed(t *testing.T) {
	store := newMemStore()
	store.addRaw(1, lamudiPayload(rawOpts{url: "https://x/1", region: "NCR", city: "Taguig", price: 6000000, noLocation: true}))

	res, err := newPipeline(store, &fakeCache{}, 50).RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Rejected)

	st := store.snapshot()
	assert.True(t, st.processed[1])
	assert.Empty(t, st.properties)
	assert.Empty(t, st.listings)
	assert.Empty(t, st.dims[domain.DimensionRegion])
	assert.Empty(t, st.dims[domain.DimensionCity])
}

func TestPipeline_ValidationFailureDoesNotStopBatch(t *testing.T) {
	store := newMemStore()
	fiveRecords(store, 3)

	res, err := newPipeline(store, &fakeCache{}, 50).RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, app.StateCommitted, res.State)
	assert.Equal(t, 4, res.Created)
	assert.Equal(t, 1, res.Rejected)

	st := store.snapshot()
	assert.Len(t, st.listings, 4)
	for id := int64(1); id <= 5; id++ {
		assert.True(t, st.processed[id], "raw %d processed", id)
	}
	for _, l := range st.listings {
		assert.NotEqual(t, "https://x/3", l.URL)
	}
}

func TestPipeline_StructuralFailureRollsBackEverything(t *testing.T) {
	store := newMemStore()
	fiveRecords(store, 0)
	store.failListing = func(l domain.Listing) error {
		if l.URL == "https://x/3" {
			return fmt.Errorf("connection reset: %w", domain.ErrStructural)
		}
		return nil
	}

	res, err := newPipeline(store, &fakeCache{}, 50).RunBatch(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsStructural(err))
	assert.Equal(t, app.StateRolledBack, res.State)
	assert.Equal(t, []int64{1, 2, 3}, res.RawIDs)

	st := store.snapshot()
	assert.Empty(t, st.processed)
	assert.Empty(t, st.properties)
	assert.Empty(t, st.listings)
	assert.Empty(t, st.dims[domain.DimensionRegion])
	assert.Equal(t, 0, store.commits)

	// the same batch succeeds verbatim once the fault is gone
	store.failListing = nil
	res, err = newPipeline(store, &fakeCache{}, 50).RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Created)
}

func TestPipeline_RecordErrorUndoesOnlyThatRecord(t *testing.T) {
	store := newMemStore()
	store.addRaw(1, lamudiPayload(rawOpts{url: "https://x/1", region: "NCR", city: "Taguig", price: 6000000}))
	store.addRaw(2, lamudiPayload(rawOpts{url: "https://x/2", region: "Cebu", city: "Lapu-Lapu", price: 7000000}))
	store.failListing = func(l domain.Listing) error {
		if l.URL == "https://x/2" {
			return errors.New("data too long for column 'title'")
		}
		return nil
	}

	res, err := newPipeline(store, &fakeCache{}, 50).RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 1, res.Failed)

	st := store.snapshot()
	assert.True(t, st.processed[2])
	assert.Len(t, st.properties, 1, "property of the failed record is rolled back")
	assert.NotContains(t, st.dims[domain.DimensionRegion], "R-Cebu")
}

func TestPipeline_FeatureBlobsNeverNull(t *testing.T) {
	store := newMemStore()
	store.addRaw(1, lamudiPayload(rawOpts{url: "https://x/1", region: "NCR", city: "Taguig", price: 6000000}))

	_, err := newPipeline(store, &fakeCache{}, 50).RunBatch(context.Background())
	require.NoError(t, err)

	for _, p := range store.snapshot().properties {
		assert.JSONEq(t, `{}`, string(p.Amenities))
		assert.JSONEq(t, `{}`, string(p.OutdoorFeatures))
		assert.JSONEq(t, `{}`, string(p.PropertyFeatures))
		assert.JSONEq(t, `["Balcony","Maid's room"]`, string(p.IndoorFeatures))
		assert.Equal(t, []string{"https://img.example/1.jpg"}, p.Images)
	}
}

func TestPipeline_FullBatchAndEmptyBatch(t *testing.T) {
	store := newMemStore()
	fiveRecords(store, 0)
	p := newPipeline(store, &fakeCache{}, 3)

	res, err := p.RunBatch(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Full)
	assert.Equal(t, 3, res.Fetched)

	res, err = p.RunBatch(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Full)
	assert.Equal(t, 2, res.Fetched)

	res, err = p.RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, app.StateCommitted, res.State)
	assert.Zero(t, res.Fetched)
}

func TestPipeline_EvictsTouchedPropertiesAfterCommit(t *testing.T) {
	store := newMemStore()
	cache := &fakeCache{}
	store.addRaw(1, lamudiPayload(rawOpts{url: "https://x/1", region: "NCR", city: "Taguig", price: 6000000}))

	res, err := newPipeline(store, cache, 50).RunBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, res.PropertyIDs, 1)
	assert.Contains(t, cache.dels, fmt.Sprintf("property:%d", res.PropertyIDs[0]))
	assert.Contains(t, cache.dels, "properties:cities")
}

func TestPipeline_CancelledContextRollsBack(t *testing.T) {
	store := newMemStore()
	fiveRecords(store, 0)
	ctx, cancel := context.WithCancel(context.Background())
	store.failListing = func(l domain.Listing) error {
		cancel()
		return ctx.Err()
	}

	res, err := newPipeline(store, &fakeCache{}, 50).RunBatch(ctx)
	require.Error(t, err)
	assert.Equal(t, app.StateRolledBack, res.State)
	assert.Empty(t, store.snapshot().processed)
}

func TestPipeline_DuplicateListingRetriedOnce(t *testing.T) {
	store := newMemStore()
	store.addRaw(1, lamudiPayload(rawOpts{url: "https://x/1", region: "NCR", city: "Taguig", price: 6000000}))
	calls := 0
	store.failListing = func(l domain.Listing) error {
		calls++
		return fmt.Errorf("Duplicate entry for key 'uq_listing_url_active': %w", domain.ErrDuplicateKey)
	}

	res, err := newPipeline(store, &fakeCache{}, 50).RunBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, res.Failed)
	st := store.snapshot()
	assert.True(t, st.processed[1])
	assert.Empty(t, st.properties)
}

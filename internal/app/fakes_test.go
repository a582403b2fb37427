package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"lamudi_ingest/internal/domain"
)

// ---- in-memory unit of work ----

type memState struct {
	dims       map[domain.DimensionKind]map[string]int64
	properties map[int64]domain.Property
	listings   map[int64]domain.Listing
	processed  map[int64]bool
	priceLog   []domain.PriceChange
	nextID     int64
}

func newState() memState {
	return memState{
		dims: map[domain.DimensionKind]map[string]int64{
			domain.DimensionRegion: {},
			domain.DimensionCity:   {},
			domain.DimensionArea:   {},
		},
		properties: map[int64]domain.Property{},
		listings:   map[int64]domain.Listing{},
		processed:  map[int64]bool{},
		nextID:     100,
	}
}

func (s memState) clone() memState {
	out := newState()
	for k, m := range s.dims {
		for key, id := range m {
			out.dims[k][key] = id
		}
	}
	for id, p := range s.properties {
		out.properties[id] = p
	}
	for id, l := range s.listings {
		out.listings[id] = l
	}
	for id, v := range s.processed {
		out.processed[id] = v
	}
	out.priceLog = append([]domain.PriceChange(nil), s.priceLog...)
	out.nextID = s.nextID
	return out
}

// memStore is a ReconcileStore whose transactions work on a private copy of
// the committed state; Commit publishes it, Rollback drops it.
type memStore struct {
	mu      sync.Mutex
	state   memState
	raws    []domain.RawRecord
	commits int

	// failListing, when set, can fail InsertListing for chosen listings.
	failListing func(l domain.Listing) error
}

func newMemStore() *memStore { return &memStore{state: newState()} }

func (m *memStore) addRaw(id int64, payload string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.raws = append(m.raws, domain.RawRecord{ID: id, JSON: []byte(payload)})
	sort.Slice(m.raws, func(i, j int) bool { return m.raws[i].ID < m.raws[j].ID })
}

func (m *memStore) snapshot() memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

func (m *memStore) BeginReconcile(ctx context.Context) (domain.ReconcileTx, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &memTx{store: m, work: m.state.clone(), sps: map[string]memState{}}, nil
}

type memTx struct {
	store  *memStore
	work   memState
	sps    map[string]memState
	closed bool
}

func (t *memTx) FetchPendingRaw(ctx context.Context, limit int) ([]domain.RawRecord, error) {
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	var out []domain.RawRecord
	for _, r := range t.store.raws {
		if len(out) == limit {
			break
		}
		if !t.work.processed[r.ID] {
			out = append(out, r)
		}
	}
	return out, nil
}

func (t *memTx) MarkProcessed(ctx context.Context, rawID int64) error {
	t.work.processed[rawID] = true
	return nil
}

func (t *memTx) Savepoint(ctx context.Context, name string) error {
	t.sps[name] = t.work.clone()
	return nil
}

func (t *memTx) RollbackToSavepoint(ctx context.Context, name string) error {
	st, ok := t.sps[name]
	if !ok {
		return fmt.Errorf("savepoint %s does not exist", name)
	}
	t.work = st.clone()
	return nil
}

func (t *memTx) Commit() error {
	if t.closed {
		return errors.New("tx closed")
	}
	t.closed = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	t.store.state = t.work
	t.store.commits++
	return nil
}

func (t *memTx) Rollback() error {
	t.closed = true
	return nil
}

func (t *memTx) FindDimension(ctx context.Context, kind domain.DimensionKind, key string) (int64, bool, error) {
	id, ok := t.work.dims[kind][key]
	return id, ok, nil
}

func (t *memTx) InsertDimension(ctx context.Context, d domain.Dimension) (int64, error) {
	if _, ok := t.work.dims[d.Kind][d.Key]; ok {
		return 0, domain.ErrDuplicateKey
	}
	t.work.nextID++
	t.work.dims[d.Kind][d.Key] = t.work.nextID
	return t.work.nextID, nil
}

func (t *memTx) FindListings(ctx context.Context, url, title string) ([]domain.ListingRef, error) {
	var out []domain.ListingRef
	for id, l := range t.work.listings {
		if l.URL == url || (title != "" && l.Title == title) {
			out = append(out, domain.ListingRef{ID: id, PropertyID: l.PropertyID, URL: l.URL, Title: l.Title, Price: l.Price})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memTx) InsertProperty(ctx context.Context, p domain.Property) (int64, error) {
	t.work.nextID++
	p.ID = t.work.nextID
	t.work.properties[p.ID] = p
	return p.ID, nil
}

func (t *memTx) InsertListing(ctx context.Context, l domain.Listing) (int64, error) {
	if t.store.failListing != nil {
		if err := t.store.failListing(l); err != nil {
			return 0, err
		}
	}
	t.work.nextID++
	l.ID = t.work.nextID
	t.work.listings[l.ID] = l
	return l.ID, nil
}

func (t *memTx) UpdateListingPrice(ctx context.Context, listingID int64, price float64, formatted string) error {
	l, ok := t.work.listings[listingID]
	if !ok {
		return domain.ErrNotFound
	}
	l.Price, l.PriceFormatted = price, formatted
	t.work.listings[listingID] = l
	return nil
}

func (t *memTx) UpdatePropertySnapshot(ctx context.Context, propertyID int64, s domain.PropertySnapshot) error {
	p, ok := t.work.properties[propertyID]
	if !ok {
		return domain.ErrNotFound
	}
	p.Images, p.AgentName, p.ProductOwnerName, p.ProjectName = s.Images, s.AgentName, s.ProductOwnerName, s.ProjectName
	t.work.properties[propertyID] = p
	return nil
}

func (t *memTx) AppendPriceChange(ctx context.Context, c domain.PriceChange) error {
	t.work.priceLog = append(t.work.priceLog, c)
	return nil
}

// ---- Lamudi payloads ----

type rawOpts struct {
	url        string
	title      string
	region     string
	city       string
	area       string
	price      any
	noLocation bool
}

func lamudiPayload(o rawOpts) string {
	if o.title == "" {
		o.title = "2BR Condo " + o.url
	}
	attrs := map[string]any{
		"attribute_set_name": "Condominium",
		"offer_type":         "Buy",
		"price":              o.price,
		"price_formatted":    fmt.Sprintf("PHP %v", o.price),
		"listing_region_id":  "R-" + o.region,
		"listing_city_id":    "C-" + o.city,
		"product_owner_name": "Owner Realty",
		"floor_size":         "45.5",
		"bedrooms":           2,
		"indoor_features":    `["Balcony","Maid's room"]`,
		"listing_address":    "5th Ave",
	}
	if o.area != "" {
		attrs["listing_area"] = o.area
		attrs["listing_area_id"] = "A-" + o.area
	}
	dl := map[string]any{
		"title":       o.title,
		"agent_name":  "Maria Agent",
		"description": map[string]any{"text": "Bright unit \U0001F3E0  near the park"},
		"attributes":  attrs,
	}
	if !o.noLocation {
		dl["location"] = map[string]any{"region": o.region, "city": o.city, "rooms_total": 3}
	}
	b, _ := json.Marshal(map[string]any{
		"listingUrl": o.url,
		"images":     []any{map[string]any{"src": "https://img.example/1.jpg", "type": "preload"}},
		"dataLayer":  dl,
	})
	return string(b)
}

// ---- cache / publisher ----

type fakeCache struct {
	mu    sync.Mutex
	store map[string][]byte
	dels  []string
}

func (c *fakeCache) Get(ctx context.Context, key string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.store[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(v, dst)
}

func (c *fakeCache) Set(ctx context.Context, key string, v any, ttlSec int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.store == nil {
		c.store = map[string][]byte{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.store[key] = b
	return nil
}

func (c *fakeCache) Del(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
	c.dels = append(c.dels, key)
	return nil
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []domain.Message
	err  error
}

func (p *fakePublisher) Publish(ctx context.Context, msg domain.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.sent = append(p.sent, msg)
	return msg.ID, nil
}

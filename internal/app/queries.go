package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"lamudi_ingest/internal/domain"
)

const (
	citiesKey    = "properties:cities"
	defaultLimit = 20
	maxLimit     = 100
)

func propertyKey(id int64) string { return fmt.Sprintf("property:%d", id) }

type QueryService struct {
	repo     domain.PropertyRepository
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(r domain.PropertyRepository, c domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{repo: r, cache: c, cacheTTL: ttl}
}

// SearchProperties clamps paging and sort to sane values before hitting the store.
func (s *QueryService) SearchProperties(ctx context.Context, f domain.PropertyFilter) (domain.PropertiesPage, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	switch f.Sort {
	case domain.SortNewest, domain.SortPriceAsc, domain.SortPriceDesc:
	default:
		f.Sort = domain.SortNewest
	}
	f.Query = strings.TrimSpace(f.Query)
	if f.MinPrice != nil && f.MaxPrice != nil && *f.MinPrice > *f.MaxPrice {
		return domain.PropertiesPage{}, fmt.Errorf("minPrice greater than maxPrice: %w", domain.ErrValidation)
	}

	page, err := s.repo.SearchProperties(ctx, f)
	if err != nil {
		return domain.PropertiesPage{}, err
	}
	if page.Items == nil {
		page.Items = []domain.PropertySummary{}
	}
	page.Pagination.Page, page.Pagination.Limit = f.Page, f.Limit
	page.Pagination.TotalPages = (page.Pagination.Total + f.Limit - 1) / f.Limit
	return page, nil
}

func (s *QueryService) GetProperty(ctx context.Context, id int64) (domain.PropertyView, error) {
	key := propertyKey(id)
	var pv domain.PropertyView
	if ok, _ := s.cache.Get(ctx, key, &pv); ok {
		return pv, nil
	}
	p, err := s.repo.GetProperty(ctx, id)
	if err != nil {
		return domain.PropertyView{}, err
	}
	hist, err := s.repo.PriceHistory(ctx, p.ListingID)
	if err != nil {
		return domain.PropertyView{}, err
	}
	if hist == nil {
		hist = []domain.PriceChange{}
	}
	p.PriceHistory = hist
	_ = s.cache.Set(ctx, key, p, int(s.cacheTTL.Seconds()))
	return p, nil
}

func (s *QueryService) ListCities(ctx context.Context) ([]domain.City, error) {
	var out []domain.City
	if ok, _ := s.cache.Get(ctx, citiesKey, &out); ok {
		return out, nil
	}
	cs, err := s.repo.ListCities(ctx)
	if err != nil {
		return nil, err
	}
	// copy so later repo mutations never leak into the cached value
	out = make([]domain.City, len(cs))
	copy(out, cs)
	_ = s.cache.Set(ctx, citiesKey, out, int(s.cacheTTL.Seconds()))
	return out, nil
}

func (s *QueryService) ListFavorites(ctx context.Context, userID string) ([]domain.PropertySummary, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("missing user id: %w", domain.ErrValidation)
	}
	out, err := s.repo.ListFavorites(ctx, userID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.PropertySummary{}
	}
	return out, nil
}

func (s *QueryService) AddFavorite(ctx context.Context, userID string, propertyID int64) error {
	if strings.TrimSpace(userID) == "" || propertyID <= 0 {
		return fmt.Errorf("user id and property id are required: %w", domain.ErrValidation)
	}
	if _, err := s.repo.GetProperty(ctx, propertyID); err != nil {
		return err
	}
	return s.repo.AddFavorite(ctx, userID, propertyID)
}

func (s *QueryService) RemoveFavorite(ctx context.Context, userID string, propertyID int64) error {
	if strings.TrimSpace(userID) == "" || propertyID <= 0 {
		return fmt.Errorf("user id and property id are required: %w", domain.ErrValidation)
	}
	return s.repo.RemoveFavorite(ctx, userID, propertyID)
}

package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"lamudi_ingest/internal/adapters/observability"
	"lamudi_ingest/internal/domain"
)

// Only these types get AI copy during backfill.
var backfillTypes = []domain.PropertyType{domain.PropertyCondominium, domain.PropertyWarehouse}

type DescriptionConfig struct {
	Limit     int           // properties per backfill run
	GroupSize int           // concurrent AI calls
	Cooldown  time.Duration // pause between groups
	Timeout   time.Duration // per AI call
}

type BackfillResult struct {
	Selected  int
	Generated int
	Failed    int
}

// DescriptionService fills Property.ai_generated_description. It is
// independent of the reconciliation pipeline and never touches its
// transactions.
type DescriptionService struct {
	store domain.DescriptionStore
	gen   domain.DescriptionGenerator
	cache domain.Cache
	cfg   DescriptionConfig
	sem   *semaphore.Weighted // shared by backfill and on-demand generation
	sleep func(ctx context.Context, d time.Duration) error
}

func NewDescriptionService(s domain.DescriptionStore, g domain.DescriptionGenerator, c domain.Cache, cfg DescriptionConfig) *DescriptionService {
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.GroupSize <= 0 {
		cfg.GroupSize = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &DescriptionService{
		store: s, gen: g, cache: c, cfg: cfg,
		sem:   semaphore.NewWeighted(int64(cfg.GroupSize)),
		sleep: sleepCtx,
	}
}

// Backfill generates descriptions for up to Limit properties lacking one,
// GroupSize at a time with Cooldown between groups. Per-property failures are
// logged and counted; only selection errors are returned.
func (s *DescriptionService) Backfill(ctx context.Context) (BackfillResult, error) {
	subjects, err := s.store.PropertiesMissingDescription(ctx, s.cfg.Limit, backfillTypes)
	if err != nil {
		return BackfillResult{}, fmt.Errorf("select properties: %w", err)
	}
	res := BackfillResult{Selected: len(subjects)}
	var generated, failed atomic.Int64

	for i := 0; i < len(subjects); i += s.cfg.GroupSize {
		end := min(i+s.cfg.GroupSize, len(subjects))
		var g errgroup.Group
		for _, subj := range subjects[i:end] {
			g.Go(func() error {
				if _, err := s.generate(ctx, subj); err != nil {
					failed.Add(1)
					log.Warn().Err(err).Int64("property_id", subj.PropertyID).Msg("ai description failed")
					return nil
				}
				generated.Add(1)
				return nil
			})
		}
		_ = g.Wait()

		if end < len(subjects) && s.cfg.Cooldown > 0 {
			if err := s.sleep(ctx, s.cfg.Cooldown); err != nil {
				break
			}
		}
	}

	res.Generated, res.Failed = int(generated.Load()), int(failed.Load())
	log.Info().Int("selected", res.Selected).Int("generated", res.Generated).Int("failed", res.Failed).
		Msg("ai description backfill done")
	return res, ctx.Err()
}

// GenerateFor regenerates the description of one property, replacing any
// existing one.
func (s *DescriptionService) GenerateFor(ctx context.Context, propertyID int64) ([]string, error) {
	subj, err := s.store.DescriptionSubject(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	return s.generate(ctx, subj)
}

func (s *DescriptionService) generate(ctx context.Context, subj domain.DescriptionSubject) ([]string, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	cctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	if subj.TypeName == "" {
		subj.TypeName = subj.Type.String()
	}
	reply, err := s.gen.GenerateDescription(cctx, subj)
	if err != nil {
		observability.ObserveAI("failed")
		return nil, fmt.Errorf("property %d: %w: %w", subj.PropertyID, domain.ErrCollaborator, err)
	}
	sections, err := ParseSections(reply)
	if err != nil {
		observability.ObserveAI("failed")
		return nil, fmt.Errorf("property %d: %w", subj.PropertyID, err)
	}
	b, err := json.Marshal(sections)
	if err != nil {
		return nil, err
	}
	if err := s.store.SaveDescription(ctx, subj.PropertyID, b); err != nil {
		observability.ObserveAI("failed")
		return nil, fmt.Errorf("save description for property %d: %w", subj.PropertyID, err)
	}
	observability.ObserveAI("ok")
	if s.cache != nil {
		_ = s.cache.Del(ctx, propertyKey(subj.PropertyID))
	}
	return sections, nil
}

// ParseSections decodes the copywriter reply: a JSON array of markdown
// strings, optionally wrapped in a ```json fence.
func ParseSections(reply string) ([]string, error) {
	s := strings.TrimSpace(reply)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if s == "" {
		return nil, fmt.Errorf("empty ai reply: %w", domain.ErrCollaborator)
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("invalid ai description format: %w: %v", domain.ErrCollaborator, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ai reply has no sections: %w", domain.ErrCollaborator)
	}
	return out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

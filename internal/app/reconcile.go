package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"lamudi_ingest/internal/adapters/observability"
	"lamudi_ingest/internal/domain"
)

// BatchState is the reconciliation state machine:
// Idle -> BatchFetching -> PerRecordProcessing -> Committing -> Committed | RolledBack.
type BatchState string

const (
	StateIdle                BatchState = "idle"
	StateBatchFetching       BatchState = "batch_fetching"
	StatePerRecordProcessing BatchState = "per_record_processing"
	StateCommitting          BatchState = "committing"
	StateCommitted           BatchState = "committed"
	StateRolledBack          BatchState = "rolled_back"
)

type recordOutcome string

const (
	outcomeCreated  recordOutcome = "created"
	outcomeUpdated  recordOutcome = "updated"
	outcomeRejected recordOutcome = "rejected"
	outcomeFailed   recordOutcome = "failed"
)

// BatchResult summarizes one RunBatch call.
type BatchResult struct {
	BatchID  string
	State    BatchState
	Fetched  int
	Full     bool // Fetched reached the batch size; more rows are likely pending
	Created  int
	Updated  int
	Rejected int // validation / quality filter
	Failed   int // other record-level errors

	PriceChanges int
	RawIDs       []int64 // attempted, in fetch order
	PropertyIDs  []int64 // touched by creates and updates
}

type PipelineConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	MatchTitle   bool
	Normalizer   Normalizer
}

// Pipeline reconciles pending raw records into properties and listings, one
// batch per unit of work.
type Pipeline struct {
	store domain.ReconcileStore
	cache domain.Cache
	cfg   PipelineConfig
	now   func() time.Time
}

func NewPipeline(store domain.ReconcileStore, cache domain.Cache, cfg PipelineConfig) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 2 * time.Minute
	}
	return &Pipeline{store: store, cache: cache, cfg: cfg, now: time.Now}
}

// RunBatch processes up to BatchSize pending raw records. Record-level
// failures are logged and the record is still marked processed; a structural
// failure rolls back the whole batch, processed flags included, and is
// returned.
func (p *Pipeline) RunBatch(ctx context.Context) (BatchResult, error) {
	res := BatchResult{BatchID: uuid.NewString(), State: StateIdle}
	lg := log.With().Str("batch_id", res.BatchID).Logger()
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, p.cfg.BatchTimeout)
	defer cancel()

	res.State = StateBatchFetching
	tx, err := p.store.BeginReconcile(ctx)
	if err != nil {
		res.State = StateRolledBack
		observability.ObserveBatch(string(res.State), time.Since(start))
		return res, fmt.Errorf("begin batch %s: %w", res.BatchID, err)
	}
	done := false
	defer func() {
		if !done {
			_ = tx.Rollback()
		}
	}()

	raws, err := tx.FetchPendingRaw(ctx, p.cfg.BatchSize)
	if err != nil {
		return p.abort(lg, tx, &res, &done, start, fmt.Errorf("fetch pending: %w", err))
	}
	res.Fetched = len(raws)
	res.Full = len(raws) >= p.cfg.BatchSize
	if len(raws) == 0 {
		if err := tx.Commit(); err != nil {
			done = true
			res.State = StateRolledBack
			return res, fmt.Errorf("commit empty batch: %w", err)
		}
		done = true
		res.State = StateCommitted
		observability.ObserveBatch("empty", time.Since(start))
		lg.Debug().Msg("no pending raw records")
		return res, nil
	}

	res.State = StatePerRecordProcessing
	for _, r := range raws {
		res.RawIDs = append(res.RawIDs, r.ID)
		if err := p.processRecord(ctx, lg, tx, r, &res); err != nil {
			return p.abort(lg, tx, &res, &done, start, err)
		}
	}

	res.State = StateCommitting
	if err := tx.Commit(); err != nil {
		done = true
		res.State = StateRolledBack
		observability.ObserveBatch(string(res.State), time.Since(start))
		lg.Error().Err(err).Ints64("raw_ids", res.RawIDs).Msg("commit failed; batch rolled back")
		return res, fmt.Errorf("commit batch %s: %w: %w", res.BatchID, domain.ErrStructural, err)
	}
	done = true
	res.State = StateCommitted
	observability.ObserveBatch(string(res.State), time.Since(start))

	p.evict(context.WithoutCancel(ctx), &res)
	lg.Info().
		Int("fetched", res.Fetched).Int("created", res.Created).Int("updated", res.Updated).
		Int("rejected", res.Rejected).Int("failed", res.Failed).Int("price_changes", res.PriceChanges).
		Dur("took", time.Since(start)).Msg("batch committed")
	return res, nil
}

func (p *Pipeline) abort(lg zerolog.Logger, tx domain.ReconcileTx, res *BatchResult, done *bool, start time.Time, cause error) (BatchResult, error) {
	if err := tx.Rollback(); err != nil {
		lg.Warn().Err(err).Msg("rollback")
	}
	*done = true
	res.State = StateRolledBack
	observability.ObserveBatch(string(res.State), time.Since(start))
	lg.Error().Err(cause).Ints64("raw_ids", res.RawIDs).Msg("structural failure; batch rolled back")

	// counters describe work that no longer exists
	res.Created, res.Updated, res.Rejected, res.Failed, res.PriceChanges = 0, 0, 0, 0, 0
	res.PropertyIDs = nil
	if !domain.IsStructural(cause) {
		cause = fmt.Errorf("%w: %w", domain.ErrStructural, cause)
	}
	return *res, fmt.Errorf("batch %s: %w", res.BatchID, cause)
}

// processRecord runs one raw record inside its own savepoint. Only structural
// errors are returned.
func (p *Pipeline) processRecord(ctx context.Context, lg zerolog.Logger, tx domain.ReconcileTx, r domain.RawRecord, res *BatchResult) error {
	sp := fmt.Sprintf("raw_%d", r.ID)
	if err := tx.Savepoint(ctx, sp); err != nil {
		return fmt.Errorf("savepoint for raw %d: %w", r.ID, err)
	}

	var (
		outcome      recordOutcome
		propertyID   int64
		priceChanged bool
		err          error
	)
	for attempt := 0; ; attempt++ {
		outcome, propertyID, priceChanged, err = p.apply(ctx, tx, r)
		if err == nil {
			break
		}
		if domain.IsStructural(err) {
			return fmt.Errorf("raw %d: %w", r.ID, err)
		}
		if rbErr := tx.RollbackToSavepoint(ctx, sp); rbErr != nil {
			return fmt.Errorf("rollback to savepoint for raw %d: %w: %w", r.ID, domain.ErrStructural, rbErr)
		}
		// a concurrent batch created the same live url; it is visible now
		if errors.Is(err, domain.ErrDuplicateKey) && attempt == 0 {
			lg.Debug().Err(err).Int64("raw_id", r.ID).Msg("listing created concurrently, retrying as update")
			continue
		}
		lg.Warn().Err(err).Int64("raw_id", r.ID).Str("outcome", string(outcome)).Msg("raw record skipped")
		propertyID, priceChanged = 0, false
		break
	}

	if err := tx.MarkProcessed(ctx, r.ID); err != nil {
		// losing track of a record is never acceptable; redo the batch
		return fmt.Errorf("mark raw %d processed: %w: %w", r.ID, domain.ErrStructural, err)
	}

	observability.ObserveRecord(string(outcome))
	switch outcome {
	case outcomeCreated:
		res.Created++
	case outcomeUpdated:
		res.Updated++
	case outcomeRejected:
		res.Rejected++
	case outcomeFailed:
		res.Failed++
	}
	if priceChanged {
		res.PriceChanges++
	}
	if propertyID != 0 {
		res.PropertyIDs = append(res.PropertyIDs, propertyID)
	}
	return nil
}

func (p *Pipeline) apply(ctx context.Context, tx domain.ReconcileTx, r domain.RawRecord) (recordOutcome, int64, bool, error) {
	rec, err := p.cfg.Normalizer.Normalize(r)
	if err != nil {
		return outcomeRejected, 0, false, err
	}
	fail := func(err error) (recordOutcome, int64, bool, error) {
		if errors.Is(err, domain.ErrValidation) {
			return outcomeRejected, 0, false, err
		}
		return outcomeFailed, 0, false, err
	}

	ids, err := ResolveLocation(ctx, tx, rec.Location)
	if err != nil {
		return fail(err)
	}
	if err := VerifyLocation(ctx, tx, rec.Location, ids); err != nil {
		return fail(err)
	}

	existing, err := FindExistingListing(ctx, tx, rec.URL, rec.Title, p.cfg.MatchTitle)
	if err != nil {
		return fail(err)
	}
	if existing != nil {
		changed, err := UpdatePropertyAndListing(ctx, tx, *existing, rec, p.now())
		if err != nil {
			return fail(err)
		}
		return outcomeUpdated, existing.PropertyID, changed, nil
	}

	propertyID, listingID, err := CreatePropertyAndListing(ctx, tx, rec, ids)
	if err != nil {
		return fail(err)
	}
	log.Debug().Int64("raw_id", r.ID).Int64("property_id", propertyID).Int64("listing_id", listingID).Msg("listing created")
	return outcomeCreated, propertyID, false, nil
}

// evict drops read-side cache entries the committed batch made stale.
func (p *Pipeline) evict(ctx context.Context, res *BatchResult) {
	if p.cache == nil {
		return
	}
	for _, id := range res.PropertyIDs {
		_ = p.cache.Del(ctx, propertyKey(id))
	}
	if res.Created > 0 {
		_ = p.cache.Del(ctx, citiesKey)
	}
}

package importer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	apperrors "curio-backend/internal/errors"
)

// MaxBatchSize caps one batch request.
const MaxBatchSize = 50

// batchParallelism bounds concurrent imports within one batch.
const batchParallelism = 3

// BatchStatus is the batch lifecycle state.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchRunning   BatchStatus = "running"
	BatchComplete  BatchStatus = "complete"
	BatchCancelled BatchStatus = "cancelled"
)

// ItemStatus is the per-URL state within a batch.
type ItemStatus string

const (
	ItemPending   ItemStatus = "pending"
	ItemRunning   ItemStatus = "running"
	ItemComplete  ItemStatus = "complete"
	ItemFailed    ItemStatus = "failed"
	ItemCancelled ItemStatus = "cancelled"
)

// BatchItem is one URL's outcome.
type BatchItem struct {
	URL    string     `json:"url"`
	Status ItemStatus `json:"status"`
	NodeID string     `json:"nodeId,omitempty"`
	Cached bool       `json:"cached,omitempty"`
	Error  string     `json:"error,omitempty"`
}

// Batch is a snapshot of one batch import.
type Batch struct {
	ID          string      `json:"id"`
	Status      BatchStatus `json:"status"`
	Items       []BatchItem `json:"items"`
	Succeeded   int         `json:"succeeded"`
	Failed      int         `json:"failed"`
	CreatedAt   time.Time   `json:"createdAt"`
	CompletedAt *time.Time  `json:"completedAt,omitempty"`
}

// batchState is the live, mutex-guarded record behind a Batch snapshot.
type batchState struct {
	mu     sync.Mutex
	batch  Batch
	cancel context.CancelFunc
}

func (b *batchState) snapshot() *Batch {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.batch
	out.Items = make([]BatchItem, len(b.batch.Items))
	copy(out.Items, b.batch.Items)
	return &out
}

func (b *batchState) setItem(i int, mutate func(*BatchItem)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mutate(&b.batch.Items[i])
	switch b.batch.Items[i].Status {
	case ItemComplete:
		b.batch.Succeeded++
	case ItemFailed:
		b.batch.Failed++
	}
}

// batchRegistry holds batches in memory. Batches are single-tenant
// session state; they do not survive a restart.
type batchRegistry struct {
	mu      sync.RWMutex
	batches map[string]*batchState
}

func newBatchRegistry() *batchRegistry {
	return &batchRegistry{batches: make(map[string]*batchState)}
}

func (r *batchRegistry) put(b *batchState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[b.batch.ID] = b
}

func (r *batchRegistry) get(id string) (*batchState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[id]
	return b, ok
}

// StartBatch launches the batch and returns its id immediately. Items
// run in the background with bounded parallelism; the batch outlives
// the request context that started it.
func (s *Service) StartBatch(ctx context.Context, urls []string, opts Options) (*Batch, error) {
	if len(urls) == 0 {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "batch contains no URLs").Build()
	}
	if len(urls) > MaxBatchSize {
		return nil, apperrors.Validation(apperrors.CodeInvalidInput, "batch exceeds the URL limit").
			WithContext("urls", len(urls)).
			WithContext("limit", MaxBatchSize).
			Build()
	}

	items := make([]BatchItem, len(urls))
	for i, u := range urls {
		items[i] = BatchItem{URL: u, Status: ItemPending}
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	state := &batchState{
		batch: Batch{
			ID:        uuid.New().String(),
			Status:    BatchPending,
			Items:     items,
			CreatedAt: time.Now().UTC(),
		},
		cancel: cancel,
	}
	s.batches.put(state)

	go s.runBatch(runCtx, state, urls, opts)
	return state.snapshot(), nil
}

func (s *Service) runBatch(ctx context.Context, state *batchState, urls []string, opts Options) {
	state.mu.Lock()
	state.batch.Status = BatchRunning
	state.mu.Unlock()

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchParallelism)
	for i, raw := range urls {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				state.setItem(i, func(it *BatchItem) { it.Status = ItemCancelled })
				return nil
			}
			state.setItem(i, func(it *BatchItem) { it.Status = ItemRunning })

			result, err := s.Import(ctx, raw, opts)
			switch {
			case err != nil && ctx.Err() != nil:
				state.setItem(i, func(it *BatchItem) { it.Status = ItemCancelled })
			case err != nil:
				state.setItem(i, func(it *BatchItem) {
					it.Status = ItemFailed
					it.Error = err.Error()
				})
			default:
				state.setItem(i, func(it *BatchItem) {
					it.Status = ItemComplete
					it.NodeID = result.NodeID
					it.Cached = result.Cached
				})
			}
			// Item failures never abort the batch.
			return nil
		})
	}
	_ = g.Wait()

	state.mu.Lock()
	now := time.Now().UTC()
	if ctx.Err() != nil {
		state.batch.Status = BatchCancelled
	} else {
		state.batch.Status = BatchComplete
	}
	state.batch.CompletedAt = &now
	done := state.batch
	state.mu.Unlock()

	s.logger.Info("batch import finished",
		zap.String("batchId", done.ID),
		zap.String("status", string(done.Status)),
		zap.Int("urls", len(urls)),
		zap.Int("succeeded", done.Succeeded),
		zap.Int("failed", done.Failed))
}

// GetBatch returns a snapshot of one batch.
func (s *Service) GetBatch(id string) (*Batch, error) {
	state, ok := s.batches.get(id)
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeResourceNotFound, "unknown batch").
			WithContext("batchId", id).
			Build()
	}
	return state.snapshot(), nil
}

// CancelBatch stops scheduling new items. Items already finished keep
// their results; items in flight run to completion.
func (s *Service) CancelBatch(id string) (*Batch, error) {
	state, ok := s.batches.get(id)
	if !ok {
		return nil, apperrors.NotFound(apperrors.CodeResourceNotFound, "unknown batch").
			WithContext("batchId", id).
			Build()
	}
	state.cancel()
	return state.snapshot(), nil
}

package core

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"chunkledger/internal/blob"
	"chunkledger/internal/config"
	"chunkledger/internal/datatype"
	"chunkledger/internal/infra/persistence/sqlstore"
	"chunkledger/internal/logging"
	"chunkledger/internal/maintenance"
	"chunkledger/internal/pipeline"
	"chunkledger/pkg/ledger"
)

// Service exposes the ledger, queue and pipeline operations behind one handle.
type Service struct {
	store   ledger.Store
	blobs   blob.Store
	cfg     config.PipelineConfig
	metrics *pipeline.Metrics
	maint   *maintenance.Maintainer
	log     zerolog.Logger
}

// NewService constructs a service over an opened ledger and object store.
func NewService(store ledger.Store, blobs blob.Store, cfg config.PipelineConfig) *Service {
	return &Service{
		store:   store,
		blobs:   blobs,
		cfg:     cfg,
		metrics: pipeline.NewMetrics(),
		maint:   maintenance.New(store, blobs, cfg.RawPrefix),
		log:     logging.With().Str("component", "service").Logger(),
	}
}

// Open builds a service from a full configuration: it opens the ledger and
// the object store and wraps the latter with retries and a circuit breaker.
func Open(ctx context.Context, cfg *config.Config) (*Service, error) {
	store, err := OpenLedger(ctx, cfg.Ledger, sqlstore.WithRemoveBatchSize(cfg.Pipeline.RemoveBatchSize))
	if err != nil {
		return nil, errors.Wrap(err, "open ledger")
	}
	blobs, err := blob.Open(ctx, cfg.Blob)
	if err != nil {
		_ = store.Close()
		return nil, errors.Wrap(err, "open object store")
	}
	return NewService(store, blob.NewResilient(blobs, cfg.Resilience), cfg.Pipeline), nil
}

// Store returns the underlying ledger.
func (s *Service) Store() ledger.Store { return s.store }

// Blobs returns the object store.
func (s *Service) Blobs() blob.Store { return s.blobs }

// Metrics returns the collectors every Process call records into.
func (s *Service) Metrics() *pipeline.Metrics { return s.metrics }

// Process runs one pipeline pass.
func (s *Service) Process(ctx context.Context, opts ...pipeline.Option) (pipeline.Report, error) {
	opts = append([]pipeline.Option{pipeline.WithMetrics(s.metrics)}, opts...)
	return pipeline.New(s.store, s.blobs, s.cfg, opts...).Run(ctx)
}

// Enqueue queues the raw upload at key. Study, participant and data type
// come from the key itself.
func (s *Service) Enqueue(ctx context.Context, key string) (bool, error) {
	rk, err := datatype.ParseRawKey(s.cfg.RawPrefix, key)
	if err != nil {
		return false, err
	}
	return s.store.Enqueue(ctx, rk.Key, rk.Study, rk.Participant, rk.Type)
}

// EnqueueAll queues every key and reports how many were added. Keys that
// fail are collected and do not stop the others.
func (s *Service) EnqueueAll(ctx context.Context, keys []string) (int, error) {
	var (
		added int
		errs  *multierror.Error
	)
	for _, key := range keys {
		ok, err := s.Enqueue(ctx, key)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if ok {
			added++
		}
	}
	return added, errs.ErrorOrNil()
}

// Chunks lists ledger rows matching f.
func (s *Service) Chunks(ctx context.Context, f ledger.ChunkFilter) ([]ledger.Chunk, error) {
	return s.store.ListChunks(ctx, f)
}

// ChunkURL pre-signs a download URL for a registered chunk.
func (s *Service) ChunkURL(ctx context.Context, path string, expiry time.Duration) (string, error) {
	if _, err := s.store.GetChunk(ctx, path); err != nil {
		return "", err
	}
	return s.blobs.PresignURL(ctx, path, blob.SignedURLOptions{Method: "GET", Expiry: expiry})
}

// LockStatus reports the current run lock lease.
func (s *Service) LockStatus(ctx context.Context) (ledger.LockInfo, bool, error) {
	return s.store.LockStatus(ctx)
}

// ForceReleaseLock drops the run lock regardless of its holder.
func (s *Service) ForceReleaseLock(ctx context.Context) (bool, error) {
	released, err := s.store.ForceReleaseLock(ctx)
	if err == nil && released {
		s.log.Warn().Msg("run lock force-released by operator")
	}
	return released, err
}

// RegisterSurvey creates or updates the survey record chunks refer to.
func (s *Service) RegisterSurvey(ctx context.Context, sv ledger.Survey) (ledger.Survey, error) {
	if sv.ObjectID == "" {
		return ledger.Survey{}, errors.New("survey object id is required")
	}
	return s.store.UpsertSurvey(ctx, sv)
}

// Backfill enqueues raw objects under prefix, or under the raw prefix when empty.
func (s *Service) Backfill(ctx context.Context, prefix string) (maintenance.BackfillReport, error) {
	if prefix == "" {
		prefix = s.cfg.RawPrefix
	}
	return s.maint.Backfill(ctx, prefix)
}

// DedupeChunks collapses duplicate chunk paths so the unique index can be built.
func (s *Service) DedupeChunks(ctx context.Context) (maintenance.DedupeReport, error) {
	return s.maint.DedupeChunks(ctx)
}

// Close releases the ledger connection.
func (s *Service) Close() error { return s.store.Close() }

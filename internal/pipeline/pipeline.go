// Package pipeline runs one ingestion pass: it takes the run lock, drains the
// work queue participant by participant and merges every page of raw
// uploads into hourly chunks.
//
// Object store reads and writes run on a bounded worker pool. Parsing,
// normalization, binning and merging happen on the pass goroutine, so all
// merges for one chunk path within a page are sequential and each path is
// written at most once per page.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"chunkledger/internal/blob"
	"chunkledger/internal/config"
	"chunkledger/internal/logging"
	"chunkledger/internal/maintenance"
	"chunkledger/pkg/ledger"
)

// Pipeline merges queued raw uploads into chunks.
type Pipeline struct {
	store   ledger.Store
	blobs   blob.Store
	cfg     config.PipelineConfig
	metrics *Metrics
	maint   *maintenance.Maintainer
	holder  func() string
	now     func() time.Time
	log     zerolog.Logger
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithMetrics records pass metrics into m.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithHolder overrides how run lock holder ids are generated.
func WithHolder(fn func() string) Option {
	return func(p *Pipeline) { p.holder = fn }
}

// WithClock overrides the time source used for durations.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a Pipeline over a ledger and an object store.
func New(store ledger.Store, blobs blob.Store, cfg config.PipelineConfig, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:  store,
		blobs:  blobs,
		cfg:    cfg,
		maint:  maintenance.New(store, blobs, cfg.RawPrefix),
		holder: func() string { return "pass-" + uuid.NewString() },
		now:    time.Now,
		log:    logging.With().Str("component", "pipeline").Logger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.metrics == nil {
		p.metrics = NewMetrics()
	}
	if p.cfg.PageSize <= 0 {
		p.cfg.PageSize = 100
	}
	if p.cfg.MaxConsecutiveFailures <= 0 {
		p.cfg.MaxConsecutiveFailures = 1
	}
	if p.cfg.LockTTL <= 0 {
		p.cfg.LockTTL = 10 * time.Minute
	}
	return p
}

// Metrics returns the collectors the pipeline records into.
func (p *Pipeline) Metrics() *Metrics { return p.metrics }

// Report summarizes one pass.
type Report struct {
	Holder          string
	Participants    int
	Files           int
	Removed         int
	BadFiles        int
	Retryable       int
	ChunksCreated   int
	ChunksUpdated   int
	ChunksUnchanged int
	Registered      int
	RowsDropped     int
	Duration        time.Duration
}

func (r *Report) add(o Report) {
	r.Files += o.Files
	r.Removed += o.Removed
	r.BadFiles += o.BadFiles
	r.Retryable += o.Retryable
	r.ChunksCreated += o.ChunksCreated
	r.ChunksUpdated += o.ChunksUpdated
	r.ChunksUnchanged += o.ChunksUnchanged
	r.Registered += o.Registered
	r.RowsDropped += o.RowsDropped
}

// Run executes one pass. It fails with *ledger.ProcessingOverlapError before
// doing any work when another pass holds the run lock. Non-fatal errors are
// returned together as *PassError after the lock is released.
func (p *Pipeline) Run(ctx context.Context) (rep Report, err error) {
	start := p.now()
	rep.Holder = p.holder()
	l, err := acquireLease(ctx, p.store, rep.Holder, p.cfg.LockTTL, p.log)
	if err != nil {
		return rep, err
	}

	passCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	l.keepAlive(passCtx, cancel)
	defer func() {
		if relErr := l.release(context.WithoutCancel(ctx)); relErr != nil {
			p.log.Error().Err(relErr).Str("holder", rep.Holder).Msg("run lock release failed")
			if err == nil {
				err = relErr
			}
		}
	}()

	surveys, err := newSurveyResolver(p.store, p.cfg.SurveyCacheSize, p.log)
	if err != nil {
		return rep, err
	}
	ps := &pass{Pipeline: p, errs: &ErrorCollector{}, surveys: surveys}

	participants, err := p.store.ParticipantsWithPending(passCtx)
	if err != nil {
		return rep, errors.Wrap(err, "list participants")
	}
	rep.Participants = len(participants)
	for _, part := range participants {
		if passCtx.Err() != nil {
			ps.errs.Add(context.Cause(passCtx))
			break
		}
		rep.add(ps.participant(passCtx, part))
	}

	rep.Duration = p.now().Sub(start)
	p.metrics.PassDuration.Observe(rep.Duration.Seconds())
	if ps.errs.Len() == 0 {
		p.metrics.LastSuccess.Set(float64(p.now().Unix()))
	}
	p.log.Info().
		Int("participants", rep.Participants).
		Int("files", rep.Files).
		Int("removed", rep.Removed).
		Int("bad_files", rep.BadFiles).
		Int("chunks", rep.ChunksCreated+rep.ChunksUpdated).
		Int("errors", ps.errs.Len()).
		Dur("duration", rep.Duration).
		Msg("pass finished")
	return rep, ps.errs.Err()
}

// pass is the state shared by every page of one Run.
type pass struct {
	*Pipeline
	errs    *ErrorCollector
	surveys *surveyResolver
}

// participant drains one participant's queue. Items that stay queued are
// skipped through the offset, so broken uploads never hide the ones behind
// them. Only pages that remove nothing while the ledger or object store is
// failing count toward MaxConsecutiveFailures.
func (ps *pass) participant(ctx context.Context, part ledger.Participant) Report {
	start := ps.now()
	var rep Report
	offset, failures := 0, 0
	for ctx.Err() == nil {
		items, err := ps.store.ListPending(ctx, part.ParticipantID, ps.cfg.PageSize, offset)
		if err != nil {
			ps.errs.Add(errors.Wrapf(err, "participant %s", part.ParticipantID))
			break
		}
		if len(items) == 0 {
			break
		}
		pr := ps.page(ctx, part, items)
		rep.add(pr)
		offset += pr.BadFiles
		if pr.Removed == 0 && pr.Retryable > 0 {
			failures++
			if failures >= ps.cfg.MaxConsecutiveFailures {
				ps.log.Warn().
					Str("participant", part.ParticipantID).
					Int("pages", failures).
					Msg("giving up on participant after consecutive failing pages")
				break
			}
		} else {
			failures = 0
		}
	}
	ps.log.Info().
		Str("study", part.StudyID).
		Str("participant", part.ParticipantID).
		Int("files", rep.Files).
		Int("chunks", rep.ChunksCreated+rep.ChunksUpdated).
		Int("bad_files", rep.BadFiles).
		Dur("duration", ps.now().Sub(start)).
		Msg("participant processed")
	return rep
}

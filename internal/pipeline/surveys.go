package pipeline

import (
	"context"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"chunkledger/pkg/ledger"
)

// surveyResolver maps survey object ids from raw keys to ledger survey ids.
// Unknown surveys resolve to 0 and are cached as such for the pass.
type surveyResolver struct {
	store ledger.Surveys
	cache *lru.Cache
	log   zerolog.Logger
}

func newSurveyResolver(store ledger.Surveys, size int, log zerolog.Logger) (*surveyResolver, error) {
	if size <= 0 {
		size = 256
	}
	cache, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "survey cache")
	}
	return &surveyResolver{store: store, cache: cache, log: log}, nil
}

func (r *surveyResolver) resolve(ctx context.Context, objectID string) (int64, error) {
	if objectID == "" {
		return 0, nil
	}
	if v, ok := r.cache.Get(objectID); ok {
		return v.(int64), nil
	}
	sv, err := r.store.SurveyByObjectID(ctx, objectID)
	if errors.Is(err, ledger.ErrNotFound) {
		r.log.Warn().Str("survey", objectID).Msg("survey not registered, chunk stored without survey reference")
		r.cache.Add(objectID, int64(0))
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	r.cache.Add(objectID, sv.ID)
	return sv.ID, nil
}

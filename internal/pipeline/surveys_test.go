package pipeline

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chunkledger/pkg/ledger"
)

type countingSurveys struct {
	known   map[string]int64
	lookups int
}

func (c *countingSurveys) SurveyByObjectID(_ context.Context, objectID string) (ledger.Survey, error) {
	c.lookups++
	id, ok := c.known[objectID]
	if !ok {
		return ledger.Survey{}, errors.Wrapf(ledger.ErrNotFound, "survey %s", objectID)
	}
	return ledger.Survey{ID: id, ObjectID: objectID}, nil
}

func (c *countingSurveys) UpsertSurvey(_ context.Context, s ledger.Survey) (ledger.Survey, error) {
	return s, nil
}

func TestSurveyResolver_CachesHitsAndMisses(t *testing.T) {
	store := &countingSurveys{known: map[string]int64{"sv1": 7}}
	r, err := newSurveyResolver(store, 0, zerolog.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		id, err := r.resolve(ctx, "sv1")
		require.NoError(t, err)
		assert.Equal(t, int64(7), id)

		id, err = r.resolve(ctx, "missing")
		require.NoError(t, err)
		assert.Zero(t, id)
	}
	assert.Equal(t, 2, store.lookups)

	id, err := r.resolve(ctx, "")
	require.NoError(t, err)
	assert.Zero(t, id)
	assert.Equal(t, 2, store.lookups)
}

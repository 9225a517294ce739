package usecase_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/txstream/internal/infrastructure/metrics"
	"github.com/iho/txstream/internal/usecase"
	"github.com/iho/txstream/internal/usecase/mocks"
)

func TestRetentionUseCase_PrunesOnlyPublished(t *testing.T) {
	store := mocks.NewMemoryStore()

	published := unpublished("old-published", 48*time.Hour)
	at := time.Now().UTC().Add(-47 * time.Hour)
	published.PublishedAt = &at
	store.PutRecord(published)
	store.PutRecord(unpublished("old-unpublished", 48*time.Hour))

	recent := unpublished("recent-published", time.Hour)
	recent.PublishedAt = &at
	store.PutRecord(recent)

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	uc := usecase.NewRetentionUseCase(store, m)

	deleted, err := uc.Prune(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	assert.Nil(t, store.Record("old-published"))
	assert.NotNil(t, store.Record("old-unpublished"), "unpublished outcomes survive retention")
	assert.NotNil(t, store.Record("recent-published"))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecordsPruned))
}

func TestRetentionUseCase_RejectsNonPositiveRetention(t *testing.T) {
	uc := usecase.NewRetentionUseCase(mocks.NewMemoryStore(), nil)

	_, err := uc.Prune(context.Background(), 0)
	assert.Error(t, err)
}

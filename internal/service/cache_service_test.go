package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	appErrors "github.com/noah-isme/clinic-queue-api/pkg/errors"
)

type memCacheRepo struct {
	store  map[string][]byte
	ttls   map[string]time.Duration
	getErr error
}

func (m *memCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return m.getErr
	}
	payload, ok := m.store[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(payload, dest)
}

func (m *memCacheRepo) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	if m.store == nil {
		m.store = map[string][]byte{}
		m.ttls = map[string]time.Duration{}
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.store[key] = payload
	m.ttls[key] = ttl
	return nil
}

func (m *memCacheRepo) Delete(_ context.Context, key string) error {
	delete(m.store, key)
	return nil
}

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := &memCacheRepo{}
	svc := NewCacheService(repo, NewMetricsService(), 2*time.Minute, zap.NewNop(), true)
	ctx := context.Background()

	var out float64
	hit, err := svc.Get(ctx, "avg:p", &out)
	require.NoError(t, err)
	assert.False(t, hit)

	require.NoError(t, svc.Set(ctx, "avg:p", 17.5, 0))
	assert.Equal(t, 2*time.Minute, repo.ttls["avg:p"])

	hit, err = svc.Get(ctx, "avg:p", &out)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, 17.5, out)

	require.NoError(t, svc.Invalidate(ctx, "avg:p"))
	hit, _ = svc.Get(ctx, "avg:p", &out)
	assert.False(t, hit)
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := &memCacheRepo{}
	svc := NewCacheService(repo, nil, time.Minute, nil, false)
	assert.False(t, svc.Enabled())
	require.NoError(t, svc.Set(context.Background(), "k", 1, 0))
	assert.Empty(t, repo.store)

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
}

func TestCacheServiceSurfacesBackendErrors(t *testing.T) {
	repo := &memCacheRepo{getErr: errors.New("connection refused")}
	svc := NewCacheService(repo, nil, time.Minute, zap.NewNop(), true)
	var out float64
	hit, err := svc.Get(context.Background(), "k", &out)
	assert.False(t, hit)
	assert.Error(t, err)
}

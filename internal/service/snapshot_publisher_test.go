package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/clinic-queue-api/internal/models"
	"github.com/noah-isme/clinic-queue-api/internal/repository"
	appErrors "github.com/noah-isme/clinic-queue-api/pkg/errors"
)

type stubSnapshotStore struct {
	byProvider map[string][]models.QueueEntry
	byLocation map[string][]models.QueueEntry
	counts     models.StatusCounts
	scopes     []repository.QueueScope
	listErr    error
	// duringCount runs once, inside the next CountByStatus call.
	duringCount func()
}

func (s *stubSnapshotStore) ListActiveByProvider(_ context.Context, providerID string) ([]models.QueueEntry, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	return s.byProvider[providerID], nil
}

func (s *stubSnapshotStore) ListActiveByLocation(_ context.Context, locationID string) ([]models.QueueEntry, error) {
	return s.byLocation[locationID], nil
}

func (s *stubSnapshotStore) CountByStatus(_ context.Context, scope repository.QueueScope, _ time.Time) (models.StatusCounts, error) {
	s.scopes = append(s.scopes, scope)
	if hook := s.duringCount; hook != nil {
		s.duringCount = nil
		hook()
	}
	return s.counts, nil
}

type stubChannel struct {
	mu        sync.Mutex
	published []models.QueueSnapshot
	err       error
	incoming  chan models.QueueSnapshot
}

func (c *stubChannel) Publish(_ context.Context, snapshot models.QueueSnapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.published = append(c.published, snapshot)
	return nil
}

func (c *stubChannel) Listen(ctx context.Context, handle func(models.QueueSnapshot)) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case snapshot := <-c.incoming:
			handle(snapshot)
		}
	}
}

func providerSnapshot(providerID string, n int) models.QueueSnapshot {
	return models.QueueSnapshot{ProviderID: providerID, Counts: models.StatusCounts{models.QueueStatusWaiting: n}}
}

func TestSnapshotRegistryDeliversPerTopic(t *testing.T) {
	metrics := NewMetricsService()
	registry := NewSnapshotRegistry(2, metrics)
	p1 := registry.Subscribe(models.ProviderTopic("p1"))
	p1b := registry.Subscribe(models.ProviderTopic("p1"))
	p2 := registry.Subscribe(models.ProviderTopic("p2"))

	assert.Equal(t, 2, registry.Count(models.ProviderTopic("p1")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.subscribers))

	delivered := registry.Deliver(providerSnapshot("p1", 1))
	assert.Equal(t, 2, delivered)

	got := <-p1.C
	assert.Equal(t, "p1", got.ProviderID)
	got = <-p1b.C
	assert.Equal(t, "p1", got.ProviderID)
	select {
	case <-p2.C:
		t.Fatal("p2 must not receive p1 snapshots")
	default:
	}
}

func TestSnapshotRegistryDropsOldestWhenFull(t *testing.T) {
	registry := NewSnapshotRegistry(2, nil)
	sub := registry.Subscribe(models.ProviderTopic("p1"))

	for i := 1; i <= 4; i++ {
		assert.Equal(t, 1, registry.Deliver(providerSnapshot("p1", i)))
	}

	first := <-sub.C
	second := <-sub.C
	assert.Equal(t, 3, first.Counts[models.QueueStatusWaiting])
	assert.Equal(t, 4, second.Counts[models.QueueStatusWaiting])
}

func TestSnapshotRegistryUnsubscribeIsIdempotent(t *testing.T) {
	registry := NewSnapshotRegistry(1, nil)
	sub := registry.Subscribe(models.LocationTopic("loc"))
	require.True(t, registry.HasSubscribers(models.LocationTopic("loc")))

	registry.Unsubscribe(sub)
	registry.Unsubscribe(sub)
	registry.Unsubscribe(nil)

	assert.False(t, registry.HasSubscribers(models.LocationTopic("loc")))
	_, open := <-sub.C
	assert.False(t, open)
	assert.Equal(t, 0, registry.Deliver(models.QueueSnapshot{LocationID: "loc"}))
}

func TestRedisBroadcasterFallsBackToLocal(t *testing.T) {
	registry := NewSnapshotRegistry(1, nil)
	sub := registry.Subscribe(models.ProviderTopic("p1"))
	channel := &stubChannel{err: errors.New("redis down")}
	broadcaster := NewRedisBroadcaster(channel, registry, zap.NewNop())

	err := broadcaster.Broadcast(context.Background(), providerSnapshot("p1", 1))
	assert.Error(t, err)
	select {
	case got := <-sub.C:
		assert.Equal(t, "p1", got.ProviderID)
	default:
		t.Fatal("expected local delivery")
	}
}

func TestRedisBroadcasterRelaysIntoRegistry(t *testing.T) {
	registry := NewSnapshotRegistry(1, nil)
	sub := registry.Subscribe(models.ProviderTopic("p1"))
	channel := &stubChannel{incoming: make(chan models.QueueSnapshot, 1)}
	broadcaster := NewRedisBroadcaster(channel, registry, zap.NewNop())

	require.NoError(t, broadcaster.Broadcast(context.Background(), providerSnapshot("p1", 1)))
	assert.Len(t, channel.published, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		broadcaster.Relay(ctx)
		close(done)
	}()

	channel.incoming <- providerSnapshot("p1", 7)
	select {
	case got := <-sub.C:
		assert.Equal(t, 7, got.Counts[models.QueueStatusWaiting])
	case <-time.After(time.Second):
		t.Fatal("relay did not deliver")
	}
	cancel()
	<-done
}

func newTestSnapshotService(store *stubSnapshotStore) (*SnapshotService, *SnapshotRegistry) {
	registry := NewSnapshotRegistry(4, nil)
	svc := NewSnapshotService(store, newMemDirectory(), &stubAverages{minutes: 12}, registry, nil, nil, zap.NewNop())
	return svc, registry
}

func TestSnapshotServiceProviderSnapshot(t *testing.T) {
	store := &stubSnapshotStore{
		byProvider: map[string][]models.QueueEntry{"prov-1": {{ID: "a", ProviderID: "prov-1", Status: models.QueueStatusWaiting}}},
		counts:     models.StatusCounts{models.QueueStatusWaiting: 1},
	}
	svc, _ := newTestSnapshotService(store)

	snapshot, err := svc.ProviderSnapshot(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, "prov-1", snapshot.ProviderID)
	assert.Len(t, snapshot.Entries, 1)
	assert.Equal(t, 12.0, snapshot.AverageServiceMinutes)
	assert.Equal(t, []repository.QueueScope{{ProviderID: "prov-1"}}, store.scopes)

	_, err = svc.ProviderSnapshot(context.Background(), "nobody")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrNotFound.Code))

	store.listErr = sql.ErrConnDone
	_, err = svc.ProviderSnapshot(context.Background(), "prov-1")
	assert.True(t, appErrors.IsCode(err, appErrors.ErrInternal.Code))
}

func TestSnapshotServicePublishSkipsUnwatchedLocation(t *testing.T) {
	store := &stubSnapshotStore{counts: models.StatusCounts{}}
	svc, registry := newTestSnapshotService(store)
	provider := registry.Subscribe(models.ProviderTopic("prov-1"))

	svc.Publish(context.Background(), "prov-1", "loc-1")
	assert.Len(t, store.scopes, 1)
	got := <-provider.C
	assert.Equal(t, "prov-1", got.ProviderID)

	location := registry.Subscribe(models.LocationTopic("loc-1"))
	svc.Publish(context.Background(), "prov-1", "loc-1")
	assert.Len(t, store.scopes, 3)
	got = <-location.C
	assert.Equal(t, "loc-1", got.LocationID)
}

func TestSnapshotServiceSubscribe(t *testing.T) {
	store := &stubSnapshotStore{counts: models.StatusCounts{}}
	svc, registry := newTestSnapshotService(store)

	sub, initial, err := svc.SubscribeProvider(context.Background(), "prov-1")
	require.NoError(t, err)
	assert.Equal(t, "prov-1", initial.ProviderID)
	assert.Equal(t, 1, registry.Count(models.ProviderTopic("prov-1")))
	svc.Unsubscribe(sub)
	assert.Equal(t, 0, registry.Count(models.ProviderTopic("prov-1")))

	_, _, err = svc.SubscribeProvider(context.Background(), "nobody")
	assert.Error(t, err)
	assert.Equal(t, 0, registry.Count(models.ProviderTopic("nobody")))

	sub, initial, err = svc.SubscribeLocation(context.Background(), "loc-1")
	require.NoError(t, err)
	assert.Equal(t, "loc-1", initial.LocationID)
	assert.Equal(t, models.LocationTopic("loc-1"), sub.Topic)
}

func TestSnapshotServiceSubscribeSeesPublishDuringInitialRead(t *testing.T) {
	ctx := context.Background()
	store := &stubSnapshotStore{counts: models.StatusCounts{}, byProvider: map[string][]models.QueueEntry{}}
	svc, _ := newTestSnapshotService(store)

	position := 1
	store.duringCount = func() {
		store.byProvider["prov-1"] = []models.QueueEntry{{ID: "late", ProviderID: "prov-1", Status: models.QueueStatusWaiting, QueuePosition: &position}}
		svc.Publish(ctx, "prov-1", "")
	}

	sub, initial, err := svc.SubscribeProvider(ctx, "prov-1")
	require.NoError(t, err)
	defer svc.Unsubscribe(sub)
	assert.Empty(t, initial.Entries)

	select {
	case got := <-sub.C:
		require.Len(t, got.Entries, 1)
		assert.Equal(t, "late", got.Entries[0].ID)
	default:
		t.Fatal("snapshot published during the initial read was not delivered")
	}
}

func TestDisplayOrder(t *testing.T) {
	base := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	at := func(m int) *time.Time { v := base.Add(time.Duration(m) * time.Minute); return &v }
	pos := func(p int) *int { return &p }

	entries := []models.QueueEntry{
		{ID: "w2", ProviderID: "a", Status: models.QueueStatusWaiting, QueuePosition: pos(2)},
		{ID: "done", ProviderID: "a", Status: models.QueueStatusCompleted},
		{ID: "c2", ProviderID: "a", Status: models.QueueStatusCalled, CalledTime: at(5)},
		{ID: "w1", ProviderID: "a", Status: models.QueueStatusWaiting, QueuePosition: pos(1)},
		{ID: "ic", ProviderID: "a", Status: models.QueueStatusInConsultation, ConsultationStartTime: at(1)},
		{ID: "c1", ProviderID: "a", Status: models.QueueStatusCalled, CalledTime: at(2)},
		{ID: "b1", ProviderID: "b", Status: models.QueueStatusWaiting, QueuePosition: pos(1)},
	}

	ordered := DisplayOrder(entries)
	ids := make([]string, 0, len(ordered))
	for _, entry := range ordered {
		ids = append(ids, entry.ID)
	}
	assert.Equal(t, []string{"ic", "c1", "c2", "w1", "w2", "b1"}, ids)
}

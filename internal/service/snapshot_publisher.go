package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/clinic-queue-api/internal/models"
	"github.com/noah-isme/clinic-queue-api/internal/repository"
	appErrors "github.com/noah-isme/clinic-queue-api/pkg/errors"
)

// Subscription is one observer's registration on a snapshot topic.
type Subscription struct {
	ID    string
	Topic string
	C     <-chan models.QueueSnapshot

	ch     chan models.QueueSnapshot
	closed bool
}

// SnapshotRegistry tracks subscribers per topic. Every subscriber is added by Subscribe
// and removed by Unsubscribe; nothing is registered implicitly.
type SnapshotRegistry struct {
	mu      sync.RWMutex
	topics  map[string]map[string]*Subscription
	total   int
	buffer  int
	metrics *MetricsService
}

// NewSnapshotRegistry constructs an empty registry.
func NewSnapshotRegistry(buffer int, metrics *MetricsService) *SnapshotRegistry {
	if buffer <= 0 {
		buffer = 8
	}
	return &SnapshotRegistry{
		topics:  make(map[string]map[string]*Subscription),
		buffer:  buffer,
		metrics: metrics,
	}
}

// Subscribe registers a new subscriber on topic.
func (r *SnapshotRegistry) Subscribe(topic string) *Subscription {
	ch := make(chan models.QueueSnapshot, r.buffer)
	sub := &Subscription{ID: uuid.NewString(), Topic: topic, C: ch, ch: ch}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.topics[topic] == nil {
		r.topics[topic] = make(map[string]*Subscription)
	}
	r.topics[topic][sub.ID] = sub
	r.total++
	r.metrics.SetSubscribers(r.total)
	return sub
}

// Unsubscribe removes the subscriber and closes its channel. Repeated calls are no-ops.
func (r *SnapshotRegistry) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sub.closed {
		return
	}
	if subs, ok := r.topics[sub.Topic]; ok {
		delete(subs, sub.ID)
		if len(subs) == 0 {
			delete(r.topics, sub.Topic)
		}
	}
	sub.closed = true
	close(sub.ch)
	r.total--
	r.metrics.SetSubscribers(r.total)
}

// HasSubscribers reports whether anyone listens on topic.
func (r *SnapshotRegistry) HasSubscribers(topic string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic]) > 0
}

// Count returns the number of subscribers on topic.
func (r *SnapshotRegistry) Count(topic string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[topic])
}

// Deliver hands snapshot to every subscriber of its topic without blocking.
// A subscriber with a full buffer loses its oldest pending snapshot.
func (r *SnapshotRegistry) Deliver(snapshot models.QueueSnapshot) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for _, sub := range r.topics[snapshot.Topic()] {
		select {
		case sub.ch <- snapshot:
			delivered++
			continue
		default:
		}
		select {
		case <-sub.ch:
		default:
		}
		select {
		case sub.ch <- snapshot:
			delivered++
		default:
		}
	}
	return delivered
}

// SnapshotBroadcaster carries snapshots to the registries that hold subscribers.
type SnapshotBroadcaster interface {
	Broadcast(ctx context.Context, snapshot models.QueueSnapshot) error
}

// LocalBroadcaster delivers straight into this process's registry.
type LocalBroadcaster struct {
	registry *SnapshotRegistry
}

// NewLocalBroadcaster constructs a broadcaster for single-instance deployments.
func NewLocalBroadcaster(registry *SnapshotRegistry) *LocalBroadcaster {
	return &LocalBroadcaster{registry: registry}
}

// Broadcast implements SnapshotBroadcaster.
func (b *LocalBroadcaster) Broadcast(_ context.Context, snapshot models.QueueSnapshot) error {
	b.registry.Deliver(snapshot)
	return nil
}

type snapshotChannel interface {
	Publish(ctx context.Context, snapshot models.QueueSnapshot) error
	Listen(ctx context.Context, handle func(models.QueueSnapshot)) error
}

// RedisBroadcaster fans snapshots out through Redis so every instance's registry receives them.
type RedisBroadcaster struct {
	channel  snapshotChannel
	registry *SnapshotRegistry
	logger   *zap.Logger
}

// NewRedisBroadcaster constructs a cross-instance broadcaster.
func NewRedisBroadcaster(channel snapshotChannel, registry *SnapshotRegistry, logger *zap.Logger) *RedisBroadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBroadcaster{channel: channel, registry: registry, logger: logger}
}

// Broadcast publishes to Redis, falling back to local delivery when Redis is unavailable.
func (b *RedisBroadcaster) Broadcast(ctx context.Context, snapshot models.QueueSnapshot) error {
	if err := b.channel.Publish(ctx, snapshot); err != nil {
		b.logger.Warn("redis snapshot publish failed, delivering locally", zap.String("topic", snapshot.Topic()), zap.Error(err))
		b.registry.Deliver(snapshot)
		return err
	}
	return nil
}

// Relay copies snapshots received from Redis into the local registry until ctx is done.
func (b *RedisBroadcaster) Relay(ctx context.Context) {
	for {
		err := b.channel.Listen(ctx, func(snapshot models.QueueSnapshot) {
			b.registry.Deliver(snapshot)
		})
		if ctx.Err() != nil {
			return
		}
		b.logger.Warn("snapshot relay stopped, reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

type snapshotStore interface {
	ListActiveByProvider(ctx context.Context, providerID string) ([]models.QueueEntry, error)
	ListActiveByLocation(ctx context.Context, locationID string) ([]models.QueueEntry, error)
	CountByStatus(ctx context.Context, scope repository.QueueScope, since time.Time) (models.StatusCounts, error)
}

type providerLookup interface {
	FindProvider(ctx context.Context, id string) (*models.Provider, error)
}

type averageSource interface {
	AverageServiceMinutes(ctx context.Context, providerID string) (float64, error)
}

// SnapshotService builds whole-state queue snapshots, answers snapshot queries
// and publishes a fresh snapshot after every queue mutation.
type SnapshotService struct {
	store       snapshotStore
	providers   providerLookup
	averages    averageSource
	registry    *SnapshotRegistry
	broadcaster SnapshotBroadcaster
	metrics     *MetricsService
	logger      *zap.Logger
	now         func() time.Time
}

// NewSnapshotService constructs the service. broadcaster defaults to local delivery.
func NewSnapshotService(store snapshotStore, providers providerLookup, averages averageSource, registry *SnapshotRegistry, broadcaster SnapshotBroadcaster, metrics *MetricsService, logger *zap.Logger) *SnapshotService {
	if broadcaster == nil {
		broadcaster = NewLocalBroadcaster(registry)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotService{
		store:       store,
		providers:   providers,
		averages:    averages,
		registry:    registry,
		broadcaster: broadcaster,
		metrics:     metrics,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// ProviderSnapshot returns the ordered active queue of one provider.
func (s *SnapshotService) ProviderSnapshot(ctx context.Context, providerID string) (*models.QueueSnapshot, error) {
	if _, err := s.providers.FindProvider(ctx, providerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "provider not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load provider")
	}
	return s.buildProviderSnapshot(ctx, providerID)
}

// LocationSnapshot returns the ordered active queues of every provider at a location.
func (s *SnapshotService) LocationSnapshot(ctx context.Context, locationID string) (*models.QueueSnapshot, error) {
	entries, err := s.store.ListActiveByLocation(ctx, locationID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load location queue")
	}
	counts, err := s.store.CountByStatus(ctx, repository.QueueScope{LocationID: locationID}, startOfDay(s.now()))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count location queue")
	}
	return &models.QueueSnapshot{
		LocationID:  locationID,
		Entries:     DisplayOrder(entries),
		Counts:      counts,
		GeneratedAt: s.now(),
	}, nil
}

func (s *SnapshotService) buildProviderSnapshot(ctx context.Context, providerID string) (*models.QueueSnapshot, error) {
	entries, err := s.store.ListActiveByProvider(ctx, providerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load provider queue")
	}
	counts, err := s.store.CountByStatus(ctx, repository.QueueScope{ProviderID: providerID}, startOfDay(s.now()))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count provider queue")
	}
	snapshot := &models.QueueSnapshot{
		ProviderID:  providerID,
		Entries:     DisplayOrder(entries),
		Counts:      counts,
		GeneratedAt: s.now(),
	}
	if s.averages != nil {
		if avg, err := s.averages.AverageServiceMinutes(ctx, providerID); err == nil {
			snapshot.AverageServiceMinutes = avg
		}
	}
	return snapshot, nil
}

// Publish pushes the provider snapshot, and the location snapshot when someone watches the location.
// Failures are logged; the mutation that triggered the publish has already committed.
func (s *SnapshotService) Publish(ctx context.Context, providerID, locationID string) {
	snapshot, err := s.buildProviderSnapshot(ctx, providerID)
	if err != nil {
		s.logger.Warn("failed to build provider snapshot", zap.String("provider_id", providerID), zap.Error(err))
		return
	}
	s.broadcast(ctx, *snapshot)

	if locationID == "" {
		return
	}
	if _, remote := s.broadcaster.(*RedisBroadcaster); !remote && !s.registry.HasSubscribers(models.LocationTopic(locationID)) {
		return
	}
	locationSnapshot, err := s.LocationSnapshot(ctx, locationID)
	if err != nil {
		s.logger.Warn("failed to build location snapshot", zap.String("location_id", locationID), zap.Error(err))
		return
	}
	s.broadcast(ctx, *locationSnapshot)
}

func (s *SnapshotService) broadcast(ctx context.Context, snapshot models.QueueSnapshot) {
	if err := s.broadcaster.Broadcast(ctx, snapshot); err != nil {
		s.logger.Warn("snapshot broadcast failed", zap.String("topic", snapshot.Topic()), zap.Error(err))
		return
	}
	s.metrics.RecordSnapshotPublished()
}

// SubscribeProvider registers an observer of one provider's queue. The subscription is live
// before the initial snapshot is read, so a mutation published meanwhile still reaches it.
func (s *SnapshotService) SubscribeProvider(ctx context.Context, providerID string) (*Subscription, *models.QueueSnapshot, error) {
	sub := s.registry.Subscribe(models.ProviderTopic(providerID))
	snapshot, err := s.ProviderSnapshot(ctx, providerID)
	if err != nil {
		s.registry.Unsubscribe(sub)
		return nil, nil, err
	}
	return sub, snapshot, nil
}

// SubscribeLocation registers an observer of every queue at a location.
func (s *SnapshotService) SubscribeLocation(ctx context.Context, locationID string) (*Subscription, *models.QueueSnapshot, error) {
	sub := s.registry.Subscribe(models.LocationTopic(locationID))
	snapshot, err := s.LocationSnapshot(ctx, locationID)
	if err != nil {
		s.registry.Unsubscribe(sub)
		return nil, nil, err
	}
	return sub, snapshot, nil
}

// Unsubscribe removes an observer.
func (s *SnapshotService) Unsubscribe(sub *Subscription) {
	s.registry.Unsubscribe(sub)
}

var displayRank = map[models.QueueStatus]int{
	models.QueueStatusInConsultation: 0,
	models.QueueStatusCalled:         1,
	models.QueueStatusWaiting:        2,
}

// DisplayOrder sorts active entries for the queue board: per provider, in-consultation first,
// then called, then waiting by queue position.
func DisplayOrder(entries []models.QueueEntry) []models.QueueEntry {
	ordered := make([]models.QueueEntry, 0, len(entries))
	for _, entry := range entries {
		if entry.Status.Active() {
			ordered = append(ordered, entry)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := &ordered[i], &ordered[j]
		if a.ProviderID != b.ProviderID {
			return a.ProviderID < b.ProviderID
		}
		if displayRank[a.Status] != displayRank[b.Status] {
			return displayRank[a.Status] < displayRank[b.Status]
		}
		switch a.Status {
		case models.QueueStatusInConsultation:
			return timeBefore(a.ConsultationStartTime, b.ConsultationStartTime)
		case models.QueueStatusCalled:
			return timeBefore(a.CalledTime, b.CalledTime)
		default:
			if a.Position() != b.Position() {
				return a.Position() < b.Position()
			}
			return ranksAhead(a, b)
		}
	})
	return ordered
}

func timeBefore(a, b *time.Time) bool {
	switch {
	case a == nil:
		return false
	case b == nil:
		return true
	default:
		return a.Before(*b)
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

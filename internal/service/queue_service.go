package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/clinic-queue-api/internal/dto"
	"github.com/noah-isme/clinic-queue-api/internal/models"
	"github.com/noah-isme/clinic-queue-api/internal/repository"
	appErrors "github.com/noah-isme/clinic-queue-api/pkg/errors"
)

type queueStore interface {
	WithinProviderTx(ctx context.Context, providerID string, fn func(ctx context.Context, tx repository.QueueTx) error) error
	GetByID(ctx context.Context, id string) (*models.QueueEntry, error)
	ListProvidersWithWaiting(ctx context.Context) ([]string, error)
	PatientSatisfactionAverage(ctx context.Context, patientID string) (*float64, error)
}

type queueDirectory interface {
	FindPatient(ctx context.Context, id string) (*models.Patient, error)
	FindProvider(ctx context.Context, id string) (*models.Provider, error)
	FindAppointment(ctx context.Context, id string) (*models.Appointment, error)
}

type serviceAverages interface {
	AverageServiceMinutes(ctx context.Context, providerID string) (float64, error)
	Invalidate(ctx context.Context, providerID string)
}

type snapshotPublisher interface {
	Publish(ctx context.Context, providerID, locationID string)
}

type notificationSink interface {
	Dispatch(note Notification)
}

// QueueServiceConfig tunes re-prioritization and conflict handling.
type QueueServiceConfig struct {
	BoostIncrement int
	RetryAttempts  int
	RetryBackoff   time.Duration
}

// QueueService owns every mutation of provider queues.
type QueueService struct {
	store     queueStore
	directory queueDirectory
	scorer    *PriorityScorer
	averages  serviceAverages
	publisher snapshotPublisher
	notifier  notificationSink
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       QueueServiceConfig
	locks     *providerLocks
	now       func() time.Time
}

// QueueServiceDeps groups the collaborators of QueueService.
type QueueServiceDeps struct {
	Store     queueStore
	Directory queueDirectory
	Scorer    *PriorityScorer
	Averages  serviceAverages
	Publisher snapshotPublisher
	Notifier  notificationSink
	Metrics   *MetricsService
	Validator *validator.Validate
	Logger    *zap.Logger
}

// NewQueueService constructs the service.
func NewQueueService(deps QueueServiceDeps, cfg QueueServiceConfig) *QueueService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Scorer == nil {
		deps.Scorer = NewPriorityScorer(DefaultScoringWeights())
	}
	if cfg.BoostIncrement <= 0 {
		cfg.BoostIncrement = 50
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 25 * time.Millisecond
	}
	return &QueueService{
		store:     deps.Store,
		directory: deps.Directory,
		scorer:    deps.Scorer,
		averages:  deps.Averages,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		metrics:   deps.Metrics,
		validator: deps.Validator,
		logger:    deps.Logger,
		cfg:       cfg,
		locks:     newProviderLocks(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Join checks a patient into a provider's queue and returns the entry with its rank and estimate.
func (s *QueueService) Join(ctx context.Context, req dto.JoinQueueRequest, actorID string) (*models.QueueEntry, error) {
	req = normalizeJoinRequest(req)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid join payload")
	}

	provider, err := s.directory.FindProvider(ctx, req.ProviderID)
	if err != nil {
		return nil, notFoundOr(err, "provider not found", "failed to load provider")
	}
	if !provider.Active {
		return nil, appErrors.Clone(appErrors.ErrValidation, "provider is not accepting patients")
	}
	patient, err := s.directory.FindPatient(ctx, req.PatientID)
	if err != nil {
		return nil, notFoundOr(err, "patient not found", "failed to load patient")
	}

	var appointment *models.Appointment
	if req.AppointmentID != nil && strings.TrimSpace(*req.AppointmentID) != "" {
		appointment, err = s.directory.FindAppointment(ctx, *req.AppointmentID)
		if err != nil {
			return nil, notFoundOr(err, "appointment not found", "failed to load appointment")
		}
		if appointment.PatientID != patient.ID {
			return nil, appErrors.Clone(appErrors.ErrValidation, "appointment belongs to another patient")
		}
	}

	satisfaction, err := s.store.PatientSatisfactionAverage(ctx, patient.ID)
	if err != nil {
		s.logger.Warn("satisfaction history unavailable", zap.String("patient_id", patient.ID), zap.Error(err))
		satisfaction = nil
	}

	special := req.SpecialRequirements
	if special != nil && strings.TrimSpace(*special) == "" {
		special = nil
	}

	var created *models.QueueEntry
	err = s.mutate(ctx, provider.ID, locationOf(provider), func(ctx context.Context, tx repository.QueueTx, avg float64) (bool, error) {
		now := s.now()
		urgency := req.UrgencyLevel
		source := ResolveSource(req.Source, appointment, urgency)
		score, factors := s.scorer.Score(PriorityInputs{
			Urgency:             urgency,
			AgeYears:            patient.AgeAt(now),
			Source:              source,
			CheckInTime:         now,
			SpecialRequirements: special != nil,
			SatisfactionAverage: satisfaction,
		}, now)

		entry := &models.QueueEntry{
			PatientID:           patient.ID,
			ProviderID:          provider.ID,
			LocationID:          provider.LocationID,
			AppointmentID:       req.AppointmentID,
			PriorityScore:       score,
			Status:              models.QueueStatusWaiting,
			CheckInTime:         now,
			SpecialRequirements: special,
			UrgencyLevel:        urgency,
			AppointmentSource:   source,
			PriorityFactors:     factors,
		}
		entry.AppendNote(auditLine(now, actorID, "joined queue", req.Notes))
		if err := tx.Insert(ctx, entry); err != nil {
			return false, err
		}

		waiting, err := s.rankPass(ctx, tx, provider.ID, avg)
		if err != nil {
			return false, err
		}
		created = findEntry(waiting, entry.ID)
		if created == nil {
			created = entry
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordJoin()
	s.logger.Info("patient joined queue",
		zap.String("entry_id", created.ID),
		zap.String("provider_id", created.ProviderID),
		zap.Int("priority_score", created.PriorityScore),
		zap.Int("queue_position", created.Position()),
	)
	s.notify(Notification{
		Kind:                 NotificationQueueJoined,
		EntryID:              created.ID,
		PatientID:            created.PatientID,
		ProviderID:           created.ProviderID,
		QueuePosition:        created.Position(),
		EstimatedWaitMinutes: created.EstimatedWaitMinutes,
	})
	return created, nil
}

// normalizeJoinRequest lowercases enum fields so validation accepts any casing.
func normalizeJoinRequest(req dto.JoinQueueRequest) dto.JoinQueueRequest {
	req.UrgencyLevel = models.UrgencyLevel(strings.ToLower(strings.TrimSpace(string(req.UrgencyLevel))))
	if req.Source != nil {
		source := strings.ToLower(strings.TrimSpace(*req.Source))
		req.Source = &source
	}
	return req
}

// Get returns one entry.
func (s *QueueService) Get(ctx context.Context, id string) (*models.QueueEntry, error) {
	entry, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "queue entry not found", "failed to load queue entry")
	}
	return entry, nil
}

// Transition moves an entry along the lifecycle. Repeating the current status returns the entry unchanged.
func (s *QueueService) Transition(ctx context.Context, id string, req dto.TransitionRequest, actorID string) (*models.QueueEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid transition payload")
	}
	target, err := models.ParseQueueStatus(req.TargetStatus)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, err.Error())
	}

	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		updated *models.QueueEntry
		result  TransitionResult
	)
	err = s.mutate(ctx, current.ProviderID, current.Location(), func(ctx context.Context, tx repository.QueueTx, avg float64) (bool, error) {
		entry, err := lockEntry(ctx, tx, id)
		if err != nil {
			return false, err
		}
		result, err = ApplyTransition(entry, target, actorID, req.Notes, s.now())
		if err != nil {
			return false, err
		}
		updated = entry
		if !result.Applied {
			return false, nil
		}
		if err := tx.Update(ctx, entry); err != nil {
			return false, err
		}
		if result.ChangesWaitingSet() {
			if _, err := s.rankPass(ctx, tx, entry.ProviderID, avg); err != nil {
				return false, err
			}
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Applied {
		return updated, nil
	}

	s.metrics.RecordTransition(string(result.From), string(result.To))
	s.logger.Info("queue entry transitioned",
		zap.String("entry_id", updated.ID),
		zap.String("provider_id", updated.ProviderID),
		zap.String("from", string(result.From)),
		zap.String("to", string(result.To)),
		zap.String("actor_id", actorID),
	)
	switch result.To {
	case models.QueueStatusCompleted:
		s.averages.Invalidate(ctx, updated.ProviderID)
	case models.QueueStatusCalled:
		s.notify(Notification{
			Kind:       NotificationPatientCalled,
			EntryID:    updated.ID,
			PatientID:  updated.PatientID,
			ProviderID: updated.ProviderID,
		})
	}
	return updated, nil
}

// Boost raises a waiting entry's score by the configured increment and re-ranks the provider.
func (s *QueueService) Boost(ctx context.Context, id string, req dto.BoostRequest, actorID string) (*models.QueueEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid boost payload")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var boosted *models.QueueEntry
	err = s.mutate(ctx, current.ProviderID, current.Location(), func(ctx context.Context, tx repository.QueueTx, avg float64) (bool, error) {
		entry, err := lockEntry(ctx, tx, id)
		if err != nil {
			return false, err
		}
		if entry.Status != models.QueueStatusWaiting {
			return false, appErrors.Clone(appErrors.ErrInvalidTransition,
				fmt.Sprintf("only waiting entries can be boosted; entry is %s", entry.Status))
		}

		increment := s.cfg.BoostIncrement
		entry.PriorityScore += increment
		entry.PriorityFactors.ManualBoost += increment
		entry.AppendNote(auditLine(s.now(), actorID, fmt.Sprintf("priority boost +%d", increment), req.Reason))
		if err := tx.Update(ctx, entry); err != nil {
			return false, err
		}

		waiting, err := s.rankPass(ctx, tx, entry.ProviderID, avg)
		if err != nil {
			return false, err
		}
		boosted = findEntry(waiting, entry.ID)
		if boosted == nil {
			boosted = entry
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordBoost()
	s.logger.Info("queue entry boosted",
		zap.String("entry_id", boosted.ID),
		zap.String("actor_id", actorID),
		zap.Int("priority_score", boosted.PriorityScore),
		zap.Int("queue_position", boosted.Position()),
	)
	return boosted, nil
}

// AppendNote adds free text to an entry's audit trail. Allowed in every status.
func (s *QueueService) AppendNote(ctx context.Context, id string, req dto.NoteRequest, actorID string) (*models.QueueEntry, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid note payload")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var noted *models.QueueEntry
	err = s.mutate(ctx, current.ProviderID, current.Location(), func(ctx context.Context, tx repository.QueueTx, _ float64) (bool, error) {
		entry, err := lockEntry(ctx, tx, id)
		if err != nil {
			return false, err
		}
		entry.AppendNote(auditLine(s.now(), actorID, "note", req.Text))
		if err := tx.Update(ctx, entry); err != nil {
			return false, err
		}
		noted = entry
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return noted, nil
}

// Rescan recomputes every waiting entry's score with a fresh wait credit and re-ranks the provider.
// Manual boosts survive because they are part of the stored factors.
func (s *QueueService) Rescan(ctx context.Context, providerID string) (int, error) {
	provider, err := s.directory.FindProvider(ctx, providerID)
	if err != nil {
		return 0, notFoundOr(err, "provider not found", "failed to load provider")
	}

	rescored := 0
	err = s.mutate(ctx, provider.ID, locationOf(provider), func(ctx context.Context, tx repository.QueueTx, avg float64) (bool, error) {
		rescored = 0
		waiting, err := tx.ListWaiting(ctx, provider.ID)
		if err != nil {
			return false, err
		}
		if len(waiting) == 0 {
			return false, nil
		}

		now := s.now()
		for i := range waiting {
			entry := &waiting[i]
			entry.PriorityScore, entry.PriorityFactors = s.scorer.Rescore(entry.PriorityFactors, entry.CheckInTime, now)
		}

		start := time.Now()
		AssignRanks(waiting, avg)
		for i := range waiting {
			if err := tx.Update(ctx, &waiting[i]); err != nil {
				return false, err
			}
		}
		s.metrics.ObserveRankPass(time.Since(start))
		rescored = len(waiting)
		return true, nil
	})
	if err != nil {
		return 0, err
	}

	s.metrics.RecordRescan(rescored)
	s.logger.Info("provider queue rescanned", zap.String("provider_id", provider.ID), zap.Int("rescored", rescored))
	return rescored, nil
}

// ProvidersWithWaiting lists providers that currently have waiting entries.
func (s *QueueService) ProvidersWithWaiting(ctx context.Context) ([]string, error) {
	ids, err := s.store.ListProvidersWithWaiting(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list providers")
	}
	return ids, nil
}

type mutationFunc func(ctx context.Context, tx repository.QueueTx, averageMinutes float64) (changed bool, err error)

// mutate runs fn as one provider-scoped unit of work. Writers for a provider are serialized in
// process by providerLocks and across processes by the store's advisory lock. Stale reads are
// retried with backoff; a changed queue is published before the provider lock is released.
func (s *QueueService) mutate(ctx context.Context, providerID, locationID string, fn mutationFunc) error {
	release := s.locks.Lock(providerID)
	defer release()

	avg, err := s.averages.AverageServiceMinutes(ctx, providerID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load service history")
	}

	var changed bool
	for attempt := 1; ; attempt++ {
		err = s.store.WithinProviderTx(ctx, providerID, func(ctx context.Context, tx repository.QueueTx) error {
			var fnErr error
			changed, fnErr = fn(ctx, tx, avg)
			return fnErr
		})
		if err == nil {
			break
		}
		if !errors.Is(err, repository.ErrStaleEntry) {
			var appErr *appErrors.Error
			if errors.As(err, &appErr) {
				return appErr
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update queue")
		}

		exhausted := attempt >= s.cfg.RetryAttempts
		s.metrics.RecordRankConflict(exhausted)
		if exhausted {
			s.logger.Error("queue update conflict retries exhausted", zap.String("provider_id", providerID), zap.Int("attempts", attempt), zap.Error(err))
			return appErrors.Wrap(err, appErrors.ErrConcurrencyConflict.Code, appErrors.ErrConcurrencyConflict.Status, appErrors.ErrConcurrencyConflict.Message)
		}
		s.logger.Warn("queue update conflict, retrying", zap.String("provider_id", providerID), zap.Int("attempt", attempt), zap.Error(err))
		if err := sleepContext(ctx, s.backoff(attempt)); err != nil {
			return appErrors.Wrap(err, appErrors.ErrConcurrencyConflict.Code, appErrors.ErrConcurrencyConflict.Status, appErrors.ErrConcurrencyConflict.Message)
		}
	}

	if changed && s.publisher != nil {
		s.publisher.Publish(ctx, providerID, locationID)
	}
	return nil
}

// rankPass re-reads the provider's waiting subset and persists every changed position and estimate.
func (s *QueueService) rankPass(ctx context.Context, tx repository.QueueTx, providerID string, avg float64) ([]models.QueueEntry, error) {
	start := time.Now()
	waiting, err := tx.ListWaiting(ctx, providerID)
	if err != nil {
		return nil, err
	}
	changed := AssignRanks(waiting, avg)
	if err := tx.UpdateRanks(ctx, changed); err != nil {
		return nil, err
	}
	for _, entry := range changed {
		if current := findEntry(waiting, entry.ID); current != nil {
			current.Version = entry.Version
		}
	}
	s.metrics.ObserveRankPass(time.Since(start))
	return waiting, nil
}

func (s *QueueService) notify(note Notification) {
	if s.notifier != nil {
		s.notifier.Dispatch(note)
	}
}

func (s *QueueService) backoff(attempt int) time.Duration {
	base := s.cfg.RetryBackoff * time.Duration(attempt)
	return base + time.Duration(rand.Int63n(int64(s.cfg.RetryBackoff)))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func lockEntry(ctx context.Context, tx repository.QueueTx, id string) (*models.QueueEntry, error) {
	entry, err := tx.LockEntry(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "queue entry not found", "failed to lock queue entry")
	}
	return entry, nil
}

func findEntry(entries []models.QueueEntry, id string) *models.QueueEntry {
	for i := range entries {
		if entries[i].ID == id {
			return &entries[i]
		}
	}
	return nil
}

func locationOf(provider *models.Provider) string {
	if provider == nil || provider.LocationID == nil {
		return ""
	}
	return *provider.LocationID
}

func notFoundOr(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}

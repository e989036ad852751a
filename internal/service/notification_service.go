package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/clinic-queue-api/pkg/jobs"
)

// NotificationKind names an outbound patient notification.
type NotificationKind string

const (
	NotificationQueueJoined   NotificationKind = "queue_joined"
	NotificationPatientCalled NotificationKind = "patient_called"
)

// Notification is the payload handed to the delivery channel.
type Notification struct {
	Kind                 NotificationKind `json:"kind"`
	EntryID              string           `json:"entry_id"`
	PatientID            string           `json:"patient_id"`
	ProviderID           string           `json:"provider_id"`
	QueuePosition        int              `json:"queue_position,omitempty"`
	EstimatedWaitMinutes int              `json:"estimated_wait_minutes,omitempty"`
	OccurredAt           time.Time        `json:"occurred_at"`
}

// Notifier delivers a notification to the patient.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// LogNotifier writes notifications to the log; used until an SMS/push gateway is wired in.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	n.logger.Info("patient notification",
		zap.String("kind", string(note.Kind)),
		zap.String("entry_id", note.EntryID),
		zap.String("patient_id", note.PatientID),
		zap.String("provider_id", note.ProviderID),
		zap.Int("queue_position", note.QueuePosition),
		zap.Int("estimated_wait_minutes", note.EstimatedWaitMinutes),
	)
	return nil
}

// NotificationDispatcher hands notifications to a background worker pool. Delivery is fire-and-forget.
type NotificationDispatcher struct {
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewNotificationDispatcher builds the dispatcher and its worker pool.
func NewNotificationDispatcher(notifier Notifier, cfg jobs.QueueConfig) *NotificationDispatcher {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	handler := func(ctx context.Context, job jobs.Job) error {
		note, ok := job.Payload.(Notification)
		if !ok {
			return fmt.Errorf("unexpected notification payload %T", job.Payload)
		}
		return notifier.Notify(ctx, note)
	}
	return &NotificationDispatcher{
		queue:  jobs.NewQueue("notifications", handler, cfg),
		logger: cfg.Logger,
	}
}

// Start launches the workers.
func (d *NotificationDispatcher) Start(ctx context.Context) {
	d.queue.Start(ctx)
}

// Stop drains the workers.
func (d *NotificationDispatcher) Stop() {
	d.queue.Stop()
}

// Dispatch enqueues a notification without blocking the caller.
func (d *NotificationDispatcher) Dispatch(note Notification) {
	if d == nil {
		return
	}
	if note.OccurredAt.IsZero() {
		note.OccurredAt = time.Now().UTC()
	}
	err := d.queue.TryEnqueue(jobs.Job{ID: uuid.NewString(), Type: string(note.Kind), Payload: note})
	if err != nil {
		d.logger.Warn("notification dropped", zap.String("kind", string(note.Kind)), zap.String("entry_id", note.EntryID), zap.Error(err))
	}
}

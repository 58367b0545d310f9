package notifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/schedkit/schedkit/pkg/queue"
)

// JobEnqueuer is the slice of the queue enqueuer used to defer delivery to
// a worker. *queue.Enqueuer satisfies it.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, args any, opts ...queue.EnqueueOption) error
}

// Service fans notifications out to the configured channels. Delivery is
// best effort per channel: a notification counts as delivered when at least
// one channel accepts it.
type Service struct {
	channels []Channel
	enqueuer JobEnqueuer
	logger   *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithServiceEnqueuer makes NotifySeriesHalted enqueue a delivery job
// instead of delivering inline.
func WithServiceEnqueuer(enqueuer JobEnqueuer) ServiceOption {
	return func(s *Service) {
		if enqueuer != nil {
			s.enqueuer = enqueuer
		}
	}
}

// WithServiceLogger sets the logger for the service.
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a notification service over the given channels.
func NewService(channels []Channel, opts ...ServiceOption) (*Service, error) {
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}

	s := &Service{
		channels: channels,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Deliver sends the notification through every channel. It succeeds when at
// least one channel accepts; the accepting channels are logged by name so a
// partial delivery is traceable, and per-channel failures are logged too.
// When every channel fails the joined errors are returned under
// ErrDeliveryFailed.
func (s *Service) Deliver(ctx context.Context, notif Notification) error {
	var delivered []string
	var failures []error

	for _, ch := range s.channels {
		if err := ch.Deliver(ctx, notif); err != nil {
			s.logger.Error("channel failed to deliver notification",
				slog.String("channel", ch.Name()),
				slog.String("notification_id", notif.ID.String()),
				slog.String("error", err.Error()))
			failures = append(failures, fmt.Errorf("%s: %w", ch.Name(), err))
			continue
		}
		delivered = append(delivered, ch.Name())
	}

	if len(delivered) == 0 {
		return fmt.Errorf("%w: %w", ErrDeliveryFailed, errors.Join(failures...))
	}

	s.logger.Info("notification delivered",
		slog.String("notification_id", notif.ID.String()),
		slog.Any("channels", delivered),
		slog.Int("failed", len(failures)))
	return nil
}

// Handler returns the queue handler that delivers notifications
// asynchronously. Delivery errors are classified so the worker retries
// provider hiccups but discards requests no channel will ever accept.
func (s *Service) Handler() queue.Handler {
	return queue.NewJobHandlerWithKind(JobKindSend, func(ctx context.Context, args SendArgs) error {
		if err := s.Deliver(ctx, args.Notification); err != nil {
			return Classify(err)
		}
		return nil
	})
}

// NotifySeriesHalted alerts a series owner that expansion was stopped.
// With an enqueuer configured the alert is queued for a worker; otherwise
// it is delivered inline.
func (s *Service) NotifySeriesHalted(ctx context.Context, ownerID, seriesID uuid.UUID, reason string) error {
	notif := Notification{
		ID:          uuid.New(),
		RecipientID: ownerID,
		Type:        TypeWarning,
		Title:       "Recurring series halted",
		Message:     reason,
		Data: map[string]any{
			"series_id": seriesID.String(),
		},
		CreatedAt: time.Now(),
	}

	if s.enqueuer != nil {
		return s.enqueuer.Enqueue(ctx, SendArgs{Notification: notif}, queue.WithKind(JobKindSend))
	}
	return s.Deliver(ctx, notif)
}

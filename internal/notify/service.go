package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultDedupWindow suppresses repeated (kind, vendor, product) triples.
const DefaultDedupWindow = 60 * time.Second

// Service records and serves notifications with duplicate suppression.
type Service struct {
	repo   Repository
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. A non-positive window falls back to the default.
func NewService(repo Repository, window time.Duration, logger *slog.Logger) *Service {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Service{repo: repo, window: window, logger: logger, now: time.Now}
}

// Record stores the event unless an equivalent notification exists: same
// correlation id ever, or same (kind, vendor, product) inside the dedup
// window. The bool reports whether a row was created.
func (s *Service) Record(ctx context.Context, evt Event) (bool, error) {
	if evt.Kind == "" || evt.Title == "" {
		return false, fmt.Errorf("notify: kind and title required")
	}

	if evt.CorrelationID != "" {
		seen, err := s.repo.HasCorrelation(ctx, evt.CorrelationID)
		if err != nil {
			return false, fmt.Errorf("notify: correlation probe: %w", err)
		}
		if seen {
			s.logger.Debug("notification suppressed",
				slog.String("correlation_id", evt.CorrelationID))
			return false, nil
		}
	}

	cutoff := s.now().Add(-s.window)
	recent, err := s.repo.HasRecent(ctx, evt.Kind, evt.VendorID, evt.ProductID, cutoff)
	if err != nil {
		return false, fmt.Errorf("notify: recency probe: %w", err)
	}
	if recent {
		s.logger.Debug("notification suppressed",
			slog.String("kind", string(evt.Kind)),
			slog.Int64("product_id", evt.ProductID))
		return false, nil
	}

	_, err = s.repo.Insert(ctx, Notification{
		Kind:          evt.Kind,
		Title:         evt.Title,
		Body:          evt.Body,
		CorrelationID: evt.CorrelationID,
		VendorID:      evt.VendorID,
		ProductID:     evt.ProductID,
	})
	if err != nil {
		return false, fmt.Errorf("notify: insert: %w", err)
	}
	return true, nil
}

// List returns notifications matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter Filter) ([]Notification, error) {
	return s.repo.List(ctx, filter)
}

// MarkRead flags one notification as read.
func (s *Service) MarkRead(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("notify: invalid id")
	}
	return s.repo.MarkRead(ctx, id)
}

// MarkAllRead flags every unread notification as read.
func (s *Service) MarkAllRead(ctx context.Context) error {
	return s.repo.MarkAllRead(ctx)
}

// Clear removes all notifications.
func (s *Service) Clear(ctx context.Context) error {
	return s.repo.Clear(ctx)
}

package service

import (
	"context"
	"fmt"

	"github.com/advisory-platform/advisory-server/internal/models"
	"github.com/advisory-platform/advisory-server/internal/realtime"
	"github.com/advisory-platform/advisory-server/internal/repository"
)

// Notifier is the narrow interface other services use to raise system
// notifications without depending on the full NotificationService.
type Notifier interface {
	Notify(ctx context.Context, ownerID, title, message string, kind models.NotificationKind) (*models.Notification, error)
}

// NotificationService defines per-owner notification operations
type NotificationService interface {
	Notifier
	List(ctx context.Context, ownerID string) ([]models.Notification, int, error)
	MarkRead(ctx context.Context, ownerID, notificationID string) (*models.Notification, error)
	MarkAllRead(ctx context.Context, ownerID string) (int64, error)
	Delete(ctx context.Context, ownerID, notificationID string) error
	DeleteAll(ctx context.Context, ownerID string) (int64, error)
}

// DefaultNotificationService implements NotificationService
type DefaultNotificationService struct {
	repo repository.Repository
	hub  *realtime.Hub
}

// NewDefaultNotificationService creates a new DefaultNotificationService
func NewDefaultNotificationService(repo repository.Repository, hub *realtime.Hub) *DefaultNotificationService {
	return &DefaultNotificationService{
		repo: repo,
		hub:  hub,
	}
}

// Notify creates a notification and publishes it to the owner's feed
func (s *DefaultNotificationService) Notify(ctx context.Context, ownerID, title, message string, kind models.NotificationKind) (*models.Notification, error) {
	if ownerID == "" {
		return nil, models.ErrNotAuthenticated
	}
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown notification kind %q", kind)
	}

	n := &models.Notification{
		OwnerID: ownerID,
		Title:   title,
		Message: message,
		Kind:    kind,
	}

	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("error creating notification: %w", err)
	}

	s.hub.Publish(realtime.Event{
		Table:   realtime.TableNotifications,
		Action:  realtime.ActionInsert,
		OwnerID: ownerID,
		Record:  n,
	})

	return n, nil
}

// List returns the owner's notifications newest first, along with the
// unread count taken from a fresh recount rather than any cached value.
func (s *DefaultNotificationService) List(ctx context.Context, ownerID string) ([]models.Notification, int, error) {
	if ownerID == "" {
		return nil, 0, models.ErrNotAuthenticated
	}

	notifications, err := s.repo.ListNotifications(ctx, ownerID)
	if err != nil {
		return nil, 0, fmt.Errorf("error listing notifications: %w", err)
	}

	unread, err := s.repo.CountUnreadNotifications(ctx, ownerID)
	if err != nil {
		return nil, 0, fmt.Errorf("error counting unread notifications: %w", err)
	}

	return notifications, unread, nil
}

func (s *DefaultNotificationService) MarkRead(ctx context.Context, ownerID, notificationID string) (*models.Notification, error) {
	if ownerID == "" {
		return nil, models.ErrNotAuthenticated
	}

	n, err := s.repo.MarkNotificationRead(ctx, ownerID, notificationID)
	if err != nil {
		return nil, err
	}

	s.hub.Publish(realtime.Event{
		Table:   realtime.TableNotifications,
		Action:  realtime.ActionUpdate,
		OwnerID: ownerID,
		Record:  n,
	})

	return n, nil
}

func (s *DefaultNotificationService) MarkAllRead(ctx context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, models.ErrNotAuthenticated
	}

	updated, err := s.repo.MarkAllNotificationsRead(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("error marking notifications read: %w", err)
	}

	for i := range updated {
		s.hub.Publish(realtime.Event{
			Table:   realtime.TableNotifications,
			Action:  realtime.ActionUpdate,
			OwnerID: ownerID,
			Record:  &updated[i],
		})
	}

	return int64(len(updated)), nil
}

func (s *DefaultNotificationService) Delete(ctx context.Context, ownerID, notificationID string) error {
	if ownerID == "" {
		return models.ErrNotAuthenticated
	}

	if err := s.repo.DeleteNotification(ctx, ownerID, notificationID); err != nil {
		return err
	}

	s.hub.Publish(realtime.Event{
		Table:   realtime.TableNotifications,
		Action:  realtime.ActionDelete,
		OwnerID: ownerID,
		Record:  realtime.DeletedRecord{ID: notificationID},
	})

	return nil
}

func (s *DefaultNotificationService) DeleteAll(ctx context.Context, ownerID string) (int64, error) {
	if ownerID == "" {
		return 0, models.ErrNotAuthenticated
	}

	ids, err := s.repo.DeleteAllNotifications(ctx, ownerID)
	if err != nil {
		return 0, fmt.Errorf("error deleting notifications: %w", err)
	}

	for _, id := range ids {
		s.hub.Publish(realtime.Event{
			Table:   realtime.TableNotifications,
			Action:  realtime.ActionDelete,
			OwnerID: ownerID,
			Record:  realtime.DeletedRecord{ID: id},
		})
	}

	return int64(len(ids)), nil
}

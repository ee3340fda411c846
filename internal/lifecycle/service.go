package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nightwatch/internal/logger"
	"nightwatch/internal/storage"
	"nightwatch/pkg/models"
)

var (
	ErrAlertNotFound     = errors.New("alert not found")
	ErrInvalidStatus     = errors.New("invalid alert status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// allowedTransitions is the full lifecycle: open → acknowledged →
// resolved, one step at a time. Resolved is terminal and open alerts
// cannot skip straight to resolved.
var allowedTransitions = map[models.AlertStatus]models.AlertStatus{
	models.StatusOpen:         models.StatusAcknowledged,
	models.StatusAcknowledged: models.StatusResolved,
}

// Service owns alert status changes. Every transition is validated
// against the lifecycle and recorded in the audit history within the
// same transaction that mutates the alert, so the history never
// disagrees with the stored status.
type Service struct {
	store *storage.Store
	now   func() time.Time
}

func NewService(store *storage.Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Transition moves the alert to newStatus and returns the updated
// alert. Illegal targets fail with ErrInvalidTransition and leave both
// the alert and its history untouched.
func (s *Service) Transition(ctx context.Context, alertID string, newStatus models.AlertStatus) (*models.Alert, error) {
	if !newStatus.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, newStatus)
	}

	var alert *models.Alert
	err := s.store.WithTx(ctx, func(tx *storage.Tx) error {
		var err error
		alert, err = tx.GetAlert(ctx, alertID)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
		}
		if err != nil {
			return err
		}

		if allowedTransitions[alert.Status] != newStatus {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, alert.Status, newStatus)
		}

		history := &models.AlertStatusHistory{
			AlertID:        alert.ID,
			PreviousStatus: alert.Status,
			NewStatus:      newStatus,
			ChangedAt:      s.now().UTC(),
		}
		if err := tx.InsertStatusHistory(ctx, history); err != nil {
			return err
		}
		if err := tx.UpdateAlertStatus(ctx, alert.ID, newStatus); err != nil {
			return err
		}
		alert.Status = newStatus
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Infof("lifecycle: alert %s -> %s", alert.ID, alert.Status)
	return alert, nil
}

// History returns the alert's audit trail, oldest first.
func (s *Service) History(ctx context.Context, alertID string) ([]models.AlertStatusHistory, error) {
	if _, err := s.store.GetAlert(ctx, alertID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, alertID)
		}
		return nil, err
	}
	return s.store.StatusHistory(ctx, alertID)
}

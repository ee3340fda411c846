package detect

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"nightwatch/internal/logger"
	"nightwatch/internal/storage"
	"nightwatch/pkg/models"
)

// Coordinator turns rule matches into persisted alerts, suppressing
// duplicates. Two matches with the same rule, endpoint and triggering
// event describe the same detection and yield one alert row.
type Coordinator struct {
	now func() time.Time
}

func NewCoordinator() *Coordinator {
	return &Coordinator{now: time.Now}
}

// Record persists an alert for the detection result inside tx. It
// returns the created alert, or nil when the detection was a duplicate
// of an already-stored alert. Duplicate suppression is backed by the
// unique index on (rule_name, endpoint_id, last_event_id), so it holds
// across restarts and across concurrent workers.
func (c *Coordinator) Record(ctx context.Context, tx *storage.Tx, endpointID string, result *models.DetectionResult) (*models.Alert, error) {
	lastEventID := result.LastEventID()
	if lastEventID == "" {
		return nil, nil
	}

	exists, err := tx.AlertExists(ctx, result.RuleName, endpointID, lastEventID)
	if err != nil {
		return nil, err
	}
	if exists {
		logger.Debugf("detect: suppressed duplicate of rule=%s endpoint=%s event=%s",
			result.RuleName, endpointID, lastEventID)
		return nil, nil
	}

	alert := buildAlert(endpointID, result, c.now().UTC())
	if err := tx.InsertAlert(ctx, alert); err != nil {
		// A concurrent worker won the race between the probe and the
		// insert. The detection is already recorded; nothing to do.
		if errors.Is(err, storage.ErrDuplicateAlert) {
			logger.Debugf("detect: lost insert race for rule=%s endpoint=%s event=%s",
				result.RuleName, endpointID, lastEventID)
			return nil, nil
		}
		return nil, err
	}

	logger.Infof("detect: alert %s rule=%s endpoint=%s severity=%s score=%d events=%d",
		alert.ID, alert.RuleName, alert.EndpointID, alert.Severity, alert.RiskScore, alert.EventCount)
	return alert, nil
}

func buildAlert(endpointID string, result *models.DetectionResult, createdAt time.Time) *models.Alert {
	linked := make([]string, 0, len(result.MatchedEvents))
	for _, event := range result.MatchedEvents {
		linked = append(linked, event.EventID)
	}
	return &models.Alert{
		ID:             uuid.New().String(),
		RuleName:       result.RuleName,
		EndpointID:     endpointID,
		Severity:       result.Severity,
		RiskScore:      result.RiskScore,
		EventCount:     len(result.MatchedEvents),
		FirstEventID:   linked[0],
		LastEventID:    linked[len(linked)-1],
		LinkedEventIDs: linked,
		Status:         models.StatusOpen,
		CreatedAt:      createdAt,
	}
}

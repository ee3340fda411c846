package correlate

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"nightwatch/internal/logger"
	"nightwatch/internal/risk"
	"nightwatch/internal/storage"
	"nightwatch/pkg/models"
)

// DefaultWindow is how long an endpoint's latest campaign stays open
// for new alerts after its last linked alert.
const DefaultWindow = 15 * time.Minute

// Engine links alerts into per-endpoint campaigns. A new alert either
// extends the endpoint's most recent campaign, when that campaign's
// last alert falls inside the correlation window, or starts a fresh
// one. Each extension recomputes the campaign score from the full
// alert chain.
type Engine struct {
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	endpoints map[string]*sync.Mutex
}

func NewEngine(window time.Duration) *Engine {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Engine{
		window:    window,
		now:       time.Now,
		endpoints: make(map[string]*sync.Mutex),
	}
}

// endpointLock returns the mutex serializing correlation for one
// endpoint. Alerts for different endpoints correlate concurrently;
// alerts for the same endpoint must not, or two workers could both
// miss the other's campaign and split a chain.
func (e *Engine) endpointLock(endpointID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.endpoints[endpointID]
	if !ok {
		lock = &sync.Mutex{}
		e.endpoints[endpointID] = lock
	}
	return lock
}

// Correlate links alert into a campaign inside tx and returns the
// campaign with its recomputed score. extended reports whether an
// existing campaign absorbed the alert rather than a new one starting.
func (e *Engine) Correlate(ctx context.Context, tx *storage.Tx, alert *models.Alert) (campaign *models.Campaign, extended bool, err error) {
	lock := e.endpointLock(alert.EndpointID)
	lock.Lock()
	defer lock.Unlock()

	windowStart := e.now().UTC().Add(-e.window)

	latest, err := tx.LatestCampaign(ctx, alert.EndpointID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}
	if latest != nil {
		lastAlert, err := tx.GetAlert(ctx, latest.LastAlertID)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, false, err
		}
		if lastAlert != nil && !lastAlert.CreatedAt.Before(windowStart) {
			campaign, err = e.extend(ctx, tx, latest, alert)
			return campaign, true, err
		}
	}

	campaign, err = e.create(ctx, tx, alert)
	return campaign, false, err
}

func (e *Engine) create(ctx context.Context, tx *storage.Tx, alert *models.Alert) (*models.Campaign, error) {
	now := e.now().UTC()
	campaign := &models.Campaign{
		ID:           uuid.New().String(),
		EndpointID:   alert.EndpointID,
		ChainLength:  1,
		FirstAlertID: alert.ID,
		LastAlertID:  alert.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := tx.InsertCampaign(ctx, campaign); err != nil {
		return nil, err
	}
	if err := tx.InsertCampaignAlert(ctx, &models.CampaignAlert{
		CampaignID: campaign.ID,
		AlertID:    alert.ID,
		Position:   1,
	}); err != nil {
		return nil, err
	}
	if err := e.rescore(ctx, tx, campaign); err != nil {
		return nil, err
	}
	logger.Infof("correlate: campaign %s started endpoint=%s alert=%s score=%d",
		campaign.ID, campaign.EndpointID, alert.ID, campaign.RiskScore)
	return campaign, nil
}

func (e *Engine) extend(ctx context.Context, tx *storage.Tx, campaign *models.Campaign, alert *models.Alert) (*models.Campaign, error) {
	position := campaign.ChainLength + 1
	if err := tx.InsertCampaignAlert(ctx, &models.CampaignAlert{
		CampaignID: campaign.ID,
		AlertID:    alert.ID,
		Position:   position,
	}); err != nil {
		return nil, err
	}

	campaign.ChainLength = position
	campaign.LastAlertID = alert.ID
	campaign.UpdatedAt = e.now().UTC()
	if err := tx.UpdateCampaignChain(ctx, campaign.ID, campaign.ChainLength, campaign.LastAlertID, campaign.UpdatedAt); err != nil {
		return nil, err
	}
	if err := e.rescore(ctx, tx, campaign); err != nil {
		return nil, err
	}
	logger.Infof("correlate: campaign %s extended endpoint=%s alert=%s chain=%d score=%d",
		campaign.ID, campaign.EndpointID, alert.ID, campaign.ChainLength, campaign.RiskScore)
	return campaign, nil
}

// rescore recomputes the breakdown from every alert linked to the
// campaign and persists it. Scoring always runs over the full chain so
// the stored breakdown is never a partial update.
func (e *Engine) rescore(ctx context.Context, tx *storage.Tx, campaign *models.Campaign) error {
	alerts, err := tx.CampaignAlerts(ctx, campaign.ID)
	if err != nil {
		return err
	}
	breakdown := risk.Score(alerts)
	campaign.ScoreBreakdown = breakdown
	campaign.RiskScore = breakdown.FinalScore
	return tx.UpdateCampaignScore(ctx, campaign.ID, breakdown, campaign.UpdatedAt)
}

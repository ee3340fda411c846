package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nightwatch/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "nightwatch.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testEvent(id string, eventType models.EventType, ts time.Time) *models.Event {
	event := &models.Event{
		EventID:    id,
		EndpointID: "ep-1",
		Type:       eventType,
		Severity:   models.SeverityLow,
		Timestamp:  ts,
	}
	switch eventType {
	case models.EventAuthFailure, models.EventAuthSuccess:
		event.Auth = &models.AuthPayload{Username: "root", SourceIP: "203.0.113.7"}
	default:
		event.Process = &models.ProcessPayload{PID: 42, Name: "bash"}
	}
	return event
}

func testAlert(id, rule, lastEventID string) *models.Alert {
	return &models.Alert{
		ID:             id,
		RuleName:       rule,
		EndpointID:     "ep-1",
		Severity:       models.SeverityHigh,
		RiskScore:      70,
		EventCount:     1,
		FirstEventID:   lastEventID,
		LastEventID:    lastEventID,
		LinkedEventIDs: []string{lastEventID},
		Status:         models.StatusOpen,
		CreatedAt:      time.Now().UTC(),
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	store := openTestStore(t)
	// A second open against the same file must not fail on existing tables.
	require.NoError(t, store.Close())
	again, err := Open(store.path)
	require.NoError(t, err)
	require.NoError(t, again.Close())
}

func TestEventInsertAndDuplicate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := store.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertEvent(ctx, testEvent("ev-1", models.EventProcessStart, now))
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertEvent(ctx, testEvent("ev-1", models.EventProcessStart, now))
	})
	require.ErrorIs(t, err, ErrDuplicateEvent)
}

func TestEventsInWindowBoundsAndOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)

	// Insert out of order; the window query must return by timestamp.
	for _, offset := range []int{30, 0, 61, 15} {
		err := store.WithTx(ctx, func(tx *Tx) error {
			return tx.InsertEvent(ctx, testEvent(fmt.Sprintf("ev-%d", offset),
				models.EventAuthFailure, base.Add(time.Duration(offset)*time.Second)))
		})
		require.NoError(t, err)
	}
	// Different type and different endpoint must not leak in.
	err := store.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertEvent(ctx, testEvent("ev-other-type", models.EventAuthSuccess, base))
	})
	require.NoError(t, err)
	other := testEvent("ev-other-endpoint", models.EventAuthFailure, base)
	other.EndpointID = "ep-2"
	err = store.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertEvent(ctx, other)
	})
	require.NoError(t, err)

	events, err := store.EventsInWindow(ctx, "ep-1", models.EventAuthFailure, base, base.Add(60*time.Second))
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "ev-0", events[0].EventID)
	require.Equal(t, "ev-15", events[1].EventID)
	require.Equal(t, "ev-30", events[2].EventID)
	// Window bounds are inclusive.
	require.True(t, events[0].Timestamp.Equal(base))
}

func TestEventRoundTripPreservesPayload(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 2, 12, 0, 0, 123456789, time.UTC)

	event := testEvent("ev-1", models.EventProcessStart, now)
	event.Process.CommandLine = "bash -c 'curl http://example.com'"
	event.Process.Lineage = []models.LineageEntry{{PID: 1, Command: "systemd"}, {PID: 42, Command: "bash"}}
	err := store.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertEvent(ctx, event)
	})
	require.NoError(t, err)

	events, err := store.EventsInWindow(ctx, "ep-1", models.EventProcessStart, now.Add(-time.Minute), now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	got := events[0]
	require.Equal(t, event.Process.CommandLine, got.Process.CommandLine)
	require.Len(t, got.Process.Lineage, 2)
	require.Equal(t, "systemd", got.Process.Lineage[0].Command)
	require.True(t, got.Timestamp.Equal(now))
}

func TestAlertDedupConstraint(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertAlert(ctx, testAlert("a1", "RULE_A", "ev-1"))
	})
	require.NoError(t, err)

	err = store.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertAlert(ctx, testAlert("a2", "RULE_A", "ev-1"))
	})
	require.ErrorIs(t, err, ErrDuplicateAlert)

	err = store.WithTx(ctx, func(tx *Tx) error {
		exists, err := tx.AlertExists(ctx, "RULE_A", "ep-1", "ev-1")
		require.NoError(t, err)
		require.True(t, exists)
		exists, err = tx.AlertExists(ctx, "RULE_A", "ep-1", "ev-2")
		require.NoError(t, err)
		require.False(t, exists)
		return nil
	})
	require.NoError(t, err)
}

func TestGetAlertNotFound(t *testing.T) {
	store := openTestStore(t)
	_, err := store.GetAlert(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateAlertStatusAndHistory(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.WithTx(ctx, func(tx *Tx) error {
		return tx.InsertAlert(ctx, testAlert("a1", "RULE_A", "ev-1"))
	}))

	changed := time.Date(2026, 5, 2, 13, 0, 0, 0, time.UTC)
	require.NoError(t, store.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertStatusHistory(ctx, &models.AlertStatusHistory{
			AlertID:        "a1",
			PreviousStatus: models.StatusOpen,
			NewStatus:      models.StatusAcknowledged,
			ChangedAt:      changed,
		}); err != nil {
			return err
		}
		return tx.UpdateAlertStatus(ctx, "a1", models.StatusAcknowledged)
	}))

	alert, err := store.GetAlert(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, models.StatusAcknowledged, alert.Status)

	history, err := store.StatusHistory(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, models.StatusOpen, history[0].PreviousStatus)
	require.True(t, history[0].ChangedAt.Equal(changed))

	err = store.WithTx(ctx, func(tx *Tx) error {
		return tx.UpdateAlertStatus(ctx, "missing", models.StatusAcknowledged)
	})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestListAlertsFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a1 := testAlert("a1", "RULE_A", "ev-1")
	a2 := testAlert("a2", "RULE_B", "ev-2")
	a2.Severity = models.SeverityCritical
	a2.RiskScore = 90
	a3 := testAlert("a3", "RULE_A", "ev-3")
	a3.EndpointID = "ep-2"
	for _, a := range []*models.Alert{a1, a2, a3} {
		require.NoError(t, store.WithTx(ctx, func(tx *Tx) error {
			return tx.InsertAlert(ctx, a)
		}))
	}

	all, err := store.ListAlerts(ctx, AlertFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	byEndpoint, err := store.ListAlerts(ctx, AlertFilter{EndpointID: "ep-2"})
	require.NoError(t, err)
	require.Len(t, byEndpoint, 1)
	require.Equal(t, "a3", byEndpoint[0].ID)

	bySeverity, err := store.ListAlerts(ctx, AlertFilter{Severity: models.SeverityCritical})
	require.NoError(t, err)
	require.Len(t, bySeverity, 1)

	byRisk, err := store.ListAlerts(ctx, AlertFilter{MinRisk: 80})
	require.NoError(t, err)
	require.Len(t, byRisk, 1)
	require.Equal(t, "a2", byRisk[0].ID)

	limited, err := store.ListAlerts(ctx, AlertFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
}

func TestCampaignLifecycle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertAlert(ctx, testAlert("a1", "RULE_A", "ev-1")); err != nil {
			return err
		}
		return tx.InsertAlert(ctx, testAlert("a2", "RULE_B", "ev-2"))
	}))

	breakdown := models.ScoreBreakdown{BaseScore: 140, MultiRuleBonus: 15, RawScore: 155, FinalScore: 100, Capped: true}
	require.NoError(t, store.WithTx(ctx, func(tx *Tx) error {
		campaign := &models.Campaign{
			ID:           "c1",
			EndpointID:   "ep-1",
			ChainLength:  1,
			FirstAlertID: "a1",
			LastAlertID:  "a1",
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.InsertCampaign(ctx, campaign); err != nil {
			return err
		}
		if err := tx.InsertCampaignAlert(ctx, &models.CampaignAlert{CampaignID: "c1", AlertID: "a1", Position: 1}); err != nil {
			return err
		}
		if err := tx.InsertCampaignAlert(ctx, &models.CampaignAlert{CampaignID: "c1", AlertID: "a2", Position: 2}); err != nil {
			return err
		}
		if err := tx.UpdateCampaignChain(ctx, "c1", 2, "a2", now.Add(time.Minute)); err != nil {
			return err
		}
		return tx.UpdateCampaignScore(ctx, "c1", breakdown, now.Add(time.Minute))
	}))

	campaign, err := store.GetCampaign(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, 2, campaign.ChainLength)
	require.Equal(t, "a2", campaign.LastAlertID)
	require.Equal(t, 100, campaign.RiskScore)
	require.Equal(t, breakdown, campaign.ScoreBreakdown)

	alerts, err := store.CampaignAlerts(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, "a1", alerts[0].ID)
	require.Equal(t, "a2", alerts[1].ID)
}

func TestLatestCampaignPicksNewest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 2, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertAlert(ctx, testAlert("a1", "RULE_A", "ev-1")); err != nil {
			return err
		}
		if err := tx.InsertAlert(ctx, testAlert("a2", "RULE_A", "ev-2")); err != nil {
			return err
		}
		for i, id := range []string{"c1", "c2"} {
			alertID := fmt.Sprintf("a%d", i+1)
			campaign := &models.Campaign{
				ID:           id,
				EndpointID:   "ep-1",
				ChainLength:  1,
				FirstAlertID: alertID,
				LastAlertID:  alertID,
				CreatedAt:    now.Add(time.Duration(i) * time.Hour),
				UpdatedAt:    now.Add(time.Duration(i) * time.Hour),
			}
			if err := tx.InsertCampaign(ctx, campaign); err != nil {
				return err
			}
		}
		return nil
	}))

	require.NoError(t, store.WithTx(ctx, func(tx *Tx) error {
		latest, err := tx.LatestCampaign(ctx, "ep-1")
		require.NoError(t, err)
		require.Equal(t, "c2", latest.ID)

		_, err = tx.LatestCampaign(ctx, "ep-2")
		require.ErrorIs(t, err, ErrNotFound)
		return nil
	}))
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	err := store.WithTx(ctx, func(tx *Tx) error {
		if err := tx.InsertAlert(ctx, testAlert("a1", "RULE_A", "ev-1")); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	require.Error(t, err)

	_, err = store.GetAlert(ctx, "a1")
	require.ErrorIs(t, err, ErrNotFound)
}

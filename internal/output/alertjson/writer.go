package alertjson

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"nightwatch/internal/logger"
	"nightwatch/pkg/models"
)

// Record is one tap line: the alert together with the campaign it was
// correlated into at write time.
type Record struct {
	Alert             *models.Alert `json:"alert"`
	CampaignID        string        `json:"campaign_id,omitempty"`
	ChainLength       int           `json:"chain_length,omitempty"`
	CampaignRiskScore int           `json:"campaign_risk_score,omitempty"`
}

// Writer appends alert records to a JSON lines tap file. The tap is a
// convenience feed for shipping alerts to external tooling; the
// database stays the source of truth.
type Writer struct {
	file    *os.File
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewWriter opens (or creates) the tap file in append mode.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create tap directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open tap file: %w", err)
	}

	logger.Infof("Alert tap initialized: %s", path)
	return &Writer{
		file:    f,
		encoder: json.NewEncoder(f),
	}, nil
}

// Write appends one record.
func (w *Writer) Write(alert *models.Alert, campaign *models.Campaign) error {
	record := Record{Alert: alert}
	if campaign != nil {
		record.CampaignID = campaign.ID
		record.ChainLength = campaign.ChainLength
		record.CampaignRiskScore = campaign.RiskScore
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.encoder.Encode(record); err != nil {
		return fmt.Errorf("failed to encode alert record: %w", err)
	}
	return nil
}

// Close closes the tap file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		return w.file.Close()
	}
	return nil
}

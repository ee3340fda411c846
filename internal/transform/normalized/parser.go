package normalized

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"nightwatch/pkg/models"
)

var ErrMalformedEvent = errors.New("malformed event")

// Parser validates raw queue payloads into normalized events. Agents
// may omit event_id; everything else must be present and coherent
// before the event is allowed into the pipeline.
type Parser struct{}

func NewParser() *Parser {
	return &Parser{}
}

// Parse decodes and validates one raw event. An event with no id gets
// a generated one; any other gap fails with ErrMalformedEvent.
func (p *Parser) Parse(raw []byte) (*models.Event, error) {
	var event models.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	if err := validate(&event); err != nil {
		return nil, err
	}
	event.Timestamp = event.Timestamp.UTC()
	return &event, nil
}

func validate(event *models.Event) error {
	if event.EndpointID == "" {
		return fmt.Errorf("%w: missing endpoint_id", ErrMalformedEvent)
	}
	if !event.Type.Valid() {
		return fmt.Errorf("%w: unknown event_type %q", ErrMalformedEvent, event.Type)
	}
	if event.Severity == "" {
		event.Severity = models.SeverityInfo
	}
	if !event.Severity.Valid() {
		return fmt.Errorf("%w: unknown severity %q", ErrMalformedEvent, event.Severity)
	}
	if event.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrMalformedEvent)
	}
	if n := event.PayloadCount(); n != 1 {
		return fmt.Errorf("%w: %d payloads, want exactly 1", ErrMalformedEvent, n)
	}
	if err := validatePayload(event); err != nil {
		return err
	}
	return nil
}

// validatePayload checks that the payload group matches the event type.
func validatePayload(event *models.Event) error {
	switch event.Type {
	case models.EventProcessStart, models.EventProcessExit:
		if event.Process == nil {
			return fmt.Errorf("%w: %s without process payload", ErrMalformedEvent, event.Type)
		}
		if event.Process.PID <= 0 {
			return fmt.Errorf("%w: process event with pid %d", ErrMalformedEvent, event.Process.PID)
		}
		if event.Process.Name == "" {
			return fmt.Errorf("%w: process event without name", ErrMalformedEvent)
		}
	case models.EventFileWrite, models.EventFileDelete:
		if event.File == nil {
			return fmt.Errorf("%w: %s without file payload", ErrMalformedEvent, event.Type)
		}
		if event.File.Path == "" {
			return fmt.Errorf("%w: file event without path", ErrMalformedEvent)
		}
	case models.EventNetworkConnect, models.EventDNSQuery:
		if event.Network == nil {
			return fmt.Errorf("%w: %s without network payload", ErrMalformedEvent, event.Type)
		}
	case models.EventAuthSuccess, models.EventAuthFailure:
		if event.Auth == nil {
			return fmt.Errorf("%w: %s without auth payload", ErrMalformedEvent, event.Type)
		}
	}
	return nil
}

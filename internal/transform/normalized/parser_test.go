package normalized

import (
	"errors"
	"testing"

	"nightwatch/pkg/models"
)

const validProcessStart = `{
	"event_id": "ev-1",
	"endpoint_id": "ep-1",
	"event_type": "process_start",
	"severity": "low",
	"timestamp": "2026-05-02T12:00:00Z",
	"process": {"pid": 4242, "ppid": 1, "name": "curl", "command_line": "curl http://example.com"}
}`

func TestParseValidEvent(t *testing.T) {
	p := NewParser()
	event, err := p.Parse([]byte(validProcessStart))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.EventID != "ev-1" || event.EndpointID != "ep-1" {
		t.Fatalf("identity fields wrong: %+v", event)
	}
	if event.Type != models.EventProcessStart {
		t.Fatalf("type = %q, want process_start", event.Type)
	}
	if event.Process == nil || event.Process.PID != 4242 || event.Process.Name != "curl" {
		t.Fatalf("process payload wrong: %+v", event.Process)
	}
}

func TestParseGeneratesMissingEventID(t *testing.T) {
	p := NewParser()
	raw := `{"endpoint_id": "ep-1", "event_type": "auth_failure", "severity": "medium",
		"timestamp": "2026-05-02T12:00:00Z", "auth": {"username": "root", "source_ip": "10.0.0.9"}}`
	event, err := p.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.EventID == "" {
		t.Fatal("event id should be generated")
	}
}

func TestParseDefaultsSeverity(t *testing.T) {
	p := NewParser()
	raw := `{"event_id": "ev-1", "endpoint_id": "ep-1", "event_type": "dns_query",
		"timestamp": "2026-05-02T12:00:00Z", "network": {"domain": "example.com"}}`
	event, err := p.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Severity != models.SeverityInfo {
		t.Fatalf("severity = %q, want info", event.Severity)
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `{"event_id":`},
		{"missing endpoint", `{"event_id": "ev-1", "event_type": "process_start", "severity": "low",
			"timestamp": "2026-05-02T12:00:00Z", "process": {"pid": 1, "name": "init"}}`},
		{"unknown type", `{"event_id": "ev-1", "endpoint_id": "ep-1", "event_type": "reboot", "severity": "low",
			"timestamp": "2026-05-02T12:00:00Z", "process": {"pid": 1, "name": "init"}}`},
		{"unknown severity", `{"event_id": "ev-1", "endpoint_id": "ep-1", "event_type": "process_start", "severity": "urgent",
			"timestamp": "2026-05-02T12:00:00Z", "process": {"pid": 1, "name": "init"}}`},
		{"missing timestamp", `{"event_id": "ev-1", "endpoint_id": "ep-1", "event_type": "process_start", "severity": "low",
			"process": {"pid": 1, "name": "init"}}`},
		{"no payload", `{"event_id": "ev-1", "endpoint_id": "ep-1", "event_type": "process_start", "severity": "low",
			"timestamp": "2026-05-02T12:00:00Z"}`},
		{"two payloads", `{"event_id": "ev-1", "endpoint_id": "ep-1", "event_type": "process_start", "severity": "low",
			"timestamp": "2026-05-02T12:00:00Z", "process": {"pid": 1, "name": "init"}, "file": {"path": "/tmp/x"}}`},
		{"payload type mismatch", `{"event_id": "ev-1", "endpoint_id": "ep-1", "event_type": "file_write", "severity": "low",
			"timestamp": "2026-05-02T12:00:00Z", "process": {"pid": 1, "name": "init"}}`},
		{"process without pid", `{"event_id": "ev-1", "endpoint_id": "ep-1", "event_type": "process_start", "severity": "low",
			"timestamp": "2026-05-02T12:00:00Z", "process": {"name": "init"}}`},
		{"process without name", `{"event_id": "ev-1", "endpoint_id": "ep-1", "event_type": "process_start", "severity": "low",
			"timestamp": "2026-05-02T12:00:00Z", "process": {"pid": 1}}`},
		{"file without path", `{"event_id": "ev-1", "endpoint_id": "ep-1", "event_type": "file_delete", "severity": "low",
			"timestamp": "2026-05-02T12:00:00Z", "file": {"pid": 1}}`},
	}
	p := NewParser()
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := p.Parse([]byte(tc.raw)); !errors.Is(err, ErrMalformedEvent) {
				t.Fatalf("err = %v, want ErrMalformedEvent", err)
			}
		})
	}
}

func TestParseNormalizesTimestampToUTC(t *testing.T) {
	p := NewParser()
	raw := `{"event_id": "ev-1", "endpoint_id": "ep-1", "event_type": "auth_success", "severity": "info",
		"timestamp": "2026-05-02T14:00:00+02:00", "auth": {"username": "deploy"}}`
	event, err := p.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if event.Timestamp.Location() != nil && event.Timestamp.Location().String() != "UTC" {
		t.Fatalf("timestamp location = %v, want UTC", event.Timestamp.Location())
	}
	if event.Timestamp.Hour() != 12 {
		t.Fatalf("timestamp hour = %d, want 12 UTC", event.Timestamp.Hour())
	}
}

package models

import (
	"fmt"
	"time"
)

// EventType classifies a normalized telemetry event.
type EventType string

const (
	EventProcessStart   EventType = "process_start"
	EventProcessExit    EventType = "process_exit"
	EventFileWrite      EventType = "file_write"
	EventFileDelete     EventType = "file_delete"
	EventNetworkConnect EventType = "network_connect"
	EventDNSQuery       EventType = "dns_query"
	EventAuthSuccess    EventType = "auth_success"
	EventAuthFailure    EventType = "auth_failure"
)

// Valid reports whether the event type is a known value.
func (t EventType) Valid() bool {
	switch t {
	case EventProcessStart, EventProcessExit, EventFileWrite, EventFileDelete,
		EventNetworkConnect, EventDNSQuery, EventAuthSuccess, EventAuthFailure:
		return true
	}
	return false
}

// Severity is the reported severity of an event or alert.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is a known value.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// LineageEntry is one hop in a process ancestry chain, oldest first.
type LineageEntry struct {
	PID         int    `json:"pid"`
	Command     string `json:"command"`
	CommandLine string `json:"command_line,omitempty"`
}

// ProcessPayload carries process start/exit details.
type ProcessPayload struct {
	PID         int            `json:"pid"`
	PPID        int            `json:"ppid,omitempty"`
	Name        string         `json:"name"`
	CommandLine string         `json:"command_line,omitempty"`
	UID         int            `json:"uid,omitempty"`
	Username    string         `json:"username,omitempty"`
	Lineage     []LineageEntry `json:"lineage,omitempty"`
}

// FilePayload carries file activity details.
type FilePayload struct {
	Path      string `json:"path"`
	Operation string `json:"operation,omitempty"`
	PID       int    `json:"pid,omitempty"`
	Process   string `json:"process,omitempty"`
}

// NetworkPayload carries network or DNS activity details.
type NetworkPayload struct {
	DestinationIP   string `json:"destination_ip,omitempty"`
	DestinationPort int    `json:"destination_port,omitempty"`
	Protocol        string `json:"protocol,omitempty"`
	Domain          string `json:"domain,omitempty"`
	PID             int    `json:"pid,omitempty"`
	Process         string `json:"process,omitempty"`
}

// AuthPayload carries authentication activity details.
type AuthPayload struct {
	Username string `json:"username,omitempty"`
	SourceIP string `json:"source_ip,omitempty"`
	Method   string `json:"method,omitempty"`
	TTY      string `json:"tty,omitempty"`
}

// Event is a normalized telemetry event. Exactly one of the payload
// pointers is non-nil; the parser enforces that before an Event enters
// the pipeline.
type Event struct {
	EventID    string          `json:"event_id"`
	EndpointID string          `json:"endpoint_id"`
	Type       EventType       `json:"event_type"`
	Severity   Severity        `json:"severity"`
	Timestamp  time.Time       `json:"timestamp"`
	Process    *ProcessPayload `json:"process,omitempty"`
	File       *FilePayload    `json:"file,omitempty"`
	Network    *NetworkPayload `json:"network,omitempty"`
	Auth       *AuthPayload    `json:"auth,omitempty"`
}

// PayloadCount returns how many payload groups are present.
func (e *Event) PayloadCount() int {
	n := 0
	if e.Process != nil {
		n++
	}
	if e.File != nil {
		n++
	}
	if e.Network != nil {
		n++
	}
	if e.Auth != nil {
		n++
	}
	return n
}

// View renders the event as a nested map for dot-path field resolution
// by rule predicates.
func (e *Event) View() map[string]interface{} {
	view := map[string]interface{}{
		"event_id":    e.EventID,
		"endpoint_id": e.EndpointID,
		"event_type":  string(e.Type),
		"severity":    string(e.Severity),
		"timestamp":   e.Timestamp.UTC().Format(time.RFC3339),
	}
	if e.Process != nil {
		proc := map[string]interface{}{
			"pid":          e.Process.PID,
			"ppid":         e.Process.PPID,
			"name":         e.Process.Name,
			"command_line": e.Process.CommandLine,
			"uid":          e.Process.UID,
			"username":     e.Process.Username,
		}
		if len(e.Process.Lineage) > 0 {
			cmds := make([]string, 0, len(e.Process.Lineage))
			for _, entry := range e.Process.Lineage {
				cmds = append(cmds, entry.Command)
			}
			proc["lineage"] = cmds
		}
		view["process"] = proc
	}
	if e.File != nil {
		view["file"] = map[string]interface{}{
			"path":      e.File.Path,
			"operation": e.File.Operation,
			"pid":       e.File.PID,
			"process":   e.File.Process,
		}
	}
	if e.Network != nil {
		view["network"] = map[string]interface{}{
			"destination_ip":   e.Network.DestinationIP,
			"destination_port": e.Network.DestinationPort,
			"protocol":         e.Network.Protocol,
			"domain":           e.Network.Domain,
			"pid":              e.Network.PID,
			"process":          e.Network.Process,
		}
	}
	if e.Auth != nil {
		view["auth"] = map[string]interface{}{
			"username":  e.Auth.Username,
			"source_ip": e.Auth.SourceIP,
			"method":    e.Auth.Method,
			"tty":       e.Auth.TTY,
		}
	}
	return view
}

// FlatView renders the event as a single-level map with dot-joined keys,
// for evaluators that expect flat field names.
func (e *Event) FlatView() map[string]interface{} {
	flat := make(map[string]interface{}, 16)
	for key, value := range e.View() {
		nested, ok := value.(map[string]interface{})
		if !ok {
			flat[key] = value
			continue
		}
		for sub, subValue := range nested {
			flat[key+"."+sub] = subValue
		}
	}
	return flat
}

func (e *Event) String() string {
	return fmt.Sprintf("%s/%s@%s", e.Type, e.EventID, e.EndpointID)
}

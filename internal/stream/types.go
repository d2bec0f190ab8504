// Package stream implements the output streaming pipeline's enrichment
// and publication half: transforming Supervisor OutputEvents into
// tenancy-tagged StreamEvents, batching them onto the shared event bus
// with per-message retry, and appending them to a bounded replay history.
package stream

import (
	"time"

	"github.com/specifiedcodes/devos-orchestrator/internal/parser"
)

// EventType is the StreamEvent's refined classification
type EventType string

const (
	TypeOutput     EventType = "output"
	TypeCommand    EventType = "command"
	TypeFileChange EventType = "file_change"
	TypeTestResult EventType = "test_result"
	TypeError      EventType = "error"
)

// Metadata carries the discriminated fields selectively populated by
// the enrichment transform. Fields are omitted from JSON when zero.
type Metadata struct {
	OutputType string `json:"outputType,omitempty"`

	FileName   string `json:"fileName,omitempty"`
	FilePath   string `json:"filePath,omitempty"`
	ChangeType string `json:"changeType,omitempty"`

	TestName   string              `json:"testName,omitempty"`
	TestStatus string              `json:"testStatus,omitempty"`
	Summary    *parser.TestSummary `json:"summary,omitempty"`

	ErrorType string `json:"errorType,omitempty"`
	ErrorCode string `json:"errorCode,omitempty"`
}

// IsEmpty reports whether no discriminated field was populated, in which
// case the StreamEvent omits Metadata entirely.
func (m *Metadata) IsEmpty() bool {
	if m == nil {
		return true
	}
	return *m == Metadata{}
}

// StreamEvent is the Publisher's enriched, tenancy-tagged form of an
// OutputEvent
type StreamEvent struct {
	SessionID   string    `json:"sessionId"`
	AgentID     string    `json:"agentId"`
	ProjectID   string    `json:"projectId"`
	WorkspaceID string    `json:"workspaceId"`
	Type        EventType `json:"type"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	LineNumber  int       `json:"lineNumber"`
	Metadata    *Metadata `json:"metadata,omitempty"`
}


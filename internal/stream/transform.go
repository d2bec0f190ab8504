package stream

import (
	"github.com/specifiedcodes/devos-orchestrator/internal/parser"
	"github.com/specifiedcodes/devos-orchestrator/internal/session"
)

// Transform converts one Supervisor OutputEvent into a StreamEvent:
// identity/tenancy fields are copied, Type is the Parser's
// classification unless the source was already "command" (preserved
// verbatim — a command line is never reclassified), and Metadata is
// populated selectively per enriched type, omitted entirely when empty.
func Transform(e session.OutputEvent, projectID, workspaceID string) StreamEvent {
	out := StreamEvent{
		SessionID:   e.SessionID,
		AgentID:     e.AgentID,
		ProjectID:   projectID,
		WorkspaceID: workspaceID,
		Content:     e.Content,
		Timestamp:   e.Timestamp,
		LineNumber:  e.LineNumber,
	}

	if e.Type == session.EventCommand {
		out.Type = TypeCommand
		return out
	}

	result := parser.Parse(e.Content)
	out.Type = toEventType(result.Type)
	out.Metadata = toMetadata(e.Type, result)
	return out
}

func toEventType(c parser.Classification) EventType {
	switch c {
	case parser.ClassCommand:
		return TypeCommand
	case parser.ClassFileChange:
		return TypeFileChange
	case parser.ClassTestResult:
		return TypeTestResult
	case parser.ClassError:
		return TypeError
	default:
		return TypeOutput
	}
}

func toMetadata(sourceType session.OutputEventType, result parser.Result) *Metadata {
	var md Metadata

	switch result.Type {
	case parser.ClassFileChange:
		if result.Metadata != nil {
			md.FileName = result.Metadata.FileName
			md.FilePath = result.Metadata.FilePath
			md.ChangeType = string(result.Metadata.ChangeType)
		}
	case parser.ClassTestResult:
		if result.Metadata != nil {
			md.TestName = result.Metadata.TestName
			md.FilePath = result.Metadata.FilePath
			if result.Metadata.Summary != nil {
				md.Summary = result.Metadata.Summary
				md.TestStatus = string(result.Metadata.Summary.OverallStatus())
			} else {
				md.TestStatus = string(result.Metadata.TestStatus)
			}
		}
	case parser.ClassError:
		if result.Metadata != nil {
			md.ErrorType = result.Metadata.ErrorType
			md.ErrorCode = result.Metadata.ErrorCode
		}
	default:
		if sourceType == session.EventStdout || sourceType == session.EventStderr {
			md.OutputType = string(sourceType)
		}
	}

	if md.IsEmpty() {
		return nil
	}
	return &md
}

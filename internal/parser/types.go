// Package parser classifies raw CLI output lines into semantic events
//: file changes, test results, language-runtime errors, shell
// commands, or plain output. It is a pure function over line content — no
// I/O, no state
// in agentctl/server/process/claude_code_detector.go (package-level
// compiled regexes, ordered detection passes).
package parser

// Classification is the semantic bucket a line falls into.
type Classification string

const (
	ClassOutput     Classification = "output"
	ClassCommand    Classification = "command"
	ClassFileChange Classification = "file_change"
	ClassTestResult Classification = "test_result"
	ClassError      Classification = "error"
)

// ChangeType is the kind of file mutation a file_change line describes.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeEdited  ChangeType = "edited"
	ChangeDeleted ChangeType = "deleted"
)

// TestStatus is the pass/fail verdict of a test_result line.
type TestStatus string

const (
	TestPassed TestStatus = "passed"
	TestFailed TestStatus = "failed"
)

// TestSummary carries the parsed counts of a "Tests: X passed, ..." line.
type TestSummary struct {
	Passed  int
	Skipped int
	Failed  int
	Total   int
}

// Metadata carries the discriminated fields produced by a non-output
// classification. Only the fields relevant to Type are populated.
type Metadata struct {
	FileName   string
	FilePath   string
	ChangeType ChangeType

	TestName   string
	TestStatus TestStatus
	Summary    *TestSummary

	ErrorType string
	ErrorCode string
}

// Result is the outcome of classifying one line.
type Result struct {
	Type     Classification
	Metadata *Metadata
}

package parser

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	commandPattern = regexp.MustCompile(`^\$\s+.+`)

	fileChangePattern = regexp.MustCompile(`^>\s*(Creating|Writing|Adding|Editing|Modifying|Updating|Deleting|Removing)\s+(.+)$`)

	passFailPattern = regexp.MustCompile(`^(PASS|FAIL)\s+(.+)$`)
	testsSummaryLead = regexp.MustCompile(`^Tests:\s*(.+)$`)
	summarySegment   = regexp.MustCompile(`^(\d+)\s+(passed|skipped|failed|total)$`)
	tapPattern       = regexp.MustCompile(`^(not\s+)?ok\s+(\d+)\s*-\s*(.+)$`)
	checkPassPattern = regexp.MustCompile(`^[✓✔]\s+(.+?)(?:\s+\(([^)]+)\))?\s*$`)
	checkFailPattern = regexp.MustCompile(`^[✕✗✘×]\s+(.+?)\s*$`)

	runtimeErrorPattern = regexp.MustCompile(`^(SyntaxError|TypeError|ReferenceError|RangeError|URIError|EvalError|Error):\s*(.*)$`)
	typeCheckErrorPattern = regexp.MustCompile(`^error (TS\d+):\s*(.*)$`)
	npmErrorPattern       = regexp.MustCompile(`^npm ERR!\s*(?:([A-Z][A-Z0-9_]*)\s+)?(.*)$`)
)

// createVerbs/editVerbs/deleteVerbs classify the leading verb of a
// file_change line into its ChangeType.
var (
	createVerbs = map[string]bool{"Creating": true, "Writing": true, "Adding": true}
	editVerbs   = map[string]bool{"Editing": true, "Modifying": true, "Updating": true}
	deleteVerbs = map[string]bool{"Deleting": true, "Removing": true}
)

// Parse classifies a single raw output line, applying deterministic
// rules in order: command, file_change, test_result, error, then output
// as the default.
func Parse(line string) Result {
	stripped := StripANSI(line)

	if commandPattern.MatchString(stripped) {
		return Result{Type: ClassCommand}
	}

	if r, ok := parseFileChange(stripped); ok {
		return r
	}

	if r, ok := parseTestResult(stripped); ok {
		return r
	}

	if r, ok := parseError(stripped); ok {
		return r
	}

	return Result{Type: ClassOutput}
}

// parseFileChange matches rule 2: a candidate path must look like a file
// (its last '/'-separated segment contains a dot), with a trailing
// ellipsis stripped before the look-like-a-file check.
func parseFileChange(line string) (Result, bool) {
	m := fileChangePattern.FindStringSubmatch(line)
	if m == nil {
		return Result{}, false
	}
	verb, path := m[1], strings.TrimSpace(m[2])
	path = strings.TrimSuffix(path, "...")
	path = strings.TrimSuffix(path, "…")
	path = strings.TrimSpace(path)

	if !looksLikeFile(path) {
		return Result{}, false
	}

	var ct ChangeType
	switch {
	case createVerbs[verb]:
		ct = ChangeCreated
	case editVerbs[verb]:
		ct = ChangeEdited
	case deleteVerbs[verb]:
		ct = ChangeDeleted
	default:
		return Result{}, false
	}

	segments := strings.Split(path, "/")
	fileName := segments[len(segments)-1]

	return Result{
		Type: ClassFileChange,
		Metadata: &Metadata{
			FileName:   fileName,
			FilePath:   path,
			ChangeType: ct,
		},
	}, true
}

func looksLikeFile(path string) bool {
	segments := strings.Split(path, "/")
	last := segments[len(segments)-1]
	return strings.Contains(last, ".")
}

// parseTestResult matches rule 3's four recognized forms.
func parseTestResult(line string) (Result, bool) {
	if m := passFailPattern.FindStringSubmatch(line); m != nil {
		status := TestFailed
		if m[1] == "PASS" {
			status = TestPassed
		}
		path := strings.TrimSpace(m[2])
		segments := strings.Split(path, "/")
		testName := segments[len(segments)-1]
		return Result{
			Type: ClassTestResult,
			Metadata: &Metadata{
				TestName:   testName,
				FilePath:   path,
				TestStatus: status,
			},
		}, true
	}

	if m := testsSummaryLead.FindStringSubmatch(line); m != nil {
		if summary, ok := parseTestsSummary(m[1]); ok {
			return Result{
				Type:     ClassTestResult,
				Metadata: &Metadata{Summary: summary},
			}, true
		}
	}

	if m := tapPattern.FindStringSubmatch(line); m != nil {
		status := TestPassed
		if strings.TrimSpace(m[1]) == "not" {
			status = TestFailed
		}
		return Result{
			Type: ClassTestResult,
			Metadata: &Metadata{
				TestName:   strings.TrimSpace(m[3]),
				TestStatus: status,
			},
		}, true
	}

	if m := checkPassPattern.FindStringSubmatch(line); m != nil {
		return Result{
			Type: ClassTestResult,
			Metadata: &Metadata{
				TestName:   strings.TrimSpace(m[1]),
				TestStatus: TestPassed,
			},
		}, true
	}

	if m := checkFailPattern.FindStringSubmatch(line); m != nil {
		return Result{
			Type: ClassTestResult,
			Metadata: &Metadata{
				TestName:   strings.TrimSpace(m[1]),
				TestStatus: TestFailed,
			},
		}, true
	}

	return Result{}, false
}

// parseTestsSummary parses the comma-separated segments of a
// "Tests: X passed, Y skipped, Z failed, T total" line. Any subset and
// order of the four segment kinds is accepted, per its
// "and the alt/skipped variants".
func parseTestsSummary(rest string) (*TestSummary, bool) {
	segments := strings.Split(rest, ",")
	summary := &TestSummary{}
	matched := false
	for _, seg := range segments {
		seg = strings.TrimSpace(seg)
		m := summarySegment.FindStringSubmatch(seg)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		matched = true
		switch m[2] {
		case "passed":
			summary.Passed = n
		case "skipped":
			summary.Skipped = n
		case "failed":
			summary.Failed = n
		case "total":
			summary.Total = n
		}
	}
	if !matched {
		return nil, false
	}
	return summary, true
}

// parseError matches rule 4's three recognized error families.
func parseError(line string) (Result, bool) {
	if m := runtimeErrorPattern.FindStringSubmatch(line); m != nil {
		return Result{
			Type:     ClassError,
			Metadata: &Metadata{ErrorType: m[1]},
		}, true
	}

	if m := typeCheckErrorPattern.FindStringSubmatch(line); m != nil {
		return Result{
			Type: ClassError,
			Metadata: &Metadata{
				ErrorType: "TypeCheckError",
				ErrorCode: m[1],
			},
		}, true
	}

	if m := npmErrorPattern.FindStringSubmatch(line); m != nil {
		return Result{
			Type: ClassError,
			Metadata: &Metadata{
				ErrorType: "PackageManagerError",
				ErrorCode: m[1],
			},
		}, true
	}

	return Result{}, false
}

// OverallStatus derives the pass/fail verdict of a test summary: failed
// iff the failed count is greater than zero
func (s *TestSummary) OverallStatus() TestStatus {
	if s.Failed > 0 {
		return TestFailed
	}
	return TestPassed
}

package parser

import "regexp"

// ansiEscapePattern matches CSI/OSC-style ANSI escape sequences (color
// codes, cursor movement). Test-result and error lines are frequently
// color-prefixed by the CLI tools this system supervises; matching must
// happen on the stripped text while the original content is preserved
// for the StreamEvent.
var ansiEscapePattern = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// StripANSI removes ANSI escape sequences from a line.
func StripANSI(line string) string {
	return ansiEscapePattern.ReplaceAllString(line, "")
}

package session

import (
	"fmt"
	"regexp"
)

// canonicalIDPattern matches the conventional 36-character hyphenated UUID
// form. Shape is validated ONLY when a value already has the telltale
// 36-character length — shorter or longer ids (slugs, test fixtures) are
// accepted without shape validation.
var canonicalIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// validateID rejects empty ids outright, and opportunistically checks shape
// for ids whose length already matches the canonical 36-character form.
func validateID(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidArgument, field)
	}
	if len(value) == 36 && !canonicalIDPattern.MatchString(value) {
		return fmt.Errorf("%w: %s does not look like a canonical id: %q", ErrInvalidArgument, field, value)
	}
	return nil
}

func validateNonEmpty(field, value string) error {
	if value == "" {
		return fmt.Errorf("%w: %s must not be empty", ErrInvalidArgument, field)
	}
	return nil
}

package ldap

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ErrEmptyFilter is returned when the user input is blank.
var ErrEmptyFilter = errors.New("search filter is empty")

// FilterSpec describes how user input is matched in one directory.
type FilterSpec struct {
	MatchAttributes []string // Attributes matched as substrings of the input
	ObjectFilter    string   // Restricts results, e.g. (objectClass=person)
	IdentityMatch   bool     // Also match objectSid/objectGUID when the input is one
}

// BuildUserFilter turns free text into an LDAP filter: a substring match of
// the escaped input on every match attribute, ORed together and ANDed with
// the object filter.
func BuildUserFilter(input string, spec FilterSpec) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyFilter
	}
	if len(spec.MatchAttributes) == 0 {
		return "", errors.New("no match attributes configured")
	}

	escaped := ldap.EscapeFilter(input)
	terms := make([]string, 0, len(spec.MatchAttributes)+1)
	for _, attr := range spec.MatchAttributes {
		terms = append(terms, fmt.Sprintf("(%s=*%s*)", attr, escaped))
	}

	if spec.IdentityMatch {
		switch {
		case IsSID(input):
			f, err := SIDFilter(input)
			if err != nil {
				return "", err
			}
			terms = append(terms, f)
		case IsGUID(input):
			f, err := GUIDFilter(input)
			if err != nil {
				return "", err
			}
			terms = append(terms, f)
		}
	}

	filter := terms[0]
	if len(terms) > 1 {
		filter = "(|" + strings.Join(terms, "") + ")"
	}

	if objectFilter := strings.TrimSpace(spec.ObjectFilter); objectFilter != "" {
		if err := ValidateFilter(objectFilter); err != nil {
			return "", fmt.Errorf("object filter: %w", err)
		}
		filter = "(&" + objectFilter + filter + ")"
	}

	if err := ValidateFilter(filter); err != nil {
		return "", err
	}
	return filter, nil
}

// ValidateFilter checks that filter compiles.
func ValidateFilter(filter string) error {
	if _, err := ldap.CompileFilter(filter); err != nil {
		return fmt.Errorf("invalid filter %q: %w", filter, err)
	}
	return nil
}

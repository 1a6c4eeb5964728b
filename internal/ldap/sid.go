package ldap

import (
	"fmt"
	"regexp"

	"github.com/bwmarrin/go-objectsid"
)

// minSIDLength is the size of a SID with no sub-authorities.
const minSIDLength = 8

var sidStringRegex = regexp.MustCompile(`^S-1-\d+(-\d+)+$`)

// DecodeSID renders a binary objectSid in S-1-5-21-... form.
func DecodeSID(b []byte) (string, error) {
	if len(b) < minSIDLength {
		return "", fmt.Errorf("invalid SID length: %d bytes", len(b))
	}

	// Sub-authority count and total length must agree
	if want := minSIDLength + 4*int(b[1]); len(b) != want {
		return "", fmt.Errorf("invalid SID length: expected %d bytes, got %d", want, len(b))
	}

	sid := objectsid.Decode(b)
	return sid.String(), nil
}

// IsSID reports whether s looks like a SID string.
func IsSID(s string) bool {
	return sidStringRegex.MatchString(s)
}

// SIDFilter returns an equality filter matching objectSid against a SID
// string. Active Directory accepts the string form directly.
func SIDFilter(s string) (string, error) {
	if !IsSID(s) {
		return "", fmt.Errorf("invalid SID %q", s)
	}
	return "(objectSid=" + s + ")", nil
}

package ldap

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// GUIDBytesLength is the size of a binary objectGUID value.
const GUIDBytesLength = 16

// swapGUIDEndianness converts between the Active Directory mixed-endian
// layout and RFC 4122 byte order. The first three fields are little-endian
// in AD; the last eight bytes are stored as-is. The conversion is its own
// inverse.
func swapGUIDEndianness(b []byte) []byte {
	out := make([]byte, GUIDBytesLength)
	out[0], out[1], out[2], out[3] = b[3], b[2], b[1], b[0]
	out[4], out[5] = b[5], b[4]
	out[6], out[7] = b[7], b[6]
	copy(out[8:], b[8:])
	return out
}

// DecodeGUID renders a binary objectGUID as a lowercase hyphenated string.
func DecodeGUID(b []byte) (string, error) {
	if len(b) != GUIDBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", GUIDBytesLength, len(b))
	}

	u, err := uuid.FromBytes(swapGUIDEndianness(b))
	if err != nil {
		return "", fmt.Errorf("invalid GUID: %w", err)
	}
	return u.String(), nil
}

// EncodeGUID converts a GUID string, hyphenated or compact, to the binary
// form stored in objectGUID.
func EncodeGUID(s string) ([]byte, error) {
	u, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("invalid GUID %q: %w", s, err)
	}
	return swapGUIDEndianness(u[:]), nil
}

// IsGUID reports whether s parses as a GUID.
func IsGUID(s string) bool {
	s = strings.TrimSpace(s)
	if len(s) != 32 && len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// escapeBinary escapes every byte of b for use as an assertion value in a
// search filter.
func escapeBinary(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for _, c := range b {
		fmt.Fprintf(&sb, `\%02x`, c)
	}
	return sb.String()
}

// GUIDFilter returns an equality filter matching objectGUID against s.
func GUIDFilter(s string) (string, error) {
	b, err := EncodeGUID(s)
	if err != nil {
		return "", err
	}
	return "(objectGUID=" + escapeBinary(b) + ")", nil
}

package ldap

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Synthetic attributes derived from the entry DN. They are never requested
// from the server.
const (
	RDNAttribute    = "rdn"    // Value of the first RDN, e.g. "Jean Dupont"
	ParentAttribute = "parent" // DN of the container holding the entry
)

// syntheticAttributes lists every attribute computed locally, lower-cased.
var syntheticAttributes = map[string]bool{
	DNAttribute:     true,
	RDNAttribute:    true,
	ParentAttribute: true,
}

// IsSyntheticAttribute reports whether name is computed from the DN rather
// than returned by the server.
func IsSyntheticAttribute(name string) bool {
	return syntheticAttributes[strings.ToLower(name)]
}

// RDNValue returns the value of the first RDN of dn. Multi-valued RDNs are
// joined with "+".
func RDNValue(dn string) (string, error) {
	parsed, err := parseDN(dn)
	if err != nil {
		return "", err
	}

	values := make([]string, len(parsed.RDNs[0].Attributes))
	for i, attr := range parsed.RDNs[0].Attributes {
		values[i] = attr.Value
	}
	return strings.Join(values, "+"), nil
}

// ParentDN returns dn without its first RDN, with attribute types
// upper-cased. A single-RDN DN has no parent.
func ParentDN(dn string) (string, error) {
	parsed, err := parseDN(dn)
	if err != nil {
		return "", err
	}
	if len(parsed.RDNs) < 2 {
		return "", fmt.Errorf("DN has no parent: %s", dn)
	}
	return formatDN(parsed.RDNs[1:]), nil
}

func parseDN(dn string) (*ldap.DN, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return nil, fmt.Errorf("DN cannot be empty")
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return nil, fmt.Errorf("invalid DN syntax: %w", err)
	}
	if len(parsed.RDNs) == 0 {
		return nil, fmt.Errorf("DN has no components: %s", dn)
	}
	return parsed, nil
}

// formatDN rebuilds a DN string with upper-case attribute types, escaping
// values again.
func formatDN(rdns []*ldap.RelativeDN) string {
	parts := make([]string, len(rdns))
	for i, rdn := range rdns {
		attrs := make([]string, len(rdn.Attributes))
		for j, attr := range rdn.Attributes {
			attrs[j] = strings.ToUpper(attr.Type) + "=" + escapeDNValue(attr.Value)
		}
		parts[i] = strings.Join(attrs, "+")
	}
	return strings.Join(parts, ",")
}

// escapeDNValue escapes an attribute value for use in a DN (RFC 4514).
func escapeDNValue(value string) string {
	var b strings.Builder
	b.Grow(len(value) + 8)

	for i, r := range value {
		switch {
		case strings.ContainsRune(`,+"\<>;`, r):
			b.WriteByte('\\')
		case r == '#' && i == 0:
			b.WriteByte('\\')
		case r == ' ' && (i == 0 || i == len(value)-1):
			b.WriteByte('\\')
		case r == 0:
			b.WriteString(`\00`)
			continue
		}
		b.WriteRune(r)
	}

	return b.String()
}

// dnAttributes derives the synthetic attribute values of dn. Parts that
// cannot be derived are omitted.
func dnAttributes(dn string) map[string]string {
	attrs := map[string]string{DNAttribute: dn}
	if rdn, err := RDNValue(dn); err == nil {
		attrs[RDNAttribute] = rdn
	}
	if parent, err := ParentDN(dn); err == nil {
		attrs[ParentAttribute] = parent
	}
	return attrs
}

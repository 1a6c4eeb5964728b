package ldap

import (
	"slices"
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/dirsearch/internal/table"
)

// DNAttribute is the synthetic attribute carrying an entry's DN.
const DNAttribute = "dn"

// binaryDecoders render binary attribute values as text.
var binaryDecoders = map[string]func([]byte) (string, error){
	"objectsid":  DecodeSID,
	"objectguid": DecodeGUID,
}

// EntryToRecord converts a search entry to a record keyed by the attribute
// names as spelled in requested, so that lookups by configured column names
// succeed whatever case the server returns. A name requested in several
// spellings gets the values under each of them. Attributes not requested
// keep the server's spelling. The entry DN is added under DNAttribute, and
// the RDNAttribute and ParentAttribute values derived from it when requested.
func EntryToRecord(entry *ldap.Entry, requested []string) table.Record {
	if entry == nil {
		return nil
	}

	spellings := make(map[string][]string, len(requested))
	for _, name := range requested {
		lower := strings.ToLower(name)
		if !slices.Contains(spellings[lower], name) {
			spellings[lower] = append(spellings[lower], name)
		}
	}

	record := make(table.Record, len(entry.Attributes)+1)
	for _, attr := range entry.Attributes {
		lower := strings.ToLower(attr.Name)
		keys, ok := spellings[lower]
		if !ok {
			keys = []string{attr.Name}
		}
		values := attributeValues(lower, attr)
		for _, key := range keys {
			record[key] = values
		}
	}

	if entry.DN != "" {
		for name, value := range dnAttributes(entry.DN) {
			keys, ok := spellings[name]
			if !ok {
				if name != DNAttribute {
					continue
				}
				keys = []string{name}
			}
			for _, key := range keys {
				if _, exists := record[key]; !exists {
					record[key] = []string{value}
				}
			}
		}
	}

	return record
}

// attributeValues returns the text values of attr, decoding known binary
// attributes. A value that fails to decode is kept as received.
func attributeValues(lowerName string, attr *ldap.EntryAttribute) []string {
	decode, ok := binaryDecoders[lowerName]
	if !ok || len(attr.ByteValues) == 0 {
		return attr.Values
	}

	values := make([]string, len(attr.ByteValues))
	for i, raw := range attr.ByteValues {
		s, err := decode(raw)
		if err != nil {
			s = string(raw)
		}
		values[i] = s
	}
	return values
}

// EntriesToRecords converts every entry.
func EntriesToRecords(entries []*ldap.Entry, requested []string) []table.Record {
	records := make([]table.Record, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		records = append(records, EntryToRecord(entry, requested))
	}
	return records
}

package ldap

import (
	"testing"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/isometry/dirsearch/internal/table"
)

func TestEntryToRecord(t *testing.T) {
	tests := []struct {
		name      string
		entry     *ldap.Entry
		requested []string
		want      table.Record
	}{
		{
			name: "plain attributes with dn",
			entry: &ldap.Entry{
				DN: "uid=bob,ou=people,dc=example,dc=com",
				Attributes: []*ldap.EntryAttribute{
					{Name: "cn", Values: []string{"Bob"}},
					{Name: "mail", Values: []string{"b@x.com", "b2@x.com"}},
				},
			},
			requested: []string{"cn", "mail", "dn"},
			want: table.Record{
				"cn":   {"Bob"},
				"mail": {"b@x.com", "b2@x.com"},
				"dn":   {"uid=bob,ou=people,dc=example,dc=com"},
			},
		},
		{
			name: "names follow requested spelling",
			entry: &ldap.Entry{
				DN: "CN=Bob,DC=corp",
				Attributes: []*ldap.EntryAttribute{
					{Name: "samaccountname", Values: []string{"bob"}},
					{Name: "DisplayName", Values: []string{"Bob"}},
				},
			},
			requested: []string{"sAMAccountName", "displayName", "DN"},
			want: table.Record{
				"sAMAccountName": {"bob"},
				"displayName":    {"Bob"},
				"DN":             {"CN=Bob,DC=corp"},
			},
		},
		{
			name: "binary identifiers are decoded",
			entry: &ldap.Entry{
				DN: "CN=Bob,DC=corp",
				Attributes: []*ldap.EntryAttribute{
					{Name: "objectSid", Values: []string{string(binarySID)}, ByteValues: [][]byte{binarySID}},
					{Name: "objectGUID", Values: []string{string(adGUIDBytes)}, ByteValues: [][]byte{adGUIDBytes}},
				},
			},
			requested: []string{"objectSid", "objectGUID"},
			want: table.Record{
				"objectSid":  {"S-1-5-21-1-2-3-1001"},
				"objectGUID": {"01234567-89ab-cdef-0123-456789abcdef"},
				"dn":         {"CN=Bob,DC=corp"},
			},
		},
		{
			name: "undecodable binary value kept as received",
			entry: &ldap.Entry{
				Attributes: []*ldap.EntryAttribute{
					{Name: "objectGUID", Values: []string{"abc"}, ByteValues: [][]byte{[]byte("abc")}},
				},
			},
			requested: []string{"objectGUID"},
			want:      table.Record{"objectGUID": {"abc"}},
		},
		{
			name: "unrequested attributes keep server spelling",
			entry: &ldap.Entry{
				Attributes: []*ldap.EntryAttribute{{Name: "telephoneNumber", Values: []string{"42"}}},
			},
			requested: []string{"cn"},
			want:      table.Record{"telephoneNumber": {"42"}},
		},
		{
			name: "server dn attribute is not overwritten",
			entry: &ldap.Entry{
				DN:         "uid=a,dc=x",
				Attributes: []*ldap.EntryAttribute{{Name: "dn", Values: []string{"custom"}}},
			},
			requested: []string{"dn"},
			want:      table.Record{"dn": {"custom"}},
		},
		{
			name: "mixed-case duplicates each get the values",
			entry: &ldap.Entry{
				DN:         "cn=bob,dc=x",
				Attributes: []*ldap.EntryAttribute{{Name: "mail", Values: []string{"b@x.com"}}},
			},
			requested: []string{"mail", "Mail", "dn", "DN"},
			want: table.Record{
				"mail": {"b@x.com"},
				"Mail": {"b@x.com"},
				"dn":   {"cn=bob,dc=x"},
				"DN":   {"cn=bob,dc=x"},
			},
		},
		{
			name: "rdn and parent derived when requested",
			entry: &ldap.Entry{
				DN:         "CN=Dupont\\, Jean,OU=Staff,DC=corp",
				Attributes: []*ldap.EntryAttribute{{Name: "cn", Values: []string{"Dupont, Jean"}}},
			},
			requested: []string{"cn", "RDN", "parent"},
			want: table.Record{
				"cn":     {"Dupont, Jean"},
				"RDN":    {"Dupont, Jean"},
				"parent": {"OU=Staff,DC=corp"},
				"dn":     {"CN=Dupont\\, Jean,OU=Staff,DC=corp"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EntryToRecord(tt.entry, tt.requested)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("EntryToRecord() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEntryToRecord_Nil(t *testing.T) {
	assert.Nil(t, EntryToRecord(nil, []string{"cn"}))
}

func TestEntriesToRecords(t *testing.T) {
	entries := []*ldap.Entry{
		ldap.NewEntry("uid=a,dc=x", map[string][]string{"cn": {"A"}}),
		nil,
		ldap.NewEntry("uid=b,dc=x", map[string][]string{"cn": {"B"}}),
	}

	records := EntriesToRecords(entries, []string{"cn"})

	assert.Len(t, records, 2)
	assert.Equal(t, []string{"A"}, records[0]["cn"])
	assert.Equal(t, []string{"uid=b,dc=x"}, records[1]["dn"])
	assert.NotNil(t, EntriesToRecords(nil, nil))
}

func TestRecordsNormalizeWithDN(t *testing.T) {
	entry := ldap.NewEntry("uid=bob,dc=x", map[string][]string{"cn": {"Bob"}})
	records := EntriesToRecords([]*ldap.Entry{entry}, []string{"cn", "mail", "dn"})

	got := table.Normalize([]string{"cn", "mail", "dn"}, records)

	assert.Equal(t, table.Table{{"cn", "mail", "dn"}, {"Bob", "", "uid=bob,dc=x"}}, got)
}

func TestRecordsNormalizeMixedCaseDuplicates(t *testing.T) {
	entry := ldap.NewEntry("cn=bob,dc=x", map[string][]string{"mail": {"b@x.com"}})
	columns := []string{"mail", "Mail"}
	records := EntriesToRecords([]*ldap.Entry{entry}, columns)

	got := table.Normalize(columns, records)

	assert.Equal(t, table.Table{{"mail", "Mail"}, {"b@x.com", "b@x.com"}}, got)
}

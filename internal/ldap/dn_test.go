package ldap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRDNValue(t *testing.T) {
	tests := []struct {
		dn      string
		want    string
		wantErr bool
	}{
		{dn: "uid=jdupont,ou=people,dc=example,dc=org", want: "jdupont"},
		{dn: `CN=Dupont\, Jean,OU=Staff,DC=corp`, want: "Dupont, Jean"},
		{dn: "cn=Jean+uid=jd,dc=example", want: "Jean+jd"},
		{dn: "", wantErr: true},
		{dn: "not a dn", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.dn, func(t *testing.T) {
			got, err := RDNValue(tt.dn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParentDN(t *testing.T) {
	got, err := ParentDN("uid=jdupont,ou=people,dc=example,dc=org")
	require.NoError(t, err)
	assert.Equal(t, "OU=people,DC=example,DC=org", got)

	got, err = ParentDN(`cn=a,ou=R&D\, Paris,dc=example`)
	require.NoError(t, err)
	assert.Equal(t, `OU=R&D\, Paris,DC=example`, got)

	_, err = ParentDN("dc=org")
	assert.Error(t, err)
}

func TestEscapeDNValue(t *testing.T) {
	assert.Equal(t, "John Doe", escapeDNValue("John Doe"))
	assert.Equal(t, `Doe\, John`, escapeDNValue("Doe, John"))
	assert.Equal(t, `\ John\ `, escapeDNValue(" John "))
	assert.Equal(t, `\#1#2`, escapeDNValue("#1#2"))
	assert.Equal(t, `a\<b\>\;c\\`, escapeDNValue(`a<b>;c\`))
}

func TestIsSyntheticAttribute(t *testing.T) {
	assert.True(t, IsSyntheticAttribute("DN"))
	assert.True(t, IsSyntheticAttribute("rdn"))
	assert.True(t, IsSyntheticAttribute("Parent"))
	assert.False(t, IsSyntheticAttribute("cn"))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirsearch/internal/ldap"
	"github.com/isometry/dirsearch/internal/table"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const fullConfig = `
[ldap]
urls = ["ldaps://ldap.example.org"]
base_dn = "ou=people,dc=example,dc=org"
attrs_search = ["cn", "uid", "mail", "dn"]
match_attrs = ["cn", "uid"]

[ad]
domain = "corp.example.com"
username = "reader@corp.example.com"
attrs_search = ["sAMAccountName", "displayName", "objectSid", "rdn"]
identity_match = true
size_limit = 200
timeout = "5s"
cache_ttl = "0s"

[display]
placeholder = "<empty>"
width_policy = "joined"
min_filter_length = 2
skip_last_field = true

[query]
timeout = "10s"
`

func TestLoad(t *testing.T) {
	path := writeFile(t, "conf.toml", fullConfig)

	cfg, err := Load(path, "", false)
	require.NoError(t, err)

	assert.Equal(t, []string{"ldaps://ldap.example.org"}, cfg.LDAP.URLs)
	assert.Equal(t, "(objectClass=person)", cfg.LDAP.ObjectFilter, "default object filter")
	assert.Equal(t, 30*time.Second, cfg.LDAP.Timeout)
	assert.EqualValues(t, 500, cfg.LDAP.PageSize)

	assert.Equal(t, "corp.example.com", cfg.AD.Domain)
	assert.Equal(t, 5*time.Second, cfg.AD.Timeout)
	assert.Equal(t, 200, cfg.AD.SizeLimit)

	assert.Equal(t, "<empty>", cfg.Display.Placeholder)
	assert.True(t, cfg.Display.SkipLastField)
	assert.True(t, cfg.Display.Zebra)
	assert.Equal(t, 10*time.Second, cfg.Query.Timeout)
}

func TestLoad_Defaults(t *testing.T) {
	path := writeFile(t, "conf.toml", "[ad]\ndomain = \"corp.example.com\"\n")

	cfg, err := Load(path, "", false)
	require.NoError(t, err)

	assert.False(t, cfg.LDAP.Enabled())
	assert.True(t, cfg.AD.Enabled())
	assert.Equal(t, "(&(objectCategory=person)(objectClass=user))", cfg.AD.ObjectFilter)
	assert.Equal(t, 3, cfg.Display.MinFilterLength)
	assert.Equal(t, "longest_line", cfg.Display.WidthPolicy)
	assert.Equal(t, 20*time.Second, cfg.Query.Timeout)
	assert.Equal(t, []table.Directory{{ID: ADDirectory, Attributes: cfg.AD.Attributes}}, cfg.TableDirectories())
}

func TestLoad_EnvFile(t *testing.T) {
	t.Setenv("DIRSEARCH_LDAP_PASSWORD", "")
	os.Unsetenv("DIRSEARCH_LDAP_PASSWORD")
	t.Setenv("DIRSEARCH_AD_PASSWORD", "")
	os.Unsetenv("DIRSEARCH_AD_PASSWORD")
	t.Setenv("DIRSEARCH_AD_USERNAME", "override@corp.example.com")

	path := writeFile(t, "conf.toml", fullConfig)
	env := writeFile(t, "settings.env", "DIRSEARCH_AD_PASSWORD=s3cret\nDIRSEARCH_AD_USERNAME=ignored\n")

	cfg, err := Load(path, env, true)
	require.NoError(t, err)

	assert.Equal(t, "s3cret", cfg.AD.Password)
	assert.Equal(t, "override@corp.example.com", cfg.AD.Username, "environment wins over env file")
	assert.Empty(t, cfg.LDAP.Password)
}

func TestLoad_MissingEnvFile(t *testing.T) {
	path := writeFile(t, "conf.toml", fullConfig)
	missing := filepath.Join(t.TempDir(), "settings.env")

	_, err := Load(path, missing, false)
	assert.NoError(t, err)

	_, err = Load(path, missing, true)
	assert.ErrorContains(t, err, "env file")
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "syntax",
			content: "[ldap\n",
			wantErr: "reading",
		},
		{
			name:    "unknown key",
			content: "[ldap]\nurls = [\"ldap://x\"]\nattr_search = [\"cn\"]\n",
			wantErr: "unknown keys: ldap.attr_search",
		},
		{
			name:    "nothing enabled",
			content: "[display]\nzebra = false\n",
			wantErr: "no directory configured",
		},
		{
			name:    "bad url",
			content: "[ldap]\nurls = [\"http://ldap.example.org\"]\n",
			wantErr: "ldap.urls[0]",
		},
		{
			name:    "bad object filter",
			content: "[ad]\ndomain = \"corp\"\nobject_filter = \"(objectClass=user\"\n",
			wantErr: "ad.object_filter",
		},
		{
			name:    "only synthetic attributes",
			content: "[ldap]\nurls = [\"ldap://x\"]\nattrs_search = [\"dn\"]\n",
			wantErr: "ldap.match_attrs",
		},
		{
			name:    "width policy",
			content: "[ldap]\nurls = [\"ldap://x\"]\n[display]\nwidth_policy = \"widest\"\n",
			wantErr: "display.width_policy",
		},
		{
			name:    "negative cache ttl",
			content: "[ldap]\nurls = [\"ldap://x\"]\ncache_ttl = \"-1s\"\n",
			wantErr: "ldap.cache_ttl",
		},
		{
			name:    "password without username",
			content: "[ldap]\nurls = [\"ldap://x\"]\npassword = \"p\"\n",
			wantErr: "ldap.username",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "conf.toml", tt.content)
			_, err := Load(path, "", false)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"), "", false)
	assert.Error(t, err)
}

func TestDirectoryConfigs(t *testing.T) {
	path := writeFile(t, "conf.toml", fullConfig)
	cfg, err := Load(path, "", false)
	require.NoError(t, err)

	dirs, err := cfg.DirectoryConfigs()
	require.NoError(t, err)
	require.Len(t, dirs, 2)

	assert.Equal(t, LDAPDirectory, dirs[0].ID)
	assert.Equal(t, []string{"cn", "uid"}, dirs[0].Filter.MatchAttributes)
	assert.Equal(t, "ou=people,dc=example,dc=org", dirs[0].Connection.BaseDN)
	assert.Equal(t, ldap.AuthMethodAnonymous, dirs[0].Connection.GetAuthMethod())
	assert.Equal(t, 30*time.Second, dirs[0].CacheTTL)

	ad := dirs[1]
	assert.Equal(t, ADDirectory, ad.ID)
	assert.Equal(t, []string{"sAMAccountName", "displayName", "objectSid"}, ad.Filter.MatchAttributes)
	assert.True(t, ad.Filter.IdentityMatch)
	assert.Equal(t, 200, ad.SizeLimit)
	assert.Zero(t, ad.CacheTTL)
	assert.Equal(t, 5*time.Second, ad.Connection.Timeout)
	assert.Equal(t, ldap.AuthMethodSimpleBind, ad.Connection.GetAuthMethod())
	require.NotNil(t, ad.Connection.TLSConfig)
	assert.False(t, ad.Connection.TLSConfig.InsecureSkipVerify)
}

func TestDirectoryConfigs_BadCAFile(t *testing.T) {
	cfg := &Config{LDAP: Directory{URLs: []string{"ldaps://x"}, CAFile: writeFile(t, "ca.pem", "not a certificate")}}

	_, err := cfg.DirectoryConfigs()
	assert.ErrorContains(t, err, "no certificates found")
}

func TestQueryConfig(t *testing.T) {
	path := writeFile(t, "conf.toml", fullConfig)
	cfg, err := Load(path, "", false)
	require.NoError(t, err)

	qc := cfg.QueryConfig()
	assert.Equal(t, table.WidthJoined, qc.WidthPolicy)
	assert.Equal(t, "<empty>", qc.Placeholder)
	assert.Equal(t, 2, qc.MinFilterLength)
	assert.Equal(t, 10*time.Second, qc.Timeout)
	require.Len(t, qc.Directories, 2)
	assert.Equal(t, []string{"cn", "uid", "mail", "dn"}, qc.Directories[0].Attributes)
}

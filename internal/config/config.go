// Package config loads the dirsearch configuration: a TOML file describing
// the directories to search and how results are displayed, plus an optional
// env file carrying bind credentials.
package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/creasty/defaults"
	"github.com/joho/godotenv"

	"github.com/isometry/dirsearch/internal/ldap"
	"github.com/isometry/dirsearch/internal/query"
	"github.com/isometry/dirsearch/internal/table"
)

const (
	DefaultPath    = "conf.toml"
	DefaultEnvFile = "settings.env"

	envPrefix = "DIRSEARCH_"
)

// Directory identifiers, also the TOML section names.
const (
	LDAPDirectory table.DirectoryID = "ldap"
	ADDirectory   table.DirectoryID = "ad"
)

// Config is the complete configuration.
type Config struct {
	LDAP    Directory `toml:"ldap"`
	AD      Directory `toml:"ad"`
	Display Display   `toml:"display"`
	Query   Query     `toml:"query"`
}

// Directory configures one directory. A directory with neither urls nor
// domain is disabled.
type Directory struct {
	URLs   []string `toml:"urls"`
	Domain string   `toml:"domain"`
	BaseDN string   `toml:"base_dn"`

	Username string `toml:"username"`
	Password string `toml:"password"`

	KerberosRealm  string `toml:"kerberos_realm"`
	KerberosKeytab string `toml:"kerberos_keytab"`
	KerberosConfig string `toml:"kerberos_config"`
	KerberosCCache string `toml:"kerberos_ccache"`
	KerberosSPN    string `toml:"kerberos_spn"`

	SkipTLS            bool   `toml:"skip_tls"`
	InsecureSkipVerify bool   `toml:"tls_insecure_skip_verify"`
	CAFile             string `toml:"tls_ca_file"`

	Attributes      []string      `toml:"attrs_search"`
	MatchAttributes []string      `toml:"match_attrs"`
	ObjectFilter    string        `toml:"object_filter"`
	IdentityMatch   bool          `toml:"identity_match"`
	SizeLimit       int           `toml:"size_limit" default:"0"`
	PageSize        uint32        `toml:"page_size" default:"500"`
	Timeout         time.Duration `toml:"timeout" default:"30s"`
	MaxConnections  int           `toml:"max_connections" default:"4"`
	CacheTTL        time.Duration `toml:"cache_ttl" default:"30s"`
}

// Display holds renderer settings.
type Display struct {
	Placeholder     string  `toml:"placeholder" default:""`
	WidthPolicy     string  `toml:"width_policy" default:"longest_line"`
	MinFilterLength int     `toml:"min_filter_length" default:"3"`
	SkipLastField   bool    `toml:"skip_last_field" default:"false"`
	Zebra           bool    `toml:"zebra" default:"true"`
	Upscale         float64 `toml:"upscale" default:"1.0"`
}

// Query holds orchestrator settings.
type Query struct {
	Timeout time.Duration `toml:"timeout" default:"20s"`
}

// SetDefaults fills the per-directory attribute lists, which differ between
// an OpenLDAP-style directory and Active Directory. It is called by
// defaults.Set.
func (c *Config) SetDefaults() {
	if len(c.LDAP.Attributes) == 0 {
		c.LDAP.Attributes = []string{"cn", "uid", "mail", "telephoneNumber", "dn"}
	}
	if c.LDAP.ObjectFilter == "" {
		c.LDAP.ObjectFilter = "(objectClass=person)"
	}
	if len(c.AD.Attributes) == 0 {
		c.AD.Attributes = []string{"sAMAccountName", "displayName", "mail", "userPrincipalName", "dn"}
	}
	if c.AD.ObjectFilter == "" {
		c.AD.ObjectFilter = "(&(objectCategory=person)(objectClass=user))"
	}
}

// Load reads the env file, when present, then the TOML file at path, and
// validates the result. An empty envFile skips the env file. A missing env
// file is only an error when required is set.
func Load(path, envFile string, required bool) (*Config, error) {
	if err := loadEnvFile(envFile, required); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("failed to set default values: %w", err)
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func loadEnvFile(path string, required bool) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		return fmt.Errorf("env file: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides credentials from DIRSEARCH_<ID>_USERNAME and
// DIRSEARCH_<ID>_PASSWORD.
func (c *Config) applyEnv() {
	for _, d := range c.directories() {
		prefix := envPrefix + strings.ToUpper(string(d.id)) + "_"
		if v, ok := os.LookupEnv(prefix + "USERNAME"); ok {
			d.dir.Username = v
		}
		if v, ok := os.LookupEnv(prefix + "PASSWORD"); ok {
			d.dir.Password = v
		}
	}
}

type namedDirectory struct {
	id  table.DirectoryID
	dir *Directory
}

// directories returns every directory section in display order.
func (c *Config) directories() []namedDirectory {
	return []namedDirectory{
		{LDAPDirectory, &c.LDAP},
		{ADDirectory, &c.AD},
	}
}

// Enabled reports whether the directory has somewhere to connect to.
func (d *Directory) Enabled() bool {
	return len(d.URLs) > 0 || strings.TrimSpace(d.Domain) != ""
}

// matchAttributes returns the configured match attributes, or the searched
// attributes that the server can match on.
func (d *Directory) matchAttributes() []string {
	if len(d.MatchAttributes) > 0 {
		return d.MatchAttributes
	}
	return slices.DeleteFunc(slices.Clone(d.Attributes), ldap.IsSyntheticAttribute)
}

// ConnectionConfig converts the section to a client configuration.
func (d *Directory) ConnectionConfig() (*ldap.ConnectionConfig, error) {
	cfg := ldap.DefaultConfig()
	cfg.Domain = strings.TrimSpace(d.Domain)
	cfg.LDAPURLs = d.URLs
	cfg.BaseDN = d.BaseDN
	cfg.Username = d.Username
	cfg.Password = d.Password
	cfg.KerberosRealm = d.KerberosRealm
	cfg.KerberosKeytab = d.KerberosKeytab
	cfg.KerberosConfig = d.KerberosConfig
	cfg.KerberosCCache = d.KerberosCCache
	cfg.KerberosSPN = d.KerberosSPN
	cfg.SkipTLS = d.SkipTLS
	cfg.PageSize = d.PageSize
	cfg.Timeout = d.Timeout
	cfg.MaxConnections = d.MaxConnections

	tlsConfig, err := d.tlsConfig()
	if err != nil {
		return nil, err
	}
	cfg.TLSConfig = tlsConfig

	return cfg, nil
}

func (d *Directory) tlsConfig() (*tls.Config, error) {
	tc := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: d.InsecureSkipVerify,
	}
	if d.CAFile == "" {
		return tc, nil
	}

	pem, err := os.ReadFile(d.CAFile)
	if err != nil {
		return nil, fmt.Errorf("reading CA file: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("no certificates found in %s", d.CAFile)
	}
	tc.RootCAs = pool
	return tc, nil
}

// DirectoryConfigs returns the search configuration of every enabled
// directory.
func (c *Config) DirectoryConfigs() ([]ldap.DirectoryConfig, error) {
	var out []ldap.DirectoryConfig
	for _, d := range c.directories() {
		if !d.dir.Enabled() {
			continue
		}
		conn, err := d.dir.ConnectionConfig()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", d.id, err)
		}
		out = append(out, ldap.DirectoryConfig{
			ID:         d.id,
			Connection: conn,
			Attributes: d.dir.Attributes,
			Filter: ldap.FilterSpec{
				MatchAttributes: d.dir.matchAttributes(),
				ObjectFilter:    d.dir.ObjectFilter,
				IdentityMatch:   d.dir.IdentityMatch,
			},
			SizeLimit: d.dir.SizeLimit,
			CacheTTL:  d.dir.CacheTTL,
		})
	}
	return out, nil
}

// TableDirectories returns the column layout of every enabled directory.
func (c *Config) TableDirectories() []table.Directory {
	var out []table.Directory
	for _, d := range c.directories() {
		if d.dir.Enabled() {
			out = append(out, table.Directory{ID: d.id, Attributes: d.dir.Attributes})
		}
	}
	return out
}

// QueryConfig returns the orchestrator configuration.
func (c *Config) QueryConfig() query.Config {
	policy, _ := table.ParseWidthPolicy(c.Display.WidthPolicy)
	return query.Config{
		Directories:     c.TableDirectories(),
		WidthPolicy:     policy,
		Placeholder:     c.Display.Placeholder,
		MinFilterLength: c.Display.MinFilterLength,
		Timeout:         c.Query.Timeout,
	}
}

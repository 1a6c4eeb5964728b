package ldap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
	krb5config "github.com/jcmturner/gokrb5/v8/config"
	"github.com/jcmturner/gokrb5/v8/credentials"
	"github.com/jcmturner/gokrb5/v8/keytab"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// credentialKind identifies where Kerberos credentials come from.
type credentialKind int

const (
	credentialNone credentialKind = iota
	credentialCCache
	credentialKeytab
	credentialPassword
)

func (k credentialKind) String() string {
	switch k {
	case credentialCCache:
		return "ccache"
	case credentialKeytab:
		return "keytab"
	case credentialPassword:
		return "password"
	default:
		return "none"
	}
}

// kerberosBind performs a GSSAPI bind on conn.
func kerberosBind(ctx context.Context, conn *ldap.Conn, cfg *ConnectionConfig, server *ServerInfo) error {
	gssClient, err := newGSSAPIClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = gssClient.DeleteSecContext()
	}()

	spn, err := servicePrincipal(cfg, server)
	if err != nil {
		return err
	}

	if err := conn.GSSAPIBind(gssClient, spn, ""); err != nil {
		return fmt.Errorf("GSSAPI bind as %s failed: %w", spn, err)
	}
	return nil
}

// newGSSAPIClient builds a logged-in Kerberos client. Credentials are taken
// from the first available source: credential cache, keytab, then password.
func newGSSAPIClient(ctx context.Context, cfg *ConnectionConfig) (*gssapi.Client, error) {
	principal, realm := splitPrincipal(cfg.Username, cfg.KerberosRealm)
	if realm == "" {
		return nil, fmt.Errorf("kerberos realm is required (set kerberos_realm or use user@REALM)")
	}

	krbConf, err := loadKrb5Config(cfg, realm)
	if err != nil {
		return nil, err
	}

	kind, path := credentialSource(cfg)
	fields := map[string]any{
		"principal": principal,
		"realm":     realm,
		"source":    kind.String(),
	}

	var krbClient *krb5client.Client
	switch kind {
	case credentialCCache:
		ccache, err := credentials.LoadCCache(path)
		if err != nil {
			LogKerberosEvent(ctx, "ccache_load_failed", fields)
			return nil, fmt.Errorf("loading credential cache %s: %w", path, err)
		}
		krbClient, err = krb5client.NewFromCCache(ccache, krbConf, krb5client.DisablePAFXFAST(true))
		if err != nil {
			return nil, fmt.Errorf("using credential cache %s: %w", path, err)
		}
	case credentialKeytab:
		kt, err := keytab.Load(path)
		if err != nil {
			LogKerberosEvent(ctx, "keytab_load_failed", fields)
			return nil, fmt.Errorf("loading keytab %s: %w", path, err)
		}
		krbClient = krb5client.NewWithKeytab(principal, realm, kt, krbConf, krb5client.DisablePAFXFAST(true))
	case credentialPassword:
		krbClient = krb5client.NewWithPassword(principal, realm, cfg.Password, krbConf, krb5client.DisablePAFXFAST(true))
	default:
		return nil, fmt.Errorf("no Kerberos credentials found: provide kerberos_ccache, kerberos_keytab or a password")
	}

	if kind != credentialCCache {
		if err := krbClient.Login(); err != nil {
			fields["error"] = err.Error()
			LogKerberosEvent(ctx, "login_failed", fields)
			return nil, fmt.Errorf("kerberos login for %s@%s failed: %w", principal, realm, err)
		}
	}
	LogKerberosEvent(ctx, "login_success", fields)

	return &gssapi.Client{Client: krbClient}, nil
}

// credentialSource picks the credential source and its file path, if any.
func credentialSource(cfg *ConnectionConfig) (credentialKind, string) {
	if fileExists(cfg.KerberosCCache) {
		return credentialCCache, cfg.KerberosCCache
	}
	if fileExists(cfg.KerberosKeytab) {
		return credentialKeytab, cfg.KerberosKeytab
	}
	if cfg.Password != "" {
		return credentialPassword, ""
	}
	if ccache := defaultCCachePath(); fileExists(ccache) {
		return credentialCCache, ccache
	}
	if kt := defaultKeytabPath(); cfg.Username != "" && fileExists(kt) {
		return credentialKeytab, kt
	}
	return credentialNone, ""
}

// loadKrb5Config reads krb5.conf, or generates a configuration relying on
// DNS to locate KDCs when no file is available.
func loadKrb5Config(cfg *ConnectionConfig, realm string) (*krb5config.Config, error) {
	path := cfg.KerberosConfig
	if path == "" && fileExists(defaultKrb5Conf) {
		path = defaultKrb5Conf
	}

	if path != "" {
		conf, err := krb5config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		return conf, nil
	}

	conf, err := krb5config.NewFromString(runtimeKrb5Conf(realm, cfg.Domain))
	if err != nil {
		return nil, fmt.Errorf("generating Kerberos configuration: %w", err)
	}
	return conf, nil
}

// runtimeKrb5Conf returns a minimal krb5.conf for realm that discovers KDCs
// through DNS.
func runtimeKrb5Conf(realm, domain string) string {
	realm = strings.ToUpper(realm)
	if domain == "" {
		domain = realm
	}
	domain = strings.ToLower(domain)

	return fmt.Sprintf(`[libdefaults]
  default_realm = %[1]s
  dns_lookup_kdc = true
  dns_lookup_realm = false
  rdns = false

[realms]
  %[1]s = {
  }

[domain_realm]
  .%[2]s = %[1]s
  %[2]s = %[1]s
`, realm, domain)
}

// splitPrincipal separates user@REALM. An explicit realm wins over the one
// in the principal.
func splitPrincipal(username, realm string) (string, string) {
	principal := username
	if user, r, ok := strings.Cut(username, "@"); ok {
		principal = user
		if realm == "" {
			realm = r
		}
	}
	return principal, strings.ToUpper(realm)
}

// servicePrincipal returns the LDAP SPN for server, ldap/<host> unless
// overridden.
func servicePrincipal(cfg *ConnectionConfig, server *ServerInfo) (string, error) {
	if cfg.KerberosSPN != "" {
		return cfg.KerberosSPN, nil
	}
	if server == nil || server.Host == "" {
		return "", fmt.Errorf("hostname is required for service principal")
	}
	return "ldap/" + server.Host, nil
}

func defaultCCachePath() string {
	if ccache := os.Getenv("KRB5CCNAME"); ccache != "" {
		return strings.TrimPrefix(ccache, "FILE:")
	}
	return fmt.Sprintf("/tmp/krb5cc_%d", os.Getuid())
}

func defaultKeytabPath() string {
	if kt := os.Getenv("KRB5_KTNAME"); kt != "" {
		return strings.TrimPrefix(kt, "FILE:")
	}
	return "/etc/krb5.keytab"
}

// fileExists reports whether path names a readable file.
func fileExists(path string) bool {
	if path == "" {
		return false
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	_ = f.Close()
	return true
}

package ldap

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// ConnectionConfig describes how to reach and bind to one directory.
// LDAPURLs, when set, take precedence over SRV discovery for Domain.
type ConnectionConfig struct {
	Domain   string
	LDAPURLs []string
	BaseDN   string
	Timeout  time.Duration

	// Username is a bind DN, UPN or SAM name for simple binds and the
	// principal for Kerberos.
	Username       string
	Password       string
	KerberosRealm  string
	KerberosKeytab string
	KerberosConfig string
	KerberosCCache string
	KerberosSPN    string

	TLSConfig *tls.Config
	// UseTLS upgrades ldap:// connections with StartTLS.
	UseTLS bool
	// SkipTLS disables TLS entirely.
	SkipTLS bool

	MaxConnections int
	MaxIdleTime    time.Duration
	HealthCheck    time.Duration // 0 disables

	PageSize uint32

	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BackoffFactor  float64
}

// DefaultConfig returns the settings used for anything a directory leaves
// unset.
func DefaultConfig() *ConnectionConfig {
	return &ConnectionConfig{
		Timeout:        30 * time.Second,
		UseTLS:         true,
		TLSConfig:      &tls.Config{MinVersion: tls.VersionTLS12},
		MaxConnections: 4,
		MaxIdleTime:    5 * time.Minute,
		HealthCheck:    30 * time.Second,
		PageSize:       500,
		MaxRetries:     2,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		BackoffFactor:  2.0,
	}
}

// AuthMethod is the way a connection binds.
type AuthMethod int

const (
	AuthMethodAnonymous AuthMethod = iota
	AuthMethodSimpleBind
	AuthMethodKerberos
)

var authMethodNames = [...]string{
	AuthMethodAnonymous:  "anonymous",
	AuthMethodSimpleBind: "simple",
	AuthMethodKerberos:   "kerberos",
}

func (a AuthMethod) String() string {
	if a < 0 || int(a) >= len(authMethodNames) {
		return "unknown"
	}
	return authMethodNames[a]
}

// GetAuthMethod derives the bind method. A Kerberos realm together with any
// credential selects GSSAPI; otherwise a username selects a simple bind.
func (c *ConnectionConfig) GetAuthMethod() AuthMethod {
	switch {
	case c.KerberosRealm != "" && (c.KerberosKeytab != "" || c.KerberosCCache != "" || c.Username != ""):
		return AuthMethodKerberos
	case c.Username != "":
		return AuthMethodSimpleBind
	default:
		return AuthMethodAnonymous
	}
}

// HasAuthentication reports whether connections bind before searching.
func (c *ConnectionConfig) HasAuthentication() bool {
	return c.GetAuthMethod() != AuthMethodAnonymous
}

// ServerInfo is one candidate server, from SRV records, configured URLs or
// the domain fallback.
type ServerInfo struct {
	Host     string
	Port     int
	UseTLS   bool
	Priority int
	Weight   int
	Source   string
}

// PooledConnection is a connection checked out of a ConnectionPool. Close
// hands it back.
type PooledConnection struct {
	conn          *ldap.Conn
	serverInfo    *ServerInfo
	lastUsed      time.Time
	healthy       bool
	authenticated bool
	authTime      time.Time
	returnToPool  func(*PooledConnection)
}

// ConnectionPool hands out bound connections to one directory.
type ConnectionPool interface {
	Get(ctx context.Context) (*PooledConnection, error)
	Stats() PoolStats
	Close() error
}

// PoolStats is a point-in-time view of a pool.
type PoolStats struct {
	Active  int64
	Idle    int
	Created int64
	Errors  int64
	Uptime  time.Duration
}

// Client runs read-only operations against one directory.
type Client interface {
	Connect(ctx context.Context) error
	Ping(ctx context.Context) error
	Search(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error)
	GetBaseDN(ctx context.Context) (string, error)
	Stats() PoolStats
	Close() error
}

// SearchRequest holds the parameters of one search. Aliases are never
// dereferenced.
type SearchRequest struct {
	BaseDN     string
	Scope      SearchScope
	Filter     string
	Attributes []string
	SizeLimit  int
	TimeLimit  time.Duration
}

// SearchResult holds the entries of a search. HasMore is set when the
// server stopped at its size limit.
type SearchResult struct {
	Entries []*ldap.Entry
	Total   int
	HasMore bool
}

// SearchScope takes the go-ldap scope values.
type SearchScope int

const (
	ScopeBaseObject   = SearchScope(ldap.ScopeBaseObject)
	ScopeSingleLevel  = SearchScope(ldap.ScopeSingleLevel)
	ScopeWholeSubtree = SearchScope(ldap.ScopeWholeSubtree)
)

func (s SearchScope) String() string {
	switch s {
	case ScopeBaseObject:
		return "base"
	case ScopeSingleLevel:
		return "one"
	case ScopeWholeSubtree:
		return "sub"
	}
	return "unknown"
}

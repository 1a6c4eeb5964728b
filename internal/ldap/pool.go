package ldap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// MaxConnectionPoolLimit is the maximum number of idle connections a pool
// may keep.
const MaxConnectionPoolLimit = 32

// maxAuthAge is how long a bind is trusted before the connection is rebound.
const maxAuthAge = 5 * time.Minute

// ErrPoolClosed is returned by Get once the pool is closed.
var ErrPoolClosed = errors.New("connection pool is closed")

// Dialer opens a raw connection to one server.
type Dialer func(ctx context.Context, server *ServerInfo, cfg *ConnectionConfig) (*ldap.Conn, error)

// PoolOption customizes a connection pool.
type PoolOption func(*connectionPool)

// WithDialer replaces the network dialer.
func WithDialer(d Dialer) PoolOption {
	return func(p *connectionPool) { p.dial = d }
}

// WithResolver replaces the DNS resolver used for SRV discovery.
func WithResolver(r SRVResolver) PoolOption {
	return func(p *connectionPool) { p.discovery = NewSRVDiscovery(r) }
}

// WithServers skips URL parsing and discovery and uses servers as given.
func WithServers(servers ...*ServerInfo) PoolOption {
	return func(p *connectionPool) { p.servers = servers }
}

// connectionPool implements ConnectionPool.
type connectionPool struct {
	ctx         context.Context // Logging context
	config      *ConnectionConfig
	servers     []*ServerInfo
	connections chan *PooledConnection
	discovery   *SRVDiscovery
	dial        Dialer

	mu     sync.RWMutex
	closed bool

	activeConns  atomic.Int64
	totalCreated atomic.Int64
	totalErrors  atomic.Int64
	startTime    time.Time

	healthStop chan struct{}
	healthWg   sync.WaitGroup
}

// NewConnectionPool validates config, resolves the server list and returns a
// pool. Connections are opened lazily by Get.
func NewConnectionPool(ctx context.Context, config *ConnectionConfig, opts ...PoolOption) (ConnectionPool, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	pool := &connectionPool{
		ctx:         ctx,
		config:      config,
		connections: make(chan *PooledConnection, config.MaxConnections),
		discovery:   NewSRVDiscovery(nil),
		dial:        dialServer,
		startTime:   time.Now(),
		healthStop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(pool)
	}

	if len(pool.servers) == 0 {
		if err := pool.resolveServers(ctx); err != nil {
			return nil, fmt.Errorf("server discovery failed: %w", err)
		}
	}

	if config.HealthCheck > 0 {
		pool.startHealthChecker()
	}

	LogPoolEvent(ctx, "pool_initialized", map[string]any{
		"server_count":    len(pool.servers),
		"max_connections": config.MaxConnections,
		"auth_method":     config.GetAuthMethod().String(),
	})

	return pool, nil
}

// resolveServers fills the server list from configured URLs or, failing
// that, from SRV records of the configured domain.
func (p *connectionPool) resolveServers(ctx context.Context) error {
	var servers []*ServerInfo

	switch {
	case len(p.config.LDAPURLs) > 0:
		for _, u := range p.config.LDAPURLs {
			server, err := ParseLDAPURL(u)
			if err != nil {
				return err
			}
			servers = append(servers, server)
		}
	case p.config.Domain != "":
		ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()

		discovered, err := p.discovery.DiscoverServers(ctx, p.config.Domain)
		if err != nil {
			return err
		}
		servers = discovered
	default:
		return errors.New("either domain or LDAP URLs must be specified")
	}

	if len(servers) == 0 {
		return errors.New("no servers discovered")
	}

	p.servers = servers
	return nil
}

// Get returns an idle connection if a healthy one is available, otherwise it
// dials a new one. Callers return the connection with PooledConnection.Close.
func (p *connectionPool) Get(ctx context.Context) (*PooledConnection, error) {
	p.mu.RLock()
	closed := p.closed
	p.mu.RUnlock()
	if closed {
		return nil, ErrPoolClosed
	}

	for {
		select {
		case conn, ok := <-p.connections:
			if !ok {
				return nil, ErrPoolClosed
			}
			if !p.isConnectionHealthy(conn) {
				p.closeConnection(conn)
				continue
			}
			if p.config.HasAuthentication() && p.needsReAuthentication(conn) {
				if err := p.authenticateConnection(ctx, conn); err != nil {
					p.closeConnection(conn)
					continue
				}
			}
			conn.lastUsed = time.Now()
			p.activeConns.Add(1)
			LogPoolEvent(p.ctx, "connection_reused", map[string]any{"server": conn.serverInfo.Host})
			return conn, nil
		default:
			return p.createConnection(ctx)
		}
	}
}

// createConnection tries every server in order, retrying the whole list with
// exponential backoff.
func (p *connectionPool) createConnection(ctx context.Context) (*PooledConnection, error) {
	var lastErr error
	backoff := p.config.InitialBackoff

	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		for _, server := range p.servers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			conn, err := p.createSingleConnection(ctx, server)
			if err != nil {
				lastErr = err
				p.totalErrors.Add(1)
				LogConnectionEvent(p.ctx, "connection_failed", map[string]any{
					"server":  ServerInfoToURL(server),
					"attempt": attempt + 1,
					"error":   err.Error(),
				})
				if IsAuthenticationError(err) {
					// Other servers hold the same credentials
					return nil, err
				}
				continue
			}

			p.totalCreated.Add(1)
			p.activeConns.Add(1)
			return conn, nil
		}

		if attempt < p.config.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*p.config.BackoffFactor), p.config.MaxBackoff)
			}
		}
	}

	return nil, NewConnectionError("failed to connect to any server", true, lastErr)
}

func (p *connectionPool) createSingleConnection(ctx context.Context, server *ServerInfo) (*PooledConnection, error) {
	conn, err := p.dial(ctx, server, p.config)
	if err != nil {
		return nil, WrapError("connect", err)
	}

	conn.SetTimeout(p.config.Timeout)

	pooled := &PooledConnection{
		conn:         conn,
		lastUsed:     time.Now(),
		healthy:      true,
		serverInfo:   server,
		returnToPool: p.returnConnection,
	}

	if p.config.HasAuthentication() {
		if err := p.authenticateConnection(ctx, pooled); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	LogConnectionEvent(p.ctx, "connection_established", map[string]any{
		"server":      ServerInfoToURL(server),
		"source":      server.Source,
		"auth_method": p.config.GetAuthMethod().String(),
	})

	return pooled, nil
}

// dialServer opens an LDAPS connection, or a plain one upgraded with
// StartTLS unless TLS is disabled.
func dialServer(ctx context.Context, server *ServerInfo, cfg *ConnectionConfig) (*ldap.Conn, error) {
	dialer := &net.Dialer{Timeout: cfg.Timeout}
	if deadline, ok := ctx.Deadline(); ok {
		dialer.Deadline = deadline
	}

	url := ServerInfoToURL(server)

	if server.UseTLS {
		return ldap.DialURL(url, ldap.DialWithDialer(dialer), ldap.DialWithTLSConfig(tlsConfigFor(cfg, server)))
	}

	conn, err := ldap.DialURL(url, ldap.DialWithDialer(dialer))
	if err != nil {
		return nil, err
	}
	if cfg.UseTLS && !cfg.SkipTLS {
		if err := conn.StartTLS(tlsConfigFor(cfg, server)); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("StartTLS with %s: %w", url, err)
		}
	}

	return conn, nil
}

func tlsConfigFor(cfg *ConnectionConfig, server *ServerInfo) *tls.Config {
	tc := cfg.TLSConfig.Clone()
	if tc == nil {
		tc = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if tc.ServerName == "" {
		tc.ServerName = server.Host
	}
	return tc
}

// authenticateConnection binds with the configured method.
func (p *connectionPool) authenticateConnection(ctx context.Context, pooled *PooledConnection) error {
	if pooled == nil || pooled.conn == nil {
		return errors.New("connection is nil")
	}

	var err error
	switch method := p.config.GetAuthMethod(); method {
	case AuthMethodSimpleBind:
		err = pooled.conn.Bind(p.config.Username, p.config.Password)
	case AuthMethodKerberos:
		err = kerberosBind(ctx, pooled.conn, p.config, pooled.serverInfo)
	default:
		return fmt.Errorf("unsupported authentication method: %s", method)
	}

	if err != nil {
		pooled.authenticated = false
		pooled.authTime = time.Time{}
		LogConnectionEvent(p.ctx, "authentication_failed", map[string]any{
			"server":   pooled.serverInfo.Host,
			"username": p.config.Username,
			"error":    err.Error(),
		})
		return WrapError("bind", err)
	}

	pooled.authenticated = true
	pooled.authTime = time.Now()
	LogConnectionEvent(p.ctx, "authentication_success", map[string]any{
		"server":   pooled.serverInfo.Host,
		"username": p.config.Username,
	})
	return nil
}

func (p *connectionPool) needsReAuthentication(conn *PooledConnection) bool {
	return conn == nil || !conn.authenticated || time.Since(conn.authTime) > maxAuthAge
}

func (p *connectionPool) returnConnection(conn *PooledConnection) {
	if conn == nil {
		return
	}

	p.activeConns.Add(-1)

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed || !p.isConnectionHealthy(conn) {
		p.closeConnection(conn)
		return
	}

	conn.lastUsed = time.Now()
	select {
	case p.connections <- conn:
	default:
		p.closeConnection(conn)
	}
}

func (p *connectionPool) isConnectionHealthy(conn *PooledConnection) bool {
	if conn == nil || conn.conn == nil || !conn.healthy || conn.conn.IsClosing() {
		return false
	}
	return time.Since(conn.lastUsed) <= p.config.MaxIdleTime
}

func (p *connectionPool) closeConnection(conn *PooledConnection) {
	if conn == nil || conn.conn == nil {
		return
	}
	_ = conn.conn.Close()
	conn.healthy = false
	conn.authenticated = false
	conn.authTime = time.Time{}
}

// Close closes all idle connections and stops the health checker.
// Connections still handed out are closed when they are returned.
func (p *connectionPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.healthStop)
	p.mu.Unlock()

	p.healthWg.Wait()

	for {
		select {
		case conn := <-p.connections:
			p.closeConnection(conn)
		default:
			LogPoolEvent(p.ctx, "pool_closed", map[string]any{
				"created": p.totalCreated.Load(),
				"errors":  p.totalErrors.Load(),
			})
			return nil
		}
	}
}

// Stats returns pool statistics.
func (p *connectionPool) Stats() PoolStats {
	return PoolStats{
		Active:  p.activeConns.Load(),
		Idle:    len(p.connections),
		Created: p.totalCreated.Load(),
		Errors:  p.totalErrors.Load(),
		Uptime:  time.Since(p.startTime),
	}
}

func (p *connectionPool) startHealthChecker() {
	ticker := time.NewTicker(p.config.HealthCheck)

	p.healthWg.Go(func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.performHealthCheck()
			case <-p.healthStop:
				return
			}
		}
	})
}

// performHealthCheck probes up to three idle connections and drops the dead
// ones.
func (p *connectionPool) performHealthCheck() {
	var toCheck []*PooledConnection

collect:
	for range 3 {
		select {
		case conn := <-p.connections:
			toCheck = append(toCheck, conn)
		default:
			break collect
		}
	}

	for _, conn := range toCheck {
		if err := probe(conn.conn); err != nil {
			LogPoolEvent(p.ctx, "health_check_failed", map[string]any{
				"server": conn.serverInfo.Host,
				"error":  err.Error(),
			})
			p.closeConnection(conn)
			continue
		}

		p.mu.RLock()
		if p.closed {
			p.closeConnection(conn)
		} else {
			select {
			case p.connections <- conn:
			default:
				p.closeConnection(conn)
			}
		}
		p.mu.RUnlock()
	}
}

// probe reads the root DSE, which every server answers.
func probe(conn *ldap.Conn) error {
	req := ldap.NewSearchRequest(
		"",
		ldap.ScopeBaseObject,
		ldap.NeverDerefAliases,
		1, 5, false,
		"(objectClass=*)",
		[]string{"defaultNamingContext"},
		nil,
	)
	_, err := conn.Search(req)
	return err
}

func validateConfig(config *ConnectionConfig) error {
	switch {
	case config.MaxConnections <= 0:
		return errors.New("MaxConnections must be positive")
	case config.MaxConnections > MaxConnectionPoolLimit:
		return fmt.Errorf("MaxConnections too high (max %d)", MaxConnectionPoolLimit)
	case config.MaxIdleTime <= 0:
		return errors.New("MaxIdleTime must be positive")
	case config.Timeout <= 0:
		return errors.New("timeout must be positive")
	case config.MaxRetries < 0:
		return errors.New("MaxRetries cannot be negative")
	case config.BackoffFactor <= 1.0:
		return errors.New("BackoffFactor must be greater than 1.0")
	}
	return nil
}

// Close returns the connection to its pool.
func (pc *PooledConnection) Close() {
	if pc.returnToPool != nil {
		pc.returnToPool(pc)
	}
}

// MarkUnhealthy makes the pool discard the connection when it is returned.
func (pc *PooledConnection) MarkUnhealthy() {
	pc.healthy = false
}

func (pc *PooledConnection) Conn() *ldap.Conn {
	return pc.conn
}

func (pc *PooledConnection) ServerInfo() *ServerInfo {
	return pc.serverInfo
}

package ldap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/hashicorp/terraform-plugin-log/tflog"
)

// asyncSearcher is the part of *ldap.Conn used to run searches.
type asyncSearcher interface {
	SearchAsync(ctx context.Context, searchRequest *ldap.SearchRequest, bufferSize int) ldap.Response
}

// client implements the Client interface.
type client struct {
	pool   ConnectionPool
	config *ConnectionConfig
	ctx    context.Context // Logging context with subsystems configured
}

// NewClient creates a client backed by a connection pool.
func NewClient(ctx context.Context, config *ConnectionConfig, opts ...PoolOption) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Creating LDAP client", map[string]any{
		"domain":          config.Domain,
		"ldap_urls":       config.LDAPURLs,
		"base_dn":         config.BaseDN,
		"auth_method":     config.GetAuthMethod().String(),
		"max_connections": config.MaxConnections,
	})

	pool, err := NewConnectionPool(ctx, config, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return newClientWithPool(ctx, config, pool), nil
}

func newClientWithPool(ctx context.Context, config *ConnectionConfig, pool ConnectionPool) *client {
	return &client{
		pool:   pool,
		config: config,
		ctx:    ctx,
	}
}

// Connect checks that a connection can be opened and bound.
func (c *client) Connect(ctx context.Context) error {
	return LogOperation(c.ctx, SubsystemLDAP, "connect", map[string]any{
		"domain":    c.config.Domain,
		"ldap_urls": c.config.LDAPURLs,
	}, func() error {
		return c.Ping(ctx)
	})
}

// Close closes the client and all its connections.
func (c *client) Close() error {
	return c.pool.Close()
}

// Search performs a single, unpaged search.
func (c *client) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	return c.search(ctx, "search", req, 0)
}

// SearchWithPaging performs a search using the simple paged results control,
// following cookies until the server reports the last page.
func (c *client) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	pageSize := c.config.PageSize
	if pageSize == 0 {
		pageSize = DefaultConfig().PageSize
	}
	return c.search(ctx, "paged_search", req, pageSize)
}

func (c *client) search(ctx context.Context, operation string, req *SearchRequest, pageSize uint32) (*SearchResult, error) {
	if req == nil {
		return nil, errors.New("search request cannot be nil")
	}

	fields := map[string]any{
		"base_dn":    req.BaseDN,
		"scope":      req.Scope.String(),
		"filter":     req.Filter,
		"attributes": req.Attributes,
		"size_limit": req.SizeLimit,
		"page_size":  pageSize,
	}
	tflog.SubsystemTrace(c.ctx, SubsystemLDAP, "Starting search", fields)

	var result *SearchResult
	err := c.withRetry(ctx, func() error {
		conn, err := c.pool.Get(ctx)
		if err != nil {
			return err
		}
		defer conn.Close()

		result, err = runSearch(ctx, conn.Conn(), req, pageSize)
		if err != nil && (ctx.Err() != nil || GetErrorCategory(err) == ErrorCategoryConnection) {
			conn.MarkUnhealthy()
		}
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		LogLDAPError(c.ctx, operation, err, fields)
		return nil, WrapError(operation, err)
	}

	return result, nil
}

// runSearch issues req on s, one request per page when pageSize is set. A
// size limit reached on the server side returns the entries received so far
// with HasMore set.
func runSearch(ctx context.Context, s asyncSearcher, req *SearchRequest, pageSize uint32) (*SearchResult, error) {
	var paging *ldap.ControlPaging
	if pageSize > 0 {
		paging = ldap.NewControlPaging(pageSize)
	}

	result := &SearchResult{}
	for {
		var controls []ldap.Control
		if paging != nil {
			controls = []ldap.Control{paging}
		}

		ldapReq := ldap.NewSearchRequest(
			req.BaseDN,
			int(req.Scope),
			ldap.NeverDerefAliases,
			req.SizeLimit,
			int(req.TimeLimit.Seconds()),
			false,
			req.Filter,
			req.Attributes,
			controls,
		)

		resp := s.SearchAsync(ctx, ldapReq, 0)
		for resp.Next() {
			if entry := resp.Entry(); entry != nil {
				result.Entries = append(result.Entries, entry)
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := resp.Err(); err != nil {
			if !IsSizeLimitError(err) {
				return nil, err
			}
			result.HasMore = true
			break
		}

		if paging == nil {
			break
		}
		next, ok := ldap.FindControl(resp.Controls(), ldap.ControlTypePaging).(*ldap.ControlPaging)
		if !ok || len(next.Cookie) == 0 {
			break
		}
		paging.SetCookie(next.Cookie)
	}

	result.Total = len(result.Entries)
	return result, nil
}

// Ping reads the root DSE over a pooled connection.
func (c *client) Ping(ctx context.Context) error {
	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	if err := probe(conn.Conn()); err != nil {
		conn.MarkUnhealthy()
		return WrapError("ping", err)
	}
	return nil
}

// Stats returns pool statistics.
func (c *client) Stats() PoolStats {
	return c.pool.Stats()
}

// GetBaseDN returns the configured base DN, or the server's default naming
// context when none is configured.
func (c *client) GetBaseDN(ctx context.Context) (string, error) {
	if c.config.BaseDN != "" {
		return c.config.BaseDN, nil
	}

	result, err := c.Search(ctx, &SearchRequest{
		BaseDN:     "",
		Scope:      ScopeBaseObject,
		Filter:     "(objectClass=*)",
		Attributes: []string{"defaultNamingContext", "namingContexts"},
		SizeLimit:  1,
		TimeLimit:  5 * time.Second,
	})
	if err != nil {
		return "", fmt.Errorf("failed to read root DSE: %w", err)
	}
	if len(result.Entries) == 0 {
		return "", errors.New("no root DSE found")
	}

	entry := result.Entries[0]
	if dn := entry.GetAttributeValue("defaultNamingContext"); dn != "" {
		return dn, nil
	}
	if dn := entry.GetAttributeValue("namingContexts"); dn != "" {
		return dn, nil
	}
	return "", errors.New("root DSE advertises no naming context")
}

// withRetry runs operation until it succeeds, fails with a non-retryable
// error, or the retry budget is spent. Backoff grows by BackoffFactor.
func (c *client) withRetry(ctx context.Context, operation func() error) error {
	var lastErr error
	backoff := c.config.InitialBackoff

	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			tflog.SubsystemDebug(c.ctx, SubsystemLDAP, "Retrying operation", map[string]any{
				"attempt":    attempt,
				"max_retry":  c.config.MaxRetries,
				"backoff_ms": backoff.Milliseconds(),
				"last_error": lastErr.Error(),
			})

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				backoff = min(time.Duration(float64(backoff)*c.config.BackoffFactor), c.config.MaxBackoff)
			}
		}

		err := operation()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !IsRetryableError(err) {
			return err
		}
	}

	return NewConnectionError("operation failed after retries", false, lastErr)
}

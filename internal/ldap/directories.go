package ldap

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/errgroup"

	"github.com/isometry/dirsearch/internal/table"
)

// DirectoryConfig describes one searchable directory.
type DirectoryConfig struct {
	ID         table.DirectoryID
	Connection *ConnectionConfig
	Attributes []string      // Attributes returned, in column order
	Filter     FilterSpec    // How user input is matched
	SizeLimit  int           // Maximum entries per search, 0 for the server limit
	CacheTTL   time.Duration // How long results are reused for the same filter, 0 to disable
}

// directory pairs a configuration with its client and cached base DN.
type directory struct {
	config DirectoryConfig
	client Client
	cache  *ResultCache // nil when caching is disabled

	mu     sync.Mutex
	baseDN string
}

// Directories searches every configured directory for one filter. It
// satisfies query.Searcher.
type Directories struct {
	ctx  context.Context // Logging context
	dirs []*directory
}

// NewDirectories creates a client for every directory. Connections are
// opened on first use.
func NewDirectories(ctx context.Context, configs []DirectoryConfig, opts ...PoolOption) (*Directories, error) {
	clients := make([]Client, 0, len(configs))
	for _, cfg := range configs {
		c, err := NewClient(ctx, cfg.Connection, opts...)
		if err != nil {
			for _, opened := range clients {
				_ = opened.Close()
			}
			return nil, fmt.Errorf("directory %s: %w", cfg.ID, err)
		}
		clients = append(clients, c)
	}

	return NewDirectoriesWithClients(ctx, configs, clients)
}

// NewDirectoriesWithClients uses the given clients, one per configuration
// and in the same order.
func NewDirectoriesWithClients(ctx context.Context, configs []DirectoryConfig, clients []Client) (*Directories, error) {
	if len(configs) != len(clients) {
		return nil, fmt.Errorf("got %d clients for %d directories", len(clients), len(configs))
	}

	seen := make(map[table.DirectoryID]bool, len(configs))
	d := &Directories{ctx: ctx}
	for i, cfg := range configs {
		if seen[cfg.ID] {
			return nil, fmt.Errorf("duplicate directory %q", cfg.ID)
		}
		seen[cfg.ID] = true

		var baseDN string
		if cfg.Connection != nil {
			baseDN = cfg.Connection.BaseDN
		}
		dir := &directory{config: cfg, client: clients[i], baseDN: baseDN}
		if cfg.CacheTTL > 0 {
			dir.cache = NewResultCache(cfg.CacheTTL, DefaultCacheSize)
		}
		d.dirs = append(d.dirs, dir)
	}

	return d, nil
}

// IDs returns the directory identifiers in configuration order.
func (d *Directories) IDs() []table.DirectoryID {
	ids := make([]table.DirectoryID, len(d.dirs))
	for i, dir := range d.dirs {
		ids[i] = dir.config.ID
	}
	return ids
}

// Search runs filter against every directory concurrently. Any directory
// failing fails the whole search and cancels the others.
func (d *Directories) Search(ctx context.Context, filter string) (map[table.DirectoryID][]table.Record, error) {
	var mu sync.Mutex
	results := make(map[table.DirectoryID][]table.Record, len(d.dirs))

	g, gctx := errgroup.WithContext(ctx)
	for _, dir := range d.dirs {
		g.Go(func() error {
			records, err := dir.search(gctx, d.ctx, filter)
			if err != nil {
				return directoryError(dir.config.ID, err)
			}

			mu.Lock()
			results[dir.config.ID] = records
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	return results, nil
}

func (dir *directory) search(ctx, logCtx context.Context, input string) ([]table.Record, error) {
	filter, err := BuildUserFilter(input, dir.config.Filter)
	if err != nil {
		return nil, err
	}

	if dir.cache != nil {
		if records, ok := dir.cache.Get(filter); ok {
			tflog.SubsystemTrace(logCtx, SubsystemLDAP, "Search served from cache", map[string]any{
				"directory": string(dir.config.ID),
				"filter":    filter,
				"entries":   len(records),
			})
			return records, nil
		}
	}

	baseDN, err := dir.resolveBaseDN(ctx)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	result, err := dir.client.SearchWithPaging(ctx, &SearchRequest{
		BaseDN:     baseDN,
		Scope:      ScopeWholeSubtree,
		Filter:     filter,
		Attributes: requestedAttributes(dir.config.Attributes),
		SizeLimit:  dir.config.SizeLimit,
	})
	if err != nil {
		return nil, err
	}

	LogSearch(logCtx, string(dir.config.ID), filter, len(result.Entries), time.Since(start))
	if result.HasMore {
		tflog.SubsystemWarn(logCtx, SubsystemLDAP, "Search truncated by size limit", map[string]any{
			"directory":  string(dir.config.ID),
			"entries":    len(result.Entries),
			"size_limit": dir.config.SizeLimit,
		})
	}

	records := EntriesToRecords(result.Entries, dir.config.Attributes)
	if dir.cache != nil {
		dir.cache.Put(filter, records)
	}
	return records, nil
}

// resolveBaseDN returns the configured base DN or asks the server once.
func (dir *directory) resolveBaseDN(ctx context.Context) (string, error) {
	dir.mu.Lock()
	defer dir.mu.Unlock()

	if dir.baseDN != "" {
		return dir.baseDN, nil
	}

	baseDN, err := dir.client.GetBaseDN(ctx)
	if err != nil {
		return "", err
	}
	dir.baseDN = baseDN
	return baseDN, nil
}

// requestedAttributes drops the columns derived from the entry DN, which the
// server returns with every entry anyway, and duplicates.
func requestedAttributes(columns []string) []string {
	attrs := make([]string, 0, len(columns))
	for _, col := range columns {
		if IsSyntheticAttribute(col) {
			continue
		}
		if slices.ContainsFunc(attrs, func(a string) bool { return strings.EqualFold(a, col) }) {
			continue
		}
		attrs = append(attrs, col)
	}
	return attrs
}

func directoryError(id table.DirectoryID, err error) error {
	var ldapErr *LDAPError
	if errors.As(err, &ldapErr) && ldapErr.Directory == "" {
		ldapErr.Directory = string(id)
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w", id, err)
}

// Check connects to every directory concurrently and reports the outcome per
// directory. A nil error means the directory answered.
func (d *Directories) Check(ctx context.Context) map[table.DirectoryID]error {
	var mu sync.Mutex
	results := make(map[table.DirectoryID]error, len(d.dirs))

	var wg sync.WaitGroup
	for _, dir := range d.dirs {
		wg.Go(func() {
			err := dir.client.Connect(ctx)
			if err == nil {
				_, err = dir.resolveBaseDN(ctx)
			}
			mu.Lock()
			results[dir.config.ID] = err
			mu.Unlock()
		})
	}
	wg.Wait()

	return results
}

// Stats returns the pool statistics of every directory.
func (d *Directories) Stats() map[table.DirectoryID]PoolStats {
	stats := make(map[table.DirectoryID]PoolStats, len(d.dirs))
	for _, dir := range d.dirs {
		stats[dir.config.ID] = dir.client.Stats()
	}
	return stats
}

// CacheStats returns the result cache statistics of every directory that
// caches results.
func (d *Directories) CacheStats() map[table.DirectoryID]CacheStats {
	stats := make(map[table.DirectoryID]CacheStats, len(d.dirs))
	for _, dir := range d.dirs {
		if dir.cache != nil {
			stats[dir.config.ID] = dir.cache.Stats()
		}
	}
	return stats
}

// Close closes every client.
func (d *Directories) Close() error {
	var errs []error
	for _, dir := range d.dirs {
		if err := dir.client.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", dir.config.ID, err))
		}
	}
	return errors.Join(errs...)
}

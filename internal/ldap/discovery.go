package ldap

import (
	"cmp"
	"context"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/terraform-plugin-log/tflog"
)

const (
	defaultLDAPPort  = 389
	defaultLDAPSPort = 636
)

// SRVResolver is the subset of net.Resolver used for discovery.
type SRVResolver interface {
	LookupSRV(ctx context.Context, service, proto, name string) (string, []*net.SRV, error)
}

// SRVDiscovery locates domain controllers through DNS SRV records.
type SRVDiscovery struct {
	resolver SRVResolver
}

// NewSRVDiscovery creates a discovery instance. A nil resolver uses
// net.DefaultResolver.
func NewSRVDiscovery(resolver SRVResolver) *SRVDiscovery {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &SRVDiscovery{resolver: resolver}
}

// srvServices lists the lookups in order of preference: LDAPS first, then
// plain LDAP, then the global catalog.
var srvServices = []struct {
	prefix string
	useTLS bool
}{
	{"_ldaps._tcp.", true},
	{"_ldap._tcp.", false},
	{"_gc._tcp.", false},
}

// DiscoverServers returns the LDAP servers advertised for domain, sorted by
// SRV priority and weight. When no record answers, the domain name itself is
// tried on the standard ports.
func (d *SRVDiscovery) DiscoverServers(ctx context.Context, domain string) ([]*ServerInfo, error) {
	domain = strings.TrimSuffix(strings.TrimSpace(domain), ".")
	if domain == "" {
		return nil, fmt.Errorf("domain cannot be empty")
	}

	start := time.Now()
	var servers []*ServerInfo

	for _, svc := range srvServices {
		found, err := d.lookupSRV(ctx, svc.prefix+domain, svc.useTLS)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		servers = append(servers, found...)

		// LDAPS servers make the other record types unnecessary
		if svc.useTLS {
			break
		}
	}

	if len(servers) == 0 {
		tflog.SubsystemDebug(ctx, SubsystemLDAP, "No SRV records found, using fallback servers", map[string]any{
			"domain": domain,
		})
		return fallbackServers(domain), nil
	}

	sortServersByPriority(servers)

	tflog.SubsystemDebug(ctx, SubsystemLDAP, "Server discovery completed", map[string]any{
		"domain":       domain,
		"server_count": len(servers),
		"duration_ms":  time.Since(start).Milliseconds(),
	})

	return servers, nil
}

func (d *SRVDiscovery) lookupSRV(ctx context.Context, service string, useTLS bool) ([]*ServerInfo, error) {
	_, records, err := d.resolver.LookupSRV(ctx, "", "", service)
	if err != nil {
		tflog.SubsystemTrace(ctx, SubsystemLDAP, "SRV lookup failed", map[string]any{
			"service": service,
			"error":   err.Error(),
		})
		return nil, fmt.Errorf("SRV lookup failed for %s: %w", service, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no SRV records found for %s", service)
	}

	servers := make([]*ServerInfo, 0, len(records))
	for _, srv := range records {
		servers = append(servers, &ServerInfo{
			Host:     strings.TrimSuffix(srv.Target, "."),
			Port:     int(srv.Port),
			UseTLS:   useTLS,
			Priority: int(srv.Priority),
			Weight:   int(srv.Weight),
			Source:   "srv",
		})
	}

	tflog.SubsystemTrace(ctx, SubsystemLDAP, "SRV lookup completed", map[string]any{
		"service":      service,
		"record_count": len(servers),
	})

	return servers, nil
}

func fallbackServers(domain string) []*ServerInfo {
	return []*ServerInfo{
		{Host: domain, Port: defaultLDAPSPort, UseTLS: true, Priority: 0, Weight: 100, Source: "fallback"},
		{Host: domain, Port: defaultLDAPPort, UseTLS: false, Priority: 1, Weight: 100, Source: "fallback"},
	}
}

// sortServersByPriority orders servers by ascending priority, then by
// descending weight (RFC 2782).
func sortServersByPriority(servers []*ServerInfo) {
	slices.SortStableFunc(servers, func(a, b *ServerInfo) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return cmp.Compare(b.Weight, a.Weight)
	})
}

// ValidateServerInfo validates server information.
func ValidateServerInfo(server *ServerInfo) error {
	switch {
	case server == nil:
		return fmt.Errorf("server info cannot be nil")
	case server.Host == "":
		return fmt.Errorf("server host cannot be empty")
	case server.Port <= 0 || server.Port > 65535:
		return fmt.Errorf("invalid port number: %d", server.Port)
	case server.Priority < 0:
		return fmt.Errorf("priority cannot be negative: %d", server.Priority)
	case server.Weight < 0:
		return fmt.Errorf("weight cannot be negative: %d", server.Weight)
	}
	return nil
}

// ServerInfoToURL converts ServerInfo to an LDAP URL.
func ServerInfoToURL(server *ServerInfo) string {
	scheme := "ldap"
	if server.UseTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(server.Host, strconv.Itoa(server.Port)))
}

// ParseLDAPURL parses an ldap:// or ldaps:// URL into ServerInfo. A missing
// port defaults to the scheme's standard port.
func ParseLDAPURL(raw string) (*ServerInfo, error) {
	if raw == "" {
		return nil, fmt.Errorf("URL cannot be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid LDAP URL %q: %w", raw, err)
	}

	server := &ServerInfo{
		Host:   u.Hostname(),
		Weight: 100,
		Source: "config",
	}

	switch strings.ToLower(u.Scheme) {
	case "ldaps":
		server.UseTLS = true
		server.Port = defaultLDAPSPort
	case "ldap":
		server.Port = defaultLDAPPort
	default:
		return nil, fmt.Errorf("unsupported scheme %q, must be ldap:// or ldaps://", u.Scheme)
	}

	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %s", p)
		}
		server.Port = port
	}

	return server, ValidateServerInfo(server)
}

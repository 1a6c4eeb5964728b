package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/isometry/dirsearch/internal/ldap"
	"github.com/isometry/dirsearch/internal/table"
)

// Validate checks the configuration. Errors name the offending key.
func (c *Config) Validate() error {
	var errs []error
	enabled := 0

	for _, d := range c.directories() {
		if !d.dir.Enabled() {
			continue
		}
		enabled++
		errs = append(errs, d.dir.validate(string(d.id))...)
	}
	if enabled == 0 {
		errs = append(errs, errors.New("no directory configured: set urls or domain in [ldap] or [ad]"))
	}

	if _, err := table.ParseWidthPolicy(c.Display.WidthPolicy); err != nil {
		errs = append(errs, fmt.Errorf("display.width_policy: %w", err))
	}
	if c.Display.MinFilterLength < 0 {
		errs = append(errs, fmt.Errorf("display.min_filter_length: must not be negative"))
	}
	if c.Display.Upscale < 1 {
		errs = append(errs, fmt.Errorf("display.upscale: must be at least 1.0, got %g", c.Display.Upscale))
	}
	if c.Query.Timeout < 0 {
		errs = append(errs, fmt.Errorf("query.timeout: must not be negative"))
	}

	return errors.Join(errs...)
}

func (d *Directory) validate(section string) []error {
	var errs []error
	key := func(name string) string { return section + "." + name }

	for i, u := range d.URLs {
		if _, err := ldap.ParseLDAPURL(u); err != nil {
			errs = append(errs, fmt.Errorf("%s[%d]: %w", key("urls"), i, err))
		}
	}

	if len(d.Attributes) == 0 {
		errs = append(errs, fmt.Errorf("%s: must list at least one attribute", key("attrs_search")))
	}
	for _, attr := range d.Attributes {
		if strings.TrimSpace(attr) == "" {
			errs = append(errs, fmt.Errorf("%s: empty attribute name", key("attrs_search")))
			break
		}
	}

	if len(d.matchAttributes()) == 0 {
		errs = append(errs, fmt.Errorf("%s: no attribute to match the filter against", key("match_attrs")))
	}

	if f := strings.TrimSpace(d.ObjectFilter); f != "" {
		if err := ldap.ValidateFilter(f); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key("object_filter"), err))
		}
	}

	if d.Password != "" && d.Username == "" {
		errs = append(errs, fmt.Errorf("%s: password set without username", key("username")))
	}
	if d.SizeLimit < 0 {
		errs = append(errs, fmt.Errorf("%s: must not be negative", key("size_limit")))
	}
	if d.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("%s: must be positive", key("timeout")))
	}
	if d.CacheTTL < 0 {
		errs = append(errs, fmt.Errorf("%s: must not be negative", key("cache_ttl")))
	}
	if d.MaxConnections <= 0 || d.MaxConnections > ldap.MaxConnectionPoolLimit {
		errs = append(errs, fmt.Errorf("%s: must be between 1 and %d", key("max_connections"), ldap.MaxConnectionPoolLimit))
	}

	return errs
}

/*
Package ldap provides read-only directory access for dirsearch.

It searches an OpenLDAP-style directory and an Active Directory side by
side for one user-typed filter and returns the matching entries as
table.Record values.

# Connection Management

The Client interface wraps a connection pool with:

  - SRV-based domain controller discovery, or explicit ldap:// and ldaps:// URLs
  - LDAPS, or StartTLS on plain connections
  - Simple bind and Kerberos (GSSAPI) authentication
  - Health checks of idle connections
  - Retry with exponential backoff for retryable errors

Searches are context aware: cancelling the context abandons the request on
the server and the connection is discarded.

# Searching

Directories owns one Client per configured directory. Its Search method
turns the input into a substring filter over the directory's match
attributes (see BuildUserFilter), runs a paged search on every directory
concurrently and converts entries with EntryToRecord. Binary objectSid and
objectGUID values are rendered as strings. The entry DN is available as the
synthetic "dn" attribute, and its first RDN and parent as "rdn" and "parent".

With DirectoryConfig.CacheTTL set, results are kept per LDAP filter in a
ResultCache and reused until they expire.

# Error Handling

Failures are reported as *LDAPError values carrying a category
(connection, authentication, filter, limit, ...), the LDAP result code and
whether a retry may help.

# Example Usage

	dirs, err := ldap.NewDirectories(ctx, []ldap.DirectoryConfig{{
		ID: "ad",
		Connection: &ldap.ConnectionConfig{
			Domain:   "corp.example.com",
			Username: "reader@corp.example.com",
			Password: password,
		},
		Attributes: []string{"sAMAccountName", "displayName", "mail"},
		Filter: ldap.FilterSpec{
			MatchAttributes: []string{"sAMAccountName", "displayName"},
			ObjectFilter:    "(&(objectCategory=person)(objectClass=user))",
		},
	}})
	if err != nil {
		return err
	}
	defer dirs.Close()

	records, err := dirs.Search(ctx, "dupont")
*/
package ldap

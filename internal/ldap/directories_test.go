package ldap

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirsearch/internal/table"
)

// MockClient is a mock implementation of Client.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) Connect(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockClient) Close() error {
	return m.Called().Error(0)
}

func (m *MockClient) Search(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*SearchResult)
	return result, args.Error(1)
}

func (m *MockClient) SearchWithPaging(ctx context.Context, req *SearchRequest) (*SearchResult, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*SearchResult)
	return result, args.Error(1)
}

func (m *MockClient) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockClient) Stats() PoolStats {
	return m.Called().Get(0).(PoolStats)
}

func (m *MockClient) GetBaseDN(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func testDirectoryConfigs() []DirectoryConfig {
	return []DirectoryConfig{
		{
			ID:         "ldap",
			Connection: &ConnectionConfig{BaseDN: "ou=people,dc=example,dc=org"},
			Attributes: []string{"cn", "uid", "mail", "dn"},
			Filter: FilterSpec{
				MatchAttributes: []string{"cn", "uid"},
				ObjectFilter:    "(objectClass=person)",
			},
		},
		{
			ID:         "ad",
			Connection: &ConnectionConfig{},
			Attributes: []string{"sAMAccountName", "displayName"},
			Filter: FilterSpec{
				MatchAttributes: []string{"sAMAccountName"},
			},
			SizeLimit: 50,
		},
	}
}

func newTestDirectories(t *testing.T) (*Directories, *MockClient, *MockClient) {
	t.Helper()
	ldapClient, adClient := new(MockClient), new(MockClient)
	dirs, err := NewDirectoriesWithClients(context.Background(), testDirectoryConfigs(), []Client{ldapClient, adClient})
	require.NoError(t, err)
	return dirs, ldapClient, adClient
}

func entryWith(dn string, attrs map[string][]string) *ldap.Entry {
	return ldap.NewEntry(dn, attrs)
}

func TestDirectories_Search(t *testing.T) {
	dirs, ldapClient, adClient := newTestDirectories(t)

	ldapClient.On("SearchWithPaging", mock.Anything, mock.MatchedBy(func(req *SearchRequest) bool {
		return req.BaseDN == "ou=people,dc=example,dc=org" &&
			req.Scope == ScopeWholeSubtree &&
			req.Filter == "(&(objectClass=person)(|(cn=*dup*)(uid=*dup*)))" &&
			cmp.Equal(req.Attributes, []string{"cn", "uid", "mail"})
	})).Return(&SearchResult{Entries: []*ldap.Entry{
		entryWith("uid=jdupont,ou=people,dc=example,dc=org", map[string][]string{
			"cn":   {"Jean Dupont"},
			"uid":  {"jdupont"},
			"mail": {"jean@example.org", "jd@example.org"},
		}),
	}}, nil)

	adClient.On("GetBaseDN", mock.Anything).Return("DC=corp,DC=example,DC=com", nil).Once()
	adClient.On("SearchWithPaging", mock.Anything, mock.MatchedBy(func(req *SearchRequest) bool {
		return req.BaseDN == "DC=corp,DC=example,DC=com" &&
			req.Filter == "(sAMAccountName=*dup*)" &&
			req.SizeLimit == 50
	})).Return(&SearchResult{}, nil)

	got, err := dirs.Search(context.Background(), "dup")
	require.NoError(t, err)

	want := map[table.DirectoryID][]table.Record{
		"ldap": {{
			"cn":   {"Jean Dupont"},
			"uid":  {"jdupont"},
			"mail": {"jean@example.org", "jd@example.org"},
			"dn":   {"uid=jdupont,ou=people,dc=example,dc=org"},
		}},
		"ad": {},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Search() mismatch (-want +got):\n%s", diff)
	}

	// The discovered base DN is reused
	_, err = dirs.Search(context.Background(), "dup")
	require.NoError(t, err)

	ldapClient.AssertExpectations(t)
	adClient.AssertExpectations(t)
	adClient.AssertNumberOfCalls(t, "GetBaseDN", 1)
}

func TestDirectories_SearchFailure(t *testing.T) {
	dirs, ldapClient, adClient := newTestDirectories(t)

	ldapClient.On("SearchWithPaging", mock.Anything, mock.Anything).Return(&SearchResult{}, nil).Maybe()
	adClient.On("GetBaseDN", mock.Anything).Return("DC=corp,DC=example,DC=com", nil)
	adClient.On("SearchWithPaging", mock.Anything, mock.Anything).Return(nil,
		NewLDAPError("paged_search", ldap.NewError(ldap.LDAPResultInsufficientAccessRights, errors.New("access denied"))))

	got, err := dirs.Search(context.Background(), "dup")
	assert.Nil(t, got)

	var ldapErr *LDAPError
	require.ErrorAs(t, err, &ldapErr)
	assert.Equal(t, "ad", ldapErr.Directory)
	assert.Equal(t, ErrorCategoryPermission, ldapErr.Category)
}

func TestDirectories_SearchInvalidInput(t *testing.T) {
	dirs, _, _ := newTestDirectories(t)

	_, err := dirs.Search(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyFilter)
}

func TestDirectories_SearchCanceled(t *testing.T) {
	dirs, ldapClient, adClient := newTestDirectories(t)

	ctx, cancel := context.WithCancel(context.Background())
	ldapClient.On("SearchWithPaging", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		cancel()
	}).Return(nil, context.Canceled)
	adClient.On("GetBaseDN", mock.Anything).Return("", context.Canceled).Maybe()
	adClient.On("SearchWithPaging", mock.Anything, mock.Anything).Return(nil, context.Canceled).Maybe()

	_, err := dirs.Search(ctx, "dup")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDirectories_Check(t *testing.T) {
	dirs, ldapClient, adClient := newTestDirectories(t)

	ldapClient.On("Connect", mock.Anything).Return(nil)
	adClient.On("Connect", mock.Anything).Return(errors.New("connection refused"))

	got := dirs.Check(context.Background())
	require.Len(t, got, 2)
	assert.NoError(t, got["ldap"])
	assert.ErrorContains(t, got["ad"], "connection refused")
	adClient.AssertNotCalled(t, "GetBaseDN", mock.Anything)
}

func TestDirectories_CloseAndStats(t *testing.T) {
	dirs, ldapClient, adClient := newTestDirectories(t)

	ldapClient.On("Stats").Return(PoolStats{Created: 1})
	adClient.On("Stats").Return(PoolStats{Created: 2})
	ldapClient.On("Close").Return(nil)
	adClient.On("Close").Return(errors.New("already closed"))

	stats := dirs.Stats()
	assert.EqualValues(t, 1, stats["ldap"].Created)
	assert.EqualValues(t, 2, stats["ad"].Created)

	err := dirs.Close()
	assert.ErrorContains(t, err, "ad: already closed")
	assert.Equal(t, []table.DirectoryID{"ldap", "ad"}, dirs.IDs())
}

func TestNewDirectoriesWithClients_Errors(t *testing.T) {
	configs := testDirectoryConfigs()

	_, err := NewDirectoriesWithClients(context.Background(), configs, []Client{new(MockClient)})
	assert.Error(t, err)

	configs[1].ID = configs[0].ID
	_, err = NewDirectoriesWithClients(context.Background(), configs, []Client{new(MockClient), new(MockClient)})
	assert.ErrorContains(t, err, "duplicate directory")
}

func TestRequestedAttributes(t *testing.T) {
	got := requestedAttributes([]string{"cn", "DN", "mail", "CN", "objectSid"})
	assert.Equal(t, []string{"cn", "mail", "objectSid"}, got)
}

func TestDirectories_SearchCached(t *testing.T) {
	configs := testDirectoryConfigs()[:1]
	configs[0].CacheTTL = time.Minute
	client := new(MockClient)
	dirs, err := NewDirectoriesWithClients(context.Background(), configs, []Client{client})
	require.NoError(t, err)

	client.On("SearchWithPaging", mock.Anything, mock.Anything).Return(&SearchResult{Entries: []*ldap.Entry{
		entryWith("uid=jdupont,ou=people,dc=example,dc=org", map[string][]string{"cn": {"Jean Dupont"}}),
	}}, nil).Once()

	first, err := dirs.Search(context.Background(), "dup")
	require.NoError(t, err)
	second, err := dirs.Search(context.Background(), " dup ")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	client.AssertNumberOfCalls(t, "SearchWithPaging", 1)

	stats := dirs.CacheStats()
	assert.EqualValues(t, 1, stats["ldap"].Hits)
	assert.EqualValues(t, 1, stats["ldap"].Misses)
	assert.EqualValues(t, 1, stats["ldap"].Entries)
}

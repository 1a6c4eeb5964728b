package query

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/isometry/dirsearch/internal/table"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// MockSearcher implements the Searcher interface for testing.
type MockSearcher struct {
	mock.Mock
}

func (m *MockSearcher) Search(ctx context.Context, filter string) (map[table.DirectoryID][]table.Record, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	result, ok := args.Get(0).(map[table.DirectoryID][]table.Record)
	if !ok {
		return nil, args.Error(1)
	}
	return result, args.Error(1)
}

func testConfig() Config {
	return Config{
		Directories: []table.Directory{
			{ID: "ldap", Attributes: []string{"cn", "mail"}},
			{ID: "ad", Attributes: []string{"sAMAccountName"}},
		},
		WidthPolicy: table.WidthLongestLine,
	}
}

func recordsFor(cn string) map[table.DirectoryID][]table.Record {
	return map[table.DirectoryID][]table.Record{
		"ldap": {{"cn": {cn}, "mail": {cn + "@x.com"}}},
		"ad":   {{"sAMAccountName": {cn}}},
	}
}

func awaitTimeout(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestOrchestrator_Ready(t *testing.T) {
	searcher := &MockSearcher{}
	searcher.On("Search", mock.Anything, "Bob").Return(map[table.DirectoryID][]table.Record{
		"ldap": {{"cn": {"Bob"}, "mail": {"b@x.com", "b2@x.com"}}},
	}, nil)

	o := New(context.Background(), searcher, testConfig())
	defer o.Close()

	seq := o.Submit("Bob")
	snap, err := o.Await(awaitTimeout(t), seq)
	require.NoError(t, err)

	assert.Equal(t, StatusReady, snap.Status)
	assert.Equal(t, "Bob", snap.Filter)
	assert.NoError(t, snap.Err)
	require.NotNil(t, snap.Aggregate)

	ldap, ok := snap.Aggregate.Get("ldap")
	require.True(t, ok)
	assert.Equal(t, table.Table{{"cn", "mail"}, {"Bob", "b@x.com\nb2@x.com"}}, ldap.Table)
	assert.Equal(t, table.Widths{3, 8}, ldap.Widths)

	ad, ok := snap.Aggregate.Get("ad")
	require.True(t, ok)
	assert.Equal(t, table.Table{{"sAMAccountName"}}, ad.Table)

	assert.Equal(t, snap, o.Snapshot())
	searcher.AssertExpectations(t)
}

func TestOrchestrator_StaleResultIsDropped(t *testing.T) {
	release := make(chan struct{})
	searcher := &MockSearcher{}
	searcher.On("Search", mock.Anything, "a").Run(func(mock.Arguments) {
		<-release
	}).Return(recordsFor("a"), nil)
	searcher.On("Search", mock.Anything, "ab").Return(recordsFor("ab"), nil)

	o := New(context.Background(), searcher, testConfig())
	defer o.Close()

	first := o.Submit("a")
	second := o.Submit("ab")
	require.Greater(t, second, first)

	snap, err := o.Await(awaitTimeout(t), second)
	require.NoError(t, err)
	require.Equal(t, StatusReady, snap.Status)

	// The search for "a" ignores cancellation and answers late.
	close(release)
	require.Eventually(t, func() bool {
		return o.Stats().Stale == 1
	}, 5*time.Second, 5*time.Millisecond)

	current := o.Snapshot()
	assert.Equal(t, "ab", current.Filter)
	assert.Equal(t, second, current.Seq)
	ldap, ok := current.Aggregate.Get("ldap")
	require.True(t, ok)
	assert.Equal(t, "ab", ldap.Table[1][0])

	_, err = o.Await(awaitTimeout(t), first)
	assert.ErrorIs(t, err, ErrSuperseded)
}

func TestOrchestrator_CancelsPreviousSearch(t *testing.T) {
	cancelled := make(chan struct{})
	searcher := &MockSearcher{}
	searcher.On("Search", mock.Anything, "first").Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		<-ctx.Done()
		close(cancelled)
	}).Return(nil, context.Canceled)
	searcher.On("Search", mock.Anything, "second").Return(recordsFor("second"), nil)

	o := New(context.Background(), searcher, testConfig())
	defer o.Close()

	o.Submit("first")
	seq := o.Submit("second")

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("previous search was not cancelled")
	}

	snap, err := o.Await(awaitTimeout(t), seq)
	require.NoError(t, err)
	assert.Equal(t, StatusReady, snap.Status)
	assert.Equal(t, "second", snap.Filter)
}

func TestOrchestrator_Failure(t *testing.T) {
	cause := errors.New("server unavailable")
	searcher := &MockSearcher{}
	searcher.On("Search", mock.Anything, "carol").Return(nil, cause)

	o := New(context.Background(), searcher, testConfig())
	defer o.Close()

	snap, err := o.Await(awaitTimeout(t), o.Submit("carol"))
	require.NoError(t, err)

	assert.Equal(t, StatusFailed, snap.Status)
	assert.Nil(t, snap.Aggregate)
	require.Error(t, snap.Err)
	assert.ErrorIs(t, snap.Err, cause)

	var queryErr *QueryError
	require.ErrorAs(t, snap.Err, &queryErr)
	assert.Equal(t, "carol", queryErr.Filter)
	assert.False(t, queryErr.Timeout())
	assert.Equal(t, int64(1), o.Stats().Failed)
}

func TestOrchestrator_NoMatchesIsNotFailure(t *testing.T) {
	searcher := &MockSearcher{}
	searcher.On("Search", mock.Anything, "nobody").Return(map[table.DirectoryID][]table.Record{}, nil)

	o := New(context.Background(), searcher, testConfig())
	defer o.Close()

	snap, err := o.Await(awaitTimeout(t), o.Submit("nobody"))
	require.NoError(t, err)

	assert.Equal(t, StatusReady, snap.Status)
	assert.NoError(t, snap.Err)
	require.NotNil(t, snap.Aggregate)
	assert.Zero(t, snap.Aggregate.Matches())
	for _, r := range snap.Aggregate.Results {
		assert.Len(t, r.Table, 1, "directory %s", r.Directory)
	}
}

func TestOrchestrator_Timeout(t *testing.T) {
	searcher := &MockSearcher{}
	searcher.On("Search", mock.Anything, "slow").Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.DeadlineExceeded)

	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	o := New(context.Background(), searcher, cfg)
	defer o.Close()

	snap, err := o.Await(awaitTimeout(t), o.Submit("slow"))
	require.NoError(t, err)

	require.Equal(t, StatusFailed, snap.Status)
	var queryErr *QueryError
	require.ErrorAs(t, snap.Err, &queryErr)
	assert.True(t, queryErr.Timeout())
	assert.Contains(t, snap.Err.Error(), "timed out")
}

func TestOrchestrator_MinFilterLength(t *testing.T) {
	searcher := &MockSearcher{}
	searcher.On("Search", mock.Anything, "bob").Return(recordsFor("bob"), nil)

	cfg := testConfig()
	cfg.MinFilterLength = 3
	o := New(context.Background(), searcher, cfg)
	defer o.Close()

	snap, err := o.Await(awaitTimeout(t), o.Submit("bo"))
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, snap.Status)
	assert.Nil(t, snap.Aggregate)

	snap, err = o.Await(awaitTimeout(t), o.Submit("  é "))
	require.NoError(t, err)
	assert.Equal(t, StatusIdle, snap.Status)

	snap, err = o.Await(awaitTimeout(t), o.Submit("bob"))
	require.NoError(t, err)
	assert.Equal(t, StatusReady, snap.Status)

	searcher.AssertNotCalled(t, "Search", mock.Anything, "bo")
	searcher.AssertNumberOfCalls(t, "Search", 1)
}

func TestOrchestrator_ResubmitSameFilter(t *testing.T) {
	searcher := &MockSearcher{}
	searcher.On("Search", mock.Anything, "dave").Return(recordsFor("dave"), nil)

	o := New(context.Background(), searcher, testConfig())
	defer o.Close()

	first, err := o.Await(awaitTimeout(t), o.Submit("dave"))
	require.NoError(t, err)
	second, err := o.Await(awaitTimeout(t), o.Submit("dave"))
	require.NoError(t, err)

	assert.Greater(t, second.Seq, first.Seq)
	searcher.AssertNumberOfCalls(t, "Search", 2)
	assert.Equal(t, int64(2), o.Stats().Completed)
}

func TestOrchestrator_Updates(t *testing.T) {
	searcher := &MockSearcher{}
	searcher.On("Search", mock.Anything, "eve").Return(recordsFor("eve"), nil)

	o := New(context.Background(), searcher, testConfig())
	seq := o.Submit("eve")

	var last Snapshot
	timeout := time.After(5 * time.Second)
	for last.Seq != seq || !last.Status.Terminal() {
		select {
		case snap := <-o.Updates():
			last = snap
		case <-timeout:
			t.Fatal("no terminal update received")
		}
	}
	assert.Equal(t, StatusReady, last.Status)

	o.Close()
	_, open := <-o.Updates()
	assert.False(t, open)
}

func TestOrchestrator_Close(t *testing.T) {
	release := make(chan struct{})
	searcher := &MockSearcher{}
	searcher.On("Search", mock.Anything, "frank").Run(func(mock.Arguments) {
		<-release
	}).Return(recordsFor("frank"), nil)

	o := New(context.Background(), searcher, testConfig())
	seq := o.Submit("frank")

	var wg sync.WaitGroup
	var awaitErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, awaitErr = o.Await(context.Background(), seq)
	}()

	close(release)
	o.Close()
	wg.Wait()

	if awaitErr != nil {
		assert.ErrorIs(t, awaitErr, ErrClosed)
	}
	assert.Equal(t, seq, o.Submit("ignored"))
	o.Close()
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "idle", StatusIdle.String())
	assert.Equal(t, "pending", StatusPending.String())
	assert.Equal(t, "ready", StatusReady.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "unknown", Status(42).String())
	assert.False(t, StatusPending.Terminal())
	assert.True(t, StatusFailed.Terminal())
}

package quota

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antoniostano/tutord/internal/observability"
)

func TestGateAllowsUntilLimit(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Upsert(ctx, Account{UserID: "u1", MaxSessions: 2}))
	g := NewGate(store, GateOptions{})

	assert.True(t, g.CanStartSession(ctx, "u1"))
	assert.True(t, g.CanStartSession(ctx, "u1"))
	assert.False(t, g.CanStartSession(ctx, "u1"))
	g.Close()

	acct, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, acct.SessionCount)
	assert.Equal(t, 0, g.Pending("u1"))
}

func TestGateUnknownUser(t *testing.T) {
	ctx := context.Background()

	strict := NewGate(NewInMemoryStore(), GateOptions{})
	defer strict.Close()
	assert.False(t, strict.CanStartSession(ctx, "ghost"))

	store := NewInMemoryStore()
	open := NewGate(store, GateOptions{AutoProvision: true, DefaultMaxSessions: 3})
	assert.True(t, open.CanStartSession(ctx, "new-user"))
	open.Close()
	acct, err := store.Get(ctx, "new-user")
	require.NoError(t, err)
	assert.Equal(t, 3, acct.MaxSessions)
	assert.Equal(t, 1, acct.SessionCount)
}

type flakyStore struct {
	*InMemoryStore
	failures int32
	getErr   error
}

func (s *flakyStore) Get(ctx context.Context, userID string) (Account, error) {
	if s.getErr != nil {
		return Account{}, s.getErr
	}
	return s.InMemoryStore.Get(ctx, userID)
}

func (s *flakyStore) Increment(ctx context.Context, userID string, at time.Time) error {
	if atomic.AddInt32(&s.failures, -1) >= 0 {
		return errors.New("connection reset")
	}
	return s.InMemoryStore.Increment(ctx, userID, at)
}

func TestGateRetriesIncrement(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{InMemoryStore: NewInMemoryStore(), failures: 2}
	require.NoError(t, store.Upsert(ctx, Account{UserID: "u1", MaxSessions: 5}))
	metrics := observability.NewMetricsWith("test", prometheus.NewRegistry())
	g := NewGate(store, GateOptions{Metrics: metrics})

	assert.True(t, g.CanStartSession(ctx, "u1"))
	g.Close()

	acct, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, acct.SessionCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QuotaJobs.WithLabelValues("applied")))
}

func TestGateIncrementFailureIsLoggedNotFatal(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{InMemoryStore: NewInMemoryStore(), failures: 10}
	require.NoError(t, store.Upsert(ctx, Account{UserID: "u1", MaxSessions: 5}))
	metrics := observability.NewMetricsWith("test", prometheus.NewRegistry())
	g := NewGate(store, GateOptions{Metrics: metrics})

	assert.True(t, g.CanStartSession(ctx, "u1"))
	g.Close()
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.QuotaJobs.WithLabelValues("failed")))
	assert.Equal(t, 0, g.Pending("u1"))
}

func TestGateLookupFailureDenies(t *testing.T) {
	store := &flakyStore{InMemoryStore: NewInMemoryStore(), getErr: errors.New("db down")}
	g := NewGate(store, GateOptions{AutoProvision: true})
	defer g.Close()
	assert.False(t, g.CanStartSession(context.Background(), "u1"))
}

func TestGateConcurrentStartsDoNotOvershoot(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	require.NoError(t, store.Upsert(ctx, Account{UserID: "u1", MaxSessions: 5}))
	g := NewGate(store, GateOptions{})

	var allowed int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.CanStartSession(ctx, "u1") {
				atomic.AddInt32(&allowed, 1)
			}
		}()
	}
	wg.Wait()
	g.Close()

	assert.Equal(t, int32(5), allowed)
	acct, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 5, acct.SessionCount)
}

func TestGateAfterCloseAppliesInline(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	require.NoError(t, store.Upsert(ctx, Account{UserID: "u1", MaxSessions: 5}))
	g := NewGate(store, GateOptions{})
	g.Close()
	g.Close()

	assert.True(t, g.CanStartSession(ctx, "u1"))
	acct, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, acct.SessionCount)
}

// blockingStore stalls Get for one user until release is closed.
type blockingStore struct {
	*InMemoryStore
	slowUser string
	entered  chan struct{}
	release  chan struct{}
}

func (s *blockingStore) Get(ctx context.Context, userID string) (Account, error) {
	if userID == s.slowUser {
		close(s.entered)
		<-s.release
	}
	return s.InMemoryStore.Get(ctx, userID)
}

func TestGateSlowLookupDoesNotBlockOtherUsers(t *testing.T) {
	ctx := context.Background()
	store := &blockingStore{
		InMemoryStore: NewInMemoryStore(),
		slowUser:      "slow",
		entered:       make(chan struct{}),
		release:       make(chan struct{}),
	}
	require.NoError(t, store.Upsert(ctx, Account{UserID: "slow", MaxSessions: 5}))
	require.NoError(t, store.Upsert(ctx, Account{UserID: "fast", MaxSessions: 5}))
	g := NewGate(store, GateOptions{})

	slowDone := make(chan bool)
	go func() { slowDone <- g.CanStartSession(ctx, "slow") }()
	<-store.entered

	fastDone := make(chan bool)
	go func() { fastDone <- g.CanStartSession(ctx, "fast") }()
	select {
	case ok := <-fastDone:
		assert.True(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("fast user waited on slow user's lookup")
	}

	close(store.release)
	assert.True(t, <-slowDone)
	g.Close()

	for _, id := range []string{"slow", "fast"} {
		acct, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, acct.SessionCount, id)
	}
}

// staleMissStore reports the first lookup as missing even though another
// replica already created the account.
type staleMissStore struct {
	*InMemoryStore
	missed int32
}

func (s *staleMissStore) Get(ctx context.Context, userID string) (Account, error) {
	if atomic.CompareAndSwapInt32(&s.missed, 0, 1) {
		return Account{}, ErrNotFound
	}
	return s.InMemoryStore.Get(ctx, userID)
}

func TestGateProvisionKeepsExistingAccount(t *testing.T) {
	ctx := context.Background()
	store := &staleMissStore{InMemoryStore: NewInMemoryStore()}
	require.NoError(t, store.Upsert(ctx, Account{UserID: "u1", SessionCount: 2, MaxSessions: 3}))
	g := NewGate(store, GateOptions{AutoProvision: true, DefaultMaxSessions: 20})

	assert.True(t, g.CanStartSession(ctx, "u1"))
	assert.False(t, g.CanStartSession(ctx, "u1"))
	g.Close()

	acct, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 3, acct.SessionCount)
	assert.Equal(t, 3, acct.MaxSessions)
}

func quotaBackends(t *testing.T) map[string]Store {
	t.Helper()
	backends := map[string]Store{"memory": NewInMemoryStore()}
	if url := os.Getenv("TEST_DATABASE_URL"); url != "" {
		pg, err := NewPostgresStore(context.Background(), url)
		require.NoError(t, err)
		t.Cleanup(func() { _ = pg.Close() })
		backends["postgres"] = pg
	}
	return backends
}

func TestStoreProvisionKeepsExistingCount(t *testing.T) {
	for name, store := range quotaBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := fmt.Sprintf("provision-%s-%d", name, time.Now().UnixNano())

			created, err := store.Provision(ctx, Account{UserID: user, MaxSessions: 4})
			require.NoError(t, err)
			assert.Equal(t, 4, created.MaxSessions)
			assert.Equal(t, 0, created.SessionCount)
			assert.False(t, created.UpdatedAt.IsZero())

			require.NoError(t, store.Increment(ctx, user, time.Now()))
			again, err := store.Provision(ctx, Account{UserID: user, MaxSessions: 9})
			require.NoError(t, err)
			assert.Equal(t, 1, again.SessionCount)
			assert.Equal(t, 4, again.MaxSessions)
		})
	}
}

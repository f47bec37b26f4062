package oauth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/streamcore/overlay-engine/internal/breaker"
)

type memStore struct {
	mu     sync.Mutex
	tokens map[string]Record
}

func newMemStore() *memStore { return &memStore{tokens: make(map[string]Record)} }

func (m *memStore) GetToken(ctx context.Context, service string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.tokens[service]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *memStore) SaveToken(ctx context.Context, service string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tokens[service] = rec
	return nil
}

func newManager() (*Manager, *memStore) {
	store := newMemStore()
	mgr := New(store, breaker.NewRegistry(breaker.Options{}), zerolog.Nop())
	return mgr, store
}

func TestGetValidFailsWithoutStoredToken(t *testing.T) {
	mgr, _ := newManager()
	mgr.Register(Config{Service: "twitch"})

	_, err := mgr.GetValid(context.Background(), "twitch")
	assert.ErrorIs(t, err, ErrNoTokenAvailable)
}

func TestGetValidReturnsUnexpiredTokenWithoutRefresh(t *testing.T) {
	mgr, store := newManager()
	refreshCalls := int32(0)
	mgr.Register(Config{
		Service:       "twitch",
		RefreshBuffer: 5 * time.Minute,
		Refresher: func(ctx context.Context, rec Record) (Record, error) {
			atomic.AddInt32(&refreshCalls, 1)
			return rec, nil
		},
	})
	store.tokens["twitch"] = Record{Token: oauth2.Token{AccessToken: "a", Expiry: time.Now().Add(time.Hour)}}

	rec, err := mgr.GetValid(context.Background(), "twitch")
	require.NoError(t, err)
	assert.Equal(t, "a", rec.AccessToken)
	assert.Equal(t, int32(0), atomic.LoadInt32(&refreshCalls))
}

func TestGetValidRefreshesNearExpiry(t *testing.T) {
	mgr, store := newManager()
	mgr.Register(Config{
		Service:       "twitch",
		RefreshBuffer: 5 * time.Minute,
		Refresher: func(ctx context.Context, rec Record) (Record, error) {
			return Record{Token: oauth2.Token{AccessToken: "new", RefreshToken: rec.RefreshToken, Expiry: time.Now().Add(time.Hour)}}, nil
		},
	})
	store.tokens["twitch"] = Record{Token: oauth2.Token{
		AccessToken:  "old",
		RefreshToken: "r1",
		Expiry:       time.Now().Add(60 * time.Second), // within refresh buffer
	}}

	rec, err := mgr.GetValid(context.Background(), "twitch")
	require.NoError(t, err)
	assert.Equal(t, "new", rec.AccessToken)
}

func TestConcurrentGetValidCollapsesToSingleRefresh(t *testing.T) {
	mgr, store := newManager()
	var refreshCalls int32
	mgr.Register(Config{
		Service:       "twitch",
		RefreshBuffer: 5 * time.Minute,
		Refresher: func(ctx context.Context, rec Record) (Record, error) {
			atomic.AddInt32(&refreshCalls, 1)
			time.Sleep(20 * time.Millisecond)
			return Record{Token: oauth2.Token{AccessToken: "new-token", RefreshToken: rec.RefreshToken, Expiry: time.Now().Add(time.Hour)}}, nil
		},
	})
	store.tokens["twitch"] = Record{Token: oauth2.Token{
		AccessToken:  "old",
		RefreshToken: "r1",
		Expiry:       time.Now().Add(30 * time.Second),
	}}

	var wg sync.WaitGroup
	results := make([]Record, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := mgr.GetValid(context.Background(), "twitch")
			require.NoError(t, err)
			results[i] = rec
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&refreshCalls))
	for _, r := range results {
		assert.Equal(t, "new-token", r.AccessToken)
	}
}

func TestGetValidServesDegradedTokenOnRefreshFailure(t *testing.T) {
	mgr, store := newManager()
	mgr.Register(Config{
		Service:       "twitch",
		RefreshBuffer: 5 * time.Minute,
		Refresher: func(ctx context.Context, rec Record) (Record, error) {
			return Record{}, errors.New("provider down")
		},
	})
	store.tokens["twitch"] = Record{Token: oauth2.Token{
		AccessToken:  "still-good",
		RefreshToken: "r1",
		Expiry:       time.Now().Add(30 * time.Second), // unexpired but within buffer
	}}

	rec, err := mgr.GetValid(context.Background(), "twitch")
	require.NoError(t, err)
	assert.Equal(t, "still-good", rec.AccessToken)
}

func TestGetValidFailsWhenExpiredAndRefreshFails(t *testing.T) {
	mgr, store := newManager()
	mgr.Register(Config{
		Service:       "twitch",
		RefreshBuffer: 5 * time.Minute,
		Refresher: func(ctx context.Context, rec Record) (Record, error) {
			return Record{}, errors.New("provider down")
		},
	})
	store.tokens["twitch"] = Record{Token: oauth2.Token{
		AccessToken:  "expired",
		RefreshToken: "r1",
		Expiry:       time.Now().Add(-time.Minute),
	}}

	_, err := mgr.GetValid(context.Background(), "twitch")
	assert.Error(t, err)
}

func TestValidateMergesUserIDAndScopes(t *testing.T) {
	mgr, store := newManager()
	mgr.Register(Config{
		Service: "twitch",
		Validator: func(ctx context.Context, rec Record) (ValidationInfo, error) {
			return ValidationInfo{UserID: "u123", Scopes: []string{"chat:read"}}, nil
		},
	})
	store.tokens["twitch"] = Record{Token: oauth2.Token{AccessToken: "a"}}

	info, err := mgr.Validate(context.Background(), "twitch")
	require.NoError(t, err)
	assert.Equal(t, "u123", info.UserID)

	stored, err := store.GetToken(context.Background(), "twitch")
	require.NoError(t, err)
	assert.Equal(t, "u123", stored.UserID)
	assert.Equal(t, []string{"chat:read"}, stored.Scopes)
}

func TestBackoffDoublesAndCapsAndResets(t *testing.T) {
	mgr, _ := newManager()
	mgr.Register(Config{Service: "twitch"})

	first := mgr.NextBackoff("twitch")
	assert.Equal(t, 60*time.Second, first)
	second := mgr.NextBackoff("twitch")
	assert.Equal(t, 120*time.Second, second)

	mgr.ResetBackoff("twitch")
	assert.Equal(t, 60*time.Second, mgr.NextBackoff("twitch"))
}

func TestUnregisteredServiceFails(t *testing.T) {
	mgr, _ := newManager()
	_, err := mgr.GetValid(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrServiceNotRegistered)
}

// Package oauth implements the per-service OAuth token lifecycle (L8):
// persistence, refresh-before-expiry, validation, and single-flighted
// concurrent refresh. The concrete token representation is
// golang.org/x/oauth2's Token, wired per SPEC_FULL.md rather than a
// hand-rolled struct, since its Valid()/expiry semantics already match
// what §3's OAuthToken invariant needs.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/streamcore/overlay-engine/internal/breaker"
	"github.com/streamcore/overlay-engine/internal/retry"
)

// Taxonomy of errors per §7.
var (
	ErrNoTokenAvailable   = errors.New("no_token_available")
	ErrNoRefreshToken     = errors.New("no_refresh_token")
	ErrValidationFailed   = errors.New("validation_failed")
	ErrServiceNotRegistered = errors.New("service_not_registered")
)

// RefreshFailedError wraps a reason, matching refresh_failed{reason}.
type RefreshFailedError struct{ Reason string }

func (e *RefreshFailedError) Error() string { return fmt.Sprintf("refresh_failed: %s", e.Reason) }

// Record is the persisted/in-memory token record (§3 OAuthToken), layered
// on oauth2.Token for the access/refresh/expiry fields.
type Record struct {
	oauth2.Token
	Scopes   []string
	UserID   string
	ClientID string
}

// ExpiresSoon reports whether now+buffer >= expires_at (§4.7 point 2). A
// zero ExpiresAt means the token never expires.
func (r Record) ExpiresSoon(now time.Time, buffer time.Duration) bool {
	if r.Expiry.IsZero() {
		return false
	}
	return !now.Add(buffer).Before(r.Expiry)
}

// Expired reports whether the token is already past its expiry.
func (r Record) Expired(now time.Time) bool {
	if r.Expiry.IsZero() {
		return false
	}
	return now.After(r.Expiry)
}

// ValidationInfo is the merge target of a successful Validate call.
type ValidationInfo struct {
	UserID string
	Scopes []string
}

// Store is the persistence collaborator (§6 OAuth Token Store). A write
// must be durable before Save returns, per the write-ahead requirement in
// §4.7: "persisted before any in-memory state update that would cause the
// old token to be forgotten."
type Store interface {
	GetToken(ctx context.Context, service string) (Record, error)
	SaveToken(ctx context.Context, service string, rec Record) error
}

// ErrNotFound is returned by Store.GetToken when no token is stored yet.
var ErrNotFound = errors.New("not_found")

// RefresherFunc performs the actual provider call to exchange a refresh
// token for a new access token. Wrapped by retry+breaker by the Manager.
type RefresherFunc func(ctx context.Context, rec Record) (Record, error)

// ValidatorFunc calls the provider's token-introspection endpoint.
type ValidatorFunc func(ctx context.Context, rec Record) (ValidationInfo, error)

// Config registers a service with the Manager.
type Config struct {
	Service      string
	RefreshBuffer time.Duration // default 5m per §6 refresh_buffer_ms
	Refresher    RefresherFunc
	Validator    ValidatorFunc
}

type serviceEntry struct {
	cfg Config

	mu      sync.RWMutex
	record  Record
	hasRecord bool

	backoff time.Duration // current auto-refresh retry backoff
}

// Manager owns the token lifecycle for all registered services.
type Manager struct {
	store   Store
	breaker *breaker.Registry
	logger  zerolog.Logger

	sf singleflight.Group

	mu       sync.RWMutex
	services map[string]*serviceEntry
}

// New constructs a Manager backed by store, wrapping provider calls with
// the circuit breaker in br.
func New(store Store, br *breaker.Registry, logger zerolog.Logger) *Manager {
	return &Manager{
		store:    store,
		breaker:  br,
		logger:   logger.With().Str("component", "oauth").Logger(),
		services: make(map[string]*serviceEntry),
	}
}

// Register adds a service configuration. RefreshBuffer defaults to 5
// minutes if unset.
func (m *Manager) Register(cfg Config) {
	if cfg.RefreshBuffer <= 0 {
		cfg.RefreshBuffer = 5 * time.Minute
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[cfg.Service] = &serviceEntry{cfg: cfg, backoff: 60 * time.Second}
}

func (m *Manager) entry(service string) (*serviceEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.services[service]
	if !ok {
		return nil, ErrServiceNotRegistered
	}
	return e, nil
}

// Store persists rec for service, write-ahead: the durable write happens
// before the in-memory record is replaced, so a crash between the two
// leaves the durable copy (the recovery source of truth) intact.
func (m *Manager) Store(ctx context.Context, service string, rec Record) error {
	e, err := m.entry(service)
	if err != nil {
		return err
	}

	if err := m.store.SaveToken(ctx, service, rec); err != nil {
		return fmt.Errorf("persist token: %w", err)
	}

	e.mu.Lock()
	e.record = rec
	e.hasRecord = true
	e.mu.Unlock()
	return nil
}

// load populates the in-memory record from the store if not already
// present, used on first access after process start.
func (m *Manager) load(ctx context.Context, service string, e *serviceEntry) {
	e.mu.RLock()
	has := e.hasRecord
	e.mu.RUnlock()
	if has {
		return
	}

	rec, err := m.store.GetToken(ctx, service)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.record = rec
	e.hasRecord = true
	e.mu.Unlock()
}

// GetValid implements §4.7's contract: fail if no token; refresh if near
// expiry; collapse concurrent refreshes via singleflight; on refresh
// failure, serve a still-unexpired token (degraded) or fail.
func (m *Manager) GetValid(ctx context.Context, service string) (Record, error) {
	e, err := m.entry(service)
	if err != nil {
		return Record{}, err
	}
	m.load(ctx, service, e)

	e.mu.RLock()
	rec, has := e.record, e.hasRecord
	e.mu.RUnlock()

	if !has {
		return Record{}, ErrNoTokenAvailable
	}

	if !rec.ExpiresSoon(time.Now(), e.cfg.RefreshBuffer) {
		return rec, nil
	}

	refreshed, err := m.refreshSingleFlight(ctx, service, e)
	if err != nil {
		if !rec.Expired(time.Now()) {
			m.logger.Warn().Str("service", service).Err(err).Msg("refresh failed, serving degraded token")
			return rec, nil
		}
		return Record{}, err
	}
	return refreshed, nil
}

// refreshSingleFlight ensures exactly one in-flight refresh per service at
// a time; all concurrent callers receive the same outcome (§8 property).
func (m *Manager) refreshSingleFlight(ctx context.Context, service string, e *serviceEntry) (Record, error) {
	v, err, _ := m.sf.Do(service, func() (any, error) {
		return m.doRefresh(ctx, service, e)
	})
	if err != nil {
		return Record{}, err
	}
	return v.(Record), nil
}

func (m *Manager) doRefresh(ctx context.Context, service string, e *serviceEntry) (Record, error) {
	e.mu.RLock()
	rec := e.record
	e.mu.RUnlock()

	if rec.RefreshToken == "" {
		return Record{}, ErrNoRefreshToken
	}
	if e.cfg.Refresher == nil {
		return Record{}, &RefreshFailedError{Reason: "no_refresher_configured"}
	}

	res := retry.Do(ctx, func(ctx context.Context) (Record, error) {
		var out Record
		err := m.breaker.Do(service, func() error {
			var innerErr error
			out, innerErr = e.cfg.Refresher(ctx, rec)
			return innerErr
		})
		return out, err
	}, retry.Options{})

	if res.Err != nil {
		return Record{}, &RefreshFailedError{Reason: res.Err.Error()}
	}

	if err := m.Store(ctx, service, res.Value); err != nil {
		return Record{}, &RefreshFailedError{Reason: err.Error()}
	}

	e.mu.Lock()
	e.backoff = 60 * time.Second
	e.mu.Unlock()

	return res.Value, nil
}

// Refresh forces an immediate refresh attempt, still single-flighted.
func (m *Manager) Refresh(ctx context.Context, service string) (Record, error) {
	e, err := m.entry(service)
	if err != nil {
		return Record{}, err
	}
	m.load(ctx, service, e)
	return m.refreshSingleFlight(ctx, service, e)
}

// Validate calls the configured provider validator and merges UserID and
// Scopes into the stored record on success.
func (m *Manager) Validate(ctx context.Context, service string) (ValidationInfo, error) {
	e, err := m.entry(service)
	if err != nil {
		return ValidationInfo{}, err
	}
	m.load(ctx, service, e)

	e.mu.RLock()
	rec, has := e.record, e.hasRecord
	e.mu.RUnlock()
	if !has {
		return ValidationInfo{}, ErrNoTokenAvailable
	}
	if e.cfg.Validator == nil {
		return ValidationInfo{}, ErrValidationFailed
	}

	info, err := e.cfg.Validator(ctx, rec)
	if err != nil {
		return ValidationInfo{}, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	rec.UserID = info.UserID
	rec.Scopes = info.Scopes
	if err := m.Store(ctx, service, rec); err != nil {
		m.logger.Warn().Str("service", service).Err(err).Msg("failed to persist validated token")
	}
	return info, nil
}

// NextBackoff returns the next auto-refresh retry backoff for service
// (starting at 60s, doubling, capped at 3600s) and advances it. Callers
// apply ±10% jitter themselves, matching §4.7's auto-refresh schedule.
func (m *Manager) NextBackoff(service string) time.Duration {
	e, err := m.entry(service)
	if err != nil {
		return 60 * time.Second
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	current := e.backoff
	next := current * 2
	if next > time.Hour {
		next = time.Hour
	}
	e.backoff = next
	return current
}

// ResetBackoff restores a service's auto-refresh backoff to its base value.
func (m *Manager) ResetBackoff(service string) {
	e, err := m.entry(service)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.backoff = 60 * time.Second
	e.mu.Unlock()
}

package kis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/seojinlab/kisbot/internal/domain"
)

// SessionManager owns the credential lifecycle: it reuses persisted tokens
// across restarts, refreshes them before expiry, honours the gateway's
// issuance cooldown, and falls back to a stale-but-alive token when a
// refresh fails.
type SessionManager struct {
	client *Client
	store  domain.CredentialStore
	log    *slog.Logger

	mu          sync.Mutex
	cred        domain.CredentialRecord
	lastIssueAt time.Time

	group singleflight.Group

	// Injected for tests.
	now   func() time.Time
	sleep func(context.Context, time.Duration) error
}

// NewSessionManager creates a session manager backed by the given client and
// credential store. It attempts to restore a previously persisted credential
// record; a missing or unreadable record is not an error.
func NewSessionManager(ctx context.Context, client *Client, store domain.CredentialStore, log *slog.Logger) *SessionManager {
	sm := &SessionManager{
		client: client,
		store:  store,
		log:    log.With("component", "session"),
		now:    time.Now,
		sleep:  sleepCtx,
	}

	rec, err := store.Load(ctx, client.baseURL, client.cfg.AppKey)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			sm.log.Warn("failed to load persisted credentials", "error", err)
		}
		return sm
	}

	sm.cred = rec
	sm.log.Info("restored persisted credentials",
		"token_expires_at", rec.TokenExpiresAt,
		"usable", rec.TokenUsable(sm.now()))

	return sm
}

// AccessToken returns a valid access token, issuing a new one when the
// cached token is missing or inside the pre-expiry reuse window. Concurrent
// callers share a single issuance.
func (s *SessionManager) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	cred := s.cred
	s.mu.Unlock()

	if cred.TokenUsable(s.now()) {
		return cred.AccessToken, nil
	}

	v, err, _ := s.group.Do("token", func() (any, error) {
		return s.refreshToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// ApprovalKey returns a streaming approval key, issuing a new one when the
// cached key is missing or expired. Approval keys are valid for 24 hours.
func (s *SessionManager) ApprovalKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	cred := s.cred
	s.mu.Unlock()

	if cred.ApprovalKeyUsable(s.now()) {
		return cred.ApprovalKey, nil
	}

	v, err, _ := s.group.Do("approval", func() (any, error) {
		return s.refreshApprovalKey(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// refreshToken issues a new access token and persists the updated record.
// It serialises issuance behind the gateway's one-per-minute cooldown, and
// on failure falls back to the previous token if it is still alive.
func (s *SessionManager) refreshToken(ctx context.Context) (string, error) {
	// Re-check under the flight: another caller may have refreshed while
	// we waited.
	s.mu.Lock()
	if s.cred.TokenUsable(s.now()) {
		token := s.cred.AccessToken
		s.mu.Unlock()
		return token, nil
	}
	lastIssue := s.lastIssueAt
	s.mu.Unlock()

	// Respect the issuance cooldown.
	if wait := domain.ReissueCooldown - s.now().Sub(lastIssue); wait > 0 {
		s.log.Debug("waiting out token issuance cooldown", "wait", wait)
		if err := s.sleep(ctx, wait); err != nil {
			return "", err
		}
	}

	token, expiresAt, err := s.issueTokenOnce(ctx)
	if err != nil {
		// Gateway-side rate limit: wait one full cooldown and retry once.
		if errors.Is(err, domain.ErrRateLimited) {
			s.log.Warn("token issuance rate limited, retrying after cooldown")
			if serr := s.sleep(ctx, domain.ReissueCooldown); serr != nil {
				return "", serr
			}
			token, expiresAt, err = s.issueTokenOnce(ctx)
		}
	}
	if err != nil {
		// Fall back to the previous token if it has not hard-expired.
		s.mu.Lock()
		cred := s.cred
		s.mu.Unlock()
		if cred.TokenAlive(s.now()) {
			s.log.Warn("token refresh failed, reusing stale token",
				"error", err, "expires_at", cred.TokenExpiresAt)
			return cred.AccessToken, nil
		}
		return "", fmt.Errorf("kis: refresh token: %w", err)
	}

	s.mu.Lock()
	s.cred.BaseEndpoint = s.client.baseURL
	s.cred.AppKey = s.client.cfg.AppKey
	s.cred.AccessToken = token
	s.cred.TokenExpiresAt = expiresAt
	s.cred.IssuedAt = s.now()
	cred := s.cred
	s.mu.Unlock()

	s.persist(ctx, cred)
	s.log.Info("issued new access token", "expires_at", expiresAt)

	return token, nil
}

// issueTokenOnce performs a single issuance attempt and records its time
// for cooldown accounting, including failed attempts.
func (s *SessionManager) issueTokenOnce(ctx context.Context) (string, time.Time, error) {
	s.mu.Lock()
	s.lastIssueAt = s.now()
	s.mu.Unlock()

	return s.client.IssueToken(ctx)
}

// refreshApprovalKey issues a new streaming approval key and persists it.
func (s *SessionManager) refreshApprovalKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.cred.ApprovalKeyUsable(s.now()) {
		key := s.cred.ApprovalKey
		s.mu.Unlock()
		return key, nil
	}
	s.mu.Unlock()

	key, err := s.client.IssueApprovalKey(ctx)
	if err != nil {
		return "", fmt.Errorf("kis: refresh approval key: %w", err)
	}

	s.mu.Lock()
	s.cred.BaseEndpoint = s.client.baseURL
	s.cred.AppKey = s.client.cfg.AppKey
	s.cred.ApprovalKey = key
	s.cred.ApprovalKeyExpiresAt = s.now().Add(24 * time.Hour)
	cred := s.cred
	s.mu.Unlock()

	s.persist(ctx, cred)
	s.log.Info("issued new approval key", "expires_at", cred.ApprovalKeyExpiresAt)

	return key, nil
}

// persist saves the credential record. Persistence failures are logged but
// never fail the caller; the in-memory credential remains usable.
func (s *SessionManager) persist(ctx context.Context, cred domain.CredentialRecord) {
	if err := s.store.Save(ctx, cred); err != nil {
		s.log.Warn("failed to persist credentials", "error", err)
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package kis

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/seojinlab/kisbot/internal/domain"
)

// memCredStore is an in-memory CredentialStore for tests.
type memCredStore struct {
	mu    sync.Mutex
	rec   domain.CredentialRecord
	saved int
	has   bool
}

func (m *memCredStore) Load(ctx context.Context, baseEndpoint, appKey string) (domain.CredentialRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.has {
		return domain.CredentialRecord{}, domain.ErrNotFound
	}
	return m.rec, nil
}

func (m *memCredStore) Save(ctx context.Context, rec domain.CredentialRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rec = rec
	m.has = true
	m.saved++
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSession builds a session manager whose client points at the given
// test server.
func newTestSession(t *testing.T, srvURL string, store *memCredStore) (*SessionManager, *Client) {
	t.Helper()
	client := NewClient(ClientConfig{
		Env:       EnvPaper,
		AppKey:    "test-app-key",
		AppSecret: "test-app-secret",
		AccountNo: "1234567801",
		CustType:  "P",
	})
	client.baseURL = srvURL

	sm := NewSessionManager(context.Background(), client, store, testLogger())
	sm.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return sm, client
}

func tokenHandler(calls *atomic.Int64, token string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_in":   86400,
		})
	}
}

func TestAccessTokenIssuesAndPersists(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(tokenHandler(&calls, "tok-1"))
	defer srv.Close()

	store := &memCredStore{}
	sm, _ := newTestSession(t, srv.URL, store)

	got, err := sm.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got != "tok-1" {
		t.Fatalf("token = %q, want tok-1", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("issuance calls = %d, want 1", calls.Load())
	}
	if store.saved != 1 {
		t.Fatalf("store saves = %d, want 1", store.saved)
	}
	if !store.rec.TokenUsable(time.Now()) {
		t.Fatalf("persisted record not usable: %+v", store.rec)
	}
}

func TestAccessTokenReusesCachedToken(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(tokenHandler(&calls, "tok-ignored"))
	defer srv.Close()

	store := &memCredStore{
		has: true,
		rec: domain.CredentialRecord{
			BaseEndpoint:   srv.URL,
			AppKey:         "test-app-key",
			AccessToken:    "tok-persisted",
			TokenExpiresAt: time.Now().Add(12 * time.Hour),
		},
	}
	sm, _ := newTestSession(t, srv.URL, store)

	got, err := sm.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got != "tok-persisted" {
		t.Fatalf("token = %q, want persisted token", got)
	}
	if calls.Load() != 0 {
		t.Fatalf("issuance calls = %d, want 0", calls.Load())
	}
}

func TestAccessTokenRefreshesInsideReuseWindow(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(tokenHandler(&calls, "tok-fresh"))
	defer srv.Close()

	// Token expires in 2 minutes: alive, but inside the pre-expiry reuse
	// window, so it must be refreshed.
	store := &memCredStore{
		has: true,
		rec: domain.CredentialRecord{
			AccessToken:    "tok-old",
			TokenExpiresAt: time.Now().Add(2 * time.Minute),
		},
	}
	sm, _ := newTestSession(t, srv.URL, store)

	got, err := sm.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got != "tok-fresh" {
		t.Fatalf("token = %q, want tok-fresh", got)
	}
	if calls.Load() != 1 {
		t.Fatalf("issuance calls = %d, want 1", calls.Load())
	}
}

func TestAccessTokenSingleIssuanceUnderConcurrency(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond) // widen the race window
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-shared",
			"expires_in":   86400,
		})
	}))
	defer srv.Close()

	sm, _ := newTestSession(t, srv.URL, &memCredStore{})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := sm.AccessToken(context.Background())
			if err != nil {
				t.Errorf("AccessToken: %v", err)
				return
			}
			if got != "tok-shared" {
				t.Errorf("token = %q", got)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("issuance calls = %d, want 1", calls.Load())
	}
}

func TestAccessTokenWaitsOutCooldown(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(tokenHandler(&calls, "tok-after-wait"))
	defer srv.Close()

	sm, _ := newTestSession(t, srv.URL, &memCredStore{})

	var slept time.Duration
	sm.sleep = func(ctx context.Context, d time.Duration) error {
		slept += d
		return nil
	}
	sm.mu.Lock()
	sm.lastIssueAt = time.Now().Add(-20 * time.Second)
	sm.mu.Unlock()

	if _, err := sm.AccessToken(context.Background()); err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	// 20 seconds elapsed of the 60-second cooldown: expect ~40s of wait.
	if slept < 35*time.Second || slept > domain.ReissueCooldown {
		t.Fatalf("slept %v, want roughly 40s", slept)
	}
}

func TestAccessTokenRetriesAfterRateLimit(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			json.NewEncoder(w).Encode(map[string]any{
				"error_code":        "EGW00133",
				"error_description": "token issued too frequently",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "tok-retry",
			"expires_in":   86400,
		})
	}))
	defer srv.Close()

	sm, _ := newTestSession(t, srv.URL, &memCredStore{})

	var slept time.Duration
	sm.sleep = func(ctx context.Context, d time.Duration) error {
		slept += d
		return nil
	}

	got, err := sm.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken: %v", err)
	}
	if got != "tok-retry" {
		t.Fatalf("token = %q, want tok-retry", got)
	}
	if calls.Load() != 2 {
		t.Fatalf("issuance calls = %d, want 2", calls.Load())
	}
	if slept < domain.ReissueCooldown {
		t.Fatalf("slept %v, want at least the full cooldown", slept)
	}
}

func TestAccessTokenFallsBackToStaleToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	// Token inside the reuse window but not yet hard-expired.
	store := &memCredStore{
		has: true,
		rec: domain.CredentialRecord{
			AccessToken:    "tok-stale",
			TokenExpiresAt: time.Now().Add(2 * time.Minute),
		},
	}
	sm, _ := newTestSession(t, srv.URL, store)

	got, err := sm.AccessToken(context.Background())
	if err != nil {
		t.Fatalf("AccessToken should fall back to the stale token: %v", err)
	}
	if got != "tok-stale" {
		t.Fatalf("token = %q, want tok-stale", got)
	}
}

func TestAccessTokenFailsWhenStaleTokenExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	store := &memCredStore{
		has: true,
		rec: domain.CredentialRecord{
			AccessToken:    "tok-dead",
			TokenExpiresAt: time.Now().Add(-time.Minute),
		},
	}
	sm, _ := newTestSession(t, srv.URL, store)

	if _, err := sm.AccessToken(context.Background()); err == nil {
		t.Fatal("expected error when refresh fails and stale token has expired")
	}
}

func TestApprovalKeyIssueAndReuse(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		json.NewEncoder(w).Encode(map[string]string{"approval_key": "appr-1"})
	}))
	defer srv.Close()

	sm, _ := newTestSession(t, srv.URL, &memCredStore{})

	for i := 0; i < 3; i++ {
		got, err := sm.ApprovalKey(context.Background())
		if err != nil {
			t.Fatalf("ApprovalKey: %v", err)
		}
		if got != "appr-1" {
			t.Fatalf("approval key = %q", got)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("issuance calls = %d, want 1", calls.Load())
	}
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/seojinlab/kisbot/internal/domain"
)

// CredentialCache implements domain.CredentialStore on Redis. Records are
// stored as JSON under a key derived from (base endpoint, app key) and
// expire shortly after the token itself would.
type CredentialCache struct {
	rdb *redis.Client
}

// NewCredentialCache creates a CredentialCache backed by the given Client.
func NewCredentialCache(c *Client) *CredentialCache {
	return &CredentialCache{rdb: c.Underlying()}
}

func credKey(baseEndpoint, appKey string) string {
	return fmt.Sprintf("cred:%s:%s", baseEndpoint, appKey)
}

// Load returns the stored credential record, or domain.ErrNotFound.
func (cc *CredentialCache) Load(ctx context.Context, baseEndpoint, appKey string) (domain.CredentialRecord, error) {
	data, err := cc.rdb.Get(ctx, credKey(baseEndpoint, appKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CredentialRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("redis: load credentials: %w", err)
	}

	var rec domain.CredentialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("redis: decode credentials: %w", err)
	}
	return rec, nil
}

// Save overwrites the record for rec's key pair. The entry expires an hour
// after the later of the token and approval-key expiries, so dead records
// clean themselves up.
func (cc *CredentialCache) Save(ctx context.Context, rec domain.CredentialRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: encode credentials: %w", err)
	}

	expiry := rec.TokenExpiresAt
	if rec.ApprovalKeyExpiresAt.After(expiry) {
		expiry = rec.ApprovalKeyExpiresAt
	}
	ttl := time.Until(expiry) + time.Hour
	if ttl < time.Hour {
		ttl = time.Hour
	}

	if err := cc.rdb.Set(ctx, credKey(rec.BaseEndpoint, rec.AppKey), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: save credentials: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.CredentialStore = (*CredentialCache)(nil)

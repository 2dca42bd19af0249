// Package domain defines the core types and store/cache interfaces shared by
// the kisbot packages. It has no dependencies on transport or persistence.
package domain

import "time"

// TokenReuseWindow is how long before absolute expiry a credential stops
// being reused. The issuer counts a token as "fresh" until expiry, but
// reissuing inside the final five minutes avoids racing a mid-request expiry.
const TokenReuseWindow = 5 * time.Minute

// ReissueCooldown is the minimum spacing between two token issuance calls.
// The issuer rejects requests made within one minute of the previous one.
const ReissueCooldown = time.Minute

// CredentialRecord is the durable form of the last-issued credentials for one
// (base endpoint, app key) pair. It is overwritten on every successful
// issuance and read back at process start to avoid an unnecessary reissue.
type CredentialRecord struct {
	BaseEndpoint         string    `json:"base_endpoint"`
	AppKey               string    `json:"app_key"`
	AccessToken          string    `json:"access_token"`
	TokenExpiresAt       time.Time `json:"token_expires_at"`
	ApprovalKey          string    `json:"approval_key"`
	ApprovalKeyExpiresAt time.Time `json:"approval_key_expires_at"`
	IssuedAt             time.Time `json:"issued_at"`
}

// TokenUsable reports whether the access token may still be reused at the
// given instant, honouring the pre-expiry reuse window.
func (r CredentialRecord) TokenUsable(now time.Time) bool {
	return r.AccessToken != "" && now.Before(r.TokenExpiresAt.Add(-TokenReuseWindow))
}

// TokenAlive reports whether the access token has not yet reached absolute
// expiry. An alive-but-not-usable token is the stale fallback returned when
// a refresh attempt fails.
func (r CredentialRecord) TokenAlive(now time.Time) bool {
	return r.AccessToken != "" && now.Before(r.TokenExpiresAt)
}

// ApprovalKeyUsable reports whether the websocket approval key may still be
// reused at the given instant.
func (r CredentialRecord) ApprovalKeyUsable(now time.Time) bool {
	return r.ApprovalKey != "" && now.Before(r.ApprovalKeyExpiresAt.Add(-TokenReuseWindow))
}

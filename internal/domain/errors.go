package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrRateLimited    = errors.New("token issuance rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrMalformedFrame = errors.New("malformed stream frame")
	ErrKeyIVUnset     = errors.New("notice key/iv not yet delivered")
	ErrDecryptFailed  = errors.New("notice decryption failed")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrLockHeld       = errors.New("lock already held")
)

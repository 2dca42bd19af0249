package domain

import (
	"context"
	"time"
)

// CredentialStore persists the last-issued credential record, keyed by
// (base endpoint, app key) so differing accounts and environments never
// share a cached token.
type CredentialStore interface {
	// Load returns the stored record for the key pair, or ErrNotFound.
	Load(ctx context.Context, baseEndpoint, appKey string) (CredentialRecord, error)
	// Save overwrites the record for rec's key pair atomically.
	Save(ctx context.Context, rec CredentialRecord) error
}

// CommandStore persists the audit trail of issued order commands.
type CommandStore interface {
	Record(ctx context.Context, cmd OrderCommand) error
	// ListBefore returns commands issued strictly before the cutoff,
	// oldest first. Used by the archiver.
	ListBefore(ctx context.Context, before time.Time) ([]OrderCommand, error)
}

// FillStore persists decoded execution notices.
type FillStore interface {
	Record(ctx context.Context, n ExecutionNotice) error
	ListBefore(ctx context.Context, before time.Time) ([]ExecutionNotice, error)
}

// BlobWriter uploads an object to blob storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

// Archiver exports aged audit records to blob storage.
type Archiver interface {
	Archive(ctx context.Context, before time.Time) error
}

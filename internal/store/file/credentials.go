// Package file implements the credential store on the local filesystem, for
// single-host setups that run without Redis.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/seojinlab/kisbot/internal/domain"
)

// CredentialStore persists the credential record as a single JSON file. The
// stored endpoint and app key are checked on load so a record issued for a
// different environment or account is never reused.
type CredentialStore struct {
	path string
}

// NewCredentialStore creates a store writing to the given path.
func NewCredentialStore(path string) *CredentialStore {
	return &CredentialStore{path: path}
}

// Load reads the record, returning domain.ErrNotFound when the file does
// not exist or belongs to a different (endpoint, app key) pair.
func (s *CredentialStore) Load(ctx context.Context, baseEndpoint, appKey string) (domain.CredentialRecord, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return domain.CredentialRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("file: read credentials: %w", err)
	}

	var rec domain.CredentialRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("file: decode credentials: %w", err)
	}

	if rec.BaseEndpoint != baseEndpoint || rec.AppKey != appKey {
		return domain.CredentialRecord{}, domain.ErrNotFound
	}

	return rec, nil
}

// Save writes the record atomically: to a temp file first, then renamed
// over the target.
func (s *CredentialStore) Save(ctx context.Context, rec domain.CredentialRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("file: encode credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("file: create credentials dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".credentials-*.tmp")
	if err != nil {
		return fmt.Errorf("file: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("file: write credentials: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: chmod credentials: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("file: replace credentials: %w", err)
	}

	return nil
}

// Compile-time interface check.
var _ domain.CredentialStore = (*CredentialStore)(nil)

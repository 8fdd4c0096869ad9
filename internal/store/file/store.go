// Package file implements the durable scoped document store on the local
// filesystem. Each (scope, key) maps to one JSON document wrapped in a
// schema-versioned envelope. Writes are crash-atomic: the document is fully
// materialized in a temp file, fsynced, and made visible with a single
// rename, so a reader never observes a partial write.
package file

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/deskforge/tradeterm/internal/domain"
)

// SchemaVersion is stamped on every written document and validated on read.
// An unknown version fails closed with domain.ErrSchemaMismatch.
const SchemaVersion = "2.0"

// envelope is the on-disk shape of every scoped document.
type envelope struct {
	SchemaVersion string          `json:"schema_version"`
	UpdatedAt     time.Time       `json:"updated_at_utc"`
	Payload       json.RawMessage `json:"payload"`
}

// Store persists scoped documents under a root directory. It does not
// arbitrate concurrent writers to the same (scope, key); the owning
// component serializes those.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating it if needed.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("file: create store root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Write marshals payload into a versioned envelope and atomically replaces
// the document at (scope, key). The update timestamp is always UTC.
func (s *Store) Write(scope domain.Context, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("file: marshal payload %s: %w", key, err)
	}
	env := envelope{
		SchemaVersion: SchemaVersion,
		UpdatedAt:     time.Now().UTC(),
		Payload:       raw,
	}
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("file: marshal envelope %s: %w", key, err)
	}

	dir := s.scopeDir(scope)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("file: create scope dir: %w", err)
	}
	if err := writeFileAtomic(filepath.Join(dir, sanitize(key)+".json"), data, 0o600); err != nil {
		return fmt.Errorf("file: write %s %s: %w", scope, key, err)
	}
	return nil
}

// Read loads the document at (scope, key) into payload. A missing document
// returns domain.ErrNotFound; a document with an unexpected schema version
// returns domain.ErrSchemaMismatch rather than a best-effort parse.
func (s *Store) Read(scope domain.Context, key string, payload any) error {
	path := filepath.Join(s.scopeDir(scope), sanitize(key)+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("file: read %s %s: %w", scope, key, err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("file: decode envelope %s: %w", key, err)
	}
	if env.SchemaVersion != SchemaVersion {
		return fmt.Errorf("file: document %s has version %q, want %q: %w",
			key, env.SchemaVersion, SchemaVersion, domain.ErrSchemaMismatch)
	}
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return fmt.Errorf("file: decode payload %s: %w", key, err)
	}
	return nil
}

// ListKeys returns the keys of all documents in scope whose name starts with
// prefix, in lexical order.
func (s *Store) ListKeys(scope domain.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(s.scopeDir(scope))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("file: list scope %s: %w", scope, err)
	}
	var keys []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		key := strings.TrimSuffix(name, ".json")
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// scopeDir maps a Context to its directory. The zero Context addresses
// session-global documents at the store root.
func (s *Store) scopeDir(scope domain.Context) string {
	if scope.Zero() {
		return s.root
	}
	return filepath.Join(s.root, sanitize(string(scope.Mode)), sanitize(scope.Account))
}

// sanitize keeps scope and key names filesystem-safe.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		default:
			return r
		}
	}, name)
}

// Compile-time interface check.
var _ domain.ScopedStore = (*Store)(nil)

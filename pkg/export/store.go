package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/anahataonfire/AI-Agent-EcoSystem-sub000/pkg/canonicalize"
)

// ArchiveStore is content-addressed storage for encoded archives. Keys
// are "sha256:"-prefixed digests; stores are idempotent on the hash.
type ArchiveStore interface {
	// Store persists an encoded archive and returns its content hash.
	Store(ctx context.Context, data []byte) (string, error)
	// Get retrieves an archive by its content hash.
	Get(ctx context.Context, hash string) ([]byte, error)
	// Exists checks whether an archive is already stored.
	Exists(ctx context.Context, hash string) (bool, error)
}

func stripHashPrefix(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, "sha256:")
	if !ok || raw == "" {
		return "", fmt.Errorf("invalid archive hash format: %s", hash)
	}
	return raw, nil
}

// FileStore keeps archives on the local filesystem, one file per hash.
type FileStore struct {
	baseDir string
	mu      sync.RWMutex
}

// NewFileStore creates an archive store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure archive dir: %w", err)
	}
	return &FileStore{baseDir: baseDir}, nil
}

func (s *FileStore) path(rawHash string) string {
	return filepath.Join(s.baseDir, rawHash+".json")
}

// Store implements ArchiveStore. Writes are atomic via temp-then-rename
// and idempotent when the archive already exists.
func (s *FileStore) Store(ctx context.Context, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rawHash := canonicalize.HashBytes(data)
	prefixed := "sha256:" + rawHash
	path := s.path(rawHash)

	if _, err := os.Stat(path); err == nil {
		return prefixed, nil
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("commit archive: %w", err)
	}
	return prefixed, nil
}

// Get implements ArchiveStore.
func (s *FileStore) Get(ctx context.Context, hash string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rawHash, err := stripHashPrefix(hash)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(rawHash))
	if err != nil {
		return nil, fmt.Errorf("read archive %s: %w", hash, err)
	}
	return data, nil
}

// Exists implements ArchiveStore.
func (s *FileStore) Exists(ctx context.Context, hash string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rawHash, err := stripHashPrefix(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(s.path(rawHash))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("stat archive %s: %w", hash, err)
}

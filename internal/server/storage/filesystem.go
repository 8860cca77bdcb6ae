package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNameCollision means the destination already exists. Storage
	// names are unique by construction, so a collision is a generator
	// defect and must fail hard, never overwrite.
	ErrNameCollision = errors.New("storage name already exists")
	// ErrOutOfBounds means a storage name resolved outside the root.
	ErrOutOfBounds = errors.New("storage name escapes storage root")
	// ErrFileNotFound means no file exists for the storage name.
	ErrFileNotFound = errors.New("file not found")
)

// Store defines the interface for document storage backends.
type Store interface {
	Save(storageName string, data io.Reader) (int64, error)
	Resolve(storageName string) (string, error)
	Delete(storageName string) error
	List() ([]string, error)
	EnsureDir() error
}

// FileSystemStore keeps documents as flat files under a single fixed
// root directory.
type FileSystemStore struct {
	basePath string
}

// NewFileSystemStore creates a new filesystem storage backend.
func NewFileSystemStore(basePath string) *FileSystemStore {
	return &FileSystemStore{basePath: basePath}
}

// NewStorageName synthesizes an on-disk name for a document owned by
// the given selector. The name is a function of a random UUID and the
// owner's selector, never of any client-supplied filename, so it
// contains no separators or traversal sequences by construction. The
// extension comes from the server-side allow-list.
func NewStorageName(ownerSelector, ext string) string {
	owner := ownerSelector
	if len(owner) > 12 {
		owner = owner[:12]
	}
	return fmt.Sprintf("%s_%s%s", uuid.NewString(), owner, ext)
}

// EnsureDir creates the storage directory if it doesn't exist.
func (fs *FileSystemStore) EnsureDir() error {
	if err := os.MkdirAll(fs.basePath, 0o755); err != nil {
		return fmt.Errorf("failed to create storage directory %s: %w", fs.basePath, err)
	}
	return nil
}

// Save writes data to the named file. The create is exclusive: if the
// destination exists the write fails with ErrNameCollision. Partial
// files are removed on write error.
func (fs *FileSystemStore) Save(storageName string, data io.Reader) (int64, error) {
	filePath, err := fs.Resolve(storageName)
	if err != nil && !errors.Is(err, ErrFileNotFound) {
		return 0, err
	}

	file, err := os.OpenFile(filePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return 0, ErrNameCollision
		}
		return 0, fmt.Errorf("failed to create file %s: %w", filePath, err)
	}
	defer file.Close()

	n, err := io.Copy(file, data)
	if err != nil {
		os.Remove(filePath)
		return 0, fmt.Errorf("failed to write file: %w", err)
	}

	return n, nil
}

// Resolve maps a storage name to an absolute path under the root.
// Even though names are server-generated, the record could have been
// tampered with at rest, so any name carrying separators, traversal
// sequences, or absolute syntax is rejected before the join, and the
// joined path is verified to still be lexically inside the root.
func (fs *FileSystemStore) Resolve(storageName string) (string, error) {
	if storageName == "" ||
		strings.ContainsAny(storageName, "/\\") ||
		strings.Contains(storageName, "..") ||
		filepath.IsAbs(storageName) {
		return "", ErrOutOfBounds
	}

	rootAbs, err := filepath.Abs(fs.basePath)
	if err != nil {
		return "", fmt.Errorf("failed to resolve storage root: %w", err)
	}
	joined := filepath.Clean(filepath.Join(rootAbs, storageName))
	if !isWithin(rootAbs, joined) {
		return "", ErrOutOfBounds
	}

	if _, err := os.Stat(joined); err != nil {
		if os.IsNotExist(err) {
			return joined, ErrFileNotFound
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	return joined, nil
}

// Delete removes the stored file. Missing files are not an error.
func (fs *FileSystemStore) Delete(storageName string) error {
	filePath, err := fs.Resolve(storageName)
	if err != nil && !errors.Is(err, ErrFileNotFound) {
		return err
	}
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file %s: %w", filePath, err)
	}
	return nil
}

// List returns the storage names currently present on disk.
func (fs *FileSystemStore) List() ([]string, error) {
	entries, err := os.ReadDir(fs.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// isWithin reports whether candidate is root itself or lexically
// inside it.
func isWithin(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if root == candidate {
		return true
	}
	sep := string(filepath.Separator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(candidate, root)
}

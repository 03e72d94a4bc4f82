package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// BlobStore keeps photo attachments on local disk, content-addressed by
// SHA-256. Attachments are a best-effort secondary channel: they are never
// required for an event to sync, and they stay available for diagnostics
// export after the event itself has been delivered and deleted.
type BlobStore struct {
	dir string
}

// NewBlobStore creates the attachment directory if needed.
func NewBlobStore(dir string) (*BlobStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create dir %s: %w", dir, err)
	}
	return &BlobStore{dir: dir}, nil
}

// Put stores data and returns its content address. The write goes through
// a temp file plus rename so a crash never leaves a partial blob behind a
// valid ref.
func (b *BlobStore) Put(data []byte) (string, error) {
	sum := sha256.Sum256(data)
	ref := hex.EncodeToString(sum[:])
	path := filepath.Join(b.dir, ref)

	// Content-addressed, so an existing file is already the right bytes.
	if _, err := os.Stat(path); err == nil {
		return ref, nil
	}

	tmp, err := os.CreateTemp(b.dir, "blob-*")
	if err != nil {
		return "", fmt.Errorf("blobstore: create temp: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("blobstore: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("blobstore: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("blobstore: close: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("blobstore: rename: %w", err)
	}
	return ref, nil
}

// Get reads a previously stored attachment back.
func (b *BlobStore) Get(ref string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(b.dir, ref))
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", ref, err)
	}
	return data, nil
}

// Package artifact implements the Artifact Store (spec.md §4.1): a
// content-addressed, write-once blob store for Worker/Reviewer
// deliverables too large or too binary to carry inline in a ProgressEvent
// or Envelope payload.
//
// No example repo in the retrieval pack wires an object-storage SDK (no
// S3/GCS/Azure client appears in any _examples/*/go.mod), so this is
// grounded on the filesystem rather than a third-party blob store client —
// see DESIGN.md for the stdlib justification. The durable-before-ack write
// discipline (write to a temp file, fsync, atomic rename) follows the same
// commit-before-acknowledge principle the teacher applies transactionally
// in pkg/events/publisher.go.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/triadwork/triad/pkg/errs"
	"github.com/triadwork/triad/pkg/models"
)

// Store is the Artifact Store contract.
type Store interface {
	// Put writes content-addressed bytes under sessionID and returns the
	// resulting ArtifactRef. Writing the same bytes twice for the same
	// session is idempotent — it returns the same digest and does not
	// re-write the file.
	Put(ctx context.Context, sessionID, label, contentType string, data []byte) (models.ArtifactRef, error)

	// Get reads back a previously stored artifact's bytes by digest.
	Get(ctx context.Context, sessionID, digest string) ([]byte, error)

	// DeleteSession removes every artifact stored for a session. Called
	// only on session delete (spec.md §4.1's "deletion only on session
	// delete" invariant).
	DeleteSession(ctx context.Context, sessionID string) error
}

// FilesystemStore is the Store implementation backed by a local directory
// tree, one subdirectory per session, files named by their SHA-256 digest.
type FilesystemStore struct {
	rootDir string
}

// NewFilesystemStore returns a Store rooted at rootDir, creating it if
// necessary.
func NewFilesystemStore(rootDir string) (*FilesystemStore, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root %s: %w", rootDir, err)
	}
	return &FilesystemStore{rootDir: rootDir}, nil
}

func (s *FilesystemStore) sessionDir(sessionID string) string {
	return filepath.Join(s.rootDir, sessionID)
}

// Put writes data under a content-addressed filename and returns its ref.
func (s *FilesystemStore) Put(ctx context.Context, sessionID, label, contentType string, data []byte) (models.ArtifactRef, error) {
	if sessionID == "" {
		return models.ArtifactRef{}, errs.NewValidationError("session_id", "required")
	}
	if label == "" {
		return models.ArtifactRef{}, errs.NewValidationError("label", "required")
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return models.ArtifactRef{}, fmt.Errorf("create session artifact dir: %w", err)
	}
	finalPath := filepath.Join(dir, digest)

	ref := models.ArtifactRef{
		Label:       label,
		URI:         "file://" + finalPath,
		Digest:      digest,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
	}

	if _, err := os.Stat(finalPath); err == nil {
		// Content-addressed and already present: write-once, idempotent.
		return ref, nil
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return models.ArtifactRef{}, fmt.Errorf("create temp artifact file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return models.ArtifactRef{}, fmt.Errorf("write temp artifact file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return models.ArtifactRef{}, fmt.Errorf("sync temp artifact file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return models.ArtifactRef{}, fmt.Errorf("close temp artifact file: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return models.ArtifactRef{}, fmt.Errorf("rename artifact into place: %w", err)
	}

	return ref, nil
}

// Get reads back an artifact's bytes by digest.
func (s *FilesystemStore) Get(ctx context.Context, sessionID, digest string) ([]byte, error) {
	path := filepath.Join(s.sessionDir(sessionID), digest)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("open artifact %s: %w", digest, err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", digest, err)
	}
	return data, nil
}

// DeleteSession removes all artifacts for a session.
func (s *FilesystemStore) DeleteSession(ctx context.Context, sessionID string) error {
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("delete artifacts for session %s: %w", sessionID, err)
	}
	return nil
}

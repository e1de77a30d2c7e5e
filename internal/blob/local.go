package blob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore implements Adapter on the local filesystem. Blobs live under
// root/<container>/<name>; staged blocks live under a separate staging root
// until committed.
type LocalStore struct {
	root    string
	staging string
}

// NewLocalStore builds a filesystem-backed adapter.
func NewLocalStore(root, staging string) (*LocalStore, error) {
	if root == "" {
		return nil, errors.New("blob root must be set")
	}
	if staging == "" {
		staging = filepath.Join(root, ".staging")
	}
	for _, dir := range []string{root, staging} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("ensure blob directory %s: %w", dir, err)
		}
	}
	return &LocalStore{root: root, staging: staging}, nil
}

func (l *LocalStore) blobPath(container, name string) string {
	return filepath.Join(l.root, container, filepath.FromSlash(name))
}

func (l *LocalStore) blockPath(container, name, blockID string) string {
	flat := strings.ReplaceAll(filepath.ToSlash(name), "/", "__")
	return filepath.Join(l.staging, container, flat+"."+blockID+".block")
}

func contentTypePath(blobPath string) string {
	return blobPath + ".contenttype"
}

// StageBlock stores one uncommitted block.
func (l *LocalStore) StageBlock(ctx context.Context, container, name, blockID string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := l.blockPath(container, name, blockID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure staging directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("stage block %s: %w", blockID, err)
	}
	return nil
}

// CommitBlocks concatenates staged blocks in order into the final blob and
// removes them.
func (l *LocalStore) CommitBlocks(ctx context.Context, container, name string, blockIDs []string, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := l.blobPath(container, name)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("ensure blob directory: %w", err)
	}

	tmp := target + ".commit"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create blob: %w", err)
	}
	defer os.Remove(tmp)

	for _, blockID := range blockIDs {
		data, err := os.ReadFile(l.blockPath(container, name, blockID))
		if err != nil {
			out.Close()
			if errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("commit block %s: %w", blockID, ErrNotFound)
			}
			return fmt.Errorf("read staged block %s: %w", blockID, err)
		}
		if _, err := out.Write(data); err != nil {
			out.Close()
			return fmt.Errorf("write blob: %w", err)
		}
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("finalize blob: %w", err)
	}
	if contentType != "" {
		if err := os.WriteFile(contentTypePath(target), []byte(contentType), 0o644); err != nil {
			return fmt.Errorf("record content type: %w", err)
		}
	}

	for _, blockID := range blockIDs {
		_ = os.Remove(l.blockPath(container, name, blockID))
	}
	return nil
}

// Put writes a complete blob in one call.
func (l *LocalStore) Put(ctx context.Context, container, name string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := l.blobPath(container, name)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("ensure blob directory: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("write blob %s: %w", name, err)
	}
	if contentType != "" {
		if err := os.WriteFile(contentTypePath(target), []byte(contentType), 0o644); err != nil {
			return fmt.Errorf("record content type: %w", err)
		}
	}
	return nil
}

// Get reads a complete blob.
func (l *LocalStore) Get(ctx context.Context, container, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(l.blobPath(container, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("blob %s/%s: %w", container, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return data, nil
}

// Move renames a blob within a container.
func (l *LocalStore) Move(ctx context.Context, container, oldName, newName string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	oldPath := l.blobPath(container, oldName)
	newPath := l.blobPath(container, newName)
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return fmt.Errorf("ensure blob directory: %w", err)
	}
	if err := os.Rename(oldPath, newPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("blob %s/%s: %w", container, oldName, ErrNotFound)
		}
		return fmt.Errorf("move blob: %w", err)
	}
	if _, err := os.Stat(contentTypePath(oldPath)); err == nil {
		_ = os.Rename(contentTypePath(oldPath), contentTypePath(newPath))
	}
	return nil
}

// Delete removes a blob; deleting a missing blob succeeds.
func (l *LocalStore) Delete(ctx context.Context, container, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := l.blobPath(container, name)
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	_ = os.Remove(contentTypePath(path))
	return nil
}

// Exists reports whether a blob is present.
func (l *LocalStore) Exists(ctx context.Context, container, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(l.blobPath(container, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat blob: %w", err)
	}
	return true, nil
}

// GetMetadata returns size, content type, and modification time for a blob.
func (l *LocalStore) GetMetadata(ctx context.Context, container, name string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	path := l.blobPath(container, name)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Metadata{}, fmt.Errorf("blob %s/%s: %w", container, name, ErrNotFound)
	}
	if err != nil {
		return Metadata{}, fmt.Errorf("stat blob: %w", err)
	}
	meta := Metadata{Size: info.Size(), LastModified: info.ModTime().UTC()}
	if ct, err := os.ReadFile(contentTypePath(path)); err == nil {
		meta.ContentType = strings.TrimSpace(string(ct))
	}
	return meta, nil
}

// GenerateUploadURL returns a file URL; the local adapter has no signing.
func (l *LocalStore) GenerateUploadURL(ctx context.Context, container, name string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "file://" + l.blobPath(container, name), nil
}

// GenerateReadURL returns a file URL; the local adapter has no signing.
func (l *LocalStore) GenerateReadURL(ctx context.Context, container, name string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if _, err := os.Stat(l.blobPath(container, name)); errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("blob %s/%s: %w", container, name, ErrNotFound)
	}
	return "file://" + l.blobPath(container, name), nil
}

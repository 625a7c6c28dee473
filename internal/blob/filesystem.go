package blob

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Filesystem stores blobs under a root directory: payload bytes beneath
// objects/ and an Info sidecar beneath meta/. Keys are slash-separated and
// must stay inside the root.
type Filesystem struct {
	root string
}

// NewFilesystem constructs a filesystem-backed store rooted at root
// (default ./blobdata).
func NewFilesystem(root string) (*Filesystem, error) {
	if root == "" {
		root = "blobdata"
	}
	for _, dir := range []string{filepath.Join(root, "objects"), filepath.Join(root, "meta")} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create blob root: %w", err)
		}
	}
	return &Filesystem{root: root}, nil
}

var _ Store = (*Filesystem)(nil)

// Driver returns the filesystem driver identifier.
func (f *Filesystem) Driver() Driver { return DriverFilesystem }

// Root returns the configured root directory.
func (f *Filesystem) Root() string { return f.root }

func (f *Filesystem) paths(key string) (objectPath, metaPath string, err error) {
	if key == "" {
		return "", "", fmt.Errorf("blob key required")
	}
	clean := filepath.Clean(filepath.FromSlash(key))
	if clean == "." || strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
		return "", "", fmt.Errorf("invalid blob key %q", key)
	}
	return filepath.Join(f.root, "objects", clean), filepath.Join(f.root, "meta", clean+".json"), nil
}

// Put stores a new blob; it fails when the key exists.
func (f *Filesystem) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	objectPath, metaPath, err := f.paths(key)
	if err != nil {
		return Info{}, err
	}
	if _, err := os.Stat(objectPath); err == nil {
		return Info{}, fmt.Errorf("blob %s already exists", key)
	}
	if err := os.MkdirAll(filepath.Dir(objectPath), 0o750); err != nil {
		return Info{}, err
	}
	if err := os.MkdirAll(filepath.Dir(metaPath), 0o750); err != nil {
		return Info{}, err
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}
	sum := sha256.Sum256(payload)
	info := Info{
		Key:          key,
		Size:         int64(len(payload)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:8]),
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
	}
	if err := os.WriteFile(objectPath, payload, 0o640); err != nil {
		return Info{}, err
	}
	meta, err := json.Marshal(info)
	if err != nil {
		_ = os.Remove(objectPath)
		return Info{}, err
	}
	if err := os.WriteFile(metaPath, meta, 0o640); err != nil {
		_ = os.Remove(objectPath)
		return Info{}, err
	}
	return info, nil
}

// Get retrieves blob contents and metadata.
func (f *Filesystem) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	info, err := f.Head(ctx, key)
	if err != nil {
		return Info{}, nil, err
	}
	objectPath, _, err := f.paths(key)
	if err != nil {
		return Info{}, nil, err
	}
	file, err := os.Open(objectPath)
	if err != nil {
		return Info{}, nil, err
	}
	return info, file, nil
}

// Head returns metadata only.
func (f *Filesystem) Head(ctx context.Context, key string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	_, metaPath, err := f.paths(key)
	if err != nil {
		return Info{}, err
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return Info{}, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("decode blob metadata: %w", err)
	}
	return info, nil
}

// Delete removes a blob; (false, nil) when absent.
func (f *Filesystem) Delete(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	objectPath, metaPath, err := f.paths(key)
	if err != nil {
		return false, err
	}
	if err := os.Remove(objectPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	_ = os.Remove(metaPath)
	return true, nil
}

// List returns blobs matching the prefix, key ascending.
func (f *Filesystem) List(ctx context.Context, prefix string) ([]Info, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metaRoot := filepath.Join(f.root, "meta")
	var out []Info
	err := filepath.WalkDir(metaRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".json") {
			return nil
		}
		rel, err := filepath.Rel(metaRoot, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(strings.TrimSuffix(rel, ".json"))
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var info Info
		if err := json.Unmarshal(data, &info); err != nil {
			return fmt.Errorf("decode blob metadata %s: %w", key, err)
		}
		out = append(out, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PresignURL is not supported by the filesystem backend.
func (f *Filesystem) PresignURL(context.Context, string, SignedURLOptions) (string, error) {
	return "", ErrUnsupported
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/andresmejia3/rollcall/internal/types"
)

const (
	uploadsDir  = "uploads"
	faceInfoDir = "face_info"
	infoFile    = "info.json"
)

// Files stores identities in a directory tree:
//
//	<root>/uploads/<key>/image_<slot>.jpg
//	<root>/face_info/<key>/features_<slot>.json
//	<root>/face_info/<key>/info.json
type Files struct {
	root string
}

// NewFiles creates the directory layout under root if it does not exist.
func NewFiles(root string) (*Files, error) {
	for _, dir := range []string{uploadsDir, faceInfoDir} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("creating storage directory: %w", err)
		}
	}
	return &Files{root: root}, nil
}

// Root returns the storage root directory.
func (f *Files) Root() string {
	return f.root
}

func checkKey(key string) error {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, `/\`) {
		return fmt.Errorf("invalid identity key %q", key)
	}
	return nil
}

func (f *Files) imagePath(key string, slot int) string {
	return filepath.Join(f.root, uploadsDir, key, fmt.Sprintf("image_%d.jpg", slot))
}

func (f *Files) featuresPath(key string, slot int) string {
	return filepath.Join(f.root, faceInfoDir, key, fmt.Sprintf("features_%d.json", slot))
}

func (f *Files) infoPath(key string) string {
	return filepath.Join(f.root, faceInfoDir, key, infoFile)
}

// writeAtomic writes data to a temp file next to path and renames it into place.
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func listDirs(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// ListIdentityKeys returns every key with uploaded images or stored face info, sorted.
func (f *Files) ListIdentityKeys(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	for _, dir := range []string{faceInfoDir, uploadsDir} {
		names, err := listDirs(filepath.Join(f.root, dir))
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", dir, err)
		}
		for _, n := range names {
			seen[n] = struct{}{}
		}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// ListMetadata returns the metadata of every fully enrolled identity.
func (f *Files) ListMetadata(ctx context.Context) ([]types.IdentityMeta, error) {
	keys, err := f.ListIdentityKeys(ctx)
	if err != nil {
		return nil, err
	}
	var out []types.IdentityMeta
	for _, k := range keys {
		meta, err := f.LoadMetadata(ctx, k)
		if err != nil {
			continue
		}
		out = append(out, meta)
	}
	return out, nil
}

func (f *Files) LoadMetadata(ctx context.Context, key string) (types.IdentityMeta, error) {
	if err := checkKey(key); err != nil {
		return types.IdentityMeta{}, err
	}
	data, err := readFile(f.infoPath(key))
	if err != nil {
		return types.IdentityMeta{}, err
	}
	var meta types.IdentityMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return types.IdentityMeta{}, fmt.Errorf("%w: info.json for %s: %v", ErrCorrupt, key, err)
	}
	// The folder name is authoritative
	meta.Key = key
	return meta, nil
}

func (f *Files) SaveMetadata(ctx context.Context, meta types.IdentityMeta) error {
	if err := checkKey(meta.Key); err != nil {
		return err
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(f.infoPath(meta.Key), data)
}

func (f *Files) UpdateName(ctx context.Context, key, name string) error {
	meta, err := f.LoadMetadata(ctx, key)
	if err != nil {
		return err
	}
	meta.Name = name
	return f.SaveMetadata(ctx, meta)
}

func (f *Files) LoadEmbedding(ctx context.Context, key string, slot int) ([]float32, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	data, err := readFile(f.featuresPath(key, slot))
	if err != nil {
		return nil, err
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, fmt.Errorf("%w: features_%d for %s: %v", ErrCorrupt, slot, key, err)
	}
	if vec == nil {
		return nil, fmt.Errorf("%w: features_%d for %s is null", ErrCorrupt, slot, key)
	}
	return vec, nil
}

func (f *Files) SaveEmbedding(ctx context.Context, key string, slot int, vec []float32) error {
	if err := checkKey(key); err != nil {
		return err
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	return writeAtomic(f.featuresPath(key, slot), data)
}

func (f *Files) LoadImage(ctx context.Context, key string, slot int) ([]byte, error) {
	if err := checkKey(key); err != nil {
		return nil, err
	}
	return readFile(f.imagePath(key, slot))
}

func (f *Files) SaveImage(ctx context.Context, key string, slot int, data []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	return writeAtomic(f.imagePath(key, slot), data)
}

// Reset deletes every stored identity.
func (f *Files) Reset(ctx context.Context) error {
	for _, dir := range []string{uploadsDir, faceInfoDir} {
		p := filepath.Join(f.root, dir)
		if err := os.RemoveAll(p); err != nil {
			return err
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func (f *Files) Close(ctx context.Context) {}

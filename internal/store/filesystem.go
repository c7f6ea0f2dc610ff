package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/impara/comicgen/internal/domain"
)

// FileStore keeps one JSON document per strip under <dir>/strips and one per
// pending handle under <dir>/handles. It is the default backend for
// single-instance deployments that do not run PostgreSQL.
type FileStore struct {
	dir string
}

// NewFileStore initializes the state directory layout rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("store: state dir is required")
	}
	for _, sub := range []string{"strips", "handles"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("store: ensure %s dir: %w", sub, err)
		}
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) GetStrip(ctx context.Context, id string) (*domain.Strip, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.stripPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("strip %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("store: read strip %s: %w", id, err)
	}
	var s domain.Strip
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("store: decode strip %s: %w", id, err)
	}
	return &s, nil
}

func (f *FileStore) PutStrip(ctx context.Context, s *domain.Strip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode strip %s: %w", s.ID, err)
	}
	return writeAtomic(f.stripPath(s.ID), data)
}

func (f *FileStore) ListActive(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.dir, "strips"))
	if err != nil {
		return nil, fmt.Errorf("store: list strips: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		s, err := f.GetStrip(ctx, id)
		if err != nil {
			continue
		}
		if !s.Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *FileStore) PutHandle(ctx context.Context, handle string, ref domain.HandleRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ref)
	if err != nil {
		return fmt.Errorf("store: encode handle ref: %w", err)
	}
	return writeAtomic(f.handlePath(handle), data)
}

func (f *FileStore) GetHandle(ctx context.Context, handle string) (domain.HandleRef, error) {
	if err := ctx.Err(); err != nil {
		return domain.HandleRef{}, err
	}
	data, err := os.ReadFile(f.handlePath(handle))
	if err != nil {
		if os.IsNotExist(err) {
			return domain.HandleRef{}, fmt.Errorf("handle %s: %w", handle, domain.ErrNotFound)
		}
		return domain.HandleRef{}, fmt.Errorf("store: read handle: %w", err)
	}
	var ref domain.HandleRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return domain.HandleRef{}, fmt.Errorf("store: decode handle ref: %w", err)
	}
	return ref, nil
}

func (f *FileStore) DeleteHandle(ctx context.Context, handle string) error {
	if err := os.Remove(f.handlePath(handle)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("store: delete handle: %w", err)
	}
	return nil
}

func (f *FileStore) stripPath(id string) string {
	return filepath.Join(f.dir, "strips", sanitizeName(id)+".json")
}

// handlePath hashes the handle: external handles are opaque and may contain
// characters unfit for filenames.
func (f *FileStore) handlePath(handle string) string {
	sum := sha256.Sum256([]byte(handle))
	return filepath.Join(f.dir, "handles", hex.EncodeToString(sum[:])+".json")
}

func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "_"
	}
	return b.String()
}

// writeAtomic persists via a temp file and rename so readers never observe a
// torn document.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store: rename into place: %w", err)
	}
	return nil
}

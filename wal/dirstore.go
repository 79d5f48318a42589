package wal

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DirStore is a SegmentStore over a local directory. Objects are replaced by
// writing a temporary file and renaming it over the target, so a reader sees
// either the old or the new content. Etags are the xxhash64 of the content.
type DirStore struct {
	mu  sync.Mutex
	dir string
}

func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return &DirStore{dir: dir}, nil
}

func (s *DirStore) Dir() string {
	return s.dir
}

func contentETag(data []byte) string {
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

func (s *DirStore) ListSegments(ctx context.Context) ([]uint32, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var indices []uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		base, ok := strings.CutSuffix(name, "."+SegmentExt)
		if !ok {
			continue
		}
		i, err := strconv.ParseUint(base, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%s: unexpected segment name: %w", name, err)
		}
		indices = append(indices, uint32(i))
	}
	slices.Sort(indices)
	return indices, nil
}

func (s *DirStore) ReadSegment(ctx context.Context, index uint32) ([]byte, string, error) {
	return s.read(SegmentName(index))
}

func (s *DirStore) WriteSegment(ctx context.Context, index uint32, data []byte, etag string) (string, error) {
	return s.write(SegmentName(index), data, etag)
}

func (s *DirStore) DeleteSegment(ctx context.Context, index uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.dir, SegmentName(index)))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *DirStore) ReadCheckpoint(ctx context.Context) ([]byte, string, error) {
	return s.read(CheckpointObjectName)
}

func (s *DirStore) WriteCheckpoint(ctx context.Context, data []byte, etag string) (string, error) {
	return s.write(CheckpointObjectName, data, etag)
}

func (s *DirStore) read(name string) ([]byte, string, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, "", err
	}
	return data, contentETag(data), nil
}

func (s *DirStore) write(name string, data []byte, etag string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	target := filepath.Join(s.dir, name)
	existing, err := os.ReadFile(target)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if etag != "" {
			return "", fmt.Errorf("%s: %w", name, ErrContentOC)
		}
	case err != nil:
		return "", err
	case etag == "":
		return "", fmt.Errorf("%s: %w", name, ErrExistsOC)
	case contentETag(existing) != etag:
		return "", fmt.Errorf("%s: %w", name, ErrContentOC)
	}

	f, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return "", err
	}
	tmp := f.Name()
	defer os.Remove(tmp) // no-op after a successful rename

	if _, err = f.Write(data); err != nil {
		f.Close()
		return "", err
	}
	if err = f.Sync(); err != nil {
		f.Close()
		return "", err
	}
	if err = f.Close(); err != nil {
		return "", err
	}
	if err = os.Rename(tmp, target); err != nil {
		return "", err
	}
	if err = syncDir(s.dir); err != nil {
		return "", err
	}
	return contentETag(data), nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

package store

import (
	"context"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/keithlinneman/linnemanlabs-contentsync/internal/log"
	"github.com/keithlinneman/linnemanlabs-contentsync/internal/xerrors"
)

// File stores each key as a file under dir.
type File struct {
	dir    string
	logger log.Logger
	mu     sync.Mutex
}

// NewFile creates dir if needed and returns a File store rooted there.
func NewFile(dir string, logger log.Logger) (*File, error) {
	if dir == "" {
		return nil, xerrors.New("store: file dir is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, xerrors.Wrapf(err, "create store dir %s", dir)
	}
	return &File{dir: dir, logger: log.OrNop(logger)}, nil
}

// path escapes the key so namespaced keys like "proj:content_cache" map to a
// single flat file name.
func (f *File) path(key string) string {
	return filepath.Join(f.dir, url.PathEscape(key)+".json")
}

func (f *File) Get(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			f.logger.Warn(context.Background(), "store: read failed", "key", key, "error", err)
		}
		return nil, false
	}
	return data, true
}

func (f *File) Set(key string, value []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	// write-then-rename so a crash never leaves a torn blob behind
	tmp, err := os.CreateTemp(f.dir, ".tmp-*")
	if err != nil {
		f.logger.Warn(context.Background(), "store: create temp failed", "key", key, "error", err)
		return
	}
	tmpPath := tmp.Name()
	_, werr := tmp.Write(value)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmpPath)
		f.logger.Warn(context.Background(), "store: write failed", "key", key, "error", errors.Join(werr, cerr))
		return
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		f.logger.Debug(context.Background(), "store: chmod failed", "key", key, "error", err)
	}
	if err := os.Rename(tmpPath, f.path(key)); err != nil {
		os.Remove(tmpPath)
		f.logger.Warn(context.Background(), "store: rename failed", "key", key, "error", err)
	}
}

func (f *File) Delete(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path(key)); err != nil && !errors.Is(err, os.ErrNotExist) {
		f.logger.Warn(context.Background(), "store: delete failed", "key", key, "error", err)
	}
}

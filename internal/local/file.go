package local

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"classdesk/api/internal/schema"
	"github.com/fsnotify/fsnotify"
)

// FileStore keeps the document in <dir>/<key>.json.
type FileStore struct {
	dir    string
	path   string
	logger *slog.Logger

	mu       sync.Mutex
	lastHash string
}

// NewFileStore creates the data directory if needed
func NewFileStore(dir, key string, logger *slog.Logger) (*FileStore, error) {
	if key == "" {
		key = DefaultKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{
		dir:    dir,
		path:   filepath.Join(dir, key+".json"),
		logger: logger,
	}, nil
}

// Path returns the blob location
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (schema.Partial, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read local document: %w", err)
	}
	partial, err := schema.ParsePartial(data)
	if err != nil {
		return nil, &CorruptedError{Path: s.path, Err: err}
	}
	return partial, nil
}

func (s *FileStore) Save(doc schema.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal local document: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write local document: %w", err)
	}
	s.lastHash = hashBytes(data)
	return nil
}

func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("clear local document: %w", err)
	}
	s.lastHash = ""
	return nil
}

// Watch calls onChange whenever another process rewrites the blob. Rewrites
// that carry the bytes this store last saved are ignored. The watch stops when
// ctx is cancelled.
func (s *FileStore) Watch(ctx context.Context, onChange func(schema.Partial)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch %s: %w", s.dir, err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != s.path || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				s.reload(ctx, onChange)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("local watch error", "path", s.path, "error", err)
			}
		}
	}()
	return nil
}

func (s *FileStore) reload(ctx context.Context, onChange func(schema.Partial)) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("local reload failed", "path", s.path, "error", err)
		}
		return
	}
	hash := hashBytes(data)
	s.mu.Lock()
	own := hash == s.lastHash
	if !own {
		s.lastHash = hash
	}
	s.mu.Unlock()
	if own {
		return
	}
	partial, err := schema.ParsePartial(data)
	if err != nil {
		// A writer may still be mid-rewrite; the next event carries the final bytes.
		s.logger.Debug("local reload skipped unparseable blob", "path", s.path, "error", err)
		return
	}
	if ctx.Err() != nil {
		return
	}
	onChange(partial)
}

func writeFileAtomic(path string, data []byte, mode os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return nil
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

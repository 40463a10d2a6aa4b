package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "warden/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Layout: one <dir>/<account>.json per record. Writes go to a temp file
// in the same directory and are renamed into place, so a crash mid-write
// leaves the previous record intact.
type fileStore struct {
	log logx.Logger
	dir string

	mu     sync.Mutex
	closed bool
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	dir := strings.TrimSpace(cfg.Path)
	if dir == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{log: log, dir: dir}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// recordPath sanitizes the account ID into a safe file name.
func (s *fileStore) recordPath(accountID string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, accountID)
	return filepath.Join(s.dir, name+".json")
}

func (s *fileStore) Get(ctx context.Context, accountID string) ([]byte, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false, errors.New("store closed")
	}
	b, err := os.ReadFile(s.recordPath(accountID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *fileStore) Put(ctx context.Context, accountID string, data []byte) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store closed")
	}
	path := s.recordPath(accountID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *fileStore) Delete(ctx context.Context, accountID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("store closed")
	}
	err := os.Remove(s.recordPath(accountID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// List reads every .json record in the directory. Files that are not
// valid JSON are skipped with a warning rather than failing the load.
func (s *fileStore) List(ctx context.Context) (map[string][]byte, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("store closed")
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	out := map[string][]byte{}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		b, err := os.ReadFile(path)
		if err != nil {
			s.log.Warn("skipping unreadable record", logx.String("file", e.Name()), logx.Err(err))
			continue
		}
		if !json.Valid(b) {
			s.log.Warn("skipping corrupt record", logx.String("file", e.Name()))
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		out[id] = b
	}
	return out, nil
}

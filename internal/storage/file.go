package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"relaybot/pkg/fsutil"
	logx "relaybot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.audit.jsonl (append-only JSON Lines)
//   - <prefix>.modes.json  (display modes, rewritten atomically)
type fileStore struct {
	log logx.Logger

	mu        sync.Mutex
	auditFile *os.File
	modesPath string
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &fileStore{log: log, auditFile: af, modesPath: prefix + ".modes.json"}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return nil
	}
	err := s.auditFile.Close()
	s.auditFile = nil
	return err
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return errors.New("audit file closed")
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

func (s *fileStore) SaveModes(ctx context.Context, modes map[int64]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	out := make(map[string]string, len(modes))
	for id, m := range modes {
		out[strconv.FormatInt(id, 10)] = m
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fsutil.WriteFileAtomic(s.modesPath, append(b, '\n'), 0o600)
}

// LoadModes returns the persisted modes. A missing file is an empty set;
// unparsable keys are skipped.
func (s *fileStore) LoadModes(ctx context.Context) (map[int64]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	b, err := os.ReadFile(s.modesPath)
	s.mu.Unlock()
	if errors.Is(err, os.ErrNotExist) {
		return map[int64]string{}, nil
	}
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.modesPath, err)
	}
	out := make(map[int64]string, len(raw))
	for k, v := range raw {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			s.log.Warn("skipping display mode with invalid chat id", logx.String("key", k))
			continue
		}
		out[id] = v
	}
	return out, nil
}

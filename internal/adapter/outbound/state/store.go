package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/evaguard/evaguard/internal/domain/compliance"
)

// FileStateStore reads and writes the rule set state file.
// It implements compliance.RuleStore.
type FileStateStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger

	// seen is the updated_at of the last state this store read or wrote.
	seen time.Time
}

var _ compliance.RuleStore = (*FileStateStore)(nil)

// NewFileStateStore creates a store for the state file at path.
func NewFileStateStore(path string, logger *slog.Logger) *FileStateStore {
	return &FileStateStore{path: path, logger: logger}
}

// Load reads the state file. A missing file yields (nil, nil).
// The version read becomes the baseline for overwrite detection in Save.
func (s *FileStateStore) Load() (*RuleSetState, error) {
	st, err := s.read()
	if err != nil || st == nil {
		return st, err
	}
	s.mu.Lock()
	s.seen = st.UpdatedAt
	s.mu.Unlock()
	return st, nil
}

func (s *FileStateStore) read() (*RuleSetState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	s.warnOpenPermissions()

	var st RuleSetState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state file %s: %w", s.path, err)
	}
	if st.Version != "" && st.Version != CurrentVersion {
		return nil, fmt.Errorf("state file %s: unsupported version %q", s.path, st.Version)
	}
	return &st, nil
}

// warnOpenPermissions logs when group or other can read the state file.
// Unix permission bits are meaningless on Windows.
func (s *FileStateStore) warnOpenPermissions() {
	if runtime.GOOS == "windows" {
		return
	}
	info, err := os.Stat(s.path)
	if err != nil {
		return
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		s.logger.Warn("state file permissions are wider than 0600",
			"path", s.path, "mode", fmt.Sprintf("%04o", mode))
	}
}

// LoadRules implements compliance.RuleStore.
func (s *FileStateStore) LoadRules(_ context.Context) ([]compliance.Rule, bool, error) {
	st, err := s.Load()
	if err != nil {
		return nil, false, err
	}
	if st == nil {
		s.logger.Info("state file not found, using default rules", "path", s.path)
		return nil, false, nil
	}
	rules := make([]compliance.Rule, 0, len(st.Rules))
	for _, e := range st.Rules {
		rules = append(rules, e.ToRule())
	}
	return rules, true, nil
}

// SaveRules implements compliance.RuleStore.
func (s *FileStateStore) SaveRules(_ context.Context, rules []compliance.Rule) error {
	created := time.Now().UTC()
	if prev, err := s.read(); err == nil && prev != nil && !prev.CreatedAt.IsZero() {
		created = prev.CreatedAt
	}

	st := &RuleSetState{
		Version:   CurrentVersion,
		Rules:     make([]RuleEntry, 0, len(rules)),
		CreatedAt: created,
	}
	for _, r := range rules {
		st.Rules = append(st.Rules, EntryFromRule(r))
	}
	return s.Save(st)
}

// Save writes st to disk.
//
// Under the in-process mutex and the cross-process lock on path+".lock",
// the current file is copied to path+".bak", then the new content is
// written to path+".tmp", fsynced and renamed over path.
func (s *FileStateStore) Save(st *RuleSetState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st.UpdatedAt = time.Now().UTC()
	if st.Version == "" {
		st.Version = CurrentVersion
	}

	unlock, err := s.lock()
	if err != nil {
		return err
	}
	defer unlock()

	if current, err := os.ReadFile(s.path); err == nil {
		s.warnExternalChange(current)
		if err := os.WriteFile(s.path+".bak", current, 0o600); err != nil {
			s.logger.Warn("failed to write state backup", "error", err)
		}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}
	// Rename keeps the temp file's mode, but an umask can still widen it.
	if err := os.Chmod(s.path, 0o600); err != nil {
		s.logger.Warn("failed to set permissions on state file", "error", err)
	}

	s.seen = st.UpdatedAt
	s.logger.Debug("state saved", "path", s.path, "rules", len(st.Rules))
	return nil
}

// warnExternalChange logs when the file on disk is not the version this store
// last read or wrote. Another process changed it and those changes are about
// to be overwritten. Must be called with s.mu held.
func (s *FileStateStore) warnExternalChange(current []byte) {
	if s.seen.IsZero() {
		return
	}
	var onDisk RuleSetState
	if err := json.Unmarshal(current, &onDisk); err != nil {
		return
	}
	if !onDisk.UpdatedAt.Equal(s.seen) {
		s.logger.Warn("state file was changed by another process, overwriting its changes",
			"path", s.path,
			"disk_updated_at", onDisk.UpdatedAt,
			"last_seen", s.seen,
		)
	}
}

func (s *FileStateStore) lock() (func(), error) {
	f, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := flockLock(f.Fd()); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("acquire file lock: %w", err)
	}
	return func() {
		_ = flockUnlock(f.Fd())
		_ = f.Close()
	}, nil
}

func (s *FileStateStore) writeAtomic(data []byte) error {
	tmp := s.path + ".tmp"

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	fail := func(op string, err error) error {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%s temp file: %w", op, err)
	}

	if _, err := f.Write(data); err != nil {
		return fail("write", err)
	}
	if err := f.Sync(); err != nil {
		return fail("fsync", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Exists reports whether the state file exists.
func (s *FileStateStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the state file path.
func (s *FileStateStore) Path() string {
	return s.path
}

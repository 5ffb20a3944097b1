// Package decisionlog mirrors decision records to JSON Lines files with
// daily and size-based rotation.
//
// Files are named decisions-YYYY-MM-DD.log, then decisions-YYYY-MM-DD-N.log
// once the size cap is reached. Retention removes whole files by date.
package decisionlog

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/evaguard/evaguard/internal/domain/evidence"
)

const dateLayout = "2006-01-02"

// DefaultMaxFileSizeMB is the rotation threshold used when none is configured.
const DefaultMaxFileSizeMB = 100

var filePattern = regexp.MustCompile(`^decisions-(\d{4}-\d{2}-\d{2})(?:-(\d+))?\.log$`)

type fileInfo struct {
	name   string
	date   string
	suffix int
}

func parseFilename(name string) (fileInfo, bool) {
	m := filePattern.FindStringSubmatch(name)
	if m == nil {
		return fileInfo{}, false
	}
	info := fileInfo{name: name, date: m[1]}
	if m[2] != "" {
		n, err := strconv.Atoi(m[2])
		if err != nil {
			return fileInfo{}, false
		}
		info.suffix = n
	}
	return info, true
}

func buildFilename(date string, suffix int) string {
	if suffix == 0 {
		return fmt.Sprintf("decisions-%s.log", date)
	}
	return fmt.Sprintf("decisions-%s-%d.log", date, suffix)
}

// Config holds decision log settings.
type Config struct {
	// Dir is created with 0700 permissions if missing.
	Dir string
	// MaxFileSizeMB triggers rotation to a new suffix (default 100).
	MaxFileSizeMB int
}

// Store implements evidence.DecisionStore on rotated JSON Lines files.
type Store struct {
	dir         string
	maxFileSize int64
	logger      *slog.Logger

	mu            sync.Mutex
	current       *os.File
	currentDate   string
	currentSize   int64
	currentSuffix int
	closed        bool
}

var _ evidence.DecisionStore = (*Store)(nil)

// Open creates the directory if needed and opens today's file, continuing
// the highest existing suffix.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = DefaultMaxFileSizeMB
	}
	if err := os.MkdirAll(cfg.Dir, 0700); err != nil {
		return nil, fmt.Errorf("create decision log directory: %w", err)
	}

	s := &Store{
		dir:         cfg.Dir,
		maxFileSize: int64(cfg.MaxFileSizeMB) * 1024 * 1024,
		logger:      logger.With("component", "evidence.decisionlog"),
	}
	today := time.Now().UTC().Format(dateLayout)
	if err := s.openLocked(today, s.highestSuffix(today)); err != nil {
		return nil, err
	}
	return s, nil
}

// Dir returns the log directory.
func (s *Store) Dir() string { return s.dir }

// Append writes one compact JSON line per record, rotating on date change
// or when the current file reaches the size cap.
func (s *Store) Append(_ context.Context, records ...evidence.DecisionRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return os.ErrClosed
	}

	for _, rec := range records {
		date := rec.Timestamp.UTC().Format(dateLayout)
		if date != s.currentDate {
			if err := s.rotateLocked(date, s.highestSuffix(date)); err != nil {
				return fmt.Errorf("date rotation: %w", err)
			}
		}
		if s.currentSize >= s.maxFileSize {
			if err := s.rotateLocked(s.currentDate, s.currentSuffix+1); err != nil {
				return fmt.Errorf("size rotation: %w", err)
			}
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal decision record: %w", err)
		}
		n, err := s.current.Write(append(data, '\n'))
		s.currentSize += int64(n)
		if err != nil {
			return fmt.Errorf("write decision record: %w", err)
		}
	}
	return nil
}

// Flush syncs the current file.
func (s *Store) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil
	}
	return s.current.Sync()
}

// Close syncs and closes the current file. Further appends fail.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.current == nil {
		return nil
	}
	_ = s.current.Sync()
	err := s.current.Close()
	s.current = nil
	return err
}

// PruneBefore removes files whose whole day ends before the cutoff.
// The file currently being written is never removed. It returns the number
// of files deleted.
func (s *Store) PruneBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.listFiles()
	if err != nil {
		return 0, err
	}

	cutoff := before.UTC().Format(dateLayout)
	var deleted int64
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if f.date >= cutoff || (f.date == s.currentDate && f.suffix == s.currentSuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, f.name)); err != nil {
			s.logger.Error("failed to delete decision log", "file", f.name, "error", err)
			continue
		}
		deleted++
	}
	if deleted > 0 {
		s.logger.Info("decision logs pruned", "deleted", deleted, "cutoff", cutoff)
	}
	return deleted, nil
}

// Files returns the decision log file names in chronological order.
func (s *Store) Files() ([]string, error) {
	files, err := s.listFiles()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = f.name
	}
	return names, nil
}

func (s *Store) listFiles() ([]fileInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read decision log directory: %w", err)
	}
	var files []fileInfo
	for _, e := range entries {
		if info, ok := parseFilename(e.Name()); ok {
			files = append(files, info)
		}
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].date != files[j].date {
			return files[i].date < files[j].date
		}
		return files[i].suffix < files[j].suffix
	})
	return files, nil
}

func (s *Store) highestSuffix(date string) int {
	files, err := s.listFiles()
	if err != nil {
		return 0
	}
	highest := 0
	for _, f := range files {
		if f.date == date && f.suffix > highest {
			highest = f.suffix
		}
	}
	return highest
}

// rotateLocked closes the current file and opens date/suffix.
// Must be called with s.mu held.
func (s *Store) rotateLocked(date string, suffix int) error {
	if s.current != nil {
		_ = s.current.Sync()
		_ = s.current.Close()
		s.current = nil
	}
	return s.openLocked(date, suffix)
}

func (s *Store) openLocked(date string, suffix int) error {
	name := buildFilename(date, suffix)
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open decision log %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat decision log %s: %w", name, err)
	}
	s.current = f
	s.currentDate = date
	s.currentSuffix = suffix
	s.currentSize = info.Size()
	return nil
}

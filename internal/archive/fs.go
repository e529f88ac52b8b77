package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/riskradar/riskradar/internal/feed"
)

const (
	archiveExt = ".json"
	markerExt  = ".processed"
)

// FSStore keeps one JSON file per date under <baseDir>/archive. Writes are
// atomic (temp file + rename) and serialized per date; distinct dates use
// distinct locks so they never contend.
type FSStore struct {
	baseDir string
	logger  *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewFSStore validates the base directory and returns a store rooted at it.
func NewFSStore(baseDir string, logger *zap.Logger) (*FSStore, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := filepath.Join(baseDir, "archive")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive directory: %w", err)
	}
	probe := filepath.Join(dir, ".writable")
	if err := os.WriteFile(probe, []byte("ok"), 0o600); err != nil {
		return nil, fmt.Errorf("archive directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}
	return &FSStore{
		baseDir: dir,
		logger:  logger,
		locks:   map[string]*sync.Mutex{},
	}, nil
}

func (s *FSStore) dateLock(date string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.locks[date]
	if l == nil {
		l = &sync.Mutex{}
		s.locks[date] = l
	}
	return l
}

func (s *FSStore) archivePath(date string) string {
	return filepath.Join(s.baseDir, date+archiveExt)
}

func (s *FSStore) markerPath(date string) string {
	return filepath.Join(s.baseDir, date+markerExt)
}

// Load reads the archive for a date.
func (s *FSStore) Load(date string) (*feed.DailyArchive, error) {
	return s.load(date)
}

func (s *FSStore) load(date string) (*feed.DailyArchive, error) {
	raw, err := os.ReadFile(s.archivePath(date))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("archive %s: %w", date, ErrNotFound)
		}
		return nil, fmt.Errorf("read archive %s: %w", date, err)
	}
	var a feed.DailyArchive
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, fmt.Errorf("decode archive %s: %w: %v", date, ErrCorrupt, err)
	}
	if a.HotValues == nil {
		a.HotValues = map[string]map[int]float64{}
	}
	if a.Topics == nil {
		a.Topics = map[string]*feed.TopicRecord{}
	}
	return &a, nil
}

// Merge folds an hourly snapshot into the date's archive under the date lock.
// A corrupt archive file is moved aside and a fresh archive started, so one
// bad write can never poison the rest of the day.
func (s *FSStore) Merge(date string, snap feed.HourlySnapshot) (*feed.DailyArchive, error) {
	lock := s.dateLock(date)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.load(date)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		a = feed.NewDailyArchive(date)
	case errors.Is(err, ErrCorrupt):
		s.quarantine(date)
		a = feed.NewDailyArchive(date)
	default:
		return nil, err
	}

	changed, err := a.Merge(snap)
	if err != nil {
		return nil, err
	}
	if !changed {
		return a, nil
	}
	if err := s.save(a); err != nil {
		return nil, err
	}
	return a, nil
}

// Save persists an archive under its date lock.
func (s *FSStore) Save(a *feed.DailyArchive) error {
	lock := s.dateLock(a.Date)
	lock.Lock()
	defer lock.Unlock()
	return s.save(a)
}

func (s *FSStore) save(a *feed.DailyArchive) error {
	raw, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encode archive %s: %w", a.Date, err)
	}
	raw = append(raw, '\n')
	path := s.archivePath(a.Date)
	tmp, err := os.CreateTemp(s.baseDir, a.Date+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp archive: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp archive: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace archive %s: %w", a.Date, err)
	}
	return nil
}

// UpdateTopic mutates a single topic record and flushes the archive, all
// under the date lock so concurrent workers on different topics of the same
// date serialize their writes.
func (s *FSStore) UpdateTopic(date, name string, mutate func(*feed.TopicRecord)) error {
	lock := s.dateLock(date)
	lock.Lock()
	defer lock.Unlock()

	a, err := s.load(date)
	if err != nil {
		return err
	}
	rec := a.Topics[name]
	if rec == nil {
		return fmt.Errorf("topic %q missing from archive %s", name, date)
	}
	mutate(rec)
	return s.save(a)
}

// MarkDailyProcessed drops the per-date marker file.
func (s *FSStore) MarkDailyProcessed(date string) error {
	if err := os.WriteFile(s.markerPath(date), []byte(date+"\n"), 0o600); err != nil {
		return fmt.Errorf("write processed marker %s: %w", date, err)
	}
	return nil
}

// IsDailyProcessed reports whether the per-date marker exists.
func (s *FSStore) IsDailyProcessed(date string) bool {
	_, err := os.Stat(s.markerPath(date))
	return err == nil
}

// Dates lists every date with a persisted archive, ascending.
func (s *FSStore) Dates() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	var dates []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, archiveExt) {
			continue
		}
		date := strings.TrimSuffix(name, archiveExt)
		if _, err := feed.ParseDate(date); err != nil {
			continue
		}
		dates = append(dates, date)
	}
	sort.Strings(dates)
	return dates, nil
}

func (s *FSStore) quarantine(date string) {
	src := s.archivePath(date)
	dst := src + ".corrupt"
	if err := os.Rename(src, dst); err != nil {
		s.logger.Error("quarantine corrupt archive failed", zap.String("date", date), zap.Error(err))
		return
	}
	s.logger.Warn("corrupt archive moved aside", zap.String("date", date), zap.String("path", dst))
}

// Package monitor owns the set of monitored repositories: each binds an
// owner/repo path to a webhook secret and a destination group.
//
// Readers (every inbound webhook) work on an immutable snapshot and never
// take a lock. Writers (admin commands) serialize, swap in a new snapshot,
// and then persist it with write-temp-then-rename. A failed disk write is
// reported but the in-memory change stays applied.
package monitor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDuplicate = errors.New("repository already monitored")
	ErrNotFound  = errors.New("repository not monitored")
	ErrInvalid   = errors.New("invalid monitor")
	// ErrPersist wraps disk write failures. The mutation that triggered the
	// write has already been applied in memory.
	ErrPersist = errors.New("persist monitors")
)

// snapshot is never modified after it is published.
type snapshot struct {
	entries []Entry
	byPath  map[string]int
}

func newSnapshot(entries []Entry, logger *slog.Logger) *snapshot {
	s := &snapshot{
		entries: entries,
		byPath:  make(map[string]int, len(entries)),
	}
	for i, e := range entries {
		p := e.Path()
		if p == "" {
			logger.Warn("monitor entry has no repository path", "repo_url", e.RepoURL)
			continue
		}
		if first, dup := s.byPath[p]; dup {
			logger.Warn("duplicate monitor path, first entry wins",
				"path", p,
				"kept", entries[first].RepoURL,
				"shadowed", e.RepoURL,
			)
			continue
		}
		s.byPath[p] = i
	}
	return s
}

// Store is the ConfigStore for monitored repositories.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex // serializes Add/Remove
	ioMu sync.Mutex // serializes disk writes
	snap atomic.Pointer[snapshot]
}

// Open loads the monitors file at path, creating its directory if needed.
// A missing file yields an empty store.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("monitors path is empty")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create monitors directory: %w", err)
	}

	s := &Store{
		path:   path,
		logger: logger,
		now:    time.Now,
	}

	entries, err := readDocument(path)
	if err != nil {
		return nil, err
	}
	s.snap.Store(newSnapshot(entries, logger))
	logger.Info("monitors loaded", "path", path, "count", len(entries))
	return s, nil
}

func readDocument(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read monitors file: %w", err)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse monitors file %s: %w", path, err)
	}
	return doc.Monitors, nil
}

// Lookup finds the entry whose owner/repo path matches repoURL, using Match
// over the current snapshot.
func (s *Store) Lookup(repoURL string) (Entry, bool) {
	return Match(repoURL, s.snap.Load().entries)
}

// List returns a copy of all entries in insertion order, secrets included.
// Callers that display entries must strip secrets themselves.
func (s *Store) List() []Entry {
	snap := s.snap.Load()
	out := make([]Entry, len(snap.entries))
	copy(out, snap.entries)
	return out
}

// Len returns the number of configured entries.
func (s *Store) Len() int {
	return len(s.snap.Load().entries)
}

// Add registers a repository. It fails with ErrDuplicate if the owner/repo
// path is already monitored under any host.
func (s *Store) Add(repoURL, secret, group string) (Entry, error) {
	repoURL = strings.TrimSpace(repoURL)
	group = strings.TrimSpace(group)

	path, err := RepoPath(repoURL)
	if err != nil {
		return Entry{}, err
	}
	if err := checkRepoURL(repoURL); err != nil {
		return Entry{}, err
	}
	if secret == "" {
		return Entry{}, fmt.Errorf("%w: secret is required", ErrInvalid)
	}
	if group == "" || strings.ContainsAny(group, " \t\r\n") {
		return Entry{}, fmt.Errorf("%w: group id must be a single non-empty token", ErrInvalid)
	}

	s.mu.Lock()
	cur := s.snap.Load()
	if i, dup := cur.byPath[path]; dup {
		s.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %s (registered as %s)", ErrDuplicate, path, cur.entries[i].RepoURL)
	}

	entry := Entry{
		ID:        uuid.NewString(),
		RepoURL:   repoURL,
		Secret:    secret,
		Group:     group,
		CreatedAt: s.now().UTC(),
	}
	next := make([]Entry, 0, len(cur.entries)+1)
	next = append(next, cur.entries...)
	next = append(next, entry)
	s.snap.Store(newSnapshot(next, s.logger))
	s.mu.Unlock()

	s.logger.Info("monitor added", "repo_url", repoURL, "path", path, "group", group)

	if err := s.persist(); err != nil {
		return entry, err
	}
	return entry, nil
}

// Remove drops every entry whose owner/repo path matches repoURL and returns
// the first one removed.
func (s *Store) Remove(repoURL string) (Entry, error) {
	path, err := RepoPath(repoURL)
	if err != nil {
		return Entry{}, err
	}

	s.mu.Lock()
	cur := s.snap.Load()
	var (
		removed []Entry
		next    = make([]Entry, 0, len(cur.entries))
	)
	for _, e := range cur.entries {
		if e.Path() == path {
			removed = append(removed, e)
			continue
		}
		next = append(next, e)
	}
	if len(removed) == 0 {
		s.mu.Unlock()
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	s.snap.Store(newSnapshot(next, s.logger))
	s.mu.Unlock()

	s.logger.Info("monitor removed", "path", path, "removed", len(removed))

	if err := s.persist(); err != nil {
		return removed[0], err
	}
	return removed[0], nil
}

// persist writes the latest snapshot. Concurrent callers each write whatever
// snapshot is current when they get the I/O lock, so the last write always
// reflects the latest state.
func (s *Store) persist() error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()

	doc := document{Monitors: s.snap.Load().entries}
	if doc.Monitors == nil {
		doc.Monitors = []Entry{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", ErrPersist, err)
	}
	if err := writeFileAtomic(s.path, data, 0o600); err != nil {
		s.logger.Error("failed to persist monitors; in-memory state kept", "path", s.path, "error", err)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

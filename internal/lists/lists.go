// Package lists persists named sender lists as flat files, one entry per line.
package lists

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Names of the static triage lists.
const (
	White  = "white"
	Black  = "black"
	Vendor = "vendor"
)

const ext = ".txt"

var ErrInvalidName = errors.New("invalid list name")

// Set is a snapshot of one list.
type Set map[string]struct{}

// Contains reports exact membership.
func (s Set) Contains(entry string) bool {
	_, ok := s[entry]
	return ok
}

// ContainsFold reports case-insensitive membership.
func (s Set) ContainsFold(entry string) bool {
	if s.Contains(entry) {
		return true
	}
	for e := range s {
		if strings.EqualFold(e, entry) {
			return true
		}
	}
	return false
}

// Store keeps lists under one directory. Entries are appended, never
// rewritten, so duplicates written by earlier calls are left alone.
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore returns a store rooted at dir, creating it if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lists dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if !strings.HasSuffix(name, ext) {
		name += ext
	}
	return filepath.Join(s.dir, name), nil
}

// Open reads a list. A list that does not exist yet is empty.
func (s *Store) Open(name string) (Set, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}
	return readSet(path)
}

func readSet(path string) (Set, error) {
	set := make(Set)

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, fmt.Errorf("open list: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			set[line] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read list: %w", err)
	}
	return set, nil
}

// Append adds senders that are not already on the list and returns how many
// were written. Blank entries and repeats within senders are skipped.
func (s *Store) Append(name string, senders ...string) (int, error) {
	path, err := s.path(name)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := readSet(path)
	if err != nil {
		return 0, err
	}

	var fresh []string
	for _, sender := range senders {
		sender = strings.TrimSpace(sender)
		if sender == "" || existing.Contains(sender) {
			continue
		}
		existing[sender] = struct{}{}
		fresh = append(fresh, sender)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open list for append: %w", err)
	}
	defer f.Close()

	for _, sender := range fresh {
		if _, err := fmt.Fprintln(f, sender); err != nil {
			return 0, fmt.Errorf("write list entry: %w", err)
		}
	}
	return len(fresh), nil
}

// Create makes an empty list if it does not exist.
func (s *Store) Create(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create list: %w", err)
	}
	return f.Close()
}

// Names returns the lists present on disk, without extension, sorted.
func (s *Store) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read lists dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(names)
	return names, nil
}

// Stats returns the number of distinct entries per list.
func (s *Store) Stats() (map[string]int, error) {
	names, err := s.Names()
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int, len(names))
	for _, name := range names {
		set, err := s.Open(name)
		if err != nil {
			return nil, err
		}
		stats[name] = len(set)
	}
	return stats, nil
}

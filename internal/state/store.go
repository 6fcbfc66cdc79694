// Package state persists which chapters of a book are already downloaded.
//
// The file is JSON, either a flat array of chapter ids (one book per file)
// or an object mapping book ids to such arrays. A flat file keeps its shape
// when rewritten; new files are written in the keyed form.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"sync"

	"github.com/brogergvhs/noveld/internal/ui"
	"github.com/brogergvhs/noveld/internal/util"
)

const DefaultFile = "chapter.json"

func PathFor(outputDir, file string) string {
	if file == "" {
		file = DefaultFile
	}
	if filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(outputDir, file)
}

type Store struct {
	mu sync.Mutex

	path   string
	bookID string
	flat   bool
	others map[string][]string
	done   map[string]struct{}
}

// Open loads the completed set for bookID. An unreadable or malformed file
// is logged and treated as empty.
func Open(path, bookID string, log ui.Log) *Store {
	if log == nil {
		log = ui.Discard
	}

	s := &Store{
		path:   path,
		bookID: bookID,
		others: map[string][]string{},
		done:   map[string]struct{}{},
	}

	b, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s
	}
	if err != nil {
		log.Warnf("state %s unreadable, starting fresh: %v", path, err)
		return s
	}

	if err := s.decode(b); err != nil {
		log.Warnf("state %s is corrupt, starting fresh: %v", path, err)
		s.flat = false
		s.others = map[string][]string{}
		s.done = map[string]struct{}{}
	}
	return s
}

func (s *Store) decode(b []byte) error {
	var flat []string
	if err := json.Unmarshal(b, &flat); err == nil {
		s.flat = true
		for _, id := range flat {
			s.done[id] = struct{}{}
		}
		return nil
	}

	var books map[string][]string
	if err := json.Unmarshal(b, &books); err != nil {
		return err
	}
	if books == nil {
		return errors.New("null document")
	}
	for book, ids := range books {
		if book == s.bookID {
			for _, id := range ids {
				s.done[id] = struct{}{}
			}
			continue
		}
		s.others[book] = ids
	}
	return nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.done)
}

func (s *Store) IsDone(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.done[id]
	return ok
}

// Completed returns the completed ids, sorted.
func (s *Store) Completed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completedLocked()
}

func (s *Store) completedLocked() []string {
	out := make([]string, 0, len(s.done))
	for id := range s.done {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Pending returns the ids of all that are not completed, in input order.
func (s *Store) Pending(all []string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(all))
	for _, id := range all {
		if _, ok := s.done[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// MarkDone records ids as completed and persists the file.
func (s *Store) MarkDone(ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	added := false
	for _, id := range ids {
		if _, ok := s.done[id]; !ok {
			s.done[id] = struct{}{}
			added = true
		}
	}
	if !added {
		return nil
	}
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	var doc any
	if s.flat {
		doc = s.completedLocked()
	} else {
		books := make(map[string][]string, len(s.others)+1)
		for k, v := range s.others {
			books[k] = slices.Clone(v)
		}
		books[s.bookID] = s.completedLocked()
		doc = books
	}

	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return util.WriteFileAtomic(s.path, b, 0644)
}

// Clear forgets this book. Other books in a keyed file are kept.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.done = map[string]struct{}{}
	if s.flat || len(s.others) == 0 {
		if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove state: %w", err)
		}
		return nil
	}
	return s.saveLocked()
}

// Package backuptest provides an in-memory backup.Store for tests.
package backuptest

import (
	"context"
	"fmt"
	"sync"

	"github.com/zph/cmectl/pkg/backup"
	"github.com/zph/cmectl/pkg/plan"
)

// Saved is one recorded Save call
type Saved struct {
	Filename string
	Ref      string
	Config   string
	Reason   string
	Summary  *plan.Summary
}

// Store records saves and serves them back by ref
type Store struct {
	mu sync.Mutex

	// SaveErr fails every Save; SaveErrFor fails saves with a given reason
	SaveErr    error
	SaveErrFor map[string]error
	ReadErr    error

	saves []Saved
	reads []string
}

// New creates an empty store
func New() *Store {
	return &Store{SaveErrFor: make(map[string]error)}
}

func (s *Store) Save(_ context.Context, configText, reason string, summary *plan.Summary) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.SaveErr != nil {
		return "", "", s.SaveErr
	}
	if err := s.SaveErrFor[reason]; err != nil {
		return "", "", err
	}
	n := len(s.saves) + 1
	saved := Saved{
		Filename: fmt.Sprintf("%02d__%s.cfg", n, backup.SafeReason(reason)),
		Ref:      fmt.Sprintf("%040d", n),
		Config:   configText,
		Reason:   reason,
		Summary:  summary,
	}
	s.saves = append(s.saves, saved)
	return saved.Filename, saved.Ref, nil
}

func (s *Store) Read(_ context.Context, ref, filename string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.reads = append(s.reads, ref)
	if s.ReadErr != nil {
		return "", s.ReadErr
	}
	for _, saved := range s.saves {
		if saved.Ref == ref && (filename == "" || filename == saved.Filename) {
			return saved.Config, nil
		}
	}
	return "", fmt.Errorf("%w: %s", backup.ErrNotFound, ref)
}

func (s *Store) List(_ context.Context, limit int) ([]backup.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]backup.Entry, 0, len(s.saves))
	for i := len(s.saves) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, backup.Entry{Ref: s.saves[i].Ref, Message: "backup: " + s.saves[i].Reason})
	}
	return out, nil
}

// Saves returns every successful Save in order
func (s *Store) Saves() []Saved {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Saved(nil), s.saves...)
}

// Reasons returns the reason of each successful Save
func (s *Store) Reasons() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.saves))
	for i, saved := range s.saves {
		out[i] = saved.Reason
	}
	return out
}

// Reads returns the refs passed to Read
func (s *Store) Reads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.reads...)
}

var _ backup.Store = (*Store)(nil)

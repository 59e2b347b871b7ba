package apply

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyApplied is returned when a plan has already been applied, or
// an apply of it is in progress. Plans are single-use.
var ErrAlreadyApplied = errors.New("plan already applied")

// LedgerState of a plan's apply
type LedgerState string

const (
	LedgerRunning LedgerState = "running"
	LedgerDone    LedgerState = "done"
)

// LedgerEntry records one plan's apply
type LedgerEntry struct {
	PlanID    string       `json:"plan_id"`
	State     LedgerState  `json:"state"`
	ClaimedAt time.Time    `json:"claimed_at"`
	Result    *ApplyResult `json:"result,omitempty"`
}

// Ledger tracks which plans have been applied. Claim is atomic: exactly
// one caller wins for a given plan id.
type Ledger interface {
	Claim(planID string) error
	Record(result *ApplyResult) error
	Release(planID string) error
	Get(planID string) (*LedgerEntry, error)
	List() ([]*LedgerEntry, error)
}

// MemoryLedger is a process-local Ledger
type MemoryLedger struct {
	mu      sync.Mutex
	entries map[string]*LedgerEntry
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[string]*LedgerEntry)}
}

func (l *MemoryLedger) Claim(planID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.entries[planID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyApplied, planID)
	}
	l.entries[planID] = &LedgerEntry{PlanID: planID, State: LedgerRunning, ClaimedAt: time.Now().UTC()}
	return nil
}

func (l *MemoryLedger) Record(result *ApplyResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[result.PlanID]
	if !ok {
		e = &LedgerEntry{PlanID: result.PlanID, ClaimedAt: result.StartedAt}
		l.entries[result.PlanID] = e
	}
	e.State = LedgerDone
	e.Result = result
	return nil
}

func (l *MemoryLedger) Release(planID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.entries, planID)
	return nil
}

func (l *MemoryLedger) Get(planID string) (*LedgerEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[planID]
	if !ok {
		return nil, nil
	}
	c := *e
	return &c, nil
}

func (l *MemoryLedger) List() ([]*LedgerEntry, error) {
	l.mu.Lock()
	out := make([]*LedgerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		c := *e
		out = append(out, &c)
	}
	l.mu.Unlock()
	sortEntries(out)
	return out, nil
}

// FileLedger keeps one JSON file per applied plan. Claims use O_EXCL so
// two processes cannot apply the same plan.
type FileLedger struct {
	dir string
}

// NewFileLedger creates the ledger directory if needed
func NewFileLedger(dir string) (*FileLedger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	return &FileLedger{dir: dir}, nil
}

func (l *FileLedger) path(planID string) (string, error) {
	if _, err := uuid.Parse(planID); err != nil {
		return "", fmt.Errorf("invalid plan id %q", planID)
	}
	return filepath.Join(l.dir, planID+".json"), nil
}

func (l *FileLedger) Claim(planID string) error {
	path, err := l.path(planID)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(LedgerEntry{PlanID: planID, State: LedgerRunning, ClaimedAt: time.Now().UTC()}, "", "  ")
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: %s", ErrAlreadyApplied, planID)
		}
		return fmt.Errorf("failed to claim plan: %w", err)
	}
	_, werr := f.Write(data)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write ledger entry: %w", werr)
	}
	return nil
}

func (l *FileLedger) Record(result *ApplyResult) error {
	path, err := l.path(result.PlanID)
	if err != nil {
		return err
	}
	entry := LedgerEntry{PlanID: result.PlanID, State: LedgerDone, ClaimedAt: result.StartedAt, Result: result}
	if existing, err := l.Get(result.PlanID); err == nil && existing != nil {
		entry.ClaimedAt = existing.ClaimedAt
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize ledger entry: %w", err)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write ledger entry: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename ledger entry: %w", err)
	}
	return nil
}

func (l *FileLedger) Release(planID string) error {
	path, err := l.path(planID)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to release plan: %w", err)
	}
	return nil
}

// Get returns nil, nil for a plan that was never applied
func (l *FileLedger) Get(planID string) (*LedgerEntry, error) {
	path, err := l.path(planID)
	if err != nil {
		return nil, err
	}
	return readEntry(path)
}

func (l *FileLedger) List() ([]*LedgerEntry, error) {
	dirEntries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*LedgerEntry{}, nil
		}
		return nil, fmt.Errorf("failed to read ledger directory: %w", err)
	}

	out := make([]*LedgerEntry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), ".json") {
			continue
		}
		e, err := readEntry(filepath.Join(l.dir, de.Name()))
		if err != nil || e == nil {
			continue
		}
		out = append(out, e)
	}
	sortEntries(out)
	return out, nil
}

func readEntry(path string) (*LedgerEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read ledger entry: %w", err)
	}
	var e LedgerEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("failed to parse ledger entry: %w", err)
	}
	return &e, nil
}

func sortEntries(entries []*LedgerEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ClaimedAt.After(entries[j].ClaimedAt)
	})
}

var (
	_ Ledger = (*MemoryLedger)(nil)
	_ Ledger = (*FileLedger)(nil)
)

package plan

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/zph/cmectl/pkg/logger"
)

// Store keeps plans by id. Save inserts or replaces (last write wins);
// Get and List hand out copies so callers cannot mutate stored plans.
type Store interface {
	Save(p *ConfigPlan) error
	Get(id string) (*ConfigPlan, error)
	List() ([]*ConfigPlan, error)
	Delete(id string) error
}

// Create validates req, builds a plan and stores it
func Create(store Store, req Request) (*ConfigPlan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	p := New(req)
	if err := store.Save(p); err != nil {
		return nil, fmt.Errorf("failed to store plan: %w", err)
	}
	logger.WithFields(logger.Fields{
		"plan_id":  p.PlanID,
		"commands": len(p.Commands),
		"risk":     p.RiskLevel,
	}).Info("plan.created")
	return p.Clone(), nil
}

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu    sync.RWMutex
	plans map[string]*ConfigPlan
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{plans: make(map[string]*ConfigPlan)}
}

func (s *MemoryStore) Save(p *ConfigPlan) error {
	if p == nil || p.PlanID == "" {
		return fmt.Errorf("%w: plan id is required", ErrInvalidParams)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.PlanID] = p.Clone()
	return nil
}

func (s *MemoryStore) Get(id string) (*ConfigPlan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return p.Clone(), nil
}

func (s *MemoryStore) List() ([]*ConfigPlan, error) {
	s.mu.RLock()
	out := make([]*ConfigPlan, 0, len(s.plans))
	for _, p := range s.plans {
		out = append(out, p.Clone())
	}
	s.mu.RUnlock()

	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.plans[id]; !ok {
		return fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	delete(s.plans, id)
	return nil
}

// FileStore keeps one JSON file per plan under dir with a SHA-256
// checksum sidecar. Writes go to a temp file and are renamed into place.
type FileStore struct {
	dir string
	mu  sync.Mutex
}

// NewFileStore creates the plans directory if needed
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plans directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(id string) (string, error) {
	// ids are uuids; anything else could escape the directory
	if _, err := uuid.Parse(id); err != nil {
		return "", fmt.Errorf("%w: %s", ErrPlanNotFound, id)
	}
	return filepath.Join(s.dir, id+".json"), nil
}

func (s *FileStore) Save(p *ConfigPlan) error {
	if p == nil || p.PlanID == "" {
		return fmt.Errorf("%w: plan id is required", ErrInvalidParams)
	}
	planPath, err := s.path(p.PlanID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize plan: %w", err)
	}
	sum := sha256.Sum256(data)

	s.mu.Lock()
	defer s.mu.Unlock()

	tempPath := planPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	if err := os.Rename(tempPath, planPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename plan file: %w", err)
	}
	if err := os.WriteFile(planPath+".sha256", []byte(hex.EncodeToString(sum[:])), 0o644); err != nil {
		logger.Warn("failed to write checksum for plan %s: %v", p.PlanID, err)
	}
	return nil
}

func (s *FileStore) Get(id string) (*ConfigPlan, error) {
	planPath, err := s.path(id)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(planPath, id)
}

func (s *FileStore) load(planPath, id string) (*ConfigPlan, error) {
	data, err := os.ReadFile(planPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
		}
		return nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	ok, err := verify(planPath, data)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("plan %s failed checksum verification", id)
	}

	var p ConfigPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode plan %s: %w", id, err)
	}
	return &p, nil
}

// Verify reports whether the stored checksum matches the plan file. A
// missing sidecar reports false without an error.
func (s *FileStore) Verify(id string) (bool, error) {
	planPath, err := s.path(id)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(planPath)
	if err != nil {
		if os.IsNotExist(err) {
			return false, fmt.Errorf("%w: %s", ErrPlanNotFound, id)
		}
		return false, fmt.Errorf("failed to read plan file: %w", err)
	}
	stored, err := os.ReadFile(planPath + ".sha256")
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read checksum file: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == strings.TrimSpace(string(stored)), nil
}

// verify accepts a plan with no sidecar, for files written by hand
func verify(planPath string, data []byte) (bool, error) {
	stored, err := os.ReadFile(planPath + ".sha256")
	if err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, fmt.Errorf("failed to read checksum file: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) == strings.TrimSpace(string(stored)), nil
}

// List returns every readable plan, newest first. Unreadable files are
// skipped with a warning.
func (s *FileStore) List() ([]*ConfigPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*ConfigPlan{}, nil
		}
		return nil, fmt.Errorf("failed to read plans directory: %w", err)
	}

	plans := make([]*ConfigPlan, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		p, err := s.load(filepath.Join(s.dir, name), id)
		if err != nil {
			logger.Warn("skipping plan %s: %v", id, err)
			continue
		}
		plans = append(plans, p)
	}

	sortNewestFirst(plans)
	return plans, nil
}

func (s *FileStore) Delete(id string) error {
	planPath, err := s.path(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(planPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrPlanNotFound, id)
		}
		return fmt.Errorf("failed to remove plan file: %w", err)
	}
	os.Remove(planPath + ".sha256")
	return nil
}

func sortNewestFirst(plans []*ConfigPlan) {
	sort.SliceStable(plans, func(i, j int) bool {
		if plans[i].CreatedAt.Equal(plans[j].CreatedAt) {
			return plans[i].PlanID < plans[j].PlanID
		}
		return plans[i].CreatedAt.After(plans[j].CreatedAt)
	})
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)

package apply

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/zph/cmectl/pkg/logger"
)

// ErrLocked is returned when another process holds the device lock
var ErrLocked = errors.New("device is locked")

// DefaultLockTimeout bounds how long a crashed apply can block others
const DefaultLockTimeout = 30 * time.Minute

// DeviceLock stops two cmectl processes from changing one router at once
type DeviceLock struct {
	Device    string    `json:"device"`
	PlanID    string    `json:"plan_id"`
	LockedBy  string    `json:"locked_by"` // "user@host:pid"
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LockManager keeps one lock file per device under dir
type LockManager struct {
	dir string
}

// NewLockManager creates the lock directory if needed
func NewLockManager(dir string) (*LockManager, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &LockManager{dir: dir}, nil
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]`)

// LockPath returns the lock file for a device
func (m *LockManager) LockPath(device string) string {
	return filepath.Join(m.dir, unsafeName.ReplaceAllString(device, "_")+".lock")
}

// Acquire takes the device lock. An expired lock is taken over.
func (m *LockManager) Acquire(device, planID string, timeout time.Duration) (*DeviceLock, error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	now := time.Now()
	lock := &DeviceLock{
		Device:    device,
		PlanID:    planID,
		LockedBy:  lockedByIdentifier(),
		LockedAt:  now,
		ExpiresAt: now.Add(timeout),
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to serialize lock: %w", err)
	}

	path := m.LockPath(device)
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.Write(data)
			cerr := f.Close()
			if werr != nil || cerr != nil {
				os.Remove(path)
				return nil, fmt.Errorf("failed to write lock file: %w", errors.Join(werr, cerr))
			}
			return lock, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		existing, gerr := m.Get(device)
		if gerr != nil {
			return nil, gerr
		}
		if existing != nil && time.Now().Before(existing.ExpiresAt) {
			return nil, fmt.Errorf("%w: %s held by %s (plan %s, expires %s)", ErrLocked,
				device, existing.LockedBy, existing.PlanID, existing.ExpiresAt.Format(time.RFC3339))
		}
		if existing != nil {
			logger.WithFields(logger.Fields{"device": device, "locked_by": existing.LockedBy}).Warn("lock.expired_takeover")
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to remove expired lock: %w", err)
		}
	}
	return nil, fmt.Errorf("%w: %s (lost race for lock)", ErrLocked, device)
}

// Release removes the lock if lock still owns it. Releasing a lock that is
// already gone is not an error.
func (m *LockManager) Release(lock *DeviceLock) error {
	if lock == nil {
		return nil
	}
	current, err := m.Get(lock.Device)
	if err != nil {
		return err
	}
	if current == nil {
		return nil
	}
	if current.LockedBy != lock.LockedBy && time.Now().Before(current.ExpiresAt) {
		return fmt.Errorf("cannot release lock: owned by %s, not %s", current.LockedBy, lock.LockedBy)
	}
	if err := os.Remove(m.LockPath(lock.Device)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// Get returns the current lock, or nil when the device is unlocked
func (m *LockManager) Get(device string) (*DeviceLock, error) {
	data, err := os.ReadFile(m.LockPath(device))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock file: %w", err)
	}
	var lock DeviceLock
	if err := json.Unmarshal(data, &lock); err != nil {
		return nil, fmt.Errorf("failed to parse lock file: %w", err)
	}
	return &lock, nil
}

// IsLocked reports whether an unexpired lock exists
func (m *LockManager) IsLocked(device string) (bool, error) {
	lock, err := m.Get(device)
	if err != nil || lock == nil {
		return false, err
	}
	return time.Now().Before(lock.ExpiresAt), nil
}

// ForceUnlock removes a lock regardless of owner
func (m *LockManager) ForceUnlock(device string) error {
	if err := os.Remove(m.LockPath(device)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

// lockedByIdentifier returns "user@hostname:pid"
func lockedByIdentifier() string {
	hostname, _ := os.Hostname()
	user := os.Getenv("USER")
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("%s@%s:%d", user, hostname, os.Getpid())
}

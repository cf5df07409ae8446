package weighing

import (
	"fmt"
	"sync"
	"time"

	"github.com/mamadbah2/stoneweigh/internal/domain/models"
)

// LockRegistry hands out at most one CaptureLock per scale.
type LockRegistry struct {
	locks sync.Map // scale id -> models.CaptureLock
	now   func() time.Time
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{now: time.Now}
}

// Acquire binds scaleID to sessionID. Re-acquiring by the holder is a no-op;
// any other session gets ErrScaleBusy.
func (r *LockRegistry) Acquire(scaleID int, sessionID string) (models.CaptureLock, error) {
	lock := models.CaptureLock{ScaleID: scaleID, SessionID: sessionID, AcquiredAt: r.now()}
	actual, loaded := r.locks.LoadOrStore(scaleID, lock)
	if !loaded {
		return lock, nil
	}
	held := actual.(models.CaptureLock)
	if held.SessionID == sessionID {
		return held, nil
	}
	return held, fmt.Errorf("scale %d held by session %s: %w", scaleID, held.SessionID, models.ErrScaleBusy)
}

// Release frees the scale if sessionID holds it.
func (r *LockRegistry) Release(scaleID int, sessionID string) bool {
	actual, ok := r.locks.Load(scaleID)
	if !ok || actual.(models.CaptureLock).SessionID != sessionID {
		return false
	}
	return r.locks.CompareAndDelete(scaleID, actual)
}

// Holder returns the lock currently held on scaleID.
func (r *LockRegistry) Holder(scaleID int) (models.CaptureLock, bool) {
	actual, ok := r.locks.Load(scaleID)
	if !ok {
		return models.CaptureLock{}, false
	}
	return actual.(models.CaptureLock), true
}

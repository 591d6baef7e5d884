package statemachine

import (
	"context"
	"sync"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Locker grants exclusive access to a project. Lock fails with a conflict
// error when another writer holds the project.
type Locker interface {
	Lock(ctx context.Context, projectID string) (unlock func(context.Context), err error)
}

// LocalLocker is an in-process Locker.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

var _ Locker = (*LocalLocker)(nil)

// NewLocalLocker creates an in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: map[string]struct{}{}}
}

func (l *LocalLocker) Lock(_ context.Context, projectID string) (func(context.Context), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[projectID]; ok {
		return nil, models.NewLinkageError(models.ErrConflict, "project %s is locked by another operation", projectID)
	}
	l.held[projectID] = struct{}{}
	return func(context.Context) {
		l.mu.Lock()
		delete(l.held, projectID)
		l.mu.Unlock()
	}, nil
}

type heldLocksKey struct{}

// heldLocks returns the project ids locked further up the call chain.
func heldLocks(ctx context.Context) map[string]struct{} {
	held, _ := ctx.Value(heldLocksKey{}).(map[string]struct{})
	return held
}

func withHeldLock(ctx context.Context, projectID string) context.Context {
	parent := heldLocks(ctx)
	held := make(map[string]struct{}, len(parent)+1)
	for id := range parent {
		held[id] = struct{}{}
	}
	held[projectID] = struct{}{}
	return context.WithValue(ctx, heldLocksKey{}, held)
}

// WithProjectLock runs fn while holding the project lock. Nested calls for a
// project already locked by ctx run without locking again.
func (s *Service) WithProjectLock(ctx context.Context, projectID string, fn func(ctx context.Context) error) error {
	if _, ok := heldLocks(ctx)[projectID]; ok {
		return fn(ctx)
	}
	unlock, err := s.locker.Lock(ctx, projectID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("project_id", projectID).Warn("Failed to lock project")
		return err
	}
	defer unlock(context.WithoutCancel(ctx))
	return fn(withHeldLock(ctx, projectID))
}

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const jobLockPrefix = "job:"

// LockService serialises job advancement across concurrent triggers. Every
// acquisition is issued a fresh owner token, so two calls inside the same
// engine conflict exactly like calls from two engines would. One lock row
// per job key; rows carry an expiry so a crashed holder can never block a
// job forever.
type LockService struct {
	repo   Repository
	engine string
	ttl    time.Duration
	logger *slog.Logger
}

func NewLockService(repo Repository, engine string, ttl time.Duration, logger *slog.Logger) *LockService {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &LockService{repo: repo, engine: engine, ttl: ttl, logger: logger}
}

// Engine returns the instance identity prefixed onto lease owner tokens.
func (l *LockService) Engine() string { return l.engine }

// Lease is one held job lock. The holder releases it when its step finishes
// and may extend it for steps that outlive the original TTL.
type Lease struct {
	svc   *LockService
	key   string
	owner string
}

// AcquireJob takes the advancement lock for a job under a new owner token.
// Expired rows are treated as absent and reclaimed; a live lock, whether
// held by another engine or by another call in this process, returns
// ErrLockHeld.
func (l *LockService) AcquireJob(ctx context.Context, jobID string) (*Lease, error) {
	key := jobLockPrefix + jobID
	owner := l.engine + ":" + NewID()
	if err := l.repo.TryAcquireLock(ctx, key, owner, l.ttl, ""); err != nil {
		if err == ErrLockHeld && l.logger != nil {
			l.logger.Debug("job lock held elsewhere", "job_id", jobID)
		}
		return nil, err
	}
	return &Lease{svc: l, key: key, owner: owner}, nil
}

// Release drops the lease. Releasing a lease that expired and was reclaimed
// by another owner is a no-op.
func (le *Lease) Release(ctx context.Context) {
	if err := le.svc.repo.ReleaseLock(ctx, le.key, le.owner); err != nil && le.svc.logger != nil {
		le.svc.logger.Error("failed to release job lock", "key", le.key, "error", err)
	}
}

// Extend refreshes the TTL on the held lock, for steps that outlive the
// original lease. It fails when the lease expired and the row was taken by
// someone else in the meantime.
func (le *Lease) Extend(ctx context.Context) error {
	lock, err := le.svc.repo.GetLock(ctx, le.key)
	if err != nil {
		return err
	}
	if lock == nil || lock.Owner != le.owner {
		return fmt.Errorf("lock %s no longer held by this lease", le.key)
	}
	return le.svc.repo.TryAcquireLock(ctx, le.key, le.owner, le.svc.ttl, lock.Metadata)
}

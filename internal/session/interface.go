package session

import (
	"context"
	"errors"

	"github.com/hibiken/asynq"
)

// ErrRecordNotFound is returned by repositories when no row matches.
var ErrRecordNotFound = errors.New("session record not found")

// Repository persists session records. The postgres implementation lives in
// internal/session/repo.
type Repository interface {
	GetByUsername(ctx context.Context, username string) (*Session, error)
	Upsert(ctx context.Context, s *Session) error
	Delete(ctx context.Context, username string) error
	// DeleteIfSession removes the record only while it still carries
	// sessionID. Returns true when a row was deleted.
	DeleteIfSession(ctx context.Context, username, sessionID string) (bool, error)
	List(ctx context.Context) ([]*Session, error)
	UpdateQuota(ctx context.Context, username string, quotaBytes int64) error
}

// Enqueuer is the slice of the asynq client the manager uses. *asynq.Client
// satisfies it.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

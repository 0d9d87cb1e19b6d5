package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-pg/pg/v10"
	"github.com/redis/go-redis/v9"

	"workbench/internal/adminauth"
	"workbench/internal/session"
)

var _ session.Repository = (*Repository)(nil)
var _ adminauth.AccountStore = (*Repository)(nil)

// Repository stores session records and admin accounts in postgres, with a
// redis read-through cache on the per-request record lookup. Every mutation
// invalidates the cache before returning.
type Repository struct {
	db    *pg.DB
	redis redis.Cmdable
}

func NewRepository(db *pg.DB, redis redis.Cmdable) *Repository {
	return &Repository{
		db:    db,
		redis: redis,
	}
}

func (r *Repository) GetByUsername(ctx context.Context, username string) (*session.Session, error) {
	if r.redis != nil {
		val, err := r.redis.Get(ctx, recordCacheKey(username)).Result()
		if err == nil {
			var cached cacheRecord
			if err := json.Unmarshal([]byte(val), &cached); err == nil {
				return &session.Session{
					Username:    cached.Username,
					ContainerID: cached.ContainerID,
					SessionID:   cached.SessionID,
					Image:       cached.Image,
					QuotaBytes:  cached.QuotaBytes,
					CreatedAt:   cached.CreatedAt,
					UpdatedAt:   cached.UpdatedAt,
				}, nil
			}
		}
	}

	model := &SessionModel{Username: username}
	err := r.db.Model(model).WherePK().Select()
	if err != nil {
		if errors.Is(err, pg.ErrNoRows) {
			return nil, session.ErrRecordNotFound
		}
		return nil, err
	}

	rec := &session.Session{
		Username:    model.Username,
		ContainerID: model.ContainerID,
		SessionID:   model.SessionID,
		Image:       model.Image,
		QuotaBytes:  model.QuotaBytes,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}

	if r.redis != nil {
		cached := &cacheRecord{
			Username:    model.Username,
			ContainerID: model.ContainerID,
			SessionID:   model.SessionID,
			Image:       model.Image,
			QuotaBytes:  model.QuotaBytes,
			CreatedAt:   model.CreatedAt,
			UpdatedAt:   model.UpdatedAt,
		}
		if b, err := json.Marshal(cached); err == nil {
			_ = r.redis.Set(ctx, recordCacheKey(username), b, recordCacheTTL).Err()
		}
	}

	return rec, nil
}

func (r *Repository) Upsert(ctx context.Context, rec *session.Session) error {
	model := &SessionModel{
		Username:    rec.Username,
		ContainerID: rec.ContainerID,
		SessionID:   rec.SessionID,
		Image:       rec.Image,
		QuotaBytes:  rec.QuotaBytes,
		CreatedAt:   rec.CreatedAt,
		UpdatedAt:   rec.UpdatedAt,
	}

	_, err := r.db.Model(model).
		OnConflict("(username) DO UPDATE").
		Set("container_id = EXCLUDED.container_id, session_id = EXCLUDED.session_id, image = EXCLUDED.image, quota_bytes = EXCLUDED.quota_bytes, updated_at = EXCLUDED.updated_at").
		Insert()
	if err != nil {
		return err
	}

	r.invalidate(ctx, rec.Username)
	return nil
}

func (r *Repository) Delete(ctx context.Context, username string) error {
	_, err := r.db.Model(&SessionModel{Username: username}).WherePK().Delete()
	if err != nil {
		return err
	}

	r.invalidate(ctx, username)
	return nil
}

func (r *Repository) DeleteIfSession(ctx context.Context, username, sessionID string) (bool, error) {
	res, err := r.db.Model(&SessionModel{}).
		Where("username = ?", username).
		Where("session_id = ?", sessionID).
		Delete()
	if err != nil {
		return false, err
	}

	r.invalidate(ctx, username)
	return res.RowsAffected() > 0, nil
}

func (r *Repository) List(ctx context.Context) ([]*session.Session, error) {
	var models []SessionModel
	err := r.db.Model(&models).Order("username ASC").Select()
	if err != nil {
		return nil, err
	}

	records := make([]*session.Session, 0, len(models))
	for _, m := range models {
		records = append(records, &session.Session{
			Username:    m.Username,
			ContainerID: m.ContainerID,
			SessionID:   m.SessionID,
			Image:       m.Image,
			QuotaBytes:  m.QuotaBytes,
			CreatedAt:   m.CreatedAt,
			UpdatedAt:   m.UpdatedAt,
		})
	}
	return records, nil
}

func (r *Repository) UpdateQuota(ctx context.Context, username string, quotaBytes int64) error {
	res, err := r.db.Model(&SessionModel{}).
		Set("quota_bytes = ?, updated_at = ?", quotaBytes, time.Now()).
		Where("username = ?", username).
		Update()
	if err != nil {
		return err
	}
	if res.RowsAffected() == 0 {
		return session.ErrRecordNotFound
	}

	r.invalidate(ctx, username)
	return nil
}

func (r *Repository) invalidate(ctx context.Context, username string) {
	if r.redis != nil {
		_ = r.redis.Del(ctx, recordCacheKey(username)).Err()
	}
}

func (r *Repository) GetAccount(ctx context.Context, username string) (*adminauth.Account, error) {
	model := &AdminModel{Username: username}
	err := r.db.Model(model).WherePK().Select()
	if err != nil {
		if errors.Is(err, pg.ErrNoRows) {
			return nil, adminauth.ErrNoAccount
		}
		return nil, err
	}

	return &adminauth.Account{
		Username:       model.Username,
		PasswordHash:   model.PasswordHash,
		FailedAttempts: model.FailedAttempts,
		FirstFailureAt: model.FirstFailureAt,
		LockedUntil:    model.LockedUntil,
	}, nil
}

func (r *Repository) PutAccount(ctx context.Context, account *adminauth.Account) error {
	model := &AdminModel{
		Username:       account.Username,
		PasswordHash:   account.PasswordHash,
		FailedAttempts: account.FailedAttempts,
		FirstFailureAt: account.FirstFailureAt,
		LockedUntil:    account.LockedUntil,
		UpdatedAt:      time.Now(),
	}

	_, err := r.db.Model(model).
		OnConflict("(username) DO UPDATE").
		Set("password_hash = EXCLUDED.password_hash, failed_attempts = EXCLUDED.failed_attempts, first_failure_at = EXCLUDED.first_failure_at, locked_until = EXCLUDED.locked_until, updated_at = EXCLUDED.updated_at").
		Insert()
	return err
}

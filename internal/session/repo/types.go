package repo

import (
	"time"
)

const recordCacheTTL = time.Minute * 5

type SessionModel struct {
	tableName struct{} `pg:"user_sessions"`

	Username    string    `json:"username" pg:"username,pk"`
	ContainerID string    `json:"container_id" pg:"container_id,notnull,use_zero"`
	SessionID   string    `json:"session_id" pg:"session_id,notnull,use_zero"`
	Image       string    `json:"image" pg:"image,notnull,use_zero"`
	QuotaBytes  int64     `json:"quota_bytes" pg:"quota_bytes,notnull,use_zero"`
	CreatedAt   time.Time `json:"created_at" pg:"created_at,notnull"`
	UpdatedAt   time.Time `json:"updated_at" pg:"updated_at,notnull"`
}

type AdminModel struct {
	tableName struct{} `pg:"admin_accounts"`

	Username       string    `json:"username" pg:"username,pk"`
	PasswordHash   string    `json:"password_hash" pg:"password_hash,notnull"`
	FailedAttempts int       `json:"failed_attempts" pg:"failed_attempts,notnull,use_zero"`
	FirstFailureAt time.Time `json:"first_failure_at" pg:"first_failure_at"`
	LockedUntil    time.Time `json:"locked_until" pg:"locked_until"`
	UpdatedAt      time.Time `json:"updated_at" pg:"updated_at,notnull"`
}

type cacheRecord struct {
	Username    string    `json:"username"`
	ContainerID string    `json:"container_id"`
	SessionID   string    `json:"session_id"`
	Image       string    `json:"image"`
	QuotaBytes  int64     `json:"quota_bytes"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func recordCacheKey(username string) string {
	return "session:" + username + ":record"
}

package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Server    ServerConfig
	Redis     RedisConfig
	Postgres  PostgresConfig
	Workspace WorkspaceConfig
	Container ContainerConfig
	Admin     AdminConfig
	Worker    WorkerConfig
	Metrics   MetricsConfig
	Reaper    ReaperConfig
}

type ServerConfig struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	Addr     string
	User     string
	Password string
	Database string
}

type WorkspaceConfig struct {
	Root string
}

type ContainerConfig struct {
	DefaultImage       string
	MemoryMB           int64
	CPU                float64
	StopTimeoutSeconds int
}

type AdminConfig struct {
	Username string
	Password string
	Secret   string
	TokenTTL time.Duration
}

type WorkerConfig struct {
	Concurrency int
}

type MetricsConfig struct {
	Addr string
}

type ReaperConfig struct {
	Interval time.Duration
	MaxAge   time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         getEnv("SERVER_ADDR", ":8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Addr:     getEnv("POSTGRES_ADDR", "localhost:5432"),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "workbench"),
		},
		Workspace: WorkspaceConfig{
			Root: getEnv("WORKSPACE_ROOT", "/var/workbench/workspaces"),
		},
		Container: ContainerConfig{
			DefaultImage:       getEnv("CONTAINER_DEFAULT_IMAGE", "python:3.11-slim"),
			MemoryMB:           int64(getIntEnv("CONTAINER_MEM_MB", 512)),
			CPU:                getFloatEnv("CONTAINER_CPU", 1.0),
			StopTimeoutSeconds: getIntEnv("CONTAINER_STOP_TIMEOUT", 5),
		},
		Admin: AdminConfig{
			Username: getEnv("ADMIN_USERNAME", "admin"),
			Password: getEnv("ADMIN_PASSWORD", ""),
			Secret:   getEnv("ADMIN_TOKEN_SECRET", ""),
			TokenTTL: getDurationEnv("ADMIN_TOKEN_TTL", 8*time.Hour),
		},
		Worker: WorkerConfig{
			Concurrency: getIntEnv("WORKER_CONCURRENCY", 5),
		},
		Metrics: MetricsConfig{
			Addr: getEnv("METRICS_ADDR", ":9090"),
		},
		Reaper: ReaperConfig{
			Interval: getDurationEnv("REAPER_INTERVAL", 5*time.Minute),
			MaxAge:   getDurationEnv("REAPER_MAX_AGE", 10*time.Minute),
		},
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntEnv(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getFloatEnv(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getDurationEnv(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// Package session provides persistent storage for per-conversation
// dialog sessions.
//
// Supported backends:
//   - Memory: for development and testing (default)
//   - Redis: for distributed production deployments
//   - SQL: gorm-backed, for single-database deployments
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/botflow/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("session not found")
	ErrStoreClosed  = errors.New("session store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// Session is the persisted per-conversation state: dialog context,
// session-level history and temp data, plus the two expiry horizons the
// janitor reconciles against.
type Session struct {
	ID    string `json:"id" gorm:"primaryKey;column:id"`
	BotID string `json:"botId" gorm:"column:bot_id;index"`

	Context     *types.DialogContext `json:"context,omitempty" gorm:"serializer:json;column:context"`
	SessionData types.SessionData    `json:"sessionData" gorm:"serializer:json;column:session_data"`
	TempData    map[string]any       `json:"tempData,omitempty" gorm:"serializer:json;column:temp_data"`

	// ContextExpiry marks when the dialog context alone goes stale; the
	// janitor then drives a synthetic timeout event through the engine.
	ContextExpiry *time.Time `json:"contextExpiry,omitempty" gorm:"column:context_expiry;index"`

	// SessionExpiry marks when the whole session is deleted.
	SessionExpiry *time.Time `json:"sessionExpiry,omitempty" gorm:"column:session_expiry;index"`

	CreatedAt  time.Time `json:"createdAt" gorm:"column:created_at"`
	ModifiedAt time.Time `json:"modifiedAt" gorm:"column:modified_at"`
}

// TableName sets the gorm table name for the SQL backend.
func (Session) TableName() string { return "dialog_sessions" }

// NewSession returns an empty session for a conversation.
func NewSession(id, botID string) *Session {
	now := time.Now()
	return &Session{
		ID:         id,
		BotID:      botID,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// Store persists dialog sessions.
type Store interface {
	// Get retrieves a session by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Upsert creates or replaces a session.
	Upsert(ctx context.Context, s *Session) error

	// Delete removes sessions by id. Missing ids are not an error.
	Delete(ctx context.Context, ids ...string) error

	// DeleteExpired removes every session past its SessionExpiry and
	// returns how many were removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)

	// ListStaleContextIDs returns ids of sessions whose context expired
	// before now but whose session itself is still live.
	ListStaleContextIDs(ctx context.Context, now time.Time, limit int) ([]string, error)

	// Close closes the store and releases resources.
	Close() error

	// Ping checks if the store is healthy.
	Ping(ctx context.Context) error
}

// StoreType selects the storage backend.
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
)

// RedisConfig contains Redis-specific configuration.
type RedisConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	Password  string `json:"password" yaml:"password"`
	DB        int    `json:"db" yaml:"db"`
	PoolSize  int    `json:"pool_size" yaml:"pool_size"`
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`
}

// SQLConfig contains SQL-specific configuration.
type SQLConfig struct {
	// DSN is the database connection string. The sqlite driver accepts
	// a plain file path.
	DSN string `json:"dsn" yaml:"dsn"`
}

// StoreConfig is the configuration of a session store.
type StoreConfig struct {
	Type  StoreType   `json:"type" yaml:"type"`
	Redis RedisConfig `json:"redis" yaml:"redis"`
	SQL   SQLConfig   `json:"sql" yaml:"sql"`
}

// DefaultStoreConfig returns the default store configuration.
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: StoreTypeMemory,
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "botflow:",
		},
		SQL: SQLConfig{DSN: "botflow.db"},
	}
}

// NewStore creates a Store based on the configuration.
func NewStore(config StoreConfig) (Store, error) {
	switch config.Type {
	case StoreTypeMemory:
		return NewMemoryStore(), nil
	case StoreTypeRedis:
		return NewRedisStore(config)
	case StoreTypeSQL:
		return NewSQLStore(config)
	default:
		return nil, fmt.Errorf("unsupported session store type: %s", config.Type)
	}
}

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SQLStore is a gorm-backed implementation of Store using the pure-Go
// sqlite driver. Suitable for single-database deployments where Redis
// is not available.
type SQLStore struct {
	db *gorm.DB
}

// NewSQLStore creates a new SQL-backed session store and migrates the
// schema.
func NewSQLStore(config StoreConfig) (*SQLStore, error) {
	db, err := gorm.Open(sqlite.Open(config.SQL.DSN), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	if err := db.AutoMigrate(&Session{}); err != nil {
		return nil, fmt.Errorf("failed to migrate session schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Get implements Store.
func (s *SQLStore) Get(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.WithContext(ctx).First(&sess, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Upsert implements Store.
func (s *SQLStore) Upsert(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return ErrInvalidInput
	}
	sess.ModifiedAt = time.Now()
	return s.db.WithContext(ctx).Save(sess).Error
}

// Delete implements Store.
func (s *SQLStore) Delete(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Delete(&Session{}, "id IN ?", ids).Error
}

// DeleteExpired implements Store.
func (s *SQLStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res := s.db.WithContext(ctx).
		Where("session_expiry IS NOT NULL AND session_expiry < ?", now).
		Delete(&Session{})
	return int(res.RowsAffected), res.Error
}

// ListStaleContextIDs implements Store.
func (s *SQLStore) ListStaleContextIDs(ctx context.Context, now time.Time, limit int) ([]string, error) {
	var ids []string
	q := s.db.WithContext(ctx).Model(&Session{}).
		Where("context_expiry IS NOT NULL AND context_expiry < ?", now).
		Where("session_expiry IS NULL OR session_expiry >= ?", now).
		Order("context_expiry ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Pluck("id", &ids).Error
	return ids, err
}

// Close implements Store.
func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping implements Store.
func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Ensure SQLStore implements Store
var _ Store = (*SQLStore)(nil)

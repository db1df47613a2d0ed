// Package cache decorates a version store with a redis read-through
// cache. Version records are immutable once written, which makes them
// ideal cache entries; the head pointer and the archived flag do
// change, so writes invalidate the affected keys on commit.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"prompt-versioning/internal/common/logger"
	"prompt-versioning/internal/models"
	"prompt-versioning/internal/version"
)

type Store struct {
	inner  version.Store
	rdb    *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func New(inner version.Store, rdb *redis.Client, ttl time.Duration, log logger.Logger) *Store {
	return &Store{
		inner:  inner,
		rdb:    rdb,
		ttl:    ttl,
		logger: log.WithFields(map[string]interface{}{"component": "version-cache"}),
	}
}

func headKey(templateID string) string { return "tpl:head:" + templateID }

func versionKey(templateID string, n int) string {
	return fmt.Sprintf("tpl:ver:%s:%d", templateID, n)
}

func (s *Store) ReadTemplate(ctx context.Context, templateID string) (*models.Template, error) {
	return s.inner.ReadTemplate(ctx, templateID)
}

func (s *Store) ReadHead(ctx context.Context, templateID string) (int, error) {
	if val, err := s.rdb.Get(ctx, headKey(templateID)).Result(); err == nil {
		if head, convErr := strconv.Atoi(val); convErr == nil {
			return head, nil
		}
	}
	head, err := s.inner.ReadHead(ctx, templateID)
	if err != nil {
		return 0, err
	}
	if err := s.rdb.Set(ctx, headKey(templateID), strconv.Itoa(head), s.ttl).Err(); err != nil {
		s.logger.Debug("head cache write failed", map[string]interface{}{
			"templateId": templateID, "error": err.Error(),
		})
	}
	return head, nil
}

func (s *Store) ReadVersion(ctx context.Context, templateID string, versionNumber int) (*models.Version, error) {
	key := versionKey(templateID, versionNumber)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var v models.Version
		if jsonErr := json.Unmarshal(data, &v); jsonErr == nil {
			return &v, nil
		}
	}
	v, err := s.inner.ReadVersion(ctx, templateID, versionNumber)
	if err != nil {
		return nil, err
	}
	if data, jsonErr := json.Marshal(v); jsonErr == nil {
		if err := s.rdb.Set(ctx, key, data, s.ttl).Err(); err != nil {
			s.logger.Debug("version cache write failed", map[string]interface{}{
				"templateId": templateID, "version": versionNumber, "error": err.Error(),
			})
		}
	}
	return v, nil
}

// ReadHistoryPage always goes to the store: pages shift with every
// append and archive, caching them would serve stale listings.
func (s *Store) ReadHistoryPage(ctx context.Context, templateID string, page models.HistoryPage) ([]*models.Version, error) {
	return s.inner.ReadHistoryPage(ctx, templateID, page)
}

func (s *Store) ListTemplateIDs(ctx context.Context) ([]string, error) {
	return s.inner.ListTemplateIDs(ctx)
}

func (s *Store) BeginTx(ctx context.Context) (version.Tx, error) {
	inner, err := s.inner.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &cacheTx{inner: inner, store: s}, nil
}

type cacheTx struct {
	inner     version.Tx
	store     *Store
	staleKeys []string
}

func (t *cacheTx) ReadHead(ctx context.Context, templateID string) (int, error) {
	// transactional reads must see the store, never the cache
	return t.inner.ReadHead(ctx, templateID)
}

func (t *cacheTx) ReadVersion(ctx context.Context, templateID string, versionNumber int) (*models.Version, error) {
	return t.inner.ReadVersion(ctx, templateID, versionNumber)
}

func (t *cacheTx) AppendVersion(ctx context.Context, tpl *models.Template, v *models.Version) error {
	if err := t.inner.AppendVersion(ctx, tpl, v); err != nil {
		return err
	}
	t.staleKeys = append(t.staleKeys, headKey(v.TemplateID))
	return nil
}

func (t *cacheTx) MarkArchived(ctx context.Context, templateID string, versionNumbers []int) (int, error) {
	n, err := t.inner.MarkArchived(ctx, templateID, versionNumbers)
	if err != nil {
		return 0, err
	}
	t.markVersionsStale(templateID, versionNumbers)
	return n, nil
}

func (t *cacheTx) DeleteVersions(ctx context.Context, templateID string, versionNumbers []int) (int, error) {
	n, err := t.inner.DeleteVersions(ctx, templateID, versionNumbers)
	if err != nil {
		return 0, err
	}
	t.markVersionsStale(templateID, versionNumbers)
	return n, nil
}

func (t *cacheTx) markVersionsStale(templateID string, versionNumbers []int) {
	for _, n := range versionNumbers {
		t.staleKeys = append(t.staleKeys, versionKey(templateID, n))
	}
}

func (t *cacheTx) Commit() error {
	if err := t.inner.Commit(); err != nil {
		return err
	}
	if len(t.staleKeys) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := t.store.rdb.Del(ctx, t.staleKeys...).Err(); err != nil {
			t.store.logger.Warn("cache invalidation failed", map[string]interface{}{
				"keys": len(t.staleKeys), "error": err.Error(),
			})
		}
	}
	return nil
}

func (t *cacheTx) Rollback() error {
	return t.inner.Rollback()
}

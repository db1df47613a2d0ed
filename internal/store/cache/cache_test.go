package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	stderrors "prompt-versioning/internal/common/errors"
	"prompt-versioning/internal/common/logger"
	"prompt-versioning/internal/content"
	"prompt-versioning/internal/models"
	"prompt-versioning/internal/version"
)

// countingStore serves fixed data and counts how often each read
// reaches it, so the tests can tell cache hits from misses.
type countingStore struct {
	head         int
	version      *models.Version
	headReads    int
	versionReads int
	txHeadReads  int
}

func (s *countingStore) ReadTemplate(ctx context.Context, templateID string) (*models.Template, error) {
	return &models.Template{TemplateID: templateID, HeadVersion: s.head}, nil
}

func (s *countingStore) ReadHead(ctx context.Context, templateID string) (int, error) {
	s.headReads++
	return s.head, nil
}

func (s *countingStore) ReadVersion(ctx context.Context, templateID string, versionNumber int) (*models.Version, error) {
	s.versionReads++
	if s.version == nil || s.version.VersionNumber != versionNumber {
		return nil, stderrors.NewVersionNotFoundError(templateID, versionNumber)
	}
	return s.version, nil
}

func (s *countingStore) ReadHistoryPage(ctx context.Context, templateID string, page models.HistoryPage) ([]*models.Version, error) {
	return nil, nil
}

func (s *countingStore) ListTemplateIDs(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *countingStore) BeginTx(ctx context.Context) (version.Tx, error) {
	return &countingTx{s: s}, nil
}

type countingTx struct {
	s *countingStore
}

func (t *countingTx) ReadHead(ctx context.Context, templateID string) (int, error) {
	t.s.txHeadReads++
	return t.s.head, nil
}

func (t *countingTx) ReadVersion(ctx context.Context, templateID string, versionNumber int) (*models.Version, error) {
	return t.s.ReadVersion(ctx, templateID, versionNumber)
}

func (t *countingTx) AppendVersion(ctx context.Context, tpl *models.Template, v *models.Version) error {
	t.s.head = v.VersionNumber
	return nil
}

func (t *countingTx) MarkArchived(ctx context.Context, templateID string, versionNumbers []int) (int, error) {
	return len(versionNumbers), nil
}

func (t *countingTx) DeleteVersions(ctx context.Context, templateID string, versionNumbers []int) (int, error) {
	return len(versionNumbers), nil
}

func (t *countingTx) Commit() error   { return nil }
func (t *countingTx) Rollback() error { return nil }

func sampleVersion() *models.Version {
	return &models.Version{
		VersionID:     "ver-2",
		TemplateID:    "tpl-1",
		VersionNumber: 2,
		ParentVersion: 1,
		Content:       content.Object{"system": content.String("hello")},
		Author:        "alice",
		ContentHash:   "hash-abc",
		CreatedAt:     time.Now().UTC().Truncate(time.Second),
	}
}

func newTestCache(t *testing.T, inner version.Store) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return New(inner, rdb, 5*time.Minute, logger.NewTestLogger(t)), mr
}

func TestCache_ReadVersion_ReadThrough(t *testing.T) {
	inner := &countingStore{head: 2, version: sampleVersion()}
	c, mr := newTestCache(t, inner)
	ctx := context.Background()

	v, err := c.ReadVersion(ctx, "tpl-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.versionReads)
	assert.True(t, mr.Exists("tpl:ver:tpl-1:2"))

	// second read is served from redis
	v2, err := c.ReadVersion(ctx, "tpl-1", 2)
	require.NoError(t, err)
	assert.Equal(t, 1, inner.versionReads)

	assert.Equal(t, v.VersionID, v2.VersionID)
	assert.Equal(t, v.ContentHash, v2.ContentHash)
	assert.True(t, content.Equal(v.Content, v2.Content))
	assert.True(t, v.CreatedAt.Equal(v2.CreatedAt))
}

func TestCache_ReadVersion_NotFoundIsNotCached(t *testing.T) {
	inner := &countingStore{head: 2, version: sampleVersion()}
	c, mr := newTestCache(t, inner)

	_, err := c.ReadVersion(context.Background(), "tpl-1", 9)
	assert.True(t, stderrors.HasCode(err, stderrors.ErrCodeVersionNotFound))
	assert.False(t, mr.Exists("tpl:ver:tpl-1:9"))
}

func TestCache_ReadHead_ReadThrough(t *testing.T) {
	inner := &countingStore{head: 4}
	c, mr := newTestCache(t, inner)
	ctx := context.Background()

	head, err := c.ReadHead(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, 4, head)
	assert.Equal(t, 1, inner.headReads)

	head, err = c.ReadHead(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, 4, head)
	assert.Equal(t, 1, inner.headReads)

	ttl := mr.TTL("tpl:head:tpl-1")
	assert.Equal(t, 5*time.Minute, ttl)
}

func TestCache_EntriesExpire(t *testing.T) {
	inner := &countingStore{head: 4}
	c, mr := newTestCache(t, inner)
	ctx := context.Background()

	_, err := c.ReadHead(ctx, "tpl-1")
	require.NoError(t, err)

	mr.FastForward(6 * time.Minute)

	_, err = c.ReadHead(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.headReads)
}

func TestCache_TxReadsBypassCache(t *testing.T) {
	inner := &countingStore{head: 4}
	c, _ := newTestCache(t, inner)
	ctx := context.Background()

	// warm the head cache
	_, err := c.ReadHead(ctx, "tpl-1")
	require.NoError(t, err)

	tx, err := c.BeginTx(ctx)
	require.NoError(t, err)
	defer tx.Rollback()

	head, err := tx.ReadHead(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, 4, head)
	assert.Equal(t, 1, inner.txHeadReads)
}

func TestCache_AppendInvalidatesHeadOnCommit(t *testing.T) {
	inner := &countingStore{head: 4, version: sampleVersion()}
	c, mr := newTestCache(t, inner)
	ctx := context.Background()

	_, err := c.ReadHead(ctx, "tpl-1")
	require.NoError(t, err)
	require.True(t, mr.Exists("tpl:head:tpl-1"))

	tx, err := c.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AppendVersion(ctx, &models.Template{TemplateID: "tpl-1", HeadVersion: 5},
		&models.Version{TemplateID: "tpl-1", VersionNumber: 5, ParentVersion: 4}))
	require.NoError(t, tx.Commit())

	assert.False(t, mr.Exists("tpl:head:tpl-1"))

	head, err := c.ReadHead(ctx, "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, 5, head)
}

func TestCache_RollbackKeepsCache(t *testing.T) {
	inner := &countingStore{head: 4}
	c, mr := newTestCache(t, inner)
	ctx := context.Background()

	_, err := c.ReadHead(ctx, "tpl-1")
	require.NoError(t, err)

	tx, err := c.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AppendVersion(ctx, &models.Template{TemplateID: "tpl-1", HeadVersion: 5},
		&models.Version{TemplateID: "tpl-1", VersionNumber: 5, ParentVersion: 4}))
	require.NoError(t, tx.Rollback())

	assert.True(t, mr.Exists("tpl:head:tpl-1"))
}

func TestCache_ArchiveAndDeleteInvalidateVersions(t *testing.T) {
	inner := &countingStore{head: 2, version: sampleVersion()}
	c, mr := newTestCache(t, inner)
	ctx := context.Background()

	_, err := c.ReadVersion(ctx, "tpl-1", 2)
	require.NoError(t, err)
	require.True(t, mr.Exists("tpl:ver:tpl-1:2"))

	tx, err := c.BeginTx(ctx)
	require.NoError(t, err)
	n, err := tx.MarkArchived(ctx, "tpl-1", []int{2})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, tx.Commit())

	assert.False(t, mr.Exists("tpl:ver:tpl-1:2"))
}

func TestCache_CommitDeletesExactKeys(t *testing.T) {
	inner := &countingStore{head: 4, version: sampleVersion()}
	rdb, mock := redismock.NewClientMock()
	c := New(inner, rdb, time.Minute, logger.NewTestLogger(t))
	ctx := context.Background()

	mock.ExpectDel("tpl:head:tpl-1", "tpl:ver:tpl-1:2", "tpl:ver:tpl-1:3").SetVal(3)

	tx, err := c.BeginTx(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AppendVersion(ctx, &models.Template{TemplateID: "tpl-1", HeadVersion: 5},
		&models.Version{TemplateID: "tpl-1", VersionNumber: 5, ParentVersion: 4}))
	_, err = tx.MarkArchived(ctx, "tpl-1", []int{2, 3})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCache_RedisDownFallsThrough(t *testing.T) {
	inner := &countingStore{head: 2, version: sampleVersion()}
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	c := New(inner, rdb, time.Minute, logger.NewTestLogger(t))
	mr.Close()

	v, err := c.ReadVersion(context.Background(), "tpl-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "ver-2", v.VersionID)

	head, err := c.ReadHead(context.Background(), "tpl-1")
	require.NoError(t, err)
	assert.Equal(t, 2, head)
}

package version

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	stderrors "prompt-versioning/internal/common/errors"
	"prompt-versioning/internal/common/logger"
	"prompt-versioning/internal/common/metrics"
	"prompt-versioning/internal/content"
	"prompt-versioning/internal/diff"
	"prompt-versioning/internal/merge"
	"prompt-versioning/internal/models"
)

// CreateRequest carries everything needed to append a version.
type CreateRequest struct {
	TemplateID string
	// Category and Key seed the template record on the first version
	// and are ignored afterwards (a template's category never changes).
	Category   string
	Key        string
	Content    content.Value
	Author     string
	ChangeNote string
	// ExpectedHead, when set, is the caller's optimistic-concurrency
	// check: the append fails with CONCURRENT_MODIFICATION if the head
	// moved past it. When nil the head is re-derived transactionally.
	ExpectedHead *int
}

// Comparison is the result of comparing two versions.
type Comparison struct {
	Changes   diff.Changes
	Identical bool
}

// MergeOutcome is the result of merging two versions. Version is set
// only when the merge was conflict-free and a new head was persisted.
type MergeOutcome struct {
	Result  merge.Result
	Version *models.Version
}

// Manager orchestrates version creation, retrieval, rollback,
// comparison, merge and retention. It holds no in-process locks; all
// write paths run inside a single store transaction.
type Manager struct {
	store     Store
	engine    *diff.Engine
	resolver  *merge.Resolver
	validator ContentValidator
	indexer   Indexer // optional
	sweeper   *Sweeper
	logger    logger.Logger
	now       func() time.Time
}

// NewManager wires the engine together. indexer may be nil.
func NewManager(store Store, engine *diff.Engine, validator ContentValidator, indexer Indexer, log logger.Logger) *Manager {
	m := &Manager{
		store:     store,
		engine:    engine,
		resolver:  merge.NewResolver(engine),
		validator: validator,
		indexer:   indexer,
		logger:    log.WithFields(map[string]interface{}{"component": "version-manager"}),
		now:       time.Now,
	}
	m.sweeper = NewSweeper(store, log)
	return m
}

// CreateVersion validates the content, computes the delta against the
// current head and appends an immutable version with the next dense
// version number. A concurrent writer that advanced the head first
// loses with CONCURRENT_MODIFICATION and must retry on a re-read head.
func (m *Manager) CreateVersion(ctx context.Context, req CreateRequest) (*models.Version, error) {
	return m.createVersion(ctx, req, "create")
}

func (m *Manager) createVersion(ctx context.Context, req CreateRequest, origin string) (*models.Version, error) {
	start := m.now()
	v, err := m.createVersionTx(ctx, req, origin)
	status := "ok"
	if err != nil {
		status = string(stderrors.CodeOf(err))
	}
	metrics.VersionOperations.WithLabelValues("create_version", status).Inc()
	metrics.VersionOperationDuration.WithLabelValues("create_version").Observe(m.now().Sub(start).Seconds())
	if err != nil {
		return nil, err
	}
	metrics.VersionsCreated.WithLabelValues(origin).Inc()

	if m.indexer != nil {
		if ixErr := m.indexer.IndexVersion(ctx, v); ixErr != nil {
			m.logger.Warn("history index write failed", map[string]interface{}{
				"templateId": v.TemplateID,
				"version":    v.VersionNumber,
				"error":      ixErr.Error(),
			})
		}
	}
	return v, nil
}

func (m *Manager) createVersionTx(ctx context.Context, req CreateRequest, origin string) (*models.Version, error) {
	category := req.Category
	tpl, err := m.store.ReadTemplate(ctx, req.TemplateID)
	if err != nil && !stderrors.HasCode(err, stderrors.ErrCodeTemplateNotFound) {
		return nil, err
	}
	if tpl != nil {
		category = tpl.Category
	}

	if err := m.validator.Validate(category, req.Content); err != nil {
		return nil, stderrors.NewInvalidContentError(err)
	}

	tx, err := m.store.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	head, err := tx.ReadHead(ctx, req.TemplateID)
	if err != nil {
		return nil, err
	}
	if req.ExpectedHead != nil && *req.ExpectedHead != head {
		return nil, stderrors.NewConcurrentModificationError(req.TemplateID, *req.ExpectedHead)
	}

	var parentContent content.Value
	if head > 0 {
		parent, err := tx.ReadVersion(ctx, req.TemplateID, head)
		if err != nil {
			return nil, err
		}
		parentContent = parent.Content
	}

	delta := m.engine.Diff(parentContent, req.Content)
	if err := m.verifyRoundTrip(parentContent, delta, req.Content); err != nil {
		return nil, err
	}

	hash, err := content.Hash(req.Content)
	if err != nil {
		return nil, stderrors.NewInternalInvariantViolationError("content hash", err)
	}

	now := m.now().UTC()
	v := &models.Version{
		VersionID:     uuid.NewString(),
		TemplateID:    req.TemplateID,
		VersionNumber: head + 1,
		ParentVersion: head,
		Content:       content.Clone(req.Content),
		Delta:         delta,
		Author:        req.Author,
		ChangeNote:    req.ChangeNote,
		ContentHash:   hash,
		CreatedAt:     now,
	}

	if tpl == nil {
		tpl = &models.Template{
			TemplateID: req.TemplateID,
			Category:   category,
			Key:        req.Key,
			CreatedAt:  now,
		}
	}
	tpl.HeadVersion = v.VersionNumber
	tpl.UpdatedAt = now

	if err := tx.AppendVersion(ctx, tpl, v); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}

	m.logger.Info("version created", map[string]interface{}{
		"templateId": v.TemplateID,
		"version":    v.VersionNumber,
		"origin":     origin,
		"author":     v.Author,
		"changes":    len(delta),
	})
	return v, nil
}

// verifyRoundTrip checks the delta reproduces the target content.
// A mismatch means the diff engine produced a corrupt delta; storing it
// would poison later reconstruction, so fail loudly instead.
func (m *Manager) verifyRoundTrip(base content.Value, delta diff.Changes, want content.Value) error {
	got, err := diff.Apply(base, delta)
	if err != nil {
		return stderrors.NewInternalInvariantViolationError("diff round-trip apply", err)
	}
	if !content.Equal(got, want) {
		return stderrors.NewInternalInvariantViolationError("diff round-trip mismatch", nil)
	}
	return nil
}

// GetVersionHistory returns a page of versions, newest first. Entries
// beyond the requested page are never materialized.
func (m *Manager) GetVersionHistory(ctx context.Context, templateID string, page models.HistoryPage) ([]*models.Version, error) {
	if _, err := m.store.ReadTemplate(ctx, templateID); err != nil {
		return nil, err
	}
	return m.store.ReadHistoryPage(ctx, templateID, page)
}

// GetVersion returns one version of a template.
func (m *Manager) GetVersion(ctx context.Context, templateID string, versionNumber int) (*models.Version, error) {
	return m.store.ReadVersion(ctx, templateID, versionNumber)
}

// GetLatestVersion returns the current head version.
func (m *Manager) GetLatestVersion(ctx context.Context, templateID string) (*models.Version, error) {
	head, err := m.store.ReadHead(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if head == 0 {
		return nil, stderrors.NewVersionNotFoundError(templateID, 0)
	}
	return m.store.ReadVersion(ctx, templateID, head)
}

// CalculateDiff returns the delta from one version to another. Adjacent
// versions reuse the stored delta; longer forward spans replay the
// stored deltas along the chain, verifying each reconstruction hash.
// Reads stay within [from, to].
func (m *Manager) CalculateDiff(ctx context.Context, templateID string, from, to int) (diff.Changes, error) {
	if from == to {
		return diff.Changes{}, nil
	}
	vFrom, err := m.store.ReadVersion(ctx, templateID, from)
	if err != nil {
		return nil, err
	}
	if to == from+1 {
		vTo, err := m.store.ReadVersion(ctx, templateID, to)
		if err != nil {
			return nil, err
		}
		return vTo.Delta, nil
	}
	if to < from {
		vTo, err := m.store.ReadVersion(ctx, templateID, to)
		if err != nil {
			return nil, err
		}
		return m.engine.Diff(vFrom.Content, vTo.Content), nil
	}

	cur := vFrom.Content
	for n := from + 1; n <= to; n++ {
		vn, err := m.store.ReadVersion(ctx, templateID, n)
		if err != nil {
			return nil, err
		}
		cur, err = diff.Apply(cur, vn.Delta)
		if err != nil {
			return nil, stderrors.NewInternalInvariantViolationError(
				fmt.Sprintf("delta chain apply at version %d", n), err)
		}
		hash, err := content.Hash(cur)
		if err != nil {
			return nil, stderrors.NewInternalInvariantViolationError("content hash", err)
		}
		if hash != vn.ContentHash {
			return nil, stderrors.NewInternalInvariantViolationError(
				fmt.Sprintf("reconstructed content hash mismatch at version %d", n), nil)
		}
	}
	return m.engine.Diff(vFrom.Content, cur), nil
}

// CompareVersions is the symmetric wrapper over CalculateDiff; two
// versions are identical iff their content hashes match.
func (m *Manager) CompareVersions(ctx context.Context, templateID string, a, b int) (*Comparison, error) {
	va, err := m.store.ReadVersion(ctx, templateID, a)
	if err != nil {
		return nil, err
	}
	vb, err := m.store.ReadVersion(ctx, templateID, b)
	if err != nil {
		return nil, err
	}
	if va.ContentHash == vb.ContentHash {
		return &Comparison{Changes: diff.Changes{}, Identical: true}, nil
	}
	changes, err := m.CalculateDiff(ctx, templateID, a, b)
	if err != nil {
		return nil, err
	}
	return &Comparison{Changes: changes, Identical: false}, nil
}

// RollbackToVersion restores a prior version's content by appending a
// new head with that content. History is never truncated or rewritten.
// The head is captured alongside the target read; a writer that
// advances it before the append fails the persist with
// CONCURRENT_MODIFICATION instead of being silently overwritten.
func (m *Manager) RollbackToVersion(ctx context.Context, templateID string, target int, author string) (*models.Version, error) {
	head, err := m.store.ReadHead(ctx, templateID)
	if err != nil {
		return nil, err
	}
	vt, err := m.store.ReadVersion(ctx, templateID, target)
	if err != nil {
		return nil, err
	}
	return m.createVersion(ctx, CreateRequest{
		TemplateID:   templateID,
		Content:      vt.Content,
		Author:       author,
		ChangeNote:   fmt.Sprintf("rollback to version %d", target),
		ExpectedHead: &head,
	}, "rollback")
}

// MergeVersions reconciles two versions of the same template against
// their common ancestor. base names the ancestor version; 0 means the
// smaller of a and b (the nearest common ancestor in a linear history).
// A conflict-free merge is persisted as a new head; a conflicted one is
// returned for external resolution and persists nothing. The head is
// captured alongside the input reads, so a version appended while the
// merge resolves fails the persist with CONCURRENT_MODIFICATION rather
// than being dropped from the merged head.
func (m *Manager) MergeVersions(ctx context.Context, templateID string, base, a, b int, author string) (*MergeOutcome, error) {
	head, err := m.store.ReadHead(ctx, templateID)
	if err != nil {
		return nil, err
	}
	va, err := m.store.ReadVersion(ctx, templateID, a)
	if err != nil {
		return nil, err
	}
	vb, err := m.store.ReadVersion(ctx, templateID, b)
	if err != nil {
		return nil, err
	}

	baseContent := va.Content
	if vb.VersionNumber < va.VersionNumber {
		baseContent = vb.Content
	}
	if base > 0 {
		vBase, err := m.store.ReadVersion(ctx, templateID, base)
		if err != nil {
			return nil, err
		}
		baseContent = vBase.Content
	}

	res, err := m.resolver.Merge(baseContent, va.Content, vb.Content)
	if err != nil {
		return nil, stderrors.NewInternalInvariantViolationError("three-way merge", err)
	}
	if !res.Merged() {
		metrics.MergeConflicts.Add(float64(len(res.Conflicts)))
		m.logger.Info("merge conflicted", map[string]interface{}{
			"templateId": templateID,
			"versionA":   a,
			"versionB":   b,
			"conflicts":  len(res.Conflicts),
		})
		return &MergeOutcome{Result: res}, nil
	}

	v, err := m.createVersion(ctx, CreateRequest{
		TemplateID:   templateID,
		Content:      res.Content,
		Author:       author,
		ChangeNote:   fmt.Sprintf("merge of versions %d and %d", a, b),
		ExpectedHead: &head,
	}, "merge")
	if err != nil {
		return nil, err
	}
	return &MergeOutcome{Result: res, Version: v}, nil
}

// CleanupOldVersions applies the retention policy to a template's
// history. Version 1 and the head always survive.
func (m *Manager) CleanupOldVersions(ctx context.Context, templateID string, policy models.RetentionPolicy) (int, error) {
	return m.sweeper.Cleanup(ctx, templateID, policy)
}

// ArchiveOldVersions is the archive-only retention entry point.
func (m *Manager) ArchiveOldVersions(ctx context.Context, templateID string, policy models.RetentionPolicy) (int, error) {
	return m.sweeper.ArchiveOld(ctx, templateID, policy)
}

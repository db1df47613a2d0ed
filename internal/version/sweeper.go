package version

import (
	"context"
	"sort"
	"time"

	"prompt-versioning/internal/common/logger"
	"prompt-versioning/internal/common/metrics"
	"prompt-versioning/internal/models"
)

const sweepPageSize = 200

// Sweeper reclaims or archives old version records per policy. It runs
// only when invoked; scheduling belongs to the caller.
type Sweeper struct {
	store  Store
	logger logger.Logger
	now    func() time.Time
}

func NewSweeper(store Store, log logger.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		logger: log.WithFields(map[string]interface{}{"component": "retention-sweeper"}),
		now:    time.Now,
	}
}

// Cleanup applies the policy to one template's history and returns the
// number of versions affected. Version 1 and the current head are
// always preserved. When both bounds are configured, age-based archive
// wins over count-based delete: archive is reversible.
func (s *Sweeper) Cleanup(ctx context.Context, templateID string, policy models.RetentionPolicy) (int, error) {
	if policy.MaxAge > 0 {
		return s.sweep(ctx, templateID, policy, true)
	}
	if policy.MaxVersionsKept > 0 {
		return s.sweep(ctx, templateID, policy, false)
	}
	return 0, nil
}

// ArchiveOld forces archive-only semantics regardless of policy shape.
func (s *Sweeper) ArchiveOld(ctx context.Context, templateID string, policy models.RetentionPolicy) (int, error) {
	if policy.MaxAge == 0 && policy.MaxVersionsKept == 0 {
		return 0, nil
	}
	return s.sweep(ctx, templateID, policy, true)
}

func (s *Sweeper) sweep(ctx context.Context, templateID string, policy models.RetentionPolicy, archive bool) (int, error) {
	head, err := s.store.ReadHead(ctx, templateID)
	if err != nil {
		return 0, err
	}
	if head == 0 {
		// empty history: nothing to reclaim
		return 0, nil
	}

	history, err := s.loadFullHistory(ctx, templateID)
	if err != nil {
		return 0, err
	}

	candidates := s.selectCandidates(history, head, policy, archive)
	if len(candidates) == 0 {
		return 0, nil
	}

	tx, err := s.store.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var affected int
	action := "deleted"
	if archive {
		action = "archived"
		affected, err = tx.MarkArchived(ctx, templateID, candidates)
	} else {
		affected, err = tx.DeleteVersions(ctx, templateID, candidates)
	}
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}

	metrics.RetentionVersionsAffected.WithLabelValues(action).Add(float64(affected))
	s.logger.Info("retention sweep completed", map[string]interface{}{
		"templateId": templateID,
		"action":     action,
		"affected":   affected,
	})
	return affected, nil
}

// selectCandidates picks version numbers the policy allows touching,
// oldest first. Never includes version 1 or the head.
func (s *Sweeper) selectCandidates(history []*models.Version, head int, policy models.RetentionPolicy, archive bool) []int {
	// oldest first
	sort.Slice(history, func(i, j int) bool {
		return history[i].VersionNumber < history[j].VersionNumber
	})

	protected := func(v *models.Version) bool {
		return v.VersionNumber == 1 || v.VersionNumber == head
	}

	var candidates []int
	if policy.MaxAge > 0 {
		cutoff := s.now().UTC().Add(-policy.MaxAge)
		for _, v := range history {
			if protected(v) || (archive && v.Archived) {
				continue
			}
			if v.CreatedAt.Before(cutoff) {
				candidates = append(candidates, v.VersionNumber)
			}
		}
		return candidates
	}

	// count bound: keep the newest MaxVersionsKept entries
	keep := make(map[int]bool, policy.MaxVersionsKept)
	for i := len(history) - 1; i >= 0 && len(keep) < policy.MaxVersionsKept; i-- {
		keep[history[i].VersionNumber] = true
	}
	for _, v := range history {
		if protected(v) || keep[v.VersionNumber] || (archive && v.Archived) {
			continue
		}
		candidates = append(candidates, v.VersionNumber)
	}
	return candidates
}

func (s *Sweeper) loadFullHistory(ctx context.Context, templateID string) ([]*models.Version, error) {
	var history []*models.Version
	offset := 0
	for {
		page, err := s.store.ReadHistoryPage(ctx, templateID, models.HistoryPage{
			Offset:          offset,
			Limit:           sweepPageSize,
			IncludeArchived: true,
		})
		if err != nil {
			return nil, err
		}
		history = append(history, page...)
		if len(page) < sweepPageSize {
			return history, nil
		}
		offset += len(page)
	}
}

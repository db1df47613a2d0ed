// Package version orchestrates the template version lifecycle:
// appending immutable versions, reading history, diffing, rollback,
// three-way merge and retention sweeps. Persistence is behind the
// narrow Store contract; the engine owns no connection plumbing.
package version

import (
	"context"

	"prompt-versioning/internal/content"
	"prompt-versioning/internal/models"
)

// Store is the persistence contract the engine consumes. Point reads
// and history pages run outside transactions; every multi-step write
// goes through a Tx so the head read and the version append are atomic.
//
// Adapters translate their failures into the engine taxonomy:
// missing rows become TEMPLATE_NOT_FOUND / VERSION_NOT_FOUND, transport
// failures and timeouts become STORE_UNAVAILABLE (never a hang), and a
// lost head race in AppendVersion becomes CONCURRENT_MODIFICATION.
type Store interface {
	BeginTx(ctx context.Context) (Tx, error)
	ReadTemplate(ctx context.Context, templateID string) (*models.Template, error)
	// ReadHead returns the current head version number, 0 when the
	// template has no versions yet.
	ReadHead(ctx context.Context, templateID string) (int, error)
	ReadVersion(ctx context.Context, templateID string, versionNumber int) (*models.Version, error)
	// ReadHistoryPage returns versions newest-first. Archived versions
	// are excluded unless the page asks for them.
	ReadHistoryPage(ctx context.Context, templateID string, page models.HistoryPage) ([]*models.Version, error)
	// ListTemplateIDs returns the ids of all known templates. Retention
	// sweeps iterate this.
	ListTemplateIDs(ctx context.Context) ([]string, error)
}

// Tx is one store transaction. Implementations must provide snapshot
// or serializable isolation: two concurrent AppendVersion calls for the
// same template never both succeed with the same version number.
type Tx interface {
	ReadHead(ctx context.Context, templateID string) (int, error)
	ReadVersion(ctx context.Context, templateID string, versionNumber int) (*models.Version, error)
	// AppendVersion records v and advances the template head from
	// v.VersionNumber-1 to v.VersionNumber, creating the template row
	// on the first version. A concurrent writer that advanced the head
	// first surfaces as CONCURRENT_MODIFICATION.
	AppendVersion(ctx context.Context, tpl *models.Template, v *models.Version) error
	// MarkArchived flags the versions as archived (readable, excluded
	// from default history listings) and returns how many changed.
	MarkArchived(ctx context.Context, templateID string, versionNumbers []int) (int, error)
	// DeleteVersions hard-deletes the versions and returns how many
	// rows went away.
	DeleteVersions(ctx context.Context, templateID string, versionNumbers []int) (int, error)
	Commit() error
	Rollback() error
}

// ContentValidator is the content schema collaborator: it accepts or
// rejects submitted content for a template category.
type ContentValidator interface {
	Validate(category string, c content.Value) error
}

// Indexer mirrors appended versions into a secondary index for history
// search. Indexing is best-effort and happens after commit; a failed
// index write never fails the version append.
type Indexer interface {
	IndexVersion(ctx context.Context, v *models.Version) error
}

// Package postgres implements the version store contract on PostgreSQL.
// Layout: a templates table carrying the head pointer and a
// template_versions table holding immutable version rows with content
// and delta as jsonb. Appends run in serializable transactions; head
// races surface as CONCURRENT_MODIFICATION.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/lib/pq"

	stderrors "prompt-versioning/internal/common/errors"
	"prompt-versioning/internal/common/logger"
	"prompt-versioning/internal/content"
	"prompt-versioning/internal/diff"
	"prompt-versioning/internal/models"
	"prompt-versioning/internal/version"
)

const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
)

type Adapter struct {
	db     *sql.DB
	logger logger.Logger
}

func New(db *sql.DB, log logger.Logger) *Adapter {
	return &Adapter{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "postgres-store"}),
	}
}

func (a *Adapter) BeginTx(ctx context.Context) (version.Tx, error) {
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}
	return &pgTx{tx: tx}, nil
}

func (a *Adapter) ReadTemplate(ctx context.Context, templateID string) (*models.Template, error) {
	row := a.db.QueryRowContext(ctx, `
		SELECT template_id, category, key, head_version, created_at, updated_at
		FROM templates
		WHERE template_id = $1`, templateID)

	var t models.Template
	err := row.Scan(&t.TemplateID, &t.Category, &t.Key, &t.HeadVersion, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, stderrors.NewTemplateNotFoundError(templateID)
	}
	if err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}
	return &t, nil
}

func (a *Adapter) ReadHead(ctx context.Context, templateID string) (int, error) {
	return readHead(ctx, a.db, templateID)
}

func (a *Adapter) ReadVersion(ctx context.Context, templateID string, versionNumber int) (*models.Version, error) {
	return readVersion(ctx, a.db, templateID, versionNumber)
}

func (a *Adapter) ReadHistoryPage(ctx context.Context, templateID string, page models.HistoryPage) ([]*models.Version, error) {
	query := `
		SELECT version_id, template_id, version_number, parent_version,
		       content, delta, author, change_note, content_hash, archived, created_at
		FROM template_versions
		WHERE template_id = $1`
	if !page.IncludeArchived {
		query += ` AND NOT archived`
	}
	query += `
		ORDER BY version_number DESC
		OFFSET $2 LIMIT $3`

	rows, err := a.db.QueryContext(ctx, query, templateID, page.Offset, page.Limit)
	if err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}
	defer rows.Close()

	var out []*models.Version
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			var std *stderrors.StandardError
			if errors.As(err, &std) {
				return nil, err
			}
			return nil, stderrors.NewStoreUnavailableError(err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}
	return out, nil
}

func (a *Adapter) ListTemplateIDs(ctx context.Context) ([]string, error) {
	rows, err := a.db.QueryContext(ctx,
		`SELECT template_id FROM templates ORDER BY template_id`)
	if err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, stderrors.NewStoreUnavailableError(err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, stderrors.NewStoreUnavailableError(err)
	}
	return ids, nil
}

// querier lets the read helpers run on both *sql.DB and *sql.Tx.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func readHead(ctx context.Context, q querier, templateID string) (int, error) {
	var head int
	err := q.QueryRowContext(ctx,
		`SELECT head_version FROM templates WHERE template_id = $1`,
		templateID).Scan(&head)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, stderrors.NewStoreUnavailableError(err)
	}
	return head, nil
}

func readVersion(ctx context.Context, q querier, templateID string, versionNumber int) (*models.Version, error) {
	row := q.QueryRowContext(ctx, `
		SELECT version_id, template_id, version_number, parent_version,
		       content, delta, author, change_note, content_hash, archived, created_at
		FROM template_versions
		WHERE template_id = $1 AND version_number = $2`,
		templateID, versionNumber)

	v, err := scanVersion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, stderrors.NewVersionNotFoundError(templateID, versionNumber)
	}
	if err != nil {
		var std *stderrors.StandardError
		if errors.As(err, &std) {
			return nil, err
		}
		return nil, stderrors.NewStoreUnavailableError(err)
	}
	return v, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanVersion(row rowScanner) (*models.Version, error) {
	var (
		v          models.Version
		rawContent []byte
		rawDelta   []byte
		changeNote sql.NullString
	)
	err := row.Scan(&v.VersionID, &v.TemplateID, &v.VersionNumber, &v.ParentVersion,
		&rawContent, &rawDelta, &v.Author, &changeNote, &v.ContentHash, &v.Archived, &v.CreatedAt)
	if err != nil {
		return nil, err
	}
	v.ChangeNote = changeNote.String

	if v.Content, err = content.DecodeJSON(rawContent); err != nil {
		return nil, stderrors.NewInternalInvariantViolationError("stored content decode", err)
	}
	if len(rawDelta) > 0 {
		var delta diff.Changes
		if err := json.Unmarshal(rawDelta, &delta); err != nil {
			return nil, stderrors.NewInternalInvariantViolationError("stored delta decode", err)
		}
		v.Delta = delta
	}
	return &v, nil
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) ReadHead(ctx context.Context, templateID string) (int, error) {
	return readHead(ctx, t.tx, templateID)
}

func (t *pgTx) ReadVersion(ctx context.Context, templateID string, versionNumber int) (*models.Version, error) {
	return readVersion(ctx, t.tx, templateID, versionNumber)
}

// AppendVersion advances the head pointer with an optimistic check and
// inserts the immutable version row. The dense (template_id,
// version_number) primary key backs up the head check: a lost race hits
// either zero affected rows or a unique violation, both reported as
// CONCURRENT_MODIFICATION.
func (t *pgTx) AppendVersion(ctx context.Context, tpl *models.Template, v *models.Version) error {
	res, err := t.tx.ExecContext(ctx, `
		INSERT INTO templates (template_id, category, key, head_version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (template_id) DO UPDATE
		SET head_version = EXCLUDED.head_version, updated_at = EXCLUDED.updated_at
		WHERE templates.head_version = $6`,
		tpl.TemplateID, tpl.Category, tpl.Key, v.VersionNumber, v.CreatedAt, v.ParentVersion)
	if err != nil {
		return mapWriteError(err, v)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	if affected == 0 {
		return stderrors.NewConcurrentModificationError(v.TemplateID, v.ParentVersion)
	}

	rawContent, err := content.EncodeJSON(v.Content)
	if err != nil {
		return stderrors.NewInternalInvariantViolationError("content encode", err)
	}
	rawDelta, err := json.Marshal(v.Delta)
	if err != nil {
		return stderrors.NewInternalInvariantViolationError("delta encode", err)
	}

	_, err = t.tx.ExecContext(ctx, `
		INSERT INTO template_versions
			(version_id, template_id, version_number, parent_version,
			 content, delta, author, change_note, content_hash, archived, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10)`,
		v.VersionID, v.TemplateID, v.VersionNumber, v.ParentVersion,
		rawContent, rawDelta, v.Author, nullable(v.ChangeNote), v.ContentHash, v.CreatedAt)
	if err != nil {
		return mapWriteError(err, v)
	}
	return nil
}

func (t *pgTx) MarkArchived(ctx context.Context, templateID string, versionNumbers []int) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE template_versions
		SET archived = TRUE
		WHERE template_id = $1 AND version_number = ANY($2)`,
		templateID, pq.Array(versionNumbers))
	if err != nil {
		return 0, stderrors.NewStoreUnavailableError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, stderrors.NewStoreUnavailableError(err)
	}
	return int(affected), nil
}

func (t *pgTx) DeleteVersions(ctx context.Context, templateID string, versionNumbers []int) (int, error) {
	res, err := t.tx.ExecContext(ctx, `
		DELETE FROM template_versions
		WHERE template_id = $1 AND version_number = ANY($2)`,
		templateID, pq.Array(versionNumbers))
	if err != nil {
		return 0, stderrors.NewStoreUnavailableError(err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, stderrors.NewStoreUnavailableError(err)
	}
	return int(affected), nil
}

func (t *pgTx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return stderrors.NewStoreUnavailableError(err)
	}
	return nil
}

func (t *pgTx) Rollback() error {
	return t.tx.Rollback()
}

func mapWriteError(err error, v *models.Version) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqUniqueViolation, pqSerializationFailure:
			return stderrors.NewConcurrentModificationError(v.TemplateID, v.ParentVersion)
		}
	}
	return stderrors.NewStoreUnavailableError(err)
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

package version

import (
	"context"
	"sort"
	"sync"

	stderrors "prompt-versioning/internal/common/errors"
	"prompt-versioning/internal/models"
)

// memStore is an in-memory Store used by the engine tests. BeginTx
// holds the store lock until Commit or Rollback, which serializes
// transactions the way a serializable database would.
type memStore struct {
	mu        sync.Mutex
	templates map[string]*models.Template
	versions  map[string]map[int]*models.Version
}

func newMemStore() *memStore {
	return &memStore{
		templates: make(map[string]*models.Template),
		versions:  make(map[string]map[int]*models.Version),
	}
}

func (s *memStore) BeginTx(ctx context.Context) (Tx, error) {
	s.mu.Lock()
	return &memTx{s: s}, nil
}

func (s *memStore) ReadTemplate(ctx context.Context, templateID string) (*models.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readTemplate(templateID)
}

func (s *memStore) readTemplate(templateID string) (*models.Template, error) {
	tpl, ok := s.templates[templateID]
	if !ok {
		return nil, stderrors.NewTemplateNotFoundError(templateID)
	}
	cp := *tpl
	return &cp, nil
}

func (s *memStore) ReadHead(ctx context.Context, templateID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readHead(templateID), nil
}

func (s *memStore) readHead(templateID string) int {
	if tpl, ok := s.templates[templateID]; ok {
		return tpl.HeadVersion
	}
	return 0
}

func (s *memStore) ReadVersion(ctx context.Context, templateID string, versionNumber int) (*models.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readVersion(templateID, versionNumber)
}

func (s *memStore) readVersion(templateID string, versionNumber int) (*models.Version, error) {
	v, ok := s.versions[templateID][versionNumber]
	if !ok {
		return nil, stderrors.NewVersionNotFoundError(templateID, versionNumber)
	}
	return v, nil
}

func (s *memStore) ReadHistoryPage(ctx context.Context, templateID string, page models.HistoryPage) ([]*models.Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*models.Version
	for _, v := range s.versions[templateID] {
		if v.Archived && !page.IncludeArchived {
			continue
		}
		all = append(all, v)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].VersionNumber > all[j].VersionNumber
	})

	if page.Offset >= len(all) {
		return nil, nil
	}
	all = all[page.Offset:]
	if page.Limit > 0 && len(all) > page.Limit {
		all = all[:page.Limit]
	}
	return all, nil
}

func (s *memStore) ListTemplateIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.templates))
	for id := range s.templates {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type memTx struct {
	s    *memStore
	done bool
}

func (t *memTx) ReadHead(ctx context.Context, templateID string) (int, error) {
	return t.s.readHead(templateID), nil
}

func (t *memTx) ReadVersion(ctx context.Context, templateID string, versionNumber int) (*models.Version, error) {
	return t.s.readVersion(templateID, versionNumber)
}

func (t *memTx) AppendVersion(ctx context.Context, tpl *models.Template, v *models.Version) error {
	if t.s.readHead(v.TemplateID) != v.ParentVersion {
		return stderrors.NewConcurrentModificationError(v.TemplateID, v.ParentVersion)
	}
	cp := *tpl
	t.s.templates[tpl.TemplateID] = &cp
	if t.s.versions[v.TemplateID] == nil {
		t.s.versions[v.TemplateID] = make(map[int]*models.Version)
	}
	t.s.versions[v.TemplateID][v.VersionNumber] = v
	return nil
}

func (t *memTx) MarkArchived(ctx context.Context, templateID string, versionNumbers []int) (int, error) {
	var n int
	for _, num := range versionNumbers {
		if v, ok := t.s.versions[templateID][num]; ok && !v.Archived {
			v.Archived = true
			n++
		}
	}
	return n, nil
}

func (t *memTx) DeleteVersions(ctx context.Context, templateID string, versionNumbers []int) (int, error) {
	var n int
	for _, num := range versionNumbers {
		if _, ok := t.s.versions[templateID][num]; ok {
			delete(t.s.versions[templateID], num)
			n++
		}
	}
	return n, nil
}

func (t *memTx) Commit() error {
	t.finish()
	return nil
}

func (t *memTx) Rollback() error {
	t.finish()
	return nil
}

func (t *memTx) finish() {
	if !t.done {
		t.done = true
		t.s.mu.Unlock()
	}
}

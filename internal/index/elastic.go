// Package index mirrors version metadata into Elasticsearch so history
// can be searched by author, change note or touched paths. Index writes
// are best-effort: the engine calls them after commit and only logs
// failures.
package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"prompt-versioning/internal/common/logger"
	"prompt-versioning/internal/models"
)

type HistoryIndexer struct {
	client *elasticsearch.Client
	index  string
	logger logger.Logger
}

func NewHistoryIndexer(client *elasticsearch.Client, index string, log logger.Logger) *HistoryIndexer {
	return &HistoryIndexer{
		client: client,
		index:  index,
		logger: log.WithFields(map[string]interface{}{"component": "history-indexer"}),
	}
}

// versionDocument is the searchable projection of a version. Content
// itself stays in the store; only metadata and the changed paths are
// indexed.
type versionDocument struct {
	VersionID     string    `json:"versionId"`
	TemplateID    string    `json:"templateId"`
	VersionNumber int       `json:"versionNumber"`
	ParentVersion int       `json:"parentVersion"`
	Author        string    `json:"author"`
	ChangeNote    string    `json:"changeNote,omitempty"`
	ContentHash   string    `json:"contentHash"`
	ChangeCount   int       `json:"changeCount"`
	ChangedPaths  []string  `json:"changedPaths,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (ix *HistoryIndexer) IndexVersion(ctx context.Context, v *models.Version) error {
	doc := versionDocument{
		VersionID:     v.VersionID,
		TemplateID:    v.TemplateID,
		VersionNumber: v.VersionNumber,
		ParentVersion: v.ParentVersion,
		Author:        v.Author,
		ChangeNote:    v.ChangeNote,
		ContentHash:   v.ContentHash,
		ChangeCount:   len(v.Delta),
		CreatedAt:     v.CreatedAt,
	}
	for _, c := range v.Delta {
		doc.ChangedPaths = append(doc.ChangedPaths, c.Path.String())
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal version document: %w", err)
	}

	res, err := ix.client.Index(
		ix.index,
		bytes.NewReader(body),
		ix.client.Index.WithDocumentID(v.VersionID),
		ix.client.Index.WithContext(ctx),
	)
	if err != nil {
		return fmt.Errorf("index version %s: %w", v.VersionID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index version %s: %s", v.VersionID, res.String())
	}

	ix.logger.Debug("version indexed", map[string]interface{}{
		"templateId": v.TemplateID,
		"version":    v.VersionNumber,
	})
	return nil
}

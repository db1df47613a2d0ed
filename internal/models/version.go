package models

import (
	"encoding/json"
	"time"

	"prompt-versioning/internal/content"
	"prompt-versioning/internal/diff"
)

// Version is one immutable entry in a template's history. Content and
// ContentHash never change after the record is appended; version
// numbers per template are dense, gapless and start at 1.
type Version struct {
	VersionID     string
	TemplateID    string
	VersionNumber int
	// ParentVersion is the version this one was derived from; 0 only
	// for version 1.
	ParentVersion int
	Content       content.Value
	// Delta is the diff from the parent, stored redundantly with the
	// full content for fast history display.
	Delta       diff.Changes
	Author      string
	ChangeNote  string
	ContentHash string
	Archived    bool
	CreatedAt   time.Time
}

type versionWire struct {
	VersionID     string          `json:"version_id"`
	TemplateID    string          `json:"template_id"`
	VersionNumber int             `json:"version_number"`
	ParentVersion int             `json:"parent_version"`
	Content       json.RawMessage `json:"content,omitempty"`
	Delta         diff.Changes    `json:"delta,omitempty"`
	Author        string          `json:"author"`
	ChangeNote    string          `json:"change_note,omitempty"`
	ContentHash   string          `json:"content_hash"`
	Archived      bool            `json:"archived,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (v Version) MarshalJSON() ([]byte, error) {
	w := versionWire{
		VersionID:     v.VersionID,
		TemplateID:    v.TemplateID,
		VersionNumber: v.VersionNumber,
		ParentVersion: v.ParentVersion,
		Delta:         v.Delta,
		Author:        v.Author,
		ChangeNote:    v.ChangeNote,
		ContentHash:   v.ContentHash,
		Archived:      v.Archived,
		CreatedAt:     v.CreatedAt,
	}
	if v.Content != nil {
		data, err := content.EncodeJSON(v.Content)
		if err != nil {
			return nil, err
		}
		w.Content = data
	}
	return json.Marshal(w)
}

func (v *Version) UnmarshalJSON(data []byte) error {
	var w versionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*v = Version{
		VersionID:     w.VersionID,
		TemplateID:    w.TemplateID,
		VersionNumber: w.VersionNumber,
		ParentVersion: w.ParentVersion,
		Delta:         w.Delta,
		Author:        w.Author,
		ChangeNote:    w.ChangeNote,
		ContentHash:   w.ContentHash,
		Archived:      w.Archived,
		CreatedAt:     w.CreatedAt,
	}
	if len(w.Content) > 0 {
		c, err := content.DecodeJSON(w.Content)
		if err != nil {
			return err
		}
		v.Content = c
	}
	return nil
}

package models

import "time"

// Template identifies one logical prompt-template document. The head
// version number is the only mutable field and only ever advances, and
// only by appending a new version inside a store transaction.
type Template struct {
	TemplateID  string    `json:"template_id"`
	Category    string    `json:"category"`
	Key         string    `json:"key"` // unique within category
	HeadVersion int       `json:"head_version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RetentionPolicy bounds how much history a template keeps. Zero values
// disable the respective bound. When both are set, age-based archival
// runs instead of count-based deletion: archive is reversible, delete
// is not.
type RetentionPolicy struct {
	MaxVersionsKept int           `json:"max_versions_kept"`
	MaxAge          time.Duration `json:"max_age"`
}

// HistoryPage selects a slice of a template's history, newest first.
type HistoryPage struct {
	Offset          int  `json:"offset"`
	Limit           int  `json:"limit"`
	IncludeArchived bool `json:"include_archived"`
}

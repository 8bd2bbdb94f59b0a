package model

import (
	"encoding/json"
	"time"
)

// DocumentStatus represents a document's resolution state.
type DocumentStatus string

const (
	StatusPending    DocumentStatus = "pending"
	StatusUnique     DocumentStatus = "unique"
	StatusMaster     DocumentStatus = "master"
	StatusDuplicate  DocumentStatus = "duplicate"
	StatusSuperseded DocumentStatus = "superseded"
)

// IsTerminal returns true for statuses a document never transitions out of
// within a single resolution run.
func (s DocumentStatus) IsTerminal() bool {
	switch s {
	case StatusUnique, StatusMaster, StatusDuplicate, StatusSuperseded:
		return true
	}
	return false
}

// Well-known metadata keys populated by the extraction pipeline.
const (
	MetaBorrowerName     = "borrower_name"
	MetaDocumentDate     = "document_date"
	MetaHasSignature     = "has_signature"
	MetaVersionIndicator = "version_indicator"
	MetaCompleteness     = "completeness"
)

// Document is one physical file registered into a loan's corpus.
// Content fingerprint and metadata arrive asynchronously from the extraction
// pipeline and may be absent when the record is first read.
type Document struct {
	ID              string            `json:"id"`
	LoanID          string            `json:"loan_id"`
	Filename        string            `json:"filename"`
	FilePath        string            `json:"file_path,omitempty"`
	SizeBytes       int64             `json:"size_bytes"`
	PageCount       int               `json:"page_count"`
	DocumentType    string            `json:"document_type,omitempty"`
	ExactHash       string            `json:"exact_hash,omitempty"`
	ContentHash     string            `json:"content_hash,omitempty"`
	Extraction      json.RawMessage   `json:"extraction,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Status          DocumentStatus    `json:"status"`
	IsLatestVersion bool              `json:"is_latest_version"`
	CreatedAt       time.Time         `json:"created_at,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at,omitempty"`
}

// Meta returns a metadata value, or "" when unset.
func (d *Document) Meta(key string) string {
	if d.Metadata == nil {
		return ""
	}
	return d.Metadata[key]
}

// HasSignature reports the asserted signature-presence flag.
func (d *Document) HasSignature() bool {
	switch d.Meta(MetaHasSignature) {
	case "true", "yes", "1", "signed":
		return true
	}
	return false
}

// BorrowerName returns the asserted counterparty name, or "" when unknown.
func (d *Document) BorrowerName() string {
	return d.Meta(MetaBorrowerName)
}

// DocumentDate parses the asserted document date. The zero time is returned
// for missing or unparsable dates so they always lose to parsed dates when
// versions are ordered.
func (d *Document) DocumentDate() time.Time {
	raw := d.Meta(MetaDocumentDate)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return time.Time{}
}

// dateLayouts lists the date formats the extraction pipeline emits.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"01/02/2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// SizeKB returns the file size in kilobytes rounded to two decimals, the
// granularity used for the metadata duplicate tier.
func (d *Document) SizeKB() float64 {
	kb := float64(d.SizeBytes) / 1024.0
	return float64(int64(kb*100+0.5)) / 100
}

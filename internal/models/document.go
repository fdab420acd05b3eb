package models

import "time"

// Session is an isolated working directory for one analysis, comparison or
// chat interaction.
type Session struct {
	ID        string
	Dir       string
	CreatedAt time.Time
}

// Upload is a named file received from a caller, not yet stored.
type Upload struct {
	Name string
	Data []byte
}

// ExtractedDocument is the page-tagged text of one stored PDF.
type ExtractedDocument struct {
	Name string
	Path string
	Text string
}

type ProcessedDocument struct {
	ExtractedDocument
	Chunks []string
}

// Analysis is the decoded reply of the document analysis prompt.
type Analysis struct {
	Title            string   `json:"Title"`
	Author           []string `json:"Author"`
	DateCreated      string   `json:"DateCreated"`
	LastModifiedDate string   `json:"LastModifiedDate"`
	Publisher        string   `json:"Publisher"`
	Language         string   `json:"Language"`
	PageCount        any      `json:"PageCount"`
	SentimentTone    string   `json:"SentimentTone"`
	Summary          []string `json:"Summary"`
}

// PageComparison is one row of the document comparison reply.
type PageComparison struct {
	Page    string `json:"Page"`
	Changes string `json:"Changes"`
}

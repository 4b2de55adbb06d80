// Package model holds the data shapes shared across the detection
// pipeline, the cache, and the HTTP surface.
package model

import "time"

// Severity classifies how alarming a span is.
type Severity string

const (
	SeverityHigh   Severity = "HIGH"
	SeverityMedium Severity = "MEDIUM"
	SeverityLow    Severity = "LOW"
)

// SignalKind tags which detector produced a Signal.
type SignalKind string

const (
	SignalHeuristic SignalKind = "HEURISTIC"
	SignalEmbedding SignalKind = "EMBEDDING"
	SignalUnicode   SignalKind = "UNICODE"
)

// Document is a single piece of content submitted for inspection.
type Document struct {
	ID       string            `json:"id,omitempty"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Span is a half-open range [Start, End) of byte offsets into the raw
// UTF-8 document, so Text equals content[Start:End]. For non-ASCII
// content these are not character (rune) offsets.
type Span struct {
	Start    int      `json:"start"`
	End      int      `json:"end"`
	Text     string   `json:"text"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
}

// Signal is the tagged output of one detector.
type Signal struct {
	Kind     SignalKind             `json:"kind"`
	Score    float64                `json:"score"`
	Reasons  []string               `json:"reasons"`
	Spans    []Span                 `json:"spans"`
	Features map[string]interface{} `json:"features,omitempty"`
}

// Signals is the per-signal breakdown attached to a ScanResult.
type Signals struct {
	Heuristic       float64 `json:"heuristic"`
	Embedding       float64 `json:"embedding"`
	Unicode         float64 `json:"unicode"`
	CompressionBomb bool    `json:"compression_bomb"`
	Homoglyphs      bool    `json:"homoglyphs"`
}

// ScanResult is the per-document output of a scan.
type ScanResult struct {
	DocID      string    `json:"doc_id"`
	Risk       int       `json:"risk"`
	Quarantine bool      `json:"quarantine"`
	Action     string    `json:"action"`
	Reasons    []string  `json:"reasons"`
	Confidence float64   `json:"confidence"`
	Spans      []Span    `json:"spans"`
	Signals    Signals   `json:"signals"`
	Timestamp  time.Time `json:"timestamp"`
}

// Summary aggregates a batch's risk distribution.
type Summary struct {
	TotalDocs        int     `json:"total_docs"`
	QuarantinedCount int     `json:"quarantined_count"`
	AllowedCount     int     `json:"allowed_count"`
	AvgRisk          float64 `json:"avg_risk"`
	MaxRisk          int     `json:"max_risk"`
	P95Risk          int     `json:"p95_risk"`
}

// BatchResult is the full response to a scan request.
type BatchResult struct {
	BatchID string       `json:"batch_id"`
	Results []ScanResult `json:"results"`
	Summary Summary      `json:"summary"`
}

const (
	// ActionQuarantine and ActionAllow are the two terminal decisions a
	// ScanResult can carry.
	ActionQuarantine = "quarantine"
	ActionAllow      = "allow"
)

// Package models holds the domain records shared between the research
// pipeline, the run registry and the HTTP layer.
package models

// Plan is the structured research plan produced by the supervisor stage.
type Plan struct {
	Objectives    []string `json:"objectives"`
	SearchQueries []string `json:"search_queries"`
	InfoTypes     []string `json:"info_types"`
}

// SourceRecord is one gathered search result with its heuristic reliability
// score (0-100) attached.
type SourceRecord struct {
	WorkerID    int      `json:"worker_id"`
	SearchTerm  string   `json:"search_term"`
	Summary     string   `json:"summary"`
	KeyFacts    []string `json:"key_facts"`
	Sources     []string `json:"sources"`
	URL         string   `json:"url,omitempty"`
	Reliability int      `json:"reliability_score"`
	Error       string   `json:"error,omitempty"`
}

// Result is the terminal outcome of a research run.
type Result struct {
	Query      string         `json:"query"`
	Summary    string         `json:"summary"`
	Synthesis  string         `json:"synthesis"`
	Sources    []SourceRecord `json:"sources"`
	Objectives []string       `json:"objectives"`
	Confidence string         `json:"confidence"`
	Timestamp  string         `json:"timestamp"`
	LLMCalls   int            `json:"llm_calls"`
	RunID      string         `json:"call_id"`
}

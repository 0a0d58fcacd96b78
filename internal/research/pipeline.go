// Package research implements the four-stage pipeline driver: plan, gather,
// filter, synthesize. A run is a detached task; its only outputs are
// broadcast events and the terminal registry write.
package research

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/salogamer2002/voicedesk/config"
	"github.com/salogamer2002/voicedesk/internal/hub"
	"github.com/salogamer2002/voicedesk/internal/llm"
	"github.com/salogamer2002/voicedesk/internal/models"
	"github.com/salogamer2002/voicedesk/internal/registry"
	"github.com/salogamer2002/voicedesk/internal/search"
	"github.com/salogamer2002/voicedesk/internal/telemetry"
)

// Pipeline holds the collaborators a run needs. search may be nil, in which
// case gather substitutes fixed mock results.
type Pipeline struct {
	cfg       config.ResearchConfig
	searchCfg config.SearchConfig
	llm       llm.Client
	search    search.Provider
	hub       *hub.Hub
	registry  *registry.Registry
	metrics   *telemetry.Metrics
	logger    *log.Logger
}

// New wires a pipeline.
func New(cfg *config.Config, client llm.Client, provider search.Provider, h *hub.Hub, reg *registry.Registry, m *telemetry.Metrics, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.New(log.Writer(), "[RESEARCH] ", log.LstdFlags)
	}
	return &Pipeline{
		cfg:       cfg.Research,
		searchCfg: cfg.Search,
		llm:       client,
		search:    provider,
		hub:       h,
		registry:  reg,
		metrics:   m,
		logger:    logger,
	}
}

// Run executes one research run to completion or failure. It is intended to
// be launched on its own goroutine; the caller tracks ctx's cancel handle in
// the registry under runID.
func (p *Pipeline) Run(ctx context.Context, runID, topic string) {
	defer p.registry.Untrack(runID)

	p.logger.Printf("research started: query=%q run=%s", topic, runID)
	p.hub.Publish(hub.Event{Type: "clear_results"})
	p.registry.Set(runID, registry.Update{
		Query:      registry.String(topic),
		InProgress: registry.Bool(true),
		Complete:   registry.Bool(false),
		Announced:  registry.Bool(false),
		StartedAt:  registry.String(time.Now().Format(time.RFC3339)),
	})
	p.metrics.RunsStarted.Inc()

	result, err := p.execute(ctx, runID, topic)
	if ctx.Err() != nil {
		// Superseded or cancelled: the registry record now belongs to the
		// replacing run, so leave it alone.
		p.logger.Printf("run %s cancelled", runID)
		return
	}
	if err != nil {
		p.fail(runID, err)
		return
	}

	p.hub.Publish(hub.Event{Type: "result", Data: result})
	p.registry.Set(runID, registry.Update{
		Complete:    registry.Bool(true),
		InProgress:  registry.Bool(false),
		Announced:   registry.Bool(false),
		Results:     result,
		SourceCount: registry.Int(len(result.Sources)),
		Confidence:  registry.String(result.Confidence),
		CompletedAt: registry.String(time.Now().Format(time.RFC3339)),
	})
	p.metrics.RunsCompleted.Inc()
	p.logger.Printf("research completed: query=%q run=%s sources=%d", topic, runID, len(result.Sources))
}

func (p *Pipeline) execute(ctx context.Context, runID, topic string) (*models.Result, error) {
	llmCalls := 0

	// Stage: plan.
	p.stageStarted("supervisor", "Supervisor Agent", "")
	p.logEvent("supervisor", "Supervisor: creating research plan...")
	plan, err := p.plan(ctx, topic)
	if err != nil {
		return nil, err
	}
	llmCalls++
	p.logEvent("supervisor", fmt.Sprintf("Supervisor: plan ready with %d research tasks", len(plan.SearchQueries)))
	p.stageCompleted("supervisor", "Supervisor Agent", "")
	p.metrics.StagesCompleted.WithLabelValues("plan").Inc()

	// Stage: gather.
	queries := plan.SearchQueries
	if len(queries) > p.cfg.MaxQueries {
		queries = queries[:p.cfg.MaxQueries]
	}
	p.logEvent("info", fmt.Sprintf("Launching %d research workers...", len(queries)))
	gathered := make([]models.SourceRecord, 0, len(queries))
	for i, query := range queries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		nodeID := fmt.Sprintf("worker_%d", i+1)
		label := fmt.Sprintf("Worker %d", i+1)
		p.stageStarted(nodeID, label, query)
		p.logEvent("worker", fmt.Sprintf("Worker %d: researching %q...", i+1, query))

		rec := p.searchWorker(ctx, i+1, query)
		gathered = append(gathered, rec)

		p.logEvent("success", fmt.Sprintf("Worker %d: found %d facts", i+1, len(rec.KeyFacts)))
		p.stageCompleted(nodeID, label, query)
	}
	p.metrics.StagesCompleted.WithLabelValues("gather").Inc()

	// Stage: filter.
	p.stageStarted("quality", "Quality Agent", "")
	p.logEvent("quality", "Quality Agent: validating all sources...")
	surviving := p.filterSources(gathered)
	p.logEvent("success", fmt.Sprintf("Quality Agent: validated %d/%d sources", len(surviving), len(gathered)))
	p.stageCompleted("quality", "Quality Agent", "")
	p.metrics.StagesCompleted.WithLabelValues("filter").Inc()

	// Stage: synthesize.
	p.stageStarted("synthesis", "Synthesis Agent", "")
	p.logEvent("supervisor", "Synthesis Agent: creating comprehensive report...")
	synthesis, confidence, synthCalls, err := p.synthesize(ctx, topic, surviving)
	if err != nil {
		return nil, err
	}
	llmCalls += synthCalls
	p.logEvent("success", "Synthesis complete. Report ready for export.")
	p.stageCompleted("synthesis", "Synthesis Agent", "")
	p.metrics.StagesCompleted.WithLabelValues("synthesize").Inc()

	summary := synthesis
	if len(summary) > 500 {
		summary = summary[:500]
	}
	return &models.Result{
		Query:      topic,
		Summary:    summary,
		Synthesis:  synthesis,
		Sources:    surviving,
		Objectives: plan.Objectives,
		Confidence: confidence,
		Timestamp:  time.Now().Format(time.RFC3339),
		LLMCalls:   llmCalls,
		RunID:      runID,
	}, nil
}

// filterSources drops records below the reliability threshold. If nothing
// survives a non-empty input, the unfiltered set is kept: a run never
// synthesizes from zero sources while any source existed.
func (p *Pipeline) filterSources(records []models.SourceRecord) []models.SourceRecord {
	var surviving []models.SourceRecord
	for _, r := range records {
		if r.Reliability >= p.cfg.ReliabilityThreshold {
			surviving = append(surviving, r)
		}
	}
	if len(surviving) == 0 && len(records) > 0 {
		return records
	}
	return surviving
}

func (p *Pipeline) synthesize(ctx context.Context, topic string, records []models.SourceRecord) (synthesis, confidence string, llmCalls int, err error) {
	if len(records) == 0 {
		p.logEvent("error", "No valid results to synthesize")
		text := fmt.Sprintf("Research on '%s' completed but found no valid results. Please try a different query or try again later.", topic)
		return text, "Low (0%)", 0, nil
	}

	var parts []string
	for i, r := range records {
		facts := r.KeyFacts
		if len(facts) > 3 {
			facts = facts[:3]
		}
		parts = append(parts, fmt.Sprintf("SOURCE %d: %s\nSummary: %s\nKey Facts: %s\nReliability: %d%%",
			i+1, r.SearchTerm, r.Summary, strings.Join(facts, ", "), r.Reliability))
	}

	prompt := fmt.Sprintf(`Create a comprehensive research report on: %q

RESEARCH DATA FROM MULTIPLE SOURCES:
%s

Structure your response with these sections:

1. EXECUTIVE SUMMARY (2-3 sentences highlighting the most important findings)

2. KEY FINDINGS (5-7 bullet points of critical insights)

3. DETAILED ANALYSIS (2-3 well-developed paragraphs exploring the topic in depth)

4. IMPLICATIONS (1-2 paragraphs discussing practical applications and significance)

5. CONFIDENCE ASSESSMENT (Brief note on data quality)

Be comprehensive, insightful, and synthesize information from all sources. Use clear, professional language.`,
		topic, strings.Join(parts, "\n\n---\n\n"))

	response, err := p.llm.Chat(ctx, []llm.Message{
		{Role: "system", Content: "You are an expert research analyst who creates comprehensive, well-structured reports. Be thorough and insightful."},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", "", 0, fmt.Errorf("synthesizing report: %w", err)
	}
	p.metrics.LLMCalls.Inc()

	return response, p.confidenceLabel(meanReliability(records)), 1, nil
}

// confidenceLabel maps mean reliability onto the fixed label set using the
// configured breakpoints.
func (p *Pipeline) confidenceLabel(mean float64) string {
	switch {
	case mean >= float64(p.cfg.ConfidenceHigh):
		return "High (90%)"
	case mean >= float64(p.cfg.ConfidenceMediumHigh):
		return "Medium-High (82%)"
	default:
		return "Medium (72%)"
	}
}

func meanReliability(records []models.SourceRecord) float64 {
	if len(records) == 0 {
		return 0
	}
	total := 0
	for _, r := range records {
		total += r.Reliability
	}
	return float64(total) / float64(len(records))
}

func (p *Pipeline) fail(runID string, err error) {
	p.logger.Printf("research failed: run=%s: %v", runID, err)
	p.registry.Set(runID, registry.Update{
		Complete:   registry.Bool(false),
		InProgress: registry.Bool(false),
		Error:      registry.String(err.Error()),
		FailedAt:   registry.String(time.Now().Format(time.RFC3339)),
	})
	p.hub.Publish(hub.Event{Type: "error", Message: fmt.Sprintf("Research failed: %v", err)})
	p.metrics.RunsFailed.Inc()
}

func (p *Pipeline) stageStarted(id, label, query string) {
	status := "active"
	if strings.HasPrefix(id, "worker_") {
		status = "researching"
	}
	p.hub.Publish(hub.Event{Type: "node_update", Node: &hub.NodeUpdate{ID: id, Label: label, Status: status, Query: query}})
}

func (p *Pipeline) stageCompleted(id, label, query string) {
	p.hub.Publish(hub.Event{Type: "node_update", Node: &hub.NodeUpdate{ID: id, Label: label, Status: "completed", Query: query}})
}

func (p *Pipeline) logEvent(logType, message string) {
	p.hub.Publish(hub.Event{Type: "log", Message: message, LogType: logType})
}

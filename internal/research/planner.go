package research

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/salogamer2002/voicedesk/internal/helpers"
	"github.com/salogamer2002/voicedesk/internal/llm"
	"github.com/salogamer2002/voicedesk/internal/models"
)

const planningSystemPrompt = "You are a research planning expert. Respond only with valid JSON, no markdown, no explanations."

func planningPrompt(topic string) string {
	return fmt.Sprintf(`You are a research supervisor. Create a detailed research plan for: %q

Provide:
1. 3-5 clear research objectives
2. 5-7 specific search queries to comprehensively research this topic
3. Expected information types

Respond ONLY with valid JSON in this exact format:
{
    "objectives": ["objective1", "objective2", "objective3"],
    "search_queries": ["query1", "query2", "query3", "query4", "query5"],
    "info_types": ["type1", "type2"]
}`, topic)
}

// plan asks the inference service for a structured research plan. A
// malformed response is recovered locally with a deterministic fallback; an
// inference-service failure is not recoverable and aborts the run.
func (p *Pipeline) plan(ctx context.Context, topic string) (models.Plan, error) {
	response, err := p.llm.Chat(ctx, []llm.Message{
		{Role: "system", Content: planningSystemPrompt},
		{Role: "user", Content: planningPrompt(topic)},
	})
	if err != nil {
		return models.Plan{}, fmt.Errorf("generating research plan: %w", err)
	}
	p.metrics.LLMCalls.Inc()

	plan, perr := parsePlan(response)
	if perr != nil {
		p.logger.Printf("plan parsing failed, using fallback: %v", perr)
		return fallbackPlan(topic), nil
	}
	return plan, nil
}

// parsePlan strips fences, extracts the first balanced JSON object and
// requires at least one search query.
func parsePlan(response string) (models.Plan, error) {
	raw, err := helpers.ExtractJSON(response)
	if err != nil {
		return models.Plan{}, err
	}
	var plan models.Plan
	if err := json.Unmarshal([]byte(raw), &plan); err != nil {
		return models.Plan{}, fmt.Errorf("unmarshalling plan: %w", err)
	}
	if len(plan.SearchQueries) == 0 {
		return models.Plan{}, fmt.Errorf("plan contains no search queries")
	}
	return plan, nil
}

// fallbackPlan is derived mechanically from the topic, with no inference
// call, so planning always advances the pipeline.
func fallbackPlan(topic string) models.Plan {
	return models.Plan{
		Objectives: []string{
			fmt.Sprintf("Understand fundamentals of %s", topic),
			fmt.Sprintf("Analyze current trends in %s", topic),
			fmt.Sprintf("Identify key applications of %s", topic),
		},
		SearchQueries: []string{
			topic + " overview",
			topic + " latest developments",
			topic + " applications",
			topic + " trends",
			topic + " research studies",
		},
		InfoTypes: []string{"definitions", "trends", "applications"},
	}
}

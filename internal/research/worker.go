package research

import (
	"context"
	"fmt"

	"github.com/salogamer2002/voicedesk/internal/models"
)

// searchWorker executes one search query and attaches a reliability score.
// Search failures degrade in-band to a low-score record so the gather stage
// always advances; only the inference service can abort a run.
func (p *Pipeline) searchWorker(ctx context.Context, workerID int, query string) models.SourceRecord {
	if p.search == nil {
		return mockRecord(workerID, query, p.searchCfg.MockReliability)
	}

	p.metrics.SearchCalls.Inc()
	results, err := p.search.Search(ctx, query, p.searchCfg.MaxResults)
	if err != nil {
		p.logger.Printf("search error for %q: %v", query, err)
		return models.SourceRecord{
			WorkerID:    workerID,
			SearchTerm:  query,
			Summary:     fmt.Sprintf("Search error for '%s': %v", query, err),
			KeyFacts:    []string{"Unable to complete search - please try again"},
			Sources:     []string{"Search Unavailable"},
			Reliability: 50,
			Error:       err.Error(),
		}
	}

	var (
		facts   []string
		sources []string
		urls    []string
	)
	for _, r := range results {
		if r.Title != "" && r.Snippet != "" {
			snippet := r.Snippet
			if len(snippet) > 200 {
				snippet = snippet[:200]
			}
			facts = append(facts, fmt.Sprintf("%s: %s", r.Title, snippet))
		}
		if r.URL != "" {
			sources = append(sources, r.URL)
			urls = append(urls, r.URL)
		}
	}
	if len(facts) == 0 {
		facts = []string{fmt.Sprintf("Search completed for '%s' but no detailed results found", query)}
	}
	if len(facts) > 5 {
		facts = facts[:5]
	}
	if len(sources) > 3 {
		sources = sources[:3]
	}

	reliability := 75
	if len(facts) >= 3 {
		reliability = 90
	}

	rec := models.SourceRecord{
		WorkerID:    workerID,
		SearchTerm:  query,
		Summary:     fmt.Sprintf("Found %d relevant results for '%s'", len(facts), query),
		KeyFacts:    facts,
		Sources:     sources,
		Reliability: reliability,
	}
	if len(urls) > 0 {
		rec.URL = urls[0]
	}
	return rec
}

// mockRecord is the fixed result set used when no search service is
// configured.
func mockRecord(workerID int, query string, reliability int) models.SourceRecord {
	if reliability <= 0 {
		reliability = 75
	}
	return models.SourceRecord{
		WorkerID:   workerID,
		SearchTerm: query,
		Summary:    fmt.Sprintf("Mock research findings on '%s' - configure a search API key for real results", query),
		KeyFacts: []string{
			fmt.Sprintf("Mock finding 1: Overview of %s", query),
			fmt.Sprintf("Mock finding 2: Current trends in %s", query),
			fmt.Sprintf("Mock finding 3: Applications of %s", query),
		},
		Sources:     []string{"Mock Source (configure search.serper_api_key for real sources)"},
		Reliability: reliability,
	}
}

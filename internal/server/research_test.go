package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/salogamer2002/voicedesk/config"
	"github.com/salogamer2002/voicedesk/internal/hub"
	"github.com/salogamer2002/voicedesk/internal/llm"
	"github.com/salogamer2002/voicedesk/internal/registry"
	"github.com/salogamer2002/voicedesk/internal/research"
	"github.com/salogamer2002/voicedesk/internal/search"
	"github.com/salogamer2002/voicedesk/internal/telemetry"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ResearchAddr: ":0", NotionAddr: ":0"},
		LLM:    config.LLMConfig{Model: "test-model"},
		Search: config.SearchConfig{MaxResults: 5, MockReliability: 75},
		Research: config.ResearchConfig{
			MaxQueries:           5,
			ReliabilityThreshold: 70,
			ConfidenceHigh:       85,
			ConfidenceMediumHigh: 75,
		},
		Notion: config.NotionConfig{MaxIterations: 5, RequestTimeout: time.Second},
	}
}

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

// gatedLLM blocks the planning call until release is closed so tests can
// observe the in-progress state deterministically.
type gatedLLM struct {
	release   chan struct{}
	responses []string
	calls     int
}

func (g *gatedLLM) Chat(ctx context.Context, _ []llm.Message) (string, error) {
	if g.calls == 0 {
		select {
		case <-g.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if g.calls >= len(g.responses) {
		return "", fmt.Errorf("no scripted response left")
	}
	r := g.responses[g.calls]
	g.calls++
	return r, nil
}

type stubSearch struct{}

func (stubSearch) Search(_ context.Context, query string, _ int) ([]search.Result, error) {
	return []search.Result{
		{Title: "One " + query, Snippet: "first snippet", URL: "https://example.com/1"},
		{Title: "Two " + query, Snippet: "second snippet", URL: "https://example.com/2"},
		{Title: "Three " + query, Snippet: "third snippet", URL: "https://example.com/3"},
	}, nil
}

func newResearchFixture(t *testing.T, client llm.Client) (*ResearchServer, *registry.Registry, *hub.Hub, http.Handler) {
	t.Helper()
	cfg := testConfig()
	reg := registry.New(discard())
	h := hub.New(discard(), nil)
	pipeline := research.New(cfg, client, stubSearch{}, h, reg, telemetry.NewNop(), discard())
	srv := NewResearchServer(cfg, reg, h, pipeline, discard())
	e := newEcho(discard())
	srv.Register(e)
	return srv, reg, h, e
}

func postJSON(t *testing.T, handler http.Handler, path, body string) map[string]interface{} {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST %s: expected 200, got %d: %s", path, rec.Code, rec.Body.String())
	}
	var out map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("POST %s: invalid JSON response: %v", path, err)
	}
	return out
}

func pollResult(t *testing.T, handler http.Handler, path, callID string) string {
	t.Helper()
	out := postJSON(t, handler, path, fmt.Sprintf(`{"call": {"id": %q}}`, callID))
	result, ok := out["result"].(string)
	if !ok {
		t.Fatalf("expected string result, got %v", out)
	}
	return result
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached within deadline")
}

func TestResearchRunEndToEnd(t *testing.T) {
	plan := `{"objectives": ["understand quantum computing"], "search_queries": ["quantum computing overview", "quantum computing applications"], "information_types": ["facts"]}`
	client := &gatedLLM{
		release:   make(chan struct{}),
		responses: []string{plan, "Quantum computing synthesis report."},
	}
	_, reg, _, handler := newResearchFixture(t, client)

	webhook := `{
		"message": {"toolCalls": [{"id": "tc_1", "function": {"name": "start_research", "arguments": {"query": "quantum computing"}}}]},
		"call": {"id": "call_42"}
	}`
	ack := postJSON(t, handler, "/webhook/research", webhook)
	results := ack["results"].([]interface{})
	first := results[0].(map[string]interface{})
	if first["toolCallId"] != "tc_1" {
		t.Fatalf("expected toolCallId tc_1, got %v", first["toolCallId"])
	}
	if !strings.Contains(first["result"].(string), "starting comprehensive research") {
		t.Fatalf("unexpected ack text %v", first["result"])
	}

	// The plan call is gated, so the run must report as in progress.
	waitFor(t, func() bool {
		st, ok := reg.Get("call_42")
		return ok && st.InProgress
	})
	if got := pollResult(t, handler, "/webhook/poll_status", "call_42"); got != "still_in_progress" {
		t.Fatalf("expected still_in_progress, got %q", got)
	}

	close(client.release)
	waitFor(t, func() bool {
		st, ok := reg.Get("call_42")
		return ok && st.Complete
	})

	// First status check announces, second reports already announced.
	announcement := pollResult(t, handler, "/webhook/check_status", "call_42")
	if !strings.Contains(announcement, "Research on quantum computing is complete") {
		t.Fatalf("unexpected announcement %q", announcement)
	}
	if !strings.Contains(announcement, "2 sources") {
		t.Fatalf("expected 2 surviving sources in announcement, got %q", announcement)
	}
	if got := pollResult(t, handler, "/webhook/check_status", "call_42"); got != "already_announced" {
		t.Fatalf("expected already_announced, got %q", got)
	}

	st, ok := reg.Get("call_42")
	if !ok {
		t.Fatal("expected registry record after completion")
	}
	if st.InProgress || !st.Complete || !st.Announced {
		t.Fatalf("unexpected terminal flags %+v", st)
	}
	if st.Results == nil || len(st.Results.Sources) != 2 {
		t.Fatalf("expected 2 post-filter sources, got %+v", st.Results)
	}
	if st.Confidence != "High (90%)" {
		t.Fatalf("expected High (90%%) confidence, got %q", st.Confidence)
	}
}

func TestStatusEndpointsWithoutRun(t *testing.T) {
	_, _, _, handler := newResearchFixture(t, &gatedLLM{release: make(chan struct{})})

	if got := pollResult(t, handler, "/webhook/check_status", "nope"); got != "no_research_started" {
		t.Fatalf("expected no_research_started, got %q", got)
	}
	if got := pollResult(t, handler, "/webhook/poll_status", "nope"); got != "still_in_progress" {
		t.Fatalf("expected still_in_progress, got %q", got)
	}

	req := httptest.NewRequest(http.MethodGet, "/status/nope", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No research found for this call") {
		t.Fatalf("expected not-found payload, got %s", rec.Body.String())
	}
}

func TestCheckStatusReportsRunError(t *testing.T) {
	_, reg, _, handler := newResearchFixture(t, &gatedLLM{release: make(chan struct{})})

	errMsg := "inference service error: quota exceeded"
	reg.Set("failed_call", registry.Update{
		InProgress: registry.Bool(false),
		Error:      registry.String(errMsg),
	})

	got := pollResult(t, handler, "/webhook/check_status", "failed_call")
	if !strings.Contains(got, errMsg) {
		t.Fatalf("expected error message in result, got %q", got)
	}
}

func TestWebhookWithoutTopicAsksForOne(t *testing.T) {
	_, reg, _, handler := newResearchFixture(t, &gatedLLM{release: make(chan struct{})})

	out := postJSON(t, handler, "/webhook/research", `{"message": {"toolCalls": [{"id": "tc_9", "function": {"name": "start_research", "arguments": {}}}]}, "call": {"id": "c1"}}`)
	first := out["results"].([]interface{})[0].(map[string]interface{})
	if !strings.Contains(first["result"].(string), "didn't catch the research topic") {
		t.Fatalf("unexpected ack %v", first["result"])
	}
	if _, ok := reg.Get("c1"); ok {
		t.Fatal("no run must start without a topic")
	}
}

func TestExtractTopicPrecedence(t *testing.T) {
	// String-encoded tool-call arguments decode the same as object ones.
	var p vapiPayload
	if err := json.Unmarshal([]byte(`{
		"message": {"toolCalls": [{"id": "t", "function": {"name": "start_research", "arguments": "{\"query\": \"solar power\"}"}}], "content": "research about wind"},
		"call": {"arguments": {"query": "geothermal"}}
	}`), &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got := extractTopic(&p); got != "solar power" {
		t.Fatalf("expected tool-call arguments to win, got %q", got)
	}

	p = vapiPayload{}
	if err := json.Unmarshal([]byte(`{
		"message": {"content": "research about wind"},
		"call": {"arguments": {"query": "geothermal"}}
	}`), &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got := extractTopic(&p); got != "geothermal" {
		t.Fatalf("expected call arguments next, got %q", got)
	}

	p = vapiPayload{}
	if err := json.Unmarshal([]byte(`{"message": {"content": "Please research about wind turbines"}}`), &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if got := extractTopic(&p); got != "wind turbines" {
		t.Fatalf("expected regex fallback over content, got %q", got)
	}

	p = vapiPayload{}
	if got := extractTopic(&p); got != "" {
		t.Fatalf("expected empty topic, got %q", got)
	}
}

func TestWebsocketReceivesPublishedEvents(t *testing.T) {
	_, _, h, handler := newResearchFixture(t, &gatedLLM{release: make(chan struct{})})

	ts := httptest.NewServer(handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dialing websocket: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return h.Len() == 1 })
	h.Publish(hub.Event{Type: "log", Message: "stage running", LogType: "info"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var event map[string]interface{}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if event["type"] != "log" || event["message"] != "stage running" {
		t.Fatalf("unexpected event %v", event)
	}
}

package notion

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"testing"

	"github.com/salogamer2002/voicedesk/internal/llm"
	"github.com/salogamer2002/voicedesk/internal/telemetry"
)

type scriptedLLM struct {
	responses []string
	prompts   []string
}

func (s *scriptedLLM) Chat(_ context.Context, msgs []llm.Message) (string, error) {
	s.prompts = append(s.prompts, msgs[len(msgs)-1].Content)
	if len(s.responses) == 0 {
		return "", fmt.Errorf("no scripted response left")
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

type stubSession struct {
	tools  []Tool
	calls  []string
	result string
	err    error
}

func (s *stubSession) Tools() []Tool { return s.tools }

func (s *stubSession) Call(_ context.Context, name string, _ map[string]interface{}) (string, error) {
	s.calls = append(s.calls, name)
	if s.err != nil {
		return "", s.err
	}
	return s.result, nil
}

func (s *stubSession) Close() error { return nil }

func testAgent() *Agent {
	return NewAgent(5, telemetry.NewNop(), log.New(io.Discard, "", 0))
}

func TestRunReturnsDirectAnswerWithoutToolMarkers(t *testing.T) {
	client := &scriptedLLM{responses: []string{"Your workspace has 3 open tasks."}}
	sess := &stubSession{tools: []Tool{{Name: "search", Description: "search pages"}}}

	out, err := testAgent().Run(context.Background(), client, sess, "how many open tasks?")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Response != "Your workspace has 3 open tasks." {
		t.Fatalf("expected direct answer, got %q", out.Response)
	}
	if out.Iterations != 1 {
		t.Fatalf("expected 1 iteration, got %d", out.Iterations)
	}
	if len(out.ToolsUsed) != 0 {
		t.Fatalf("expected no tools used, got %v", out.ToolsUsed)
	}
	if len(sess.calls) != 0 {
		t.Fatalf("expected no tool executions, got %v", sess.calls)
	}
}

func TestRunExhaustsIterationsOnUnknownTool(t *testing.T) {
	bad := "TOOL_CALL: missing_tool\nTOOL_INPUT: {}"
	client := &scriptedLLM{responses: []string{bad, bad, bad, bad, bad}}
	sess := &stubSession{tools: []Tool{{Name: "search", Description: "search pages"}}}

	out, err := testAgent().Run(context.Background(), client, sess, "anything")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Iterations != 5 {
		t.Fatalf("expected 5 iterations, got %d", out.Iterations)
	}
	if len(sess.calls) != 0 {
		t.Fatalf("expected no tool executions, got %v", sess.calls)
	}
	if len(out.ToolsUsed) != 0 {
		t.Fatalf("expected no tools used, got %v", out.ToolsUsed)
	}
	// Every turn after the first carries the correction back to the model.
	for i, prompt := range client.prompts[1:] {
		if !strings.Contains(prompt, "Error: Tool 'missing_tool' not found") {
			t.Fatalf("prompt %d missing correction: %q", i+2, prompt)
		}
		if !strings.Contains(prompt, "Available tools: search") {
			t.Fatalf("prompt %d missing tool list: %q", i+2, prompt)
		}
	}
}

func TestRunCorrectsInvalidJSONThenAnswers(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		"TOOL_CALL: search\nTOOL_INPUT: not json at all",
		"Found nothing relevant.",
	}}
	sess := &stubSession{tools: []Tool{{Name: "search", Description: "search pages"}}}

	out, err := testAgent().Run(context.Background(), client, sess, "find notes")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Response != "Found nothing relevant." {
		t.Fatalf("expected final answer after correction, got %q", out.Response)
	}
	if out.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", out.Iterations)
	}
	if len(sess.calls) != 0 {
		t.Fatalf("expected no tool executions, got %v", sess.calls)
	}
	if !strings.Contains(client.prompts[1], "Error: Invalid JSON format") {
		t.Fatalf("expected JSON correction in second prompt, got %q", client.prompts[1])
	}
}

func TestRunExecutesToolAndFeedsResultBack(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		`TOOL_CALL: search` + "\n" + `TOOL_INPUT: {"query": "meeting notes"}`,
		"You have two pages of meeting notes.",
	}}
	sess := &stubSession{
		tools:  []Tool{{Name: "search", Description: "search pages"}},
		result: "2 pages found",
	}

	out, err := testAgent().Run(context.Background(), client, sess, "find meeting notes")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(sess.calls) != 1 || sess.calls[0] != "search" {
		t.Fatalf("expected one search call, got %v", sess.calls)
	}
	if len(out.ToolsUsed) != 1 || out.ToolsUsed[0] != "search" {
		t.Fatalf("expected tools_used [search], got %v", out.ToolsUsed)
	}
	if !strings.Contains(client.prompts[1], "Tool 'search' result: 2 pages found") {
		t.Fatalf("expected tool result in second prompt, got %q", client.prompts[1])
	}
	if out.Response != "You have two pages of meeting notes." {
		t.Fatalf("unexpected final answer %q", out.Response)
	}
}

func TestRunDeduplicatesToolsUsed(t *testing.T) {
	call := `TOOL_CALL: search` + "\n" + `TOOL_INPUT: {"query": "x"}`
	client := &scriptedLLM{responses: []string{call, call, "Done."}}
	sess := &stubSession{tools: []Tool{{Name: "search", Description: "search pages"}}, result: "ok"}

	out, err := testAgent().Run(context.Background(), client, sess, "x")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(sess.calls) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(sess.calls))
	}
	if len(out.ToolsUsed) != 1 {
		t.Fatalf("expected deduplicated tools_used, got %v", out.ToolsUsed)
	}
}

func TestRunReportsToolFailureToModel(t *testing.T) {
	client := &scriptedLLM{responses: []string{
		`TOOL_CALL: search` + "\n" + `TOOL_INPUT: {"query": "x"}`,
		"The search is unavailable right now.",
	}}
	sess := &stubSession{
		tools: []Tool{{Name: "search", Description: "search pages"}},
		err:   fmt.Errorf("upstream 500"),
	}

	out, err := testAgent().Run(context.Background(), client, sess, "x")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(out.ToolsUsed) != 0 {
		t.Fatalf("failed call must not count as used, got %v", out.ToolsUsed)
	}
	if !strings.Contains(client.prompts[1], "Error executing tool search") {
		t.Fatalf("expected failure correction in second prompt, got %q", client.prompts[1])
	}
}

func TestParseToolCall(t *testing.T) {
	name, args, present, err := parseToolCall("TOOL_CALL: search\nTOOL_INPUT: {\"q\": \"a\"}")
	if !present || err != nil {
		t.Fatalf("expected clean parse, present=%v err=%v", present, err)
	}
	if name != "search" || args["q"] != "a" {
		t.Fatalf("unexpected parse result %q %v", name, args)
	}

	// Arguments wrapped in prose still parse via balanced extraction.
	_, args, present, err = parseToolCall("TOOL_CALL: search\nTOOL_INPUT: here you go {\"q\": \"b\"} thanks")
	if !present || err != nil {
		t.Fatalf("expected wrapped parse, present=%v err=%v", present, err)
	}
	if args["q"] != "b" {
		t.Fatalf("unexpected wrapped args %v", args)
	}

	if _, _, present, _ = parseToolCall("Just a plain answer."); present {
		t.Fatal("plain answer must not be a tool call")
	}
	if _, _, present, _ = parseToolCall("TOOL_CALL: search"); present {
		t.Fatal("missing TOOL_INPUT must not be a tool call")
	}

	_, _, present, err = parseToolCall("TOOL_CALL: search\nTOOL_INPUT: {broken")
	if !present {
		t.Fatal("broken payload is still a tool-call turn")
	}
	if err == nil {
		t.Fatal("expected parse error for broken payload")
	}
}

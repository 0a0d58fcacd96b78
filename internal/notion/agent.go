package notion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/salogamer2002/voicedesk/internal/helpers"
	"github.com/salogamer2002/voicedesk/internal/llm"
	"github.com/salogamer2002/voicedesk/internal/telemetry"
)

// Outcome is what one assistant query produced.
type Outcome struct {
	Response   string   `json:"response"`
	ToolsUsed  []string `json:"tools_used"`
	Iterations int      `json:"iterations"`
}

// Agent drives the model through the tool-calling loop against a workspace
// session.
type Agent struct {
	maxIterations int
	metrics       *telemetry.Metrics
	logger        *log.Logger
}

func NewAgent(maxIterations int, metrics *telemetry.Metrics, logger *log.Logger) *Agent {
	return &Agent{maxIterations: maxIterations, metrics: metrics, logger: logger}
}

var (
	toolCallRe  = regexp.MustCompile(`TOOL_CALL:\s*(\S+)`)
	toolInputRe = regexp.MustCompile(`(?s)TOOL_INPUT:\s*(.+)`)
)

func systemPrompt(tools []Tool) string {
	var desc strings.Builder
	for _, t := range tools {
		fmt.Fprintf(&desc, "- %s: %s\n", t.Name, t.Description)
	}
	return fmt.Sprintf(`You are a helpful Notion workspace assistant. You have access to the following tools:

%s
To use a tool, respond with exactly two lines:
TOOL_CALL: <tool_name>
TOOL_INPUT: <JSON arguments on a single line>

If you do not need a tool, answer the user directly without those lines.
When you have gathered enough information, give a clear final answer.`, desc.String())
}

// parseToolCall reports whether the response is a tool-call turn. Both
// markers must be present; a missing or broken JSON payload is a parse error
// on a turn that is still a tool-call turn.
func parseToolCall(response string) (name string, args map[string]interface{}, present bool, err error) {
	nameMatch := toolCallRe.FindStringSubmatch(response)
	inputMatch := toolInputRe.FindStringSubmatch(response)
	if nameMatch == nil || inputMatch == nil {
		return "", nil, false, nil
	}
	name = nameMatch[1]

	raw := strings.TrimSpace(inputMatch[1])
	firstLine := raw
	if idx := strings.IndexByte(raw, '\n'); idx >= 0 {
		firstLine = strings.TrimSpace(raw[:idx])
	}
	if jsonErr := json.Unmarshal([]byte(firstLine), &args); jsonErr == nil {
		return name, args, true, nil
	}
	args, err = helpers.ExtractJSONObject(raw)
	if err != nil {
		return name, nil, true, err
	}
	return name, args, true, nil
}

// Run executes the tool-calling loop for one query. The model's turns either
// request a tool or answer directly; a turn without the tool-call markers is
// the final answer. Tool failures and malformed requests are fed back to the
// model as correction messages rather than aborting.
func (a *Agent) Run(ctx context.Context, client llm.Client, sess Session, query string) (Outcome, error) {
	tools := sess.Tools()
	system := systemPrompt(tools)

	known := make(map[string]bool, len(tools))
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		known[t.Name] = true
		names = append(names, t.Name)
	}

	var history []string
	toolsUsed := []string{}
	seen := map[string]bool{}
	lastResponse := ""

	for iteration := 0; iteration < a.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return Outcome{}, err
		}

		var userMsg string
		if iteration == 0 {
			userMsg = query
		} else {
			ctxWindow := history
			if len(ctxWindow) > 4 {
				ctxWindow = ctxWindow[len(ctxWindow)-4:]
			}
			userMsg = fmt.Sprintf("Previous context:\n%s\n\nContinue working on the original request: %s", strings.Join(ctxWindow, "\n"), query)
		}

		response, err := client.Chat(ctx, []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: userMsg},
		})
		if err != nil {
			return Outcome{}, err
		}
		a.metrics.LLMCalls.Inc()
		lastResponse = response
		history = append(history, "Assistant: "+response)

		name, args, present, parseErr := parseToolCall(response)
		if !present {
			return Outcome{Response: response, ToolsUsed: toolsUsed, Iterations: iteration + 1}, nil
		}
		if parseErr != nil {
			a.logger.Printf("tool input parse failed on iteration %d: %v", iteration+1, parseErr)
			a.metrics.ToolErrors.Inc()
			history = append(history, "Error: Invalid JSON format. Provide TOOL_INPUT as valid JSON on a single line.")
			continue
		}
		if !known[name] {
			a.logger.Printf("model requested unknown tool %q", name)
			a.metrics.ToolErrors.Inc()
			history = append(history, fmt.Sprintf("Error: Tool '%s' not found. Available tools: %s", name, strings.Join(names, ", ")))
			continue
		}

		result, err := sess.Call(ctx, name, args)
		if err != nil {
			a.logger.Printf("tool %s failed: %v", name, err)
			a.metrics.ToolErrors.Inc()
			history = append(history, fmt.Sprintf("Error executing tool %s: %v", name, err))
			continue
		}
		a.metrics.ToolCalls.Inc()
		if !seen[name] {
			seen[name] = true
			toolsUsed = append(toolsUsed, name)
		}
		history = append(history, fmt.Sprintf("Tool '%s' result: %s", name, result))
	}

	// Iteration budget spent; hand back whatever the model last said.
	return Outcome{Response: lastResponse, ToolsUsed: toolsUsed, Iterations: a.maxIterations}, nil
}

package notion

import (
	"context"
	"fmt"
	"strings"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/salogamer2002/voicedesk/config"
)

// Tool is one remote tool advertised by the workspace session.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Session is the remote tool-execution session the loop runs against. It is
// created per request and closed on exit regardless of outcome.
type Session interface {
	Tools() []Tool
	Call(ctx context.Context, name string, args map[string]interface{}) (string, error)
	Close() error
}

// SessionFactory opens a session authenticated with the caller's Notion
// token. The HTTP layer injects the stdio factory; tests inject stubs.
type SessionFactory func(ctx context.Context, notionToken string) (Session, error)

// StdioSession runs the Notion MCP server as a child process and speaks the
// protocol over stdio.
type StdioSession struct {
	cli   *mcpclient.Client
	tools []Tool
}

// NewStdioSession launches the MCP server, initializes the protocol and
// fetches the advertised tool list.
func NewStdioSession(ctx context.Context, cfg config.NotionConfig, notionToken string) (*StdioSession, error) {
	cli, err := mcpclient.NewStdioMCPClient(cfg.MCPCommand, []string{"NOTION_TOKEN=" + notionToken}, cfg.MCPArgs...)
	if err != nil {
		return nil, fmt.Errorf("starting workspace session: %w", err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "voicedesk", Version: "1.0.0"}
	if _, err := cli.Initialize(ctx, initReq); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("initializing workspace session: %w", err)
	}

	listed, err := cli.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("listing workspace tools: %w", err)
	}
	tools := make([]Tool, 0, len(listed.Tools))
	for _, t := range listed.Tools {
		tools = append(tools, Tool{Name: t.Name, Description: t.Description})
	}

	return &StdioSession{cli: cli, tools: tools}, nil
}

// Tools returns the advertised tool list.
func (s *StdioSession) Tools() []Tool { return s.tools }

// Call executes one tool and flattens its content to text.
func (s *StdioSession) Call(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := s.cli.CallTool(ctx, req)
	if err != nil {
		return "", fmt.Errorf("calling tool %s: %w", name, err)
	}

	var parts []string
	for _, item := range res.Content {
		if tc, ok := item.(mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		} else {
			parts = append(parts, fmt.Sprintf("%v", item))
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return "", fmt.Errorf("tool %s reported an error: %s", name, text)
	}
	return text, nil
}

// Close tears the child process down.
func (s *StdioSession) Close() error { return s.cli.Close() }

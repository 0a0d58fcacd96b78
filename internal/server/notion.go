package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/salogamer2002/voicedesk/config"
	"github.com/salogamer2002/voicedesk/internal/llm"
	"github.com/salogamer2002/voicedesk/internal/notion"
)

// LLMFactory builds an inference client for a caller-supplied key. The
// notion service authenticates per request, not per process.
type LLMFactory func(apiKey string) (llm.Client, error)

// NotionServer exposes the workspace assistant endpoints. Every request
// carries its own Notion and inference keys and gets a fresh session.
type NotionServer struct {
	cfg      *config.Config
	agent    *notion.Agent
	sessions notion.SessionFactory
	newLLM   LLMFactory
	logger   *log.Logger
}

func NewNotionServer(cfg *config.Config, agent *notion.Agent, sessions notion.SessionFactory, newLLM LLMFactory, logger *log.Logger) *NotionServer {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	return &NotionServer{cfg: cfg, agent: agent, sessions: sessions, newLLM: newLLM, logger: logger}
}

// Start blocks serving HTTP on the configured notion address.
func (s *NotionServer) Start() error {
	e := newEcho(s.logger)
	s.Register(e)
	return e.Start(s.cfg.Server.NotionAddr)
}

// Register mounts all notion routes on e.
func (s *NotionServer) Register(e *echo.Echo) {
	e.GET("/", s.root)
	e.GET("/health", s.health)
	e.POST("/api/connect", s.connect)
	e.POST("/api/query", s.query)
	registerMetrics(e, s.cfg.Telemetry.Enabled)
}

func (s *NotionServer) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"system": "Notion Workspace Assistant",
		"status": "online",
		"endpoints": map[string]string{
			"health":  "/health",
			"connect": "/api/connect",
			"query":   "/api/query",
		},
	})
}

func (s *NotionServer) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"message": "Server is running",
	})
}

type connectRequest struct {
	NotionKey    string `json:"notion_key"`
	FireworksKey string `json:"fireworks_key"`
}

type queryRequest struct {
	NotionKey    string `json:"notion_key"`
	FireworksKey string `json:"fireworks_key"`
	Query        string `json:"query"`
}

// connect validates the caller's keys by opening a session and listing the
// advertised tools.
func (s *NotionServer) connect(c echo.Context) error {
	var req connectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.NotionKey) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Notion API key required")
	}
	if strings.TrimSpace(req.FireworksKey) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Fireworks API key required")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.Notion.RequestTimeout)
	defer cancel()

	sess, err := s.sessions(ctx, strings.TrimSpace(req.NotionKey))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Connection failed: "+err.Error())
	}
	defer func() { _ = sess.Close() }()

	tools := sess.Tools()
	names := make([]string, 0, len(tools))
	for _, t := range tools {
		names = append(names, t.Name)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"status": "connected",
		"model":  s.cfg.LLM.Model,
		"tools":  names,
	})
}

// query runs the tool-calling loop inside the request, bounded by the
// configured wall-clock timeout.
func (s *NotionServer) query(c echo.Context) error {
	var req queryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Query) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Query is required")
	}
	if strings.TrimSpace(req.NotionKey) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Notion API key required")
	}
	if strings.TrimSpace(req.FireworksKey) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Fireworks API key required")
	}

	client, err := s.newLLM(strings.TrimSpace(req.FireworksKey))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.Notion.RequestTimeout)
	defer cancel()

	sess, err := s.sessions(ctx, strings.TrimSpace(req.NotionKey))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Connection failed: "+err.Error())
	}
	defer func() { _ = sess.Close() }()

	started := time.Now()
	out, err := s.agent.Run(ctx, client, sess, strings.TrimSpace(req.Query))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return echo.NewHTTPError(http.StatusRequestTimeout, "request timed out before the assistant finished")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.logger.Printf("query answered in %s after %d iterations (tools: %v)", time.Since(started).Round(time.Millisecond), out.Iterations, out.ToolsUsed)

	return c.JSON(http.StatusOK, map[string]interface{}{
		"response":   out.Response,
		"model":      s.cfg.LLM.Model,
		"tools_used": out.ToolsUsed,
		"iterations": out.Iterations,
	})
}

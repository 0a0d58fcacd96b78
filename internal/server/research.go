package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/salogamer2002/voicedesk/config"
	"github.com/salogamer2002/voicedesk/internal/hub"
	"github.com/salogamer2002/voicedesk/internal/registry"
)

// Runner starts one research run. Implemented by research.Pipeline; handlers
// only launch it, they never wait for it.
type Runner interface {
	Run(ctx context.Context, runID, topic string)
}

// ResearchServer exposes the voice-platform webhooks, the raw status read,
// and the dashboard websocket for the research service.
type ResearchServer struct {
	cfg      *config.Config
	registry *registry.Registry
	hub      *hub.Hub
	runner   Runner
	logger   *log.Logger
	upgrader websocket.Upgrader
}

func NewResearchServer(cfg *config.Config, reg *registry.Registry, h *hub.Hub, runner Runner, logger *log.Logger) *ResearchServer {
	if logger == nil {
		logger = log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	}
	return &ResearchServer{
		cfg:      cfg,
		registry: reg,
		hub:      h,
		runner:   runner,
		logger:   logger,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Start blocks serving HTTP on the configured research address.
func (s *ResearchServer) Start() error {
	e := newEcho(s.logger)
	s.Register(e)
	return e.Start(s.cfg.Server.ResearchAddr)
}

// Register mounts all research routes on e.
func (s *ResearchServer) Register(e *echo.Echo) {
	e.GET("/", s.root)
	e.GET("/health", s.health)
	e.GET("/status/:call_id", s.status)
	e.POST("/webhook/research", s.startResearch)
	e.POST("/webhook/check_status", s.checkStatus)
	e.POST("/webhook/poll_status", s.pollStatus)
	e.GET("/ws", s.websocketHandler)
	registerMetrics(e, s.cfg.Telemetry.Enabled)
}

func (s *ResearchServer) root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"system":  "Voice Research System",
		"status":  "online",
		"version": "2.0",
		"endpoints": map[string]string{
			"health":           "/health",
			"webhook_research": "/webhook/research",
			"webhook_status":   "/webhook/check_status",
			"websocket":        "/ws",
		},
	})
}

func (s *ResearchServer) health(c echo.Context) error {
	searchMode := "Serper (Real-time)"
	if s.cfg.Search.SerperAPIKey == "" {
		searchMode = "Mock Search"
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "online",
		"system":    "Voice Research System",
		"model":     s.cfg.LLM.Model,
		"search":    searchMode,
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *ResearchServer) status(c echo.Context) error {
	callID := c.Param("call_id")
	st, ok := s.registry.Get(callID)
	if !ok {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"call_id": callID,
			"status":  map[string]string{"message": "No research found for this call"},
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"call_id": callID,
		"status":  st,
	})
}

// vapiPayload is the voice platform's webhook envelope. Tool-call arguments
// arrive either as a JSON object or as a JSON-encoded string, so they are
// kept raw until decoding.
type vapiPayload struct {
	Message struct {
		ToolCalls []vapiToolCall `json:"toolCalls"`
		Call      struct {
			ID string `json:"id"`
		} `json:"call"`
		CallID  string `json:"callId"`
		Content string `json:"content"`
	} `json:"message"`
	Call struct {
		ID        string          `json:"id"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"call"`
	CallID string `json:"callId"`
}

type vapiToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

var topicRe = regexp.MustCompile(`(?i)research (?:about )?(.*)`)

func decodeArguments(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err == nil {
		if err := json.Unmarshal([]byte(encoded), &args); err == nil {
			return args
		}
	}
	return nil
}

// extractTopic pulls the research topic out of the webhook in precedence
// order: tool-call arguments, then call-level arguments, then a regex match
// over the transcript content.
func extractTopic(p *vapiPayload) string {
	for _, tc := range p.Message.ToolCalls {
		if tc.Function.Name != "start_research" {
			continue
		}
		if args := decodeArguments(tc.Function.Arguments); args != nil {
			if q, ok := args["query"].(string); ok && strings.TrimSpace(q) != "" {
				return strings.TrimSpace(q)
			}
		}
	}
	if args := decodeArguments(p.Call.Arguments); args != nil {
		if q, ok := args["query"].(string); ok && strings.TrimSpace(q) != "" {
			return strings.TrimSpace(q)
		}
	}
	if content := strings.TrimSpace(p.Message.Content); content != "" {
		if m := topicRe.FindStringSubmatch(content); m != nil {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

func vapiAck(toolCallID, result string) map[string]interface{} {
	return map[string]interface{}{
		"results": []map[string]interface{}{
			{"toolCallId": toolCallID, "result": result},
		},
	}
}

func (s *ResearchServer) startResearch(c echo.Context) error {
	var payload vapiPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook payload")
	}

	toolCallID := "unknown"
	if len(payload.Message.ToolCalls) > 0 {
		toolCallID = payload.Message.ToolCalls[0].ID
	}

	callID := payload.Call.ID
	if callID == "" {
		callID = payload.CallID
	}
	if callID == "" {
		// Without a platform call id the run still needs a unique key;
		// status polling will not find it, which the ack cannot fix.
		callID = "generated_" + uuid.NewString()
		s.logger.Printf("webhook carried no call id, generated %s", callID)
	}

	topic := extractTopic(&payload)
	if topic == "" {
		s.logger.Printf("webhook carried no research topic (call %s)", callID)
		return c.JSON(http.StatusOK, vapiAck(toolCallID,
			"I didn't catch the research topic. Could you please tell me what you'd like me to research?"))
	}

	// A repeated id replaces the old run: drop its record and cancel it.
	s.registry.Clear(callID)
	ctx, cancel := context.WithCancel(context.Background())
	s.registry.Track(callID, cancel)

	s.logger.Printf("starting research run %s: %q", callID, topic)
	go s.runner.Run(ctx, callID, topic)

	return c.JSON(http.StatusOK, vapiAck(toolCallID, fmt.Sprintf(
		"Perfect! I'm starting comprehensive research on %s. This will take about 30 to 60 seconds. I'll let you know as soon as the report is ready on your dashboard.", topic)))
}

func statusCallID(p *vapiPayload) string {
	if p.Message.Call.ID != "" {
		return p.Message.Call.ID
	}
	if p.Call.ID != "" {
		return p.Call.ID
	}
	if p.Message.CallID != "" {
		return p.Message.CallID
	}
	return p.CallID
}

func (s *ResearchServer) checkStatus(c echo.Context) error {
	var payload vapiPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook payload")
	}
	callID := statusCallID(&payload)
	if callID == "" {
		return c.JSON(http.StatusOK, map[string]string{"result": "no_call_id"})
	}

	st, ok := s.registry.Get(callID)
	switch {
	case ok && st.Complete && !st.Announced:
		s.registry.MarkAnnounced(callID)
		return c.JSON(http.StatusOK, map[string]string{"result": completionMessage(st)})
	case ok && st.Complete && st.Announced:
		return c.JSON(http.StatusOK, map[string]string{"result": "already_announced"})
	case ok && st.Error != "":
		return c.JSON(http.StatusOK, map[string]string{
			"result": fmt.Sprintf("Research encountered an error: %s. Want to try again?", st.Error),
		})
	case ok && st.InProgress:
		return c.JSON(http.StatusOK, map[string]string{"result": "still_in_progress"})
	default:
		return c.JSON(http.StatusOK, map[string]string{"result": "no_research_started"})
	}
}

// pollStatus mirrors checkStatus but never tells the caller nothing is
// running: a missing record reads as still in progress so the voice side
// keeps polling instead of giving up.
func (s *ResearchServer) pollStatus(c echo.Context) error {
	var payload vapiPayload
	if err := c.Bind(&payload); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook payload")
	}
	callID := statusCallID(&payload)
	if callID == "" {
		return c.JSON(http.StatusOK, map[string]string{"result": "still_in_progress"})
	}

	st, ok := s.registry.Get(callID)
	switch {
	case ok && st.Complete && !st.Announced:
		s.registry.MarkAnnounced(callID)
		return c.JSON(http.StatusOK, map[string]string{"result": completionMessage(st)})
	case ok && st.Complete && st.Announced:
		return c.JSON(http.StatusOK, map[string]string{"result": "already_announced"})
	case ok && st.Error != "":
		return c.JSON(http.StatusOK, map[string]string{
			"result": fmt.Sprintf("Research encountered an error: %s. Would you like to try again?", st.Error),
		})
	default:
		return c.JSON(http.StatusOK, map[string]string{"result": "still_in_progress"})
	}
}

func completionMessage(st registry.RunStatus) string {
	query := st.Query
	if query == "" {
		query = "your topic"
	}
	confidence := st.Confidence
	if confidence == "" {
		confidence = "Unknown"
	}
	return fmt.Sprintf(
		"Research on %s is complete! Found %d sources with %s confidence. Your detailed report is ready on the dashboard. Would you like to research another topic?",
		query, st.SourceCount, confidence)
}

// websocketHandler upgrades the connection and parks it on the hub. The
// service never consumes client messages; the read loop only detects
// disconnects.
func (s *ResearchServer) websocketHandler(c echo.Context) error {
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	sub := s.hub.Subscribe(conn)
	defer func() {
		s.hub.Unsubscribe(sub)
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}

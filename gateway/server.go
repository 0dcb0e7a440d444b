// Package gateway is the host application boundary: an HTTP API for
// the query and command operations, plus a WebSocket stream fanning
// out orchestrator lifecycle events.
package gateway

import (
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/vyotiq-ai/vyotiq-agent-sub016/agent"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/debug"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/discovery"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/health"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/trace"
)

// Server exposes the agent core over HTTP.
type Server struct {
	orch        *agent.Orchestrator
	monitor     *health.Monitor
	index       *discovery.Index
	tracer      *trace.Tracer
	breakpoints *debug.Evaluator
	recorder    *debug.Recorder
	inspector   *debug.Inspector
	hub         *Hub
	echo        *echo.Echo
}

// Deps are the components the server fronts.
type Deps struct {
	Orchestrator *agent.Orchestrator
	Monitor      *health.Monitor
	Index        *discovery.Index
	Tracer       *trace.Tracer
	Breakpoints  *debug.Evaluator
	Recorder     *debug.Recorder
	Inspector    *debug.Inspector
}

// New builds the server and registers all routes.
func New(deps Deps) *Server {
	s := &Server{
		orch:        deps.Orchestrator,
		monitor:     deps.Monitor,
		index:       deps.Index,
		tracer:      deps.Tracer,
		breakpoints: deps.Breakpoints,
		recorder:    deps.Recorder,
		inspector:   deps.Inspector,
		hub:         NewHub(),
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	e.GET("/ws", s.handleWebSocket)

	v1 := e.Group("/v1")
	v1.POST("/sessions", s.CreateSession)
	v1.GET("/sessions", s.ListSessions)
	v1.GET("/sessions/:id", s.GetSession)
	v1.DELETE("/sessions/:id", s.DeleteSession)

	v1.POST("/sessions/:id/runs", s.StartRun)
	v1.POST("/sessions/:id/pause", s.PauseRun)
	v1.POST("/sessions/:id/resume", s.ResumeRun)
	v1.POST("/sessions/:id/step", s.StepRun)
	v1.POST("/sessions/:id/cancel", s.CancelRun)
	v1.POST("/sessions/:id/steer", s.Steer)

	v1.GET("/sessions/:id/health", s.GetHealth)
	v1.GET("/sessions/:id/issues", s.GetIssues)

	v1.GET("/confirmations", s.ListConfirmations)
	v1.POST("/confirmations/:id/confirm", s.Confirm)
	v1.POST("/confirmations/:id/reject", s.Reject)

	v1.GET("/tools/search", s.SearchTools)
	v1.GET("/sessions/:id/tools", s.SessionTools)

	v1.GET("/sessions/:id/breakpoints", s.ListBreakpoints)
	v1.POST("/sessions/:id/breakpoints", s.SetBreakpoint)
	v1.POST("/breakpoints/:id/toggle", s.ToggleBreakpoint)
	v1.DELETE("/breakpoints/:id", s.RemoveBreakpoint)

	v1.GET("/traces/:id/export", s.ExportTrace)

	v1.GET("/sessions/:id/recording", s.GetRecording)
	v1.POST("/sessions/:id/snapshots", s.CaptureSnapshot)
	v1.GET("/sessions/:id/snapshots", s.ListSnapshots)
	v1.GET("/sessions/:id/snapshots/diff", s.DiffSnapshots)

	s.echo = e
	return s
}

// Hub returns the broadcast hub so the host can feed it events.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until the listener fails.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown closes the websocket hub and the HTTP listener.
func (s *Server) Shutdown() {
	s.hub.Close()
	if err := s.echo.Close(); err != nil {
		log.Printf("ERROR: gateway shutdown: %v", err)
	}
}

// CreateSession creates a session.
// POST /v1/sessions
func (s *Server) CreateSession(c echo.Context) error {
	var cfg agent.SessionConfig
	if err := c.Bind(&cfg); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	id := s.orch.CreateSession(cfg)
	view, _ := s.orch.Session(id)
	return c.JSON(http.StatusOK, view)
}

// ListSessions lists all sessions.
// GET /v1/sessions
func (s *Server) ListSessions(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"sessions": s.orch.Sessions(),
	})
}

// GetSession returns one session.
// GET /v1/sessions/:id
func (s *Server) GetSession(c echo.Context) error {
	view, ok := s.orch.Session(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not found"})
	}
	return c.JSON(http.StatusOK, view)
}

// DeleteSession cancels any active run and destroys the session.
// DELETE /v1/sessions/:id
func (s *Server) DeleteSession(c echo.Context) error {
	if err := s.orch.DeleteSession(c.Param("id")); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// StartRunRequest is the request to start a run.
type StartRunRequest struct {
	Input string `json:"input"`
}

// StartRun starts a run for a session.
// POST /v1/sessions/:id/runs
func (s *Server) StartRun(c echo.Context) error {
	var req StartRunRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Input == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "input is required"})
	}

	runID, err := s.orch.Start(c.Request().Context(), c.Param("id"), req.Input)
	if err != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"run_id": runID})
}

// PauseRun requests suspension at the next gate.
// POST /v1/sessions/:id/pause
func (s *Server) PauseRun(c echo.Context) error {
	return s.runCommand(c, s.orch.Pause)
}

// ResumeRun continues a paused run.
// POST /v1/sessions/:id/resume
func (s *Server) ResumeRun(c echo.Context) error {
	return s.runCommand(c, s.orch.Resume)
}

// StepRun advances a paused run by one gate.
// POST /v1/sessions/:id/step
func (s *Server) StepRun(c echo.Context) error {
	return s.runCommand(c, s.orch.Step)
}

// CancelRun terminates the active run.
// POST /v1/sessions/:id/cancel
func (s *Server) CancelRun(c echo.Context) error {
	return s.runCommand(c, s.orch.Cancel)
}

func (s *Server) runCommand(c echo.Context, fn func(string) error) error {
	if err := fn(c.Param("id")); err != nil {
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// SteerRequest carries a steering or follow-up message.
type SteerRequest struct {
	Message  string `json:"message"`
	FollowUp bool   `json:"follow_up"`
}

// Steer injects guidance into a running session.
// POST /v1/sessions/:id/steer
func (s *Server) Steer(c echo.Context) error {
	var req SteerRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Message == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "message is required"})
	}

	var err error
	if req.FollowUp {
		err = s.orch.FollowUp(c.Param("id"), req.Message)
	} else {
		err = s.orch.Steer(c.Param("id"), req.Message)
	}
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// GetHealth returns the session's health status.
// GET /v1/sessions/:id/health
func (s *Server) GetHealth(c echo.Context) error {
	status, ok := s.monitor.GetHealthStatus(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "session not monitored"})
	}
	return c.JSON(http.StatusOK, status)
}

// GetIssues returns the session's retained health issues.
// GET /v1/sessions/:id/issues
func (s *Server) GetIssues(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"issues": s.monitor.Issues(c.Param("id")),
	})
}

// ListConfirmations lists open confirmation requests.
// GET /v1/confirmations?session_id=...
func (s *Server) ListConfirmations(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"confirmations": s.orch.PendingConfirmations(c.QueryParam("session_id")),
	})
}

// Confirm approves a pending tool call.
// POST /v1/confirmations/:id/confirm
func (s *Server) Confirm(c echo.Context) error {
	if err := s.orch.Confirm(c.Param("id")); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// RejectRequest carries the operator's rejection reason.
type RejectRequest struct {
	Reason string `json:"reason"`
}

// Reject declines a pending tool call.
// POST /v1/confirmations/:id/reject
func (s *Server) Reject(c echo.Context) error {
	var req RejectRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if err := s.orch.Reject(c.Param("id"), req.Reason); err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// SearchTools runs a relevance query over the deferred tool pool.
// GET /v1/tools/search?q=...&session_id=...
func (s *Server) SearchTools(c echo.Context) error {
	query := c.QueryParam("q")
	if query == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "q is required"})
	}
	refs := s.index.Search(query, c.QueryParam("session_id"))
	return c.JSON(http.StatusOK, map[string]interface{}{"results": refs})
}

// SessionTools returns the tools visible to a session plus the token
// savings estimate.
// GET /v1/sessions/:id/tools
func (s *Server) SessionTools(c echo.Context) error {
	id := c.Param("id")
	descs := s.index.ToolsForSession(id)
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"tools":         names,
		"loaded":        s.index.SessionLoadedTools(id),
		"token_savings": s.index.TokenSavings(id),
	})
}

// ListBreakpoints returns a session's breakpoints.
// GET /v1/sessions/:id/breakpoints
func (s *Server) ListBreakpoints(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"breakpoints": s.breakpoints.Breakpoints(c.Param("id")),
	})
}

// SetBreakpoint creates a breakpoint for a session.
// POST /v1/sessions/:id/breakpoints
func (s *Server) SetBreakpoint(c echo.Context) error {
	var bp debug.Breakpoint
	if err := c.Bind(&bp); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	switch bp.Type {
	case debug.BreakOnTool:
		if bp.ToolName == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "tool_name is required for tool breakpoints"})
		}
	case debug.BreakOnError:
	case debug.BreakOnIteration:
		if bp.Iteration <= 0 {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "iteration is required for iteration breakpoints"})
		}
	default:
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "type must be tool, error, or iteration"})
	}
	return c.JSON(http.StatusOK, s.breakpoints.Set(c.Param("id"), bp))
}

// ToggleBreakpoint flips a breakpoint's enabled flag.
// POST /v1/breakpoints/:id/toggle
func (s *Server) ToggleBreakpoint(c echo.Context) error {
	if !s.breakpoints.Toggle(c.Param("id")) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "breakpoint not found"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// RemoveBreakpoint deletes a breakpoint.
// DELETE /v1/breakpoints/:id
func (s *Server) RemoveBreakpoint(c echo.Context) error {
	if !s.breakpoints.Remove(c.Param("id")) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "breakpoint not found"})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"ok": true})
}

// ExportTrace renders a trace.
// GET /v1/traces/:id/export?format=json|report
func (s *Server) ExportTrace(c echo.Context) error {
	format := c.QueryParam("format")
	if format == "" {
		format = trace.FormatJSON
	}
	out, err := s.tracer.Export(c.Param("id"), format)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	if format == trace.FormatReport {
		return c.String(http.StatusOK, out)
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, []byte(out))
}

// GetRecording returns the session's replay log.
// GET /v1/sessions/:id/recording
func (s *Server) GetRecording(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries": s.recorder.Entries(c.Param("id")),
	})
}

// CaptureSnapshotRequest names a snapshot.
type CaptureSnapshotRequest struct {
	Label string `json:"label"`
}

// CaptureSnapshot captures the session's current state.
// POST /v1/sessions/:id/snapshots
func (s *Server) CaptureSnapshot(c echo.Context) error {
	var req CaptureSnapshotRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	snap, err := s.orch.CaptureState(c.Param("id"), req.Label)
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, snap)
}

// ListSnapshots returns a session's snapshots.
// GET /v1/sessions/:id/snapshots
func (s *Server) ListSnapshots(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"snapshots": s.inspector.Snapshots(c.Param("id")),
	})
}

// DiffSnapshots compares two snapshots.
// GET /v1/sessions/:id/snapshots/diff?before=...&after=...
func (s *Server) DiffSnapshots(c echo.Context) error {
	changes, err := s.inspector.Diff(c.Param("id"), c.QueryParam("before"), c.QueryParam("after"))
	if err != nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"changes": changes})
}

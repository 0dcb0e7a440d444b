package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyotiq-ai/vyotiq-agent-sub016/agent"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/debug"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/discovery"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/health"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/llm"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/tool"
	"github.com/vyotiq-ai/vyotiq-agent-sub016/trace"
)

type stubProvider struct{ response *llm.Response }

func (p *stubProvider) Name() string { return "mock" }
func (p *stubProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return p.response, nil
}

type testServer struct {
	srv         *Server
	orch        *agent.Orchestrator
	monitor     *health.Monitor
	index       *discovery.Index
	tracer      *trace.Tracer
	breakpoints *debug.Evaluator
	recorder    *debug.Recorder
	inspector   *debug.Inspector
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	index := discovery.NewIndex(discovery.Config{})
	index.RegisterTool(tool.Descriptor{
		Name:           "lsp_symbols",
		Description:    "List symbol definitions via the language server",
		Deferred:       true,
		SearchKeywords: []string{"symbol", "definition"},
		RiskLevel:      tool.RiskSafe,
		Execute: func(ctx context.Context, args json.RawMessage) (*tool.Result, error) {
			return &tool.Result{Success: true, Output: "ok"}, nil
		},
	})
	monitor := health.NewMonitor(health.DefaultConfig())
	tracer := trace.NewTracer()
	breakpoints := debug.NewEvaluator()
	recorder := debug.NewRecorder(100)
	inspector := debug.NewInspector()
	orch := agent.NewOrchestrator(agent.Deps{
		Client: llm.NewClient(llm.WithProvider("mock", &stubProvider{
			response: &llm.Response{
				Provider: "mock",
				Message:  llm.AssistantMessage("done"),
				Usage:    llm.Usage{InputTokens: 100, OutputTokens: 10},
			},
		})),
		Discovery:   index,
		Health:      monitor,
		Tracer:      tracer,
		Breakpoints: breakpoints,
		Recorder:    recorder,
		Inspector:   inspector,
	})
	srv := New(Deps{
		Orchestrator: orch,
		Monitor:      monitor,
		Index:        index,
		Tracer:       tracer,
		Breakpoints:  breakpoints,
		Recorder:     recorder,
		Inspector:    inspector,
	})
	return &testServer{
		srv: srv, orch: orch, monitor: monitor, index: index,
		tracer: tracer, breakpoints: breakpoints, recorder: recorder, inspector: inspector,
	}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) createSession(t *testing.T) string {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/v1/sessions", `{"model":"claude-sonnet-4-5"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var view agent.SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.NotEmpty(t, view.ID)
	return view.ID
}

func waitCompleted(t *testing.T, orch *agent.Orchestrator, sessionID string) {
	t.Helper()
	stop := time.Now().Add(3 * time.Second)
	for time.Now().Before(stop) {
		if v, ok := orch.Session(sessionID); ok && v.Status == agent.StatusCompleted {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("run never completed")
}

func TestSessionLifecycleOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	rec := ts.do(t, http.MethodGet, "/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/sessions", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	rec = ts.do(t, http.MethodDelete, "/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+id, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStartRunOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/runs", `{"input":"do the thing"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["run_id"])

	waitCompleted(t, ts.orch, id)

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+id+"/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var status health.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, 100, status.Score)
}

func TestStartRunValidation(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/runs", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/sessions/unknown/runs", `{"input":"x"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRunCommandsRequireActiveRun(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	for _, cmd := range []string{"pause", "resume", "step", "cancel"} {
		rec := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/"+cmd, "")
		assert.Equal(t, http.StatusConflict, rec.Code, "command %s", cmd)
	}
}

func TestSteerValidation(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/steer", `{"message":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/steer", `{"message":"focus"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/sessions/unknown/steer", `{"message":"focus"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToolSearchOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/tools/search?q=find+symbol+definitions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lsp_symbols")

	rec = ts.do(t, http.MethodGet, "/v1/tools/search", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionToolsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	rec := ts.do(t, http.MethodGet, "/v1/sessions/"+id+"/tools", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Tools        []string `json:"tools"`
		Loaded       []string `json:"loaded"`
		TokenSavings int      `json:"token_savings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotContains(t, resp.Tools, "lsp_symbols")
	assert.Equal(t, 150, resp.TokenSavings)
}

func TestBreakpointCRUDOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/breakpoints", `{"type":"tool","tool_name":"terminal"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var bp debug.Breakpoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &bp))
	assert.True(t, bp.Enabled)

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+id+"/breakpoints", "")
	assert.Contains(t, rec.Body.String(), bp.ID)

	rec = ts.do(t, http.MethodPost, "/v1/breakpoints/"+bp.ID+"/toggle", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/v1/breakpoints/"+bp.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/v1/breakpoints/"+bp.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBreakpointValidation(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	cases := []string{
		`{"type":"tool"}`,
		`{"type":"iteration"}`,
		`{"type":"bogus"}`,
	}
	for _, body := range cases {
		rec := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/breakpoints", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body %s", body)
	}

	rec := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/breakpoints", `{"type":"error"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestTraceExportOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/runs", `{"input":"go"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	waitCompleted(t, ts.orch, id)

	view, _ := ts.orch.Session(id)
	traceID := view.Run.TraceID

	rec = ts.do(t, http.MethodGet, "/v1/traces/"+traceID+"/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var tr trace.Trace
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tr))
	assert.Equal(t, trace.StatusCompleted, tr.Status)

	rec = ts.do(t, http.MethodGet, "/v1/traces/"+traceID+"/export?format=report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Execution Trace")

	rec = ts.do(t, http.MethodGet, "/v1/traces/missing/export", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordingAndSnapshotsOverHTTP(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	rec := ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/runs", `{"input":"go"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	waitCompleted(t, ts.orch, id)

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+id+"/recording", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "run-started")

	rec = ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/snapshots", `{"label":"first"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var before debug.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &before))

	rec = ts.do(t, http.MethodPost, "/v1/sessions/"+id+"/snapshots", `{"label":"second"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var after debug.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+id+"/snapshots", "")
	assert.Contains(t, rec.Body.String(), before.ID)

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+id+"/snapshots/diff?before="+before.ID+"&after="+after.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/v1/sessions/"+id+"/snapshots/diff?before="+before.ID+"&after=snap-999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestConfirmationsOverHTTP(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/v1/confirmations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "confirmations")

	rec = ts.do(t, http.MethodPost, "/v1/confirmations/missing/confirm", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodPost, "/v1/confirmations/missing/reject", `{"reason":"no"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealthNotMonitored(t *testing.T) {
	ts := newTestServer(t)
	id := ts.createSession(t)

	// No run started, so the monitor has no state yet.
	rec := ts.do(t, http.MethodGet, "/v1/sessions/"+id+"/health", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

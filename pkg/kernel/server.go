package kernel

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bkowalski/fleetcore/internal/core/domain"
	"github.com/bkowalski/fleetcore/internal/core/services"
	"github.com/rs/cors"
)

// Server exposes the orchestrator over a thin JSON API. No dashboard and no
// auth live here — this is the programmatic surface only.
type Server struct {
	logger *slog.Logger
	orch   *services.Orchestrator
}

func NewServer(logger *slog.Logger, orch *services.Orchestrator) *Server {
	return &Server{logger: logger, orch: orch}
}

// Handler builds the full middleware chain: CORS on the outside, OpenAPI
// request validation inside it, then the mux.
func (s *Server) Handler() (http.Handler, error) {
	mux := http.NewServeMux()
	s.routes(mux)

	validated, err := ValidationMiddleware(s.logger, mux)
	if err != nil {
		return nil, fmt.Errorf("init request validation: %w", err)
	}
	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(validated), nil
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/jobs", s.handleListJobs)
	mux.HandleFunc("POST /v1/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /v1/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /v1/jobs/{id}", s.handleCancelJob)
	mux.HandleFunc("GET /v1/jobs/{id}/events", s.handleJobEvents)

	mux.HandleFunc("GET /v1/subagents", s.handleListSubagents)
	mux.HandleFunc("POST /v1/subagents", s.handleCreateSubagent)
	mux.HandleFunc("POST /v1/subagents/{id}/stop", s.handleStopSubagent)
	mux.HandleFunc("DELETE /v1/subagents/{id}", s.handleRemoveSubagent)

	mux.HandleFunc("GET /v1/nodes", s.handleListNodes)
	mux.HandleFunc("POST /v1/nodes/refresh", s.handleRefreshNodes)
	mux.HandleFunc("GET /v1/nodes/{id}", s.handleGetNode)
	mux.HandleFunc("POST /v1/nodes/{id}/execute", s.handleExecute)
	mux.HandleFunc("POST /v1/nodes/{id}/wake", s.handleWake)
	mux.HandleFunc("POST /v1/route-execute", s.handleRouteExecute)

	mux.HandleFunc("GET /v1/resources", s.handleListResources)
	mux.HandleFunc("POST /v1/resources/refresh", s.handleRefreshResources)

	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/history/executions", s.handleHistory)
}

// --- jobs ---

type createJobRequest struct {
	Type       string         `json:"type"`
	Params     map[string]any `json:"params"`
	Priority   string         `json:"priority"`
	MaxRetries *int           `json:"max_retries"`
	SubagentID string         `json:"subagent_id"`
	Notify     bool           `json:"notify_on_complete"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}
	job := s.orch.CreateJob(req.Type, req.Params, services.CreateJobOpts{
		Priority:         domain.JobPriority(req.Priority),
		MaxRetries:       req.MaxRetries,
		SubagentID:       domain.SubagentID(req.SubagentID),
		NotifyOnComplete: req.Notify,
	})
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetJobs())
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.orch.GetJob(domain.JobID(r.PathValue("id")))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	ok := s.orch.CancelJob(domain.JobID(r.PathValue("id")))
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})
}

// handleJobEvents streams job events as SSE until the client goes away.
func (s *Server) handleJobEvents(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(r.PathValue("id"))
	if _, err := s.orch.GetJob(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, unsubscribe := s.orch.Subscribe(id)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case evt, open := <-events:
			if !open {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, evt.Data)
			flusher.Flush()
		}
	}
}

// --- subagents ---

type createSubagentRequest struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Capabilities []string `json:"capabilities"`
}

func (s *Server) handleCreateSubagent(w http.ResponseWriter, r *http.Request) {
	var req createSubagentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	sa := s.orch.CreateSubagent(req.Name, req.Type, req.Capabilities)
	writeJSON(w, http.StatusCreated, sa)
}

func (s *Server) handleListSubagents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.ListSubagents())
}

func (s *Server) handleStopSubagent(w http.ResponseWriter, r *http.Request) {
	ok := s.orch.StopSubagent(domain.SubagentID(r.PathValue("id")))
	if !ok {
		writeError(w, http.StatusNotFound, "subagent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": true})
}

func (s *Server) handleRemoveSubagent(w http.ResponseWriter, r *http.Request) {
	ok := s.orch.RemoveSubagent(domain.SubagentID(r.PathValue("id")))
	if !ok {
		writeError(w, http.StatusNotFound, "subagent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
}

// --- nodes ---

func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	if capability := r.URL.Query().Get("capability"); capability != "" {
		writeJSON(w, http.StatusOK, s.orch.GetNodesByCapability(capability))
		return
	}
	writeJSON(w, http.StatusOK, s.orch.GetNodes())
}

func (s *Server) handleRefreshNodes(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.RefreshNodeStatus(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.orch.GetClusterStatus())
}

func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.orch.GetNode(domain.NodeID(r.PathValue("id")))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, node)
}

type executeRequest struct {
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	result := s.orch.ExecuteOnNode(r.Context(), domain.NodeID(r.PathValue("id")), domain.NodeAction(req.Action), req.Params)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.WakeNode(r.Context(), domain.NodeID(r.PathValue("id"))); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

type routeExecuteRequest struct {
	Capability string         `json:"capability"`
	Action     string         `json:"action"`
	Params     map[string]any `json:"params"`
	Wake       *bool          `json:"wake_if_sleeping"`
}

func (s *Server) handleRouteExecute(w http.ResponseWriter, r *http.Request) {
	var req routeExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("decode request: %v", err))
		return
	}
	wake := true
	if req.Wake != nil {
		wake = *req.Wake
	}
	result := s.orch.RouteAndExecute(r.Context(), req.Capability, domain.NodeAction(req.Action), req.Params, wake)
	writeJSON(w, http.StatusOK, result)
}

// --- AI resources, stats, history ---

func (s *Server) handleListResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetResources())
}

func (s *Server) handleRefreshResources(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.CheckAllAIServices(r.Context()))
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetStats())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history := s.orch.History()
	if history == nil {
		writeError(w, http.StatusNotFound, "history store not configured")
		return
	}
	recs, err := history.ListExecutions(r.Context(), 100)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

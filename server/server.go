// Package server provides the HTTP API that starts crawls.
package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/KamdynS/leech/config"
	"github.com/KamdynS/leech/decision"
	"github.com/KamdynS/leech/engine"
	"github.com/KamdynS/leech/flows"
)

// Server provides the HTTP API
type Server struct {
	starter    engine.Starter
	source     config.Source
	domain     string
	taskList   string
	lambdaRole string
	httpServer *http.Server
	port       int
}

// Config holds server configuration
type Config struct {
	Starter engine.Starter
	// Source resolves the version command_fungi is started at. Optional for
	// services that know registered versions themselves.
	Source     config.Source
	Domain     string
	TaskList   string
	LambdaRole string
	Port       int
}

// New creates a new API server
func New(cfg Config) (*Server, error) {
	if cfg.Starter == nil {
		return nil, fmt.Errorf("starter is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}

	server := &Server{
		starter:    cfg.Starter,
		source:     cfg.Source,
		domain:     cfg.Domain,
		taskList:   cfg.TaskList,
		lambdaRole: cfg.LambdaRole,
		port:       cfg.Port,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/executions", server.handleExecutions)
	mux.HandleFunc("/health", server.handleHealth)

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return server, nil
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Printf("[Server] Starting API server on port %d", s.port)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	log.Printf("[Server] Stopping API server")
	return s.httpServer.Shutdown(ctx)
}

// StartExecutionRequest starts a crawl of one identifier stem.
type StartExecutionRequest struct {
	IdentifierStem string `json:"identifier_stem"`
	// WorkflowID defaults to a random id.
	WorkflowID string `json:"workflow_id,omitempty"`
}

// StartExecutionResponse identifies the started execution.
type StartExecutionResponse struct {
	WorkflowID string `json:"workflow_id"`
	RunID      string `json:"run_id"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleExecutions handles POST /executions
func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req StartExecutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.IdentifierStem == "" {
		s.sendError(w, http.StatusBadRequest, "identifier_stem is required")
		return
	}
	if req.WorkflowID == "" {
		req.WorkflowID = uuid.NewString()
	}
	if err := decision.ValidID(req.WorkflowID); err != nil {
		s.sendError(w, http.StatusBadRequest, fmt.Sprintf("workflow_id: %v", err))
		return
	}

	resp, err := s.start(r.Context(), req)
	if err != nil {
		s.sendError(w, http.StatusInternalServerError, fmt.Sprintf("failed to start execution: %v", err))
		return
	}
	s.sendJSON(w, http.StatusOK, resp)
}

func (s *Server) start(ctx context.Context, req StartExecutionRequest) (*StartExecutionResponse, error) {
	input, err := engine.Wrap(flows.CrawlArgs{IdentifierStem: req.IdentifierStem})
	if err != nil {
		return nil, err
	}
	var version string
	if s.source != nil {
		doc, err := s.source.Fetch(ctx, s.domain)
		if err != nil {
			return nil, err
		}
		version = doc.Versions.Workflow(flows.CommandFungi)
	}
	runID, err := s.starter.StartExecution(ctx, engine.StartRequest{
		WorkflowID: req.WorkflowID,
		FlowType:   flows.CommandFungi,
		Version:    version,
		Input:      input,
		TaskList:   s.taskList,
		LambdaRole: s.lambdaRole,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("[Server] Started crawl of %s as %s (%s)", req.IdentifierStem, req.WorkflowID, runID)
	return &StartExecutionResponse{WorkflowID: req.WorkflowID, RunID: runID}, nil
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}

// Package server exposes the scene import tools over MCP (stdio or HTTP).
package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/NERVsystems/osmscene/pkg/tools"
	"github.com/NERVsystems/osmscene/pkg/version"
)

// ServerName is the name of the MCP server
const ServerName = "osmscene"

// Server encapsulates the MCP server with the scene import tools.
type Server struct {
	srv          *mcpserver.MCPServer
	registry     *tools.Registry
	logger       *slog.Logger
	stopCh       chan struct{}
	doneCh       chan struct{}
	running      bool
	mu           sync.Mutex
	once         sync.Once
	ctxCancel    context.CancelFunc
	ctxGoroutine sync.Once
}

// NewServer creates a new MCP server with all tools registered.
func NewServer(deps tools.Deps, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("initializing MCP server",
		"name", ServerName,
		"version", version.BuildVersion)

	srv := mcpserver.NewMCPServer(
		ServerName,
		version.BuildVersion,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithRecovery(),
	)

	registry := tools.NewRegistry(deps, logger)
	registry.RegisterTools(srv)

	return &Server{
		srv:      srv,
		registry: registry,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Run starts the MCP server using stdin/stdout for communication.
// This method blocks until the server is stopped or an error occurs.
func (s *Server) Run() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	go func() {
		defer close(s.doneCh)
		err := mcpserver.ServeStdio(s.srv)
		if err != nil && err != io.EOF {
			s.logger.Error("server error", "error", err)
		}
		s.Shutdown()
	}()

	<-s.stopCh

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	<-s.doneCh
	return nil
}

// RunWithContext starts the MCP server and shuts it down when ctx ends.
func (s *Server) RunWithContext(ctx context.Context) error {
	s.ctxGoroutine.Do(func() {
		derived, cancel := context.WithCancel(ctx)
		s.ctxCancel = cancel

		go func() {
			select {
			case <-derived.Done():
				s.Shutdown()
			case <-s.stopCh:
			}
		}()
	})

	return s.Run()
}

// Shutdown initiates a graceful shutdown of the server. It does not block.
func (s *Server) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	s.once.Do(func() {
		close(s.stopCh)
	})
	if s.ctxCancel != nil {
		s.ctxCancel()
	}
}

// GetMCPServer returns the underlying MCP server instance for HTTP transport
func (s *Server) GetMCPServer() *mcpserver.MCPServer {
	return s.srv
}

// Registry returns the tool registry backing the server.
func (s *Server) Registry() *tools.Registry {
	return s.registry
}

// Handler serves the tools as plain JSON endpoints for clients that do not
// speak MCP.
type Handler struct {
	logger   *slog.Logger
	registry *tools.Registry
}

// NewHandler creates a new server handler
func NewHandler(registry *tools.Registry, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, registry: registry}
}

// ServeHTTP implements the http.Handler interface
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	path := r.URL.Path
	method := r.Method

	reqID := r.Header.Get("X-Request-ID")
	if reqID == "" {
		reqID = generateRequestID()
	}

	h.logger.Info("request started",
		"request_id", reqID,
		"method", method,
		"path", path,
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent())

	var status int
	var err error

	switch path {
	case "/api/import":
		status, err = h.handleImport(w, r)
	case "/api/location":
		status, err = h.handleLocation(w, r)
	default:
		status = http.StatusNotFound
		http.NotFound(w, r)
	}

	duration := time.Since(start)
	if err != nil {
		h.logger.Error("request failed",
			"request_id", reqID,
			"method", method,
			"path", path,
			"status", status,
			"duration", duration,
			"error", err)
	} else {
		h.logger.Info("request completed",
			"request_id", reqID,
			"method", method,
			"path", path,
			"status", status,
			"duration", duration)
	}
}

// handleImport runs import_scene from query parameters.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) (int, error) {
	q := r.URL.Query()
	args := map[string]any{}

	for _, key := range []string{"latitude", "longitude", "length_km"} {
		if v := q.Get(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return writeText(w, http.StatusBadRequest, `{"error":"`+key+` must be a number"}`)
			}
			args[key] = f
		}
	}
	if v := q.Get("elevation"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return writeText(w, http.StatusBadRequest, `{"error":"elevation must be a boolean"}`)
		}
		args["elevation"] = b
	}
	for _, key := range []string{"location", "preset", "format"} {
		if v := q.Get(key); v != "" {
			args[key] = v
		}
	}

	return h.callTool(w, r, "import_scene", args, h.registry.HandleImportScene)
}

// handleLocation runs parse_location on the q parameter.
func (h *Handler) handleLocation(w http.ResponseWriter, r *http.Request) (int, error) {
	args := map[string]any{"location": r.URL.Query().Get("q")}
	return h.callTool(w, r, "parse_location", args, h.registry.HandleParseLocation)
}

func (h *Handler) callTool(w http.ResponseWriter, r *http.Request, name string, args map[string]any, handler tools.ToolHandler) (int, error) {
	result, err := handler(r.Context(), tools.NewRequest(name, args))
	if err != nil {
		return http.StatusInternalServerError, err
	}

	status := http.StatusOK
	if result.IsError {
		status = http.StatusBadRequest
	}
	return writeText(w, status, resultText(result))
}

func resultText(result *mcp.CallToolResult) string {
	for _, c := range result.Content {
		if t, ok := c.(mcp.TextContent); ok {
			return t.Text
		}
	}
	return ""
}

func writeText(w http.ResponseWriter, status int, body string) (int, error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err := w.Write([]byte(body))
	return status, err
}

// generateRequestID generates a unique request ID
func generateRequestID() string {
	return time.Now().Format("20060102150405.000000000")
}

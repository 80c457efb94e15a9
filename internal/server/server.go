// internal/server/server.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/ThinkInAIXYZ/go-mcp/server"
	"github.com/ThinkInAIXYZ/go-mcp/transport"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"mcp-meal-lens/internal/analyzer"
	"mcp-meal-lens/internal/config"
	"mcp-meal-lens/internal/inference"
	"mcp-meal-lens/internal/logger"
	"mcp-meal-lens/internal/models"
	"mcp-meal-lens/internal/storage"
)

const (
	serverName    = "meal-lens"
	serverVersion = "1.0.0"
)

// Storage is the read side the tools need; writes go through the analyzer.
type Storage interface {
	analyzer.Store
	GetAnalysis(ctx context.Context, id string) (*models.Analysis, error)
	ListAnalyses(ctx context.Context, startDate, endDate string, limit int) ([]*models.Analysis, error)
	DeleteAnalysis(ctx context.Context, id string) error
	Close() error
}

type MealLensServer struct {
	server     *server.Server
	sse        *transport.SSEHandler
	httpServer *http.Server
	storage    Storage
	analyzer   *analyzer.Analyzer
	tools      map[string]toolHandler
	config     *config.Config
}

// NewMealLensServer opens storage and the model backend named in cfg.
func NewMealLensServer(cfg *config.Config) (*MealLensServer, error) {
	stor, err := storage.NewSQLiteStorage(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	inf, err := inference.New(cfg.Model)
	if err != nil {
		stor.Close()
		return nil, fmt.Errorf("failed to initialize inference: %w", err)
	}

	an := analyzer.New(inf,
		analyzer.WithStore(stor),
		analyzer.WithModelName(cfg.Model.Name))

	srv, err := New(cfg, stor, an)
	if err != nil {
		stor.Close()
		return nil, err
	}
	return srv, nil
}

// New assembles a server from already-built parts.
func New(cfg *config.Config, stor Storage, an *analyzer.Analyzer) (*MealLensServer, error) {
	mealServer := &MealLensServer{
		storage:  stor,
		analyzer: an,
		config:   cfg,
	}

	// The SSE transport is mounted on the chi router below instead of
	// running its own listener.
	mcpLogger := logger.L().Sugar()
	sseTransport, sseHandler, err := transport.NewSSEServerTransportAndHandler(
		cfg.MessageURL(),
		transport.WithSSEServerTransportAndHandlerOptionLogger(mcpLogger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSE transport: %w", err)
	}

	mcpServer, err := server.NewServer(
		sseTransport,
		server.WithServerInfo(protocol.Implementation{
			Name:    serverName,
			Version: serverVersion,
		}),
		server.WithLogger(mcpLogger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create MCP server: %w", err)
	}
	mealServer.server = mcpServer
	mealServer.sse = sseHandler

	mealServer.registerTools()

	mealServer.httpServer = &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mealServer.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return mealServer, nil
}

func (s *MealLensServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Post("/", s.handleToolCall)
	r.Method(http.MethodGet, "/sse", s.sse.HandleSSE())
	r.Method(http.MethodPost, "/message", s.sse.HandleMessage())
	r.Post("/analyze", s.handleUpload)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return r
}

// Handler exposes the router, mainly for tests.
func (s *MealLensServer) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *MealLensServer) handleToolCall(w http.ResponseWriter, r *http.Request) {
	var request protocol.CallToolRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	handler, ok := s.tools[request.Name]
	if !ok {
		http.Error(w, fmt.Sprintf("Unknown tool: %s", request.Name), http.StatusNotFound)
		return
	}

	result, err := handler(r.Context(), &request)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			logger.Error("tool call failed", zap.String("tool", request.Name), zap.Error(err))
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *MealLensServer) Start(ctx context.Context) error {
	logger.Info("starting meal lens server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *MealLensServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	// Closes open SSE sessions so the HTTP shutdown is not held by streams.
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	if s.httpServer != nil {
		if herr := s.httpServer.Shutdown(ctx); herr != nil && err == nil {
			err = herr
		}
	}
	if s.storage != nil {
		if cerr := s.storage.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

func (s *MealLensServer) createJSONResponse(data interface{}) (*protocol.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal response: %w", err)
	}

	return &protocol.CallToolResult{
		Content: []protocol.Content{
			protocol.TextContent{
				Type: "text",
				Text: string(jsonBytes),
			},
		},
	}, nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

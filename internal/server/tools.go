// internal/server/tools.go
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ThinkInAIXYZ/go-mcp/protocol"
	"github.com/ThinkInAIXYZ/go-mcp/server"
	"go.uber.org/zap"

	"mcp-meal-lens/internal/analyzer"
	"mcp-meal-lens/internal/inference"
	"mcp-meal-lens/internal/logger"
	"mcp-meal-lens/internal/models"
	"mcp-meal-lens/internal/nutrition"
	"mcp-meal-lens/internal/storage"
)

type toolHandler func(context.Context, *protocol.CallToolRequest) (*protocol.CallToolResult, error)

type ParseResponseParams struct {
	Text string `json:"text" description:"Raw model output containing json code blocks"`
}

type GetAnalysesParams struct {
	StartDate string `json:"start_date,omitempty" description:"Start date for analysis query (YYYY-MM-DD)"`
	EndDate   string `json:"end_date,omitempty" description:"End date for analysis query (YYYY-MM-DD)"`
	Limit     int    `json:"limit,omitempty" description:"Maximum number of analyses to return"`
}

type AnalysisIDParams struct {
	ID string `json:"id" description:"Analysis id"`
}

var errInvalidParams = errors.New("invalid parameters")

// extractParams safely extracts parameters from the request arguments
func extractParams(req *protocol.CallToolRequest, target interface{}) error {
	jsonBytes, err := json.Marshal(req.Arguments)
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	if err := json.Unmarshal(jsonBytes, target); err != nil {
		return fmt.Errorf("%w: %v", errInvalidParams, err)
	}
	return nil
}

// statusFor maps tool errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errInvalidParams),
		errors.Is(err, analyzer.ErrNoImages),
		errors.Is(err, nutrition.ErrUnknownGoal),
		errors.Is(err, inference.ErrUnsupportedImage):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// handleAnalyzeMeals runs the full two-call analysis over uploaded images.
func (s *MealLensServer) handleAnalyzeMeals(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params models.AnalyzeRequest
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}

	images := make([]inference.Image, 0, len(params.Images))
	for i, up := range params.Images {
		name := up.Name
		if name == "" {
			name = fmt.Sprintf("image-%d", i+1)
		}
		img, err := inference.DecodeImage(name, up.Data)
		if err != nil {
			if errors.Is(err, inference.ErrUnsupportedImage) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", errInvalidParams, err)
		}
		images = append(images, img)
	}

	analysis, err := s.analyzer.Analyze(ctx, analyzer.Request{Goals: params.Goals, Images: images})
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(analysis)
}

// handleParseResponse parses canned model output without calling a model.
func (s *MealLensServer) handleParseResponse(_ context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params ParseResponseParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if strings.TrimSpace(params.Text) == "" {
		return nil, fmt.Errorf("%w: text is required", errInvalidParams)
	}
	return s.createJSONResponse(s.analyzer.Parse(params.Text))
}

func (s *MealLensServer) handleListGoals(_ context.Context, _ *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	return s.createJSONResponse(map[string]interface{}{
		"goals":     nutrition.Goals,
		"nutrients": models.Nutrients,
	})
}

// handleGetAnalyses retrieves analyses from storage
func (s *MealLensServer) handleGetAnalyses(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params GetAnalysesParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	for _, d := range []string{params.StartDate, params.EndDate} {
		if d == "" {
			continue
		}
		if _, err := time.Parse(time.DateOnly, d); err != nil {
			return nil, fmt.Errorf("%w: invalid date %q", errInvalidParams, d)
		}
	}

	if params.Limit <= 0 {
		params.Limit = 20
	}

	analyses, err := s.storage.ListAnalyses(ctx, params.StartDate, params.EndDate, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve analyses: %w", err)
	}
	return s.createJSONResponse(analyses)
}

func (s *MealLensServer) handleGetAnalysis(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params AnalysisIDParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, fmt.Errorf("%w: id is required", errInvalidParams)
	}

	analysis, err := s.storage.GetAnalysis(ctx, params.ID)
	if err != nil {
		return nil, err
	}
	return s.createJSONResponse(analysis)
}

func (s *MealLensServer) handleDeleteAnalysis(ctx context.Context, req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
	var params AnalysisIDParams
	if err := extractParams(req, &params); err != nil {
		return nil, err
	}
	if params.ID == "" {
		return nil, fmt.Errorf("%w: id is required", errInvalidParams)
	}

	if err := s.storage.DeleteAnalysis(ctx, params.ID); err != nil {
		return nil, err
	}
	return s.createJSONResponse(map[string]interface{}{"deleted": params.ID})
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{"type": "string", "description": description}
}

func toolDefinitions() []*protocol.Tool {
	return []*protocol.Tool{
		{
			Name:        "analyze_meals",
			Description: "Analyze meal photos into per-meal nutrition, daily totals and a summary",
			InputSchema: protocol.InputSchema{
				Type: protocol.Object,
				Properties: map[string]interface{}{
					"goals": map[string]interface{}{
						"type":        "array",
						"items":       map[string]interface{}{"type": "string", "enum": nutrition.Goals},
						"description": "Nutrition goals to tailor comments to",
					},
					"images": map[string]interface{}{
						"type": "array",
						"items": map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"name": stringProp("File name, used to detect the image type"),
								"data": stringProp("Base64 image data or a data URL"),
							},
							"required": []string{"data"},
						},
						"description": "Meal photos (jpg, png, bmp, webp, tiff)",
					},
				},
				Required: []string{"images"},
			},
		},
		{
			Name:        "parse_response",
			Description: "Parse raw model output into meals and totals without calling a model",
			InputSchema: protocol.InputSchema{
				Type:       protocol.Object,
				Properties: map[string]interface{}{"text": stringProp("Raw model output containing json code blocks")},
				Required:   []string{"text"},
			},
		},
		{
			Name:        "list_goals",
			Description: "List the supported nutrition goals and tracked nutrients",
			InputSchema: protocol.InputSchema{Type: protocol.Object},
		},
		{
			Name:        "get_analyses",
			Description: "List stored analyses, newest first",
			InputSchema: protocol.InputSchema{
				Type: protocol.Object,
				Properties: map[string]interface{}{
					"start_date": stringProp("Start date for analysis query (YYYY-MM-DD)"),
					"end_date":   stringProp("End date for analysis query (YYYY-MM-DD)"),
					"limit": map[string]interface{}{
						"type":        "integer",
						"description": "Maximum number of analyses to return (default 20)",
					},
				},
			},
		},
		{
			Name:        "get_analysis",
			Description: "Get one stored analysis by id",
			InputSchema: protocol.InputSchema{
				Type:       protocol.Object,
				Properties: map[string]interface{}{"id": stringProp("Analysis id")},
				Required:   []string{"id"},
			},
		},
		{
			Name:        "delete_analysis",
			Description: "Delete one stored analysis by id",
			InputSchema: protocol.InputSchema{
				Type:       protocol.Object,
				Properties: map[string]interface{}{"id": stringProp("Analysis id")},
				Required:   []string{"id"},
			},
		},
	}
}

func (s *MealLensServer) registerTools() {
	s.tools = map[string]toolHandler{
		"analyze_meals":   s.handleAnalyzeMeals,
		"parse_response":  s.handleParseResponse,
		"list_goals":      s.handleListGoals,
		"get_analyses":    s.handleGetAnalyses,
		"get_analysis":    s.handleGetAnalysis,
		"delete_analysis": s.handleDeleteAnalysis,
	}

	for _, tool := range toolDefinitions() {
		s.server.RegisterTool(tool, mcpHandler(tool.Name, s.tools[tool.Name]))
		logger.Debug("registered tool", zap.String("tool", tool.Name))
	}
}

// mcpHandler adapts a tool handler to go-mcp. Tool failures are reported as
// error results so the client sees the message rather than a protocol error.
func mcpHandler(name string, h toolHandler) server.ToolHandlerFunc {
	return func(req *protocol.CallToolRequest) (*protocol.CallToolResult, error) {
		result, err := h(context.Background(), req)
		if err != nil {
			if statusFor(err) == http.StatusInternalServerError {
				logger.Error("tool call failed", zap.String("tool", name), zap.Error(err))
			}
			return &protocol.CallToolResult{
				Content: []protocol.Content{protocol.TextContent{Type: "text", Text: err.Error()}},
				IsError: true,
			}, nil
		}
		return result, nil
	}
}

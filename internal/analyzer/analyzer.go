// Package analyzer runs the two-call meal analysis: per-image breakdown, then
// a whole-day summary over the parsed meals.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mcp-meal-lens/internal/extract"
	"mcp-meal-lens/internal/inference"
	"mcp-meal-lens/internal/logger"
	"mcp-meal-lens/internal/models"
	"mcp-meal-lens/internal/nutrition"
)

var ErrNoImages = errors.New("at least one meal image is required")

// Store persists finished analyses.
type Store interface {
	SaveAnalysis(ctx context.Context, a *models.Analysis) error
}

type Request struct {
	Goals  []string
	Images []inference.Image
}

// Parsed is the structured view of one model response.
type Parsed struct {
	Meals         []models.MealRecord `json:"meals"`
	Totals        models.Totals       `json:"totals"`
	Foods         []string            `json:"foods"`
	SkippedBlocks int                 `json:"skipped_blocks"`
}

type Analyzer struct {
	inferencer inference.Inferencer
	store      Store
	model      string
	now        func() time.Time
	newID      func() string
}

type Option func(*Analyzer)

// WithStore saves every successful analysis.
func WithStore(s Store) Option {
	return func(a *Analyzer) {
		a.store = s
	}
}

// WithModelName records the model name on each analysis.
func WithModelName(name string) Option {
	return func(a *Analyzer) {
		a.model = name
	}
}

func New(inf inference.Inferencer, opts ...Option) *Analyzer {
	a := &Analyzer{
		inferencer: inf,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze runs both model calls and returns the assembled analysis.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*models.Analysis, error) {
	if len(req.Images) == 0 {
		return nil, ErrNoImages
	}
	goals, err := nutrition.ParseGoals(req.Goals)
	if err != nil {
		return nil, err
	}

	mealText, err := a.inferencer.Infer(ctx, nutrition.MealPrompt(goals), req.Images)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze meal images: %w", err)
	}
	parsed := a.Parse(mealText)
	logger.Info("meal images analyzed",
		zap.Int("images", len(req.Images)),
		zap.Int("meals", len(parsed.Meals)),
		zap.Int("skipped_blocks", parsed.SkippedBlocks))

	summary, err := a.inferencer.Infer(ctx, nutrition.SummaryPrompt(goals, parsed.Meals), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize meals: %w", err)
	}

	analysis := &models.Analysis{
		ID:            a.newID(),
		Goals:         goals,
		Meals:         parsed.Meals,
		Summary:       summary,
		Totals:        parsed.Totals,
		Foods:         parsed.Foods,
		SkippedBlocks: parsed.SkippedBlocks,
		Model:         a.model,
		CreatedAt:     a.now(),
	}
	if a.store != nil {
		if err := a.store.SaveAnalysis(ctx, analysis); err != nil {
			return nil, fmt.Errorf("failed to save analysis: %w", err)
		}
	}
	return analysis, nil
}

// Parse extracts meals from model text and aggregates their nutrients. It
// never fails; unusable blocks and estimates are logged and counted.
func (a *Analyzer) Parse(text string) Parsed {
	ex := extract.Meals(text)
	for _, sb := range ex.Skipped {
		logger.Warn("failed to decode meal block",
			zap.String("content", sb.Content),
			zap.Error(sb.Err))
	}

	totals, unresolved := nutrition.Aggregate(ex.Meals)
	for _, u := range unresolved {
		logger.Warn("nutrient estimate not resolved",
			zap.Int("meal", u.Meal),
			zap.String("nutrient", string(u.Nutrient)),
			zap.String("fragment", u.Fragment),
			zap.Int("numbers_found", u.Found))
	}

	fields := make([]zap.Field, 0, len(models.Nutrients))
	for _, n := range models.Nutrients {
		fields = append(fields, zap.Int(n.Label()+"_"+n.Unit(), totals.Values[n]))
	}
	logger.Debug("meal totals", fields...)

	meals := ex.Meals
	if meals == nil {
		meals = []models.MealRecord{}
	}
	return Parsed{
		Meals:         meals,
		Totals:        totals,
		Foods:         nutrition.UniqueFoods(ex.Meals),
		SkippedBlocks: len(ex.Skipped),
	}
}

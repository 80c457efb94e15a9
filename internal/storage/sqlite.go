// internal/storage/sqlite.go
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mcp-meal-lens/internal/models"
)

var ErrNotFound = errors.New("analysis not found")

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", withPragmas(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps modernc from returning SQLITE_BUSY under concurrent requests.
	db.SetMaxOpenConns(1)

	storage := &SQLiteStorage{db: db}
	if err := storage.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS analyses (
        id TEXT PRIMARY KEY,
        goals TEXT NOT NULL,
        summary TEXT NOT NULL,
        model TEXT NOT NULL,
        totals TEXT NOT NULL,
        missing TEXT NOT NULL,
        foods TEXT NOT NULL,
        skipped_blocks INTEGER NOT NULL,
        created_at TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS meals (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        analysis_id TEXT NOT NULL,
        position INTEGER NOT NULL,
        title TEXT NOT NULL,
        food_items TEXT NOT NULL,
        nutrition TEXT NOT NULL,
        comments TEXT NOT NULL,
        FOREIGN KEY (analysis_id) REFERENCES analyses(id) ON DELETE CASCADE
    );

    CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses(created_at);
    CREATE INDEX IF NOT EXISTS idx_meals_analysis_id ON meals(analysis_id);
    `

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

func (s *SQLiteStorage) SaveAnalysis(ctx context.Context, a *models.Analysis) error {
	goals, err := json.Marshal(a.Goals)
	if err != nil {
		return fmt.Errorf("failed to encode goals: %w", err)
	}
	totals, err := json.Marshal(a.Totals.Values)
	if err != nil {
		return fmt.Errorf("failed to encode totals: %w", err)
	}
	missing, err := json.Marshal(a.Totals.Missing)
	if err != nil {
		return fmt.Errorf("failed to encode missing: %w", err)
	}
	foods, err := json.Marshal(a.Foods)
	if err != nil {
		return fmt.Errorf("failed to encode foods: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	analysisQuery := `
        INSERT INTO analyses (id, goals, summary, model, totals, missing, foods, skipped_blocks, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err = tx.ExecContext(ctx, analysisQuery,
		a.ID, string(goals), a.Summary, a.Model, string(totals), string(missing),
		string(foods), a.SkippedBlocks, formatTime(a.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert analysis: %w", err)
	}

	mealQuery := `
        INSERT INTO meals (analysis_id, position, title, food_items, nutrition, comments)
        VALUES (?, ?, ?, ?, ?, ?)
    `
	for i, meal := range a.Meals {
		items, err := json.Marshal(meal.FoodItems)
		if err != nil {
			return fmt.Errorf("failed to encode food items: %w", err)
		}
		nutrition, err := json.Marshal(meal.Nutrition)
		if err != nil {
			return fmt.Errorf("failed to encode nutrition: %w", err)
		}
		_, err = tx.ExecContext(ctx, mealQuery,
			a.ID, i, meal.Title, string(items), string(nutrition), meal.Comments)
		if err != nil {
			return fmt.Errorf("failed to insert meal: %w", err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStorage) GetAnalysis(ctx context.Context, id string) (*models.Analysis, error) {
	row := s.db.QueryRowContext(ctx, selectAnalysis+" WHERE id = ?", id)
	a, err := scanAnalysis(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadMeals(ctx, a); err != nil {
		return nil, fmt.Errorf("failed to load meals for analysis %s: %w", a.ID, err)
	}
	return a, nil
}

// ListAnalyses returns analyses newest first. startDate and endDate are
// optional YYYY-MM-DD bounds on the creation date, both inclusive.
func (s *SQLiteStorage) ListAnalyses(ctx context.Context, startDate, endDate string, limit int) ([]*models.Analysis, error) {
	query := selectAnalysis + " WHERE 1=1"
	args := []interface{}{}

	if startDate != "" {
		query += " AND DATE(created_at) >= ?"
		args = append(args, startDate)
	}
	if endDate != "" {
		query += " AND DATE(created_at) <= ?"
		args = append(args, endDate)
	}

	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}

	analyses := []*models.Analysis{}
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		analyses = append(analyses, a)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate analyses: %w", err)
	}
	// Release the single connection before loading meals.
	rows.Close()

	for _, a := range analyses {
		if err := s.loadMeals(ctx, a); err != nil {
			return nil, fmt.Errorf("failed to load meals for analysis %s: %w", a.ID, err)
		}
	}
	return analyses, nil
}

func (s *SQLiteStorage) DeleteAnalysis(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM meals WHERE analysis_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete meals: %w", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM analyses WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete analysis: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete analysis: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

const selectAnalysis = `
        SELECT id, goals, summary, model, totals, missing, foods, skipped_blocks, created_at
        FROM analyses`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanAnalysis(row scanner) (*models.Analysis, error) {
	a := &models.Analysis{}
	var goals, totals, missing, foods, createdAt string

	err := row.Scan(&a.ID, &goals, &a.Summary, &a.Model, &totals, &missing,
		&foods, &a.SkippedBlocks, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan analysis: %w", err)
	}

	if err := json.Unmarshal([]byte(goals), &a.Goals); err != nil {
		return nil, fmt.Errorf("failed to decode goals: %w", err)
	}
	if err := json.Unmarshal([]byte(totals), &a.Totals.Values); err != nil {
		return nil, fmt.Errorf("failed to decode totals: %w", err)
	}
	if err := json.Unmarshal([]byte(missing), &a.Totals.Missing); err != nil {
		return nil, fmt.Errorf("failed to decode missing: %w", err)
	}
	if err := json.Unmarshal([]byte(foods), &a.Foods); err != nil {
		return nil, fmt.Errorf("failed to decode foods: %w", err)
	}
	if a.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("failed to parse created_at: %w", err)
	}
	return a, nil
}

func (s *SQLiteStorage) loadMeals(ctx context.Context, a *models.Analysis) error {
	query := `
        SELECT title, food_items, nutrition, comments
        FROM meals
        WHERE analysis_id = ?
        ORDER BY position
    `

	rows, err := s.db.QueryContext(ctx, query, a.ID)
	if err != nil {
		return fmt.Errorf("failed to query meals: %w", err)
	}
	defer rows.Close()

	meals := []models.MealRecord{}
	for rows.Next() {
		var meal models.MealRecord
		var items, nutrition string

		if err := rows.Scan(&meal.Title, &items, &nutrition, &meal.Comments); err != nil {
			return fmt.Errorf("failed to scan meal: %w", err)
		}
		if err := json.Unmarshal([]byte(items), &meal.FoodItems); err != nil {
			return fmt.Errorf("failed to decode food items: %w", err)
		}
		if err := json.Unmarshal([]byte(nutrition), &meal.Nutrition); err != nil {
			return fmt.Errorf("failed to decode nutrition: %w", err)
		}
		meals = append(meals, meal)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	a.Meals = meals
	return nil
}

// timeLayout has fixed-width fractions so created_at sorts as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func withPragmas(dbPath string) string {
	sep := "?"
	if strings.Contains(dbPath, "?") {
		sep = "&"
	}
	return dbPath + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

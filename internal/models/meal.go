// internal/models/meal.go
package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Nutrient is one of the four keys the model reports under nutrition_info.
type Nutrient string

const (
	Calories Nutrient = "calories_kcal"
	Protein  Nutrient = "protein_g"
	Carbs    Nutrient = "carbs_g"
	Fat      Nutrient = "fat_g"
)

// Nutrients lists the tracked nutrients in display order.
var Nutrients = []Nutrient{Calories, Protein, Carbs, Fat}

func (n Nutrient) Label() string {
	switch n {
	case Calories:
		return "calories"
	case Protein:
		return "protein"
	case Carbs:
		return "carbs"
	case Fat:
		return "fat"
	}
	return string(n)
}

func (n Nutrient) Unit() string {
	if n == Calories {
		return "kcal"
	}
	return "g"
}

// Estimate is the text form of a nutrient value as the model wrote it:
// "450", "20-25", "about 30g". Bare JSON numbers are kept in plain decimal
// form; a number too large for a float64 is left empty.
type Estimate string

func (e *Estimate) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*e = Estimate(s)
		return nil
	}
	if bytes.Equal(data, []byte("null")) {
		*e = ""
		return nil
	}
	if len(data) > 0 && (data[0] == '-' || (data[0] >= '0' && data[0] <= '9')) {
		// Exponent forms must reach the resolver as one plain number.
		var v float64
		if err := json.Unmarshal(data, &v); err != nil {
			*e = ""
			return nil
		}
		*e = Estimate(strconv.FormatFloat(v, 'f', -1, 64))
		return nil
	}
	*e = Estimate(data)
	return nil
}

// MealRecord is one analyzed meal image as returned in a ```json block.
type MealRecord struct {
	Title     string                `json:"meal_title"`
	FoodItems []string              `json:"food_items"`
	Nutrition map[Nutrient]Estimate `json:"nutrition_info"`
	Comments  string                `json:"comments"`
}

// Totals holds per-nutrient sums across meals. Missing counts the meals whose
// estimate for that nutrient could not be resolved; those are not in Values.
type Totals struct {
	Values  map[Nutrient]int `json:"values"`
	Missing map[Nutrient]int `json:"missing,omitempty"`
}

type Analysis struct {
	ID            string       `json:"id"`
	Goals         []string     `json:"goals"`
	Meals         []MealRecord `json:"meals"`
	Summary       string       `json:"summary"`
	Totals        Totals       `json:"totals"`
	Foods         []string     `json:"foods"`
	SkippedBlocks int          `json:"skipped_blocks"`
	Model         string       `json:"model,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
}

// AnalyzeRequest is the tool/upload input before images are decoded.
type AnalyzeRequest struct {
	Goals  []string      `json:"goals"`
	Images []ImageUpload `json:"images"`
}

type ImageUpload struct {
	Name string `json:"name"`
	Data string `json:"data"` // base64
}

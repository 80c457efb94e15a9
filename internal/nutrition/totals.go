package nutrition

import (
	"mcp-meal-lens/internal/consensus"
	"mcp-meal-lens/internal/models"
)

// Unresolved names one nutrient estimate that did not resolve to a number.
type Unresolved struct {
	Meal     int
	Nutrient models.Nutrient
	Fragment string
	Found    int
}

// Aggregate sums every tracked nutrient across meals. Estimates that do not
// resolve are left out of the sum, counted in Totals.Missing and returned so
// the caller can report them.
func Aggregate(meals []models.MealRecord) (models.Totals, []Unresolved) {
	totals := models.Totals{
		Values:  make(map[models.Nutrient]int, len(models.Nutrients)),
		Missing: map[models.Nutrient]int{},
	}
	for _, n := range models.Nutrients {
		totals.Values[n] = 0
	}

	var unresolved []Unresolved
	for i, meal := range meals {
		for _, n := range models.Nutrients {
			fragment := string(meal.Nutrition[n])
			res := consensus.Resolve(fragment)
			if !res.OK {
				totals.Missing[n]++
				unresolved = append(unresolved, Unresolved{Meal: i, Nutrient: n, Fragment: fragment, Found: res.Found})
				continue
			}
			totals.Values[n] += res.Value
		}
	}
	if len(totals.Missing) == 0 {
		totals.Missing = nil
	}
	return totals, unresolved
}

// UniqueFoods lists every food label once, in first-seen order.
func UniqueFoods(meals []models.MealRecord) []string {
	seen := map[string]bool{}
	foods := []string{}
	for _, meal := range meals {
		for _, f := range meal.FoodItems {
			if f == "" || seen[f] {
				continue
			}
			seen[f] = true
			foods = append(foods, f)
		}
	}
	return foods
}

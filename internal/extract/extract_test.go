package extract

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mcp-meal-lens/internal/models"
)

const twoMeals = "Here you go.\n" +
	"```json\n" +
	`{"meal_title": "Oatmeal", "food_items": ["oats", "banana"], "nutrition_info": {"calories_kcal": "350", "protein_g": 10, "carbs_g": "55-60", "fat_g": "6"}, "comments": "Good fiber."}` +
	"\n```\n" +
	"some chatter between blocks\n" +
	"```json\n" +
	`{"meal_title": "Salad", "food_items": ["lettuce"], "nutrition_info": {"calories_kcal": "120", "protein_g": "3", "carbs_g": "10", "fat_g": "7"}, "comments": ""}` +
	"\n```\n"

func TestBlocks(t *testing.T) {
	t.Run("no blocks", func(t *testing.T) {
		require.Empty(t, Blocks("just prose, no fences", "json"))
		require.Empty(t, Blocks("", "json"))
	})

	t.Run("multi-line content trimmed", func(t *testing.T) {
		blocks := Blocks("```json\n  {\n\"a\": 1\n}  \n```", "json")
		require.Equal(t, []string{"{\n\"a\": 1\n}"}, blocks)
	})

	t.Run("whitespace-only block skipped", func(t *testing.T) {
		blocks := Blocks("```json\n \n\t```\n```json{}```", "json")
		require.Equal(t, []string{"{}"}, blocks)
	})

	t.Run("non-greedy", func(t *testing.T) {
		blocks := Blocks("```json 1 ``` middle ```json 2 ```", "json")
		require.Equal(t, []string{"1", "2"}, blocks)
	})

	t.Run("other language tags ignored", func(t *testing.T) {
		blocks := Blocks("```python\nprint(1)\n```\n```json\n{}\n```", "json")
		require.Equal(t, []string{"{}"}, blocks)
	})
}

func TestMeals(t *testing.T) {
	t.Run("records in source order", func(t *testing.T) {
		out := Meals(twoMeals)
		require.Empty(t, out.Skipped)
		require.Len(t, out.Meals, 2)

		require.Equal(t, "Oatmeal", out.Meals[0].Title)
		require.Equal(t, []string{"oats", "banana"}, out.Meals[0].FoodItems)
		require.Equal(t, models.Estimate("10"), out.Meals[0].Nutrition[models.Protein])
		require.Equal(t, models.Estimate("55-60"), out.Meals[0].Nutrition[models.Carbs])
		require.Equal(t, "Salad", out.Meals[1].Title)
	})

	t.Run("no blocks yields empty result", func(t *testing.T) {
		out := Meals("I could not find any food in these images.")
		require.Empty(t, out.Meals)
		require.Empty(t, out.Skipped)
	})

	t.Run("malformed block does not abort later blocks", func(t *testing.T) {
		text := "```json\n{\"meal_title\": \"Broken\",\n```\n" + twoMeals
		out := Meals(text)
		require.Len(t, out.Meals, 2)
		require.Len(t, out.Skipped, 1)
		require.Contains(t, out.Skipped[0].Content, "Broken")
		require.Error(t, out.Skipped[0].Err)
	})

	t.Run("every block malformed", func(t *testing.T) {
		out := Meals("```json\nnope\n```\n```json\n{,}\n```")
		require.Empty(t, out.Meals)
		require.Len(t, out.Skipped, 2)
	})

	t.Run("non-object JSON is skipped", func(t *testing.T) {
		out := Meals("```json\n[1, 2]\n```")
		require.Empty(t, out.Meals)
		require.Len(t, out.Skipped, 1)
		require.ErrorIs(t, out.Skipped[0].Err, errNotObject)
	})

	t.Run("shape mismatch is skipped", func(t *testing.T) {
		out := Meals("```json\n{\"meal_title\": 42}\n```")
		require.Empty(t, out.Meals)
		require.Len(t, out.Skipped, 1)
	})

	t.Run("empty block contributes nothing", func(t *testing.T) {
		out := Meals("```json\n\n```")
		require.Empty(t, out.Meals)
		require.Empty(t, out.Skipped)
	})

	t.Run("idempotent", func(t *testing.T) {
		require.Equal(t, Meals(twoMeals), Meals(twoMeals))
	})
}

func TestMealsBareNumbers(t *testing.T) {
	text := "```json\n" +
		`{"meal_title": "Steak", "food_items": ["steak"], "nutrition_info": {"calories_kcal": 1.5e2, "protein_g": 1e3, "carbs_g": -4, "fat_g": 12.50}, "comments": ""}` +
		"\n```\n```json\n" +
		`{"meal_title": "Huge", "nutrition_info": {"calories_kcal": 1e400, "protein_g": [20, 30]}}` +
		"\n```"

	out := Meals(text)
	require.Empty(t, out.Skipped)
	require.Len(t, out.Meals, 2)

	n := out.Meals[0].Nutrition
	require.Equal(t, models.Estimate("150"), n[models.Calories])
	require.Equal(t, models.Estimate("1000"), n[models.Protein])
	require.Equal(t, models.Estimate("-4"), n[models.Carbs])
	require.Equal(t, models.Estimate("12.5"), n[models.Fat])

	n = out.Meals[1].Nutrition
	require.Equal(t, models.Estimate(""), n[models.Calories])
	require.Equal(t, models.Estimate("[20, 30]"), n[models.Protein])
}

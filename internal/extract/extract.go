// Package extract pulls fenced code blocks out of free-form model output.
package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"regexp"
	"strings"
	"sync"

	"mcp-meal-lens/internal/models"
)

const fence = "```"

var (
	patternsMu sync.Mutex
	patterns   = map[string]*regexp.Regexp{}
)

// SkippedBlock records a block that could not be decoded.
type SkippedBlock struct {
	Content string
	Err     error
}

// Extraction is the result of scanning one model response. It never carries a
// partial record: a block either decodes fully into Meals or lands in Skipped.
type Extraction struct {
	Meals   []models.MealRecord
	Skipped []SkippedBlock
}

var errNotObject = errors.New("block is not a JSON object")

func blockPattern(lang string) *regexp.Regexp {
	patternsMu.Lock()
	defer patternsMu.Unlock()
	if re, ok := patterns[lang]; ok {
		return re
	}
	re := regexp.MustCompile("(?s)" + regexp.QuoteMeta(fence+lang) + "(.*?)" + regexp.QuoteMeta(fence))
	patterns[lang] = re
	return re
}

// Blocks returns the trimmed, non-empty contents of every ```<lang> ... ```
// block in text, in source order.
func Blocks(text, lang string) []string {
	matches := blockPattern(lang).FindAllStringSubmatch(text, -1)
	blocks := make([]string, 0, len(matches))
	for _, m := range matches {
		content := strings.TrimSpace(m[1])
		if content == "" {
			continue
		}
		blocks = append(blocks, content)
	}
	return blocks
}

// Meals decodes every ```json block of text into a MealRecord.
func Meals(text string) Extraction {
	var out Extraction
	for _, block := range Blocks(text, "json") {
		meal, err := decodeMeal(block)
		if err != nil {
			out.Skipped = append(out.Skipped, SkippedBlock{Content: block, Err: err})
			continue
		}
		out.Meals = append(out.Meals, meal)
	}
	return out
}

func decodeMeal(block string) (models.MealRecord, error) {
	var meal models.MealRecord
	raw := []byte(block)
	if !json.Valid(raw) {
		// Unmarshal gives a better message than Valid does.
		var v any
		return meal, json.Unmarshal(raw, &v)
	}
	if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
		return meal, errNotObject
	}
	if err := json.Unmarshal(raw, &meal); err != nil {
		return models.MealRecord{}, err
	}
	return meal, nil
}

// Package consensus collapses a noisy numeric fragment such as "20-25 g" into a
// single integer estimate.
package consensus

import (
	"math"
	"regexp"
	"strconv"
)

var numberPattern = regexp.MustCompile(`\d+(?:\.\d*)?|\.\d+`)

// maxValue bounds a resolved value: above 2^53 a float64 no longer holds every
// integer, and on 32-bit platforms int is narrower still.
var maxValue = math.Min(1<<53, float64(math.MaxInt))

// Result of resolving one fragment. OK is false when the fragment held zero or
// more than two numbers, or a number above maxValue; Found always carries how
// many were seen.
type Result struct {
	Value int
	Found int
	OK    bool
}

// Numbers returns every unsigned decimal number in text, left to right.
func Numbers(text string) []float64 {
	matches := numberPattern.FindAllString(text, -1)
	nums := make([]float64, 0, len(matches))
	for _, m := range matches {
		v, err := strconv.ParseFloat(m, 64)
		if err != nil {
			continue
		}
		nums = append(nums, v)
	}
	return nums
}

// Resolve returns the single number in fragment truncated to an int, or the
// floored mean when there are exactly two.
func Resolve(fragment string) Result {
	nums := Numbers(fragment)
	for _, v := range nums {
		if v > maxValue {
			return Result{Found: len(nums)}
		}
	}
	switch len(nums) {
	case 1:
		return Result{Value: int(nums[0]), Found: 1, OK: true}
	case 2:
		return Result{Value: int(math.Floor((nums[0] + nums[1]) / 2)), Found: 2, OK: true}
	default:
		return Result{Found: len(nums)}
	}
}

// Package credits defines the pure credit estimation used for pre-flight
// budget checks.
package credits

// Complexity is a rough size class for a task.
type Complexity string

const (
	ComplexitySimple  Complexity = "simple"
	ComplexityMedium  Complexity = "medium"
	ComplexityComplex Complexity = "complex"
)

// baseCost maps a model to its base credit cost per task. Unknown models fall
// back to defaultBaseCost.
var baseCost = map[string]int{
	"claude-haiku-3-5":  1,
	"claude-haiku-4-5":  2,
	"claude-sonnet-4-5": 5,
	"claude-opus-4-5":   12,
	"gpt-5-mini":        2,
	"gpt-5":             8,
	"gemini-2-5-flash":  2,
	"gemini-2-5-pro":    7,
}

const defaultBaseCost = 5

// multiplier maps complexity to a cost factor. Unknown complexities are
// treated as medium.
var multiplier = map[Complexity]int{
	ComplexitySimple:  1,
	ComplexityMedium:  3,
	ComplexityComplex: 8,
}

// Estimate returns the credit cost of running the given model at the given
// complexity. Pure function, safe to call without any session state.
func Estimate(model string, complexity Complexity) int {
	base, ok := baseCost[model]
	if !ok {
		base = defaultBaseCost
	}
	mult, ok := multiplier[complexity]
	if !ok {
		mult = multiplier[ComplexityMedium]
	}
	return base * mult
}

// KnownModels returns the models with explicit pricing, for catalog UIs.
func KnownModels() []string {
	models := make([]string, 0, len(baseCost))
	for m := range baseCost {
		models = append(models, m)
	}
	return models
}

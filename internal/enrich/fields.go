package enrich

import (
	"sort"
	"time"

	"github.com/tabarnam/enrich-cli/internal/budget"
	"github.com/tabarnam/enrich-cli/internal/model"
)

// DefaultMaxAttempts bounds how many times one field is tried across
// all resumed invocations.
const DefaultMaxAttempts = 3

// minBudgetBuffer pads the stage's minimum-required time so the
// orchestrator defers slightly before the stage itself would.
const minBudgetBuffer = 800 * time.Millisecond

// FieldSpec describes one enrichable field: when it runs and how much
// budget it needs.
type FieldSpec struct {
	Key         model.FieldKey
	Class       budget.StageClass
	Priority    int
	MaxAttempts int
	MaxTokens   int
}

// MinBudget is the remaining-budget floor below which the orchestrator
// defers the field without consuming an attempt.
func (f FieldSpec) MinBudget() time.Duration {
	return budget.MinRequired(f.Class) + minBudgetBuffer
}

// Fields lists all enrichable fields. Lower priority runs first; later
// fields' prompts may lean on earlier results.
var Fields = []FieldSpec{
	{Key: model.FieldTagline, Class: budget.StageLight, Priority: 1, MaxAttempts: DefaultMaxAttempts, MaxTokens: 180},
	{Key: model.FieldIndustries, Class: budget.StageLight, Priority: 2, MaxAttempts: DefaultMaxAttempts, MaxTokens: 220},
	{Key: model.FieldHeadquartersLocation, Class: budget.StageLocation, Priority: 3, MaxAttempts: DefaultMaxAttempts, MaxTokens: 300},
	{Key: model.FieldManufacturingLocations, Class: budget.StageLocation, Priority: 4, MaxAttempts: DefaultMaxAttempts, MaxTokens: 400},
	{Key: model.FieldProductKeywords, Class: budget.StageKeywords, Priority: 5, MaxAttempts: DefaultMaxAttempts, MaxTokens: 600},
	{Key: model.FieldReviews, Class: budget.StageReviews, Priority: 6, MaxAttempts: DefaultMaxAttempts, MaxTokens: 2000},
}

// SpecFor looks up the spec for a field key.
func SpecFor(key model.FieldKey) (FieldSpec, bool) {
	for _, f := range Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldSpec{}, false
}

// fieldsToProcess filters the field table to the requested keys (all
// when empty) and sorts by priority.
func fieldsToProcess(keys []string) []FieldSpec {
	selected := Fields
	if len(keys) > 0 {
		want := make(map[model.FieldKey]struct{}, len(keys))
		for _, k := range keys {
			want[model.FieldKey(k)] = struct{}{}
		}
		selected = nil
		for _, f := range Fields {
			if _, ok := want[f.Key]; ok {
				selected = append(selected, f)
			}
		}
	}
	out := append([]FieldSpec(nil), selected...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out
}

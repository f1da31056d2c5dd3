package domain

import (
	"fmt"
	"strings"
)

// Criterion is one axis the evaluator scores developers on
type Criterion string

const (
	CriterionCodeQuality       Criterion = "code_quality"
	CriterionProjectComplexity Criterion = "project_complexity"
	CriterionActivity          Criterion = "activity"
	CriterionDocumentation     Criterion = "documentation"
	CriterionInnovation        Criterion = "innovation"
	CriterionCommunity         Criterion = "community"
)

// criterionWeights sums to 1.0
var criterionWeights = map[Criterion]float64{
	CriterionCodeQuality:       0.25,
	CriterionProjectComplexity: 0.20,
	CriterionActivity:          0.15,
	CriterionDocumentation:     0.10,
	CriterionInnovation:        0.20,
	CriterionCommunity:         0.10,
}

// AllCriteria returns every criterion in a stable order.
func AllCriteria() []Criterion {
	return []Criterion{
		CriterionCodeQuality,
		CriterionProjectComplexity,
		CriterionActivity,
		CriterionDocumentation,
		CriterionInnovation,
		CriterionCommunity,
	}
}

// Weight returns the static weight of c, or 0 when c is unknown.
func (c Criterion) Weight() float64 {
	return criterionWeights[c]
}

// Valid reports whether c belongs to the closed criterion set.
func (c Criterion) Valid() bool {
	_, ok := criterionWeights[c]
	return ok
}

// ParseCriteria validates and de-duplicates raw criterion names.
// An empty input selects all criteria.
func ParseCriteria(raw []string) ([]Criterion, error) {
	if len(raw) == 0 {
		return AllCriteria(), nil
	}

	seen := make(map[Criterion]bool, len(raw))
	out := make([]Criterion, 0, len(raw))
	for _, name := range raw {
		c := Criterion(strings.ToLower(strings.TrimSpace(name)))
		if !c.Valid() {
			return nil, Validation("criteria", fmt.Sprintf("unknown criterion %q", name))
		}
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out, nil
}

// NormalizedWeights returns the weights of the selected criteria rescaled to sum to 1.
func NormalizedWeights(criteria []Criterion) map[Criterion]float64 {
	var total float64
	for _, c := range criteria {
		total += c.Weight()
	}
	weights := make(map[Criterion]float64, len(criteria))
	if total == 0 {
		return weights
	}
	for _, c := range criteria {
		weights[c] = c.Weight() / total
	}
	return weights
}

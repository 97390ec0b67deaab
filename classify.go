package main

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/jbrukh/bayesian"
)

var lettersOnly = regexp.MustCompile("[^a-zA-Z]+")

// classifierTerms prepares a description for bayesian classification: lowered,
// noise characters dropped, split into terms.
func classifierTerms(desc string) []string {
	desc = strings.ToLower(desc)
	desc = strings.ReplaceAll(desc, "*", " ")
	return strings.Fields(desc)
}

// classifier ranks categories for a description using a TF-IDF bayesian model
// trained on historical examples. It is a cheap local complement to the
// suggestion engine: its hits pre-rank shortcut keys during review and it
// works with the inference server down.
type classifier struct {
	classes []bayesian.Class
	cl      *bayesian.Classifier
}

// newClassifier trains on the given history. Returns nil when history covers
// fewer than two categories, which the bayesian library cannot model.
func newClassifier(history []HistoricalExample) *classifier {
	seen := make(map[string]bool)
	for _, ex := range history {
		seen[ex.Category] = true
	}
	if len(seen) < 2 {
		return nil
	}

	classes := make([]bayesian.Class, 0, len(seen))
	for cat := range seen {
		classes = append(classes, bayesian.Class(cat))
	}
	sort.Slice(classes, func(i, j int) bool { return classes[i] < classes[j] })

	cl := bayesian.NewClassifierTfIdf(classes...)
	for _, ex := range history {
		terms := classifierTerms(ex.Desc)
		if len(terms) == 0 {
			continue
		}
		cl.Learn(terms, bayesian.Class(ex.Category))
	}
	cl.ConvertTermsFreqToTfIdf()
	return &classifier{classes: classes, cl: cl}
}

type scoredCategory struct {
	Category   string
	Confidence float64
}

// topHits returns up to five categories for a description with softmax
// confidences, cut off where the score drops more than one standard deviation
// below the previous hit.
func (c *classifier) topHits(desc string) []scoredCategory {
	terms := classifierTerms(desc)
	if len(terms) == 0 {
		return nil
	}
	scores, _, _ := c.cl.LogScores(terms)
	if len(scores) == 0 {
		return nil
	}

	type pair struct {
		score float64
		pos   int
	}
	pairs := make([]pair, 0, len(scores))
	var mean, stddev float64
	for pos, score := range scores {
		pairs = append(pairs, pair{score, pos})
		mean += score
	}
	mean /= float64(len(scores))
	for _, score := range scores {
		diff := score - mean
		stddev += diff * diff
	}
	if len(scores) > 1 {
		stddev /= float64(len(scores) - 1)
	}
	stddev = math.Sqrt(stddev)
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].score > pairs[j].score })

	maxScore := pairs[0].score
	var sumExp float64
	expScores := make([]float64, len(pairs))
	for i, pr := range pairs {
		expScores[i] = math.Exp(pr.score - maxScore)
		sumExp += expScores[i]
	}

	result := make([]scoredCategory, 0, 5)
	last := pairs[0].score
	for i := 0; i < len(pairs) && i < 5; i++ {
		pr := pairs[i]
		if math.Abs(pr.score-last) > stddev {
			break
		}
		result = append(result, scoredCategory{
			Category:   string(c.classes[pr.pos]),
			Confidence: expScores[i] / sumExp,
		})
		last = pr.score
	}
	return result
}

// pickExemplars selects up to limit history entries with mutually distinct
// letter-only descriptions, newest first, so the prompt is not padded with
// near-duplicates.
func pickExemplars(history []HistoricalExample, limit int) []HistoricalExample {
	var out []HistoricalExample
	seen := make(map[string]bool)
	for _, ex := range history {
		if limit > 0 && len(out) >= limit {
			break
		}
		key := strings.ToLower(lettersOnly.ReplaceAllString(ex.Desc, ""))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ex)
	}
	return out
}

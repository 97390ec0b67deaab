package main

import (
	"os"
	"regexp"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// rules.yaml maps a category to regular expressions matched against row
// descriptions:
//
//	Transport:
//	  - ^LYFT\ +\*RIDE
//	Food:
//	  - ^STARBUCKS
//
// Matching rows are auto-categorized before any inference call.
type ruleSet map[string][]*regexp.Regexp

func loadRules(fpath string) (ruleSet, error) {
	data, err := os.ReadFile(fpath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "unable to read rules at %s", fpath)
	}
	raw := make(map[string][]string)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "unable to parse rules config at %s", fpath)
	}

	rules := make(ruleSet, len(raw))
	for category, patterns := range raw {
		for _, pattern := range patterns {
			re, err := regexp.Compile(pattern)
			if err != nil {
				return nil, errors.Wrapf(err, "bad pattern %q for %s", pattern, category)
			}
			rules[category] = append(rules[category], re)
		}
	}
	return rules, nil
}

type ruleHit struct {
	Index    int
	Category string
}

// applyRules matches uncategorized rows against the rule set. Rule categories
// outside the registry are skipped rather than invented; the returned slice
// feeds ApplyBulk.
func applyRules(rows []Txn, rules ruleSet, registered []string) []ruleHit {
	if len(rules) == 0 {
		return nil
	}
	var hits []ruleHit
	for _, row := range rows {
		if row.Category != "" {
			continue
		}
		for category, patterns := range rules {
			canonical, ok := labelIn(category, registered)
			if !ok {
				continue
			}
			matched := false
			for _, re := range patterns {
				if re.MatchString(row.Desc) {
					matched = true
					break
				}
			}
			if matched {
				hits = append(hits, ruleHit{Index: row.Index, Category: canonical})
				break
			}
		}
	}
	return hits
}

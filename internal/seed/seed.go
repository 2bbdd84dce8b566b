// Package seed holds the rule corpus loaded into the vector index.
package seed

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"thirdeye-service/internal/domain/violation"
)

//go:embed rules.yaml
var defaultRules []byte

type Rule struct {
	RuleID         string   `yaml:"rule_id"`
	Title          string   `yaml:"title"`
	Text           string   `yaml:"text"`
	Section        string   `yaml:"section"`
	Category       string   `yaml:"category"`
	FineAmount     int64    `yaml:"fine_amount"`
	ViolationTypes []string `yaml:"violation_types"`
}

type corpus struct {
	Rules []Rule `yaml:"rules"`
}

// EmbeddingText is the text embedded for the rule.
func (r Rule) EmbeddingText() string {
	return r.Title + " " + r.Text
}

func (r Rule) Match() violation.RuleMatch {
	return violation.RuleMatch{
		RuleID:     r.RuleID,
		Title:      r.Title,
		Text:       r.Text,
		Section:    r.Section,
		Category:   r.Category,
		FineAmount: r.FineAmount,
	}
}

// Default returns the embedded corpus.
func Default() ([]Rule, error) {
	return Parse(defaultRules)
}

func LoadFile(path string) ([]Rule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return Parse(raw)
}

func Parse(raw []byte) ([]Rule, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var c corpus
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}
	if len(c.Rules) == 0 {
		return nil, fmt.Errorf("parse rules: no rules defined")
	}

	seen := make(map[string]struct{}, len(c.Rules))
	for i, r := range c.Rules {
		switch {
		case r.RuleID == "":
			return nil, fmt.Errorf("rule %d: rule_id is required", i)
		case r.Title == "" || r.Text == "":
			return nil, fmt.Errorf("rule %s: title and text are required", r.RuleID)
		case r.FineAmount < 0:
			return nil, fmt.Errorf("rule %s: negative fine", r.RuleID)
		case !violation.Type(r.Category).Valid():
			return nil, fmt.Errorf("rule %s: unknown category %q", r.RuleID, r.Category)
		}
		if _, dup := seen[r.RuleID]; dup {
			return nil, fmt.Errorf("rule %s: duplicate rule_id", r.RuleID)
		}
		seen[r.RuleID] = struct{}{}
	}
	return c.Rules, nil
}

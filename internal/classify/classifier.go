package classify

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"gopkg.in/yaml.v3"

	"postforge/internal/config"
)

// Classifier is the pure predicate consulted by the scanner.
type Classifier interface {
	IsProductionIdentity(identity string) bool
}

// Rules configure a RuleClassifier.
type Rules struct {
	Indicators []string `yaml:"indicators"`
	Patterns   []string `yaml:"patterns"`
	Allow      []string `yaml:"allow"`
	Deny       []string `yaml:"deny"`
}

// DefaultRules flags common test and demo account names.
func DefaultRules() Rules {
	return Rules{
		Indicators: []string{
			"test", "testing", "tests",
			"demo", "demos",
			"sample", "samples",
			"example", "examples",
			"mock", "mocks",
			"fake", "dummy",
			"dev", "debug",
			"sandbox", "staging",
			"tmp", "temp",
			"placeholder", "lorem", "ipsum",
		},
		Patterns: []string{
			`^test`,
			`test$`,
			`^demo`,
			`demo$`,
			`^sample`,
			`^user\d+$`,
			`^account\d+$`,
			`test.*\d+`,
		},
	}
}

// LoadRules reads a YAML rules file and merges it over DefaultRules.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if strings.TrimSpace(path) == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Rules{}, fmt.Errorf("read classifier rules: %w", err)
	}
	var extra Rules
	if err := yaml.Unmarshal(data, &extra); err != nil {
		return Rules{}, fmt.Errorf("parse classifier rules %s: %w", path, err)
	}
	rules.Indicators = append(rules.Indicators, extra.Indicators...)
	rules.Patterns = append(rules.Patterns, extra.Patterns...)
	rules.Allow = append(rules.Allow, extra.Allow...)
	rules.Deny = append(rules.Deny, extra.Deny...)
	return rules, nil
}

// RuleClassifier implements Classifier from Rules.
type RuleClassifier struct {
	indicators map[string]struct{}
	patterns   []*regexp.Regexp
	allow      map[string]struct{}
	deny       map[string]struct{}
}

var tokenSeparators = regexp.MustCompile(`[_\-.\s/\\]+`)

// New compiles rules. Invalid patterns are reported rather than skipped.
func New(rules Rules) (*RuleClassifier, error) {
	c := &RuleClassifier{
		indicators: make(map[string]struct{}, len(rules.Indicators)),
		allow:      make(map[string]struct{}, len(rules.Allow)),
		deny:       make(map[string]struct{}, len(rules.Deny)),
	}
	for _, v := range rules.Indicators {
		if v = c.normalize(v); v != "" {
			c.indicators[v] = struct{}{}
		}
	}
	for _, v := range rules.Allow {
		if v = c.normalize(v); v != "" {
			c.allow[v] = struct{}{}
		}
	}
	for _, v := range rules.Deny {
		if v = c.normalize(v); v != "" {
			c.deny[v] = struct{}{}
		}
	}
	for _, p := range rules.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("classifier pattern %q: %w", p, err)
		}
		c.patterns = append(c.patterns, re)
	}
	return c, nil
}

// FromConfig loads the rules file named in cfg and applies its allow/deny lists.
func FromConfig(cfg config.Classifier) (*RuleClassifier, error) {
	rules, err := LoadRules(cfg.RulesPath)
	if err != nil {
		return nil, err
	}
	rules.Allow = append(rules.Allow, cfg.Allow...)
	rules.Deny = append(rules.Deny, cfg.Deny...)
	return New(rules)
}

// normalize folds case with a fresh Caser; Casers are not safe for concurrent use.
func (c *RuleClassifier) normalize(v string) string {
	return cases.Fold().String(strings.TrimSpace(v))
}

// IsProductionIdentity reports false for empty, denied, or test-looking identities.
func (c *RuleClassifier) IsProductionIdentity(identity string) bool {
	id := c.normalize(identity)
	if id == "" {
		return false
	}
	if _, ok := c.allow[id]; ok {
		return true
	}
	if _, ok := c.deny[id]; ok {
		return false
	}
	for _, token := range tokenSeparators.Split(id, -1) {
		if _, ok := c.indicators[token]; ok {
			return false
		}
	}
	for _, re := range c.patterns {
		if re.MatchString(id) {
			return false
		}
	}
	return true
}

// AllowAll accepts every non-empty identity.
type AllowAll struct{}

func (AllowAll) IsProductionIdentity(identity string) bool {
	return strings.TrimSpace(identity) != ""
}

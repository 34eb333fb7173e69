// Package noise implements the noise flagger: an ordered rule list that
// sets is_noise on each record, loadable from an external YAML file.
package noise

import (
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/forensics/semsearch/internal/errs"
	"github.com/forensics/semsearch/internal/model"
)

// RuleKind selects which field a Rule inspects.
type RuleKind string

const (
	RuleKindTextPattern RuleKind = "text_pattern"
	RuleKindSender      RuleKind = "sender"
)

// Rule is one entry in the ordered rule list; the first matching rule wins.
type Rule struct {
	Kind    RuleKind `yaml:"kind"`
	Pattern string   `yaml:"pattern"`
	Regex   bool     `yaml:"regex"`

	compiled *regexp.Regexp
}

// RuleSet is an ordered, compiled list of Rules. A message that no rule
// matches is not noise.
type RuleSet struct {
	rules []Rule
}

// yamlFile mirrors the external rules file shape.
type yamlFile struct {
	Rules []Rule `yaml:"rules"`
}

// DefaultRuleSet is the built-in rule set covering common commercial/spam
// markers and short-code senders, used when no external rules file is
// configured.
func DefaultRuleSet() *RuleSet {
	rs := &RuleSet{
		rules: []Rule{
			{Kind: RuleKindTextPattern, Pattern: `(?i)\bunsubscribe\b`, Regex: true},
			{Kind: RuleKindTextPattern, Pattern: `(?i)\bfree msg\b`, Regex: true},
			{Kind: RuleKindTextPattern, Pattern: `(?i)\breply stop to opt out\b`, Regex: true},
			{Kind: RuleKindTextPattern, Pattern: `(?i)\bverification code\b`, Regex: true},
			{Kind: RuleKindTextPattern, Pattern: `(?i)\d+\s?% off`, Regex: true},
			{Kind: RuleKindSender, Pattern: `^[0-9]{5,6}$`, Regex: true}, // short codes
		},
	}
	if err := rs.compile(); err != nil {
		panic("noise: default rule set failed to compile: " + err.Error())
	}
	return rs
}

// LoadRuleSet parses an external YAML rules file. The returned rule set
// holds only the file's rules; the built-in defaults are not added to it.
func LoadRuleSet(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.New(errs.KindInvalidArgument, "noise.LoadRuleSet", err)
	}
	var parsed yamlFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, errs.New(errs.KindInvalidArgument, "noise.LoadRuleSet", err)
	}

	rs := &RuleSet{rules: parsed.Rules}
	if err := rs.compile(); err != nil {
		return nil, errs.New(errs.KindInvalidArgument, "noise.LoadRuleSet", err)
	}
	return rs, nil
}

func (rs *RuleSet) compile() error {
	for i := range rs.rules {
		r := &rs.rules[i]
		if !r.Regex {
			continue
		}
		compiled, err := regexp.Compile(r.Pattern)
		if err != nil {
			return err
		}
		r.compiled = compiled
	}
	return nil
}

// Classify applies the rule set to one message's text and contact,
// returning true (is_noise) on the first matching rule, false otherwise.
func (rs *RuleSet) Classify(text, sender string) bool {
	for _, r := range rs.rules {
		if r.matches(text, sender) {
			return true
		}
	}
	return false
}

func (r Rule) matches(text, sender string) bool {
	switch r.Kind {
	case RuleKindTextPattern:
		return r.test(text)
	case RuleKindSender:
		return r.test(sender)
	default:
		return false
	}
}

func (r Rule) test(s string) bool {
	if r.Regex {
		if r.compiled == nil {
			return false
		}
		return r.compiled.MatchString(s)
	}
	return strings.Contains(s, r.Pattern)
}

// FlagMessages sets IsNoise on every message in place using the rule set.
func (rs *RuleSet) FlagMessages(messages []*model.Message) {
	for _, m := range messages {
		m.IsNoise = rs.Classify(m.Text, m.Contact)
	}
}

package codefresh

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
	"gopkg.in/yaml.v3"
)

// Condition tests one field of a remote error envelope. Path is a JSONPath
// into the envelope (for example "name" or "$.code"). Exactly one of Equals,
// Prefix and Present must be set.
type Condition struct {
	Path    string `yaml:"path"`
	Equals  string `yaml:"equals,omitempty"`
	Prefix  string `yaml:"prefix,omitempty"`
	Present bool   `yaml:"present,omitempty"`
}

func (c Condition) validate() error {
	if c.Path == "" {
		return errors.New("condition needs a path")
	}
	set := 0
	for _, b := range []bool{c.Equals != "", c.Prefix != "", c.Present} {
		if b {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("condition on %q needs exactly one of equals, prefix or present", c.Path)
	}
	return nil
}

// Rule matches when the HTTP status (if set) and every condition hold.
type Rule struct {
	Description string      `yaml:"description,omitempty"`
	Status      int         `yaml:"status,omitempty"`
	When        []Condition `yaml:"when,omitempty"`
}

// RuleSet holds the not-found rules of each remote error family.
type RuleSet struct {
	Pipeline []Rule `yaml:"pipeline"`
	Project  []Rule `yaml:"project"`
}

// DefaultRules describes how the hosted platform reports missing objects.
// Missing pipelines carry a dedicated error name. Missing projects surface
// as an internal error wrapping the upstream 404.
func DefaultRules() RuleSet {
	return RuleSet{
		Pipeline: []Rule{
			{
				Description: "pipeline not found error",
				When:        []Condition{{Path: "name", Equals: "PIPELINE_NOT_FOUND_ERROR"}},
			},
			{Description: "http 404", Status: 404},
		},
		Project: []Rule{
			{
				Description: "internal error wrapping an upstream 404",
				When: []Condition{
					{Path: "name", Equals: "INTERNAL_SERVER_ERROR"},
					{Path: "code", Equals: "1001"},
					{Path: "message", Prefix: "404"},
				},
			},
			{
				Description: "project not found error",
				When:        []Condition{{Path: "name", Equals: "PROJECT_NOT_FOUND_ERROR"}},
			},
			{Description: "http 404", Status: 404},
		},
	}
}

// LoadRules parses a YAML rule set. Unknown keys are rejected. A family
// left empty keeps its default rules.
func LoadRules(data []byte) (RuleSet, error) {
	var rs RuleSet
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&rs); err != nil && !errors.Is(err, io.EOF) {
		return RuleSet{}, fmt.Errorf("parse error rules: %w", err)
	}
	def := DefaultRules()
	if len(rs.Pipeline) == 0 {
		rs.Pipeline = def.Pipeline
	}
	if len(rs.Project) == 0 {
		rs.Project = def.Project
	}
	return rs, nil
}

// Classifiers compiles both families.
func (rs RuleSet) Classifiers() (pipeline, project *Classifier, err error) {
	if pipeline, err = NewClassifier(rs.Pipeline); err != nil {
		return nil, nil, fmt.Errorf("pipeline rules: %w", err)
	}
	if project, err = NewClassifier(rs.Project); err != nil {
		return nil, nil, fmt.Errorf("project rules: %w", err)
	}
	return pipeline, project, nil
}

type compiledCondition struct {
	Condition
	expr jp.Expr
}

type compiledRule struct {
	status int
	when   []compiledCondition
}

// Classifier decides whether a remote error means "does not exist".
type Classifier struct {
	rules []compiledRule
}

// NewClassifier compiles rules. A rule with neither a status nor any
// condition would match every error and is rejected.
func NewClassifier(rules []Rule) (*Classifier, error) {
	c := &Classifier{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		if r.Status == 0 && len(r.When) == 0 {
			return nil, fmt.Errorf("rule %d (%s): needs a status or a condition", i, r.Description)
		}
		cr := compiledRule{status: r.Status}
		for _, cond := range r.When {
			if err := cond.validate(); err != nil {
				return nil, fmt.Errorf("rule %d (%s): %w", i, r.Description, err)
			}
			x, err := jp.ParseString(cond.Path)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): path %q: %w", i, r.Description, cond.Path, err)
			}
			cr.when = append(cr.when, compiledCondition{Condition: cond, expr: x})
		}
		c.rules = append(c.rules, cr)
	}
	return c, nil
}

func mustClassifier(rules []Rule) *Classifier {
	c, err := NewClassifier(rules)
	if err != nil {
		panic(err)
	}
	return c
}

// Match reports whether err is a not-found error under any rule.
func (c *Classifier) Match(err error) bool {
	if err == nil {
		return false
	}
	env, status, ok := envelopeOf(err)
	if !ok {
		return false
	}
	for _, r := range c.rules {
		if r.matches(env, status) {
			return true
		}
	}
	return false
}

func (r compiledRule) matches(env map[string]any, status int) bool {
	if r.status != 0 && r.status != status {
		return false
	}
	for _, cond := range r.when {
		s, ok := stringify(cond.expr.First(env))
		if !ok {
			return false
		}
		if cond.Equals != "" && s != cond.Equals {
			return false
		}
		if cond.Prefix != "" && !strings.HasPrefix(s, cond.Prefix) {
			return false
		}
	}
	return true
}

// enveloper is implemented by transport errors that carry a decoded body.
type enveloper interface {
	Envelope() map[string]any
	StatusCode() int
}

// envelopeOf extracts the name/code/message envelope from err. Errors
// without structure are decoded from their text, which the platform SDK
// renders as JSON-encoded JSON.
func envelopeOf(err error) (map[string]any, int, bool) {
	var e enveloper
	if errors.As(err, &e) {
		env := e.Envelope()
		return env, e.StatusCode(), env != nil
	}

	text := err.Error()
	var inner string
	if json.Unmarshal([]byte(text), &inner) == nil {
		text = inner
	}
	var env map[string]any
	if err := json.Unmarshal([]byte(text), &env); err != nil || env == nil {
		return nil, 0, false
	}
	status := 0
	if s, ok := stringify(env["status"]); ok {
		status, _ = strconv.Atoi(s)
	}
	return env, status, true
}

// stringify renders scalar JSON values for comparison, so a numeric code
// 1001 and a string code "1001" compare equal.
func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}

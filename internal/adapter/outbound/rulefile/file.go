// Package rulefile reads and writes rule sets as YAML and watches a rule
// file for changes.
package rulefile

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/evaguard/evaguard/internal/domain/compliance"
)

// FormatVersion is the rule file format version.
const FormatVersion = "1"

// document is the on-disk YAML layout.
type document struct {
	Version string      `yaml:"version"`
	Rules   []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description,omitempty"`
	Pattern     string `yaml:"pattern"`
	Priority    int32  `yaml:"priority"`
	// Enabled defaults to true when omitted.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// ErrEmptyPattern is returned for a rule without a pattern. An empty pattern
// matches every message, which is never what a rule author means.
var ErrEmptyPattern = errors.New("rule pattern is empty")

// Parse decodes a YAML rule document. Patterns are not compiled here; the
// engine does that when the rules are added.
func Parse(data []byte) ([]compliance.Rule, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode rule file: %w", err)
	}
	if doc.Version != "" && doc.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported rule file version %q", doc.Version)
	}

	rules := make([]compliance.Rule, 0, len(doc.Rules))
	for i, e := range doc.Rules {
		if e.ID == "" {
			return nil, fmt.Errorf("rules[%d]: id is required", i)
		}
		if e.Pattern == "" {
			return nil, fmt.Errorf("rules[%d] %q: %w", i, e.ID, ErrEmptyPattern)
		}
		r := compliance.NewRule(e.ID, e.Description, e.Pattern, e.Priority)
		if e.Enabled != nil {
			r.Enabled = *e.Enabled
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Load reads and parses the rule file at path.
func Load(path string) ([]compliance.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// Marshal encodes rules as a YAML rule document.
func Marshal(rules []compliance.Rule) ([]byte, error) {
	doc := document{
		Version: FormatVersion,
		Rules:   make([]ruleEntry, 0, len(rules)),
	}
	for _, r := range rules {
		enabled := r.Enabled
		doc.Rules = append(doc.Rules, ruleEntry{
			ID:          r.ID,
			Description: r.Description,
			Pattern:     r.Pattern,
			Priority:    r.Priority,
			Enabled:     &enabled,
		})
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode rule file: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode rule file: %w", err)
	}
	return buf.Bytes(), nil
}

// Write writes rules to path as YAML.
func Write(path string, rules []compliance.Rule) error {
	data, err := Marshal(rules)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write rule file: %w", err)
	}
	return nil
}

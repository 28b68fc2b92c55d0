// Package snapshot decodes and validates authoritative curriculum snapshot
// documents. Curriculum authors publish one snapshot per sync run, keyed by
// stable natural identifiers; the synchronizer reconciles it against the
// persisted generation.
package snapshot

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/aula-go-api/internal/grading"
)

// Document is one immutable curriculum snapshot for a single class.
type Document struct {
	Class        string              `json:"class"`
	Modules      []ModuleRecord      `json:"modules"`
	Constituents []ConstituentRecord `json:"constituents"`
	Items        []ItemRecord        `json:"items"`
	Policies     []PolicyRecord      `json:"policies"`
}

// ModuleRecord describes a top-level weighted unit.
type ModuleRecord struct {
	Key         string  `json:"key"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Weight      float64 `json:"weight"`
	Order       int     `json:"order"`
	Color       string  `json:"color"`
	Icon        string  `json:"icon"`
}

// ConstituentRecord describes a grouping within a module.
type ConstituentRecord struct {
	Slug        string  `json:"slug"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Module      string  `json:"module"`
	Weight      float64 `json:"weight"`
	Type        string  `json:"type"`
	MaxAttempts int     `json:"max_attempts"`
}

// ItemRecord describes a single gradable unit.
type ItemRecord struct {
	Key          string    `json:"key"`
	Constituent  string    `json:"constituent"`
	Title        string    `json:"title"`
	Points       float64   `json:"points"`
	DeliveryType string    `json:"delivery_type"`
	DueDate      time.Time `json:"due_date"`
	Active       *bool     `json:"active"`
}

// IsActive defaults to true when the snapshot leaves the flag unset.
func (r ItemRecord) IsActive() bool {
	return r.Active == nil || *r.Active
}

// PolicyRecord describes a versioned curving policy. A nil Module scopes the
// policy to the whole class.
type PolicyRecord struct {
	Module  *string        `json:"module"`
	Name    string         `json:"name"`
	Version string         `json:"version"`
	Rules   []grading.Rule `json:"rules"`
}

const schemaDocument = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["class"],
	"properties": {
		"class": {"type": "string", "minLength": 1},
		"modules": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["key", "name", "weight", "order"],
				"properties": {
					"key": {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 1},
					"weight": {"type": "number", "minimum": 0, "maximum": 100},
					"order": {"type": "integer", "minimum": 0}
				}
			}
		},
		"constituents": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["slug", "name", "module", "weight"],
				"properties": {
					"slug": {"type": "string", "minLength": 1},
					"name": {"type": "string", "minLength": 1},
					"module": {"type": "string", "minLength": 1},
					"weight": {"type": "number", "minimum": 0, "maximum": 100},
					"max_attempts": {"type": "integer", "minimum": 1}
				}
			}
		},
		"items": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["key", "constituent", "title", "points"],
				"properties": {
					"key": {"type": "string", "minLength": 1},
					"constituent": {"type": "string", "minLength": 1},
					"title": {"type": "string", "minLength": 1},
					"points": {"type": "number", "exclusiveMinimum": 0}
				}
			}
		},
		"policies": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["name", "version"],
				"properties": {
					"name": {"type": "string", "minLength": 1},
					"version": {"type": "string", "minLength": 1},
					"rules": {"type": "array"}
				}
			}
		}
	}
}`

var documentSchema = jsonschema.MustCompileString("snapshot.schema.json", schemaDocument)

// Parse decodes a snapshot document from JSON or YAML, validates it against
// the snapshot schema, and returns the typed document. The YAML path funnels
// through canonical JSON so both formats decode identically.
func Parse(data []byte, contentType string) (Document, error) {
	canonical, err := toCanonicalJSON(data, contentType)
	if err != nil {
		return Document{}, err
	}

	var generic interface{}
	if err := json.Unmarshal(canonical, &generic); err != nil {
		return Document{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if err := documentSchema.Validate(generic); err != nil {
		return Document{}, fmt.Errorf("snapshot failed schema validation: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(canonical, &doc); err != nil {
		return Document{}, fmt.Errorf("failed to decode snapshot: %w", err)
	}

	if err := checkReferences(doc); err != nil {
		return Document{}, err
	}

	return doc, nil
}

func toCanonicalJSON(data []byte, contentType string) ([]byte, error) {
	if isYAML(contentType) {
		var generic interface{}
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot yaml: %w", err)
		}
		canonical, err := json.Marshal(generic)
		if err != nil {
			return nil, fmt.Errorf("failed to canonicalize snapshot yaml: %w", err)
		}
		return canonical, nil
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("snapshot body is not valid json")
	}
	return data, nil
}

func isYAML(contentType string) bool {
	normalized := strings.ToLower(strings.TrimSpace(contentType))
	return strings.Contains(normalized, "yaml") || strings.Contains(normalized, "yml")
}

// checkReferences verifies cross-references between the snapshot collections
// so the synchronizer never persists dangling hierarchy links.
func checkReferences(doc Document) error {
	moduleKeys := make(map[string]struct{}, len(doc.Modules))
	for _, module := range doc.Modules {
		if _, dup := moduleKeys[module.Key]; dup {
			return fmt.Errorf("duplicate module key %q", module.Key)
		}
		moduleKeys[module.Key] = struct{}{}
	}

	constituentSlugs := make(map[string]struct{}, len(doc.Constituents))
	for _, constituent := range doc.Constituents {
		if _, dup := constituentSlugs[constituent.Slug]; dup {
			return fmt.Errorf("duplicate constituent slug %q", constituent.Slug)
		}
		constituentSlugs[constituent.Slug] = struct{}{}

		if _, ok := moduleKeys[constituent.Module]; !ok {
			return fmt.Errorf("constituent %q references unknown module %q", constituent.Slug, constituent.Module)
		}
	}

	itemKeys := make(map[string]struct{}, len(doc.Items))
	for _, item := range doc.Items {
		if _, dup := itemKeys[item.Key]; dup {
			return fmt.Errorf("duplicate item key %q", item.Key)
		}
		itemKeys[item.Key] = struct{}{}

		if _, ok := constituentSlugs[item.Constituent]; !ok {
			return fmt.Errorf("item %q references unknown constituent %q", item.Key, item.Constituent)
		}
	}

	for _, policy := range doc.Policies {
		if policy.Module == nil {
			continue
		}
		if _, ok := moduleKeys[*policy.Module]; !ok {
			return fmt.Errorf("policy %q references unknown module %q", policy.Name, *policy.Module)
		}
	}

	return nil
}

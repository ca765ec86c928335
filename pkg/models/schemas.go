package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// Node config payloads arrive from the builder UI as loose JSON. Each kind
// has a schema enforced before decoding, so malformed configs are rejected at
// save time and never reach execution.
var configSchemas = map[NodeKind]string{
	NodeKindTrigger: `{
		"type": "object",
		"additionalProperties": false,
		"properties": {}
	}`,
	NodeKindSendEmail: `{
		"type": "object",
		"required": ["subject", "content"],
		"additionalProperties": false,
		"properties": {
			"subject": {"type": "string", "minLength": 1},
			"content": {"type": "string", "minLength": 1}
		}
	}`,
	NodeKindAddTag: `{
		"type": "object",
		"required": ["tag"],
		"additionalProperties": false,
		"properties": {
			"tag": {"type": "string", "minLength": 1}
		}
	}`,
	NodeKindRemoveTag: `{
		"type": "object",
		"required": ["tag"],
		"additionalProperties": false,
		"properties": {
			"tag": {"type": "string", "minLength": 1}
		}
	}`,
	NodeKindWait: `{
		"type": "object",
		"required": ["duration"],
		"additionalProperties": false,
		"properties": {
			"duration": {"type": "string", "pattern": "^[0-9]"}
		}
	}`,
	NodeKindHasTag: `{
		"type": "object",
		"required": ["tag"],
		"additionalProperties": false,
		"properties": {
			"tag": {"type": "string", "minLength": 1}
		}
	}`,
	NodeKindSubscriptionTier: `{
		"type": "object",
		"required": ["tier"],
		"additionalProperties": false,
		"properties": {
			"tier": {"type": "string", "minLength": 1}
		}
	}`,
	NodeKindCustomField: `{
		"type": "object",
		"required": ["field", "operator", "value"],
		"additionalProperties": false,
		"properties": {
			"field": {"type": "string", "minLength": 1},
			"operator": {"type": "string", "enum": ["equals", "contains", "greater_than", "less_than"]},
			"value": {"type": "string"}
		}
	}`,
}

// ErrInvalidNodeConfig wraps all schema violations for a node config.
var ErrInvalidNodeConfig = errors.New("invalid node config")

// ValidateConfigJSON checks a raw config payload against the schema for kind.
func ValidateConfigJSON(kind NodeKind, raw []byte) error {
	schema, ok := configSchemas[kind]
	if !ok {
		return fmt.Errorf("unknown node kind: %q", kind)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(schema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return fmt.Errorf("failed to validate %s config: %w", kind, err)
	}

	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, violation := range result.Errors() {
		violations = append(violations, violation.String())
	}

	return fmt.Errorf("%w for %s: %s", ErrInvalidNodeConfig, kind, strings.Join(violations, "; "))
}

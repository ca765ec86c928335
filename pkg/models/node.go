// Package models defines the core domain models for the automation workflow engine.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// NodeKind identifies the behavior of a workflow node. Action and condition
// kinds are namespaced the same way trigger node types are, so dashboards can
// group them by prefix.
type NodeKind string

const (
	NodeKindTrigger NodeKind = "trigger"

	NodeKindSendEmail NodeKind = "action:send_email"
	NodeKindAddTag    NodeKind = "action:add_tag"
	NodeKindRemoveTag NodeKind = "action:remove_tag"
	NodeKindWait      NodeKind = "action:wait"

	NodeKindHasTag           NodeKind = "condition:has_tag"
	NodeKindSubscriptionTier NodeKind = "condition:subscription_tier"
	NodeKindCustomField      NodeKind = "condition:custom_field"
)

func (k NodeKind) IsTrigger() bool {
	return k == NodeKindTrigger
}

func (k NodeKind) IsAction() bool {
	switch k {
	case NodeKindSendEmail, NodeKindAddTag, NodeKindRemoveTag, NodeKindWait:
		return true
	default:
		return false
	}
}

func (k NodeKind) IsCondition() bool {
	switch k {
	case NodeKindHasTag, NodeKindSubscriptionTier, NodeKindCustomField:
		return true
	default:
		return false
	}
}

// NodeConfig is the kind-specific configuration of a node. Exactly one
// concrete config type exists per NodeKind.
type NodeConfig interface {
	NodeKind() NodeKind
}

// TriggerConfig carries no payload; the trigger's event pattern lives on the
// workflow, not the node.
type TriggerConfig struct{}

func (TriggerConfig) NodeKind() NodeKind { return NodeKindTrigger }

type SendEmailConfig struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
}

func (SendEmailConfig) NodeKind() NodeKind { return NodeKindSendEmail }

type AddTagConfig struct {
	Tag string `json:"tag"`
}

func (AddTagConfig) NodeKind() NodeKind { return NodeKindAddTag }

type RemoveTagConfig struct {
	Tag string `json:"tag"`
}

func (RemoveTagConfig) NodeKind() NodeKind { return NodeKindRemoveTag }

type WaitConfig struct {
	Duration Duration `json:"duration"`
}

func (WaitConfig) NodeKind() NodeKind { return NodeKindWait }

type HasTagConfig struct {
	Tag string `json:"tag"`
}

func (HasTagConfig) NodeKind() NodeKind { return NodeKindHasTag }

type SubscriptionTierConfig struct {
	Tier string `json:"tier"`
}

func (SubscriptionTierConfig) NodeKind() NodeKind { return NodeKindSubscriptionTier }

// FieldOperator is the comparison applied by a custom-field condition.
type FieldOperator string

const (
	OperatorEquals      FieldOperator = "equals"
	OperatorContains    FieldOperator = "contains"
	OperatorGreaterThan FieldOperator = "greater_than"
	OperatorLessThan    FieldOperator = "less_than"
)

func (o FieldOperator) IsValid() bool {
	switch o {
	case OperatorEquals, OperatorContains, OperatorGreaterThan, OperatorLessThan:
		return true
	default:
		return false
	}
}

type CustomFieldConfig struct {
	Field    string        `json:"field"`
	Operator FieldOperator `json:"operator"`
	Value    string        `json:"value"`
}

func (CustomFieldConfig) NodeKind() NodeKind { return NodeKindCustomField }

// Node is one vertex of a workflow graph.
type Node struct {
	ID     string
	Kind   NodeKind
	Name   string
	Config NodeConfig
}

type nodeEnvelope struct {
	ID     string          `json:"id"`
	Kind   NodeKind        `json:"kind"`
	Name   string          `json:"name,omitempty"`
	Config json.RawMessage `json:"config,omitempty"`
}

func (n Node) MarshalJSON() ([]byte, error) {
	config, err := json.Marshal(n.Config)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config of node %s: %w", n.ID, err)
	}

	return json.Marshal(nodeEnvelope{ID: n.ID, Kind: n.Kind, Name: n.Name, Config: config})
}

func (n *Node) UnmarshalJSON(data []byte) error {
	var envelope nodeEnvelope

	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to unmarshal node: %w", err)
	}

	config, err := configForKind(envelope.Kind)
	if err != nil {
		return fmt.Errorf("node %s: %w", envelope.ID, err)
	}

	raw := envelope.Config
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}

	if err := ValidateConfigJSON(envelope.Kind, raw); err != nil {
		return fmt.Errorf("node %s: %w", envelope.ID, err)
	}

	if err := json.Unmarshal(raw, config); err != nil {
		return fmt.Errorf("failed to unmarshal config of node %s: %w", envelope.ID, err)
	}

	n.ID = envelope.ID
	n.Kind = envelope.Kind
	n.Name = envelope.Name
	n.Config = derefConfig(config)

	return nil
}

func configForKind(kind NodeKind) (NodeConfig, error) {
	switch kind {
	case NodeKindTrigger:
		return &TriggerConfig{}, nil
	case NodeKindSendEmail:
		return &SendEmailConfig{}, nil
	case NodeKindAddTag:
		return &AddTagConfig{}, nil
	case NodeKindRemoveTag:
		return &RemoveTagConfig{}, nil
	case NodeKindWait:
		return &WaitConfig{}, nil
	case NodeKindHasTag:
		return &HasTagConfig{}, nil
	case NodeKindSubscriptionTier:
		return &SubscriptionTierConfig{}, nil
	case NodeKindCustomField:
		return &CustomFieldConfig{}, nil
	default:
		return nil, fmt.Errorf("unknown node kind: %q", kind)
	}
}

func derefConfig(config NodeConfig) NodeConfig {
	switch c := config.(type) {
	case *TriggerConfig:
		return *c
	case *SendEmailConfig:
		return *c
	case *AddTagConfig:
		return *c
	case *RemoveTagConfig:
		return *c
	case *WaitConfig:
		return *c
	case *HasTagConfig:
		return *c
	case *SubscriptionTierConfig:
		return *c
	case *CustomFieldConfig:
		return *c
	default:
		return config
	}
}

// EdgeLabel distinguishes the two branches leaving a condition node. Edges
// leaving actions and triggers carry no label.
type EdgeLabel string

const (
	EdgeLabelNone  EdgeLabel = ""
	EdgeLabelTrue  EdgeLabel = "true"
	EdgeLabelFalse EdgeLabel = "false"
)

// Edge is one directed connection of a workflow graph.
type Edge struct {
	ID       string    `json:"id"`
	SourceID string    `json:"source_id" validate:"required"`
	TargetID string    `json:"target_id" validate:"required"`
	Label    EdgeLabel `json:"label,omitempty"`
}

// Duration wraps time.Duration with the "2h45m" string form in JSON, which is
// what the builder UI sends for wait nodes.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("duration must be a string like \"2h\": %w", err)
	}

	parsed, err := time.ParseDuration(text)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}

	*d = Duration(parsed)

	return nil
}

// Package web provides the HTTP handlers for workflow management.
package web

import (
	"github.com/inkletter/inkletter/pkg/models"
	"github.com/inkletter/inkletter/pkg/variables"
)

// CreateWorkflowRequest is the body for creating a workflow. Workflows are
// always created as drafts; status is set through the status endpoint.
type CreateWorkflowRequest struct {
	PublicationID string         `json:"publication_id" validate:"required"`
	Name          string         `json:"name"           validate:"required,min=3"`
	Description   string         `json:"description"`
	Trigger       models.Trigger `json:"trigger"`
	Nodes         []*models.Node `json:"nodes"`
	Edges         []*models.Edge `json:"edges"`
}

// UpdateWorkflowRequest replaces a workflow's definition. Publication and
// status are immutable through this endpoint.
type UpdateWorkflowRequest struct {
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Trigger     models.Trigger `json:"trigger"`
	Nodes       []*models.Node `json:"nodes"`
	Edges       []*models.Edge `json:"edges"`
}

// SetStatusRequest transitions a workflow between draft, active and paused.
type SetStatusRequest struct {
	Status models.WorkflowStatus `json:"status" validate:"required"`
}

// TemplateRequest carries a template plus a preview context for the render
// and validate endpoints.
type TemplateRequest struct {
	Template string            `json:"template" validate:"required"`
	Context  variables.Context `json:"context"`
}

// RenderResponse is the rendered preview.
type RenderResponse struct {
	Rendered string `json:"rendered"`
}

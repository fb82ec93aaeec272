package models

import (
	"encoding/json"
	"time"
)

// WorkflowTrigger selects the record operation a workflow gates.
type WorkflowTrigger string

const (
	TriggerCreate WorkflowTrigger = "Create"
	TriggerRead   WorkflowTrigger = "Read"
	TriggerUpdate WorkflowTrigger = "Update"
	TriggerDelete WorkflowTrigger = "Delete"
)

// Workflow is the stable identity of a versioned workflow.
type Workflow struct {
	ID                 string     `json:"id"`
	OrganizationID     int64      `json:"organizationId"`
	PublishedVersionID *string    `json:"publishedVersionId,omitempty"`
	CreatedBy          string     `json:"createdBy"`
	ModifiedBy         string     `json:"modifiedBy"`
	CreatedAt          time.Time  `json:"createdAt"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	DeletedAt          *time.Time `json:"deletedAt,omitempty"`
}

// WorkflowVersion attaches a state machine configuration to a schema version and trigger.
type WorkflowVersion struct {
	ID              string          `json:"versionId"`
	WorkflowID      string          `json:"id"`
	OrganizationID  int64           `json:"organizationId"`
	Version         int             `json:"version"`
	Name            string          `json:"name"`
	Label           string          `json:"label"`
	IsPublished     bool            `json:"isPublished"`
	PublishedAt     *time.Time      `json:"publishedAt,omitempty"`
	SchemaVersionID string          `json:"schemaVersionId"`
	Trigger         WorkflowTrigger `json:"trigger"`
	Position        int             `json:"position"`
	Config          json.RawMessage `json:"config"`
	SampleData      json.RawMessage `json:"sampleData,omitempty"`
	CreatedBy       string          `json:"createdBy"`
	ModifiedBy      string          `json:"modifiedBy"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
	DeletedAt       *time.Time      `json:"deletedAt,omitempty"`
}

// FieldError is one violation collected by a workflow run.
type FieldError struct {
	AttributeName string `json:"attributeName"`
	Message       string `json:"message"`
}

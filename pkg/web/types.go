// Package web provides HTTP request and response types for the nodebase API.
package web

import (
	"github.com/dukex/nodebase/pkg/models"
	"github.com/dukex/nodebase/pkg/query"
)

// Headers carrying the caller identity. There is no authentication in front of the API.
const (
	HeaderOrganizationID = "X-Organization-ID"
	HeaderActor          = "X-Actor"

	defaultActor = "anonymous"
)

// UpsertMultipleRequest is the body of a batch record write.
type UpsertMultipleRequest struct {
	Records []models.RecordData `json:"records" validate:"required,min=1,max=500"`
}

// ListSchemasResponse is a page of schema summaries.
type ListSchemasResponse struct {
	Schemas []*models.SchemaSummary `json:"schemas"`
	Total   int64                   `json:"total"`
	Limit   int                     `json:"limit"`
	Offset  int                     `json:"offset"`
}

// ListRecordsResponse is a page of normalized records.
type ListRecordsResponse struct {
	Records []models.RecordData `json:"records"`
	Total   int64               `json:"total"`
	Page    int                 `json:"page"`
	Limit   int                 `json:"limit"`
}

// FindRecordsQuery holds the raw query string of a record listing before parsing.
type FindRecordsQuery struct {
	Where                 string
	Search                string
	Order                 string
	Page                  int `validate:"min=0"`
	Limit                 int `validate:"min=0,max=1000"`
	IncludeReferences     bool
	IncludeBackReferences bool
	Relations             []string
}

// Options converts the query into find options.
func (q FindRecordsQuery) Options() (query.Options, error) {
	where, err := query.ParseWhere(q.Where)
	if err != nil {
		return query.Options{}, err
	}

	order, err := query.ParseOrder(q.Order)
	if err != nil {
		return query.Options{}, err
	}

	return query.Options{
		Where:                 where,
		Search:                q.Search,
		Order:                 order,
		Page:                  q.Page,
		Limit:                 q.Limit,
		IncludeReferences:     q.IncludeReferences,
		IncludeBackReferences: q.IncludeBackReferences,
		Relations:             q.Relations,
	}, nil
}

package core

import (
	"context"
	"time"
)

type (
	// Project groups process maps and belongs to one organization.
	Project struct {
		ID             string    `json:"id"`
		OrganizationID string    `json:"organizationId"`
		Name           string    `json:"name"`
		CreatedAt      time.Time `json:"createdAt"`
	}

	// ProjectDirectory resolves projects for tenant checks.
	ProjectDirectory interface {
		GetProject(ctx context.Context, id string) (*Project, error)
		SaveProject(ctx context.Context, project *Project) error
	}

	// Caller is the authenticated principal of a request.
	Caller struct {
		UserID         string
		OrganizationID string
	}
)

// CanAccess reports whether the caller may work with the project. A caller
// without an organization is not tenant restricted.
func (c Caller) CanAccess(p *Project) bool {
	return c.OrganizationID == "" || c.OrganizationID == p.OrganizationID
}

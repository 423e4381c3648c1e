package projects

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"processmap-server/core"
	"processmap-server/middleware"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type SaveProjectRequest struct {
	Name string `json:"name"`
}

// HandleSave registers a project for the caller's organization. An existing
// project of another organization cannot be taken over. The ownership check and
// the write run under one lock so concurrent registrations cannot both claim a
// project; the lock covers this process only.
func HandleSave(directory core.ProjectDirectory) http.HandlerFunc {
	var mu sync.Mutex
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.CallerFrom(r.Context())
		if !ok {
			render.Status(r, http.StatusUnauthorized)
			render.JSON(w, r, map[string]string{"error": "Authentication required"})
			return
		}
		projectID := chi.URLParam(r, "projectId")
		if projectID == "" {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Project id is required"})
			return
		}

		var req SaveProjectRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]string{"error": "Invalid request body"})
			return
		}

		mu.Lock()
		defer mu.Unlock()

		existing, err := lookup(r.Context(), directory, projectID)
		if err != nil {
			logrus.WithField("project_id", projectID).WithError(err).Error("Failed to resolve project")
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to save project"})
			return
		}
		if existing != nil && !caller.CanAccess(existing) {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, map[string]string{"error": "Project is not accessible in current organization"})
			return
		}

		project := &core.Project{
			ID:             projectID,
			OrganizationID: caller.OrganizationID,
			Name:           strings.TrimSpace(req.Name),
		}
		if existing != nil {
			project.CreatedAt = existing.CreatedAt
			if caller.OrganizationID == "" {
				project.OrganizationID = existing.OrganizationID
			}
		}
		if err := directory.SaveProject(r.Context(), project); err != nil {
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]string{"error": "Failed to save project"})
			return
		}

		render.JSON(w, r, project)
	}
}

func lookup(ctx context.Context, directory core.ProjectDirectory, id string) (*core.Project, error) {
	p, err := directory.GetProject(ctx, id)
	if errors.Is(err, core.ErrProjectNotFound) {
		return nil, nil
	}
	return p, err
}

// Package processmaps serves the process-map HTTP API: creation with the
// tenant and authorship checks, reads, canvas replacement and the editor
// session endpoints.
package processmaps

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"processmap-server/canvas"
	"processmap-server/core"
	"processmap-server/middleware"
	"processmap-server/session"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

const maxBodyBytes = 10 << 20

type (
	CreateProcessMapRequest struct {
		Name        string          `json:"name" validate:"required,notblank,max=255"`
		Description string          `json:"description" validate:"max=4000"`
		CanvasData  json.RawMessage `json:"canvasData"`
		Elements    json.RawMessage `json:"elements"`
		Connections json.RawMessage `json:"connections"`
	}

	// ProcessMapResponse is a fetched process map. Warning is set when the
	// stored canvas could not be read and an empty one is returned instead.
	ProcessMapResponse struct {
		*core.ProcessMap
		Warning string `json:"warning,omitempty"`
	}

	Store interface {
		core.ProcessMapStore
		GetProject(ctx context.Context, id string) (*core.Project, error)
	}

	// Sessions hands out the editor sessions of open process maps.
	Sessions interface {
		Acquire(ctx context.Context, processMapID string) (*session.Session, error)
		Close(processMapID string) bool
	}
)

// HandleCreate creates a process map in the project named by the URL.
func HandleCreate(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.CallerFrom(r.Context())
		if !ok {
			respondError(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}
		projectID := chi.URLParam(r, "projectId")
		log := logrus.WithFields(logrus.Fields{
			"project_id": projectID,
			"user_id":    caller.UserID,
		})

		var req CreateProcessMapRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			log.WithError(err).Debug("Failed to decode request")
			respondInvalid(w, r, map[string]string{"body": "Must be a JSON object"})
			return
		}
		if err := getValidator().Struct(req); err != nil {
			respondInvalid(w, r, validationDetails(err))
			return
		}
		if details := arrayFields(map[string]json.RawMessage{
			"elements":    req.Elements,
			"connections": req.Connections,
		}); len(details) > 0 {
			respondInvalid(w, r, details)
			return
		}

		canvasData, err := canvas.NormalizeForCreate(req.CanvasData)
		if err != nil {
			respondError(w, r, http.StatusBadRequest, "Invalid canvasData JSON")
			return
		}

		project, err := store.GetProject(r.Context(), projectID)
		if err != nil {
			if errors.Is(err, core.ErrProjectNotFound) {
				respondError(w, r, http.StatusBadRequest, "Referenced resource not found")
				return
			}
			log.WithError(err).Error("Failed to resolve project")
			respondError(w, r, http.StatusInternalServerError, "Failed to create process map")
			return
		}
		if !caller.CanAccess(project) {
			log.WithField("organization_id", caller.OrganizationID).Warn("Rejected cross-organization process map creation")
			respondError(w, r, http.StatusForbidden, "Project is not accessible in current organization")
			return
		}

		pm := &core.ProcessMap{
			ProjectID:   projectID,
			Name:        req.Name,
			Description: req.Description,
			CanvasData:  canvasData,
			Elements:    nullIfEmpty(req.Elements),
			Connections: nullIfEmpty(req.Connections),
			CreatedByID: caller.UserID,
		}
		if err := store.CreateProcessMap(r.Context(), pm); err != nil {
			if errors.Is(err, core.ErrReferencedNotFound) {
				respondError(w, r, http.StatusBadRequest, "Referenced resource not found")
				return
			}
			log.WithError(err).Error("Failed to create process map")
			respondError(w, r, http.StatusInternalServerError, "Failed to create process map")
			return
		}

		render.Status(r, http.StatusCreated)
		render.JSON(w, r, pm)
	}
}

// HandleList lists the process maps of a project without their canvases.
func HandleList(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := middleware.CallerFrom(r.Context())
		if !ok {
			respondError(w, r, http.StatusUnauthorized, "Authentication required")
			return
		}
		projectID := chi.URLParam(r, "projectId")

		project, err := store.GetProject(r.Context(), projectID)
		if err != nil {
			if errors.Is(err, core.ErrProjectNotFound) {
				respondError(w, r, http.StatusNotFound, "Project not found")
				return
			}
			logrus.WithField("project_id", projectID).WithError(err).Error("Failed to resolve project")
			respondError(w, r, http.StatusInternalServerError, "Failed to list process maps")
			return
		}
		if !caller.CanAccess(project) {
			respondError(w, r, http.StatusForbidden, "Project is not accessible in current organization")
			return
		}

		maps, err := store.ListProcessMaps(r.Context(), projectID)
		if err != nil {
			logrus.WithField("project_id", projectID).WithError(err).Error("Failed to list process maps")
			respondError(w, r, http.StatusInternalServerError, "Failed to list process maps")
			return
		}
		if maps == nil {
			maps = []*core.ProcessMap{}
		}
		render.JSON(w, r, maps)
	}
}

// HandleGet returns a process map. A corrupt canvas is returned as the empty
// document together with a warning.
func HandleGet(store Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pm, ok := loadAuthorized(w, r, store)
		if !ok {
			return
		}

		var raw any
		if len(pm.CanvasData) > 0 {
			raw = pm.CanvasData
		}
		doc, notice := canvas.FromDocument(raw)
		pm.CanvasData = doc.Marshal()

		resp := ProcessMapResponse{ProcessMap: pm}
		if notice != nil {
			resp.Warning = notice.Message
		}
		render.JSON(w, r, resp)
	}
}

// HandlePutCanvas replaces the stored canvas document. An open editor session
// is closed so that the next edit starts from the new document.
func HandlePutCanvas(store Store, sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pm, ok := loadAuthorized(w, r, store)
		if !ok {
			return
		}
		log := logrus.WithField("process_map_id", pm.ID)

		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			log.WithError(err).Error("Failed to read request body")
			respondError(w, r, http.StatusInternalServerError, "Failed to read request body")
			return
		}
		if !canvas.ValidDocument(body) {
			respondError(w, r, http.StatusBadRequest, canvas.NoticeInvalid)
			return
		}

		var compact bytes.Buffer
		if err := json.Compact(&compact, body); err != nil {
			respondError(w, r, http.StatusBadRequest, canvas.NoticeInvalid)
			return
		}

		sessions.Close(pm.ID)
		if err := store.SaveCanvas(r.Context(), pm.ID, compact.Bytes()); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				respondError(w, r, http.StatusNotFound, "Process map not found")
				return
			}
			respondError(w, r, http.StatusInternalServerError, "Failed to save process map")
			return
		}
		render.NoContent(w, r)
	}
}

// HandleDelete deletes a process map and closes its editor session.
func HandleDelete(store Store, sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pm, ok := loadAuthorized(w, r, store)
		if !ok {
			return
		}

		sessions.Close(pm.ID)
		if err := store.DeleteProcessMap(r.Context(), pm.ID); err != nil {
			if errors.Is(err, core.ErrNotFound) {
				respondError(w, r, http.StatusNotFound, "Process map not found")
				return
			}
			respondError(w, r, http.StatusInternalServerError, "Failed to delete process map")
			return
		}
		render.NoContent(w, r)
	}
}

// loadAuthorized fetches the process map named by the URL and checks that the
// caller's organization owns its project. It writes the error response itself.
func loadAuthorized(w http.ResponseWriter, r *http.Request, store Store) (*core.ProcessMap, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		respondError(w, r, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, r, http.StatusBadRequest, "Process map id is required")
		return nil, false
	}

	pm, err := store.GetProcessMap(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "Process map not found")
			return nil, false
		}
		logrus.WithField("process_map_id", id).WithError(err).Error("Failed to get process map")
		respondError(w, r, http.StatusInternalServerError, "Failed to get process map")
		return nil, false
	}
	if caller.OrganizationID == "" {
		return pm, true
	}

	project, err := store.GetProject(r.Context(), pm.ProjectID)
	if err != nil && !errors.Is(err, core.ErrProjectNotFound) {
		logrus.WithField("project_id", pm.ProjectID).WithError(err).Error("Failed to resolve project")
		respondError(w, r, http.StatusInternalServerError, "Failed to get process map")
		return nil, false
	}
	if project == nil || !caller.CanAccess(project) {
		respondError(w, r, http.StatusForbidden, "Project is not accessible in current organization")
		return nil, false
	}
	return pm, true
}

func arrayFields(fields map[string]json.RawMessage) map[string]string {
	details := map[string]string{}
	for name, raw := range fields {
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			continue
		}
		if raw[0] != '[' {
			details[name] = "Must be a JSON array"
		}
	}
	return details
}

func nullIfEmpty(raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return raw
}

func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	render.Status(r, status)
	render.JSON(w, r, map[string]string{"error": message})
}

func respondInvalid(w http.ResponseWriter, r *http.Request, details map[string]string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, map[string]any{
		"error":   "Invalid request body",
		"details": details,
	})
}

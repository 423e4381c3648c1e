package processmaps

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"processmap-server/core"
	"processmap-server/session"

	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
)

type (
	EditRequest struct {
		Commands []session.Command `json:"commands" validate:"required,min=1,dive"`
	}

	SaveResponse struct {
		ProcessMapID string `json:"processMapId"`
		Revision     uint64 `json:"revision"`
	}
)

// HandleEdits applies a batch of editor commands to the process map's session.
// The response carries the resulting document, connectors, tool state and
// notices. A command that fails outright yields 400 with the state reached
// before it.
func HandleEdits(store Store, sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pm, ok := loadAuthorized(w, r, store)
		if !ok {
			return
		}
		log := logrus.WithField("process_map_id", pm.ID)

		var req EditRequest
		if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
			respondInvalid(w, r, map[string]string{"body": "Must be a JSON object"})
			return
		}
		if err := getValidator().Struct(req); err != nil {
			respondInvalid(w, r, validationDetails(err))
			return
		}

		sess, ok := acquire(w, r, sessions, pm.ID)
		if !ok {
			return
		}
		result, err := sess.Apply(req.Commands)
		if err != nil {
			if errors.Is(err, session.ErrClosed) {
				respondError(w, r, http.StatusConflict, "Editor session was closed")
				return
			}
			log.WithError(err).Info("Rejected editor command")
			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, map[string]any{
				"error":  err.Error(),
				"result": result,
			})
			return
		}
		log.WithFields(logrus.Fields{
			"commands": len(req.Commands),
			"revision": result.Revision,
		}).Debug("Applied editor commands")
		render.JSON(w, r, result)
	}
}

// HandleSave writes the session's canvas now.
func HandleSave(store Store, sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pm, ok := loadAuthorized(w, r, store)
		if !ok {
			return
		}

		sess, ok := acquire(w, r, sessions, pm.ID)
		if !ok {
			return
		}
		if err := sess.Save(r.Context()); err != nil {
			if errors.Is(err, session.ErrClosed) {
				respondError(w, r, http.StatusConflict, "Editor session was closed")
				return
			}
			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, map[string]any{
				"error":   "Failed to save process map",
				"notices": sess.Notices(),
			})
			return
		}
		render.JSON(w, r, SaveResponse{ProcessMapID: pm.ID, Revision: sess.LastSaved()})
	}
}

func acquire(w http.ResponseWriter, r *http.Request, sessions Sessions, id string) (*session.Session, bool) {
	sess, err := sessions.Acquire(r.Context(), id)
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			respondError(w, r, http.StatusNotFound, "Process map not found")
			return nil, false
		}
		logrus.WithField("process_map_id", id).WithError(err).Error("Failed to open editor session")
		respondError(w, r, http.StatusInternalServerError, "Failed to open editor session")
		return nil, false
	}
	return sess, true
}

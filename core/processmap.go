package core

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a process map does not exist.
	ErrNotFound = errors.New("process map not found")
	// ErrProjectNotFound is returned by a ProjectDirectory for an unknown project.
	ErrProjectNotFound = errors.New("project not found")
	// ErrReferencedNotFound is returned when a write refers to a project or user
	// the store does not know about.
	ErrReferencedNotFound = errors.New("referenced resource not found")
)

type (
	// ProcessMap is a named diagram belonging to a project. CanvasData holds the
	// serialized canvas document; Elements and Connections are opaque metadata
	// that is stored but never read back into the editor.
	ProcessMap struct {
		ID          string          `json:"id"`
		ProjectID   string          `json:"projectId"`
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		CanvasData  json.RawMessage `json:"canvasData,omitempty"`
		Elements    json.RawMessage `json:"elements,omitempty"`
		Connections json.RawMessage `json:"connections,omitempty"`
		CreatedByID string          `json:"createdById"`
		CreatedAt   time.Time       `json:"createdAt"`
		UpdatedAt   time.Time       `json:"updatedAt"`
	}

	// ProcessMapStore persists process maps.
	ProcessMapStore interface {
		// CreateProcessMap assigns an id and timestamps and stores pm. It returns
		// ErrReferencedNotFound when the project is unknown.
		CreateProcessMap(ctx context.Context, pm *ProcessMap) error

		GetProcessMap(ctx context.Context, id string) (*ProcessMap, error)

		// ListProcessMaps returns the maps of a project without their CanvasData.
		ListProcessMaps(ctx context.Context, projectID string) ([]*ProcessMap, error)

		// SaveCanvas replaces the canvas document of a map. Saving the same
		// document twice leaves the record unchanged apart from UpdatedAt.
		SaveCanvas(ctx context.Context, id string, data json.RawMessage) error

		DeleteProcessMap(ctx context.Context, id string) error
	}
)

package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"processmap-server/core"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

// memStore implements ProcessMapStore and ProjectDirectory in memory.
type memStore struct {
	mu          sync.RWMutex
	processMaps map[string]*core.ProcessMap
	projects    map[string]*core.Project
}

// NewStore creates a new in-memory store.
func NewStore() *memStore {
	return &memStore{
		processMaps: make(map[string]*core.ProcessMap),
		projects:    make(map[string]*core.Project),
	}
}

func (s *memStore) GetProject(ctx context.Context, id string) (*core.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.projects[id]
	if !ok {
		logrus.WithField("project_id", id).Warn("Project not found")
		return nil, fmt.Errorf("project %s: %w", id, core.ErrProjectNotFound)
	}
	cp := *p
	return &cp, nil
}

func (s *memStore) SaveProject(ctx context.Context, project *core.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if project.ID == "" {
		return fmt.Errorf("project ID cannot be empty")
	}
	if existing, ok := s.projects[project.ID]; ok {
		project.CreatedAt = existing.CreatedAt
	} else if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	cp := *project
	s.projects[project.ID] = &cp
	logrus.WithField("project_id", project.ID).Info("Project saved successfully")
	return nil
}

func (s *memStore) CreateProcessMap(ctx context.Context, pm *core.ProcessMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.projects[pm.ProjectID]; !ok {
		logrus.WithField("project_id", pm.ProjectID).Warn("Process map references unknown project")
		return fmt.Errorf("project %s: %w", pm.ProjectID, core.ErrReferencedNotFound)
	}

	now := time.Now().UTC()
	pm.ID = ulid.Make().String()
	pm.CreatedAt = now
	pm.UpdatedAt = now
	s.processMaps[pm.ID] = clone(pm)

	logrus.WithFields(logrus.Fields{
		"process_map_id": pm.ID,
		"project_id":     pm.ProjectID,
		"data_length":    len(pm.CanvasData),
	}).Info("Process map created successfully")
	return nil
}

func (s *memStore) GetProcessMap(ctx context.Context, id string) (*core.ProcessMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := logrus.WithField("process_map_id", id)
	pm, ok := s.processMaps[id]
	if !ok {
		log.Warn("Process map not found")
		return nil, fmt.Errorf("process map %s: %w", id, core.ErrNotFound)
	}
	log.Debug("Process map retrieved successfully")
	return clone(pm), nil
}

func (s *memStore) ListProcessMaps(ctx context.Context, projectID string) ([]*core.ProcessMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	maps := []*core.ProcessMap{}
	for _, pm := range s.processMaps {
		if pm.ProjectID != projectID {
			continue
		}
		// List views leave out the canvas document.
		item := clone(pm)
		item.CanvasData = nil
		maps = append(maps, item)
	}
	sort.Slice(maps, func(i, j int) bool { return maps[i].ID < maps[j].ID })

	logrus.WithField("project_id", projectID).Infof("Listed %d process maps", len(maps))
	return maps, nil
}

func (s *memStore) SaveCanvas(ctx context.Context, id string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithField("process_map_id", id)
	pm, ok := s.processMaps[id]
	if !ok {
		log.Warn("Process map not found for canvas save")
		return fmt.Errorf("process map %s: %w", id, core.ErrNotFound)
	}
	pm.CanvasData = bytes.Clone(data)
	pm.UpdatedAt = time.Now().UTC()
	log.WithField("data_length", len(data)).Info("Canvas saved successfully")
	return nil
}

func (s *memStore) DeleteProcessMap(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithField("process_map_id", id)
	if _, ok := s.processMaps[id]; !ok {
		log.Warn("Process map not found for deletion")
		return fmt.Errorf("process map %s: %w", id, core.ErrNotFound)
	}
	delete(s.processMaps, id)
	log.Info("Process map deleted successfully")
	return nil
}

func clone(pm *core.ProcessMap) *core.ProcessMap {
	cp := *pm
	cp.CanvasData = bytes.Clone(pm.CanvasData)
	cp.Elements = bytes.Clone(pm.Elements)
	cp.Connections = bytes.Clone(pm.Connections)
	return &cp
}

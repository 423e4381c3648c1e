package filesystem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"processmap-server/core"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	projectsDir    = "projects"
	processMapsDir = "processmaps"
)

// fsStore keeps one JSON file per project and per process map under basePath.
type fsStore struct {
	basePath string
	mu       sync.RWMutex
}

// NewStore creates the directory layout under basePath.
func NewStore(basePath string) (*fsStore, error) {
	for _, dir := range []string{projectsDir, processMapsDir} {
		if err := os.MkdirAll(filepath.Join(basePath, dir), 0755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", dir, err)
		}
	}
	return &fsStore{basePath: basePath}, nil
}

// filePath resolves the file for id inside dir, refusing ids that would
// escape the directory.
func (s *fsStore) filePath(dir, id string) (string, error) {
	if id == "" || id == "." || id == ".." || filepath.Base(id) != id || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid id %q", id)
	}
	return filepath.Join(s.basePath, dir, id+".json"), nil
}

func (s *fsStore) GetProject(ctx context.Context, id string) (*core.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	log := logrus.WithField("project_id", id)
	var p core.Project
	if err := s.read(projectsDir, id, &p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("Project not found")
			return nil, fmt.Errorf("project %s: %w", id, core.ErrProjectNotFound)
		}
		log.WithError(err).Error("Failed to read project")
		return nil, err
	}
	return &p, nil
}

func (s *fsStore) SaveProject(ctx context.Context, project *core.Project) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithField("project_id", project.ID)
	var existing core.Project
	switch err := s.read(projectsDir, project.ID, &existing); {
	case err == nil:
		project.CreatedAt = existing.CreatedAt
	case errors.Is(err, os.ErrNotExist):
		if project.CreatedAt.IsZero() {
			project.CreatedAt = time.Now().UTC()
		}
	default:
		return err
	}
	if err := s.write(projectsDir, project.ID, project); err != nil {
		log.WithError(err).Error("Failed to write project file")
		return err
	}
	log.Info("Project saved successfully")
	return nil
}

func (s *fsStore) CreateProcessMap(ctx context.Context, pm *core.ProcessMap) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var project core.Project
	if err := s.read(projectsDir, pm.ProjectID, &project); err != nil {
		if errors.Is(err, os.ErrNotExist) || pm.ProjectID == "" {
			logrus.WithField("project_id", pm.ProjectID).Warn("Process map references unknown project")
			return fmt.Errorf("project %s: %w", pm.ProjectID, core.ErrReferencedNotFound)
		}
		return err
	}

	now := time.Now().UTC()
	pm.ID = ulid.Make().String()
	pm.CreatedAt = now
	pm.UpdatedAt = now

	log := logrus.WithFields(logrus.Fields{
		"process_map_id": pm.ID,
		"project_id":     pm.ProjectID,
	})
	if err := s.write(processMapsDir, pm.ID, pm); err != nil {
		log.WithError(err).Error("Failed to write process map file")
		return err
	}
	log.Info("Process map created successfully")
	return nil
}

func (s *fsStore) GetProcessMap(ctx context.Context, id string) (*core.ProcessMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.getProcessMap(id)
}

func (s *fsStore) getProcessMap(id string) (*core.ProcessMap, error) {
	log := logrus.WithField("process_map_id", id)
	var pm core.ProcessMap
	if err := s.read(processMapsDir, id, &pm); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("Process map not found")
			return nil, fmt.Errorf("process map %s: %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to read process map")
		return nil, err
	}
	return &pm, nil
}

func (s *fsStore) ListProcessMaps(ctx context.Context, projectID string) ([]*core.ProcessMap, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dir := filepath.Join(s.basePath, processMapsDir)
	log := logrus.WithFields(logrus.Fields{"project_id": projectID, "path": dir})

	files, err := os.ReadDir(dir)
	if err != nil {
		log.WithError(err).Error("Failed to read process map directory")
		return nil, err
	}

	maps := []*core.ProcessMap{}
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		id := strings.TrimSuffix(file.Name(), ".json")
		var pm core.ProcessMap
		if err := s.read(processMapsDir, id, &pm); err != nil {
			log.WithError(err).Warnf("Failed to read process map file %s, skipping", file.Name())
			continue
		}
		if pm.ProjectID != projectID {
			continue
		}
		pm.CanvasData = nil
		maps = append(maps, &pm)
	}
	sort.Slice(maps, func(i, j int) bool { return maps[i].ID < maps[j].ID })

	log.Infof("Listed %d process maps", len(maps))
	return maps, nil
}

func (s *fsStore) SaveCanvas(ctx context.Context, id string, data json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	pm, err := s.getProcessMap(id)
	if err != nil {
		return err
	}
	pm.CanvasData = data
	pm.UpdatedAt = time.Now().UTC()

	log := logrus.WithField("process_map_id", id)
	if err := s.write(processMapsDir, id, pm); err != nil {
		log.WithError(err).Error("Failed to write process map file")
		return err
	}
	log.WithField("data_length", len(data)).Info("Canvas saved successfully")
	return nil
}

func (s *fsStore) DeleteProcessMap(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	log := logrus.WithField("process_map_id", id)
	path, err := s.filePath(processMapsDir, id)
	if err != nil {
		return fmt.Errorf("process map %s: %w", id, core.ErrNotFound)
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Warn("Process map file not found for deletion")
			return fmt.Errorf("process map %s: %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to delete process map file")
		return err
	}
	log.Info("Process map deleted successfully")
	return nil
}

func (s *fsStore) read(dir, id string, v any) error {
	path, err := s.filePath(dir, id)
	if err != nil {
		return fmt.Errorf("%w: %v", os.ErrNotExist, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// write replaces the file atomically.
func (s *fsStore) write(dir, id string, v any) error {
	path, err := s.filePath(dir, id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), id+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

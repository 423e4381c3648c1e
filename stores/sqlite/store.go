package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"processmap-server/core"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL DEFAULT '',
	name TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS process_maps (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	canvas_data BLOB,
	elements BLOB,
	connections BLOB,
	created_by_id TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_process_maps_project ON process_maps(project_id);`

type sqliteStore struct {
	db *sql.DB
}

// NewStore opens the database and creates the schema.
func NewStore(dataSourceName string) (*sqliteStore, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// foreign_keys is a per-connection pragma, so keep a single connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA foreign_keys = ON;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &sqliteStore{db}, nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

func (s *sqliteStore) GetProject(ctx context.Context, id string) (*core.Project, error) {
	log := logrus.WithField("project_id", id)
	var p core.Project
	err := s.db.QueryRowContext(ctx,
		"SELECT id, organization_id, name, created_at FROM projects WHERE id = ?", id,
	).Scan(&p.ID, &p.OrganizationID, &p.Name, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn("Project not found")
			return nil, fmt.Errorf("project %s: %w", id, core.ErrProjectNotFound)
		}
		log.WithError(err).Error("Failed to retrieve project")
		return nil, err
	}
	return &p, nil
}

func (s *sqliteStore) SaveProject(ctx context.Context, project *core.Project) error {
	if project.ID == "" {
		return fmt.Errorf("project ID cannot be empty")
	}
	if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, organization_id, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET organization_id = excluded.organization_id, name = excluded.name`,
		project.ID, project.OrganizationID, project.Name, project.CreatedAt)
	if err != nil {
		logrus.WithField("project_id", project.ID).WithError(err).Error("Failed to save project")
		return err
	}
	logrus.WithField("project_id", project.ID).Info("Project saved successfully")
	return nil
}

func (s *sqliteStore) CreateProcessMap(ctx context.Context, pm *core.ProcessMap) error {
	now := time.Now().UTC()
	pm.ID = ulid.Make().String()
	pm.CreatedAt = now
	pm.UpdatedAt = now

	log := logrus.WithFields(logrus.Fields{
		"process_map_id": pm.ID,
		"project_id":     pm.ProjectID,
		"data_length":    len(pm.CanvasData),
	})

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO process_maps
			(id, project_id, name, description, canvas_data, elements, connections, created_by_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		pm.ID, pm.ProjectID, pm.Name, pm.Description,
		nullable(pm.CanvasData), nullable(pm.Elements), nullable(pm.Connections),
		pm.CreatedByID, pm.CreatedAt, pm.UpdatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			log.Warn("Process map references unknown project")
			return fmt.Errorf("project %s: %w", pm.ProjectID, core.ErrReferencedNotFound)
		}
		log.WithError(err).Error("Failed to create process map")
		return err
	}
	log.Info("Process map created successfully")
	return nil
}

func (s *sqliteStore) GetProcessMap(ctx context.Context, id string) (*core.ProcessMap, error) {
	log := logrus.WithField("process_map_id", id)
	var pm core.ProcessMap
	var canvasData, elements, connections []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, description, canvas_data, elements, connections, created_by_id, created_at, updated_at
		FROM process_maps WHERE id = ?`, id,
	).Scan(&pm.ID, &pm.ProjectID, &pm.Name, &pm.Description, &canvasData, &elements, &connections,
		&pm.CreatedByID, &pm.CreatedAt, &pm.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			log.Warn("Process map not found")
			return nil, fmt.Errorf("process map %s: %w", id, core.ErrNotFound)
		}
		log.WithError(err).Error("Failed to retrieve process map")
		return nil, err
	}
	pm.CanvasData = canvasData
	pm.Elements = elements
	pm.Connections = connections
	log.Debug("Process map retrieved successfully")
	return &pm, nil
}

func (s *sqliteStore) ListProcessMaps(ctx context.Context, projectID string) ([]*core.ProcessMap, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, name, description, created_by_id, created_at, updated_at
		FROM process_maps WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	maps := []*core.ProcessMap{}
	for rows.Next() {
		var pm core.ProcessMap
		if err := rows.Scan(&pm.ID, &pm.ProjectID, &pm.Name, &pm.Description, &pm.CreatedByID, &pm.CreatedAt, &pm.UpdatedAt); err != nil {
			return nil, err
		}
		maps = append(maps, &pm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	logrus.WithField("project_id", projectID).Infof("Listed %d process maps", len(maps))
	return maps, nil
}

func (s *sqliteStore) SaveCanvas(ctx context.Context, id string, data json.RawMessage) error {
	log := logrus.WithField("process_map_id", id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE process_maps SET canvas_data = ?, updated_at = ? WHERE id = ?",
		[]byte(data), time.Now().UTC(), id)
	if err != nil {
		log.WithError(err).Error("Failed to save canvas")
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		log.Warn("Process map not found for canvas save")
		return fmt.Errorf("process map %s: %w", id, core.ErrNotFound)
	}
	log.WithField("data_length", len(data)).Info("Canvas saved successfully")
	return nil
}

func (s *sqliteStore) DeleteProcessMap(ctx context.Context, id string) error {
	log := logrus.WithField("process_map_id", id)
	res, err := s.db.ExecContext(ctx, "DELETE FROM process_maps WHERE id = ?", id)
	if err != nil {
		log.WithError(err).Error("Failed to delete process map")
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		log.Warn("Process map not found for deletion")
		return fmt.Errorf("process map %s: %w", id, core.ErrNotFound)
	}
	log.Info("Process map deleted successfully")
	return nil
}

func nullable(data json.RawMessage) any {
	if len(data) == 0 {
		return nil
	}
	return []byte(data)
}

func isForeignKeyViolation(err error) bool {
	var coded interface{ Code() int }
	if !errors.As(err, &coded) {
		return false
	}
	code := coded.Code()
	if code == sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY {
		return true
	}
	return code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(err.Error(), "FOREIGN KEY")
}

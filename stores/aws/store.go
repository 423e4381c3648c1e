package aws

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"processmap-server/core"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	projectsPrefix    = "projects/"
	processMapsPrefix = "processmaps/"
	indexPrefix       = "index/"
)

// s3API is the subset of the S3 client the store uses.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// s3Store keeps each project and process map as a JSON object. Empty marker
// objects under index/{projectId}/ list the maps of a project.
type s3Store struct {
	client s3API
	bucket string
}

// NewStore creates a store using the default AWS credential chain.
func NewStore(ctx context.Context, bucketName string) (*s3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %w", err)
	}
	return newStore(s3.NewFromConfig(cfg), bucketName), nil
}

func newStore(client s3API, bucket string) *s3Store {
	return &s3Store{client: client, bucket: bucket}
}

// validID rejects ids that would address another prefix.
func validID(id string) error {
	if path.Base(id) != id {
		return fmt.Errorf("invalid id: must not be a path")
	}
	if id == "" || id == "." || id == ".." {
		return fmt.Errorf("invalid id: must not be empty or a dot directory")
	}
	return nil
}

func objectKey(prefix, id string) (string, error) {
	if err := validID(id); err != nil {
		return "", err
	}
	return prefix + id + ".json", nil
}

// projectIndex is the prefix under which the process maps of a project are
// indexed.
func projectIndex(projectID string) (string, error) {
	if err := validID(projectID); err != nil {
		return "", fmt.Errorf("project %q: %w", projectID, err)
	}
	return indexPrefix + projectID + "/", nil
}

func indexKey(projectID, id string) (string, error) {
	prefix, err := projectIndex(projectID)
	if err != nil {
		return "", err
	}
	if err := validID(id); err != nil {
		return "", err
	}
	return prefix + id, nil
}

func (s *s3Store) GetProject(ctx context.Context, id string) (*core.Project, error) {
	log := logrus.WithField("project_id", id)
	var p core.Project
	if err := s.getJSON(ctx, projectsPrefix, id, &p); err != nil {
		if errors.Is(err, errNoSuchKey) {
			log.Warn("Project not found")
			return nil, fmt.Errorf("project %s: %w", id, core.ErrProjectNotFound)
		}
		log.WithError(err).Error("Failed to get project")
		return nil, err
	}
	return &p, nil
}

func (s *s3Store) SaveProject(ctx context.Context, project *core.Project) error {
	if existing, err := s.GetProject(ctx, project.ID); err == nil {
		project.CreatedAt = existing.CreatedAt
	} else if project.CreatedAt.IsZero() {
		project.CreatedAt = time.Now().UTC()
	}
	if err := s.putJSON(ctx, projectsPrefix, project.ID, project); err != nil {
		return fmt.Errorf("failed to save project %s: %w", project.ID, err)
	}
	logrus.WithField("project_id", project.ID).Info("Project saved successfully")
	return nil
}

func (s *s3Store) CreateProcessMap(ctx context.Context, pm *core.ProcessMap) error {
	if _, err := s.GetProject(ctx, pm.ProjectID); err != nil {
		if errors.Is(err, core.ErrProjectNotFound) {
			return fmt.Errorf("project %s: %w", pm.ProjectID, core.ErrReferencedNotFound)
		}
		return err
	}

	now := time.Now().UTC()
	pm.ID = ulid.Make().String()
	index, err := indexKey(pm.ProjectID, pm.ID)
	if err != nil {
		return err
	}
	pm.CreatedAt = now
	pm.UpdatedAt = now

	if err := s.putJSON(ctx, processMapsPrefix, pm.ID, pm); err != nil {
		return fmt.Errorf("failed to upload process map: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(index),
		Body:   bytes.NewReader(nil),
	})
	if err != nil {
		return fmt.Errorf("failed to index process map: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"process_map_id": pm.ID,
		"project_id":     pm.ProjectID,
	}).Info("Process map created successfully")
	return nil
}

func (s *s3Store) GetProcessMap(ctx context.Context, id string) (*core.ProcessMap, error) {
	var pm core.ProcessMap
	if err := s.getJSON(ctx, processMapsPrefix, id, &pm); err != nil {
		if errors.Is(err, errNoSuchKey) {
			logrus.WithField("process_map_id", id).Warn("Process map not found")
			return nil, fmt.Errorf("process map %s: %w", id, core.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get process map %s: %w", id, err)
	}
	return &pm, nil
}

func (s *s3Store) ListProcessMaps(ctx context.Context, projectID string) ([]*core.ProcessMap, error) {
	prefix, err := projectIndex(projectID)
	if err != nil {
		return nil, err
	}
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	})

	log := logrus.WithField("project_id", projectID)
	maps := []*core.ProcessMap{}
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list process maps for project %s: %w", projectID, err)
		}
		for _, object := range page.Contents {
			id := strings.TrimPrefix(aws.ToString(object.Key), prefix)
			pm, err := s.GetProcessMap(ctx, id)
			if err != nil {
				log.WithError(err).Warnf("Failed to load indexed process map %s, skipping", id)
				continue
			}
			pm.CanvasData = nil
			maps = append(maps, pm)
		}
	}
	sort.Slice(maps, func(i, j int) bool { return maps[i].ID < maps[j].ID })

	log.Infof("Listed %d process maps", len(maps))
	return maps, nil
}

func (s *s3Store) SaveCanvas(ctx context.Context, id string, data json.RawMessage) error {
	pm, err := s.GetProcessMap(ctx, id)
	if err != nil {
		return err
	}
	pm.CanvasData = data
	pm.UpdatedAt = time.Now().UTC()
	if err := s.putJSON(ctx, processMapsPrefix, id, pm); err != nil {
		return fmt.Errorf("failed to save canvas %s: %w", id, err)
	}
	logrus.WithFields(logrus.Fields{
		"process_map_id": id,
		"data_length":    len(data),
	}).Info("Canvas saved successfully")
	return nil
}

func (s *s3Store) DeleteProcessMap(ctx context.Context, id string) error {
	pm, err := s.GetProcessMap(ctx, id)
	if err != nil {
		return err
	}
	key, _ := objectKey(processMapsPrefix, id)
	index, err := indexKey(pm.ProjectID, id)
	if err != nil {
		return err
	}
	for _, k := range []string{index, key} {
		_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(k),
		})
		if err != nil {
			return fmt.Errorf("failed to delete process map %s: %w", id, err)
		}
	}
	logrus.WithField("process_map_id", id).Info("Process map deleted successfully")
	return nil
}

var errNoSuchKey = errors.New("no such key")

func (s *s3Store) getJSON(ctx context.Context, prefix, id string, v any) error {
	key, err := objectKey(prefix, id)
	if err != nil {
		return fmt.Errorf("%w: %v", errNoSuchKey, err)
	}
	resp, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return errNoSuchKey
		}
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read object data: %w", err)
	}
	return json.Unmarshal(data, v)
}

func (s *s3Store) putJSON(ctx context.Context, prefix, id string, v any) error {
	key, err := objectKey(prefix, id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

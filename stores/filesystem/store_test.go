package filesystem

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"processmap-server/core"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) (*fsStore, string) {
	t.Helper()
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.SaveProject(context.Background(), &core.Project{ID: "proj-1", OrganizationID: "org-1"}))
	return store, dir
}

func TestNewStore_CreatesLayout(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	_, err := NewStore(dir)
	require.NoError(t, err)
	for _, sub := range []string{projectsDir, processMapsDir} {
		assert.DirExists(t, filepath.Join(dir, sub))
	}
}

func TestCreateAndGetProcessMap(t *testing.T) {
	store, dir := setupTestStore(t)
	ctx := context.Background()

	pm := &core.ProcessMap{
		ProjectID:   "proj-1",
		Name:        "Hiring",
		CanvasData:  json.RawMessage(`{"objects":[]}`),
		Connections: json.RawMessage(`[]`),
		CreatedByID: "user-1",
	}
	require.NoError(t, store.CreateProcessMap(ctx, pm))
	assert.FileExists(t, filepath.Join(dir, processMapsDir, pm.ID+".json"))

	got, err := store.GetProcessMap(ctx, pm.ID)
	require.NoError(t, err)
	assert.Equal(t, "Hiring", got.Name)
	assert.Equal(t, "user-1", got.CreatedByID)
	assert.JSONEq(t, `{"objects":[]}`, string(got.CanvasData))
}

func TestCreateProcessMap_UnknownProject(t *testing.T) {
	store, _ := setupTestStore(t)

	err := store.CreateProcessMap(context.Background(), &core.ProcessMap{ProjectID: "ghost", Name: "x"})
	assert.ErrorIs(t, err, core.ErrReferencedNotFound)
}

func TestGetProcessMap_PathTraversal(t *testing.T) {
	store, _ := setupTestStore(t)

	for _, id := range []string{"../projects/proj-1", "..", "a/b", ""} {
		_, err := store.GetProcessMap(context.Background(), id)
		assert.ErrorIs(t, err, core.ErrNotFound, "id %q", id)
	}
}

func TestListProcessMaps_SkipsCorruptFiles(t *testing.T) {
	store, dir := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		pm := &core.ProcessMap{ProjectID: "proj-1", Name: "m", CanvasData: json.RawMessage(`{"objects":[]}`)}
		require.NoError(t, store.CreateProcessMap(ctx, pm))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, processMapsDir, "broken.json"), []byte("{"), 0644))

	maps, err := store.ListProcessMaps(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, maps, 2)
	assert.Nil(t, maps[0].CanvasData, "list must not include canvas data")
}

func TestSaveCanvasAndDelete(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()
	pm := &core.ProcessMap{ProjectID: "proj-1", Name: "m", CanvasData: json.RawMessage(`{"objects":[]}`)}
	require.NoError(t, store.CreateProcessMap(ctx, pm))

	doc := json.RawMessage(`{"version":"5.3.0","objects":[{"type":"text","text":"hi"}]}`)
	require.NoError(t, store.SaveCanvas(ctx, pm.ID, doc))
	got, _ := store.GetProcessMap(ctx, pm.ID)
	assert.Equal(t, string(doc), string(got.CanvasData))
	assert.True(t, got.CreatedAt.Equal(pm.CreatedAt), "SaveCanvas changed CreatedAt: got %v, want %v", got.CreatedAt, pm.CreatedAt)

	assert.ErrorIs(t, store.SaveCanvas(ctx, "missing", doc), core.ErrNotFound)

	require.NoError(t, store.DeleteProcessMap(ctx, pm.ID))
	assert.ErrorIs(t, store.DeleteProcessMap(ctx, pm.ID), core.ErrNotFound)
}

func TestSaveProject_KeepsCreatedAt(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	first, err := store.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	require.NoError(t, store.SaveProject(ctx, &core.Project{ID: "proj-1", OrganizationID: "org-9"}))

	second, _ := store.GetProject(ctx, "proj-1")
	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	assert.Equal(t, "org-9", second.OrganizationID)

	_, err = store.GetProject(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrProjectNotFound)
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"processmap-server/config"
	"processmap-server/core"
	"processmap-server/handlers/auth"
	"processmap-server/notify"
	"processmap-server/session"
	"processmap-server/stores/memory"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClient struct {
	t     *testing.T
	base  string
	token string
}

func (c testClient) do(method, path string, body any, out any) int {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, c.base+path, &buf)
	require.NoError(c.t, err)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 && resp.StatusCode != http.StatusNoContent {
		require.NoError(c.t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func newTestServer(t *testing.T) (*httptest.Server, *session.Manager) {
	t.Helper()
	auth.InitAuth("test-secret")
	store := memory.NewStore()
	sessions := session.NewManager(store, session.Options{
		AutosaveDelay: 20 * time.Millisecond,
		Notifier:      notify.Discard{},
	})
	srv := httptest.NewServer(setupRouter(store, sessions, config.Config{CORSAllowedOrigins: []string{"*"}}))
	t.Cleanup(srv.Close)
	return srv, sessions
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t)
	c := testClient{t: t, base: srv.URL}

	var body map[string]any
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/healthz", nil, &body))
	assert.Equal(t, "ok", body["status"])
}

func TestAPIRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t)
	c := testClient{t: t, base: srv.URL}

	assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodGet, "/api/v2/processmaps/x", nil, nil))
}

// TestFlowA draws two shapes, labels one, connects them with an arrow and
// reopens the saved map.
func TestFlowA(t *testing.T) {
	srv, sessions := newTestServer(t)
	token, err := auth.CreateJWT("user-1", "org-1", time.Hour)
	require.NoError(t, err)
	c := testClient{t: t, base: srv.URL, token: token}

	require.Equal(t, http.StatusOK, c.do(http.MethodPut, "/api/v2/projects/proj-1", map[string]string{"name": "Operations"}, nil))

	var pm core.ProcessMap
	code := c.do(http.MethodPost, "/api/v2/projects/proj-1/processmaps", map[string]any{
		"name":        "Onboarding",
		"createdById": "intruder",
	}, &pm)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "user-1", pm.CreatedByID)

	var result session.Result
	code = c.do(http.MethodPost, "/api/v2/processmaps/"+pm.ID+"/edits", map[string]any{
		"commands": []map[string]any{
			{"op": "addShape", "kind": "rect"},
			{"op": "attachText"},
			{"op": "addShape", "kind": "ellipse"},
		},
	}, &result)
	require.Equal(t, http.StatusOK, code)
	groupID := result.Commands[1].ObjectID
	ellipseID := result.Commands[2].ObjectID

	code = c.do(http.MethodPost, "/api/v2/processmaps/"+pm.ID+"/edits", map[string]any{
		"commands": []map[string]any{
			{"op": "move", "id": ellipseID, "x": 300, "y": 90},
			{"op": "tool", "tool": "draw-connector", "kind": "arrow"},
			{"op": "click", "x": 150, "y": 140},
			{"op": "click", "x": 350, "y": 140},
		},
	}, &result)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, result.Connectors, 1)
	assert.Equal(t, groupID, result.Connectors[0].FromObjectID)
	assert.Equal(t, ellipseID, result.Connectors[0].ToObjectID)

	require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/api/v2/processmaps/"+pm.ID+"/save", nil, nil))
	require.NoError(t, sessions.CloseAll(context.Background()))

	var fetched struct {
		CanvasData struct {
			Objects []json.RawMessage `json:"objects"`
		} `json:"canvasData"`
		Warning string `json:"warning"`
	}
	require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/v2/processmaps/"+pm.ID, nil, &fetched))
	assert.Empty(t, fetched.Warning)
	assert.Len(t, fetched.CanvasData.Objects, 4)

	code = c.do(http.MethodPost, "/api/v2/processmaps/"+pm.ID+"/edits", map[string]any{
		"commands": []map[string]any{{"op": "select"}},
	}, &result)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, result.Connectors, 1, "reopened session lost its connector")
	assert.Len(t, result.Document.Objects, 4, "reopened session lost objects")
}

func TestCreateRejectsOtherOrganization(t *testing.T) {
	srv, _ := newTestServer(t)
	owner, _ := auth.CreateJWT("user-1", "org-1", time.Hour)
	other, _ := auth.CreateJWT("user-2", "org-2", time.Hour)

	c := testClient{t: t, base: srv.URL, token: owner}
	c.do(http.MethodPut, "/api/v2/projects/proj-1", map[string]string{"name": "Operations"}, nil)

	c.token = other
	code := c.do(http.MethodPost, "/api/v2/projects/proj-1/processmaps", map[string]string{"name": "Sneaky"}, nil)
	assert.Equal(t, http.StatusForbidden, code)
}

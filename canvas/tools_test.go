package canvas

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController() (*Surface, *Connectors, *Controller) {
	s, c := newTestSurface()
	return s, c, NewController(s, c)
}

func TestController_Defaults(t *testing.T) {
	s, _, ctrl := newTestController()

	assert.Equal(t, ToolSelect, ctrl.Tool())
	assert.Equal(t, "idle", GestureName(ctrl.Gesture()))
	assert.Equal(t, Brush{Width: BrushMedium, Color: "#000000"}, ctrl.Brush())
	assert.True(t, s.SelectionEnabled())
	assert.Equal(t, CursorDefault, s.Cursor())
}

func TestController_AddShapeSelects(t *testing.T) {
	s, _, ctrl := newTestController()

	id, err := ctrl.AddShape(KindRect, Style{})
	require.NoError(t, err)
	assert.Equal(t, id, s.Selected())
	assert.Equal(t, ToolSelect, ctrl.Tool())

	textID := ctrl.AddText("note")
	assert.Equal(t, textID, s.Selected())
}

func TestController_TwoClickConnector(t *testing.T) {
	s, c, ctrl := newTestController()
	rect, ellipse := twoShapes(t, s)

	require.NoError(t, ctrl.StartConnector(ConnectorArrow))
	assert.Equal(t, ToolDrawConnector, ctrl.Tool())
	assert.Equal(t, AwaitingFirstPoint{Kind: ConnectorArrow}, ctrl.Gesture())
	assert.Equal(t, CursorCrosshair, s.Cursor())
	assert.False(t, s.SelectionEnabled())

	// Empty canvas is ignored.
	conn, err := ctrl.Click(Point{X: 600, Y: 600})
	require.NoError(t, err)
	assert.Nil(t, conn)
	assert.Equal(t, AwaitingFirstPoint{Kind: ConnectorArrow}, ctrl.Gesture())

	_, err = ctrl.Click(Point{X: 150, Y: 140})
	require.NoError(t, err)
	g, ok := ctrl.Gesture().(AwaitingSecondPoint)
	require.True(t, ok)
	assert.Equal(t, rect, g.FromID)
	assert.Equal(t, 2, s.Len(), "transient line is not persisted")

	line := s.index[g.TransientLineID]
	require.NotNil(t, line)
	assert.Equal(t, 150.0, line.X1)
	assert.Equal(t, 140.0, line.Y1)

	ctrl.PointerMove(Point{X: 250, Y: 200})
	assert.Equal(t, 250.0, line.X2)
	assert.Equal(t, 200.0, line.Y2)

	// Clicking the source again or empty canvas keeps waiting.
	_, err = ctrl.Click(Point{X: 150, Y: 140})
	require.NoError(t, err)
	_, err = ctrl.Click(Point{X: 600, Y: 10})
	require.NoError(t, err)
	assert.IsType(t, AwaitingSecondPoint{}, ctrl.Gesture())

	conn, err = ctrl.Click(Point{X: 350, Y: 140})
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, rect, conn.FromObjectID)
	assert.Equal(t, ellipse, conn.ToObjectID)

	assert.Equal(t, Idle{}, ctrl.Gesture())
	assert.Equal(t, ToolSelect, ctrl.Tool())
	assert.Equal(t, CursorDefault, s.Cursor())
	assert.True(t, s.SelectionEnabled())
	_, stillThere := s.index[g.TransientLineID]
	assert.False(t, stillThere)
	assert.Len(t, c.All(), 1)
	assert.Equal(t, 4, s.Len())
}

func TestController_CancelDiscardsTransientLine(t *testing.T) {
	s, c, ctrl := newTestController()
	twoShapes(t, s)

	require.NoError(t, ctrl.StartConnector(ConnectorLine))
	_, err := ctrl.Click(Point{X: 150, Y: 140})
	require.NoError(t, err)
	g := ctrl.Gesture().(AwaitingSecondPoint)

	ctrl.Cancel()
	assert.Equal(t, Idle{}, ctrl.Gesture())
	assert.Equal(t, ToolSelect, ctrl.Tool())
	assert.True(t, s.SelectionEnabled())
	_, ok := s.index[g.TransientLineID]
	assert.False(t, ok)
	assert.Empty(t, c.All())
}

func TestController_ToolSwitchCancelsGesture(t *testing.T) {
	s, _, ctrl := newTestController()
	twoShapes(t, s)

	require.NoError(t, ctrl.StartConnector(ConnectorArrow))
	_, err := ctrl.Click(Point{X: 150, Y: 140})
	require.NoError(t, err)
	g := ctrl.Gesture().(AwaitingSecondPoint)

	ctrl.StartFreeDraw()
	assert.Equal(t, ToolFreeDraw, ctrl.Tool())
	assert.Equal(t, Idle{}, ctrl.Gesture())
	_, ok := s.index[g.TransientLineID]
	assert.False(t, ok)
	assert.Equal(t, 2, len(s.objects))
}

func TestController_StartConnectorUnknownKind(t *testing.T) {
	_, _, ctrl := newTestController()
	assert.ErrorIs(t, ctrl.StartConnector(ConnectorKind("zigzag")), ErrUnknownConnectorKind)
	assert.Equal(t, ToolSelect, ctrl.Tool())
}

func TestController_FreeDraw(t *testing.T) {
	s, _, ctrl := newTestController()

	_, err := ctrl.Stroke([]Point{{X: 0, Y: 0}, {X: 5, Y: 5}})
	assert.ErrorIs(t, err, ErrWrongTool)
	assert.ErrorIs(t, ctrl.SetBrushWidth(BrushThick), ErrWrongTool)

	ctrl.StartFreeDraw()
	assert.False(t, s.SelectionEnabled())
	require.NoError(t, ctrl.SetBrushWidth(BrushThick))
	require.NoError(t, ctrl.SetBrushColor("#ff00ff"))
	assert.Error(t, ctrl.SetBrushWidth(7))

	id, err := ctrl.Stroke([]Point{{X: 0, Y: 0}, {X: 5, Y: 5}})
	require.NoError(t, err)
	obj, _ := s.Object(id)
	assert.Equal(t, 10.0, obj.StrokeWidth)
	assert.Equal(t, "#ff00ff", obj.Stroke)

	ctrl.SelectTool()
	assert.True(t, s.SelectionEnabled())
}

func TestParseBrushWidth(t *testing.T) {
	w, err := ParseBrushWidth("thin")
	require.NoError(t, err)
	assert.Equal(t, BrushThin, w)

	_, err = ParseBrushWidth("huge")
	assert.Error(t, err)
}

func TestController_ClickSelects(t *testing.T) {
	s, _, ctrl := newTestController()
	rect, _ := twoShapes(t, s)

	_, err := ctrl.Click(Point{X: 110, Y: 110})
	require.NoError(t, err)
	assert.Equal(t, rect, s.Selected())

	_, err = ctrl.Click(Point{X: 900, Y: 900})
	require.NoError(t, err)
	assert.Equal(t, "", s.Selected())
}

// Add a rectangle, give it a label, add an ellipse, connect them with an arrow
// and reload from the serialized document.
func TestFlowA(t *testing.T) {
	s, c, ctrl := newTestController()

	rect, err := ctrl.AddShape(KindRect, Style{})
	require.NoError(t, err)
	groupID, err := s.AttachTextToShape("")
	require.NoError(t, err)
	require.NotEqual(t, rect, groupID)

	ellipse, err := ctrl.AddShape(KindEllipse, Style{})
	require.NoError(t, err)
	require.NoError(t, s.Move(ellipse, 300, 90))

	require.NoError(t, ctrl.StartConnector(ConnectorArrow))
	_, err = ctrl.Click(Point{X: 150, Y: 140})
	require.NoError(t, err)
	conn, err := ctrl.Click(Point{X: 350, Y: 140})
	require.NoError(t, err)
	require.NotNil(t, conn)
	assert.Equal(t, groupID, conn.FromObjectID)

	doc := s.Serialize()
	assert.Len(t, doc.Objects, 4)
	assert.Len(t, c.All(), 1)

	reloaded, rc := newTestSurface()
	parsed, notice := FromDocument(doc.Marshal())
	require.Nil(t, notice)
	assert.Equal(t, 0, reloaded.Restore(parsed))
	assert.Equal(t, 4, reloaded.Len())
	require.Len(t, rc.All(), 1)
	assert.Equal(t, groupID, rc.All()[0].FromObjectID)
	assert.Equal(t, ellipse, rc.All()[0].ToObjectID)
}

package canvas

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() Option {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("obj-%d", n)
	})
}

func newTestSurface() (*Surface, *Connectors) {
	s := NewSurface(sequentialIDs())
	return s, NewConnectors(s)
}

func TestAddShape_Defaults(t *testing.T) {
	s, _ := newTestSurface()

	rectID, err := s.AddShape(KindRect, Style{})
	require.NoError(t, err)
	ellipseID, err := s.AddShape(KindEllipse, Style{Fill: "#ff0000"})
	require.NoError(t, err)
	triangleID, err := s.AddShape(KindTriangle, Style{})
	require.NoError(t, err)

	rect, ok := s.Object(rectID)
	require.True(t, ok)
	assert.Equal(t, 100.0, rect.Left)
	assert.Equal(t, 100.0, rect.Top)
	assert.Equal(t, 100.0, rect.Width)
	assert.Equal(t, 80.0, rect.Height)
	assert.Equal(t, defaultFill, rect.Fill)
	assert.True(t, rect.Selectable)

	ellipse, _ := s.Object(ellipseID)
	assert.Equal(t, 50.0, ellipse.RX)
	assert.Equal(t, 50.0, ellipse.RY)
	assert.Equal(t, "#ff0000", ellipse.Fill)

	triangle, _ := s.Object(triangleID)
	assert.Equal(t, 100.0, triangle.Width)
	assert.Equal(t, 100.0, triangle.Height)

	assert.Equal(t, 3, s.Len())
	ids := []string{}
	for _, obj := range s.Objects() {
		ids = append(ids, obj.ID)
	}
	assert.Equal(t, []string{rectID, ellipseID, triangleID}, ids)
}

func TestAddShape_UnknownKind(t *testing.T) {
	s, _ := newTestSurface()

	_, err := s.AddShape(Kind("hexagon"), Style{})
	assert.ErrorIs(t, err, ErrUnknownKind)

	_, err = s.AddShape(KindText, Style{})
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, 0, s.Len())
}

func TestAddObject_EventsAndIDs(t *testing.T) {
	s, _ := newTestSurface()
	var events []Event
	s.Subscribe(func(e Event) { events = append(events, e) })

	first := NewObject(KindRect)
	first.ID = "fixed"
	id, err := s.AddObject(first)
	require.NoError(t, err)
	assert.Equal(t, "fixed", id)

	// A repeated id is replaced so the index stays unique.
	dup, err := s.AddObject(first)
	require.NoError(t, err)
	assert.NotEqual(t, "fixed", dup)

	require.Len(t, events, 2)
	assert.Equal(t, EventObjectAdded, events[0].Type)
	assert.True(t, events[0].Mutation())
}

func TestAddText_Measured(t *testing.T) {
	s, _ := newTestSurface()

	id := s.AddText("Hello")
	obj, ok := s.Object(id)
	require.True(t, ok)
	assert.Equal(t, KindText, obj.Type)
	assert.Equal(t, 20.0, obj.FontSize)
	assert.InDelta(t, 5*20*0.55, obj.Width, 1e-9)
	assert.Greater(t, obj.Height, 0.0)
}

func TestAttachTextToShape_ReplacesInPlace(t *testing.T) {
	s, _ := newTestSurface()
	first, _ := s.AddShape(KindRect, Style{})
	target, _ := s.AddShape(KindEllipse, Style{})
	last, _ := s.AddShape(KindTriangle, Style{})
	require.NoError(t, s.Move(target, 300, 50))
	require.NoError(t, s.Select(target))

	var replaced Event
	s.Subscribe(func(e Event) {
		if e.Type == EventObjectReplaced {
			replaced = e
		}
	})

	groupID, err := s.AttachTextToShape("")
	require.NoError(t, err)

	objs := s.Objects()
	require.Len(t, objs, 3)
	assert.Equal(t, first, objs[0].ID)
	assert.Equal(t, groupID, objs[1].ID)
	assert.Equal(t, last, objs[2].ID)

	group := objs[1]
	assert.Equal(t, KindGroup, group.Type)
	assert.Equal(t, 300.0, group.Left)
	assert.Equal(t, 50.0, group.Top)
	require.Len(t, group.Objects, 2)
	assert.Equal(t, KindEllipse, group.Objects[0].Type)
	assert.Equal(t, 0.0, group.Objects[0].Left)
	assert.Equal(t, KindText, group.Objects[1].Type)
	assert.Equal(t, "Text", group.Objects[1].Text)
	assert.Equal(t, 16.0, group.Objects[1].FontSize)

	label := group.Objects[1]
	assert.InDelta(t, 50, label.Left+label.Width/2, 1e-9)
	assert.InDelta(t, 50, label.Top+label.Height/2, 1e-9)

	_, stillThere := s.Object(target)
	assert.False(t, stillThere)
	assert.Equal(t, groupID, s.Selected())
	assert.Equal(t, target, replaced.ObjectID)
	assert.Equal(t, groupID, replaced.ReplacementID)
}

func TestAttachTextToShape_Validation(t *testing.T) {
	s, _ := newTestSurface()

	_, err := s.AttachTextToShape("")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Please select an object first", verr.Message)

	textID := s.AddText("label")
	_, err = s.AttachTextToShape(textID)
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Select a single shape to add text to", verr.Message)

	rectID, _ := s.AddShape(KindRect, Style{})
	groupID, err := s.AttachTextToShape(rectID)
	require.NoError(t, err)
	_, err = s.AttachTextToShape(groupID)
	require.ErrorAs(t, err, &verr)

	_, err = s.AttachTextToShape("missing")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestChangeColors(t *testing.T) {
	s, _ := newTestSurface()

	err := s.ChangeFillColor("", "#00ff00")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Please select an object first", verr.Message)

	rectID, _ := s.AddShape(KindRect, Style{})
	groupID, err := s.AttachTextToShape(rectID)
	require.NoError(t, err)

	require.NoError(t, s.ChangeFillColor(groupID, "#00ff00"))
	require.NoError(t, s.ChangeTextColor(groupID, "#0000ff"))

	group, _ := s.Object(groupID)
	assert.Equal(t, "#00ff00", group.Objects[0].Fill)
	assert.Equal(t, "#0000ff", group.Objects[1].Fill)

	plain, _ := s.AddShape(KindTriangle, Style{})
	err = s.ChangeTextColor(plain, "#0000ff")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "Selected object has no text", verr.Message)
}

func TestSetText(t *testing.T) {
	s, _ := newTestSurface()
	rectID, _ := s.AddShape(KindRect, Style{})
	groupID, _ := s.AttachTextToShape(rectID)

	require.NoError(t, s.SetText(groupID, "Approve invoice"))
	group, _ := s.Object(groupID)
	assert.Equal(t, "Approve invoice", group.Objects[1].Text)
}

func TestRemoveObject(t *testing.T) {
	s, _ := newTestSurface()
	id, _ := s.AddShape(KindRect, Style{})
	require.NoError(t, s.Select(id))

	var removed *Object
	s.Subscribe(func(e Event) {
		if e.Type == EventObjectRemoved {
			removed = e.Object
		}
	})

	require.NoError(t, s.RemoveObject(id))
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, "", s.Selected())
	require.NotNil(t, removed)
	assert.Equal(t, id, removed.ID)

	assert.ErrorIs(t, s.RemoveObject(id), ErrObjectNotFound)
}

func TestSelection(t *testing.T) {
	s, _ := newTestSurface()
	id, _ := s.AddShape(KindRect, Style{})

	require.NoError(t, s.Select(id))
	s.SetSelectionEnabled(false)
	assert.Equal(t, "", s.Selected())
	assert.ErrorIs(t, s.Select(id), ErrSelectionDisabled)

	s.SetSelectionEnabled(true)
	assert.ErrorIs(t, s.Select("missing"), ErrObjectNotFound)
}

func TestTransforms(t *testing.T) {
	s, _ := newTestSurface()
	id, _ := s.AddShape(KindRect, Style{})

	var types []EventType
	s.Subscribe(func(e Event) { types = append(types, e.Type) })

	require.NoError(t, s.Move(id, 10, 20))
	require.NoError(t, s.Scale(id, 2, 3))
	require.NoError(t, s.Rotate(id, 45))

	obj, _ := s.Object(id)
	assert.Equal(t, 10.0, obj.Left)
	assert.Equal(t, 20.0, obj.Top)
	assert.Equal(t, 2.0, obj.ScaleX)
	assert.Equal(t, 3.0, obj.ScaleY)
	assert.Equal(t, 45.0, obj.Angle)
	assert.Equal(t, []EventType{
		EventObjectMoving, EventObjectModified,
		EventObjectScaling, EventObjectModified,
		EventObjectRotating, EventObjectModified,
	}, types)

	var verr *ValidationError
	assert.ErrorAs(t, s.Scale(id, 0, 1), &verr)
	assert.ErrorIs(t, s.Move("missing", 0, 0), ErrObjectNotFound)
}

func TestCenterAndHitTest_Rotated(t *testing.T) {
	s, _ := newTestSurface()
	id, _ := s.AddShape(KindRect, Style{})
	require.NoError(t, s.Rotate(id, 90))

	obj, _ := s.Object(id)
	c := obj.Center()
	assert.InDelta(t, 60, c.X, 1e-9)
	assert.InDelta(t, 150, c.Y, 1e-9)

	hit, ok := s.HitTest(Point{X: 60, Y: 150})
	assert.True(t, ok)
	assert.Equal(t, id, hit)

	// Inside the unrotated bounds but outside the rotated ones.
	_, ok = s.HitTest(Point{X: 190, Y: 110})
	assert.False(t, ok)
}

func TestHitTest_Topmost(t *testing.T) {
	s, _ := newTestSurface()
	bottom, _ := s.AddShape(KindRect, Style{})
	top, _ := s.AddShape(KindEllipse, Style{})

	hit, ok := s.HitTest(Point{X: 150, Y: 140})
	require.True(t, ok)
	assert.Equal(t, top, hit)

	hit, ok = s.HitTest(Point{X: 105, Y: 175})
	require.True(t, ok)
	assert.Equal(t, bottom, hit)

	_, ok = s.HitTest(Point{X: 500, Y: 500})
	assert.False(t, ok)
}

func TestAddStroke(t *testing.T) {
	s, _ := newTestSurface()

	_, err := s.AddStroke([]Point{{X: 1, Y: 1}}, "#000000", 2)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))

	id, err := s.AddStroke([]Point{{X: 10, Y: 20}, {X: 30, Y: 5}, {X: 15, Y: 40}}, "#123456", 5)
	require.NoError(t, err)
	obj, _ := s.Object(id)
	assert.Equal(t, KindPath, obj.Type)
	assert.Equal(t, 10.0, obj.Left)
	assert.Equal(t, 5.0, obj.Top)
	assert.Equal(t, 20.0, obj.Width)
	assert.Equal(t, 35.0, obj.Height)
	assert.Equal(t, Point{X: 0, Y: 15}, obj.Path[0])
	assert.Equal(t, "#123456", obj.Stroke)
	assert.Equal(t, 5.0, obj.StrokeWidth)
}

func TestRestore_SkipsBadObjects(t *testing.T) {
	s, _ := newTestSurface()
	s.AddText("gone after restore")

	doc := Document{Objects: []json.RawMessage{
		json.RawMessage(`{"id":"a","type":"rect","left":1,"top":2,"width":10,"height":10}`),
		json.RawMessage(`{"id":"b","type":"hexagon"}`),
		json.RawMessage(`{"id":"a","type":"ellipse","rx":5,"ry":5}`),
		json.RawMessage(`not json`),
		json.RawMessage(`{"type":"text","text":"hi"}`),
	}, Background: "#fafafa"}

	var restored bool
	s.Subscribe(func(e Event) { restored = restored || e.Type == EventRestored })

	skipped := s.Restore(doc)
	assert.Equal(t, 3, skipped)
	assert.True(t, restored)
	assert.Equal(t, 2, s.Len())
	assert.Equal(t, "#fafafa", s.Background())

	a, ok := s.Object("a")
	require.True(t, ok)
	assert.Equal(t, 1.0, a.ScaleX)
	assert.True(t, a.Selectable)

	objs := s.Objects()
	assert.NotEmpty(t, objs[1].ID)
	assert.False(t, math.IsNaN(objs[1].Width))
}

func TestTransforms_RejectOverflowingGeometry(t *testing.T) {
	s, c := newTestSurface()
	rect, ellipse := twoShapes(t, s)
	_, err := c.Connect(rect, ellipse, ConnectorArrow)
	require.NoError(t, err)

	var events int
	s.Subscribe(func(Event) { events++ })

	var verr *ValidationError
	assert.ErrorAs(t, s.Scale(rect, 1e308, 1e308), &verr)
	assert.ErrorAs(t, s.Scale(rect, 1e8, 1), &verr)
	assert.ErrorAs(t, s.Move(ellipse, 1e308, -1e308), &verr)
	assert.ErrorAs(t, s.Move(ellipse, math.Inf(1), 0), &verr)
	assert.ErrorAs(t, s.Move(ellipse, math.NaN(), 0), &verr)
	assert.Zero(t, events)

	obj, _ := s.Object(rect)
	assert.Equal(t, 1.0, obj.ScaleX)
	obj, _ = s.Object(ellipse)
	assert.Equal(t, 300.0, obj.Left)

	doc := s.Serialize()
	assert.Len(t, doc.Objects, 4)
	for _, raw := range doc.Objects {
		assert.NotContains(t, string(raw), "Inf")
	}
}

func TestAddStroke_RejectsOverflowingPoints(t *testing.T) {
	s, _ := newTestSurface()

	_, err := s.AddStroke([]Point{{X: -1e308, Y: 0}, {X: 1e308, Y: 0}}, "#000000", 2)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Zero(t, s.Len())
}

func TestRestore_SkipsOverflowingObjects(t *testing.T) {
	s, _ := newTestSurface()

	skipped := s.Restore(Document{Objects: []json.RawMessage{
		json.RawMessage(`{"id":"a","type":"rect","width":100,"height":80,"scaleX":1e308}`),
		json.RawMessage(`{"id":"b","type":"rect","width":100,"height":80}`),
	}})
	assert.Equal(t, 1, skipped)
	assert.Equal(t, 1, s.Len())
	assert.Len(t, s.Serialize().Objects, 1)
}

package canvas

import (
	"errors"
	"fmt"
)

type Tool string

const (
	ToolSelect        Tool = "select"
	ToolAddingShape   Tool = "adding-shape"
	ToolDrawConnector Tool = "draw-connector"
	ToolFreeDraw      Tool = "free-draw"
)

// BrushWidth is one of the free-draw width presets.
type BrushWidth float64

const (
	BrushThin   BrushWidth = 2
	BrushMedium BrushWidth = 5
	BrushThick  BrushWidth = 10
)

// ParseBrushWidth maps a preset name to its width.
func ParseBrushWidth(name string) (BrushWidth, error) {
	switch name {
	case "thin":
		return BrushThin, nil
	case "medium":
		return BrushMedium, nil
	case "thick":
		return BrushThick, nil
	}
	return 0, fmt.Errorf("unknown brush width %q", name)
}

type Brush struct {
	Width BrushWidth `json:"width"`
	Color string     `json:"color"`
}

var ErrWrongTool = errors.New("operation not available in the current tool")

// Gesture is the state of the two-click connector protocol. It is one of
// Idle, AwaitingFirstPoint or AwaitingSecondPoint.
type Gesture interface {
	gesture() string
}

type Idle struct{}

type AwaitingFirstPoint struct {
	Kind ConnectorKind
}

type AwaitingSecondPoint struct {
	Kind            ConnectorKind
	FromID          string
	TransientLineID string
}

func (Idle) gesture() string                { return "idle" }
func (AwaitingFirstPoint) gesture() string  { return "awaiting-first-point" }
func (AwaitingSecondPoint) gesture() string { return "awaiting-second-point" }

// GestureName returns a stable name for g, used in API responses.
func GestureName(g Gesture) string {
	if g == nil {
		return Idle{}.gesture()
	}
	return g.gesture()
}

// Controller routes user gestures to the surface or the connector registry
// depending on the active tool. Exactly one tool is active at any time.
type Controller struct {
	surface    *Surface
	connectors *Connectors
	tool       Tool
	gesture    Gesture
	brush      Brush
}

func NewController(s *Surface, c *Connectors) *Controller {
	return &Controller{
		surface:    s,
		connectors: c,
		tool:       ToolSelect,
		gesture:    Idle{},
		brush:      Brush{Width: BrushMedium, Color: defaultStroke},
	}
}

func (c *Controller) Tool() Tool {
	return c.tool
}

func (c *Controller) Gesture() Gesture {
	return c.gesture
}

func (c *Controller) Brush() Brush {
	return c.brush
}

// SelectTool switches to the default select tool, discarding any half-drawn connector.
func (c *Controller) SelectTool() {
	c.cancelGesture()
	c.tool = ToolSelect
	c.surface.SetSelectionEnabled(true)
	c.surface.SetCursor(CursorDefault)
}

// Cancel abandons the current gesture, as the Escape key does.
func (c *Controller) Cancel() {
	c.SelectTool()
}

// AddShape adds a shape and selects it. Adding is not a persistent mode: the
// controller is back in the select tool when it returns.
func (c *Controller) AddShape(kind Kind, style Style) (string, error) {
	c.SelectTool()
	c.tool = ToolAddingShape
	id, err := c.surface.AddShape(kind, style)
	c.tool = ToolSelect
	if err != nil {
		return "", err
	}
	_ = c.surface.Select(id)
	return id, nil
}

// AddText adds a text object and selects it.
func (c *Controller) AddText(content string) string {
	c.SelectTool()
	c.tool = ToolAddingShape
	id := c.surface.AddText(content)
	c.tool = ToolSelect
	_ = c.surface.Select(id)
	return id
}

// StartConnector enters connector drawing and waits for the first click.
func (c *Controller) StartConnector(kind ConnectorKind) error {
	if !kind.Valid() {
		return fmt.Errorf("start connector %q: %w", kind, ErrUnknownConnectorKind)
	}
	c.cancelGesture()
	c.tool = ToolDrawConnector
	c.gesture = AwaitingFirstPoint{Kind: kind}
	c.surface.SetSelectionEnabled(false)
	c.surface.SetCursor(CursorCrosshair)
	return nil
}

// StartFreeDraw enters free drawing with the current brush.
func (c *Controller) StartFreeDraw() {
	c.cancelGesture()
	c.tool = ToolFreeDraw
	c.surface.SetSelectionEnabled(false)
	c.surface.SetCursor(CursorCrosshair)
}

func (c *Controller) SetBrushWidth(width BrushWidth) error {
	if c.tool != ToolFreeDraw {
		return ErrWrongTool
	}
	switch width {
	case BrushThin, BrushMedium, BrushThick:
	default:
		return fmt.Errorf("brush width %v is not a preset", width)
	}
	c.brush.Width = width
	return nil
}

func (c *Controller) SetBrushColor(color string) error {
	if c.tool != ToolFreeDraw {
		return ErrWrongTool
	}
	c.brush.Color = color
	return nil
}

// Stroke records a free-hand path drawn with the current brush.
func (c *Controller) Stroke(points []Point) (string, error) {
	if c.tool != ToolFreeDraw {
		return "", ErrWrongTool
	}
	return c.surface.AddStroke(points, c.brush.Color, float64(c.brush.Width))
}

// Click handles a pointer click at p. In the select tool it selects the object
// under the pointer; while drawing a connector it advances the two-click
// protocol. A finished connector is returned, otherwise nil.
func (c *Controller) Click(p Point) (*Connector, error) {
	switch c.tool {
	case ToolSelect:
		if id, ok := c.surface.HitTest(p); ok {
			return nil, c.surface.Select(id)
		}
		c.surface.ClearSelection()
		return nil, nil
	case ToolDrawConnector:
		return c.connectorClick(p)
	}
	return nil, nil
}

// PointerMove lets the transient line follow the pointer while waiting for the
// second click. It changes nothing else.
func (c *Controller) PointerMove(p Point) {
	g, ok := c.gesture.(AwaitingSecondPoint)
	if !ok {
		return
	}
	if line, ok := c.surface.index[g.TransientLineID]; ok {
		line.X2, line.Y2 = p.X, p.Y
	}
}

func (c *Controller) connectorClick(p Point) (*Connector, error) {
	target, hit := c.surface.HitTest(p)

	switch g := c.gesture.(type) {
	case AwaitingFirstPoint:
		if !hit {
			return nil, nil
		}
		from, _ := c.surface.lookup(target)
		center := from.Center()
		line := newObject(KindLine)
		line.X1, line.Y1 = center.X, center.Y
		line.X2, line.Y2 = center.X, center.Y
		line.Stroke = connectorColor
		line.StrokeWidth = connectorWidth
		line.Selectable = false
		line.transient = true
		c.gesture = AwaitingSecondPoint{
			Kind:            g.Kind,
			FromID:          target,
			TransientLineID: c.surface.insertQuiet(line),
		}
		return nil, nil

	case AwaitingSecondPoint:
		if !hit || target == g.FromID {
			return nil, nil
		}
		c.surface.removeQuiet(g.TransientLineID)
		conn, err := c.connectors.Connect(g.FromID, target, g.Kind)
		c.gesture = Idle{}
		c.tool = ToolSelect
		c.surface.SetSelectionEnabled(true)
		c.surface.SetCursor(CursorDefault)
		if err != nil {
			return nil, err
		}
		return &conn, nil
	}
	return nil, nil
}

func (c *Controller) cancelGesture() {
	if g, ok := c.gesture.(AwaitingSecondPoint); ok {
		c.surface.removeQuiet(g.TransientLineID)
	}
	c.gesture = Idle{}
}

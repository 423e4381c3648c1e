package canvas

import (
	"errors"
	"fmt"
	"math"

	"github.com/sirupsen/logrus"
)

type ConnectorKind string

const (
	ConnectorLine  ConnectorKind = "line"
	ConnectorArrow ConnectorKind = "arrow"
)

func (k ConnectorKind) Valid() bool {
	return k == ConnectorLine || k == ConnectorArrow
}

const (
	connectorColor = "#333333"
	connectorWidth = 2
	arrowHeadSize  = 15
)

var (
	ErrUnknownConnectorKind = errors.New("unknown connector kind")
	ErrSelfConnection       = errors.New("connector endpoints must be different objects")
)

// Connector is a directed binding between two objects. The endpoints are weak
// references: they are looked up by id on every redraw.
type Connector struct {
	ID           string        `json:"id"`
	FromObjectID string        `json:"fromObjectId"`
	ToObjectID   string        `json:"toObjectId"`
	Kind         ConnectorKind `json:"kind"`
	LineObjectID string        `json:"lineObjectId"`
	ArrowHeadID  string        `json:"arrowHeadObjectId,omitempty"`
}

// Connectors tracks every connector on a surface and keeps the rendered
// primitives on the centers of the bound objects.
type Connectors struct {
	surface     *Surface
	byID        map[string]*Connector
	order       []string
	unsubscribe func()
}

// NewConnectors attaches a connector registry to s. Call it before restoring a
// document so that persisted connectors are picked up.
func NewConnectors(s *Surface) *Connectors {
	c := &Connectors{
		surface: s,
		byID:    make(map[string]*Connector),
	}
	c.unsubscribe = s.Subscribe(c.handle)
	return c
}

// Detach stops tracking surface events.
func (c *Connectors) Detach() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
}

// All returns the connectors in creation order.
func (c *Connectors) All() []Connector {
	out := make([]Connector, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.byID[id])
	}
	return out
}

func (c *Connectors) Get(id string) (Connector, bool) {
	conn, ok := c.byID[id]
	if !ok {
		return Connector{}, false
	}
	return *conn, true
}

// ForObject returns the connectors that have objectID as an endpoint.
func (c *Connectors) ForObject(objectID string) []Connector {
	var out []Connector
	for _, id := range c.order {
		conn := c.byID[id]
		if conn.FromObjectID == objectID || conn.ToObjectID == objectID {
			out = append(out, *conn)
		}
	}
	return out
}

// Connect binds fromID to toID, creating the line and, for arrows, the arrowhead.
func (c *Connectors) Connect(fromID, toID string, kind ConnectorKind) (Connector, error) {
	if !kind.Valid() {
		return Connector{}, fmt.Errorf("connect %q: %w", kind, ErrUnknownConnectorKind)
	}
	if fromID == "" || toID == "" {
		return Connector{}, fmt.Errorf("connect: %w", ErrObjectNotFound)
	}
	if fromID == toID {
		return Connector{}, ErrSelfConnection
	}
	from, ok := c.surface.lookup(fromID)
	if !ok || !from.Selectable {
		return Connector{}, fmt.Errorf("connect from %s: %w", fromID, ErrObjectNotFound)
	}
	to, ok := c.surface.lookup(toID)
	if !ok || !to.Selectable {
		return Connector{}, fmt.Errorf("connect to %s: %w", toID, ErrObjectNotFound)
	}

	conn := &Connector{
		ID:           c.surface.newID(),
		FromObjectID: fromID,
		ToObjectID:   toID,
		Kind:         kind,
	}

	line := newObject(KindLine)
	line.Stroke = connectorColor
	line.StrokeWidth = connectorWidth
	line.Selectable = false
	conn.LineObjectID = c.surface.insertQuiet(line)

	if kind == ConnectorArrow {
		head := newObject(KindTriangle)
		head.Width, head.Height = arrowHeadSize, arrowHeadSize
		head.OriginX, head.OriginY = OriginCenter, OriginCenter
		head.Fill = connectorColor
		head.Selectable = false
		conn.ArrowHeadID = c.surface.insertQuiet(head)
	}

	c.track(conn)
	c.redraw(conn)

	logrus.WithFields(logrus.Fields{
		"connector_id": conn.ID,
		"from":         fromID,
		"to":           toID,
		"kind":         kind,
	}).Debug("Connector created")
	c.surface.emit(Event{Type: EventConnectorCreated, ObjectID: conn.LineObjectID})
	return *conn, nil
}

// Remove deletes a connector and its primitives.
func (c *Connectors) Remove(id string) error {
	conn, ok := c.byID[id]
	if !ok {
		return fmt.Errorf("connector %s: %w", id, ErrObjectNotFound)
	}
	c.drop(conn)
	c.surface.emit(Event{Type: EventObjectRemoved, ObjectID: conn.LineObjectID})
	return nil
}

// ArrowAngle returns the arrowhead rotation, in degrees, for a connector running
// from a to b. The triangle points up at angle zero, hence the quarter turn.
func ArrowAngle(a, b Point) float64 {
	return math.Atan2(b.Y-a.Y, b.X-a.X)*180/math.Pi + 90
}

func (c *Connectors) handle(e Event) {
	switch e.Type {
	case EventObjectMoving, EventObjectScaling, EventObjectRotating, EventObjectModified:
		for _, conn := range c.bound(e.ObjectID) {
			c.redraw(conn)
		}
	case EventObjectReplaced:
		for _, conn := range c.bound(e.ObjectID) {
			if conn.FromObjectID == e.ObjectID {
				conn.FromObjectID = e.ReplacementID
			}
			if conn.ToObjectID == e.ObjectID {
				conn.ToObjectID = e.ReplacementID
			}
			c.writeMeta(conn)
			c.redraw(conn)
		}
	case EventObjectRemoved:
		c.cascade(e.ObjectID)
	case EventRestored:
		c.rebuild()
	}
}

// cascade drops every connector that loses an endpoint or a primitive when
// objectID leaves the surface.
func (c *Connectors) cascade(objectID string) {
	for _, id := range append([]string(nil), c.order...) {
		conn := c.byID[id]
		switch objectID {
		case conn.FromObjectID, conn.ToObjectID, conn.LineObjectID, conn.ArrowHeadID:
			logrus.WithFields(logrus.Fields{
				"connector_id": conn.ID,
				"object_id":    objectID,
			}).Debug("Removing connector bound to removed object")
			c.drop(conn)
		}
	}
}

// rebuild recreates the registry from connector metadata stored on line
// primitives. Connectors whose endpoints are missing are removed with their
// primitives.
func (c *Connectors) rebuild() {
	c.byID = make(map[string]*Connector)
	c.order = nil

	for _, obj := range c.surface.objects {
		if obj.Type != KindLine || obj.Connector == nil {
			continue
		}
		conn := *obj.Connector
		conn.LineObjectID = obj.ID
		if !conn.Kind.Valid() {
			conn.Kind = ConnectorLine
		}
		if conn.ID == "" {
			conn.ID = c.surface.newID()
		}
		if _, dup := c.byID[conn.ID]; dup {
			conn.ID = c.surface.newID()
		}
		c.track(&conn)
	}

	for _, id := range append([]string(nil), c.order...) {
		conn := c.byID[id]
		_, fromOK := c.surface.lookup(conn.FromObjectID)
		_, toOK := c.surface.lookup(conn.ToObjectID)
		if !fromOK || !toOK || conn.FromObjectID == conn.ToObjectID {
			logrus.WithField("connector_id", conn.ID).Warn("Dropping connector with missing endpoint")
			c.drop(conn)
			continue
		}
		if conn.Kind == ConnectorArrow {
			if _, ok := c.surface.lookup(conn.ArrowHeadID); !ok {
				conn.Kind = ConnectorLine
				conn.ArrowHeadID = ""
			}
		} else {
			conn.ArrowHeadID = ""
		}
		c.writeMeta(conn)
		c.redraw(conn)
	}
}

// redraw places the line between the bound centers and the arrowhead on the
// "to" center. A missing endpoint leaves the primitives untouched.
func (c *Connectors) redraw(conn *Connector) {
	from, ok := c.surface.lookup(conn.FromObjectID)
	if !ok {
		return
	}
	to, ok := c.surface.lookup(conn.ToObjectID)
	if !ok {
		return
	}
	a, b := from.Center(), to.Center()

	if line, ok := c.surface.lookup(conn.LineObjectID); ok {
		line.X1, line.Y1 = a.X, a.Y
		line.X2, line.Y2 = b.X, b.Y
		line.Left, line.Top = math.Min(a.X, b.X), math.Min(a.Y, b.Y)
	}
	if conn.ArrowHeadID == "" {
		return
	}
	if head, ok := c.surface.lookup(conn.ArrowHeadID); ok {
		head.Left, head.Top = b.X, b.Y
		head.Angle = ArrowAngle(a, b)
	}
}

func (c *Connectors) bound(objectID string) []*Connector {
	var out []*Connector
	for _, id := range c.order {
		conn := c.byID[id]
		if conn.FromObjectID == objectID || conn.ToObjectID == objectID {
			out = append(out, conn)
		}
	}
	return out
}

func (c *Connectors) track(conn *Connector) {
	c.byID[conn.ID] = conn
	c.order = append(c.order, conn.ID)
	c.writeMeta(conn)
}

// writeMeta stores the connector record on its line so it survives serialization.
func (c *Connectors) writeMeta(conn *Connector) {
	if line, ok := c.surface.lookup(conn.LineObjectID); ok {
		meta := *conn
		line.Connector = &meta
	}
}

func (c *Connectors) drop(conn *Connector) {
	delete(c.byID, conn.ID)
	for i, id := range c.order {
		if id == conn.ID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.surface.removeQuiet(conn.LineObjectID)
	if conn.ArrowHeadID != "" {
		c.surface.removeQuiet(conn.ArrowHeadID)
	}
}

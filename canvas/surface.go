// Package canvas holds the process-map editor's scene graph: shapes, text,
// free-hand strokes and the connectors bound between them.
//
// A Surface is not safe for concurrent use. Callers serialize access, which the
// session package does with one mutex per open process map.
package canvas

import (
	"errors"
	"fmt"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
)

const (
	defaultLeft     = 100
	defaultTop      = 100
	defaultFontSize = 20
	attachFontSize  = 16

	defaultFill   = "#ffffff"
	defaultStroke = "#000000"
	defaultText   = "#000000"
)

var (
	ErrObjectNotFound    = errors.New("object not found")
	ErrUnknownKind       = errors.New("unknown object kind")
	ErrLocked            = errors.New("object is locked")
	ErrSelectionDisabled = errors.New("selection is disabled in the current tool")
	ErrOutOfBounds       = errors.New("object geometry is out of bounds")
)

const outOfBoundsMessage = "That change would move the object off the canvas"

// ValidationError is a user-facing rejection of an editor operation. It is
// reported as a notice, never treated as a failure of the session.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

type EventType string

const (
	EventObjectAdded      EventType = "object:added"
	EventObjectRemoved    EventType = "object:removed"
	EventObjectModified   EventType = "object:modified"
	EventObjectReplaced   EventType = "object:replaced"
	EventObjectMoving     EventType = "object:moving"
	EventObjectScaling    EventType = "object:scaling"
	EventObjectRotating   EventType = "object:rotating"
	EventConnectorCreated EventType = "connector:created"
	EventRestored         EventType = "canvas:restored"
)

// Event describes one change to the surface. Removed events carry a copy of the
// removed object; Replaced events carry the id of the replacement.
type Event struct {
	Type          EventType
	ObjectID      string
	ReplacementID string
	Object        *Object
}

// Mutation reports whether the event changes persisted state.
func (e Event) Mutation() bool {
	switch e.Type {
	case EventObjectAdded, EventObjectRemoved, EventObjectModified, EventObjectReplaced, EventConnectorCreated:
		return true
	}
	return false
}

type Cursor string

const (
	CursorDefault   Cursor = "default"
	CursorCrosshair Cursor = "crosshair"
)

type Option func(*Surface)

// WithIDGenerator replaces the ULID generator used for new objects.
func WithIDGenerator(fn func() string) Option {
	return func(s *Surface) {
		s.newID = fn
	}
}

// WithBackground sets the background color written to serialized documents.
func WithBackground(color string) Option {
	return func(s *Surface) {
		s.background = color
	}
}

type Surface struct {
	objects          []*Object
	index            map[string]*Object
	selected         string
	selectionEnabled bool
	cursor           Cursor
	background       string
	newID            func() string

	listeners []listener
	nextToken int
}

type listener struct {
	token int
	fn    func(Event)
}

func NewSurface(opts ...Option) *Surface {
	s := &Surface{
		index:            make(map[string]*Object),
		selectionEnabled: true,
		cursor:           CursorDefault,
		newID:            func() string { return ulid.Make().String() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for every event and returns a function that removes it.
// Listeners run synchronously, in registration order.
func (s *Surface) Subscribe(fn func(Event)) func() {
	token := s.nextToken
	s.nextToken++
	s.listeners = append(s.listeners, listener{token: token, fn: fn})
	return func() {
		for i, l := range s.listeners {
			if l.token == token {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Surface) emit(e Event) {
	for _, l := range append([]listener(nil), s.listeners...) {
		l.fn(e)
	}
}

// Len returns the number of persisted objects.
func (s *Surface) Len() int {
	n := 0
	for _, obj := range s.objects {
		if !obj.transient {
			n++
		}
	}
	return n
}

// Objects returns copies of the persisted objects in insertion order.
func (s *Surface) Objects() []Object {
	out := make([]Object, 0, len(s.objects))
	for _, obj := range s.objects {
		if obj.transient {
			continue
		}
		out = append(out, *obj.clone())
	}
	return out
}

// Object returns a copy of the object with the given id.
func (s *Surface) Object(id string) (Object, bool) {
	obj, ok := s.index[id]
	if !ok {
		return Object{}, false
	}
	return *obj.clone(), true
}

func (s *Surface) Background() string {
	return s.background
}

func (s *Surface) Cursor() Cursor {
	return s.cursor
}

func (s *Surface) SetCursor(c Cursor) {
	s.cursor = c
}

func (s *Surface) SelectionEnabled() bool {
	return s.selectionEnabled
}

// SetSelectionEnabled toggles object selection. Disabling it drops the current selection.
func (s *Surface) SetSelectionEnabled(enabled bool) {
	s.selectionEnabled = enabled
	if !enabled {
		s.selected = ""
	}
}

// Selected returns the id of the selected object, or "".
func (s *Surface) Selected() string {
	return s.selected
}

func (s *Surface) Select(id string) error {
	if !s.selectionEnabled {
		return ErrSelectionDisabled
	}
	obj, ok := s.index[id]
	if !ok {
		return fmt.Errorf("select %s: %w", id, ErrObjectNotFound)
	}
	if !obj.Selectable {
		return fmt.Errorf("select %s: %w", id, ErrLocked)
	}
	s.selected = id
	return nil
}

func (s *Surface) ClearSelection() {
	s.selected = ""
}

// HitTest returns the topmost selectable object containing p.
func (s *Surface) HitTest(p Point) (string, bool) {
	for i := len(s.objects) - 1; i >= 0; i-- {
		obj := s.objects[i]
		if obj.transient || !obj.Selectable {
			continue
		}
		if obj.Contains(p) {
			return obj.ID, true
		}
	}
	return "", false
}

// AddShape inserts a rectangle, ellipse or triangle at the default position.
func (s *Surface) AddShape(kind Kind, style Style) (string, error) {
	if !kind.Shape() {
		return "", fmt.Errorf("add shape %q: %w", kind, ErrUnknownKind)
	}
	obj := newObject(kind)
	obj.Left, obj.Top = defaultLeft, defaultTop
	switch kind {
	case KindRect:
		obj.Width, obj.Height = 100, 80
	case KindEllipse:
		obj.RX, obj.RY = 50, 50
	case KindTriangle:
		obj.Width, obj.Height = 100, 100
	}
	applyStyle(obj, style)
	return s.AddObject(*obj)
}

// AddText inserts a text object at the default position.
func (s *Surface) AddText(content string) string {
	obj := newObject(KindText)
	obj.Left, obj.Top = defaultLeft, defaultTop
	obj.Text = content
	obj.FontSize = defaultFontSize
	obj.Fill = defaultText
	obj.measureText()
	id, _ := s.AddObject(*obj)
	return id
}

// AddObject inserts a copy of obj, assigning an id when it has none.
func (s *Surface) AddObject(obj Object) (string, error) {
	if !obj.Type.Known() {
		return "", fmt.Errorf("add object %q: %w", obj.Type, ErrUnknownKind)
	}
	o := obj.clone()
	if o.ScaleX == 0 {
		o.ScaleX = 1
	}
	if o.ScaleY == 0 {
		o.ScaleY = 1
	}
	if o.Type == KindText {
		o.measureText()
	}
	if !o.inBounds() {
		return "", &ValidationError{Message: outOfBoundsMessage}
	}
	if o.ID == "" || s.index[o.ID] != nil {
		o.ID = s.newID()
	}
	s.assignChildIDs(o)
	s.insert(o)
	s.emit(Event{Type: EventObjectAdded, ObjectID: o.ID})
	return o.ID, nil
}

// AddStroke inserts a free-hand path through the given absolute points.
func (s *Surface) AddStroke(points []Point, color string, width float64) (string, error) {
	if len(points) < 2 {
		return "", &ValidationError{Message: "A stroke needs at least two points"}
	}
	obj := newObject(KindPath)
	obj.fitPath(points)
	obj.Stroke = color
	obj.StrokeWidth = width
	return s.AddObject(*obj)
}

// AttachTextToShape replaces the target shape with a group holding the shape and a
// centered text child. An empty targetID means the current selection.
func (s *Surface) AttachTextToShape(targetID string) (string, error) {
	target, err := s.resolveTarget(targetID)
	if err != nil {
		return "", err
	}
	if target.Type == KindGroup || target.Type == KindText || !target.Selectable {
		return "", &ValidationError{Message: "Select a single shape to add text to"}
	}

	w, h := target.ScaledSize()
	shape := target.clone()
	shape.Left, shape.Top = 0, 0
	shape.Angle = 0
	shape.OriginX, shape.OriginY = "", ""

	label := newObject(KindText)
	label.ID = s.newID()
	label.Text = "Text"
	label.FontSize = attachFontSize
	label.Fill = defaultText
	label.measureText()
	label.Left = (w - label.Width) / 2
	label.Top = (h - label.Height) / 2

	group := newObject(KindGroup)
	group.ID = s.newID()
	group.Left, group.Top = target.Left, target.Top
	group.OriginX, group.OriginY = target.OriginX, target.OriginY
	group.Angle = target.Angle
	group.Width, group.Height = w, h
	group.Objects = []*Object{shape, label}

	for i, obj := range s.objects {
		if obj == target {
			s.objects[i] = group
			break
		}
	}
	delete(s.index, target.ID)
	s.index[group.ID] = group
	if s.selectionEnabled {
		s.selected = group.ID
	}

	logrus.WithFields(logrus.Fields{
		"object_id": target.ID,
		"group_id":  group.ID,
	}).Debug("Attached text to shape")
	s.emit(Event{Type: EventObjectReplaced, ObjectID: target.ID, ReplacementID: group.ID})
	return group.ID, nil
}

// ChangeFillColor sets the shape color of the target. For a group the first child
// is recolored.
func (s *Surface) ChangeFillColor(targetID, color string) error {
	target, err := s.resolveTarget(targetID)
	if err != nil {
		return err
	}
	paint := target
	if target.Type == KindGroup {
		if len(target.Objects) == 0 {
			return &ValidationError{Message: "Selected group is empty"}
		}
		paint = target.Objects[0]
	}
	if paint.Type == KindPath || paint.Type == KindLine {
		paint.Stroke = color
	} else {
		paint.Fill = color
	}
	s.emit(Event{Type: EventObjectModified, ObjectID: target.ID})
	return nil
}

// ChangeTextColor sets the text color of a text object or of the first text child of a group.
func (s *Surface) ChangeTextColor(targetID, color string) error {
	target, err := s.resolveTarget(targetID)
	if err != nil {
		return err
	}
	text := target
	if target.Type == KindGroup {
		text = target.firstText()
	}
	if text == nil || text.Type != KindText {
		return &ValidationError{Message: "Selected object has no text"}
	}
	text.Fill = color
	s.emit(Event{Type: EventObjectModified, ObjectID: target.ID})
	return nil
}

// SetText replaces the content of a text object or of a group's first text child.
func (s *Surface) SetText(targetID, content string) error {
	target, err := s.resolveTarget(targetID)
	if err != nil {
		return err
	}
	text := target
	if target.Type == KindGroup {
		text = target.firstText()
	}
	if text == nil || text.Type != KindText {
		return &ValidationError{Message: "Selected object has no text"}
	}
	text.Text = content
	text.measureText()
	s.emit(Event{Type: EventObjectModified, ObjectID: target.ID})
	return nil
}

// RemoveObject deletes the object. Connectors bound to it are removed by the
// connector subsystem in response to the event.
func (s *Surface) RemoveObject(id string) error {
	obj, ok := s.index[id]
	if !ok || obj.transient {
		return fmt.Errorf("remove %s: %w", id, ErrObjectNotFound)
	}
	s.remove(obj)
	s.emit(Event{Type: EventObjectRemoved, ObjectID: id, Object: obj})
	return nil
}

// Move places the object's origin at (left, top).
func (s *Surface) Move(id string, left, top float64) error {
	obj, err := s.transformable(id)
	if err != nil {
		return err
	}
	prevLeft, prevTop := obj.Left, obj.Top
	obj.Left, obj.Top = left, top
	if !obj.inBounds() {
		obj.Left, obj.Top = prevLeft, prevTop
		return &ValidationError{Message: outOfBoundsMessage}
	}
	s.emit(Event{Type: EventObjectMoving, ObjectID: id})
	s.emit(Event{Type: EventObjectModified, ObjectID: id})
	return nil
}

func (s *Surface) Scale(id string, scaleX, scaleY float64) error {
	if scaleX == 0 || scaleY == 0 {
		return &ValidationError{Message: "Scale must not be zero"}
	}
	obj, err := s.transformable(id)
	if err != nil {
		return err
	}
	prevX, prevY := obj.ScaleX, obj.ScaleY
	obj.ScaleX, obj.ScaleY = scaleX, scaleY
	if !obj.inBounds() {
		obj.ScaleX, obj.ScaleY = prevX, prevY
		return &ValidationError{Message: outOfBoundsMessage}
	}
	s.emit(Event{Type: EventObjectScaling, ObjectID: id})
	s.emit(Event{Type: EventObjectModified, ObjectID: id})
	return nil
}

// Rotate sets the absolute rotation in degrees about the object's origin.
func (s *Surface) Rotate(id string, angle float64) error {
	obj, err := s.transformable(id)
	if err != nil {
		return err
	}
	prev := obj.Angle
	obj.Angle = angle
	if !obj.inBounds() {
		obj.Angle = prev
		return &ValidationError{Message: outOfBoundsMessage}
	}
	s.emit(Event{Type: EventObjectRotating, ObjectID: id})
	s.emit(Event{Type: EventObjectModified, ObjectID: id})
	return nil
}

// Serialize snapshots the surface as a document.
func (s *Surface) Serialize() Document {
	return ToDocument(s)
}

// Restore replaces the scene graph with the objects of doc. Objects that cannot be
// decoded, have an unknown type or repeat an id are skipped; the number skipped is
// returned.
func (s *Surface) Restore(doc Document) int {
	s.objects = nil
	s.index = make(map[string]*Object)
	s.selected = ""
	if doc.Background != "" {
		s.background = doc.Background
	}

	skipped := 0
	for i, raw := range doc.Objects {
		obj, err := decodeObject(raw)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"index": i,
				"error": err,
			}).Warn("Skipping unreadable canvas object")
			skipped++
			continue
		}
		if obj.ID == "" {
			obj.ID = s.newID()
		}
		if _, dup := s.index[obj.ID]; dup {
			logrus.WithField("object_id", obj.ID).Warn("Skipping duplicate canvas object")
			skipped++
			continue
		}
		s.assignChildIDs(obj)
		s.insert(obj)
	}
	s.emit(Event{Type: EventRestored})
	return skipped
}

func (s *Surface) resolveTarget(id string) (*Object, error) {
	if id == "" {
		id = s.selected
	}
	if id == "" {
		return nil, &ValidationError{Message: "Please select an object first"}
	}
	obj, ok := s.index[id]
	if !ok || obj.transient {
		return nil, fmt.Errorf("object %s: %w", id, ErrObjectNotFound)
	}
	return obj, nil
}

func (s *Surface) transformable(id string) (*Object, error) {
	obj, ok := s.index[id]
	if !ok || obj.transient {
		return nil, fmt.Errorf("object %s: %w", id, ErrObjectNotFound)
	}
	if !obj.Selectable {
		return nil, fmt.Errorf("object %s: %w", id, ErrLocked)
	}
	return obj, nil
}

func (s *Surface) assignChildIDs(obj *Object) {
	for _, child := range obj.Objects {
		if child.ID == "" {
			child.ID = s.newID()
		}
		s.assignChildIDs(child)
	}
}

func (s *Surface) insert(obj *Object) {
	s.objects = append(s.objects, obj)
	s.index[obj.ID] = obj
}

func (s *Surface) remove(obj *Object) {
	for i, o := range s.objects {
		if o == obj {
			s.objects = append(s.objects[:i], s.objects[i+1:]...)
			break
		}
	}
	delete(s.index, obj.ID)
	if s.selected == obj.ID {
		s.selected = ""
	}
}

// insertQuiet adds an object without emitting an event. Connector primitives and
// the transient gesture line go through here.
func (s *Surface) insertQuiet(obj *Object) string {
	if obj.ID == "" {
		obj.ID = s.newID()
	}
	s.insert(obj)
	return obj.ID
}

func (s *Surface) removeQuiet(id string) {
	if obj, ok := s.index[id]; ok {
		s.remove(obj)
	}
}

func (s *Surface) lookup(id string) (*Object, bool) {
	obj, ok := s.index[id]
	if !ok || obj.transient {
		return nil, false
	}
	return obj, true
}

func applyStyle(obj *Object, style Style) {
	obj.Fill = defaultFill
	obj.Stroke = defaultStroke
	obj.StrokeWidth = 2
	if style.Fill != "" {
		obj.Fill = style.Fill
	}
	if style.Stroke != "" {
		obj.Stroke = style.Stroke
	}
	if style.StrokeWidth > 0 {
		obj.StrokeWidth = style.StrokeWidth
	}
}

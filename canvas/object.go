package canvas

import (
	"math"
	"strings"
	"unicode/utf8"
)

// Kind is the type tag of a scene object as it appears in the serialized document.
type Kind string

const (
	KindRect     Kind = "rect"
	KindEllipse  Kind = "ellipse"
	KindTriangle Kind = "triangle"
	KindText     Kind = "text"
	KindPath     Kind = "path"
	KindGroup    Kind = "group"
	KindLine     Kind = "line"
)

const (
	OriginLeft   = "left"
	OriginTop    = "top"
	OriginCenter = "center"
)

// Known reports whether k is a kind the surface can hold.
func (k Kind) Known() bool {
	switch k {
	case KindRect, KindEllipse, KindTriangle, KindText, KindPath, KindGroup, KindLine:
		return true
	}
	return false
}

// Shape reports whether k can be created with AddShape.
func (k Kind) Shape() bool {
	return k == KindRect || k == KindEllipse || k == KindTriangle
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Style carries the paint properties applied to a new shape.
type Style struct {
	Fill        string  `json:"fill,omitempty"`
	Stroke      string  `json:"stroke,omitempty"`
	StrokeWidth float64 `json:"strokeWidth,omitempty"`
}

// Object is one drawable entity on the surface.
//
// Left/Top locate the origin point. With the default left/top origin the object
// rotates about its top-left corner, so rotation moves its center. Path points and
// group children are relative to the object's top-left corner.
type Object struct {
	ID          string     `json:"id"`
	Type        Kind       `json:"type"`
	Left        float64    `json:"left"`
	Top         float64    `json:"top"`
	OriginX     string     `json:"originX,omitempty"`
	OriginY     string     `json:"originY,omitempty"`
	Width       float64    `json:"width,omitempty"`
	Height      float64    `json:"height,omitempty"`
	RX          float64    `json:"rx,omitempty"`
	RY          float64    `json:"ry,omitempty"`
	ScaleX      float64    `json:"scaleX"`
	ScaleY      float64    `json:"scaleY"`
	Angle       float64    `json:"angle"`
	Fill        string     `json:"fill,omitempty"`
	Stroke      string     `json:"stroke,omitempty"`
	StrokeWidth float64    `json:"strokeWidth,omitempty"`
	Text        string     `json:"text,omitempty"`
	FontSize    float64    `json:"fontSize,omitempty"`
	Path        []Point    `json:"path,omitempty"`
	X1          float64    `json:"x1,omitempty"`
	Y1          float64    `json:"y1,omitempty"`
	X2          float64    `json:"x2,omitempty"`
	Y2          float64    `json:"y2,omitempty"`
	Objects     []*Object  `json:"objects,omitempty"`
	Selectable  bool       `json:"selectable"`
	Connector   *Connector `json:"connector,omitempty"`

	transient bool
}

// NewObject returns an object of the given kind with unit scale that can be
// selected and transformed. Callers building objects for AddObject start here.
func NewObject(kind Kind) Object {
	return Object{Type: kind, ScaleX: 1, ScaleY: 1, Selectable: true}
}

func newObject(kind Kind) *Object {
	o := NewObject(kind)
	return &o
}

// Size returns the unscaled width and height of the object.
func (o *Object) Size() (float64, float64) {
	switch o.Type {
	case KindEllipse:
		return 2 * o.RX, 2 * o.RY
	case KindLine:
		return math.Abs(o.X2 - o.X1), math.Abs(o.Y2 - o.Y1)
	}
	return o.Width, o.Height
}

// ScaledSize returns the width and height after applying scaleX/scaleY.
func (o *Object) ScaledSize() (float64, float64) {
	w, h := o.Size()
	return w * o.ScaleX, h * o.ScaleY
}

// Center returns the current center point in surface coordinates.
func (o *Object) Center() Point {
	if o.Type == KindLine {
		return Point{X: (o.X1 + o.X2) / 2, Y: (o.Y1 + o.Y2) / 2}
	}
	w, h := o.ScaledSize()
	dx, dy := w/2, h/2
	if o.OriginX == OriginCenter {
		dx = 0
	}
	if o.OriginY == OriginCenter {
		dy = 0
	}
	rad := o.Angle * math.Pi / 180
	sin, cos := math.Sincos(rad)
	return Point{
		X: o.Left + dx*cos - dy*sin,
		Y: o.Top + dx*sin + dy*cos,
	}
}

// Contains reports whether p lies inside the object's rotated bounds.
func (o *Object) Contains(p Point) bool {
	if o.Type == KindLine {
		return distanceToSegment(p, Point{o.X1, o.Y1}, Point{o.X2, o.Y2}) <= math.Max(o.StrokeWidth, 4)
	}
	c := o.Center()
	rad := -o.Angle * math.Pi / 180
	sin, cos := math.Sincos(rad)
	dx, dy := p.X-c.X, p.Y-c.Y
	lx := dx*cos - dy*sin
	ly := dx*sin + dy*cos

	w, h := o.ScaledSize()
	hw, hh := math.Abs(w)/2, math.Abs(h)/2
	if hw == 0 || hh == 0 {
		return false
	}
	if o.Type == KindEllipse {
		return (lx*lx)/(hw*hw)+(ly*ly)/(hh*hh) <= 1
	}
	return math.Abs(lx) <= hw && math.Abs(ly) <= hh
}

func (o *Object) clone() *Object {
	c := *o
	if o.Path != nil {
		c.Path = append([]Point(nil), o.Path...)
	}
	if o.Connector != nil {
		conn := *o.Connector
		c.Connector = &conn
	}
	if o.Objects != nil {
		c.Objects = make([]*Object, len(o.Objects))
		for i, child := range o.Objects {
			c.Objects[i] = child.clone()
		}
	}
	return &c
}

// firstText returns the first text child of a group by linear scan.
func (o *Object) firstText() *Object {
	for _, child := range o.Objects {
		if child.Type == KindText {
			return child
		}
	}
	return nil
}

// measureText sets Width/Height of a text object from its content and font size.
func (o *Object) measureText() {
	if o.FontSize <= 0 {
		o.FontSize = defaultFontSize
	}
	lines := strings.Split(o.Text, "\n")
	longest := 0
	for _, line := range lines {
		if n := utf8.RuneCountInString(line); n > longest {
			longest = n
		}
	}
	o.Width = float64(longest) * o.FontSize * 0.55
	o.Height = float64(len(lines)) * o.FontSize * 1.16
}

// maxCoordinate bounds every position and extent on a surface. Keeping values
// this small means sums and differences of them stay finite.
const maxCoordinate = 1e9

func withinBounds(values ...float64) bool {
	for _, v := range values {
		// NaN fails the comparison.
		if !(math.Abs(v) <= maxCoordinate) {
			return false
		}
	}
	return true
}

// inBounds reports whether the object's position, size, center and path or
// children all stay within maxCoordinate.
func (o *Object) inBounds() bool {
	w, h := o.ScaledSize()
	c := o.Center()
	if !withinBounds(o.Left, o.Top, o.Width, o.Height, w, h, c.X, c.Y, o.StrokeWidth, o.FontSize,
		o.X1, o.Y1, o.X2, o.Y2, o.ScaleX, o.ScaleY) {
		return false
	}
	for _, p := range o.Path {
		if !withinBounds(p.X, p.Y) {
			return false
		}
	}
	for _, child := range o.Objects {
		if !child.inBounds() {
			return false
		}
	}
	return true
}

// fitPath moves the path's top-left to the bounding box of its points and
// rewrites the points relative to it.
func (o *Object) fitPath(points []Point) {
	minX, minY := points[0].X, points[0].Y
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		minX, maxX = math.Min(minX, p.X), math.Max(maxX, p.X)
		minY, maxY = math.Min(minY, p.Y), math.Max(maxY, p.Y)
	}
	o.Left, o.Top = minX, minY
	o.Width, o.Height = maxX-minX, maxY-minY
	o.Path = make([]Point, len(points))
	for i, p := range points {
		o.Path[i] = Point{X: p.X - minX, Y: p.Y - minY}
	}
}

func distanceToSegment(p, a, b Point) float64 {
	dx, dy := b.X-a.X, b.Y-a.Y
	if dx == 0 && dy == 0 {
		return math.Hypot(p.X-a.X, p.Y-a.Y)
	}
	t := ((p.X-a.X)*dx + (p.Y-a.Y)*dy) / (dx*dx + dy*dy)
	t = math.Max(0, math.Min(1, t))
	return math.Hypot(p.X-(a.X+t*dx), p.Y-(a.Y+t*dy))
}

package canvas

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"processmap-server/notify"
)

// DocumentVersion is written to every serialized document.
const DocumentVersion = "5.3.0"

const DefaultBackground = "#ffffff"

const (
	NoticeUnreadable = "Could not load saved canvas"
	NoticeInvalid    = "Invalid canvas data"
)

// ErrInvalidCanvasJSON rejects a create request whose canvasData is a string
// that does not hold JSON.
var ErrInvalidCanvasJSON = errors.New("invalid canvasData JSON")

// Document is the storage format of a canvas. Objects are kept as raw JSON: the
// adapter checks the document's shape, not the shape of each object.
type Document struct {
	Version    string            `json:"version,omitempty"`
	Objects    []json.RawMessage `json:"objects"`
	Background string            `json:"background,omitempty"`
}

func EmptyDocument() Document {
	return Document{Version: DocumentVersion, Objects: []json.RawMessage{}}
}

// DefaultCanvasData is stored for a new process map that was created without a canvas.
func DefaultCanvasData() json.RawMessage {
	return json.RawMessage(`{"objects":[],"background":"` + DefaultBackground + `"}`)
}

// ToDocument serializes the persisted objects of s. It never fails: if an object
// cannot be encoded the empty document is returned so callers always have a
// valid payload.
func ToDocument(s *Surface) Document {
	doc := Document{
		Version:    DocumentVersion,
		Objects:    make([]json.RawMessage, 0, len(s.objects)),
		Background: s.background,
	}
	for _, obj := range s.objects {
		if obj.transient {
			continue
		}
		raw, err := json.Marshal(obj)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"object_id": obj.ID,
				"error":     err,
			}).Error("Failed to serialize canvas object")
			return EmptyDocument()
		}
		doc.Objects = append(doc.Objects, raw)
	}
	return doc
}

// Marshal encodes the document, falling back to the empty document.
func (d Document) Marshal() json.RawMessage {
	if d.Objects == nil {
		d.Objects = []json.RawMessage{}
	}
	data, err := json.Marshal(d)
	if err != nil {
		logrus.WithError(err).Error("Failed to encode canvas document")
		data, _ = json.Marshal(EmptyDocument())
	}
	return data
}

// FromDocument turns a stored canvas into a Document, tolerating anything.
// raw may be nil, a Document, a JSON string, raw JSON bytes or an already decoded
// value. Unreadable or ill-shaped input yields the empty document together with
// a warning for the user; it is never an error.
func FromDocument(raw any) (Document, *notify.Notice) {
	switch v := raw.(type) {
	case nil:
		return EmptyDocument(), nil
	case Document:
		if v.Objects == nil {
			v.Objects = []json.RawMessage{}
		}
		return v, nil
	case *Document:
		if v == nil {
			return EmptyDocument(), nil
		}
		return FromDocument(*v)
	case string:
		if v == "" {
			return EmptyDocument(), nil
		}
		return parseDocument([]byte(v))
	case []byte:
		return parseDocument(v)
	case json.RawMessage:
		return parseDocument(v)
	}

	data, err := json.Marshal(raw)
	if err != nil {
		logrus.WithError(err).Warn("Canvas data is not encodable")
		return EmptyDocument(), notify.Warning(NoticeInvalid)
	}
	return parseDocument(data)
}

func parseDocument(data []byte) (Document, *notify.Notice) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return EmptyDocument(), nil
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		logrus.WithError(err).Warn("Saved canvas is not valid JSON")
		return EmptyDocument(), notify.Warning(NoticeUnreadable)
	}
	// Double-encoded payloads hold the document as a JSON string.
	if s, ok := decoded.(string); ok {
		return FromDocument(s)
	}

	doc, ok := shapedDocument(data, decoded)
	if !ok {
		logrus.Warn("Saved canvas has no objects array")
		return EmptyDocument(), notify.Warning(NoticeInvalid)
	}
	return doc, nil
}

// shapedDocument accepts a decoded value that is an object with an array-valued
// objects field and extracts the document from data.
func shapedDocument(data []byte, decoded any) (Document, bool) {
	m, ok := decoded.(map[string]any)
	if !ok {
		return Document{}, false
	}
	if _, ok := m["objects"].([]any); !ok {
		return Document{}, false
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Document{}, false
	}
	var doc Document
	if err := json.Unmarshal(fields["objects"], &doc.Objects); err != nil {
		return Document{}, false
	}
	if doc.Objects == nil {
		doc.Objects = []json.RawMessage{}
	}
	// version and background are informational; a wrong type is ignored.
	_ = json.Unmarshal(fields["version"], &doc.Version)
	_ = json.Unmarshal(fields["background"], &doc.Background)
	return doc, true
}

// NormalizeForCreate validates canvasData sent with a create request. Unlike
// FromDocument it is strict about strings: a string that does not parse is
// rejected with ErrInvalidCanvasJSON. Absent data, or data that is not an object
// with an objects array, is replaced by DefaultCanvasData.
func NormalizeForCreate(raw json.RawMessage) (json.RawMessage, error) {
	data := bytes.TrimSpace(raw)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return DefaultCanvasData(), nil
	}

	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCanvasJSON, err)
	}
	if s, ok := decoded.(string); ok {
		if s == "" {
			return DefaultCanvasData(), nil
		}
		data = []byte(s)
		if err := json.Unmarshal(data, &decoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCanvasJSON, err)
		}
	}

	if _, ok := shapedDocument(data, decoded); !ok {
		return DefaultCanvasData(), nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCanvasJSON, err)
	}
	return buf.Bytes(), nil
}

// ValidDocument reports whether data is an object with an array objects field.
func ValidDocument(data json.RawMessage) bool {
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return false
	}
	_, ok := shapedDocument(data, decoded)
	return ok
}

func decodeObject(raw json.RawMessage) (*Object, error) {
	obj := newObject("")
	if err := json.Unmarshal(raw, obj); err != nil {
		return nil, err
	}
	if err := normalizeDecoded(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func normalizeDecoded(obj *Object) error {
	if !obj.Type.Known() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, obj.Type)
	}
	if obj.ScaleX == 0 {
		obj.ScaleX = 1
	}
	if obj.ScaleY == 0 {
		obj.ScaleY = 1
	}
	if obj.Type == KindText && obj.Width == 0 {
		obj.measureText()
	}
	if !obj.inBounds() {
		return fmt.Errorf("object %s: %w", obj.ID, ErrOutOfBounds)
	}
	kept := obj.Objects[:0]
	for _, child := range obj.Objects {
		if child == nil || normalizeDecoded(child) != nil {
			continue
		}
		kept = append(kept, child)
	}
	obj.Objects = kept
	return nil
}

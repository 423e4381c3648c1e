package session

import (
	"errors"
	"fmt"

	"processmap-server/canvas"
	"processmap-server/notify"
)

var ErrUnknownCommand = errors.New("unknown command")

// Command is one editor action. Which fields are read depends on Op.
type Command struct {
	Op     string         `json:"op" validate:"required"`
	ID     string         `json:"id,omitempty"`
	Kind   string         `json:"kind,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	Text   string         `json:"text,omitempty"`
	Color  string         `json:"color,omitempty"`
	Style  canvas.Style   `json:"style,omitempty"`
	X      float64        `json:"x,omitempty"`
	Y      float64        `json:"y,omitempty"`
	ScaleX float64        `json:"scaleX,omitempty"`
	ScaleY float64        `json:"scaleY,omitempty"`
	Angle  float64        `json:"angle,omitempty"`
	Width  string         `json:"width,omitempty"`
	Points []canvas.Point `json:"points,omitempty"`
	From   string         `json:"from,omitempty"`
	To     string         `json:"to,omitempty"`
}

const (
	OpAddShape   = "addShape"
	OpAddText    = "addText"
	OpAttachText = "attachText"
	OpFillColor  = "fillColor"
	OpTextColor  = "textColor"
	OpSetText    = "setText"
	OpSelect     = "select"
	OpRemove     = "remove"
	OpMove       = "move"
	OpScale      = "scale"
	OpRotate     = "rotate"
	OpTool       = "tool"
	OpClick      = "click"
	OpPointer    = "pointer"
	OpCancel     = "cancel"
	OpBrushWidth = "brushWidth"
	OpBrushColor = "brushColor"
	OpStroke     = "stroke"
	OpConnect    = "connect"
	OpDisconnect = "disconnect"
)

// CommandResult reports what one command did. Rejected holds the user-facing
// reason when the command was refused.
type CommandResult struct {
	Op        string            `json:"op"`
	ObjectID  string            `json:"objectId,omitempty"`
	Connector *canvas.Connector `json:"connector,omitempty"`
	Rejected  string            `json:"rejected,omitempty"`
}

// Result is the editor state after a batch of commands.
type Result struct {
	Commands   []CommandResult    `json:"commands"`
	Document   canvas.Document    `json:"document"`
	Connectors []canvas.Connector `json:"connectors"`
	Tool       canvas.Tool        `json:"tool"`
	Gesture    string             `json:"gesture"`
	Selected   string             `json:"selected,omitempty"`
	Revision   uint64             `json:"revision"`
	Notices    []notify.Notice    `json:"notices"`
}

// CommandError stops a batch. Commands before Index were applied.
type CommandError struct {
	Index int
	Op    string
	Err   error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %d (%s): %v", e.Index, e.Op, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// Apply runs the commands in order. A command refused with a validation error
// becomes a warning notice and the batch continues; any other error stops the
// batch and is returned as a *CommandError along with the state reached so far.
func (s *Session) Apply(commands []Command) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Result{}, ErrClosed
	}

	results := make([]CommandResult, 0, len(commands))
	var failure error
	for i, cmd := range commands {
		res, err := s.apply(cmd)
		var verr *canvas.ValidationError
		if errors.As(err, &verr) {
			s.notices.Notify(*notify.Warning(verr.Message))
			res.Rejected = verr.Message
			err = nil
		}
		results = append(results, res)
		if err != nil {
			failure = &CommandError{Index: i, Op: cmd.Op, Err: err}
			break
		}
	}

	return Result{
		Commands:   results,
		Document:   s.surface.Serialize(),
		Connectors: s.connectors.All(),
		Tool:       s.controller.Tool(),
		Gesture:    canvas.GestureName(s.controller.Gesture()),
		Selected:   s.surface.Selected(),
		Revision:   s.revision,
		Notices:    s.notices.Drain(),
	}, failure
}

func (s *Session) apply(cmd Command) (CommandResult, error) {
	res := CommandResult{Op: cmd.Op}
	var err error

	switch cmd.Op {
	case OpAddShape:
		res.ObjectID, err = s.controller.AddShape(canvas.Kind(cmd.Kind), cmd.Style)
	case OpAddText:
		res.ObjectID = s.controller.AddText(cmd.Text)
	case OpAttachText:
		res.ObjectID, err = s.surface.AttachTextToShape(cmd.ID)
	case OpFillColor:
		err = s.surface.ChangeFillColor(cmd.ID, cmd.Color)
	case OpTextColor:
		err = s.surface.ChangeTextColor(cmd.ID, cmd.Color)
	case OpSetText:
		err = s.surface.SetText(cmd.ID, cmd.Text)
	case OpSelect:
		if cmd.ID == "" {
			s.surface.ClearSelection()
		} else {
			err = s.surface.Select(cmd.ID)
		}
	case OpRemove:
		id := cmd.ID
		if id == "" {
			id = s.surface.Selected()
		}
		if id == "" {
			return res, &canvas.ValidationError{Message: "Please select an object first"}
		}
		res.ObjectID = id
		err = s.surface.RemoveObject(id)
	case OpMove:
		err = s.surface.Move(cmd.ID, cmd.X, cmd.Y)
	case OpScale:
		err = s.surface.Scale(cmd.ID, cmd.ScaleX, cmd.ScaleY)
	case OpRotate:
		err = s.surface.Rotate(cmd.ID, cmd.Angle)
	case OpTool:
		err = s.switchTool(cmd)
	case OpClick:
		res.Connector, err = s.controller.Click(canvas.Point{X: cmd.X, Y: cmd.Y})
		if res.Connector == nil {
			res.ObjectID = s.surface.Selected()
		}
	case OpPointer:
		s.controller.PointerMove(canvas.Point{X: cmd.X, Y: cmd.Y})
	case OpCancel:
		s.controller.Cancel()
	case OpBrushWidth:
		var width canvas.BrushWidth
		if width, err = canvas.ParseBrushWidth(cmd.Width); err == nil {
			err = s.controller.SetBrushWidth(width)
		}
	case OpBrushColor:
		err = s.controller.SetBrushColor(cmd.Color)
	case OpStroke:
		res.ObjectID, err = s.controller.Stroke(cmd.Points)
	case OpConnect:
		var conn canvas.Connector
		if conn, err = s.connectors.Connect(cmd.From, cmd.To, canvas.ConnectorKind(cmd.Kind)); err == nil {
			res.Connector = &conn
		}
	case OpDisconnect:
		err = s.connectors.Remove(cmd.ID)
	default:
		err = fmt.Errorf("%w %q", ErrUnknownCommand, cmd.Op)
	}
	return res, err
}

func (s *Session) switchTool(cmd Command) error {
	switch canvas.Tool(cmd.Tool) {
	case canvas.ToolSelect:
		s.controller.SelectTool()
	case canvas.ToolDrawConnector:
		kind := canvas.ConnectorKind(cmd.Kind)
		if kind == "" {
			kind = canvas.ConnectorArrow
		}
		return s.controller.StartConnector(kind)
	case canvas.ToolFreeDraw:
		s.controller.StartFreeDraw()
	default:
		return fmt.Errorf("%w: tool %q", ErrUnknownCommand, cmd.Tool)
	}
	return nil
}

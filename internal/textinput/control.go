package textinput

// Outbound channel methods.
const (
	MethodSetClient                   = "TextInput.setClient"
	MethodShow                        = "TextInput.show"
	MethodHide                        = "TextInput.hide"
	MethodUpdateConfig                = "TextInput.updateConfig"
	MethodSetEditingState             = "TextInput.setEditingState"
	MethodSetMarkedTextRect           = "TextInput.setMarkedTextRect"
	MethodSetCaretRect                = "TextInput.setCaretRect"
	MethodSetEditableSizeAndTransform = "TextInput.setEditableSizeAndTransform"
	MethodSetStyle                    = "TextInput.setStyle"
	MethodClearClient                 = "TextInput.clearClient"
	MethodFinishAutofillContext       = "TextInput.finishAutofillContext"
	MethodRequestAutofill             = "TextInput.requestAutofill"
)

// Rect is a rectangle in the client's coordinate space, used for the
// advisory geometry hints.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Size is a width and height pair.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Offset is a point. The wire spells its keys uppercase.
type Offset struct {
	X float64 `json:"X"`
	Y float64 `json:"Y"`
}

// TextStyle carries the font hints forwarded with setStyle.
type TextStyle struct {
	FontFamily         string  `json:"fontFamily"`
	FontSize           float64 `json:"fontSize"`
	FontWeightIndex    int     `json:"fontWeightIndex"`
	TextAlignIndex     int     `json:"textAlignIndex"`
	TextDirectionIndex int     `json:"textDirectionIndex"`
}

// FloatingCursorPhase is the stage of a floating-cursor drag.
type FloatingCursorPhase int

const (
	FloatingCursorStart FloatingCursorPhase = iota
	FloatingCursorUpdate
	FloatingCursorEnd
)

var floatingCursorTags = [...]string{
	FloatingCursorStart:  "FloatingCursorDragState.start",
	FloatingCursorUpdate: "FloatingCursorDragState.update",
	FloatingCursorEnd:    "FloatingCursorDragState.end",
}

// String returns the wire tag of the phase.
func (p FloatingCursorPhase) String() string {
	if p < 0 || int(p) >= len(floatingCursorTags) {
		return floatingCursorTags[FloatingCursorStart]
	}
	return floatingCursorTags[p]
}

func floatingCursorPhaseFromTag(tag string) (FloatingCursorPhase, bool) {
	for p, t := range floatingCursorTags {
		if t == tag {
			return FloatingCursorPhase(p), true
		}
	}
	return FloatingCursorStart, false
}

// Client is what the registry calls back on the attached widget.
type Client interface {
	// CurrentEditingState returns the client's present text model, used
	// to replay state when the platform asks for it.
	CurrentEditingState() EditingState
	// UpdateEditingValue replaces the client's text model with
	// platform-originated edits.
	UpdateEditingValue(EditingState)
	// PerformAction reacts to the keyboard's action key.
	PerformAction(Action)
	// PerformPrivateCommand receives a platform-private command. data is
	// nil, a string, a float64, a []string, a []float64 or a
	// map[string]any.
	PerformPrivateCommand(action string, data any)
	// UpdateFloatingCursor tracks a floating-cursor drag.
	UpdateFloatingCursor(FloatingCursorPhase, Offset)
	// ConnectionClosed tells the client the platform ended the session.
	ConnectionClosed()
	// ShowAutocorrectionPromptRect highlights the span an autocorrect
	// suggestion applies to. Offsets count UTF-16 code units.
	ShowAutocorrectionPromptRect(start, end int)
	// DidChangeInputControl reports a primary control swap while the
	// client is attached. The client must not retain either control.
	DidChangeInputControl(previous, current Control)
}

// AutofillClient is implemented by clients that belong to an autofill
// group and accept values addressed to sibling fields by tag.
type AutofillClient interface {
	Client

	// Autofill applies a platform-filled value to the field named tag.
	Autofill(tag string, state EditingState)
}

// Handler observes the session lifecycle. Calls run on the protocol
// loop and must not block. Handlers are compared by identity when added
// and removed.
type Handler interface {
	Attach(client Client, config Configuration)
	Detach(client Client)
	SetEditingState(state EditingState)
	UpdateConfig(config Configuration)
}

// Control is the primary observer: a Handler that additionally owns
// keyboard visibility, geometry hints and autofill. Exactly one control
// is primary at a time; the platform control is the default.
type Control interface {
	Handler

	Show()
	Hide()
	SetComposingRect(rect Rect)
	SetCaretRect(rect Rect)
	SetEditableSizeAndTransform(size Size, transform [16]float64)
	SetStyle(style TextStyle)
	FinishAutofillContext(shouldSave bool)
	RequestAutofill()
}

// platformControl is the built-in primary control. Every call encodes
// the matching TextInput method on the channel. While a custom control
// is primary it still carries the wire traffic the platform needs, with
// the configuration masked to the none input type.
type platformControl struct {
	reg *Registry
}

func (p *platformControl) Attach(_ Client, config Configuration) {
	p.reg.send(MethodSetClient, []any{p.reg.currentID(), p.reg.effectiveConfig(config)})
}

func (p *platformControl) Detach(Client) {
	p.reg.send(MethodClearClient, nil)
}

func (p *platformControl) SetEditingState(state EditingState) {
	p.reg.send(MethodSetEditingState, state)
}

func (p *platformControl) UpdateConfig(config Configuration) {
	p.reg.send(MethodUpdateConfig, p.reg.effectiveConfig(config))
}

func (p *platformControl) Show() {
	p.reg.send(MethodShow, nil)
	p.reg.keyboardShown = true
}

func (p *platformControl) Hide() {
	p.reg.send(MethodHide, nil)
	p.reg.keyboardShown = false
}

func (p *platformControl) SetComposingRect(rect Rect) {
	p.reg.send(MethodSetMarkedTextRect, rect)
}

func (p *platformControl) SetCaretRect(rect Rect) {
	p.reg.send(MethodSetCaretRect, rect)
}

func (p *platformControl) SetEditableSizeAndTransform(size Size, transform [16]float64) {
	p.reg.send(MethodSetEditableSizeAndTransform, map[string]any{
		"width":     size.Width,
		"height":    size.Height,
		"transform": transform[:],
	})
}

func (p *platformControl) SetStyle(style TextStyle) {
	p.reg.send(MethodSetStyle, style)
}

func (p *platformControl) FinishAutofillContext(shouldSave bool) {
	p.reg.send(MethodFinishAutofillContext, shouldSave)
}

func (p *platformControl) RequestAutofill() {
	p.reg.send(MethodRequestAutofill, nil)
}

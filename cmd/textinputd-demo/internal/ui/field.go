package ui

import (
	"fmt"
	"strings"
	"sync"
	"unicode/utf8"

	"gioui.org/layout"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"textinputd/internal/textinput"
)

// Field is one editable slot in the form. The protocol loop mutates it
// through the textinput.Client callbacks; the render loop reads it with
// snapshot. The two sides share only the mutex-guarded state.
type Field struct {
	form  *Form
	label string
	cfg   textinput.Configuration

	click widget.Clickable

	mu          sync.Mutex
	state       textinput.EditingState
	focused     bool
	connID      int
	lastAction  string
	lastCommand string

	conn *textinput.Connection // protocol loop only
}

func newField(form *Form, label string, cfg textinput.Configuration) *Field {
	return &Field{
		form:  form,
		label: label,
		cfg:   cfg,
		state: textinput.EmptyEditingState(),
	}
}

func (fl *Field) snapshot() (textinput.EditingState, bool, int, string, string) {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.state, fl.focused, fl.connID, fl.lastAction, fl.lastCommand
}

func (fl *Field) setFocused(focused bool, connID int) {
	fl.mu.Lock()
	fl.focused = focused
	if focused {
		fl.connID = connID
	}
	fl.mu.Unlock()
}

func (fl *Field) isFocused() bool {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.focused
}

// textinput.Client implementation. Every method runs on the protocol
// loop.

func (fl *Field) CurrentEditingState() textinput.EditingState {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.state
}

func (fl *Field) UpdateEditingValue(state textinput.EditingState) {
	fl.mu.Lock()
	fl.state = state
	fl.mu.Unlock()
	fl.form.wake()
}

func (fl *Field) PerformAction(a textinput.Action) {
	fl.mu.Lock()
	fl.lastAction = a.String()
	fl.mu.Unlock()

	switch a {
	case textinput.ActionNext:
		fl.form.focusNext(fl)
	case textinput.ActionDone, textinput.ActionSend, textinput.ActionSearch:
		if fl.conn != nil {
			fl.conn.Hide()
		}
	}
	fl.form.wake()
}

func (fl *Field) PerformPrivateCommand(action string, data any) {
	fl.mu.Lock()
	fl.lastCommand = action
	fl.mu.Unlock()
	fl.form.wake()
}

func (fl *Field) UpdateFloatingCursor(textinput.FloatingCursorPhase, textinput.Offset) {}

func (fl *Field) ConnectionClosed() {
	fl.conn = nil
	fl.mu.Lock()
	fl.focused = false
	fl.mu.Unlock()
	fl.form.wake()
}

func (fl *Field) ShowAutocorrectionPromptRect(start, end int) {}

func (fl *Field) DidChangeInputControl(previous, current textinput.Control) {}

// Autofill applies a platform-filled value when the tag names this
// field.
func (fl *Field) Autofill(tag string, state textinput.EditingState) {
	if fl.cfg.Autofill == nil || fl.cfg.Autofill.UniqueIdentifier != tag {
		return
	}
	fl.mu.Lock()
	fl.state = state
	fl.mu.Unlock()
	fl.form.wake()
}

// layout renders the field as a clickable bordered box: label, value,
// and a session caption while focused.
func (fl *Field) layout(gtx layout.Context) layout.Dimensions {
	th := fl.form.theme
	state, focused, connID, lastAction, lastCommand := fl.snapshot()

	border := widget.Border{
		Color:        th.Palette.Border,
		CornerRadius: th.Config.CornerRadius,
		Width:        unit.Dp(1),
	}
	if focused {
		border.Color = th.Palette.Primary
		border.Width = unit.Dp(2)
	}

	return fl.click.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		return border.Layout(gtx, func(gtx layout.Context) layout.Dimensions {
			return layout.UniformInset(th.Config.Spacing).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
				return layout.Flex{Axis: layout.Vertical}.Layout(gtx,
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						l := material.Label(th.Theme, th.Config.FontCaption, fl.label)
						l.Color = th.Palette.TextMuted
						return l.Layout(gtx)
					}),
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						l := material.Label(th.Theme, th.Config.FontBody, fl.displayText(state))
						l.Color = th.Palette.Text
						return l.Layout(gtx)
					}),
					layout.Rigid(func(gtx layout.Context) layout.Dimensions {
						if !focused {
							return layout.Dimensions{}
						}
						l := material.Label(th.Theme, th.Config.FontCaption, sessionCaption(state, connID, lastAction, lastCommand))
						l.Color = th.Palette.Primary
						return l.Layout(gtx)
					}),
				)
			})
		})
	})
}

func (fl *Field) displayText(state textinput.EditingState) string {
	if state.Text == "" {
		return " "
	}
	if fl.cfg.ObscureText {
		return strings.Repeat("•", utf8.RuneCountInString(state.Text))
	}
	return state.Text
}

func sessionCaption(state textinput.EditingState, connID int, lastAction, lastCommand string) string {
	parts := []string{
		fmt.Sprintf("connection #%d", connID),
		fmt.Sprintf("selection %d:%d", state.SelectionBase, state.SelectionExtent),
	}
	if state.ComposingBase >= 0 {
		parts = append(parts, fmt.Sprintf("composing %d:%d", state.ComposingBase, state.ComposingExtent))
	}
	if lastAction != "" {
		parts = append(parts, lastAction)
	}
	if lastCommand != "" {
		parts = append(parts, lastCommand)
	}
	return strings.Join(parts, " · ")
}

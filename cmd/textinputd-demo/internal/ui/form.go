// Package ui renders the demo form and adapts its fields to the text
// input protocol.
package ui

import (
	"fmt"

	"gioui.org/layout"
	"gioui.org/op/paint"
	"gioui.org/unit"
	"gioui.org/widget"
	"gioui.org/widget/material"

	"textinputd/cmd/textinputd-demo/internal/theme"
	"textinputd/internal/runloop"
	"textinputd/internal/textinput"
)

// Form is the demo window content: a column of protocol-backed fields
// and the session controls. Layout runs on the render loop; everything
// touching the registry or a connection is posted to the protocol loop.
type Form struct {
	theme *theme.Theme
	loop  *runloop.Loop
	reg   *textinput.Registry
	wake  func()

	serverVersion string

	fields []*Field

	showBtn     widget.Clickable
	hideBtn     widget.Clickable
	autofillBtn widget.Clickable
	saveBtn     widget.Clickable
	detachBtn   widget.Clickable
}

// NewForm builds the demo fields: an autofill group of name, email and
// password, plus a free-standing multiline field.
func NewForm(t *theme.Theme, loop *runloop.Loop, reg *textinput.Registry, wake func(), serverVersion string) *Form {
	f := &Form{theme: t, loop: loop, reg: reg, wake: wake, serverVersion: serverVersion}

	name := textinput.DefaultConfiguration()
	name.InputType = textinput.TypeName()
	name.Action = textinput.ActionNext
	name.Autofill = &textinput.AutofillConfig{UniqueIdentifier: "demo-name", Hints: []string{"name"}}

	email := textinput.DefaultConfiguration()
	email.InputType = textinput.TypeEmailAddress()
	email.Autocorrect = false
	email.Action = textinput.ActionNext
	email.Autofill = &textinput.AutofillConfig{UniqueIdentifier: "demo-email", Hints: []string{"email"}}

	password := textinput.DefaultConfiguration()
	password.ObscureText = true
	password.Autocorrect = false
	password.Action = textinput.ActionDone
	password.Autofill = &textinput.AutofillConfig{UniqueIdentifier: "demo-password", Hints: []string{"password"}}

	notes := textinput.DefaultConfiguration()
	notes.InputType = textinput.TypeMultiline()
	notes.Action = textinput.ActionNewline

	f.fields = []*Field{
		newField(f, "Full name", name),
		newField(f, "Email", email),
		newField(f, "Password", password),
		newField(f, "Notes", notes),
	}
	return f
}

// attach makes fl the current connection. Runs on the protocol loop.
func (f *Form) attach(fl *Field) {
	conn := f.reg.Attach(fl, fl.cfg)
	fl.conn = conn
	conn.SetEditingState(fl.CurrentEditingState())
	conn.Show()

	for _, other := range f.fields {
		other.setFocused(other == fl, conn.ID())
	}
	f.wake()
}

func (f *Form) requestFocus(fl *Field) {
	f.loop.Post(func() { f.attach(fl) })
}

// focusNext moves the session to the field after cur. Runs on the
// protocol loop.
func (f *Form) focusNext(cur *Field) {
	for i, fl := range f.fields {
		if fl == cur {
			f.attach(f.fields[(i+1)%len(f.fields)])
			return
		}
	}
}

func (f *Form) focusedField() *Field {
	for _, fl := range f.fields {
		if fl.isFocused() {
			return fl
		}
	}
	return nil
}

// withConn runs fn against the focused field's connection on the
// protocol loop.
func (f *Form) withConn(fn func(*textinput.Connection)) {
	f.loop.Post(func() {
		if fl := f.focusedField(); fl != nil && fl.conn != nil {
			fn(fl.conn)
		}
	})
}

func (f *Form) detach() {
	f.loop.Post(func() {
		fl := f.focusedField()
		if fl == nil || fl.conn == nil {
			return
		}
		fl.conn.Close()
		fl.conn = nil
		fl.setFocused(false, 0)
		f.wake()
	})
}

// Layout renders the form and turns widget clicks into protocol calls.
func (f *Form) Layout(gtx layout.Context) layout.Dimensions {
	paint.Fill(gtx.Ops, f.theme.Palette.Background)

	for _, fl := range f.fields {
		if fl.click.Clicked(gtx) {
			f.requestFocus(fl)
		}
	}
	if f.showBtn.Clicked(gtx) {
		f.withConn(func(c *textinput.Connection) { c.Show() })
	}
	if f.hideBtn.Clicked(gtx) {
		f.withConn(func(c *textinput.Connection) { c.Hide() })
	}
	if f.autofillBtn.Clicked(gtx) {
		f.withConn(func(c *textinput.Connection) { c.RequestAutofill() })
	}
	if f.saveBtn.Clicked(gtx) {
		f.loop.Post(func() { f.reg.FinishAutofillContext(true) })
	}
	if f.detachBtn.Clicked(gtx) {
		f.detach()
	}

	return layout.UniformInset(f.theme.Config.Padding).Layout(gtx, func(gtx layout.Context) layout.Dimensions {
		children := []layout.FlexChild{
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				title := material.H6(f.theme.Theme, "textinputd demo")
				title.Color = f.theme.Palette.Text
				title.TextSize = f.theme.Config.FontTitle
				return title.Layout(gtx)
			}),
			layout.Rigid(func(gtx layout.Context) layout.Dimensions {
				l := material.Label(f.theme.Theme, f.theme.Config.FontCaption, fmt.Sprintf("Connected · daemon %s", f.serverVersion))
				l.Color = f.theme.Palette.Success
				return l.Layout(gtx)
			}),
			layout.Rigid(layout.Spacer{Height: unit.Dp(16)}.Layout),
		}

		for _, fl := range f.fields {
			children = append(children,
				layout.Rigid(fl.layout),
				layout.Rigid(layout.Spacer{Height: f.theme.Config.Spacing}.Layout),
			)
		}

		children = append(children,
			layout.Rigid(layout.Spacer{Height: unit.Dp(8)}.Layout),
			layout.Rigid(f.layoutButtons),
		)

		return layout.Flex{Axis: layout.Vertical}.Layout(gtx, children...)
	})
}

func (f *Form) layoutButtons(gtx layout.Context) layout.Dimensions {
	button := func(b *widget.Clickable, label string) layout.FlexChild {
		return layout.Rigid(func(gtx layout.Context) layout.Dimensions {
			btn := material.Button(f.theme.Theme, b, label)
			btn.Background = f.theme.Palette.Surface
			btn.Color = f.theme.Palette.Text
			btn.TextSize = f.theme.Config.FontCaption
			return btn.Layout(gtx)
		})
	}
	gap := layout.Rigid(layout.Spacer{Width: unit.Dp(8)}.Layout)

	return layout.Flex{Axis: layout.Horizontal}.Layout(gtx,
		button(&f.showBtn, "Show"),
		gap,
		button(&f.hideBtn, "Hide"),
		gap,
		button(&f.autofillBtn, "Autofill"),
		gap,
		button(&f.saveBtn, "Save values"),
		gap,
		button(&f.detachBtn, "Detach"),
	)
}

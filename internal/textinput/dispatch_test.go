package textinput

import (
	"context"
	"reflect"
	"testing"
)

func TestDispatchUpdateEditingState(t *testing.T) {
	reg, loop, lb := newTestRegistry(t)
	client := &fakeClient{}
	conn := reg.Attach(client, DefaultConfiguration())

	deliver(t, loop, lb, ClientUpdateEditingState, []any{conn.ID(), map[string]any{
		"text":            "hello",
		"selectionBase":   5,
		"selectionExtent": 5,
	}})

	if len(client.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(client.updates))
	}
	want := EditingState{Text: "hello", SelectionBase: 5, SelectionExtent: 5, ComposingBase: -1, ComposingExtent: -1}
	if client.updates[0] != want {
		t.Errorf("update = %+v, want %+v", client.updates[0], want)
	}
}

func TestDispatchDropsStaleConnectionID(t *testing.T) {
	reg, loop, lb := newTestRegistry(t)
	client := &fakeClient{}
	conn := reg.Attach(client, DefaultConfiguration())

	deliver(t, loop, lb, ClientUpdateEditingState, []any{conn.ID() + 41, map[string]any{"text": "x"}})
	deliver(t, loop, lb, ClientPerformAction, []any{conn.ID() + 41, "TextInputAction.done"})

	if len(client.updates) != 0 || len(client.actions) != 0 {
		t.Errorf("stale id reached the client: %d updates, %d actions", len(client.updates), len(client.actions))
	}
}

func TestDispatchPerformAction(t *testing.T) {
	reg, loop, lb := newTestRegistry(t)
	client := &fakeClient{}
	conn := reg.Attach(client, DefaultConfiguration())

	deliver(t, loop, lb, ClientPerformAction, []any{conn.ID(), "TextInputAction.newline"})
	deliver(t, loop, lb, ClientPerformAction, []any{conn.ID(), "TextInputAction.continueAction"})
	deliver(t, loop, lb, ClientPerformAction, []any{conn.ID(), "TextInputAction.bogus"})

	want := []Action{ActionNewline, ActionContinue}
	if !reflect.DeepEqual(client.actions, want) {
		t.Errorf("actions = %v, want %v", client.actions, want)
	}
}

func TestDispatchPrivateCommandDataShapes(t *testing.T) {
	cases := []struct {
		name string
		args map[string]any
		want any
	}{
		{
			name: "object",
			args: map[string]any{"action": "custom", "data": map[string]any{"k": "v", "n": 2.0}},
			want: map[string]any{"k": "v", "n": 2.0},
		},
		{
			name: "string list",
			args: map[string]any{"action": "custom", "data": []any{"a", "b"}},
			want: []string{"a", "b"},
		},
		{
			name: "number list",
			args: map[string]any{"action": "custom", "data": []any{1, 2.5}},
			want: []float64{1, 2.5},
		},
		{
			name: "string",
			args: map[string]any{"action": "custom", "data": "payload"},
			want: "payload",
		},
		{
			name: "number",
			args: map[string]any{"action": "custom", "data": 3.5},
			want: 3.5,
		},
		{
			name: "bool unsupported",
			args: map[string]any{"action": "custom", "data": true},
			want: nil,
		},
		{
			name: "null",
			args: map[string]any{"action": "custom", "data": nil},
			want: nil,
		},
		{
			name: "mixed list unsupported",
			args: map[string]any{"action": "custom", "data": []any{"a", 1}},
			want: nil,
		},
		{
			name: "empty list",
			args: map[string]any{"action": "custom", "data": []any{}},
			want: nil,
		},
		{
			name: "absent data",
			args: map[string]any{"action": "custom"},
			want: nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reg, loop, lb := newTestRegistry(t)
			client := &fakeClient{}
			conn := reg.Attach(client, DefaultConfiguration())

			deliver(t, loop, lb, ClientPerformPrivateCommand, []any{conn.ID(), tc.args})

			if len(client.privateActions) != 1 {
				t.Fatalf("private commands = %d, want 1", len(client.privateActions))
			}
			if client.privateActions[0] != "custom" {
				t.Errorf("action = %q", client.privateActions[0])
			}
			if !reflect.DeepEqual(client.privateData[0], tc.want) {
				t.Errorf("data = %#v, want %#v", client.privateData[0], tc.want)
			}
		})
	}
}

func TestDispatchFloatingCursor(t *testing.T) {
	reg, loop, lb := newTestRegistry(t)
	client := &fakeClient{}
	conn := reg.Attach(client, DefaultConfiguration())

	deliver(t, loop, lb, ClientUpdateFloatingCursor, []any{conn.ID(), "FloatingCursorDragState.start", map[string]any{"X": 0.0, "Y": 0.0}})
	deliver(t, loop, lb, ClientUpdateFloatingCursor, []any{conn.ID(), "FloatingCursorDragState.update", map[string]any{"X": 10.5, "Y": -2.0}})
	deliver(t, loop, lb, ClientUpdateFloatingCursor, []any{conn.ID(), "FloatingCursorDragState.end", map[string]any{"X": 10.5, "Y": -2.0}})
	deliver(t, loop, lb, ClientUpdateFloatingCursor, []any{conn.ID(), "FloatingCursorDragState.wiggle", map[string]any{"X": 1.0, "Y": 1.0}})

	wantPhases := []FloatingCursorPhase{FloatingCursorStart, FloatingCursorUpdate, FloatingCursorEnd}
	if !reflect.DeepEqual(client.cursorPhases, wantPhases) {
		t.Fatalf("phases = %v, want %v", client.cursorPhases, wantPhases)
	}
	if client.cursorOffsets[1] != (Offset{X: 10.5, Y: -2.0}) {
		t.Errorf("update offset = %+v", client.cursorOffsets[1])
	}
}

func TestDispatchConnectionClosed(t *testing.T) {
	reg, loop, lb := newTestRegistry(t)
	client := &fakeClient{}
	conn := reg.Attach(client, DefaultConfiguration())

	deliver(t, loop, lb, ClientOnConnectionClosed, []any{conn.ID()})

	if client.closedCount != 1 {
		t.Fatalf("connectionClosed called %d times, want 1", client.closedCount)
	}
	if conn.State() != StateClosed {
		t.Errorf("state = %v, want closed", conn.State())
	}

	// the platform initiated the close, so nothing more reaches the client
	deliver(t, loop, lb, ClientPerformAction, []any{conn.ID(), "TextInputAction.done"})
	if len(client.actions) != 0 {
		t.Errorf("closed connection still received %v", client.actions)
	}

	lb.Reset()
	conn.Close()
	loop.Drain()
	for _, m := range lb.SentMethods() {
		if m == MethodClearClient {
			t.Error("close after platform-side close still sent clearClient")
		}
	}
}

func TestDispatchShowAutocorrectionPromptRect(t *testing.T) {
	reg, loop, lb := newTestRegistry(t)
	client := &fakeClient{}
	conn := reg.Attach(client, DefaultConfiguration())

	deliver(t, loop, lb, ClientShowAutocorrectionPromptRect, []any{conn.ID(), 3, 7})

	if !reflect.DeepEqual(client.promptRects, [][2]int{{3, 7}}) {
		t.Errorf("prompt rects = %v", client.promptRects)
	}
}

func TestDispatchTaggedStates(t *testing.T) {
	reg, loop, lb := newTestRegistry(t)
	client := &fakeAutofillClient{}
	config := DefaultConfiguration()
	config.Autofill = &AutofillConfig{UniqueIdentifier: "field-user", Hints: []string{"username"}}
	conn := reg.Attach(client, config)

	deliver(t, loop, lb, ClientUpdateEditingStateWithTag, []any{conn.ID(), map[string]any{
		"field-user": map[string]any{"text": "alice", "selectionBase": 5, "selectionExtent": 5},
		"field-pass": map[string]any{"text": "hunter2", "selectionBase": 7, "selectionExtent": 7},
	}})

	if !reflect.DeepEqual(client.tags, []string{"field-pass", "field-user"}) {
		t.Fatalf("tags = %v, want sorted [field-pass field-user]", client.tags)
	}
	if client.values[1].Text != "alice" {
		t.Errorf("field-user value = %+v", client.values[1])
	}
}

func TestDispatchTaggedStatesNeedsAutofillClient(t *testing.T) {
	reg, loop, lb := newTestRegistry(t)
	client := &fakeClient{}
	conn := reg.Attach(client, DefaultConfiguration())

	deliver(t, loop, lb, ClientUpdateEditingStateWithTag, []any{conn.ID(), map[string]any{
		"field": map[string]any{"text": "x"},
	}})

	if len(client.updates) != 0 {
		t.Errorf("plain client received tagged states: %v", client.updates)
	}
}

func TestDispatchIgnoresUnknownMethod(t *testing.T) {
	reg, loop, lb := newTestRegistry(t)
	client := &fakeClient{}
	conn := reg.Attach(client, DefaultConfiguration())

	deliver(t, loop, lb, "TextInputClient.somethingNew", []any{conn.ID(), "payload"})

	if len(client.updates) != 0 || len(client.actions) != 0 || client.closedCount != 0 {
		t.Error("unknown method reached the client")
	}
	if !conn.Attached() {
		t.Error("unknown method tore down the connection")
	}
}

func TestHandleMessageMalformedPayload(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	reg.Attach(&fakeClient{}, DefaultConfiguration())

	for _, payload := range [][]byte{
		nil,
		[]byte(""),
		[]byte("not json"),
		[]byte(`{"method":"TextInputClient.updateEditingState"}`),
		[]byte(`{"method":"TextInputClient.updateEditingState","args":"not a list"}`),
		[]byte(`{"method":"TextInputClient.updateEditingState","args":[]}`),
	} {
		resp, err := reg.HandleMessage(context.Background(), payload)
		if resp != nil || err != nil {
			t.Errorf("HandleMessage(%q) = %v, %v; want nil, nil", payload, resp, err)
		}
	}
}

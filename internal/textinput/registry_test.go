package textinput

import (
	"encoding/json"
	"reflect"
	"testing"

	"textinputd/internal/channel"
	"textinputd/internal/runloop"
)

// callLog records observer notifications across fakes so tests can
// assert on fan-out order.
type callLog struct {
	entries []string
}

func (l *callLog) add(name, method string) {
	l.entries = append(l.entries, name+":"+method)
}

func (l *callLog) count(entry string) int {
	n := 0
	for _, e := range l.entries {
		if e == entry {
			n++
		}
	}
	return n
}

type fakeHandler struct {
	name string
	log  *callLog
}

func (h *fakeHandler) Attach(Client, Configuration) { h.log.add(h.name, "attach") }
func (h *fakeHandler) Detach(Client)                { h.log.add(h.name, "detach") }
func (h *fakeHandler) SetEditingState(EditingState) { h.log.add(h.name, "setEditingState") }
func (h *fakeHandler) UpdateConfig(Configuration)   { h.log.add(h.name, "updateConfig") }

type fakeControl struct {
	name string
	log  *callLog

	lastConfig Configuration
	lastState  EditingState
}

func (c *fakeControl) Attach(_ Client, config Configuration) {
	c.lastConfig = config
	c.log.add(c.name, "attach")
}

func (c *fakeControl) Detach(Client) { c.log.add(c.name, "detach") }

func (c *fakeControl) SetEditingState(state EditingState) {
	c.lastState = state
	c.log.add(c.name, "setEditingState")
}

func (c *fakeControl) UpdateConfig(config Configuration) {
	c.lastConfig = config
	c.log.add(c.name, "updateConfig")
}

func (c *fakeControl) Show() { c.log.add(c.name, "show") }
func (c *fakeControl) Hide() { c.log.add(c.name, "hide") }

func (c *fakeControl) SetComposingRect(Rect) { c.log.add(c.name, "setComposingRect") }
func (c *fakeControl) SetCaretRect(Rect)     { c.log.add(c.name, "setCaretRect") }

func (c *fakeControl) SetEditableSizeAndTransform(Size, [16]float64) {
	c.log.add(c.name, "setEditableSizeAndTransform")
}

func (c *fakeControl) SetStyle(TextStyle)         { c.log.add(c.name, "setStyle") }
func (c *fakeControl) FinishAutofillContext(bool) { c.log.add(c.name, "finishAutofillContext") }
func (c *fakeControl) RequestAutofill()           { c.log.add(c.name, "requestAutofill") }

type fakeClient struct {
	state EditingState

	updates        []EditingState
	actions        []Action
	privateActions []string
	privateData    []any
	cursorPhases   []FloatingCursorPhase
	cursorOffsets  []Offset
	closedCount    int
	promptRects    [][2]int
	controlSwaps   [][2]Control
}

func (c *fakeClient) CurrentEditingState() EditingState { return c.state }

func (c *fakeClient) UpdateEditingValue(state EditingState) {
	c.updates = append(c.updates, state)
}

func (c *fakeClient) PerformAction(a Action) { c.actions = append(c.actions, a) }

func (c *fakeClient) PerformPrivateCommand(action string, data any) {
	c.privateActions = append(c.privateActions, action)
	c.privateData = append(c.privateData, data)
}

func (c *fakeClient) UpdateFloatingCursor(phase FloatingCursorPhase, offset Offset) {
	c.cursorPhases = append(c.cursorPhases, phase)
	c.cursorOffsets = append(c.cursorOffsets, offset)
}

func (c *fakeClient) ConnectionClosed() { c.closedCount++ }

func (c *fakeClient) ShowAutocorrectionPromptRect(start, end int) {
	c.promptRects = append(c.promptRects, [2]int{start, end})
}

func (c *fakeClient) DidChangeInputControl(previous, current Control) {
	c.controlSwaps = append(c.controlSwaps, [2]Control{previous, current})
}

type fakeAutofillClient struct {
	fakeClient

	tags   []string
	values []EditingState
}

func (c *fakeAutofillClient) Autofill(tag string, state EditingState) {
	c.tags = append(c.tags, tag)
	c.values = append(c.values, state)
}

func newTestRegistry(t *testing.T) (*Registry, *runloop.Loop, *channel.Loopback) {
	t.Helper()
	loop := runloop.New()
	lb := channel.NewLoopback(loop)
	return NewRegistry(loop, lb), loop, lb
}

func deliver(t *testing.T, loop *runloop.Loop, lb *channel.Loopback, method string, args any) {
	t.Helper()
	if err := lb.Deliver(channel.NameTextInput, method, args); err != nil {
		t.Fatalf("deliver %s: %v", method, err)
	}
	loop.Drain()
}

func findSent(t *testing.T, lb *channel.Loopback, method string) channel.SentMessage {
	t.Helper()
	for _, msg := range lb.Sent() {
		if msg.Call.Method == method {
			return msg
		}
	}
	t.Fatalf("no %s message sent (sent: %v)", method, lb.SentMethods())
	return channel.SentMessage{}
}

func decodeSetClient(t *testing.T, msg channel.SentMessage) (int, Configuration) {
	t.Helper()
	if msg.Call.Method != MethodSetClient {
		t.Fatalf("method = %s, want %s", msg.Call.Method, MethodSetClient)
	}
	var args []json.RawMessage
	if err := msg.Call.DecodeArgs(&args); err != nil {
		t.Fatalf("decode setClient args: %v", err)
	}
	if len(args) != 2 {
		t.Fatalf("setClient arg count = %d, want 2", len(args))
	}
	var id int
	if err := json.Unmarshal(args[0], &id); err != nil {
		t.Fatalf("decode connection id: %v", err)
	}
	var config Configuration
	if err := json.Unmarshal(args[1], &config); err != nil {
		t.Fatalf("decode configuration: %v", err)
	}
	return id, config
}

func TestAttachSendsSetClientWithNextID(t *testing.T) {
	reg, _, lb := newTestRegistry(t)
	client := &fakeClient{}
	config := DefaultConfiguration()

	conn := reg.Attach(client, config)

	sent := lb.Sent()
	if len(sent) != 1 {
		t.Fatalf("attach sent %d messages %v, want exactly 1", len(sent), lb.SentMethods())
	}
	id, gotConfig := decodeSetClient(t, sent[0])
	if conn.ID() != 1 || id != 1 {
		t.Errorf("connection id = %d, wire id = %d, want 1", conn.ID(), id)
	}
	if !gotConfig.Equal(config) {
		t.Errorf("wire config = %+v, want %+v", gotConfig, config)
	}

	if conn2 := reg.Attach(&fakeClient{}, config); conn2.ID() != 2 {
		t.Errorf("second connection id = %d, want 2", conn2.ID())
	}

	reg.ResetConnectionIDs()
	if conn3 := reg.Attach(&fakeClient{}, config); conn3.ID() != 1 {
		t.Errorf("id after reset = %d, want 1", conn3.ID())
	}
}

func TestRequestExistingInputStateReplays(t *testing.T) {
	reg, loop, lb := newTestRegistry(t)
	client := &fakeClient{
		state: EditingState{Text: "draft", SelectionBase: 5, SelectionExtent: 5, ComposingBase: -1, ComposingExtent: -1},
	}
	config := DefaultConfiguration()
	conn := reg.Attach(client, config)
	lb.Reset()

	deliver(t, loop, lb, ClientRequestExistingInputState, nil)

	methods := lb.SentMethods()
	if !reflect.DeepEqual(methods, []string{MethodSetClient, MethodSetEditingState}) {
		t.Fatalf("replay sent %v, want [setClient setEditingState]", methods)
	}
	id, gotConfig := decodeSetClient(t, lb.Sent()[0])
	if id != conn.ID() {
		t.Errorf("replayed id = %d, want %d; replay must not allocate", id, conn.ID())
	}
	if !gotConfig.Equal(config) {
		t.Errorf("replayed config = %+v, want %+v", gotConfig, config)
	}
	var state EditingState
	if err := lb.Sent()[1].Call.DecodeArgs(&state); err != nil {
		t.Fatalf("decode replayed state: %v", err)
	}
	if state != client.state {
		t.Errorf("replayed state = %+v, want %+v", state, client.state)
	}

	// with nothing attached the request is dropped
	conn.Close()
	loop.Drain()
	lb.Reset()
	deliver(t, loop, lb, ClientRequestExistingInputState, nil)
	if got := lb.SentMethods(); len(got) != 0 {
		t.Errorf("replay without a connection sent %v", got)
	}
}

func TestCustomControlMasksPlatformConfig(t *testing.T) {
	reg, _, lb := newTestRegistry(t)
	log := &callLog{}
	custom := &fakeControl{name: "custom", log: log}
	client := &fakeClient{}
	config := DefaultConfiguration()
	config.InputType = TypeEmailAddress()

	conn := reg.Attach(client, config)
	reg.SetInputControl(custom)
	lb.Reset()

	conn.UpdateConfig(config)

	msg := findSent(t, lb, MethodUpdateConfig)
	var wireConfig Configuration
	if err := msg.Call.DecodeArgs(&wireConfig); err != nil {
		t.Fatalf("decode wire config: %v", err)
	}
	if wireConfig.InputType != TypeNone() {
		t.Errorf("wire input type = %+v, want none while a custom control is installed", wireConfig.InputType)
	}
	if !custom.lastConfig.Equal(config) {
		t.Errorf("custom control saw %+v, want the unmasked config", custom.lastConfig)
	}

	lb.Reset()
	reg.Attach(&fakeClient{}, config)
	_, attachConfig := decodeSetClient(t, findSent(t, lb, MethodSetClient))
	if attachConfig.InputType != TypeNone() {
		t.Errorf("setClient input type = %+v, want none", attachConfig.InputType)
	}
}

func TestObserverFanOutOrder(t *testing.T) {
	reg, loop, _ := newTestRegistry(t)
	log := &callLog{}
	primary := &fakeControl{name: "primary", log: log}
	h1 := &fakeHandler{name: "h1", log: log}
	h2 := &fakeHandler{name: "h2", log: log}
	reg.SetInputControl(primary)
	reg.AddInputHandler(h1)
	reg.AddInputHandler(h2)

	state := EditingState{Text: "a", SelectionBase: 1, SelectionExtent: 1, ComposingBase: -1, ComposingExtent: -1}
	conn := reg.Attach(&fakeClient{}, DefaultConfiguration())
	conn.SetEditingState(state)
	conn.UpdateConfig(DefaultConfiguration())
	conn.Close()
	loop.Drain()

	want := []string{
		"primary:attach", "h1:attach", "h2:attach",
		"primary:setEditingState", "h1:setEditingState", "h2:setEditingState",
		"primary:updateConfig", "h1:updateConfig", "h2:updateConfig",
		"primary:detach", "h1:detach", "h2:detach",
	}
	if !reflect.DeepEqual(log.entries, want) {
		t.Errorf("fan-out order:\n got %v\nwant %v", log.entries, want)
	}
}

func TestDuplicateHandlerAddedOnce(t *testing.T) {
	reg, _, _ := newTestRegistry(t)
	log := &callLog{}
	h := &fakeHandler{name: "h", log: log}
	reg.AddInputHandler(h)
	reg.AddInputHandler(h)

	reg.Attach(&fakeClient{}, DefaultConfiguration())
	if n := log.count("h:attach"); n != 1 {
		t.Errorf("duplicate add produced %d attach calls, want 1", n)
	}

	reg.RemoveInputHandler(h)
	reg.RemoveInputHandler(h)
	reg.Attach(&fakeClient{}, DefaultConfiguration())
	if n := log.count("h:attach"); n != 1 {
		t.Errorf("removed handler notified again (%d attach calls)", n)
	}
}

func TestSetInputControlNotifiesClientOnce(t *testing.T) {
	reg, _, lb := newTestRegistry(t)
	log := &callLog{}
	custom := &fakeControl{name: "custom", log: log}
	client := &fakeClient{}
	reg.Attach(client, DefaultConfiguration())
	lb.Reset()

	reg.SetInputControl(custom)

	if len(client.controlSwaps) != 1 {
		t.Fatalf("didChangeInputControl called %d times, want 1", len(client.controlSwaps))
	}
	swap := client.controlSwaps[0]
	if swap[0] != reg.PlatformControl() {
		t.Errorf("previous control = %T, want the platform control", swap[0])
	}
	if swap[1] != Control(custom) {
		t.Errorf("current control = %T, want the custom control", swap[1])
	}
	if n := log.count("custom:attach"); n != 1 {
		t.Errorf("new primary received %d attach calls, want 1", n)
	}
	// the old primary was the platform control, so its detach is the
	// wire-level clearClient
	if got := lb.SentMethods(); !reflect.DeepEqual(got, []string{MethodClearClient}) {
		t.Errorf("wire during swap = %v, want [clearClient]", got)
	}

	second := &fakeControl{name: "second", log: log}
	reg.SetInputControl(second)
	if n := log.count("custom:detach"); n != 1 {
		t.Errorf("old primary received %d detach calls, want 1", n)
	}
	if n := log.count("second:attach"); n != 1 {
		t.Errorf("new primary received %d attach calls, want 1", n)
	}
	if len(client.controlSwaps) != 2 {
		t.Fatalf("didChangeInputControl called %d times after second swap", len(client.controlSwaps))
	}

	reg.SetInputControl(second)
	if len(client.controlSwaps) != 2 {
		t.Error("re-installing the current control notified the client")
	}
}

func TestRestorePlatformControlResendsSetClient(t *testing.T) {
	reg, _, lb := newTestRegistry(t)
	log := &callLog{}
	custom := &fakeControl{name: "custom", log: log}
	client := &fakeClient{}
	config := DefaultConfiguration()
	config.InputType = TypeURL()
	reg.Attach(client, config)
	reg.SetInputControl(custom)
	lb.Reset()

	reg.RestorePlatformControl()

	if n := log.count("custom:detach"); n != 1 {
		t.Errorf("custom control received %d detach calls, want 1", n)
	}
	_, gotConfig := decodeSetClient(t, findSent(t, lb, MethodSetClient))
	if gotConfig.InputType != TypeURL() {
		t.Errorf("restored setClient input type = %+v, want the real one", gotConfig.InputType)
	}
	if len(client.controlSwaps) != 2 {
		t.Fatalf("control swaps = %d, want 2", len(client.controlSwaps))
	}
	if last := client.controlSwaps[1]; last[1] != reg.PlatformControl() {
		t.Errorf("restored current control = %T, want the platform control", last[1])
	}
}

func TestCloseDefersHide(t *testing.T) {
	reg, loop, lb := newTestRegistry(t)
	conn := reg.Attach(&fakeClient{}, DefaultConfiguration())
	conn.Show()
	lb.Reset()

	conn.Close()
	if got := lb.SentMethods(); !reflect.DeepEqual(got, []string{MethodClearClient}) {
		t.Fatalf("close sent %v before the loop turned, want [clearClient]", got)
	}
	if conn.State() != StateClosing {
		t.Errorf("state after close = %v, want closing", conn.State())
	}

	loop.Drain()
	if got := lb.SentMethods(); !reflect.DeepEqual(got, []string{MethodClearClient, MethodHide}) {
		t.Errorf("after drain sent %v, want [clearClient hide]", got)
	}
	if conn.State() != StateClosed {
		t.Errorf("state after drain = %v, want closed", conn.State())
	}

	lb.Reset()
	conn.Show()
	conn.SetEditingState(EditingState{Text: "x"})
	conn.UpdateConfig(DefaultConfiguration())
	conn.Close()
	if got := lb.SentMethods(); len(got) != 0 {
		t.Errorf("stale handle still sent %v", got)
	}
}

func TestReattachCancelsScheduledHide(t *testing.T) {
	reg, loop, lb := newTestRegistry(t)
	conn := reg.Attach(&fakeClient{}, DefaultConfiguration())
	conn.Show()
	conn.Close()
	lb.Reset()

	reg.Attach(&fakeClient{}, DefaultConfiguration())
	loop.Drain()

	for _, m := range lb.SentMethods() {
		if m == MethodHide {
			t.Fatal("hide ran even though a client re-attached before the loop turned")
		}
	}
}

func TestSwapAwayFromPlatformHidesKeyboard(t *testing.T) {
	reg, loop, lb := newTestRegistry(t)
	log := &callLog{}
	conn := reg.Attach(&fakeClient{}, DefaultConfiguration())
	conn.Show()
	lb.Reset()

	reg.SetInputControl(&fakeControl{name: "custom", log: log})

	if got := lb.SentMethods(); !reflect.DeepEqual(got, []string{MethodClearClient}) {
		t.Fatalf("swap sent %v synchronously, want [clearClient]", got)
	}
	loop.Drain()
	if got := lb.SentMethods(); !reflect.DeepEqual(got, []string{MethodClearClient, MethodHide}) {
		t.Errorf("after drain sent %v, want [clearClient hide]", got)
	}
}

func TestAttachSupersedesPreviousConnection(t *testing.T) {
	reg, _, lb := newTestRegistry(t)
	first := reg.Attach(&fakeClient{}, DefaultConfiguration())
	second := reg.Attach(&fakeClient{}, DefaultConfiguration())

	if first.Attached() || first.State() != StateClosed {
		t.Errorf("superseded connection state = %v, want closed", first.State())
	}
	if !second.Attached() {
		t.Error("new connection not attached")
	}

	lb.Reset()
	first.SetEditingState(EditingState{Text: "late"})
	first.Close()
	if got := lb.SentMethods(); len(got) != 0 {
		t.Errorf("superseded handle still sent %v", got)
	}
	if !second.Attached() {
		t.Error("stale close detached the new connection")
	}
}

func TestSetEditingStateForwardsToPlatformOnlyWhenPrimary(t *testing.T) {
	reg, _, lb := newTestRegistry(t)
	log := &callLog{}
	conn := reg.Attach(&fakeClient{}, DefaultConfiguration())
	state := EditingState{Text: "hi", SelectionBase: 2, SelectionExtent: 2, ComposingBase: -1, ComposingExtent: -1}
	lb.Reset()

	conn.SetEditingState(state)
	var wireState EditingState
	if err := findSent(t, lb, MethodSetEditingState).Call.DecodeArgs(&wireState); err != nil {
		t.Fatalf("decode wire state: %v", err)
	}
	if wireState != state {
		t.Errorf("wire state = %+v, want %+v", wireState, state)
	}

	custom := &fakeControl{name: "custom", log: log}
	reg.SetInputControl(custom)
	lb.Reset()
	conn.SetEditingState(state)
	for _, m := range lb.SentMethods() {
		if m == MethodSetEditingState {
			t.Fatal("editing state reached the platform while a custom control was primary")
		}
	}
	if custom.lastState != state {
		t.Errorf("custom control saw %+v, want %+v", custom.lastState, state)
	}
}

func TestGeometryHintsEncodeAsPlatformMessages(t *testing.T) {
	reg, _, lb := newTestRegistry(t)
	conn := reg.Attach(&fakeClient{}, DefaultConfiguration())
	lb.Reset()

	var transform [16]float64
	transform[0], transform[5], transform[10], transform[15] = 1, 1, 1, 1
	conn.SetComposingRect(Rect{X: 1, Y: 2, Width: 3, Height: 4})
	conn.SetCaretRect(Rect{X: 5, Y: 6, Width: 1, Height: 20})
	conn.SetEditableSizeAndTransform(Size{Width: 320, Height: 48}, transform)
	conn.SetStyle(TextStyle{FontFamily: "Inter", FontSize: 14})

	want := []string{MethodSetMarkedTextRect, MethodSetCaretRect, MethodSetEditableSizeAndTransform, MethodSetStyle}
	if got := lb.SentMethods(); !reflect.DeepEqual(got, want) {
		t.Fatalf("geometry sent %v, want %v", got, want)
	}

	var rect Rect
	if err := lb.Sent()[0].Call.DecodeArgs(&rect); err != nil {
		t.Fatalf("decode rect: %v", err)
	}
	if rect != (Rect{X: 1, Y: 2, Width: 3, Height: 4}) {
		t.Errorf("marked text rect = %+v", rect)
	}

	var sizeArgs struct {
		Width     float64   `json:"width"`
		Height    float64   `json:"height"`
		Transform []float64 `json:"transform"`
	}
	if err := lb.Sent()[2].Call.DecodeArgs(&sizeArgs); err != nil {
		t.Fatalf("decode size and transform: %v", err)
	}
	if sizeArgs.Width != 320 || sizeArgs.Height != 48 {
		t.Errorf("size = %v x %v", sizeArgs.Width, sizeArgs.Height)
	}
	if len(sizeArgs.Transform) != 16 || sizeArgs.Transform[0] != 1 || sizeArgs.Transform[15] != 1 {
		t.Errorf("transform = %v", sizeArgs.Transform)
	}
}

func TestGeometryHintsReachCustomPrimaryOnly(t *testing.T) {
	reg, _, lb := newTestRegistry(t)
	log := &callLog{}
	custom := &fakeControl{name: "custom", log: log}
	conn := reg.Attach(&fakeClient{}, DefaultConfiguration())
	reg.SetInputControl(custom)
	lb.Reset()

	conn.SetComposingRect(Rect{})
	conn.SetCaretRect(Rect{})
	conn.SetStyle(TextStyle{})
	conn.Show()

	if got := lb.SentMethods(); len(got) != 0 {
		t.Errorf("geometry leaked to the platform: %v", got)
	}
	for _, entry := range []string{"custom:setComposingRect", "custom:setCaretRect", "custom:setStyle", "custom:show"} {
		if n := log.count(entry); n != 1 {
			t.Errorf("%s called %d times, want 1", entry, n)
		}
	}
}

func TestAutofillContextControls(t *testing.T) {
	reg, _, lb := newTestRegistry(t)
	conn := reg.Attach(&fakeClient{}, DefaultConfiguration())
	lb.Reset()

	conn.RequestAutofill()
	reg.FinishAutofillContext(false)

	want := []string{MethodRequestAutofill, MethodFinishAutofillContext}
	if got := lb.SentMethods(); !reflect.DeepEqual(got, want) {
		t.Fatalf("autofill sent %v, want %v", got, want)
	}
	shouldSave := true
	if err := lb.Sent()[1].Call.DecodeArgs(&shouldSave); err != nil {
		t.Fatalf("decode shouldSave: %v", err)
	}
	if shouldSave {
		t.Error("finishAutofillContext lost its false argument")
	}
}

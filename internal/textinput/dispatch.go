package textinput

import (
	"context"
	"encoding/json"
	"sort"

	"textinputd/internal/channel"
	"textinputd/internal/logging"
)

// Inbound channel methods.
const (
	ClientUpdateEditingState           = "TextInputClient.updateEditingState"
	ClientUpdateEditingStateWithTag    = "TextInputClient.updateEditingStateWithTag"
	ClientPerformAction                = "TextInputClient.performAction"
	ClientPerformPrivateCommand        = "TextInputClient.performPrivateCommand"
	ClientUpdateFloatingCursor         = "TextInputClient.updateFloatingCursor"
	ClientOnConnectionClosed           = "TextInputClient.onConnectionClosed"
	ClientShowAutocorrectionPromptRect = "TextInputClient.showAutocorrectionPromptRect"
	ClientRequestExistingInputState    = "TextInputClient.requestExistingInputState"
)

// HandleMessage is the inbound entry point for the textinput channel;
// NewRegistry installs it as the messenger handler. Messages that
// reference a stale connection, name an unknown method, or fail to
// decode are dropped. Nothing here surfaces an error to the platform.
func (r *Registry) HandleMessage(_ context.Context, payload []byte) ([]byte, error) {
	call, err := channel.DecodeMethodCall(payload)
	if err != nil {
		logging.Debug("drop undecodable inbound message", "error", err)
		return nil, nil
	}
	r.dispatch(call)
	return nil, nil
}

func (r *Registry) dispatch(call *channel.MethodCall) {
	if call.Method == ClientRequestExistingInputState {
		r.replayInputState()
		return
	}

	var args []json.RawMessage
	if err := call.DecodeArgs(&args); err != nil || len(args) == 0 {
		logging.Debug("drop inbound message without arguments", "method", call.Method)
		return
	}
	var connID int
	if err := json.Unmarshal(args[0], &connID); err != nil {
		logging.Debug("drop inbound message with bad connection id", "method", call.Method)
		return
	}
	conn := r.current
	if conn == nil || conn.id != connID {
		logging.Debug("drop inbound message for stale connection", "method", call.Method, "conn_id", connID)
		return
	}
	client := conn.client

	switch call.Method {
	case ClientUpdateEditingState:
		if len(args) < 2 {
			return
		}
		var state EditingState
		if err := json.Unmarshal(args[1], &state); err != nil {
			logging.Debug("drop malformed editing state", "error", err)
			return
		}
		client.UpdateEditingValue(state)

	case ClientUpdateEditingStateWithTag:
		if len(args) < 2 {
			return
		}
		dispatchTaggedStates(client, args[1])

	case ClientPerformAction:
		if len(args) < 2 {
			return
		}
		var tag string
		if err := json.Unmarshal(args[1], &tag); err != nil {
			return
		}
		action, ok := actionFromTag(tag)
		if !ok {
			logging.Debug("drop unknown input action", "action", tag)
			return
		}
		client.PerformAction(action)

	case ClientPerformPrivateCommand:
		if len(args) < 2 {
			return
		}
		var cmd struct {
			Action string          `json:"action"`
			Data   json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(args[1], &cmd); err != nil {
			return
		}
		client.PerformPrivateCommand(cmd.Action, decodePrivateData(cmd.Data))

	case ClientUpdateFloatingCursor:
		if len(args) < 3 {
			return
		}
		var tag string
		if err := json.Unmarshal(args[1], &tag); err != nil {
			return
		}
		phase, ok := floatingCursorPhaseFromTag(tag)
		if !ok {
			return
		}
		var offset Offset
		if err := json.Unmarshal(args[2], &offset); err != nil {
			return
		}
		client.UpdateFloatingCursor(phase, offset)

	case ClientOnConnectionClosed:
		client.ConnectionClosed()
		if r.current == conn {
			conn.state = StateClosed
			r.current = nil
		}

	case ClientShowAutocorrectionPromptRect:
		if len(args) < 3 {
			return
		}
		var start, end int
		if json.Unmarshal(args[1], &start) != nil || json.Unmarshal(args[2], &end) != nil {
			return
		}
		client.ShowAutocorrectionPromptRect(start, end)

	default:
		logging.Debug("drop unknown inbound method", "method", call.Method)
	}
}

// replayInputState re-announces the current client to the platform
// after a platform-side restart: setClient first, then the client's
// present editing state. The connection id does not change.
func (r *Registry) replayInputState() {
	conn := r.current
	if conn == nil {
		return
	}
	r.platform.Attach(conn.client, r.config)
	if r.control == nil {
		r.platform.SetEditingState(conn.client.CurrentEditingState())
	}
}

// dispatchTaggedStates routes a per-tag editing state map to an
// autofill-capable client, in sorted tag order.
func dispatchTaggedStates(client Client, raw json.RawMessage) {
	target, ok := client.(AutofillClient)
	if !ok {
		logging.Debug("drop tagged editing state for non-autofill client")
		return
	}
	var byTag map[string]EditingState
	if err := json.Unmarshal(raw, &byTag); err != nil {
		logging.Debug("drop malformed tagged editing state", "error", err)
		return
	}
	tags := make([]string, 0, len(byTag))
	for tag := range byTag {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	for _, tag := range tags {
		target.Autofill(tag, byTag[tag])
	}
}

// decodePrivateData maps a private command payload onto the narrow set
// of shapes clients receive: a JSON object becomes map[string]any, an
// all-string array []string, an all-number array []float64, and bare
// strings and numbers pass through. Anything else, malformed JSON
// included, becomes nil.
func decodePrivateData(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	switch data := v.(type) {
	case map[string]any:
		return data
	case []any:
		if len(data) == 0 {
			return nil
		}
		switch data[0].(type) {
		case string:
			out := make([]string, 0, len(data))
			for _, item := range data {
				s, ok := item.(string)
				if !ok {
					return nil
				}
				out = append(out, s)
			}
			return out
		case float64:
			out := make([]float64, 0, len(data))
			for _, item := range data {
				f, ok := item.(float64)
				if !ok {
					return nil
				}
				out = append(out, f)
			}
			return out
		}
		return nil
	case string:
		return data
	case float64:
		return data
	}
	return nil
}

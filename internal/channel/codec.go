// Package channel defines the method-call envelope and messenger contract
// used between editable-text clients and the platform input system.
//
// A channel is a reliable, ordered, asynchronous byte pipe identified by a
// string name. Method calls travel as JSON envelopes of the form
// {"method": name, "args": value}; replies are not part of the envelope,
// both sides treat sends as fire-and-forget.
package channel

import (
	"encoding/json"
	"errors"
	"fmt"
)

// NameTextInput is the channel carrying text-input traffic in both
// directions: TextInput.* methods toward the platform, TextInputClient.*
// methods toward the application.
const NameTextInput = "textinput"

var errEmptyMethod = errors.New("channel: empty method name")

// MethodCall is a decoded envelope. Args holds the raw JSON of the
// argument value so callers can decode it into whatever shape the method
// expects.
type MethodCall struct {
	Method string          `json:"method"`
	Args   json.RawMessage `json:"args,omitempty"`
}

// EncodeMethodCall builds the JSON envelope for a method and its argument
// value. A nil args encodes with the args key omitted.
func EncodeMethodCall(method string, args any) ([]byte, error) {
	if method == "" {
		return nil, errEmptyMethod
	}

	env := struct {
		Method string          `json:"method"`
		Args   json.RawMessage `json:"args,omitempty"`
	}{Method: method}
	if args != nil {
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode args of %s: %w", method, err)
		}
		env.Args = raw
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode method call %s: %w", method, err)
	}
	return data, nil
}

// DecodeMethodCall parses a JSON envelope.
func DecodeMethodCall(payload []byte) (*MethodCall, error) {
	var call MethodCall
	if err := json.Unmarshal(payload, &call); err != nil {
		return nil, fmt.Errorf("decode method call: %w", err)
	}
	if call.Method == "" {
		return nil, errEmptyMethod
	}
	return &call, nil
}

// DecodeArgs decodes the argument value of a call into v. Calls with no
// args leave v untouched.
func (c *MethodCall) DecodeArgs(v any) error {
	if len(c.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(c.Args, v); err != nil {
		return fmt.Errorf("decode args of %s: %w", c.Method, err)
	}
	return nil
}

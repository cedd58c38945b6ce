package textinput

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestComposingRangeValid(t *testing.T) {
	tests := []struct {
		name  string
		state EditingState
		want  bool
	}{
		{"empty default", EmptyEditingState(), false},
		{"zero value", EditingState{}, false},
		{"valid inner range", EditingState{Text: "test", ComposingBase: 1, ComposingExtent: 4}, true},
		{"whole text", EditingState{Text: "test", ComposingBase: 0, ComposingExtent: 4}, true},
		{"extent past text", EditingState{Text: "test", ComposingBase: 1, ComposingExtent: 5}, false},
		{"negative base", EditingState{Text: "test", ComposingBase: -1, ComposingExtent: 4}, false},
		{"reversed", EditingState{Text: "test", ComposingBase: 1, ComposingExtent: 0}, false},
		{"empty range", EditingState{Text: "test", ComposingBase: 2, ComposingExtent: 2}, false},
		{"no text", EditingState{ComposingBase: 0, ComposingExtent: 1}, false},
		{"surrogate pair counts two units", EditingState{Text: "a\U0001D11E", ComposingBase: 0, ComposingExtent: 3}, true},
		{"surrogate pair upper bound", EditingState{Text: "a\U0001D11E", ComposingBase: 0, ComposingExtent: 4}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.ComposingRangeValid(); got != tt.want {
				t.Errorf("ComposingRangeValid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUTF16Length(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"test", 4},
		{"héllo", 5},
		{"日本語", 3},
		{"\U0001F600", 2},
		{"a\U0001D11Eb", 4},
	}

	for _, tt := range tests {
		if got := UTF16Length(tt.in); got != tt.want {
			t.Errorf("UTF16Length(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestEditingStateRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		state EditingState
	}{
		{"empty", EmptyEditingState()},
		{
			"collapsed selection",
			EditingState{Text: "hello", SelectionBase: 5, SelectionExtent: 5, ComposingBase: -1, ComposingExtent: -1},
		},
		{
			"directional upstream selection",
			EditingState{
				Text:                   "hello",
				SelectionBase:          4,
				SelectionExtent:        1,
				SelectionAffinity:      AffinityUpstream,
				SelectionIsDirectional: true,
				ComposingBase:          -1,
				ComposingExtent:        -1,
			},
		},
		{
			"composing",
			EditingState{Text: "日本語abc", SelectionBase: 6, SelectionExtent: 6, ComposingBase: 0, ComposingExtent: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.state)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			var got EditingState
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if got != tt.state {
				t.Errorf("round trip changed value:\n got %+v\nwant %+v", got, tt.state)
			}
		})
	}
}

func TestEditingStateWireFormat(t *testing.T) {
	state := EditingState{
		Text:            "test",
		SelectionBase:   1,
		SelectionExtent: 2,
		ComposingBase:   -1,
		ComposingExtent: -1,
	}
	data, err := json.Marshal(state)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal into map: %v", err)
	}
	want := map[string]any{
		"text":                   "test",
		"selectionBase":          float64(1),
		"selectionExtent":        float64(2),
		"selectionAffinity":      "TextAffinity.downstream",
		"selectionIsDirectional": false,
		"composingBase":          float64(-1),
		"composingExtent":        float64(-1),
	}
	if !reflect.DeepEqual(m, want) {
		t.Errorf("wire map:\n got %v\nwant %v", m, want)
	}
}

func TestEditingStateDecodeDefaults(t *testing.T) {
	var state EditingState
	if err := json.Unmarshal([]byte(`{"text":"abc"}`), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	want := EditingState{Text: "abc", SelectionBase: -1, SelectionExtent: -1, ComposingBase: -1, ComposingExtent: -1}
	if state != want {
		t.Errorf("sparse decode = %+v, want %+v", state, want)
	}

	if err := json.Unmarshal([]byte(`{"selectionAffinity":"TextAffinity.sideways"}`), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.SelectionAffinity != AffinityDownstream {
		t.Errorf("unknown affinity decoded as %v, want downstream", state.SelectionAffinity)
	}

	if err := json.Unmarshal([]byte(`{"selectionAffinity":"TextAffinity.upstream"}`), &state); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if state.SelectionAffinity != AffinityUpstream {
		t.Errorf("upstream tag decoded as %v", state.SelectionAffinity)
	}
}
